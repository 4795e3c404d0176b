package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// WritePLY serializes the mesh as ASCII PLY with per-vertex color under
// the given color mode. Vertices are written block by block in block
// index order; faces index consecutive vertex triples.
func WritePLY(w io.Writer, l *Layer, mode ColorMode) error {
	shader := NewShader(mode, l)
	blocks := l.Blocks()

	vertexCount := 0
	for _, b := range blocks {
		vertexCount += len(b.Vertices)
	}
	faceCount := vertexCount / 3

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat ascii 1.0\n")
	fmt.Fprintf(bw, "element vertex %d\n", vertexCount)
	fmt.Fprintf(bw, "property float x\nproperty float y\nproperty float z\n")
	fmt.Fprintf(bw, "property float nx\nproperty float ny\nproperty float nz\n")
	fmt.Fprintf(bw, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	fmt.Fprintf(bw, "element face %d\n", faceCount)
	fmt.Fprintf(bw, "property list uchar int vertex_indices\n")
	fmt.Fprintf(bw, "end_header\n")

	for _, b := range blocks {
		for _, v := range b.Vertices {
			c := shader.Shade(v)
			fmt.Fprintf(bw, "%g %g %g %g %g %g %d %d %d\n",
				v.Position.X, v.Position.Y, v.Position.Z,
				v.Normal.X, v.Normal.Y, v.Normal.Z,
				c.R, c.G, c.B)
		}
	}
	for i := 0; i < faceCount; i++ {
		fmt.Fprintf(bw, "3 %d %d %d\n", 3*i, 3*i+1, 3*i+2)
	}
	return bw.Flush()
}

// ExportPLY writes the mesh to a file as ASCII PLY.
func ExportPLY(l *Layer, mode ColorMode, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mesh file: %w", err)
	}
	if err := WritePLY(f, l, mode); err != nil {
		f.Close()
		return fmt.Errorf("write mesh file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close mesh file: %w", err)
	}
	return nil
}
