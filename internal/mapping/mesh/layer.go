// Package mesh holds the block-partitioned triangle mesh derived from the
// TSDF layer, the surface extractor that regenerates it, color-mode
// shading, and the PLY file exporter.
//
// The mesh layer is a cache of the volumetric map, never the authoritative
// state: it is regenerated from the map and can be discarded at any time.
package mesh

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

// Vertex is a mesh vertex with position, surface normal, and the color
// sampled from the underlying voxels.
type Vertex struct {
	Position r3.Vec
	Normal   r3.Vec
	Color    voxel.Color
}

// Block holds the triangle soup extracted for one map block. Vertices are
// stored in triangle order: every consecutive run of three forms one
// triangle.
type Block struct {
	Index    voxel.BlockIndex
	Vertices []Vertex
}

// Layer is the block-partitioned mesh, mirroring the map's block grid.
type Layer struct {
	blockSize float64
	blocks    map[voxel.BlockIndex]*Block
}

// NewLayer creates an empty mesh layer for blocks of the given edge
// length.
func NewLayer(blockSize float64) *Layer {
	return &Layer{
		blockSize: blockSize,
		blocks:    make(map[voxel.BlockIndex]*Block),
	}
}

// BlockSize returns the block edge length in meters.
func (l *Layer) BlockSize() float64 { return l.blockSize }

// Block returns the mesh block at idx, or nil.
func (l *Layer) Block(idx voxel.BlockIndex) *Block { return l.blocks[idx] }

// SetBlock installs (or replaces) the mesh for one block. An empty vertex
// list removes the block.
func (l *Layer) SetBlock(idx voxel.BlockIndex, vertices []Vertex) {
	if len(vertices) == 0 {
		delete(l.blocks, idx)
		return
	}
	l.blocks[idx] = &Block{Index: idx, Vertices: vertices}
}

// Clear removes all mesh blocks.
func (l *Layer) Clear() {
	l.blocks = make(map[voxel.BlockIndex]*Block)
}

// NumBlocks returns the number of non-empty mesh blocks.
func (l *Layer) NumBlocks() int { return len(l.blocks) }

// VertexCount returns the total vertex count across all blocks.
func (l *Layer) VertexCount() int {
	n := 0
	for _, b := range l.blocks {
		n += len(b.Vertices)
	}
	return n
}

// Blocks returns all mesh blocks ordered by block index. The returned
// slice is freshly allocated; the blocks it points at are shared.
func (l *Layer) Blocks() []*Block {
	idxs := make([]voxel.BlockIndex, 0, len(l.blocks))
	for idx := range l.blocks {
		idxs = append(idxs, idx)
	}
	sortIndices(idxs)
	out := make([]*Block, len(idxs))
	for i, idx := range idxs {
		out[i] = l.blocks[idx]
	}
	return out
}

// Bounds returns the minimum and maximum Z across all vertices, used by
// height-based coloring. ok is false for an empty mesh.
func (l *Layer) Bounds() (minZ, maxZ float64, ok bool) {
	first := true
	for _, b := range l.blocks {
		for _, v := range b.Vertices {
			if first {
				minZ, maxZ = v.Position.Z, v.Position.Z
				first = false
				continue
			}
			if v.Position.Z < minZ {
				minZ = v.Position.Z
			}
			if v.Position.Z > maxZ {
				maxZ = v.Position.Z
			}
		}
	}
	return minZ, maxZ, !first
}

func sortIndices(s []voxel.BlockIndex) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}
