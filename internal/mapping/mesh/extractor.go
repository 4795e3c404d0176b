package mesh

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

// ExtractorConfig tunes surface extraction.
type ExtractorConfig struct {
	// MinWeight is the minimum voxel weight for a voxel to contribute
	// surface geometry.
	MinWeight float64
}

// DefaultExtractorConfig returns the extraction defaults.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{MinWeight: 1e-4}
}

// Extractor regenerates mesh blocks from the TSDF layer by locating
// zero crossings of the signed distance field between neighbouring
// voxels and emitting a surface patch per crossing. Extraction is
// deterministic: the same map state always produces the same mesh.
//
// Not safe for concurrent use; the owner serializes Generate against map
// integration under the shared map lock.
type Extractor struct {
	cfg  ExtractorConfig
	tsdf *voxel.Layer
	mesh *Layer
}

// NewExtractor creates an extractor reading tsdf and writing mesh.
func NewExtractor(cfg ExtractorConfig, tsdf *voxel.Layer, mesh *Layer) *Extractor {
	return &Extractor{cfg: cfg, tsdf: tsdf, mesh: mesh}
}

// Generate regenerates mesh blocks. With onlyUpdatedBlocks set, just the
// map blocks currently flagged updated are re-extracted; otherwise every
// allocated block is, and stale mesh blocks for since-removed map blocks
// are dropped. When clearUpdatedFlag is set, the flag is cleared on every
// map block the pass covered.
func (e *Extractor) Generate(onlyUpdatedBlocks, clearUpdatedFlag bool) {
	var indices []voxel.BlockIndex
	if onlyUpdatedBlocks {
		indices = e.tsdf.UpdatedBlockIndices()
	} else {
		indices = e.tsdf.BlockIndices()
		e.mesh.Clear()
	}

	for _, idx := range indices {
		block := e.tsdf.Block(idx)
		if block == nil {
			continue
		}
		e.mesh.SetBlock(idx, e.extractBlock(block))
		if clearUpdatedFlag {
			block.Updated = false
		}
	}
}

var axes = [3]r3.Vec{
	{X: 1}, {Y: 1}, {Z: 1},
}

// extractBlock emits the surface patches for one map block. Each zero
// crossing between a voxel and its +x/+y/+z neighbour contributes one
// quad (two triangles) centred on the interpolated crossing point. The
// positive-direction scan guarantees each crossing is owned by exactly
// one block.
func (e *Extractor) extractBlock(b *voxel.Block) []Vertex {
	var out []Vertex
	step := e.tsdf.VoxelSize()
	minWeight := float32(e.cfg.MinWeight)

	for i := range b.Voxels {
		v := &b.Voxels[i]
		if v.Weight < minWeight {
			continue
		}
		center := e.tsdf.VoxelCenter(b.Index, i)

		for axis := 0; axis < 3; axis++ {
			npos := r3.Add(center, r3.Scale(step, axes[axis]))
			nv, _ := e.tsdf.VoxelAt(npos, false)
			if nv == nil || nv.Weight < minWeight {
				continue
			}
			d0, d1 := v.Distance, nv.Distance
			if d0 == 0 && d1 == 0 {
				continue
			}
			if (d0 > 0) == (d1 > 0) {
				continue
			}

			frac := float64(d0) / float64(d0-d1)
			crossing := r3.Add(center, r3.Scale(step*frac, axes[axis]))

			// SDF is positive in free space; the normal points along the
			// axis toward the positive side.
			normal := axes[axis]
			if d0 > d1 {
				normal = r3.Scale(-1, normal)
			}
			color := blendColor(v.Color, 1-frac, nv.Color, frac)
			out = append(out, quad(crossing, axis, step/2, normal, color)...)
		}
	}
	return out
}

// quad emits two triangles forming a square patch of half-extent h
// perpendicular to the given axis, centred at c.
func quad(c r3.Vec, axis int, h float64, normal r3.Vec, color voxel.Color) []Vertex {
	u := axes[(axis+1)%3]
	w := axes[(axis+2)%3]
	corner := func(su, sw float64) Vertex {
		p := r3.Add(c, r3.Add(r3.Scale(su*h, u), r3.Scale(sw*h, w)))
		return Vertex{Position: p, Normal: normal, Color: color}
	}
	c00 := corner(-1, -1)
	c10 := corner(1, -1)
	c11 := corner(1, 1)
	c01 := corner(-1, 1)
	return []Vertex{c00, c10, c11, c00, c11, c01}
}

func blendColor(a voxel.Color, wa float64, b voxel.Color, wb float64) voxel.Color {
	total := wa + wb
	if total <= 0 {
		return a
	}
	mix := func(x, y uint8) uint8 {
		return uint8((float64(x)*wa + float64(y)*wb) / total)
	}
	return voxel.Color{
		R: mix(a.R, b.R),
		G: mix(a.G, b.G),
		B: mix(a.B, b.B),
		A: mix(a.A, b.A),
	}
}
