package mesh

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

// surfaceLayer builds a map with a signed distance crossing between two
// neighbouring voxels along +x, yielding a single surface patch.
func surfaceLayer(t *testing.T) *voxel.Layer {
	t.Helper()
	l := voxel.NewLayer(0.1, 8)
	a, blk := l.VoxelAt(r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}, true)
	a.Distance = 0.05
	a.Weight = 1
	a.Color = voxel.Color{R: 255, A: 255}
	b, _ := l.VoxelAt(r3.Vec{X: 0.15, Y: 0.05, Z: 0.05}, true)
	b.Distance = -0.05
	b.Weight = 1
	b.Color = voxel.Color{B: 255, A: 255}
	blk.Updated = true
	return l
}

func newExtractor(tsdf *voxel.Layer) (*Extractor, *Layer) {
	m := NewLayer(tsdf.BlockSize())
	return NewExtractor(DefaultExtractorConfig(), tsdf, m), m
}

func TestGenerateEmitsQuadAtCrossing(t *testing.T) {
	tsdf := surfaceLayer(t)
	e, m := newExtractor(tsdf)

	e.Generate(false, true)

	if m.NumBlocks() != 1 {
		t.Fatalf("mesh blocks = %d, want 1", m.NumBlocks())
	}
	if m.VertexCount() != 6 {
		t.Fatalf("vertex count = %d, want 6 (one quad)", m.VertexCount())
	}
	blk := m.Block(voxel.BlockIndex{X: 0, Y: 0, Z: 0})
	for _, v := range blk.Vertices {
		// The crossing sits halfway between the voxel centers at x=0.1.
		if v.Position.X < 0.099 || v.Position.X > 0.101 {
			t.Errorf("vertex x = %v, want ~0.1", v.Position.X)
		}
		// Free space is on the -x side, so the normal points along -x.
		if v.Normal.X != -1 || v.Normal.Y != 0 || v.Normal.Z != 0 {
			t.Errorf("normal = %+v, want -x", v.Normal)
		}
	}
}

func TestGenerateSkipsUnobservedVoxels(t *testing.T) {
	tsdf := voxel.NewLayer(0.1, 8)
	// Sign change but zero weights on the neighbour: no geometry.
	a, _ := tsdf.VoxelAt(r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}, true)
	a.Distance = 0.05
	a.Weight = 1
	b, _ := tsdf.VoxelAt(r3.Vec{X: 0.15, Y: 0.05, Z: 0.05}, true)
	b.Distance = -0.05

	e, m := newExtractor(tsdf)
	e.Generate(false, true)
	if m.VertexCount() != 0 {
		t.Errorf("unobserved neighbour produced %d vertices", m.VertexCount())
	}
}

func TestGenerateIncrementalOnlyTouchesUpdatedBlocks(t *testing.T) {
	tsdf := surfaceLayer(t)
	e, m := newExtractor(tsdf)

	// Full pass, then clear flags and mutate the mesh out from under the
	// extractor. An incremental pass with no dirty blocks must not touch it.
	e.Generate(false, true)
	m.SetBlock(voxel.BlockIndex{X: 5, Y: 5, Z: 5}, []Vertex{{}, {}, {}})

	e.Generate(true, true)
	if m.Block(voxel.BlockIndex{X: 5, Y: 5, Z: 5}) == nil {
		t.Error("incremental pass with no dirty blocks rebuilt the mesh")
	}

	// Dirtying the surface block makes the next incremental pass rebuild
	// exactly that block.
	tsdf.Block(voxel.BlockIndex{X: 0, Y: 0, Z: 0}).Updated = true
	e.Generate(true, true)
	if m.Block(voxel.BlockIndex{X: 0, Y: 0, Z: 0}) == nil {
		t.Error("incremental pass skipped the dirty block")
	}
	if m.Block(voxel.BlockIndex{X: 5, Y: 5, Z: 5}) == nil {
		t.Error("incremental pass cleared unrelated mesh blocks")
	}
}

func TestGenerateClearsUpdatedFlags(t *testing.T) {
	tsdf := surfaceLayer(t)
	e, _ := newExtractor(tsdf)

	e.Generate(true, false)
	if len(tsdf.UpdatedBlockIndices()) == 0 {
		t.Error("pass without flag clearing should leave blocks dirty")
	}
	e.Generate(true, true)
	if len(tsdf.UpdatedBlockIndices()) != 0 {
		t.Error("pass with flag clearing left blocks dirty")
	}
}

func TestGenerateFullIsIdempotent(t *testing.T) {
	tsdf := surfaceLayer(t)
	e, m := newExtractor(tsdf)

	e.Generate(false, true)
	first := m.Blocks()
	e.Generate(false, false)
	second := m.Blocks()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated full extraction differs (-first +second):\n%s", diff)
	}
}

func TestGenerateFullDropsStaleMeshBlocks(t *testing.T) {
	tsdf := surfaceLayer(t)
	e, m := newExtractor(tsdf)
	e.Generate(false, true)

	tsdf.RemoveAllBlocks()
	e.Generate(false, true)
	if m.NumBlocks() != 0 {
		t.Errorf("full pass kept %d stale mesh blocks", m.NumBlocks())
	}
}
