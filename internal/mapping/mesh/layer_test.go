package mesh

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

func tri(z float64) []Vertex {
	return []Vertex{
		{Position: r3.Vec{Z: z}},
		{Position: r3.Vec{X: 1, Z: z}},
		{Position: r3.Vec{Y: 1, Z: z}},
	}
}

func TestSetBlockEmptyRemoves(t *testing.T) {
	l := NewLayer(1.6)
	idx := voxel.BlockIndex{X: 0, Y: 0, Z: 0}
	l.SetBlock(idx, tri(0))
	if l.NumBlocks() != 1 || l.VertexCount() != 3 {
		t.Fatalf("blocks=%d vertices=%d after set", l.NumBlocks(), l.VertexCount())
	}
	l.SetBlock(idx, nil)
	if l.NumBlocks() != 0 {
		t.Error("empty vertex list should remove the block")
	}
}

func TestBlocksSorted(t *testing.T) {
	l := NewLayer(1.6)
	for _, idx := range []voxel.BlockIndex{{X: 2, Y: 0, Z: 0}, {X: -1, Y: 0, Z: 0}, {X: 0, Y: 3, Z: 1}, {X: 0, Y: 0, Z: 0}} {
		l.SetBlock(idx, tri(0))
	}
	blocks := l.Blocks()
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks", len(blocks))
	}
	want := []voxel.BlockIndex{{X: -1, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 0}, {X: 0, Y: 3, Z: 1}, {X: 2, Y: 0, Z: 0}}
	for i, b := range blocks {
		if b.Index != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, b.Index, want[i])
		}
	}
}

func TestBounds(t *testing.T) {
	l := NewLayer(1.6)
	if _, _, ok := l.Bounds(); ok {
		t.Error("empty layer should report no bounds")
	}
	l.SetBlock(voxel.BlockIndex{X: 0, Y: 0, Z: 0}, tri(-2))
	l.SetBlock(voxel.BlockIndex{X: 1, Y: 0, Z: 0}, tri(5))
	minZ, maxZ, ok := l.Bounds()
	if !ok || minZ != -2 || maxZ != 5 {
		t.Errorf("Bounds = %v, %v, %v", minZ, maxZ, ok)
	}
}

func TestClear(t *testing.T) {
	l := NewLayer(1.6)
	l.SetBlock(voxel.BlockIndex{X: 0, Y: 0, Z: 0}, tri(0))
	l.Clear()
	if l.NumBlocks() != 0 || l.VertexCount() != 0 {
		t.Error("Clear left mesh data behind")
	}
}
