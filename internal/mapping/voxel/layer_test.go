package voxel

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestBlockIndexOf(t *testing.T) {
	l := NewLayer(0.1, 16) // block edge 1.6m
	tests := []struct {
		p    r3.Vec
		want BlockIndex
	}{
		{r3.Vec{X: 0, Y: 0, Z: 0}, BlockIndex{0, 0, 0}},
		{r3.Vec{X: 1.59, Y: 0, Z: 0}, BlockIndex{0, 0, 0}},
		{r3.Vec{X: 1.6, Y: 0, Z: 0}, BlockIndex{1, 0, 0}},
		{r3.Vec{X: -0.01, Y: 0, Z: 0}, BlockIndex{-1, 0, 0}},
		{r3.Vec{X: 0, Y: 3.3, Z: -1.7}, BlockIndex{0, 2, -2}},
	}
	for _, tt := range tests {
		if got := l.BlockIndexOf(tt.p); got != tt.want {
			t.Errorf("BlockIndexOf(%+v) = %+v, want %+v", tt.p, got, tt.want)
		}
	}
}

func TestAllocateBlockIdempotent(t *testing.T) {
	l := NewLayer(0.1, 8)
	idx := BlockIndex{1, 2, 3}
	a := l.AllocateBlock(idx)
	b := l.AllocateBlock(idx)
	if a != b {
		t.Error("AllocateBlock should return the existing block")
	}
	if n := l.NumAllocatedBlocks(); n != 1 {
		t.Errorf("NumAllocatedBlocks = %d, want 1", n)
	}
	if len(a.Voxels) != 8*8*8 {
		t.Errorf("block has %d voxels, want %d", len(a.Voxels), 8*8*8)
	}
}

func TestVoxelAtAllocates(t *testing.T) {
	l := NewLayer(0.1, 16)
	p := r3.Vec{X: 0.05, Y: 0.05, Z: 0.05}

	if v, _ := l.VoxelAt(p, false); v != nil {
		t.Error("VoxelAt without allocation should return nil for empty layer")
	}
	v, b := l.VoxelAt(p, true)
	if v == nil || b == nil {
		t.Fatal("VoxelAt with allocation returned nil")
	}
	if b.Index != (BlockIndex{0, 0, 0}) {
		t.Errorf("allocated block %+v, want origin block", b.Index)
	}

	v.Weight = 1
	again, _ := l.VoxelAt(p, false)
	if again == nil || again.Weight != 1 {
		t.Error("VoxelAt should return the same voxel storage on repeat lookup")
	}
}

func TestVoxelCenterRoundTrip(t *testing.T) {
	l := NewLayer(0.25, 8)
	idx := BlockIndex{-1, 2, 0}
	b := l.AllocateBlock(idx)
	for i := 0; i < len(b.Voxels); i += 37 {
		c := l.VoxelCenter(idx, i)
		v, blk := l.VoxelAt(c, false)
		if blk == nil || blk.Index != idx {
			t.Fatalf("center of voxel %d landed in block %+v", i, blk)
		}
		if v != &blk.Voxels[i] {
			t.Errorf("VoxelAt(center of %d) resolved to a different voxel", i)
		}
	}
}

func TestUpdatedBlockIndices(t *testing.T) {
	l := NewLayer(0.1, 8)
	l.AllocateBlock(BlockIndex{0, 0, 0})
	b := l.AllocateBlock(BlockIndex{2, 0, 0})
	b.Updated = true

	got := l.UpdatedBlockIndices()
	if len(got) != 1 || got[0] != (BlockIndex{2, 0, 0}) {
		t.Errorf("UpdatedBlockIndices = %+v", got)
	}

	l.MarkAllBlocksUpdated()
	if n := len(l.UpdatedBlockIndices()); n != 2 {
		t.Errorf("after MarkAllBlocksUpdated got %d updated blocks, want 2", n)
	}
}

func TestBlockIndicesSorted(t *testing.T) {
	l := NewLayer(0.1, 8)
	for _, idx := range []BlockIndex{{3, 0, 0}, {-1, 5, 2}, {0, 0, 0}, {-1, 2, 9}} {
		l.AllocateBlock(idx)
	}
	got := l.BlockIndices()
	for i := 1; i < len(got); i++ {
		a, b := got[i-1], got[i]
		if a.X > b.X || (a.X == b.X && a.Y > b.Y) || (a.X == b.X && a.Y == b.Y && a.Z >= b.Z) {
			t.Fatalf("indices not strictly sorted: %+v", got)
		}
	}
}

func TestRemoveAllBlocks(t *testing.T) {
	l := NewLayer(0.1, 8)
	l.AllocateBlock(BlockIndex{0, 0, 0})
	l.AllocateBlock(BlockIndex{1, 0, 0})
	l.RemoveAllBlocks()
	if l.NumAllocatedBlocks() != 0 {
		t.Error("RemoveAllBlocks left blocks behind")
	}
	if l.MemorySize() != 0 {
		t.Error("MemorySize should be zero for an empty layer")
	}
}

func TestGlobalVoxelIndexOf(t *testing.T) {
	l := NewLayer(0.5, 8)
	got := l.GlobalVoxelIndexOf(r3.Vec{X: 1.25, Y: -0.25, Z: 0})
	want := GlobalVoxelIndex{X: 2, Y: -1, Z: 0}
	if got != want {
		t.Errorf("GlobalVoxelIndexOf = %+v, want %+v", got, want)
	}
}

func TestBlockOrigin(t *testing.T) {
	l := NewLayer(0.1, 16)
	o := l.BlockOrigin(BlockIndex{-1, 0, 2})
	if math.Abs(o.X+1.6) > 1e-12 || o.Y != 0 || math.Abs(o.Z-3.2) > 1e-12 {
		t.Errorf("BlockOrigin = %+v", o)
	}
}
