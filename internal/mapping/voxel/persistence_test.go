package voxel

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func populatedLayer(t *testing.T) *Layer {
	t.Helper()
	l := NewLayer(0.1, 8)
	b := l.AllocateBlock(BlockIndex{0, 0, 0})
	b.Voxels[0] = Voxel{Distance: 0.05, Weight: 2, Color: Color{R: 10, G: 20, B: 30, A: 255}}
	b.Voxels[42] = Voxel{Distance: -0.1, Weight: 1}
	c := l.AllocateBlock(BlockIndex{-1, 2, 0})
	c.Voxels[7] = Voxel{Distance: 0.2, Weight: 5}
	return l
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src := populatedLayer(t)
	path := filepath.Join(t.TempDir(), "map.tsdf")
	if err := SaveLayer(src, path); err != nil {
		t.Fatalf("SaveLayer: %v", err)
	}

	dst := NewLayer(0.1, 8)
	if err := LoadLayer(path, MergeReplace, dst); err != nil {
		t.Fatalf("LoadLayer: %v", err)
	}

	if dst.NumAllocatedBlocks() != src.NumAllocatedBlocks() {
		t.Fatalf("loaded %d blocks, want %d", dst.NumAllocatedBlocks(), src.NumAllocatedBlocks())
	}
	for _, idx := range src.BlockIndices() {
		got, want := dst.Block(idx), src.Block(idx)
		if got == nil {
			t.Fatalf("block %+v missing after load", idx)
		}
		if !got.Updated {
			t.Errorf("block %+v not marked updated after load", idx)
		}
		if diff := cmp.Diff(want.Voxels, got.Voxels); diff != "" {
			t.Errorf("block %+v voxels mismatch (-want +got):\n%s", idx, diff)
		}
	}
}

func TestLoadReplaceOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.tsdf")
	if err := SaveLayer(populatedLayer(t), path); err != nil {
		t.Fatalf("SaveLayer: %v", err)
	}

	dst := NewLayer(0.1, 8)
	stale := dst.AllocateBlock(BlockIndex{0, 0, 0})
	stale.Voxels[0] = Voxel{Distance: 9, Weight: 99}

	if err := LoadLayer(path, MergeReplace, dst); err != nil {
		t.Fatalf("LoadLayer: %v", err)
	}
	v := dst.Block(BlockIndex{0, 0, 0}).Voxels[0]
	if v.Weight != 2 || v.Distance != 0.05 {
		t.Errorf("replace strategy kept stale voxel: %+v", v)
	}
}

func TestLoadCombineMergesWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.tsdf")
	if err := SaveLayer(populatedLayer(t), path); err != nil {
		t.Fatalf("SaveLayer: %v", err)
	}

	dst := NewLayer(0.1, 8)
	existing := dst.AllocateBlock(BlockIndex{0, 0, 0})
	existing.Voxels[0] = Voxel{Distance: 0.05, Weight: 2}

	if err := LoadLayer(path, MergeCombine, dst); err != nil {
		t.Fatalf("LoadLayer: %v", err)
	}
	v := dst.Block(BlockIndex{0, 0, 0}).Voxels[0]
	if v.Weight != 4 {
		t.Errorf("combined weight %v, want 4", v.Weight)
	}
	if v.Distance < 0.049 || v.Distance > 0.051 {
		t.Errorf("combined distance %v, want ~0.05", v.Distance)
	}
}

func TestLoadRejectsGeometryMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.tsdf")
	if err := SaveLayer(populatedLayer(t), path); err != nil {
		t.Fatalf("SaveLayer: %v", err)
	}

	dst := NewLayer(0.2, 8)
	err := LoadLayer(path, MergeReplace, dst)
	if err == nil || !strings.Contains(err.Error(), "geometry mismatch") {
		t.Errorf("want geometry mismatch error, got %v", err)
	}
	if dst.NumAllocatedBlocks() != 0 {
		t.Error("failed load must not modify the layer")
	}
}

func TestDecodeBlocksRejectsGarbage(t *testing.T) {
	if _, _, _, err := DecodeBlocks(nil); err == nil {
		t.Error("empty blob should fail")
	}
	if _, _, _, err := DecodeBlocks([]byte("not gzip at all")); err == nil {
		t.Error("non-gzip blob should fail")
	}
}

func TestParseMergeStrategy(t *testing.T) {
	if ParseMergeStrategy("merge") != MergeCombine {
		t.Error(`"merge" should parse to MergeCombine`)
	}
	for _, s := range []string{"replace", "", "anything"} {
		if ParseMergeStrategy(s) != MergeReplace {
			t.Errorf("%q should parse to MergeReplace", s)
		}
	}
	if MergeCombine.String() != "merge" || MergeReplace.String() != "replace" {
		t.Error("MergeStrategy String round trip failed")
	}
}
