package voxel

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
)

// MergeStrategy controls how loaded blocks combine with blocks already
// allocated in the layer.
type MergeStrategy int

const (
	// MergeReplace overwrites colliding blocks with the loaded data.
	MergeReplace MergeStrategy = iota
	// MergeCombine folds loaded voxels into existing ones by weighted
	// average.
	MergeCombine
)

// ParseMergeStrategy maps a configuration string to a MergeStrategy.
// Unrecognized values fall back to MergeReplace.
func ParseMergeStrategy(s string) MergeStrategy {
	if s == "merge" {
		return MergeCombine
	}
	return MergeReplace
}

func (m MergeStrategy) String() string {
	if m == MergeCombine {
		return "merge"
	}
	return "replace"
}

// layerSnapshot is the serialized form of a layer. Geometry parameters are
// stored so a load into a mismatched layer can be rejected.
type layerSnapshot struct {
	VoxelSize     float64
	VoxelsPerSide int
	Blocks        []blockSnapshot
}

type blockSnapshot struct {
	Index  BlockIndex
	Voxels []Voxel
}

// EncodeBlocks serializes every allocated block using gob encoding and
// gzip compression. Callers hold the map lock across this call; file I/O
// happens on the returned byte slice afterwards, outside the lock.
func EncodeBlocks(l *Layer) ([]byte, error) {
	snap := layerSnapshot{
		VoxelSize:     l.voxelSize,
		VoxelsPerSide: l.voxelsPerSide,
	}
	for _, idx := range l.BlockIndices() {
		b := l.blocks[idx]
		voxels := make([]Voxel, len(b.Voxels))
		copy(voxels, b.Voxels)
		snap.Blocks = append(snap.Blocks, blockSnapshot{Index: idx, Voxels: voxels})
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(snap); err != nil {
		gz.Close()
		return nil, fmt.Errorf("encode layer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress layer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBlocks parses a serialized layer blob.
func DecodeBlocks(blob []byte) ([]Block, float64, int, error) {
	if len(blob) == 0 {
		return nil, 0, 0, fmt.Errorf("empty layer blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()

	var snap layerSnapshot
	if err := gob.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, 0, 0, fmt.Errorf("decode layer blob: %w", err)
	}
	blocks := make([]Block, len(snap.Blocks))
	for i, bs := range snap.Blocks {
		blocks[i] = Block{Index: bs.Index, Voxels: bs.Voxels}
	}
	return blocks, snap.VoxelSize, snap.VoxelsPerSide, nil
}

// ApplyBlocks merges decoded blocks into the layer per the strategy and
// marks every affected block updated so the next mesh cycle regenerates
// it. Geometry mismatches are rejected. Callers hold the map lock.
func ApplyBlocks(l *Layer, blocks []Block, voxelSize float64, voxelsPerSide int, strategy MergeStrategy) error {
	if voxelSize != l.voxelSize || voxelsPerSide != l.voxelsPerSide {
		return fmt.Errorf("layer geometry mismatch: file has voxel_size=%g voxels_per_side=%d, layer has %g/%d",
			voxelSize, voxelsPerSide, l.voxelSize, l.voxelsPerSide)
	}
	want := voxelsPerSide * voxelsPerSide * voxelsPerSide
	for i := range blocks {
		in := &blocks[i]
		if len(in.Voxels) != want {
			return fmt.Errorf("block %v has %d voxels, want %d", in.Index, len(in.Voxels), want)
		}
		existing := l.blocks[in.Index]
		if existing == nil || strategy == MergeReplace {
			voxels := make([]Voxel, len(in.Voxels))
			copy(voxels, in.Voxels)
			l.blocks[in.Index] = &Block{Index: in.Index, Voxels: voxels, Updated: true}
			continue
		}
		for j := range existing.Voxels {
			existing.Voxels[j] = mergeVoxels(existing.Voxels[j], in.Voxels[j])
		}
		existing.Updated = true
	}
	return nil
}

// WriteBlob writes an encoded layer blob to a file.
func WriteBlob(path string, blob []byte) error {
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write layer file: %w", err)
	}
	return nil
}

// ReadBlob reads an encoded layer blob from a file.
func ReadBlob(path string) ([]byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layer file: %w", err)
	}
	return blob, nil
}

// SaveLayer writes the layer to a file. Convenience wrapper for callers
// that do not need to split encoding from file I/O.
func SaveLayer(l *Layer, path string) error {
	blob, err := EncodeBlocks(l)
	if err != nil {
		return err
	}
	return WriteBlob(path, blob)
}

// LoadLayer reads a layer file and merges its blocks into l.
func LoadLayer(path string, strategy MergeStrategy, l *Layer) error {
	blob, err := ReadBlob(path)
	if err != nil {
		return err
	}
	blocks, voxelSize, voxelsPerSide, err := DecodeBlocks(blob)
	if err != nil {
		return err
	}
	return ApplyBlocks(l, blocks, voxelSize, voxelsPerSide, strategy)
}

func mergeVoxels(a, b Voxel) Voxel {
	total := a.Weight + b.Weight
	if total <= 0 {
		return a
	}
	return Voxel{
		Distance: (a.Distance*a.Weight + b.Distance*b.Weight) / total,
		Weight:   total,
		Color:    blendColor(a.Color, a.Weight, b.Color, b.Weight),
	}
}
