// Package voxel implements the block-sparse truncated signed distance
// field (TSDF) layer that backs the volumetric surface map, plus the point
// cloud integrators that write into it and the gob+gzip persistence codec.
//
// The Layer itself carries no locking: callers serialize all mutation and
// extraction through a single map lock, held only for the duration of an
// integration or extraction call.
package voxel

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Color is an RGBA color sample attached to a point or voxel.
type Color struct {
	R, G, B, A uint8
}

// Gray returns a mid-gray color used when no color data is available.
func Gray() Color { return Color{R: 127, G: 127, B: 127, A: 255} }

// BlockIndex identifies a block by its integer grid coordinates.
type BlockIndex struct {
	X, Y, Z int32
}

// Voxel is a single TSDF cell. Distance is the truncated signed distance
// to the nearest observed surface; Weight is the accumulated observation
// weight (zero means never observed).
type Voxel struct {
	Distance float32
	Weight   float32
	Color    Color
}

// Block is a cube of VoxelsPerSide^3 voxels. Updated is set whenever a
// voxel in the block is written by integration or load, and cleared by
// mesh extraction passes that covered the block.
type Block struct {
	Index   BlockIndex
	Voxels  []Voxel
	Updated bool
}

// Layer is a sparse collection of blocks indexed on a regular grid.
type Layer struct {
	voxelSize     float64
	voxelsPerSide int
	blockSize     float64
	blocks        map[BlockIndex]*Block
}

// NewLayer creates an empty layer. voxelsPerSide must be a power of two;
// callers validate this at configuration time.
func NewLayer(voxelSize float64, voxelsPerSide int) *Layer {
	return &Layer{
		voxelSize:     voxelSize,
		voxelsPerSide: voxelsPerSide,
		blockSize:     voxelSize * float64(voxelsPerSide),
		blocks:        make(map[BlockIndex]*Block),
	}
}

// VoxelSize returns the edge length of a voxel in meters.
func (l *Layer) VoxelSize() float64 { return l.voxelSize }

// VoxelsPerSide returns the number of voxels along one block edge.
func (l *Layer) VoxelsPerSide() int { return l.voxelsPerSide }

// BlockSize returns the edge length of a block in meters.
func (l *Layer) BlockSize() float64 { return l.blockSize }

// NumAllocatedBlocks returns the number of allocated blocks.
func (l *Layer) NumAllocatedBlocks() int { return len(l.blocks) }

// MemorySize estimates the in-memory footprint of the layer in bytes.
func (l *Layer) MemorySize() int {
	const voxelBytes = 4 + 4 + 4
	perBlock := l.voxelsPerSide * l.voxelsPerSide * l.voxelsPerSide * voxelBytes
	return len(l.blocks) * perBlock
}

// BlockIndexOf returns the index of the block containing a world point.
func (l *Layer) BlockIndexOf(p r3.Vec) BlockIndex {
	return BlockIndex{
		X: int32(math.Floor(p.X / l.blockSize)),
		Y: int32(math.Floor(p.Y / l.blockSize)),
		Z: int32(math.Floor(p.Z / l.blockSize)),
	}
}

// Block returns the block at idx, or nil if not allocated.
func (l *Layer) Block(idx BlockIndex) *Block {
	return l.blocks[idx]
}

// AllocateBlock returns the block at idx, allocating it if necessary.
func (l *Layer) AllocateBlock(idx BlockIndex) *Block {
	if b, ok := l.blocks[idx]; ok {
		return b
	}
	n := l.voxelsPerSide
	b := &Block{
		Index:  idx,
		Voxels: make([]Voxel, n*n*n),
	}
	l.blocks[idx] = b
	return b
}

// RemoveBlock deletes the block at idx if allocated.
func (l *Layer) RemoveBlock(idx BlockIndex) {
	delete(l.blocks, idx)
}

// RemoveAllBlocks clears the layer.
func (l *Layer) RemoveAllBlocks() {
	l.blocks = make(map[BlockIndex]*Block)
}

// BlockOrigin returns the world coordinates of a block's minimum corner.
func (l *Layer) BlockOrigin(idx BlockIndex) r3.Vec {
	return r3.Vec{
		X: float64(idx.X) * l.blockSize,
		Y: float64(idx.Y) * l.blockSize,
		Z: float64(idx.Z) * l.blockSize,
	}
}

// GlobalVoxelIndex identifies a voxel by global integer grid coordinates.
type GlobalVoxelIndex struct {
	X, Y, Z int64
}

// GlobalVoxelIndexOf returns the global grid coordinates of the voxel
// containing a world point.
func (l *Layer) GlobalVoxelIndexOf(p r3.Vec) GlobalVoxelIndex {
	return GlobalVoxelIndex{
		X: int64(math.Floor(p.X / l.voxelSize)),
		Y: int64(math.Floor(p.Y / l.voxelSize)),
		Z: int64(math.Floor(p.Z / l.voxelSize)),
	}
}

// VoxelAt returns the voxel containing a world point, allocating its block
// when allocate is true. Returns nil when the block is not allocated and
// allocate is false. The second return is the block, so callers can mark
// it updated after a write.
func (l *Layer) VoxelAt(p r3.Vec, allocate bool) (*Voxel, *Block) {
	idx := l.BlockIndexOf(p)
	b := l.blocks[idx]
	if b == nil {
		if !allocate {
			return nil, nil
		}
		b = l.AllocateBlock(idx)
	}
	origin := l.BlockOrigin(idx)
	n := l.voxelsPerSide
	vx := clampVoxelCoord(int(math.Floor((p.X-origin.X)/l.voxelSize)), n)
	vy := clampVoxelCoord(int(math.Floor((p.Y-origin.Y)/l.voxelSize)), n)
	vz := clampVoxelCoord(int(math.Floor((p.Z-origin.Z)/l.voxelSize)), n)
	return &b.Voxels[vx+n*(vy+n*vz)], b
}

// VoxelCenter returns the world-space center of the voxel at linear index
// i within the block at idx.
func (l *Layer) VoxelCenter(idx BlockIndex, i int) r3.Vec {
	n := l.voxelsPerSide
	vx := i % n
	vy := (i / n) % n
	vz := i / (n * n)
	origin := l.BlockOrigin(idx)
	return r3.Vec{
		X: origin.X + (float64(vx)+0.5)*l.voxelSize,
		Y: origin.Y + (float64(vy)+0.5)*l.voxelSize,
		Z: origin.Z + (float64(vz)+0.5)*l.voxelSize,
	}
}

// BlockIndices returns the indices of all allocated blocks in a stable
// sorted order.
func (l *Layer) BlockIndices() []BlockIndex {
	out := make([]BlockIndex, 0, len(l.blocks))
	for idx := range l.blocks {
		out = append(out, idx)
	}
	sortBlockIndices(out)
	return out
}

// UpdatedBlockIndices returns the indices of blocks whose Updated flag is
// set, in a stable sorted order.
func (l *Layer) UpdatedBlockIndices() []BlockIndex {
	var out []BlockIndex
	for idx, b := range l.blocks {
		if b.Updated {
			out = append(out, idx)
		}
	}
	sortBlockIndices(out)
	return out
}

// MarkAllBlocksUpdated sets the Updated flag on every allocated block.
// Used after a map load so the next mesh cycle regenerates everything.
func (l *Layer) MarkAllBlocksUpdated() {
	for _, b := range l.blocks {
		b.Updated = true
	}
}

func sortBlockIndices(s []BlockIndex) {
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

func clampVoxelCoord(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
