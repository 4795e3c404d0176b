// Package publish broadcasts mesh updates and map diagnostics to
// WebSocket subscribers. It is the transport behind the mesh publisher
// and the optional TSDF side-publications.
package publish

import (
	"github.com/banshee-data/surface.report/internal/mapping/mesh"
	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

// Message kinds carried on the stream.
const (
	KindMeshUpdate     = "mesh_update"
	KindOccupiedBlocks = "occupied_blocks"
	KindTSDFSlice      = "tsdf_slice"
	KindTSDFPointcloud = "tsdf_pointcloud"
	KindSurfacePoints  = "surface_points"
)

// Envelope wraps every published message with its kind and sequence.
type Envelope struct {
	Kind     string `json:"kind"`
	Sequence uint64 `json:"sequence"`

	Mesh       *MeshUpdate     `json:"mesh,omitempty"`
	Occupied   *OccupiedBlocks `json:"occupied,omitempty"`
	Slice      *TSDFSlice      `json:"slice,omitempty"`
	Pointcloud *TSDFPointcloud `json:"pointcloud,omitempty"`
	Surface    *SurfacePoints  `json:"surface,omitempty"`
}

// MeshUpdate carries the full current mesh, shaded under the configured
// color mode, tagged with the world frame it is expressed in.
type MeshUpdate struct {
	FrameID     string      `json:"frame_id"`
	ColorMode   string      `json:"color_mode"`
	TimestampNs int64       `json:"timestamp_ns"`
	Blocks      []MeshBlock `json:"blocks"`
	VertexCount int         `json:"vertex_count"`
}

// MeshBlock is the wire form of one mesh block: flattened positions,
// normals, and colors with parallel indexing.
type MeshBlock struct {
	Index     [3]int32  `json:"index"`
	Positions []float32 `json:"positions"` // x,y,z triples
	Normals   []float32 `json:"normals"`   // x,y,z triples
	Colors    []uint8   `json:"colors"`    // r,g,b,a quads
}

// OccupiedBlocks summarizes which map blocks hold observed voxels.
type OccupiedBlocks struct {
	FrameID string     `json:"frame_id"`
	Indices [][3]int32 `json:"indices"`
}

// TSDFPointcloud carries every observed voxel center with its stored
// signed distance.
type TSDFPointcloud struct {
	FrameID   string       `json:"frame_id"`
	Points    [][3]float64 `json:"points"`
	Distances []float32    `json:"distances"`
}

// SurfacePoints carries the centers of voxels whose distance lies within
// the surface threshold, with their blended colors.
type SurfacePoints struct {
	FrameID string       `json:"frame_id"`
	Points  [][3]float64 `json:"points"`
	Colors  []uint8      `json:"colors"` // r,g,b,a quads
}

// TSDFSlice is a horizontal slice of distance values at a fixed height.
type TSDFSlice struct {
	FrameID   string       `json:"frame_id"`
	Level     float64      `json:"level"`
	Points    [][3]float64 `json:"points"`
	Distances []float32    `json:"distances"`
}

// BuildMeshUpdate converts the mesh layer into its wire form, shading
// every vertex with the given color mode. Callers invoke this during the
// publishing phase of a mesh cycle, after extraction has released the map
// lock.
func BuildMeshUpdate(l *mesh.Layer, mode mesh.ColorMode, frameID string, timestampNs int64) *MeshUpdate {
	shader := mesh.NewShader(mode, l)
	u := &MeshUpdate{
		FrameID:     frameID,
		ColorMode:   mode.String(),
		TimestampNs: timestampNs,
	}
	for _, b := range l.Blocks() {
		mb := MeshBlock{
			Index:     [3]int32{b.Index.X, b.Index.Y, b.Index.Z},
			Positions: make([]float32, 0, len(b.Vertices)*3),
			Normals:   make([]float32, 0, len(b.Vertices)*3),
			Colors:    make([]uint8, 0, len(b.Vertices)*4),
		}
		for _, v := range b.Vertices {
			mb.Positions = append(mb.Positions,
				float32(v.Position.X), float32(v.Position.Y), float32(v.Position.Z))
			mb.Normals = append(mb.Normals,
				float32(v.Normal.X), float32(v.Normal.Y), float32(v.Normal.Z))
			c := shader.Shade(v)
			mb.Colors = append(mb.Colors, c.R, c.G, c.B, c.A)
		}
		u.Blocks = append(u.Blocks, mb)
		u.VertexCount += len(b.Vertices)
	}
	return u
}

// BuildOccupiedBlocks lists the allocated block indices of the map.
// Callers copy the indices under the map lock and build the message
// outside it; this helper just wraps the copy.
func BuildOccupiedBlocks(indices []voxel.BlockIndex, frameID string) *OccupiedBlocks {
	out := &OccupiedBlocks{FrameID: frameID}
	for _, idx := range indices {
		out.Indices = append(out.Indices, [3]int32{idx.X, idx.Y, idx.Z})
	}
	return out
}
