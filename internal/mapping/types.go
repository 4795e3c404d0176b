package mapping

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

// Stream identifies one of the two sensor input streams. Each stream has
// its own admission watermark and preserves its own frame order; relative
// order across streams is unspecified.
type Stream string

const (
	// StreamPrimary carries surface returns.
	StreamPrimary Stream = "primary"
	// StreamFreespace carries returns known to lie in free space, used
	// only to clear voxels beyond the truncation distance.
	StreamFreespace Stream = "freespace"
)

// SensorFrame is one batch of raw 3D samples from the sensor transport,
// tagged with the coordinate frame they are expressed in. Frames are
// ephemeral: the pipeline consumes each one exactly once and never queues
// or retries it.
type SensorFrame struct {
	// Frame is the sensor coordinate frame the points are expressed in,
	// used as the source frame for pose resolution.
	Frame string
	// Stamp is the acquisition time of the frame.
	Stamp time.Time
	// Points are raw sample coordinates; non-finite components are
	// tolerated and filtered during sanitization.
	Points []r3.Vec
	// Colors are per-point color samples parallel to Points. May be
	// shorter than Points (missing entries default to gray) or empty.
	Colors []voxel.Color
}

// SanitizedFrame is a sensor frame reduced to finite geometry with
// index-aligned colors, plus its semantic role. It is owned exclusively
// by the pipeline call that produced it and discarded after integration.
type SanitizedFrame struct {
	Points        []r3.Vec
	Colors        []voxel.Color
	FreespaceOnly bool
}
