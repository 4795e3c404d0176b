package mapping

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

// Sanitize reduces a raw sensor frame to finite geometry. Samples with
// any non-finite coordinate component are dropped together with their
// paired color, preserving index alignment for the retained samples. No
// other filtering occurs; malformed input degrades to an empty frame
// rather than an error.
func Sanitize(frame *SensorFrame, freespaceOnly bool) SanitizedFrame {
	out := SanitizedFrame{
		Points:        make([]r3.Vec, 0, len(frame.Points)),
		Colors:        make([]voxel.Color, 0, len(frame.Points)),
		FreespaceOnly: freespaceOnly,
	}
	for i, p := range frame.Points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			continue
		}
		out.Points = append(out.Points, p)
		if i < len(frame.Colors) {
			out.Colors = append(out.Colors, frame.Colors[i])
		} else {
			out.Colors = append(out.Colors, voxel.Gray())
		}
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
