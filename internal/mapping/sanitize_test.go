package mapping

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

func TestSanitizeDropsNonFinite(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)
	frame := &SensorFrame{
		Frame: "sensor",
		Stamp: time.Unix(100, 0),
		Points: []r3.Vec{
			{X: 1, Y: 2, Z: 3},
			{X: nan, Y: 0, Z: 0},
			{X: 0, Y: inf, Z: 0},
			{X: 0, Y: 0, Z: -inf},
			{X: 4, Y: 5, Z: 6},
		},
		Colors: []voxel.Color{
			{R: 1}, {R: 2}, {R: 3}, {R: 4}, {R: 5},
		},
	}

	out := Sanitize(frame, false)
	if len(out.Points) != 2 {
		t.Fatalf("kept %d points, want 2", len(out.Points))
	}
	// Colors stay paired with their surviving points.
	if out.Colors[0].R != 1 || out.Colors[1].R != 5 {
		t.Errorf("colors misaligned: %+v", out.Colors)
	}
	if out.FreespaceOnly {
		t.Error("freespace flag set on a surface frame")
	}
}

func TestSanitizePadsMissingColors(t *testing.T) {
	frame := &SensorFrame{
		Points: []r3.Vec{{X: 1}, {X: 2}, {X: 3}},
		Colors: []voxel.Color{{R: 9}},
	}
	out := Sanitize(frame, true)
	if len(out.Colors) != 3 {
		t.Fatalf("colors length %d, want 3", len(out.Colors))
	}
	if out.Colors[0].R != 9 {
		t.Error("provided color dropped")
	}
	if out.Colors[1] != voxel.Gray() || out.Colors[2] != voxel.Gray() {
		t.Error("missing colors should pad to gray")
	}
	if !out.FreespaceOnly {
		t.Error("freespace flag lost")
	}
}

func TestSanitizeAllInvalid(t *testing.T) {
	nan := math.NaN()
	frame := &SensorFrame{Points: []r3.Vec{{X: nan}, {Y: nan}}}
	out := Sanitize(frame, false)
	if len(out.Points) != 0 || len(out.Colors) != 0 {
		t.Errorf("fully invalid frame should sanitize to empty, got %d points", len(out.Points))
	}
}

func TestSanitizeEmptyFrame(t *testing.T) {
	out := Sanitize(&SensorFrame{}, false)
	if len(out.Points) != 0 {
		t.Error("empty frame should stay empty")
	}
}
