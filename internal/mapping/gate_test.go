package mapping

import (
	"testing"
	"time"
)

func TestGateAdmitsFirstFrame(t *testing.T) {
	g := NewIngestionGate(time.Second)
	stamp := time.Unix(100, 0)
	if !g.Admit(StreamPrimary, stamp) {
		t.Fatal("first frame must always be admitted")
	}
	if w := g.Watermark(StreamPrimary); !w.Equal(stamp) {
		t.Errorf("watermark = %v, want %v", w, stamp)
	}
}

func TestGateRejectsWithinInterval(t *testing.T) {
	g := NewIngestionGate(time.Second)
	base := time.Unix(100, 0)
	g.Admit(StreamPrimary, base)

	if g.Admit(StreamPrimary, base.Add(999*time.Millisecond)) {
		t.Error("frame inside the minimum interval should be rejected")
	}
	// Rejection must not move the watermark.
	if w := g.Watermark(StreamPrimary); !w.Equal(base) {
		t.Errorf("watermark moved to %v on rejection", w)
	}
	if !g.Admit(StreamPrimary, base.Add(time.Second)) {
		t.Error("frame exactly at the interval boundary should be admitted")
	}
}

func TestGateWatermarkAfterRejectionRun(t *testing.T) {
	g := NewIngestionGate(time.Second)
	base := time.Unix(100, 0)
	g.Admit(StreamPrimary, base)
	// A burst of rejected frames never resets the interval clock.
	for i := 1; i <= 5; i++ {
		g.Admit(StreamPrimary, base.Add(time.Duration(i)*100*time.Millisecond))
	}
	if !g.Admit(StreamPrimary, base.Add(1100*time.Millisecond)) {
		t.Error("frame past the interval from the last admission should pass")
	}

	admitted, rejected := g.Counts(StreamPrimary)
	if admitted != 2 || rejected != 5 {
		t.Errorf("counts = %d admitted, %d rejected; want 2, 5", admitted, rejected)
	}
}

func TestGateStreamsIndependent(t *testing.T) {
	g := NewIngestionGate(time.Second)
	base := time.Unix(100, 0)
	g.Admit(StreamPrimary, base)

	// The freespace stream has its own watermark.
	if !g.Admit(StreamFreespace, base.Add(10*time.Millisecond)) {
		t.Error("freespace stream throttled by primary stream admission")
	}
	if w := g.Watermark(StreamFreespace); !w.Equal(base.Add(10 * time.Millisecond)) {
		t.Errorf("freespace watermark = %v", w)
	}
}

func TestGateZeroIntervalAdmitsEverything(t *testing.T) {
	g := NewIngestionGate(0)
	stamp := time.Unix(100, 0)
	for i := 0; i < 10; i++ {
		if !g.Admit(StreamPrimary, stamp) {
			t.Fatal("zero interval should admit every frame")
		}
	}
	admitted, rejected := g.Counts(StreamPrimary)
	if admitted != 10 || rejected != 0 {
		t.Errorf("counts = %d, %d", admitted, rejected)
	}
}

func TestGateOutOfOrderStamp(t *testing.T) {
	g := NewIngestionGate(time.Second)
	base := time.Unix(100, 0)
	g.Admit(StreamPrimary, base)
	// A stamp behind the watermark is inside the interval and is rejected.
	if g.Admit(StreamPrimary, base.Add(-time.Minute)) {
		t.Error("stamp behind the watermark should be rejected")
	}
}
