package mapping

import (
	"sync"
	"time"
)

// IngestionGate rate-limits frame admission per input stream. Each stream
// carries an explicit watermark: the stamp of its last admitted frame. A
// frame is admitted iff its stamp is at least the minimum interval past
// the watermark; admission advances the watermark regardless of whether
// downstream processing later fails. Rejected frames are dropped, never
// queued.
type IngestionGate struct {
	mu          sync.Mutex
	minInterval time.Duration
	watermarks  map[Stream]time.Time
	admitted    map[Stream]uint64
	rejected    map[Stream]uint64
}

// NewIngestionGate creates a gate with the given minimum inter-frame
// interval. A zero or negative interval admits everything.
func NewIngestionGate(minInterval time.Duration) *IngestionGate {
	return &IngestionGate{
		minInterval: minInterval,
		watermarks:  make(map[Stream]time.Time),
		admitted:    make(map[Stream]uint64),
		rejected:    make(map[Stream]uint64),
	}
}

// Admit decides whether a frame with the given stamp passes the gate.
// This is a pure gating decision: it never fails, and its only side
// effect is advancing the stream watermark on admission.
func (g *IngestionGate) Admit(stream Stream, stamp time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if w, ok := g.watermarks[stream]; ok && stamp.Sub(w) < g.minInterval {
		g.rejected[stream]++
		return false
	}
	g.watermarks[stream] = stamp
	g.admitted[stream]++
	return true
}

// Watermark returns the stamp of the last admitted frame on a stream.
// The zero time means nothing has been admitted yet.
func (g *IngestionGate) Watermark(stream Stream) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.watermarks[stream]
}

// Counts returns how many frames a stream has admitted and rejected.
func (g *IngestionGate) Counts(stream Stream) (admitted, rejected uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admitted[stream], g.rejected[stream]
}
