// Package tfbuffer maintains a short time-indexed history of rigid
// transforms between named coordinate frames and answers timestamped
// lookups by interpolation.
//
// Lookups are synchronous buffer queries: a lookup for a timestamp outside
// the buffered span fails immediately rather than waiting for a transform
// that may arrive later. Callers that drop data on lookup failure never
// revisit that decision.
package tfbuffer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Lookup failure sentinels. Callers treat both as "pose unavailable".
var (
	ErrUnknownFrame  = errors.New("tfbuffer: unknown frame pair")
	ErrOutsideWindow = errors.New("tfbuffer: timestamp outside buffered window")
)

// DefaultWindow is how much transform history a Buffer retains per frame
// pair when no window is configured.
const DefaultWindow = 10 * time.Second

// StampedTransform is a Transform valid at a specific instant.
type StampedTransform struct {
	Transform
	Stamp time.Time
}

type pairKey struct {
	source string
	target string
}

// Buffer stores timestamped transforms per (source, target) frame pair and
// interpolates between neighbouring entries on lookup. Safe for concurrent
// use.
type Buffer struct {
	mu     sync.RWMutex
	window time.Duration
	pairs  map[pairKey][]StampedTransform
}

// NewBuffer creates a Buffer retaining roughly window of history per frame
// pair. A non-positive window selects DefaultWindow.
func NewBuffer(window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{
		window: window,
		pairs:  make(map[pairKey][]StampedTransform),
	}
}

// Put inserts a transform from source to target at the given stamp and
// prunes entries older than the retention window. Out-of-order inserts are
// placed at the correct position.
func (b *Buffer) Put(source, target string, st StampedTransform) {
	key := pairKey{source: source, target: target}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.pairs[key]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Stamp.After(st.Stamp)
	})
	entries = append(entries, StampedTransform{})
	copy(entries[i+1:], entries[i:])
	entries[i] = st

	// Prune history older than the window, measured from the newest entry.
	cutoff := entries[len(entries)-1].Stamp.Add(-b.window)
	first := 0
	for first < len(entries)-1 && entries[first].Stamp.Before(cutoff) {
		first++
	}
	b.pairs[key] = entries[first:]
}

// Lookup returns the transform from source to target at stamp. The result
// is interpolated between the two buffered entries bracketing stamp. No
// extrapolation is performed: stamps before the oldest or after the newest
// buffered entry fail with ErrOutsideWindow.
func (b *Buffer) Lookup(source, target string, stamp time.Time) (Transform, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries, ok := b.pairs[pairKey{source: source, target: target}]
	if !ok || len(entries) == 0 {
		return Transform{}, fmt.Errorf("%w: %s -> %s", ErrUnknownFrame, source, target)
	}

	first, last := entries[0], entries[len(entries)-1]
	if stamp.Before(first.Stamp) || stamp.After(last.Stamp) {
		return Transform{}, fmt.Errorf("%w: %s -> %s at %s (buffered %s .. %s)",
			ErrOutsideWindow, source, target,
			stamp.Format(time.RFC3339Nano),
			first.Stamp.Format(time.RFC3339Nano),
			last.Stamp.Format(time.RFC3339Nano))
	}

	i := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Stamp.Before(stamp)
	})
	hi := entries[i]
	if hi.Stamp.Equal(stamp) || i == 0 {
		return hi.Transform, nil
	}
	lo := entries[i-1]

	span := hi.Stamp.Sub(lo.Stamp)
	if span <= 0 {
		return hi.Transform, nil
	}
	alpha := float64(stamp.Sub(lo.Stamp)) / float64(span)
	return interpolate(lo.Transform, hi.Transform, alpha), nil
}

// Len reports the number of buffered entries for a frame pair.
func (b *Buffer) Len(source, target string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pairs[pairKey{source: source, target: target}])
}
