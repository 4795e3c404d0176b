package mapping

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/tfbuffer"
	"github.com/banshee-data/surface.report/internal/mapping/voxel"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

// PoseResolver resolves the rigid transform from a sensor frame to a
// target frame at a timestamp. Implemented by tfbuffer.Buffer.
type PoseResolver interface {
	Lookup(sourceFrame, targetFrame string, stamp time.Time) (tfbuffer.Transform, error)
}

// Integrator folds a posed, sanitized point cloud into the volumetric
// map. Implemented by voxel.Integrator. Not assumed safe against
// concurrent mesh extraction; the dispatcher calls it under the shared
// map lock.
type Integrator interface {
	Integrate(pose tfbuffer.Transform, points []r3.Vec, colors []voxel.Color, freespaceOnly bool)
}

// PoseObserver is notified with the resolved pose after each successful
// integration. Registered observers replace the subclass-override hook of
// earlier designs.
type PoseObserver func(pose tfbuffer.Transform)

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	FramesIntegrated  uint64
	FramesDroppedPose uint64
	PointsIntegrated  uint64
	LastIntegration   time.Duration
}

// IntegrationDispatcher resolves frame poses and forwards sanitized
// frames into the integrator. A frame whose pose cannot be resolved is
// silently discarded: logged, counted, never retried and never escalated.
// At most one integration call is in flight at a time because the map
// lock serializes them.
type IntegrationDispatcher struct {
	resolver   PoseResolver
	integrator Integrator
	worldFrame string
	mapMu      *sync.Mutex
	verbose    bool

	mu        sync.Mutex
	observers []PoseObserver
	stats     DispatcherStats
}

// NewIntegrationDispatcher wires a dispatcher. mapMu is the shared map
// lock guarding the volumetric map against concurrent extraction.
func NewIntegrationDispatcher(resolver PoseResolver, integrator Integrator, worldFrame string, mapMu *sync.Mutex, verbose bool) *IntegrationDispatcher {
	return &IntegrationDispatcher{
		resolver:   resolver,
		integrator: integrator,
		worldFrame: worldFrame,
		mapMu:      mapMu,
		verbose:    verbose,
	}
}

// AddPoseObserver registers an observer invoked after each successful
// integration with the resolved pose.
func (d *IntegrationDispatcher) AddPoseObserver(fn PoseObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Process resolves the frame's pose, sanitizes it, and integrates it.
// Pose resolution happens outside the map lock; only the integration call
// itself holds it. Reports whether the frame was integrated.
func (d *IntegrationDispatcher) Process(frame *SensorFrame, freespaceOnly bool) bool {
	pose, err := d.resolver.Lookup(frame.Frame, d.worldFrame, frame.Stamp)
	if err != nil {
		monitoring.Logf("mapping: dropping frame from %q at %s: %v",
			frame.Frame, frame.Stamp.Format(time.RFC3339Nano), err)
		d.mu.Lock()
		d.stats.FramesDroppedPose++
		d.mu.Unlock()
		return false
	}

	clean := Sanitize(frame, freespaceOnly)
	if d.verbose {
		monitoring.Logf("mapping: integrating a pointcloud with %d points", len(clean.Points))
	}

	start := time.Now()
	d.mapMu.Lock()
	d.integrator.Integrate(pose, clean.Points, clean.Colors, clean.FreespaceOnly)
	d.mapMu.Unlock()
	elapsed := time.Since(start)

	d.mu.Lock()
	d.stats.FramesIntegrated++
	d.stats.PointsIntegrated += uint64(len(clean.Points))
	d.stats.LastIntegration = elapsed
	observers := make([]PoseObserver, len(d.observers))
	copy(observers, d.observers)
	d.mu.Unlock()

	if d.verbose {
		monitoring.Logf("mapping: finished integrating in %s", elapsed)
	}
	for _, fn := range observers {
		fn(pose)
	}
	return true
}

// Stats returns a snapshot of the dispatcher counters.
func (d *IntegrationDispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
