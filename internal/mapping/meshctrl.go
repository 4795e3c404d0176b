package mapping

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/surface.report/internal/mapping/mesh"
	"github.com/banshee-data/surface.report/internal/mapping/publish"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

// CycleState is the mesh controller's observable state. The controller is
// reactive: it re-enters StateIdle after every cycle.
type CycleState int32

const (
	// StateIdle means no mesh cycle is running.
	StateIdle CycleState = iota
	// StateRegenerating means extraction over the map is in progress.
	StateRegenerating
	// StatePublishing means the extracted mesh is being serialized,
	// published, and possibly exported.
	StatePublishing
)

func (s CycleState) String() string {
	switch s {
	case StateRegenerating:
		return "regenerating"
	case StatePublishing:
		return "publishing"
	default:
		return "idle"
	}
}

// MeshExtractor regenerates the mesh layer from the map. Implemented by
// mesh.Extractor. Called under the shared map lock.
type MeshExtractor interface {
	Generate(onlyUpdatedBlocks, clearUpdatedFlag bool)
}

// MeshSink receives finished mesh updates. Implemented by
// publish.Publisher.
type MeshSink interface {
	PublishMesh(u *publish.MeshUpdate)
}

// MeshExporter writes the mesh to a file. Implemented with
// mesh.ExportPLY.
type MeshExporter func(l *mesh.Layer, mode mesh.ColorMode, path string) error

// MeshUpdateController runs mesh regeneration cycles against the map. An
// incremental cycle (periodic timer) re-extracts only updated blocks and
// publishes; a full cycle (service request) re-extracts every block,
// publishes, and additionally exports to a file when one is configured.
//
// Cycles are strictly serialized: a trigger arriving while a cycle runs
// blocks until the controller is idle again. Extraction holds the shared
// map lock; publishing and export happen outside it.
type MeshUpdateController struct {
	mapMu     *sync.Mutex
	extractor MeshExtractor
	meshLayer *mesh.Layer
	sink      MeshSink
	exporter  MeshExporter
	store     RunStore

	colorMode  mesh.ColorMode
	worldFrame string
	exportPath string
	verbose    bool

	cycleMu sync.Mutex
	state   atomic.Int32
}

// MeshControllerConfig wires a MeshUpdateController.
type MeshControllerConfig struct {
	MapMu     *sync.Mutex
	Extractor MeshExtractor
	MeshLayer *mesh.Layer
	Sink      MeshSink
	// Exporter defaults to mesh.ExportPLY when nil.
	Exporter MeshExporter
	// Store is optional; nil disables run recording.
	Store RunStore

	ColorMode  mesh.ColorMode
	WorldFrame string
	// ExportPath enables file export on full cycles when non-empty.
	ExportPath string
	Verbose    bool
}

// NewMeshUpdateController creates a controller in StateIdle.
func NewMeshUpdateController(cfg MeshControllerConfig) *MeshUpdateController {
	exporter := cfg.Exporter
	if exporter == nil {
		exporter = mesh.ExportPLY
	}
	return &MeshUpdateController{
		mapMu:      cfg.MapMu,
		extractor:  cfg.Extractor,
		meshLayer:  cfg.MeshLayer,
		sink:       cfg.Sink,
		exporter:   exporter,
		store:      cfg.Store,
		colorMode:  cfg.ColorMode,
		worldFrame: cfg.WorldFrame,
		exportPath: cfg.ExportPath,
		verbose:    cfg.Verbose,
	}
}

// State returns the controller's current state.
func (c *MeshUpdateController) State() CycleState {
	return CycleState(c.state.Load())
}

// UpdateMesh runs one incremental cycle: dirty blocks only, publish, no
// export. Always publishes, even when no block was dirty.
func (c *MeshUpdateController) UpdateMesh() {
	c.runCycle(false)
}

// GenerateMesh runs one full cycle: every block, publish, then export if
// a path is configured. Returns overall success; a publish with a failed
// export reports false without reverting the published mesh.
func (c *MeshUpdateController) GenerateMesh() bool {
	return c.runCycle(true)
}

func (c *MeshUpdateController) runCycle(full bool) bool {
	c.cycleMu.Lock()
	defer func() {
		c.state.Store(int32(StateIdle))
		c.cycleMu.Unlock()
	}()

	kind := "incremental"
	if full {
		kind = "full"
	}
	if c.verbose {
		monitoring.Logf("mapping: %s mesh cycle starting", kind)
	}
	started := time.Now()

	c.state.Store(int32(StateRegenerating))
	c.mapMu.Lock()
	c.extractor.Generate(!full, true)
	c.mapMu.Unlock()

	c.state.Store(int32(StatePublishing))
	update := publish.BuildMeshUpdate(c.meshLayer, c.colorMode, c.worldFrame, started.UnixNano())
	c.sink.PublishMesh(update)

	ok := true
	var exported *bool
	if full && c.exportPath != "" {
		err := c.exporter(c.meshLayer, c.colorMode, c.exportPath)
		success := err == nil
		exported = &success
		if err != nil {
			monitoring.Logf("mapping: mesh export to %s failed: %v", c.exportPath, err)
			ok = false
		} else if c.verbose {
			monitoring.Logf("mapping: exported mesh to %s", c.exportPath)
		}
	}

	elapsed := time.Since(started)
	if c.verbose {
		monitoring.Logf("mapping: %s mesh cycle done in %s (%d blocks, %d vertices)",
			kind, elapsed, c.meshLayer.NumBlocks(), update.VertexCount)
	}
	c.recordRun(&MeshRun{
		Kind:      kind,
		StartedAt: started,
		Duration:  elapsed,
		Blocks:    c.meshLayer.NumBlocks(),
		Vertices:  update.VertexCount,
		Published: true,
		Exported:  exported,
	})
	return ok
}

func (c *MeshUpdateController) recordRun(run *MeshRun) {
	if c.store == nil {
		return
	}
	if _, err := c.store.InsertMeshRun(run); err != nil {
		monitoring.Logf("mapping: recording mesh run: %v", err)
	}
}

// Run drives incremental cycles on a fixed interval until the context is
// cancelled. A non-positive interval disables the timer and returns
// immediately. An in-progress cycle always runs to completion; only
// future firings stop on cancellation.
func (c *MeshUpdateController) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.UpdateMesh()
		}
	}
}
