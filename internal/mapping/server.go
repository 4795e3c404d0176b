package mapping

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/surface.report/internal/mapping/mesh"
	"github.com/banshee-data/surface.report/internal/mapping/publish"
	"github.com/banshee-data/surface.report/internal/mapping/voxel"
	"github.com/banshee-data/surface.report/internal/monitoring"
)

// DiagnosticSink receives the optional side-publications emitted after
// admitted primary frames. Implemented by publish.Publisher.
type DiagnosticSink interface {
	MeshSink
	PublishOccupiedBlocks(o *publish.OccupiedBlocks)
	PublishSlice(s *publish.TSDFSlice)
	PublishTSDFPointcloud(pc *publish.TSDFPointcloud)
	PublishSurfacePoints(sp *publish.SurfacePoints)
}

// ServerDeps carries the collaborators a MappingServer needs. Resolver is
// required; the rest default to the concrete in-repo implementations.
type ServerDeps struct {
	Resolver PoseResolver
	// Integrator defaults to a voxel.Integrator built from the config.
	Integrator Integrator
	// Sink defaults to a publish.Publisher with default settings.
	Sink DiagnosticSink
	// Store is optional; nil disables run/snapshot recording.
	Store RunStore
}

// MappingServer is the orchestration layer between sensor input and the
// volumetric map: admission gating, sanitization, pose resolution,
// integration dispatch, mesh cycles, and the map services. One map lock
// serializes all map mutation and extraction.
type MappingServer struct {
	cfg *Config

	mapMu     sync.Mutex
	tsdf      *voxel.Layer
	meshLayer *mesh.Layer

	gate       *IngestionGate
	dispatcher *IntegrationDispatcher
	controller *MeshUpdateController
	sink       DiagnosticSink
	store      RunStore
}

// NewMappingServer builds the pipeline from a config and its
// collaborators.
func NewMappingServer(cfg *Config, deps ServerDeps) *MappingServer {
	cfg.Validate()

	s := &MappingServer{
		cfg:  cfg,
		tsdf: voxel.NewLayer(cfg.TSDFVoxelSize, cfg.TSDFVoxelsPerSide),
	}
	s.meshLayer = mesh.NewLayer(s.tsdf.BlockSize())

	integrator := deps.Integrator
	if integrator == nil {
		icfg := voxel.IntegratorConfig{
			TruncationDistance:          cfg.Truncation(),
			MaxWeight:                   cfg.MaxWeight,
			UseConstWeight:              cfg.UseConstWeight,
			AllowClear:                  cfg.AllowClear,
			MinRayLength:                cfg.MinRayLengthM,
			MaxRayLength:                cfg.MaxRayLengthM,
			StartVoxelSubsamplingFactor: voxel.DefaultIntegratorConfig(cfg.TSDFVoxelSize).StartVoxelSubsamplingFactor,
			MaxConsecutiveRayCollisions: voxel.DefaultIntegratorConfig(cfg.TSDFVoxelSize).MaxConsecutiveRayCollisions,
		}
		integrator = voxel.NewIntegrator(voxel.ParseMethod(cfg.Method), icfg, s.tsdf)
	}
	sink := deps.Sink
	if sink == nil {
		sink = publish.NewPublisher(publish.DefaultConfig())
	}

	s.sink = sink
	s.store = deps.Store
	s.gate = NewIngestionGate(cfg.MinTimeBetweenMsgs())
	s.dispatcher = NewIntegrationDispatcher(deps.Resolver, integrator, cfg.WorldFrame, &s.mapMu, cfg.Verbose)
	s.controller = NewMeshUpdateController(MeshControllerConfig{
		MapMu:      &s.mapMu,
		Extractor:  mesh.NewExtractor(mesh.DefaultExtractorConfig(), s.tsdf, s.meshLayer),
		MeshLayer:  s.meshLayer,
		Sink:       sink,
		Store:      deps.Store,
		ColorMode:  mesh.ParseColorMode(cfg.ColorMode),
		WorldFrame: cfg.WorldFrame,
		ExportPath: cfg.MeshFilename,
		Verbose:    cfg.Verbose,
	})
	return s
}

// Dispatcher exposes the integration dispatcher, e.g. for registering
// pose observers.
func (s *MappingServer) Dispatcher() *IntegrationDispatcher { return s.dispatcher }

// Controller exposes the mesh update controller.
func (s *MappingServer) Controller() *MeshUpdateController { return s.controller }

// Gate exposes the ingestion gate.
func (s *MappingServer) Gate() *IngestionGate { return s.gate }

// InsertPointCloud is the primary-stream ingest callback. The frame is
// gated, then processed synchronously: per-stream frame order is
// integration order. Diagnostic side-publications fire after admitted
// frames when enabled.
func (s *MappingServer) InsertPointCloud(frame *SensorFrame) {
	if !s.gate.Admit(StreamPrimary, frame.Stamp) {
		return
	}
	s.dispatcher.Process(frame, false)

	if s.cfg.PublishTSDFInfo {
		s.publishOccupiedBlocks()
		s.publishVoxelPointcloud()
		s.publishSurfacePoints()
	}
	if s.cfg.PublishSlices {
		s.publishSlice()
	}
	if s.cfg.Verbose {
		s.mapMu.Lock()
		blocks, bytes := s.tsdf.NumAllocatedBlocks(), s.tsdf.MemorySize()
		s.mapMu.Unlock()
		monitoring.Logf("mapping: map has %d blocks, ~%d bytes", blocks, bytes)
	}
}

// InsertFreespacePointCloud is the freespace-stream ingest callback. It
// is a no-op unless the freespace stream is enabled in the config.
func (s *MappingServer) InsertFreespacePointCloud(frame *SensorFrame) {
	if !s.cfg.UseFreespacePointcloud {
		return
	}
	if !s.gate.Admit(StreamFreespace, frame.Stamp) {
		return
	}
	s.dispatcher.Process(frame, true)
}

// GenerateMesh runs a full mesh cycle on demand. Returns overall success
// including export when configured.
func (s *MappingServer) GenerateMesh() bool {
	return s.controller.GenerateMesh()
}

// SaveMap snapshots the volumetric map to a file. The map lock is held
// only while the blocks are encoded; the file write happens outside it.
func (s *MappingServer) SaveMap(path string) bool {
	s.mapMu.Lock()
	blob, err := voxel.EncodeBlocks(s.tsdf)
	blocks := s.tsdf.NumAllocatedBlocks()
	s.mapMu.Unlock()

	success := err == nil
	if err != nil {
		monitoring.Logf("mapping: encoding map: %v", err)
	} else if err := voxel.WriteBlob(path, blob); err != nil {
		monitoring.Logf("mapping: saving map to %s: %v", path, err)
		success = false
	}
	s.recordSnapshot(&MapSnapshot{
		Kind: "save", Path: path, Blocks: blocks, Success: success, At: time.Now(),
	})
	return success
}

// LoadMap restores blocks from a file into the map per the merge
// strategy ("replace" or "merge"). The file is read and decoded outside
// the map lock; only merging the blocks in holds it. Loaded blocks are
// marked updated so the next mesh cycle regenerates them.
func (s *MappingServer) LoadMap(path, strategy string) bool {
	ms := voxel.ParseMergeStrategy(strategy)

	success := true
	loaded := 0
	blob, err := voxel.ReadBlob(path)
	if err == nil {
		var blocks []voxel.Block
		var voxelSize float64
		var voxelsPerSide int
		blocks, voxelSize, voxelsPerSide, err = voxel.DecodeBlocks(blob)
		if err == nil {
			loaded = len(blocks)
			s.mapMu.Lock()
			err = voxel.ApplyBlocks(s.tsdf, blocks, voxelSize, voxelsPerSide, ms)
			s.mapMu.Unlock()
		}
	}
	if err != nil {
		monitoring.Logf("mapping: loading map from %s: %v", path, err)
		success = false
	}
	s.recordSnapshot(&MapSnapshot{
		Kind: "load", Path: path, Strategy: ms.String(),
		Blocks: loaded, Success: success, At: time.Now(),
	})
	return success
}

// Clear removes all map blocks and the derived mesh.
func (s *MappingServer) Clear() {
	s.mapMu.Lock()
	s.tsdf.RemoveAllBlocks()
	s.mapMu.Unlock()
	s.controller.cycleMu.Lock()
	s.meshLayer.Clear()
	s.controller.cycleMu.Unlock()
}

// Run drives the incremental mesh timer (when configured) until the
// context is cancelled.
func (s *MappingServer) Run(ctx context.Context) {
	s.controller.Run(ctx, s.cfg.MeshUpdateInterval())
}

// MapStats is a point-in-time summary of the pipeline state.
type MapStats struct {
	Blocks            int    `json:"blocks"`
	UpdatedBlocks     int    `json:"updated_blocks"`
	MemoryBytes       int    `json:"memory_bytes"`
	MeshBlocks        int    `json:"mesh_blocks"`
	MeshVertices      int    `json:"mesh_vertices"`
	CycleState        string `json:"cycle_state"`
	FramesIntegrated  uint64 `json:"frames_integrated"`
	FramesDroppedPose uint64 `json:"frames_dropped_pose"`
	PrimaryAdmitted   uint64 `json:"primary_admitted"`
	PrimaryRejected   uint64 `json:"primary_rejected"`
}

// Stats snapshots pipeline counters and map size.
func (s *MappingServer) Stats() MapStats {
	s.mapMu.Lock()
	blocks := s.tsdf.NumAllocatedBlocks()
	updated := len(s.tsdf.UpdatedBlockIndices())
	mem := s.tsdf.MemorySize()
	s.mapMu.Unlock()

	// Mesh blocks mutate only inside a cycle, which holds cycleMu.
	s.controller.cycleMu.Lock()
	meshBlocks := s.meshLayer.NumBlocks()
	meshVertices := s.meshLayer.VertexCount()
	s.controller.cycleMu.Unlock()

	ds := s.dispatcher.Stats()
	admitted, rejected := s.gate.Counts(StreamPrimary)
	return MapStats{
		Blocks:            blocks,
		UpdatedBlocks:     updated,
		MemoryBytes:       mem,
		MeshBlocks:        meshBlocks,
		MeshVertices:      meshVertices,
		CycleState:        s.controller.State().String(),
		FramesIntegrated:  ds.FramesIntegrated,
		FramesDroppedPose: ds.FramesDroppedPose,
		PrimaryAdmitted:   admitted,
		PrimaryRejected:   rejected,
	}
}

func (s *MappingServer) recordSnapshot(snap *MapSnapshot) {
	if s.store == nil {
		return
	}
	if _, err := s.store.InsertMapSnapshot(snap); err != nil {
		monitoring.Logf("mapping: recording map snapshot: %v", err)
	}
}

// publishOccupiedBlocks copies the allocated block indices under the map
// lock and publishes outside it.
func (s *MappingServer) publishOccupiedBlocks() {
	s.mapMu.Lock()
	indices := s.tsdf.BlockIndices()
	s.mapMu.Unlock()
	s.sink.PublishOccupiedBlocks(publish.BuildOccupiedBlocks(indices, s.cfg.WorldFrame))
}

// publishVoxelPointcloud publishes every observed voxel center with its
// stored distance. Data is copied under the map lock; the publish happens
// outside it.
func (s *MappingServer) publishVoxelPointcloud() {
	pc := &publish.TSDFPointcloud{FrameID: s.cfg.WorldFrame}
	s.mapMu.Lock()
	for _, idx := range s.tsdf.BlockIndices() {
		b := s.tsdf.Block(idx)
		for i := range b.Voxels {
			v := &b.Voxels[i]
			if v.Weight <= 0 {
				continue
			}
			center := s.tsdf.VoxelCenter(idx, i)
			pc.Points = append(pc.Points, [3]float64{center.X, center.Y, center.Z})
			pc.Distances = append(pc.Distances, v.Distance)
		}
	}
	s.mapMu.Unlock()
	s.sink.PublishTSDFPointcloud(pc)
}

// publishSurfacePoints publishes centers of observed voxels whose
// distance magnitude is below three quarters of a voxel, with their
// blended colors.
func (s *MappingServer) publishSurfacePoints() {
	sp := &publish.SurfacePoints{FrameID: s.cfg.WorldFrame}
	s.mapMu.Lock()
	thresh := float32(0.75 * s.tsdf.VoxelSize())
	for _, idx := range s.tsdf.BlockIndices() {
		b := s.tsdf.Block(idx)
		for i := range b.Voxels {
			v := &b.Voxels[i]
			if v.Weight <= 0 || v.Distance > thresh || v.Distance < -thresh {
				continue
			}
			center := s.tsdf.VoxelCenter(idx, i)
			sp.Points = append(sp.Points, [3]float64{center.X, center.Y, center.Z})
			sp.Colors = append(sp.Colors, v.Color.R, v.Color.G, v.Color.B, v.Color.A)
		}
	}
	s.mapMu.Unlock()
	s.sink.PublishSurfacePoints(sp)
}

// publishSlice samples the voxel row nearest the configured slice level
// in every allocated block and publishes the observed distances.
func (s *MappingServer) publishSlice() {
	level := s.cfg.SliceLevel
	slice := &publish.TSDFSlice{FrameID: s.cfg.WorldFrame, Level: level}

	s.mapMu.Lock()
	n := s.tsdf.VoxelsPerSide()
	for _, idx := range s.tsdf.BlockIndices() {
		origin := s.tsdf.BlockOrigin(idx)
		if level < origin.Z || level >= origin.Z+s.tsdf.BlockSize() {
			continue
		}
		b := s.tsdf.Block(idx)
		vz := int(math.Floor((level - origin.Z) / s.tsdf.VoxelSize()))
		for vy := 0; vy < n; vy++ {
			for vx := 0; vx < n; vx++ {
				v := b.Voxels[vx+n*(vy+n*vz)]
				if v.Weight <= 0 {
					continue
				}
				center := s.tsdf.VoxelCenter(idx, vx+n*(vy+n*vz))
				slice.Points = append(slice.Points, [3]float64{center.X, center.Y, center.Z})
				slice.Distances = append(slice.Distances, v.Distance)
			}
		}
	}
	s.mapMu.Unlock()

	s.sink.PublishSlice(slice)
}
