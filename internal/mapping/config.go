package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/surface.report/internal/monitoring"
)

// Config is the mapping service configuration. JSON files hold partial
// configs: omitted fields keep their defaults.
type Config struct {
	// MinTimeBetweenMsgsSec is the per-stream admission interval.
	MinTimeBetweenMsgsSec float64 `json:"min_time_between_msgs_sec"`
	// UseFreespacePointcloud enables the secondary freespace stream.
	UseFreespacePointcloud bool `json:"use_freespace_pointcloud"`
	// UpdateMeshEveryNSec is the incremental mesh timer period; zero
	// disables the timer.
	UpdateMeshEveryNSec float64 `json:"update_mesh_every_n_sec"`
	// ColorMode is one of color|height|normals|lambert|lambert_color|gray.
	ColorMode string `json:"color_mode"`
	// MeshFilename enables PLY export on full mesh cycles when non-empty.
	MeshFilename string `json:"mesh_filename"`
	// MapDirectory restricts save/load service paths to a directory.
	// Empty disables the restriction.
	MapDirectory string `json:"map_directory"`
	// WorldFrame is the target frame for pose resolution and the frame
	// tag on published artifacts.
	WorldFrame string `json:"world_frame"`
	// SliceLevel is the height of the TSDF slice diagnostic.
	SliceLevel float64 `json:"slice_level"`
	// PublishTSDFInfo enables occupied-block diagnostics after each
	// admitted primary frame.
	PublishTSDFInfo bool `json:"publish_tsdf_info"`
	// PublishSlices enables TSDF slice diagnostics after each admitted
	// primary frame.
	PublishSlices bool `json:"publish_slices"`
	// Verbose enables per-frame and per-cycle informational logging.
	Verbose bool `json:"verbose"`

	// Map geometry.
	TSDFVoxelSize     float64 `json:"tsdf_voxel_size"`
	TSDFVoxelsPerSide int     `json:"tsdf_voxels_per_side"`

	// Integrator settings. TruncationDistance zero means four voxels.
	Method             string  `json:"method"`
	TruncationDistance float64 `json:"truncation_distance"`
	MaxWeight          float64 `json:"max_weight"`
	UseConstWeight     bool    `json:"use_const_weight"`
	AllowClear         bool    `json:"allow_clear"`
	MinRayLengthM      float64 `json:"min_ray_length_m"`
	MaxRayLengthM      float64 `json:"max_ray_length_m"`

	// PoseBufferSec is how much transform history the pose buffer keeps.
	PoseBufferSec float64 `json:"pose_buffer_sec"`
}

// DefaultConfig returns the canonical defaults.
func DefaultConfig() *Config {
	return &Config{
		MinTimeBetweenMsgsSec:  0,
		UseFreespacePointcloud: false,
		UpdateMeshEveryNSec:    0,
		ColorMode:              "color",
		MeshFilename:           "",
		WorldFrame:             "world",
		SliceLevel:             0.5,
		PublishTSDFInfo:        false,
		PublishSlices:          false,
		Verbose:                true,
		TSDFVoxelSize:          0.10,
		TSDFVoxelsPerSide:      16,
		Method:                 "merged",
		TruncationDistance:     0,
		MaxWeight:              10000.0,
		UseConstWeight:         false,
		AllowClear:             true,
		MinRayLengthM:          0.1,
		MaxRayLengthM:          5.0,
		PoseBufferSec:          10,
	}
}

// LoadConfig reads a JSON config file over the defaults. Fields omitted
// from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	cfg.Validate()
	return cfg, nil
}

// Validate normalizes invalid settings in place. Voxels per side must be
// a power of two; violations are logged and reset to the default rather
// than failing startup.
func (c *Config) Validate() {
	if !isPowerOfTwo(c.TSDFVoxelsPerSide) {
		monitoring.Logf("mapping: tsdf_voxels_per_side must be a power of 2, setting to default value")
		c.TSDFVoxelsPerSide = DefaultConfig().TSDFVoxelsPerSide
	}
	if c.TSDFVoxelSize <= 0 {
		monitoring.Logf("mapping: tsdf_voxel_size must be positive, setting to default value")
		c.TSDFVoxelSize = DefaultConfig().TSDFVoxelSize
	}
	if c.WorldFrame == "" {
		c.WorldFrame = DefaultConfig().WorldFrame
	}
}

// MinTimeBetweenMsgs returns the admission interval as a Duration.
func (c *Config) MinTimeBetweenMsgs() time.Duration {
	return time.Duration(c.MinTimeBetweenMsgsSec * float64(time.Second))
}

// MeshUpdateInterval returns the incremental timer period; zero means the
// timer is disabled.
func (c *Config) MeshUpdateInterval() time.Duration {
	return time.Duration(c.UpdateMeshEveryNSec * float64(time.Second))
}

// PoseBufferWindow returns the pose history retention window.
func (c *Config) PoseBufferWindow() time.Duration {
	return time.Duration(c.PoseBufferSec * float64(time.Second))
}

// Truncation returns the effective truncation distance: the configured
// value, or four voxels when unset.
func (c *Config) Truncation() float64 {
	if c.TruncationDistance > 0 {
		return c.TruncationDistance
	}
	return c.TSDFVoxelSize * 4
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
