package voxel

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/tfbuffer"
)

// Method selects one of the closed set of integration strategies. The
// strategy is fixed at construction time.
type Method int

const (
	// MethodSimple casts one ray per input point.
	MethodSimple Method = iota
	// MethodMerged bundles points landing in the same voxel into one ray
	// carrying their combined weight.
	MethodMerged
	// MethodMergedDiscard bundles like MethodMerged but discards the extra
	// points instead of accumulating their weight (anti-grazing).
	MethodMergedDiscard
	// MethodFast subsamples the input and stops rays that keep revisiting
	// voxels already touched this frame.
	MethodFast
)

// ParseMethod maps a configuration string to a Method. Unrecognized values
// fall back to MethodSimple.
func ParseMethod(s string) Method {
	switch s {
	case "merged":
		return MethodMerged
	case "merged_discard":
		return MethodMergedDiscard
	case "fast":
		return MethodFast
	default:
		return MethodSimple
	}
}

func (m Method) String() string {
	switch m {
	case MethodMerged:
		return "merged"
	case MethodMergedDiscard:
		return "merged_discard"
	case MethodFast:
		return "fast"
	default:
		return "simple"
	}
}

// IntegratorConfig holds the ray-casting parameters shared by all
// integration methods.
type IntegratorConfig struct {
	// TruncationDistance bounds the signed distance stored in a voxel.
	TruncationDistance float64
	// MaxWeight caps the accumulated weight of a voxel.
	MaxWeight float64
	// UseConstWeight applies a weight of 1 per observation instead of the
	// default 1/distance^2 falloff.
	UseConstWeight bool
	// AllowClear carves free space along the full ray from the sensor
	// origin, not just the truncation band around the surface.
	AllowClear bool
	// MinRayLength and MaxRayLength bound the usable ray lengths in meters.
	MinRayLength float64
	MaxRayLength float64
	// StartVoxelSubsamplingFactor controls MethodFast input subsampling:
	// roughly one point is kept per factor voxel-widths of spacing.
	StartVoxelSubsamplingFactor float64
	// MaxConsecutiveRayCollisions stops a MethodFast ray after this many
	// consecutive steps through voxels already touched this frame.
	MaxConsecutiveRayCollisions int
}

// DefaultIntegratorConfig returns the integration defaults for a given
// voxel size. The truncation distance defaults to four voxels.
func DefaultIntegratorConfig(voxelSize float64) IntegratorConfig {
	return IntegratorConfig{
		TruncationDistance:          voxelSize * 4,
		MaxWeight:                   10000.0,
		UseConstWeight:              false,
		AllowClear:                  true,
		MinRayLength:                0.1,
		MaxRayLength:                5.0,
		StartVoxelSubsamplingFactor: 2.0,
		MaxConsecutiveRayCollisions: 2,
	}
}

// Integrator writes sensor point clouds into a TSDF layer. It is not safe
// for concurrent use; the owner serializes Integrate calls against mesh
// extraction under the shared map lock.
type Integrator struct {
	method Method
	cfg    IntegratorConfig
	layer  *Layer
}

// NewIntegrator creates an integrator over layer using the given strategy.
func NewIntegrator(method Method, cfg IntegratorConfig, layer *Layer) *Integrator {
	return &Integrator{method: method, cfg: cfg, layer: layer}
}

// Method returns the configured integration strategy.
func (in *Integrator) Method() Method { return in.method }

// Integrate casts rays from the pose origin through every point and folds
// the observations into the layer. Points are expected in the sensor
// frame; pose maps them into the layer's world frame. When freespaceOnly
// is set the points carry no surface information: only voxels beyond the
// truncation band in front of the point are updated.
func (in *Integrator) Integrate(pose tfbuffer.Transform, points []r3.Vec, colors []Color, freespaceOnly bool) {
	switch in.method {
	case MethodMerged, MethodMergedDiscard:
		in.integrateMerged(pose, points, colors, freespaceOnly)
	case MethodFast:
		in.integrateFast(pose, points, colors, freespaceOnly)
	default:
		in.integrateSimple(pose, points, colors, freespaceOnly)
	}
}

func (in *Integrator) integrateSimple(pose tfbuffer.Transform, points []r3.Vec, colors []Color, freespaceOnly bool) {
	origin := pose.Translation
	for i, p := range points {
		in.integrateRay(origin, pose.Apply(p), colorAt(colors, i), 1, freespaceOnly, nil, 0)
	}
}

func (in *Integrator) integrateMerged(pose tfbuffer.Transform, points []r3.Vec, colors []Color, freespaceOnly bool) {
	origin := pose.Translation

	type bundle struct {
		sum   r3.Vec
		color Color
		count int
	}
	bundles := make(map[GlobalVoxelIndex]*bundle)
	order := make([]GlobalVoxelIndex, 0, len(points))

	for i, p := range points {
		world := pose.Apply(p)
		key := in.layer.GlobalVoxelIndexOf(world)
		b, ok := bundles[key]
		if !ok {
			bundles[key] = &bundle{sum: world, color: colorAt(colors, i), count: 1}
			order = append(order, key)
			continue
		}
		if in.method == MethodMergedDiscard {
			// Anti-grazing: keep only the first point per voxel.
			continue
		}
		b.sum = r3.Add(b.sum, world)
		b.count++
	}

	for _, key := range order {
		b := bundles[key]
		rep := r3.Scale(1/float64(b.count), b.sum)
		in.integrateRay(origin, rep, b.color, float32(b.count), freespaceOnly, nil, 0)
	}
}

func (in *Integrator) integrateFast(pose tfbuffer.Transform, points []r3.Vec, colors []Color, freespaceOnly bool) {
	origin := pose.Translation

	// Keep roughly one start point per subsampled voxel.
	startVoxel := in.layer.VoxelSize() * in.cfg.StartVoxelSubsamplingFactor
	if startVoxel <= 0 {
		startVoxel = in.layer.VoxelSize()
	}
	seenStarts := make(map[GlobalVoxelIndex]struct{}, len(points))
	touched := make(map[GlobalVoxelIndex]struct{})

	for i, p := range points {
		world := pose.Apply(p)
		start := GlobalVoxelIndex{
			X: int64(math.Floor(world.X / startVoxel)),
			Y: int64(math.Floor(world.Y / startVoxel)),
			Z: int64(math.Floor(world.Z / startVoxel)),
		}
		if _, ok := seenStarts[start]; ok {
			continue
		}
		seenStarts[start] = struct{}{}
		in.integrateRay(origin, world, colorAt(colors, i), 1, freespaceOnly, touched, in.cfg.MaxConsecutiveRayCollisions)
	}
}

// integrateRay folds a single observation ray into the layer. weightScale
// multiplies the per-observation weight (used by merged bundling). When
// touched is non-nil the ray stops after maxCollisions consecutive steps
// through already-touched voxels.
func (in *Integrator) integrateRay(origin, point r3.Vec, c Color, weightScale float32, freespaceOnly bool, touched map[GlobalVoxelIndex]struct{}, maxCollisions int) {
	dir := r3.Sub(point, origin)
	dist := r3.Norm(dir)
	if dist < in.cfg.MinRayLength {
		return
	}
	dir = r3.Scale(1/dist, dir)
	clearing := freespaceOnly
	if dist > in.cfg.MaxRayLength {
		if !in.cfg.AllowClear {
			return
		}
		// Out-of-range return: usable only as a clearing ray up to the
		// range limit.
		dist = in.cfg.MaxRayLength
		clearing = true
	}

	trunc := in.cfg.TruncationDistance
	step := in.layer.VoxelSize()

	// March from the sensor origin (carving enabled) or from the start of
	// the truncation band, out to one truncation distance behind the
	// surface. Clearing rays stop at the front of the band.
	var begin float64
	if in.cfg.AllowClear && !freespaceOnly {
		begin = 0
	} else if freespaceOnly {
		begin = 0
	} else {
		begin = dist - trunc
		if begin < 0 {
			begin = 0
		}
	}
	end := dist + trunc
	if clearing {
		end = dist - trunc
	}

	weight := float32(1)
	if !in.cfg.UseConstWeight {
		w := 1.0 / (dist * dist)
		if w > 1 {
			w = 1
		}
		weight = float32(w)
	}
	weight *= weightScale

	collisions := 0
	var prev GlobalVoxelIndex
	havePrev := false
	for t := begin; t <= end; t += step {
		sample := r3.Add(origin, r3.Scale(t, dir))
		key := in.layer.GlobalVoxelIndexOf(sample)
		if havePrev && key == prev {
			continue
		}
		prev, havePrev = key, true

		if touched != nil {
			if _, ok := touched[key]; ok {
				collisions++
				if maxCollisions > 0 && collisions >= maxCollisions {
					return
				}
				continue
			}
			touched[key] = struct{}{}
			collisions = 0
		}

		sdf := dist - t
		if sdf > trunc {
			sdf = trunc
		}
		if sdf < -trunc {
			continue
		}
		in.updateVoxel(sample, float32(sdf), weight, c, math.Abs(sdf) < trunc)
	}
}

// updateVoxel merges one observation into the voxel containing sample.
// nearSurface gates color blending to the truncation band.
func (in *Integrator) updateVoxel(sample r3.Vec, sdf, weight float32, c Color, nearSurface bool) {
	v, block := in.layer.VoxelAt(sample, true)
	newWeight := v.Weight + weight
	v.Distance = (v.Distance*v.Weight + sdf*weight) / newWeight
	if nearSurface {
		v.Color = blendColor(v.Color, v.Weight, c, weight)
	}
	if limit := float32(in.cfg.MaxWeight); newWeight > limit {
		newWeight = limit
	}
	v.Weight = newWeight
	block.Updated = true
}

func blendColor(a Color, wa float32, b Color, wb float32) Color {
	total := wa + wb
	if total <= 0 {
		return a
	}
	mix := func(x, y uint8) uint8 {
		return uint8((float32(x)*wa + float32(y)*wb) / total)
	}
	return Color{
		R: mix(a.R, b.R),
		G: mix(a.G, b.G),
		B: mix(a.B, b.B),
		A: mix(a.A, b.A),
	}
}

func colorAt(colors []Color, i int) Color {
	if i < len(colors) {
		return colors[i]
	}
	return Gray()
}
