package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/surface.report/internal/mapping/voxel"
)

// ColorMode selects how published and exported meshes are shaded.
type ColorMode int

const (
	// ColorModeColor uses the colors accumulated in the voxels.
	ColorModeColor ColorMode = iota
	// ColorModeHeight maps vertex height to a rainbow ramp.
	ColorModeHeight
	// ColorModeNormals maps the surface normal to RGB.
	ColorModeNormals
	// ColorModeLambert shades gray with a fixed directional light.
	ColorModeLambert
	// ColorModeLambertColor applies the same shading to the voxel colors.
	ColorModeLambertColor
	// ColorModeGray renders a uniform gray.
	ColorModeGray
)

// ParseColorMode maps a configuration string to a ColorMode. Unrecognized
// values fall back to gray.
func ParseColorMode(s string) ColorMode {
	switch s {
	case "color", "colors":
		return ColorModeColor
	case "height":
		return ColorModeHeight
	case "normals":
		return ColorModeNormals
	case "lambert":
		return ColorModeLambert
	case "lambert_color":
		return ColorModeLambertColor
	default:
		return ColorModeGray
	}
}

func (m ColorMode) String() string {
	switch m {
	case ColorModeColor:
		return "color"
	case ColorModeHeight:
		return "height"
	case ColorModeNormals:
		return "normals"
	case ColorModeLambert:
		return "lambert"
	case ColorModeLambertColor:
		return "lambert_color"
	default:
		return "gray"
	}
}

// lightDir is the fixed light direction for lambert shading.
var lightDir = r3.Unit(r3.Vec{X: 0.3, Y: 0.3, Z: 1})

// Shader colors vertices for one mode over a given mesh extent.
type Shader struct {
	mode       ColorMode
	minZ, maxZ float64
}

// NewShader builds a shader for the layer's current vertical extent.
// Height shading degrades to gray on an empty or flat mesh.
func NewShader(mode ColorMode, l *Layer) Shader {
	minZ, maxZ, _ := l.Bounds()
	return Shader{mode: mode, minZ: minZ, maxZ: maxZ}
}

// Shade returns the display color for a vertex under the shader's mode.
func (s Shader) Shade(v Vertex) voxel.Color {
	switch s.mode {
	case ColorModeColor:
		return v.Color
	case ColorModeHeight:
		span := s.maxZ - s.minZ
		if span <= 0 {
			return voxel.Gray()
		}
		return rainbow((v.Position.Z - s.minZ) / span)
	case ColorModeNormals:
		return voxel.Color{
			R: unitToByte(v.Normal.X),
			G: unitToByte(v.Normal.Y),
			B: unitToByte(v.Normal.Z),
			A: 255,
		}
	case ColorModeLambert:
		l := lambert(v.Normal)
		return voxel.Color{R: l, G: l, B: l, A: 255}
	case ColorModeLambertColor:
		l := float64(lambert(v.Normal)) / 255.0
		return voxel.Color{
			R: uint8(float64(v.Color.R) * l),
			G: uint8(float64(v.Color.G) * l),
			B: uint8(float64(v.Color.B) * l),
			A: v.Color.A,
		}
	default:
		return voxel.Gray()
	}
}

// rainbow maps t in [0,1] to a blue-to-red ramp.
func rainbow(t float64) voxel.Color {
	t = math.Min(1, math.Max(0, t))
	return voxel.Color{
		R: uint8(255 * t),
		G: uint8(255 * (1 - math.Abs(2*t-1))),
		B: uint8(255 * (1 - t)),
		A: 255,
	}
}

// lambert computes the diffuse intensity for a normal with a small
// ambient floor.
func lambert(n r3.Vec) uint8 {
	d := r3.Dot(n, lightDir)
	if d < 0 {
		d = 0
	}
	const ambient = 0.2
	v := ambient + (1-ambient)*d
	return uint8(255 * v)
}

// unitToByte maps a [-1,1] component to [0,255].
func unitToByte(x float64) uint8 {
	x = math.Min(1, math.Max(-1, x))
	return uint8(127.5 * (x + 1))
}
