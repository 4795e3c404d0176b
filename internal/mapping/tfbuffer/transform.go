package tfbuffer

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid transform from a source coordinate frame into a
// target coordinate frame. Rotation is a unit quaternion applied before
// the translation.
type Transform struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// Apply transforms a point from the source frame into the target frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(rotate(t.Rotation, p), t.Translation)
}

// Mul composes two transforms: (t.Mul(u)).Apply(p) == t.Apply(u.Apply(p)).
func (t Transform) Mul(u Transform) Transform {
	return Transform{
		Rotation:    quat.Mul(t.Rotation, u.Rotation),
		Translation: r3.Add(rotate(t.Rotation, u.Translation), t.Translation),
	}
}

// Inverse returns the transform mapping target-frame points back into the
// source frame.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	return Transform{
		Rotation:    inv,
		Translation: r3.Scale(-1, rotate(inv, t.Translation)),
	}
}

// Normalized returns the transform with its rotation renormalized to unit
// length. A zero rotation normalizes to identity.
func (t Transform) Normalized() Transform {
	n := quat.Abs(t.Rotation)
	if n == 0 {
		t.Rotation = quat.Number{Real: 1}
		return t
	}
	t.Rotation = quat.Scale(1/n, t.Rotation)
	return t
}

// interpolate blends two transforms at alpha in [0,1] using normalized
// linear interpolation on the shortest rotation arc.
func interpolate(a, b Transform, alpha float64) Transform {
	qa, qb := a.Rotation, b.Rotation
	// Take the shortest arc between the two rotations.
	if dot(qa, qb) < 0 {
		qb = quat.Scale(-1, qb)
	}
	out := Transform{
		Rotation:    quat.Add(quat.Scale(1-alpha, qa), quat.Scale(alpha, qb)),
		Translation: r3.Add(r3.Scale(1-alpha, a.Translation), r3.Scale(alpha, b.Translation)),
	}
	return out.Normalized()
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// rotate applies a unit quaternion rotation to a vector via q v q*.
func rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}
