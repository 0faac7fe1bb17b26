// Package orientation holds the quaternion math used to gate guidance on the
// camera gimbal's pointing direction.
package orientation

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quaternion is a unit rotation quaternion in w, x, y, z order.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Nadir is the gimbal orientation with the camera pointed straight down,
// used as the gating reference.
var Nadir = Quaternion{W: math.Sqrt2 / 2, X: 0, Y: -math.Sqrt2 / 2, Z: 0}

// Identity is the no-rotation quaternion, used as the placeholder target
// orientation in outbound reports.
var Identity = Quaternion{W: 1}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// Norm returns the quaternion magnitude.
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.number())
}

// Normalized returns q scaled to unit magnitude. The zero quaternion is
// returned unchanged.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n == 0 {
		return q
	}
	s := quat.Scale(1/n, q.number())
	return Quaternion{W: s.Real, X: s.Imag, Y: s.Jmag, Z: s.Kmag}
}

// AngleBetween returns the rotation angle in radians separating two unit
// quaternions:
//
//	angle = 2 * acos(clamp(|dot(a,b)|, -1, 1))
//
// The absolute value of the dot product treats q and -q as the same rotation
// (double-cover equivalence). Deterministic and symmetric in its arguments.
func AngleBetween(a, b Quaternion) float64 {
	// Re(conj(a) * b) is the 4-dimensional dot product of a and b.
	dot := quat.Mul(quat.Conj(a.number()), b.number()).Real
	dot = math.Abs(dot)
	if dot > 1 {
		dot = 1
	}
	return 2 * math.Acos(dot)
}

// AlignedWithin reports whether q deviates from ref by at most maxDeg
// degrees of rotation.
func AlignedWithin(q, ref Quaternion, maxDeg float64) bool {
	return AngleBetween(q, ref) <= maxDeg*math.Pi/180
}
