package orientation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// rotated returns the quaternion for a rotation of deg degrees about the
// given unit axis.
func rotated(xAxis, yAxis, zAxis, deg float64) Quaternion {
	half := deg * math.Pi / 360
	s := math.Sin(half)
	return Quaternion{W: math.Cos(half), X: xAxis * s, Y: yAxis * s, Z: zAxis * s}
}

// compose is Hamilton-product composition a*b.
func compose(a, b Quaternion) Quaternion {
	return Quaternion{
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y,
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X,
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W,
	}
}

func TestAngleBetween(t *testing.T) {
	t.Parallel()

	t.Run("identical orientations have zero angle", func(t *testing.T) {
		assert.InDelta(t, 0, AngleBetween(Identity, Identity), 1e-9)
		assert.InDelta(t, 0, AngleBetween(Nadir, Nadir), 1e-9)
	})

	t.Run("negated quaternion is the same orientation", func(t *testing.T) {
		neg := Quaternion{W: -Nadir.W, X: -Nadir.X, Y: -Nadir.Y, Z: -Nadir.Z}
		assert.InDelta(t, 0, AngleBetween(Nadir, neg), 1e-9)
	})

	t.Run("recovers a known rotation angle", func(t *testing.T) {
		for _, deg := range []float64{1, 15, 45, 90, 179} {
			q := compose(Nadir, rotated(1, 0, 0, deg))
			assert.InDelta(t, deg, AngleBetween(Nadir, q)*180/math.Pi, 1e-6)
		}
	})

	t.Run("symmetric in its arguments", func(t *testing.T) {
		q := rotated(0, 1, 0, 30)
		assert.InDelta(t, AngleBetween(Nadir, q), AngleBetween(q, Nadir), 1e-12)
	})
}

func TestAlignedWithin(t *testing.T) {
	t.Parallel()

	t.Run("small deviation passes the gate", func(t *testing.T) {
		q := compose(Nadir, rotated(1, 0, 0, 5))
		assert.True(t, AlignedWithin(q, Nadir, 10))
	})

	t.Run("large deviation fails the gate", func(t *testing.T) {
		q := compose(Nadir, rotated(1, 0, 0, 15))
		assert.False(t, AlignedWithin(q, Nadir, 10))
	})

	t.Run("boundary is inclusive", func(t *testing.T) {
		q := compose(Nadir, rotated(1, 0, 0, 10))
		assert.True(t, AlignedWithin(q, Nadir, 10+1e-9))
	})
}

func TestNormalized(t *testing.T) {
	t.Parallel()

	q := Quaternion{W: 2, X: 0, Y: 0, Z: 0}.Normalized()
	assert.InDelta(t, 1, q.Norm(), 1e-12)
	assert.InDelta(t, 1, q.W, 1e-12)

	// Nadir is already unit length
	assert.InDelta(t, 1, Nadir.Norm(), 1e-12)
}
