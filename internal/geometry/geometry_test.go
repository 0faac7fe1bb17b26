package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerticalFOV(t *testing.T) {
	t.Parallel()

	t.Run("derives vfov from hfov and aspect ratio", func(t *testing.T) {
		// 80° on a 16:9 frame: 2*atan(tan(40°)*1080/1920)
		vfov := VerticalFOV(80, 1920, 1080)
		assert.InDelta(t, 50.534, vfov, 0.001)
	})

	t.Run("square frame keeps hfov", func(t *testing.T) {
		vfov := VerticalFOV(60, 1000, 1000)
		assert.InDelta(t, 60.0, vfov, 1e-9)
	})

	t.Run("invalid inputs yield zero", func(t *testing.T) {
		assert.Zero(t, VerticalFOV(80, 0, 1080))
		assert.Zero(t, VerticalFOV(80, 1920, 0))
		assert.Zero(t, VerticalFOV(80, -5, -5))
		assert.Zero(t, VerticalFOV(0, 1920, 1080))
		assert.Zero(t, VerticalFOV(-10, 1920, 1080))
		assert.Zero(t, VerticalFOV(180, 1920, 1080))
		assert.Zero(t, VerticalFOV(200, 1920, 1080))
	})
}

func TestAngularOffsets(t *testing.T) {
	t.Parallel()

	const hfov = 80.0
	vfov := VerticalFOV(hfov, 1920, 1080)

	t.Run("centered detection has zero offset", func(t *testing.T) {
		o := AngularOffsets(960, 540, 1920, 1080, hfov, vfov)
		assert.Zero(t, o.AngleX)
		assert.Zero(t, o.AngleY)
		assert.Zero(t, o.NormalizedX)
		assert.Zero(t, o.NormalizedY)
	})

	t.Run("offset right of center", func(t *testing.T) {
		o := AngularOffsets(1000, 500, 1920, 1080, hfov, vfov)
		assert.InDelta(t, 1.67, o.AngleXDeg, 0.01)
		assert.Less(t, o.AngleYDeg, 0.0)
		assert.InDelta(t, 40, o.PixelOffsetX, 1e-9)
		assert.InDelta(t, -40, o.PixelOffsetY, 1e-9)
	})

	t.Run("top left corner maps to half the fov", func(t *testing.T) {
		o := AngularOffsets(0, 0, 1920, 1080, hfov, vfov)
		assert.InDelta(t, -hfov/2, o.AngleXDeg, 1e-9)
		assert.InDelta(t, -vfov/2, o.AngleYDeg, 1e-9)
		assert.InDelta(t, -1, o.NormalizedX, 1e-9)
		assert.InDelta(t, -1, o.NormalizedY, 1e-9)
	})

	t.Run("degrees and radians fields agree", func(t *testing.T) {
		o := AngularOffsets(1500, 800, 1920, 1080, hfov, vfov)
		assert.InDelta(t, o.AngleX, o.AngleXDeg*math.Pi/180, 1e-12)
		assert.InDelta(t, o.AngleY, o.AngleYDeg*math.Pi/180, 1e-12)
	})

	t.Run("centers outside the frame are not clamped", func(t *testing.T) {
		o := AngularOffsets(2400, 540, 1920, 1080, hfov, vfov)
		assert.Greater(t, o.AngleXDeg, hfov/2)
	})

	t.Run("invalid inputs yield zero result", func(t *testing.T) {
		assert.Equal(t, AngularOffset{}, AngularOffsets(100, 100, 0, 1080, hfov, vfov))
		assert.Equal(t, AngularOffset{}, AngularOffsets(100, 100, 1920, 1080, 0, vfov))
		assert.Equal(t, AngularOffset{}, AngularOffsets(100, 100, 1920, 1080, hfov, 0))
	})
}

func TestAngularSizes(t *testing.T) {
	t.Parallel()

	const hfov = 80.0
	vfov := VerticalFOV(hfov, 1920, 1080)

	t.Run("pixel extent divided by pixel density", func(t *testing.T) {
		s := AngularSizes(40, 30, 1920, 1080, hfov, vfov)
		assert.InDelta(t, 40/(1920/hfov), s.SizeXDeg, 1e-9)
		assert.InDelta(t, 30/(1080/vfov), s.SizeYDeg, 1e-9)
		assert.InDelta(t, s.SizeX, s.SizeXDeg*math.Pi/180, 1e-12)
		assert.InDelta(t, s.SizeY, s.SizeYDeg*math.Pi/180, 1e-12)
	})

	t.Run("full frame tag spans the fov", func(t *testing.T) {
		s := AngularSizes(1920, 1080, 1920, 1080, hfov, vfov)
		assert.InDelta(t, hfov, s.SizeXDeg, 1e-9)
		assert.InDelta(t, vfov, s.SizeYDeg, 1e-9)
	})

	t.Run("invalid inputs yield zero result", func(t *testing.T) {
		assert.Equal(t, AngularSize{}, AngularSizes(40, 30, -1, 1080, hfov, vfov))
		assert.Equal(t, AngularSize{}, AngularSizes(40, 30, 1920, 1080, hfov, -1))
	})
}
