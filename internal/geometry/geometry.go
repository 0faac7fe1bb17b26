// Package geometry converts fiducial detection geometry from image-plane
// pixels into the camera-relative angles carried by LANDING_TARGET reports.
//
// The offset and size conversions use a linear small-angle approximation
// rather than a tangent projection: the normalized pixel offset is scaled
// directly by half the field of view. This is geometrically inexact far off
// boresight but is kept for compatibility with the guidance consumers that
// were tuned against it.
package geometry

import (
	"math"

	"github.com/rmackay9/blueos-precision-landing/internal/monitoring"
)

// AngularOffset describes where a detection sits relative to the camera
// boresight. Angles follow image conventions: positive X right, positive Y
// down.
type AngularOffset struct {
	AngleX       float64 // radians
	AngleY       float64 // radians
	AngleXDeg    float64
	AngleYDeg    float64
	NormalizedX  float64 // -1..1 across the image width
	NormalizedY  float64 // -1..1 across the image height
	PixelOffsetX float64
	PixelOffsetY float64
}

// AngularSize is the apparent angular extent of a detection.
type AngularSize struct {
	SizeX    float64 // radians
	SizeY    float64 // radians
	SizeXDeg float64
	SizeYDeg float64
}

// VerticalFOV derives the vertical field of view from the horizontal field
// of view and the frame aspect ratio:
//
//	tan(vfov/2) = tan(hfov/2) * (height/width)
//
// Invalid inputs (non-positive dimensions, hfov outside (0,180), or a result
// outside (0,180)) yield 0.0 with a logged reason; the function never panics.
func VerticalFOV(hfovDeg float64, width, height int) float64 {
	if width <= 0 {
		monitoring.Logf("geometry: invalid image width: %d", width)
		return 0.0
	}
	if height <= 0 {
		monitoring.Logf("geometry: invalid image height: %d", height)
		return 0.0
	}
	if hfovDeg <= 0 || hfovDeg >= 180 {
		monitoring.Logf("geometry: invalid horizontal FOV: %.2f° (must be between 0 and 180)", hfovDeg)
		return 0.0
	}

	hfovRad := hfovDeg * math.Pi / 180
	aspect := float64(height) / float64(width)
	vfovDeg := 2 * math.Atan(math.Tan(hfovRad/2)*aspect) * 180 / math.Pi

	if vfovDeg <= 0 || vfovDeg >= 180 {
		monitoring.Logf("geometry: calculated invalid vertical FOV: %.2f°", vfovDeg)
		return 0.0
	}
	return vfovDeg
}

// AngularOffsets converts a detection center to angular offsets from the
// image center. Offsets are NOT clamped to the field of view: a center
// outside the nominal frame still produces a (possibly large) offset.
// Invalid inputs yield an all-zero result with a logged reason.
func AngularOffsets(centerX, centerY float64, width, height int, hfovDeg, vfovDeg float64) AngularOffset {
	if width <= 0 || height <= 0 {
		monitoring.Logf("geometry: invalid image dimensions: %dx%d", width, height)
		return AngularOffset{}
	}
	if hfovDeg <= 0 || vfovDeg <= 0 {
		monitoring.Logf("geometry: invalid FOV values: hfov=%.2f° vfov=%.2f°", hfovDeg, vfovDeg)
		return AngularOffset{}
	}

	pixelOffsetX := centerX - float64(width)/2
	pixelOffsetY := centerY - float64(height)/2

	normalizedX := pixelOffsetX / (float64(width) / 2)
	normalizedY := pixelOffsetY / (float64(height) / 2)

	// Small-angle: angle ≈ tan(angle) ≈ normalized offset * (fov/2).
	angleX := normalizedX * (hfovDeg / 2) * math.Pi / 180
	angleY := normalizedY * (vfovDeg / 2) * math.Pi / 180

	return AngularOffset{
		AngleX:       angleX,
		AngleY:       angleY,
		AngleXDeg:    angleX * 180 / math.Pi,
		AngleYDeg:    angleY * 180 / math.Pi,
		NormalizedX:  normalizedX,
		NormalizedY:  normalizedY,
		PixelOffsetX: pixelOffsetX,
		PixelOffsetY: pixelOffsetY,
	}
}

// AngularSizes converts a detection's pixel extent to angular size by
// dividing by the pixels-per-degree density of the frame. Invalid inputs
// yield an all-zero result with a logged reason.
func AngularSizes(tagWidthPx, tagHeightPx float64, width, height int, hfovDeg, vfovDeg float64) AngularSize {
	if width <= 0 || height <= 0 {
		monitoring.Logf("geometry: invalid image dimensions: %dx%d", width, height)
		return AngularSize{}
	}
	if hfovDeg <= 0 || vfovDeg <= 0 {
		monitoring.Logf("geometry: invalid FOV values: hfov=%.2f° vfov=%.2f°", hfovDeg, vfovDeg)
		return AngularSize{}
	}

	pixelsPerDegreeH := float64(width) / hfovDeg
	pixelsPerDegreeV := float64(height) / vfovDeg

	sizeXDeg := tagWidthPx / pixelsPerDegreeH
	sizeYDeg := tagHeightPx / pixelsPerDegreeV

	return AngularSize{
		SizeX:    sizeXDeg * math.Pi / 180,
		SizeY:    sizeYDeg * math.Pi / 180,
		SizeXDeg: sizeXDeg,
		SizeYDeg: sizeYDeg,
	}
}
