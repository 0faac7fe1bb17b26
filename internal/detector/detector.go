// Package detector locates a fiducial marker in a frame. The Blob detector
// finds the largest dark square-ish region against a lighter background,
// which matches the black border every AprilTag family shares. It reports
// tag id 0; payload decoding is left to detector implementations that carry
// a full fiducial library.
package detector

import (
	"context"
	"math"

	"github.com/rmackay9/blueos-precision-landing/internal/landing"
	"github.com/rmackay9/blueos-precision-landing/internal/timeutil"
)

// Blob is a luminance-threshold fiducial detector. The zero value is ready
// to use.
type Blob struct {
	// MinFill is the minimum fraction of the bounding box the dark region
	// must cover for a match; defaults to 0.25.
	MinFill float64
	// MinSizePx is the minimum bounding-box edge in pixels; defaults to 8.
	MinSizePx int
	// Clock stamps detections; defaults to the wall clock.
	Clock timeutil.Clock
}

// Detect scans the frame for the largest dark region and returns its centre
// and bounding box. A nil detection with nil error means nothing matched.
// Frames must be single-channel luminance; packed RGB frames are reduced
// on the fly.
func (b *Blob) Detect(ctx context.Context, f *landing.Frame, p landing.DetectorParams) (*landing.TagDetection, error) {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var luma func(x, y int) uint8
	switch {
	case len(f.Pixels) >= f.Width*f.Height*3:
		luma = func(x, y int) uint8 {
			i := (y*f.Width + x) * 3
			// integer BT.601 luma
			return uint8((299*int(f.Pixels[i]) + 587*int(f.Pixels[i+1]) + 114*int(f.Pixels[i+2])) / 1000)
		}
	case len(f.Pixels) >= f.Width*f.Height:
		luma = func(x, y int) uint8 { return f.Pixels[y*f.Width+x] }
	default:
		return nil, nil
	}

	// Accuracy trades sampling density for speed: 1.0 visits every pixel,
	// lower values widen the stride.
	stride := 1
	if p.Accuracy > 0 && p.Accuracy < 1 {
		stride = int(math.Round(1 / p.Accuracy))
		if stride < 1 {
			stride = 1
		}
	}

	threshold := b.threshold(f, luma, stride)

	// Track the bounding box and mass of dark samples. A fiducial in view
	// dominates the dark population, so one pass suffices.
	minX, minY := f.Width, f.Height
	maxX, maxY := -1, -1
	var count, sumX, sumY int
	for y := 0; y < f.Height; y += stride {
		for x := 0; x < f.Width; x += stride {
			if luma(x, y) >= threshold {
				continue
			}
			count++
			sumX += x
			sumY += y
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if count == 0 || maxX < 0 {
		return nil, nil
	}

	widthPx := float64(maxX - minX + 1)
	heightPx := float64(maxY - minY + 1)

	minSize := b.MinSizePx
	if minSize == 0 {
		minSize = 8
	}
	if widthPx < float64(minSize) || heightPx < float64(minSize) {
		return nil, nil
	}

	minFill := b.MinFill
	if minFill == 0 {
		minFill = 0.25
	}
	boxSamples := (widthPx / float64(stride)) * (heightPx / float64(stride))
	if boxSamples > 0 && float64(count)/boxSamples < minFill {
		return nil, nil
	}

	clk := b.Clock
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	det := &landing.TagDetection{
		ID:         0,
		CenterX:    float64(sumX) / float64(count),
		CenterY:    float64(sumY) / float64(count),
		WidthPx:    widthPx,
		HeightPx:   heightPx,
		DetectedAt: clk.Now(),
	}
	if p.TargetID >= 0 && p.TargetID != det.ID {
		return nil, nil
	}
	return det, nil
}

// threshold picks a cut between dark and light pixels at the midpoint of the
// sampled luminance range, floored so a uniformly dark frame never matches
// everything.
func (b *Blob) threshold(f *landing.Frame, luma func(x, y int) uint8, stride int) uint8 {
	lo, hi := uint8(255), uint8(0)
	for y := 0; y < f.Height; y += stride * 4 {
		for x := 0; x < f.Width; x += stride * 4 {
			v := luma(x, y)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if hi-lo < 64 {
		// not enough contrast for a printed marker
		return 0
	}
	return lo + (hi-lo)/2
}
