package landing

import (
	"context"
	"fmt"
	"time"

	"github.com/rmackay9/blueos-precision-landing/internal/timeutil"
)

// DefaultProbeTimeout bounds a single-shot stream probe. Camera pipelines can
// take tens of seconds to negotiate, so this is deliberately generous.
const DefaultProbeTimeout = 60 * time.Second

// ProbeResult is the outcome of a single-shot stream probe.
type ProbeResult struct {
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	Width      int           `json:"width,omitempty"`
	Height     int           `json:"height,omitempty"`
	Detection  *TagDetection `json:"detection,omitempty"`
	Elapsed    time.Duration `json:"-"`
	ElapsedSec float64       `json:"elapsed_seconds"`
}

// Probe opens the stream, captures one frame, runs one detection pass and
// closes the stream again. It operates on its own FrameSource and never
// touches a running loop's state, so it is safe to call at any time.
func Probe(ctx context.Context, src FrameSource, det TagDetector, url string, params DetectorParams, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	clock := timeutil.RealClock{}
	start := clock.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	finish := func(r ProbeResult) ProbeResult {
		r.Elapsed = clock.Since(start)
		r.ElapsedSec = r.Elapsed.Seconds()
		return r
	}

	if err := src.Open(ctx, url); err != nil {
		return finish(ProbeResult{Message: fmt.Sprintf("failed to open video stream: %v", err)})
	}
	defer src.Close()

	// A freshly opened pipeline may need several read attempts before the
	// first decodable frame arrives.
	var frame *Frame
	for frame == nil {
		var err error
		frame, err = src.Read(ctx)
		if err != nil {
			return finish(ProbeResult{Message: fmt.Sprintf("unable to read frame from stream: %v", err)})
		}
		if frame == nil {
			select {
			case <-ctx.Done():
				return finish(ProbeResult{Message: "timed out waiting for a frame"})
			case <-clock.After(100 * time.Millisecond):
			}
		}
	}

	result := ProbeResult{
		Success: true,
		Width:   frame.Width,
		Height:  frame.Height,
		Message: fmt.Sprintf("stream connection successful (%dx%d)", frame.Width, frame.Height),
	}

	if det != nil {
		d, err := det.Detect(ctx, frame, params)
		if err != nil {
			// Detection is best-effort in a probe: the stream itself worked.
			result.Message = fmt.Sprintf("stream connection successful (%dx%d); detection failed: %v",
				frame.Width, frame.Height, err)
		} else {
			result.Detection = d
		}
	}

	return finish(result)
}
