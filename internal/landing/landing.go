// Package landing implements the precision-landing control loop: it drives
// frame acquisition, gimbal-orientation gating, fiducial detection and
// target-report dispatch, with stall recovery and adaptive pacing.
//
// The loop consumes its collaborators (frame source, tag detector,
// orientation monitor, command gateway, lens corrector) through the narrow
// interfaces defined here; video decode, the detection algorithm, distortion
// math and transport encoding all live behind them.
package landing

import (
	"context"
	"errors"
	"time"

	"github.com/rmackay9/blueos-precision-landing/internal/orientation"
)

var (
	// ErrAlreadyRunning is returned by Start when a loop is active.
	ErrAlreadyRunning = errors.New("precision landing is already running")

	// ErrNotRunning is returned by Stop when no loop is active.
	ErrNotRunning = errors.New("precision landing is not running")
)

// Frame is one decoded video frame. It is owned by a single loop iteration
// and discarded after use.
type Frame struct {
	Width      int
	Height     int
	Pixels     []byte
	TraceID    string
	CapturedAt time.Time
}

// TagDetection is the lowest-id fiducial match found in one frame.
type TagDetection struct {
	ID         int
	CenterX    float64
	CenterY    float64
	WidthPx    float64
	HeightPx   float64
	DetectedAt time.Time
}

// TargetReport is a bearing-only guidance report. Distance is always zero:
// range cannot be recovered from a single camera.
type TargetReport struct {
	TagID    int
	AngleX   float64 // radians
	AngleY   float64 // radians
	Distance float64 // always 0
	SizeX    float64 // radians
	SizeY    float64 // radians
	TimeUsec int64
	SystemID uint8
}

// DetectorParams configure one detection call.
type DetectorParams struct {
	// Family is the fiducial family, e.g. "tag36h11".
	Family string
	// TargetID restricts matches to one tag id; -1 accepts any id.
	TargetID int
	// Accuracy is a speed/accuracy hint in (0,1]; higher is more thorough.
	Accuracy float64
}

// Profile is the immutable per-run configuration read from the settings
// store when a loop starts.
type Profile struct {
	CameraType       string
	StreamURL        string
	HorizontalFOVDeg float64
	Detector         DetectorParams
	GatingEnabled    bool
	LensCorrection   bool
	SystemID         uint8
}

// FrameSource produces frames from a video stream. Implementations must
// tolerate Close followed by Open without a process restart, and Reset
// (close-then-reopen) while running.
type FrameSource interface {
	// Open connects to the stream. Returns an error if the stream is
	// unreachable.
	Open(ctx context.Context, url string) error
	// Read returns the next frame, or (nil, nil) when no frame is ready yet.
	Read(ctx context.Context) (*Frame, error)
	// Reset recycles the capture resource after a stall; the source must be
	// readable again afterwards without a new Open.
	Reset() error
	// Close releases the capture resource. Idempotent.
	Close() error
}

// TagDetector finds the lowest-id fiducial in a frame matching the
// configured filter. A nil detection with nil error means nothing matched.
type TagDetector interface {
	Detect(ctx context.Context, f *Frame, p DetectorParams) (*TagDetection, error)
}

// OrientationMonitor reports the camera gimbal's orientation.
type OrientationMonitor interface {
	// Orientation returns the latest gimbal quaternion for the vehicle, or
	// ok=false when telemetry is unavailable.
	Orientation(ctx context.Context, systemID uint8) (orientation.Quaternion, bool)
	// RequestStream asks the vehicle to emit orientation telemetry at the
	// given rate.
	RequestStream(ctx context.Context, systemID uint8, rateHz float64) error
}

// TargetGateway delivers target reports to the flight-control stack.
type TargetGateway interface {
	SendTargetReport(ctx context.Context, r TargetReport) error
}

// LensCorrector removes lens distortion from a frame. Implementations may
// return the input frame unchanged.
type LensCorrector interface {
	Correct(f *Frame) *Frame
}

// State is the loop lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
