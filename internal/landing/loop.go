package landing

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmackay9/blueos-precision-landing/internal/geometry"
	"github.com/rmackay9/blueos-precision-landing/internal/orientation"
	"github.com/rmackay9/blueos-precision-landing/internal/timeutil"
)

// Default loop tuning. The sleep pair gives ~10 Hz processing while a target
// is in view and a slow idle poll once nothing has been sent for a while.
const (
	DefaultStallTimeout     = 10 * time.Second
	DefaultRetrySleep       = 10 * time.Millisecond
	DefaultIdleSleep        = 800 * time.Millisecond
	DefaultIdleAfter        = 10 * time.Second
	DefaultStatsInterval    = 5 * time.Second
	DefaultErrorBackoff     = time.Second
	DefaultGatewayTimeout   = 5 * time.Second
	DefaultGateDeviationDeg = 10.0
	DefaultStreamRateHz     = 10.0
)

// Config wires a Loop to its collaborators. Source, Detector and Gateway are
// required; Monitor and Corrector may be nil when gating or lens correction
// is never enabled.
type Config struct {
	Source    FrameSource
	Detector  TagDetector
	Monitor   OrientationMonitor
	Gateway   TargetGateway
	Corrector LensCorrector

	// Clock is optional; if nil, the real clock is used.
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger

	// Tunables; zero values take the defaults above.
	StallTimeout     time.Duration
	RetrySleep       time.Duration
	IdleSleep        time.Duration
	IdleAfter        time.Duration
	StatsInterval    time.Duration
	ErrorBackoff     time.Duration
	GatewayTimeout   time.Duration
	GateDeviationDeg float64
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = DefaultRetrySleep
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = DefaultIdleSleep
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = DefaultIdleAfter
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = DefaultGatewayTimeout
	}
	if c.GateDeviationDeg <= 0 {
		c.GateDeviationDeg = DefaultGateDeviationDeg
	}
}

// Loop is the precision-landing control loop. Exactly one Loop may be
// running per process; Start while running is rejected, never queued.
type Loop struct {
	cfg   Config
	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates a Loop with the given configuration.
func NewLoop(cfg Config) *Loop {
	cfg.applyDefaults()
	return &Loop{cfg: cfg}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Running reports whether the loop is currently running.
func (l *Loop) Running() bool {
	return l.State() == StateRunning
}

// Start validates the frame source and gateway, then launches the loop
// goroutine. It returns ErrAlreadyRunning if a loop is active, or the
// failure reason if the Starting phase could not complete; in that case the
// loop is back at Idle and no goroutine was spawned.
func (l *Loop) Start(p Profile) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return ErrAlreadyRunning
	}

	l.cfg.Logger.Printf("landing: starting (camera=%s url=%s hfov=%.1f° gating=%v)",
		p.CameraType, p.StreamURL, p.HorizontalFOVDeg, p.GatingEnabled)

	ctx, cancel := context.WithCancel(context.Background())

	if err := l.cfg.Source.Open(ctx, p.StreamURL); err != nil {
		cancel()
		l.state.Store(int32(StateIdle))
		return fmt.Errorf("failed to open video stream: %w", err)
	}

	// Bounded connectivity probe: a zeroed report proves the gateway is
	// reachable before the loop commits to running.
	probeCtx, probeCancel := context.WithTimeout(ctx, l.cfg.GatewayTimeout)
	err := l.cfg.Gateway.SendTargetReport(probeCtx, TargetReport{
		SystemID: p.SystemID,
		TimeUsec: l.cfg.Clock.Now().UnixMicro(),
	})
	probeCancel()
	if err != nil {
		if cerr := l.cfg.Source.Close(); cerr != nil {
			l.cfg.Logger.Printf("landing: closing stream after failed probe: %v", cerr)
		}
		cancel()
		l.state.Store(int32(StateIdle))
		return fmt.Errorf("vehicle gateway connectivity probe failed: %w", err)
	}

	if p.GatingEnabled && l.cfg.Monitor != nil {
		if err := l.cfg.Monitor.RequestStream(ctx, p.SystemID, DefaultStreamRateHz); err != nil {
			// Gating fails open, so a missing stream degrades rather than
			// blocking startup.
			l.cfg.Logger.Printf("landing: orientation stream request failed: %v", err)
		}
	}

	l.mu.Lock()
	l.cancel = cancel
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	l.state.Store(int32(StateRunning))
	go l.run(ctx, p, done)

	return nil
}

// Stop requests loop exit and waits for the frame source to be released.
// Returns ErrNotRunning (state unchanged) if no loop is active.
func (l *Loop) Stop() error {
	if !l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done
	return nil
}

// runStats is the per-window counter set. It is owned by the loop goroutine;
// all counters reset together at each periodic log flush.
type runStats struct {
	windowStart time.Time
	frameCount  int
	tagCount    int
	sentCount   int
	lastFrameAt time.Time
	lastSendAt  time.Time
}

func (l *Loop) run(ctx context.Context, p Profile, done chan struct{}) {
	// The frame source is released on every exit path: stop request, fatal
	// error, or panic escaping an iteration.
	defer func() {
		if err := l.cfg.Source.Close(); err != nil {
			l.cfg.Logger.Printf("landing: closing video stream: %v", err)
		}
		l.state.Store(int32(StateIdle))
		l.cfg.Logger.Printf("landing: stopped")
		close(done)
	}()

	now := l.cfg.Clock.Now()
	rs := &runStats{windowStart: now, lastFrameAt: now, lastSendAt: now}

	for ctx.Err() == nil {
		l.iterate(ctx, p, rs)
	}
}

// iterate performs one loop cycle. Unexpected panics are caught here so a
// single bad cycle can never take the loop down.
func (l *Loop) iterate(ctx context.Context, p Profile, rs *runStats) {
	defer func() {
		if r := recover(); r != nil {
			l.cfg.Logger.Printf("landing: recovered from iteration error: %v", r)
			l.cfg.Clock.Sleep(l.cfg.ErrorBackoff)
		}
	}()

	frame, err := l.cfg.Source.Read(ctx)
	if err != nil || frame == nil {
		if err != nil {
			l.cfg.Logger.Printf("landing: failed to read frame: %v", err)
		}
		if l.cfg.Clock.Since(rs.lastFrameAt) > l.cfg.StallTimeout {
			l.cfg.Logger.Printf("landing: no frame for %v, resetting video stream", l.cfg.StallTimeout)
			if rerr := l.cfg.Source.Reset(); rerr != nil {
				l.cfg.Logger.Printf("landing: stream reset failed: %v", rerr)
			}
			// Restart the stall timer so one stall issues one reset.
			rs.lastFrameAt = l.cfg.Clock.Now()
		}
		l.cfg.Clock.Sleep(l.cfg.RetrySleep)
		return
	}

	rs.frameCount++
	rs.lastFrameAt = l.cfg.Clock.Now()

	if l.shouldSendTarget(ctx, p) {
		l.detectAndSend(ctx, p, frame, rs)
	}

	l.flushStats(rs)

	// Nominal pacing, widening to the idle poll once nothing has been sent
	// for a while.
	sleep := l.cfg.RetrySleep
	if l.cfg.Clock.Since(rs.lastSendAt) > l.cfg.IdleAfter {
		sleep = l.cfg.IdleSleep
	}
	l.cfg.Clock.Sleep(sleep)
}

// shouldSendTarget applies gimbal-orientation gating. When gating is enabled
// but orientation telemetry is unavailable it fails open (assumes aligned)
// so flaky telemetry cannot starve guidance.
func (l *Loop) shouldSendTarget(ctx context.Context, p Profile) bool {
	if !p.GatingEnabled || l.cfg.Monitor == nil {
		return true
	}
	q, ok := l.cfg.Monitor.Orientation(ctx, p.SystemID)
	if !ok {
		return true
	}
	return orientation.AlignedWithin(q, orientation.Nadir, l.cfg.GateDeviationDeg)
}

func (l *Loop) detectAndSend(ctx context.Context, p Profile, frame *Frame, rs *runStats) {
	if p.LensCorrection && l.cfg.Corrector != nil {
		frame = l.cfg.Corrector.Correct(frame)
	}

	vfov := geometry.VerticalFOV(p.HorizontalFOVDeg, frame.Width, frame.Height)

	det, err := l.cfg.Detector.Detect(ctx, frame, p.Detector)
	if err != nil {
		l.cfg.Logger.Printf("landing: detection failed: %v", err)
		return
	}
	if det == nil {
		return
	}
	rs.tagCount++

	offset := geometry.AngularOffsets(det.CenterX, det.CenterY, frame.Width, frame.Height, p.HorizontalFOVDeg, vfov)
	size := geometry.AngularSizes(det.WidthPx, det.HeightPx, frame.Width, frame.Height, p.HorizontalFOVDeg, vfov)

	report := TargetReport{
		TagID:    det.ID,
		AngleX:   offset.AngleX,
		AngleY:   offset.AngleY,
		Distance: 0, // bearing-only: range is unknown from vision alone
		SizeX:    size.SizeX,
		SizeY:    size.SizeY,
		TimeUsec: l.cfg.Clock.Now().UnixMicro(),
		SystemID: p.SystemID,
	}

	sendCtx, cancel := context.WithTimeout(ctx, l.cfg.GatewayTimeout)
	defer cancel()
	if err := l.cfg.Gateway.SendTargetReport(sendCtx, report); err != nil {
		// No retry: the next cycle is an independent attempt.
		l.cfg.Logger.Printf("landing: failed to send target report: %v", err)
		return
	}

	rs.sentCount++
	rs.lastSendAt = l.cfg.Clock.Now()
	l.cfg.Logger.Printf("landing: sent target report for tag %d (angle_x=%.2f° angle_y=%.2f°)",
		det.ID, offset.AngleXDeg, offset.AngleYDeg)
}

func (l *Loop) flushStats(rs *runStats) {
	elapsed := l.cfg.Clock.Since(rs.windowStart)
	if elapsed < l.cfg.StatsInterval {
		return
	}
	rate := float64(rs.frameCount) / elapsed.Seconds()
	l.cfg.Logger.Printf("landing: %.1f fps (frames=%d tags=%d sent=%d in %.1fs)",
		rate, rs.frameCount, rs.tagCount, rs.sentCount, elapsed.Seconds())
	rs.frameCount = 0
	rs.tagCount = 0
	rs.sentCount = 0
	rs.windowStart = l.cfg.Clock.Now()
}
