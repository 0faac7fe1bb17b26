// Package capture implements the video frame source on a GStreamer RTSP
// pipeline. The pipeline decodes H.264 to raw RGB and hands frames to an
// appsink configured to keep only the latest frame, so a slow consumer reads
// fresh imagery rather than a backlog.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/rmackay9/blueos-precision-landing/internal/landing"
	"github.com/rmackay9/blueos-precision-landing/internal/monitoring"
)

// ErrStreamClosed is returned by Read after Close.
var ErrStreamClosed = errors.New("video stream is closed")

// Options tune the RTSP source.
type Options struct {
	// Width/Height request a decode resolution; zero keeps the native
	// stream resolution.
	Width  int
	Height int
	// Grayscale converts frames to single-channel luminance before they are
	// handed to the detector.
	Grayscale bool
	// MaxWidth downscales frames wider than this before detection; zero
	// disables downscaling.
	MaxWidth int
}

// RTSPSource is a landing.FrameSource backed by GStreamer. It tolerates
// Close-then-Open and Reset (close and reopen in place) without a process
// restart.
type RTSPSource struct {
	opts Options

	mu       sync.Mutex
	url      string
	pipeline *gst.Pipeline
	sink     *app.Sink
	frames   chan *landing.Frame
	closed   bool
}

// NewRTSPSource creates an RTSP frame source with the given options.
func NewRTSPSource(opts Options) *RTSPSource {
	return &RTSPSource{opts: opts}
}

// Open connects to the RTSP stream at url and starts the decode pipeline.
func (s *RTSPSource) Open(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != nil {
		return fmt.Errorf("stream already open")
	}
	if url == "" {
		return fmt.Errorf("stream URL is required")
	}

	s.url = url
	s.closed = false
	return s.startPipelineLocked()
}

// Read returns the most recent decoded frame, or (nil, nil) when no new
// frame has arrived yet. It never blocks longer than the context allows.
func (s *RTSPSource) Read(ctx context.Context) (*landing.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	frames := s.frames
	s.mu.Unlock()

	if frames == nil {
		return nil, ErrStreamClosed
	}

	select {
	case f, ok := <-frames:
		if !ok {
			return nil, ErrStreamClosed
		}
		return s.preprocess(f), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, nil
	}
}

// Reset recycles the capture pipeline after a stall: the current pipeline is
// torn down and a new one started against the same URL.
func (s *RTSPSource) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.url == "" {
		return ErrStreamClosed
	}
	s.stopPipelineLocked()
	return s.startPipelineLocked()
}

// Close releases the pipeline. Idempotent; a later Open is allowed.
func (s *RTSPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.stopPipelineLocked()
	s.closed = true
	return nil
}

// startPipelineLocked builds and starts an rtspsrc → rtph264depay →
// avdec_h264 → videoconvert → capsfilter(RGB) → appsink pipeline. Caller
// holds s.mu.
func (s *RTSPSource) startPipelineLocked() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", s.url)
	rtspsrc.SetProperty("protocols", 4) // TCP only
	rtspsrc.SetProperty("latency", 200)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000)) // 10s

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return fmt.Errorf("failed to create rtph264depay: %w", err)
	}

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return fmt.Errorf("failed to create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0)
	decoder.SetProperty("output-corrupt", false)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := "video/x-raw,format=RGB"
	if s.opts.Width > 0 && s.opts.Height > 0 {
		capsStr = fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", s.opts.Width, s.opts.Height)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	sink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1) // keep only the latest frame
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(rtspsrc, depay, decoder, converter, capsfilter, sink.Element); err != nil {
		return fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(depay, decoder, converter, capsfilter, sink.Element); err != nil {
		return fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	// rtspsrc pads are dynamic; link to the depayloader once they appear.
	rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil || sinkPad.IsLinked() {
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			monitoring.Logf("capture: failed to link rtspsrc pad: %v", ret)
		}
	})

	frames := make(chan *landing.Frame, 1)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink, frames)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	s.pipeline = pipeline
	s.sink = sink
	s.frames = frames
	return nil
}

// stopPipelineLocked tears the pipeline down. Caller holds s.mu.
func (s *RTSPSource) stopPipelineLocked() {
	if s.pipeline != nil {
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			monitoring.Logf("capture: failed to stop pipeline: %v", err)
		}
		s.pipeline = nil
		s.sink = nil
	}
	s.frames = nil
}

// onNewSample copies the decoded sample out of GStreamer's buffer and
// publishes it, replacing any frame the consumer has not read yet.
func (s *RTSPSource) onNewSample(sink *app.Sink, frames chan *landing.Frame) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	pixels := make([]byte, len(data))
	copy(pixels, data)
	buffer.Unmap()

	width, height := sampleDimensions(sample)
	if width == 0 || height == 0 {
		// negotiated caps unavailable; fall back to the requested decode size
		width, height = s.opts.Width, s.opts.Height
	}

	frame := &landing.Frame{
		Width:      width,
		Height:     height,
		Pixels:     pixels,
		TraceID:    uuid.New().String(),
		CapturedAt: time.Now(),
	}

	// Replace the pending frame rather than queueing: the loop always wants
	// the newest imagery.
	select {
	case frames <- frame:
	default:
		select {
		case <-frames:
		default:
		}
		select {
		case frames <- frame:
		default:
		}
	}

	return gst.FlowOK
}

// sampleDimensions extracts width/height from the sample caps.
func sampleDimensions(sample *gst.Sample) (int, int) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0
	}
	st := caps.GetStructureAt(0)
	if st == nil {
		return 0, 0
	}
	var width, height int
	if v, err := st.GetValue("width"); err == nil {
		if w, ok := v.(int); ok {
			width = w
		}
	}
	if v, err := st.GetValue("height"); err == nil {
		if h, ok := v.(int); ok {
			height = h
		}
	}
	return width, height
}
