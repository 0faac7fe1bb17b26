package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmackay9/blueos-precision-landing/internal/landing"
	"github.com/rmackay9/blueos-precision-landing/internal/testutil"
	"github.com/rmackay9/blueos-precision-landing/internal/timeutil"
)

// frameWithSquare builds a bright single-channel frame with a dark square.
func frameWithSquare(width, height, x0, y0, size int) *landing.Frame {
	f := testutil.TestFrame(width, height, 220)
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			f.Pixels[y*width+x] = 20
		}
	}
	return f
}

func TestBlobDetect(t *testing.T) {
	t.Parallel()
	var b Blob
	params := landing.DetectorParams{TargetID: -1, Accuracy: 1}

	t.Run("finds a dark square", func(t *testing.T) {
		f := frameWithSquare(320, 240, 100, 80, 40)
		det, err := b.Detect(context.Background(), f, params)
		require.NoError(t, err)
		require.NotNil(t, det)
		assert.InDelta(t, 119.5, det.CenterX, 1.0)
		assert.InDelta(t, 99.5, det.CenterY, 1.0)
		assert.InDelta(t, 40, det.WidthPx, 2)
		assert.InDelta(t, 40, det.HeightPx, 2)
	})

	t.Run("stamps the detection time", func(t *testing.T) {
		now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		stamped := Blob{Clock: timeutil.NewMockClock(now)}
		det, err := stamped.Detect(context.Background(), frameWithSquare(320, 240, 100, 80, 40), params)
		require.NoError(t, err)
		require.NotNil(t, det)
		assert.True(t, det.DetectedAt.Equal(now))
	})

	t.Run("wall clock applies by default", func(t *testing.T) {
		det, err := b.Detect(context.Background(), frameWithSquare(320, 240, 100, 80, 40), params)
		require.NoError(t, err)
		require.NotNil(t, det)
		assert.False(t, det.DetectedAt.IsZero())
	})

	t.Run("uniform frame has no detection", func(t *testing.T) {
		det, err := b.Detect(context.Background(), testutil.TestFrame(320, 240, 200), params)
		require.NoError(t, err)
		assert.Nil(t, det)
	})

	t.Run("low contrast has no detection", func(t *testing.T) {
		f := testutil.TestFrame(320, 240, 128)
		for i := 0; i < 100; i++ {
			f.Pixels[i] = 100
		}
		det, err := b.Detect(context.Background(), f, params)
		require.NoError(t, err)
		assert.Nil(t, det)
	})

	t.Run("tiny regions are rejected", func(t *testing.T) {
		f := frameWithSquare(320, 240, 100, 80, 4)
		det, err := b.Detect(context.Background(), f, params)
		require.NoError(t, err)
		assert.Nil(t, det)
	})

	t.Run("reduced accuracy still detects", func(t *testing.T) {
		f := frameWithSquare(320, 240, 100, 80, 40)
		det, err := b.Detect(context.Background(), f, landing.DetectorParams{TargetID: -1, Accuracy: 0.25})
		require.NoError(t, err)
		require.NotNil(t, det)
		assert.InDelta(t, 120, det.CenterX, 4)
	})

	t.Run("target id filter applies", func(t *testing.T) {
		f := frameWithSquare(320, 240, 100, 80, 40)

		det, err := b.Detect(context.Background(), f, landing.DetectorParams{TargetID: 0})
		require.NoError(t, err)
		assert.NotNil(t, det)

		det, err = b.Detect(context.Background(), f, landing.DetectorParams{TargetID: 5})
		require.NoError(t, err)
		assert.Nil(t, det)
	})

	t.Run("nil and malformed frames", func(t *testing.T) {
		det, err := b.Detect(context.Background(), nil, params)
		require.NoError(t, err)
		assert.Nil(t, det)

		det, err = b.Detect(context.Background(), &landing.Frame{Width: 100, Height: 100, Pixels: []byte{1, 2, 3}}, params)
		require.NoError(t, err)
		assert.Nil(t, det)
	})

	t.Run("cancelled context returns the error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		f := frameWithSquare(320, 240, 100, 80, 40)
		_, err := b.Detect(ctx, f, params)
		assert.Error(t, err)
	})
}

func TestBlobDetectRGBFrame(t *testing.T) {
	t.Parallel()
	var b Blob

	// bright RGB frame with a dark red-ish square
	width, height := 160, 120
	pixels := make([]byte, width*height*3)
	for i := range pixels {
		pixels[i] = 230
	}
	for y := 40; y < 70; y++ {
		for x := 60; x < 90; x++ {
			i := (y*width + x) * 3
			pixels[i] = 40
			pixels[i+1] = 10
			pixels[i+2] = 10
		}
	}
	f := &landing.Frame{Width: width, Height: height, Pixels: pixels}

	det, err := b.Detect(context.Background(), f, landing.DetectorParams{TargetID: -1, Accuracy: 1})
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.InDelta(t, 74.5, det.CenterX, 1.0)
	assert.InDelta(t, 54.5, det.CenterY, 1.0)
}
