package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	t.Parallel()
	var c RealClock

	before := time.Now()
	now := c.Now()
	assert.False(t, now.Before(before))

	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))

	start := time.Now()
	c.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), time.Millisecond)

	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After never fired")
	}
}

func TestMockClock(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	assert.Equal(t, base, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, base.Add(time.Minute), c.Now())
	assert.Equal(t, time.Minute, c.Since(base))

	c.Set(base)
	assert.Equal(t, base, c.Now())
}

func TestMockClockSleepAdvancesTime(t *testing.T) {
	t.Parallel()
	base := time.Unix(0, 0)
	c := NewMockClock(base)

	c.Sleep(10 * time.Millisecond)
	c.Sleep(800 * time.Millisecond)

	assert.Equal(t, base.Add(810*time.Millisecond), c.Now())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 800 * time.Millisecond}, c.Sleeps())
}

func TestMockClockAfterNeverBlocks(t *testing.T) {
	t.Parallel()
	c := NewMockClock(time.Unix(100, 0))

	select {
	case got := <-c.After(time.Hour):
		assert.Equal(t, time.Unix(100, 0).Add(time.Hour), got)
	default:
		t.Fatal("After channel was not pre-filled")
	}
}
