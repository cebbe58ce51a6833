package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTickReportsOncePerInterval(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewProfiler(WithLogger(zap.New(core)), WithInterval(time.Second), WithClock(clock.now))

	for i := range 9 {
		clock.advance(100 * time.Millisecond)
		assert.False(t, p.Tick(FrameSample{Draws: i, MultiDraws: 2, Lights: i % 3}))
	}
	clock.advance(100 * time.Millisecond)
	require.True(t, p.Tick(FrameSample{Draws: 9, MultiDraws: 2}))

	r := p.Last()
	assert.Equal(t, 10, r.Frames)
	assert.InDelta(t, 10, r.FPS, 1e-9)
	assert.InDelta(t, 4.5, r.AvgDraws, 1e-9)
	assert.Equal(t, 9, r.MaxDraws)
	assert.Equal(t, 20, r.MultiDraws)
	assert.Equal(t, 2, r.MaxLights)
	assert.Equal(t, 100*time.Millisecond, r.FrameTimeMax)
	assert.Equal(t, 1, logs.FilterMessage("frame stats").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	clock.advance(100 * time.Millisecond)
	assert.False(t, p.Tick(FrameSample{}))
}

func TestFallbacksAreWarned(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewProfiler(WithLogger(zap.New(core)), WithInterval(time.Millisecond), WithClock(clock.now))

	clock.advance(2 * time.Millisecond)
	require.True(t, p.Tick(FrameSample{Draws: 3, Fallbacks: 2}))
	assert.Equal(t, 2, p.Last().Fallbacks)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestDefaults(t *testing.T) {
	p := NewProfiler(WithInterval(-1), WithLogger(nil), WithClock(nil))
	assert.Equal(t, time.Second, p.interval)
	assert.NotNil(t, p.logger)
	assert.False(t, p.Tick(FrameSample{}))
	assert.Equal(t, Report{}, p.Last())
}
