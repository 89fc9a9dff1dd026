package jitter

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

func frameAt(kind media.Kind, seconds float64) *media.Frame {
	return media.NewFrame(kind, []byte{1}, media.TimeFromSeconds(seconds, 90000), media.InvalidTime)
}

func TestVideoSelectionIsNonDecreasing(t *testing.T) {
	src := NewBufferedSource(DefaultVideoSourceConfig("cam", 0.1))
	rnd := rand.New(rand.NewSource(7))

	const n = 300
	const block = 6
	last := -1.0
	output := 0.0
	for start := 0; start < n; start += block {
		for _, j := range rnd.Perm(block) {
			src.Append(frameAt(media.KindVideo, float64(start+j)/30))
		}
		for k := 0; k < block; k++ {
			frame, _ := src.Update(output)
			require.NotNil(t, frame)
			assert.GreaterOrEqual(t, frame.Seconds(), last)
			last = frame.Seconds()
			// jittery output clock
			output += 1.0/30 + (rnd.Float64()-0.5)/100
		}
	}
}

func TestNeverNilAfterFirstAppend(t *testing.T) {
	src := NewBufferedSource(DefaultVideoSourceConfig("cam", 0.1))
	frame, consumed := src.Update(0)
	assert.Nil(t, frame)
	assert.Zero(t, consumed)
	assert.Nil(t, src.Frame(media.NewTime(0, 90000)))

	src.Append(frameAt(media.KindVideo, 10))
	frame, consumed = src.Update(0)
	require.NotNil(t, frame)
	assert.Zero(t, consumed)
	assert.InDelta(t, 10, frame.Seconds(), 1e-9)

	for i := 1; i < 100; i++ {
		frame, _ = src.Update(float64(i))
		require.NotNil(t, frame)
	}
	assert.Equal(t, 0, src.NumberOfBuffers())

	restamped := src.Frame(media.NewTime(180000, 90000))
	assert.Equal(t, media.NewTime(180000, 90000), restamped.PresentationTime)
}

func TestReadyAndCounters(t *testing.T) {
	src := NewBufferedSource(DefaultVideoSourceConfig("cam", 0.1))
	ready := 0
	src.OnReady(func() { ready++ })

	for i := 0; i < 10; i++ {
		src.Append(frameAt(media.KindVideo, float64(i)/10))
	}
	// slightly ahead of the output, accepted as first candidate
	frame, consumed := src.Update(-0.005)
	assert.Equal(t, 1, consumed)
	assert.InDelta(t, 0, frame.Seconds(), 1e-9)
	assert.Equal(t, 1, ready)
	assert.True(t, src.IsReady())

	// nothing due: the frame is repeated
	_, consumed = src.Update(0.05)
	assert.Zero(t, consumed)

	// three frames due: two of them are skipped
	frame, consumed = src.Update(0.3)
	assert.Equal(t, 3, consumed)
	assert.InDelta(t, 0.3, frame.Seconds(), 1e-9)

	stats := src.Stats()
	assert.Equal(t, uint64(1), stats.Duplicated)
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 1, ready)

	// late frames are discarded
	src.Append(frameAt(media.KindVideo, 0.15))
	assert.Equal(t, 6, src.NumberOfBuffers())
	assert.Equal(t, uint64(3), src.Stats().Dropped)
}

func TestOverflowDropsOldest(t *testing.T) {
	src := NewBufferedSource(DefaultVideoSourceConfig("cam", 0.1))
	for i := 0; i < 250; i++ {
		src.Append(frameAt(media.KindVideo, 100+float64(i)/30))
	}
	frame, consumed := src.Update(0)
	assert.Equal(t, 50, consumed)
	assert.Equal(t, 200, src.NumberOfBuffers())
	assert.InDelta(t, 100+49.0/30, frame.Seconds(), 1e-6)
	assert.Equal(t, uint64(50), src.Stats().Overflowed)
}

func TestAudioLocksOnOneFramePerTick(t *testing.T) {
	src := NewBufferedSource(DefaultAudioSourceConfig("mic", 0.1))
	for i := 0; i <= 10; i++ {
		src.Append(frameAt(media.KindAudio, float64(i)*0.02))
	}

	frame, consumed := src.Update(0.05)
	assert.Equal(t, 3, consumed)
	assert.InDelta(t, 0.04, frame.Seconds(), 1e-9)

	// locked on: exactly one frame per tick even when more are due
	frame, consumed = src.Update(0.10)
	assert.Equal(t, 1, consumed)
	assert.InDelta(t, 0.06, frame.Seconds(), 1e-9)

	frame, consumed = src.Update(0.12)
	assert.Equal(t, 1, consumed)
	assert.InDelta(t, 0.08, frame.Seconds(), 1e-9)

	// far behind the output: re-sync and skip ahead
	_, consumed = src.Update(0.30)
	assert.Equal(t, 1, consumed)
	frame, consumed = src.Update(0.31)
	assert.Equal(t, 5, consumed)
	assert.InDelta(t, 0.20, frame.Seconds(), 1e-9)
}

func TestDriftCallbackAndSetters(t *testing.T) {
	cfg := DefaultVideoSourceConfig("cam", 1.0)
	src := NewBufferedSource(cfg)
	var reported []float64
	src.OnDrift(func(d float64) { reported = append(reported, d) })

	// the buffer holds far less than the target: drift grows
	output := 0.0
	for i := 0; i < 700; i++ {
		src.Append(frameAt(media.KindVideo, output))
		src.Update(output)
		output += 1.0 / 30
	}
	require.NotEmpty(t, reported)
	assert.InDelta(t, 0.01, reported[0], 1e-9)
	assert.InDelta(t, reported[len(reported)-1], src.Drift(), 1e-9)

	src.SetDrift(0.5)
	assert.Equal(t, 0.5, src.Drift())
	src.SetTargetLatency(0.3)
	assert.Equal(t, 0.3, src.TargetLatency())

	src.Update(output + 1)
	require.Equal(t, 0, src.NumberOfBuffers())
	latest := frameAt(media.KindVideo, 42)
	src.SetLatestFrame(latest)
	frame, consumed := src.Update(output + 2)
	assert.Zero(t, consumed)
	assert.Same(t, latest, frame)
}

func TestOverflowIsNotCountedAsDropped(t *testing.T) {
	cfg := DefaultVideoSourceConfig("cam", 0.1)
	cfg.MaxBuffers = 5
	src := NewBufferedSource(cfg)

	src.Append(frameAt(media.KindVideo, 0))
	_, consumed := src.Update(0)
	require.Equal(t, 1, consumed)
	require.True(t, src.IsReady())

	for i := 1; i <= 8; i++ {
		src.Append(frameAt(media.KindVideo, float64(i)/30))
	}
	_, consumed = src.Update(2.0/30 + 0.001)
	assert.Equal(t, 3, consumed)
	assert.Equal(t, uint64(3), src.Stats().Overflowed)
	assert.Zero(t, src.Stats().Dropped)

	frame, consumed := src.Update(5.0/30 + 0.001)
	assert.Equal(t, 2, consumed)
	assert.InDelta(t, 5.0/30, frame.Seconds(), 1e-6)
	assert.Equal(t, uint64(1), src.Stats().Dropped)
	assert.Equal(t, uint64(3), src.Stats().Overflowed)
}
