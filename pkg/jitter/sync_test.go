package jitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSynchronizerHysteresis(t *testing.T) {
	s := NewSynchronizer(0.2, 0.15)

	audio, video, changed := s.Observe(1.0, 0.7)
	assert.True(t, changed)
	assert.InDelta(t, 0.5, audio, 1e-9)
	assert.InDelta(t, 0.2, video, 1e-9)

	_, _, changed = s.Observe(1.0, 0.65)
	assert.False(t, changed)

	audio, video, changed = s.Observe(0.5, 1.0)
	assert.True(t, changed)
	assert.InDelta(t, 0.2, audio, 1e-9)
	assert.InDelta(t, 0.7, video, 1e-9)

	s.SetBaseLatency(0.3)
	audio, video, changed = s.Observe(0.5, 1.0)
	assert.True(t, changed)
	assert.InDelta(t, 0.3, audio, 1e-9)
	assert.InDelta(t, 0.8, video, 1e-9)
}

func TestAudioPacer(t *testing.T) {
	p := NewAudioPacer(0.02, 0.03)
	assert.InDelta(t, 100.00, p.Next(100.00), 1e-9)
	assert.InDelta(t, 100.02, p.Next(100.021), 1e-9)

	// clock jumped ahead: nudged forward by one frame only
	assert.InDelta(t, 100.06, p.Next(100.2), 1e-9)

	// clock fell behind: nudged back
	assert.InDelta(t, 100.06, p.Next(100.0), 1e-9)
	assert.InDelta(t, 0.02, p.FrameDuration(), 1e-9)
}
