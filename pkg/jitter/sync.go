package jitter

import "math"

// Synchronizer balances target latency between the audio and video sources
// of a session so that neither buffer keeps growing to catch up with the
// other.
type Synchronizer struct {
	base       float64
	hysteresis float64
	applied    bool
	lastDiff   float64
}

func NewSynchronizer(baseLatency, hysteresis float64) *Synchronizer {
	return &Synchronizer{base: baseLatency, hysteresis: hysteresis}
}

// Observe takes the latest selected video and audio presentation times. When
// their difference moved by more than the hysteresis since the last change it
// returns new audio and video targets.
func (s *Synchronizer) Observe(videoPTS, audioPTS float64) (audioTarget, videoTarget float64, changed bool) {
	diff := videoPTS - audioPTS
	if s.applied && math.Abs(diff-s.lastDiff) <= s.hysteresis {
		return 0, 0, false
	}
	s.applied = true
	s.lastDiff = diff
	audioTarget = s.base + math.Max(diff, 0)
	videoTarget = s.base + math.Max(-diff, 0)
	logger.Debugf("video-audio skew %.3f, targets audio %.3f video %.3f", diff, audioTarget, videoTarget)
	return audioTarget, videoTarget, true
}

func (s *Synchronizer) SetBaseLatency(latency float64) {
	s.base = latency
	s.applied = false
}
