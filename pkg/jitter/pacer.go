package jitter

import "math"

// AudioPacer produces evenly spaced audio output times from a frame counter
// anchored to the clock. When the counter drifts more than the limit away
// from the clock it is nudged by one frame.
type AudioPacer struct {
	frameDuration float64
	limit         float64
	counter       int64
	start         float64
	started       bool
}

func NewAudioPacer(frameDuration, limit float64) *AudioPacer {
	return &AudioPacer{frameDuration: frameDuration, limit: limit, counter: -1}
}

// Next returns the output time of the next audio frame given the current
// clock time.
func (p *AudioPacer) Next(now float64) float64 {
	p.counter++
	if !p.started {
		p.started = true
		p.start = now
	}
	pts := p.pts()
	if delta := pts - now; math.Abs(delta) > p.limit {
		if delta > 0 {
			logger.Debugf("audio pacer: adjust back, calculated %.3f clock %.3f", pts, now)
			p.counter--
		} else {
			logger.Debugf("audio pacer: adjust forward, calculated %.3f clock %.3f", pts, now)
			p.counter++
		}
		pts = p.pts()
	}
	return pts
}

func (p *AudioPacer) FrameDuration() float64 {
	return p.frameDuration
}

func (p *AudioPacer) pts() float64 {
	return p.start + float64(p.counter)*p.frameDuration
}
