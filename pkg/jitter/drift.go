package jitter

import "math"

type Direction int

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	}
	return "none"
}

// DriftTracker keeps a source's buffer fill level near its target by slowly
// shifting the source's timestamps. A positive drift delays every frame of
// the source and lets the buffer fill up.
type DriftTracker struct {
	cfg         DriftConfig
	name        string
	target      float64
	estimated   float64
	initialized bool
	drift       float64
	direction   Direction

	inBand      bool
	inBandSince float64

	adjusted     bool
	lastAdjusted float64
}

func NewDriftTracker(name string, target float64, cfg DriftConfig) *DriftTracker {
	return &DriftTracker{cfg: cfg, name: name, target: target}
}

func (d *DriftTracker) SetTargetFillLevel(target float64) {
	d.target = target
}

func (d *DriftTracker) TargetFillLevel() float64 {
	return d.target
}

func (d *DriftTracker) EstimatedFillLevel() float64 {
	return d.estimated
}

func (d *DriftTracker) Drift() float64 {
	return d.drift
}

// SetDrift overrides the drift, as reported by the sibling media.
func (d *DriftTracker) SetDrift(drift float64) {
	d.drift = drift
}

func (d *DriftTracker) Direction() Direction {
	return d.direction
}

// Update feeds one fill level sample taken at outputTime. It returns the new
// drift and true when a correction step was applied.
func (d *DriftTracker) Update(outputTime, fillLevel float64) (float64, bool) {
	if !d.initialized {
		d.initialized = true
		d.estimated = fillLevel
		d.lastAdjusted = outputTime
		d.adjusted = true
	} else {
		d.estimated += d.cfg.Alpha * (fillLevel - d.estimated)
	}

	switch {
	case d.estimated < d.target-d.cfg.LowMargin:
		d.inBand = false
		d.setDirection(DirectionUp)
	case d.estimated > d.target+d.cfg.HighMargin:
		d.inBand = false
		d.setDirection(DirectionDown)
	default:
		if !d.inBand {
			d.inBand = true
			d.inBandSince = outputTime
		}
		if math.Abs(d.estimated-d.target) <= d.cfg.ResetMargin ||
			outputTime-d.inBandSince >= d.cfg.Interval {
			d.setDirection(DirectionNone)
		}
	}

	if d.direction == DirectionNone {
		return d.drift, false
	}
	if d.adjusted && outputTime-d.lastAdjusted < d.cfg.Interval {
		return d.drift, false
	}
	d.adjusted = true
	d.lastAdjusted = outputTime
	if d.direction == DirectionUp {
		d.drift += d.cfg.Step
	} else {
		d.drift -= d.cfg.Step
	}
	logger.Debugf("%s: fill level %.3f (target %.3f), drift adjusted %s to %.3f",
		d.name, d.estimated, d.target, d.direction, d.drift)
	return d.drift, true
}

func (d *DriftTracker) setDirection(direction Direction) {
	if d.direction != direction {
		logger.Debugf("%s: drift direction %s -> %s (fill level %.3f, target %.3f)",
			d.name, d.direction, direction, d.estimated, d.target)
		d.direction = direction
	}
}
