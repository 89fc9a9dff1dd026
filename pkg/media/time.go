package media

import (
	"fmt"
	"math"
	"time"
)

// Time is a rational timestamp: Value / Scale seconds.
type Time struct {
	Value int64
	Scale int64
}

var InvalidTime = Time{}

func NewTime(value, scale int64) Time {
	return Time{Value: value, Scale: scale}
}

func TimeFromSeconds(seconds float64, scale int64) Time {
	return Time{Value: int64(math.Round(seconds * float64(scale))), Scale: scale}
}

func (t Time) IsValid() bool {
	return t.Scale > 0
}

func (t Time) Seconds() float64 {
	if t.Scale <= 0 {
		return 0
	}
	return float64(t.Value) / float64(t.Scale)
}

// Rescale converts t to another time scale, rounding to the nearest tick.
func (t Time) Rescale(scale int64) Time {
	if t.Scale == scale || t.Scale <= 0 {
		return Time{Value: t.Value, Scale: scale}
	}
	num := t.Value * scale
	half := t.Scale / 2
	if num < 0 {
		half = -half
	}
	return Time{Value: (num + half) / t.Scale, Scale: scale}
}

func (t Time) Add(u Time) Time {
	if u.Scale != t.Scale {
		u = u.Rescale(t.Scale)
	}
	return Time{Value: t.Value + u.Value, Scale: t.Scale}
}

func (t Time) Sub(u Time) Time {
	if u.Scale != t.Scale {
		u = u.Rescale(t.Scale)
	}
	return Time{Value: t.Value - u.Value, Scale: t.Scale}
}

func (t Time) Before(u Time) bool {
	return t.Seconds() < u.Seconds()
}

func (t Time) String() string {
	return fmt.Sprintf("%d/%d", t.Value, t.Scale)
}

// Clock returns the local media time.
type Clock func() time.Duration

func NewMonotonicClock() Clock {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
