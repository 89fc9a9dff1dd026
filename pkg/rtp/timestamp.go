package rtp

import (
	"time"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

// Unwrapper extends 32-bit RTP timestamps into a monotonic 64-bit counter.
type Unwrapper struct {
	started bool
	last    uint32
	value   int64
}

func (u *Unwrapper) Unwrap(ts uint32) int64 {
	if !u.started {
		u.started = true
		u.last = ts
		u.value = int64(ts)
		return u.value
	}
	u.value += int64(int32(ts - u.last))
	u.last = ts
	return u.value
}

// Rebaser maps remote timestamps of one session onto the local clock: the
// first frame emitted by the session lands on the clock's current time and
// each media kind keeps its own offset from there.
type Rebaser struct {
	clock   media.Clock
	based   bool
	base    time.Duration
	firstTS map[media.Kind]media.Time
}

func NewRebaser(clock media.Clock) *Rebaser {
	return &Rebaser{
		clock:   clock,
		firstTS: make(map[media.Kind]media.Time),
	}
}

func (r *Rebaser) Rebase(kind media.Kind, t media.Time) media.Time {
	if !r.based {
		r.based = true
		r.base = r.clock()
	}
	first, ok := r.firstTS[kind]
	if !ok {
		first = t
		r.firstTS[kind] = t
	}
	base := media.TimeFromSeconds(r.base.Seconds(), t.Scale)
	return base.Add(t.Sub(first))
}

// FirstPresentationTime reports the remote timestamp that anchors kind.
func (r *Rebaser) FirstPresentationTime(kind media.Kind) (media.Time, bool) {
	t, ok := r.firstTS[kind]
	return t, ok
}
