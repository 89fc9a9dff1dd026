package jitter

import (
	"math"

	"github.com/gammazero/deque"
	"github.com/ghettovoice/gosip/log"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

// BufferedSource reorders the frames of one source and picks, for every
// output tick, the frame to show (video) or play (audio).
type BufferedSource struct {
	cfg    SourceConfig
	log    log.Logger
	queue  *deque.Deque[*media.Frame]
	drift  *DriftTracker
	stats  *Stats
	latest *media.Frame

	initialBuffering bool
	appended         bool
	syncing          bool

	onReady func()
	onDrift func(drift float64)
}

func NewBufferedSource(cfg SourceConfig) *BufferedSource {
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = 200
	}
	return &BufferedSource{
		cfg:              cfg,
		log:              logger.WithFields(log.Fields{"source": cfg.Name, "kind": cfg.Kind.String()}),
		queue:            deque.New[*media.Frame](),
		drift:            NewDriftTracker(cfg.Kind.String()+":"+cfg.Name, cfg.Latency, cfg.Drift),
		stats:            NewStats(cfg.StatsInterval),
		initialBuffering: true,
		syncing:          true,
	}
}

// OnReady is called once, when the first frame is drained.
func (s *BufferedSource) OnReady(fn func()) {
	s.onReady = fn
}

// OnDrift is called with the new drift after every correction step.
func (s *BufferedSource) OnDrift(fn func(drift float64)) {
	s.onDrift = fn
}

func (s *BufferedSource) Name() string {
	return s.cfg.Name
}

func (s *BufferedSource) Kind() media.Kind {
	return s.cfg.Kind
}

// Append inserts frame keeping the queue sorted by presentation time. A
// frame older than the one already selected arrived too late to be shown
// and is dropped.
func (s *BufferedSource) Append(frame *media.Frame) {
	pts := frame.Seconds()
	if s.latest != nil && pts < s.latest.Seconds() {
		s.log.Tracef("late frame %.3f < %.3f dropped", pts, s.latest.Seconds())
		s.stats.IncrementDropped(1)
		return
	}
	s.appended = true
	i := s.queue.Len()
	for i > 0 && s.queue.At(i-1).Seconds() > pts {
		i--
	}
	s.queue.Insert(i, frame)
}

// Update drains the queue up to outputTime and returns the frame to use for
// this tick together with the number of queued frames consumed. Once a frame
// has been appended the returned frame is never nil.
func (s *BufferedSource) Update(outputTime float64) (*media.Frame, int) {
	var candidate *media.Frame
	consumed, overflowed := 0, 0
	drift := s.drift.Drift()
	for s.queue.Len() > 0 {
		head := s.queue.Front()
		if s.latest == nil {
			s.latest = head
		}
		if s.queue.Len() > s.cfg.MaxBuffers {
			s.log.Debugf("over %d buffers (%d), dropping oldest", s.cfg.MaxBuffers, s.queue.Len())
			candidate = s.queue.PopFront()
			consumed++
			overflowed++
			s.stats.IncrementOverflowed()
			continue
		}
		if s.hasBestFrame(head, candidate, outputTime, drift) {
			break
		}
		candidate = s.queue.PopFront()
		consumed++
		s.markInitialBufferingComplete()
	}

	if !s.initialBuffering {
		// overflow evictions are counted apart from skipped frames
		if skipped := consumed - overflowed - 1; consumed == 0 {
			s.stats.IncrementDuplicated()
		} else if skipped > 0 {
			s.stats.IncrementDropped(skipped)
		}
		if duplicated, dropped, ok := s.stats.Report(outputTime); ok {
			s.log.Debugf("%d duplicated and %d dropped frames. output %.3f, current %.3f, fill %.3f, buffers %d",
				duplicated, dropped, outputTime, s.latest.Seconds()+drift, s.fillLevel(), s.queue.Len())
		}
	}
	if candidate != nil {
		s.latest = candidate
	}
	if !s.initialBuffering && s.appended {
		s.appended = false
		if drift, changed := s.drift.Update(outputTime, s.fillLevel()); changed && s.onDrift != nil {
			s.onDrift(drift)
		}
	}
	return s.latest, consumed
}

// Frame returns the current frame restamped with pts, or nil before the
// first append.
func (s *BufferedSource) Frame(pts media.Time) *media.Frame {
	if s.latest == nil {
		return nil
	}
	return s.latest.WithPresentationTime(pts)
}

func (s *BufferedSource) hasBestFrame(head, candidate *media.Frame, outputTime, drift float64) bool {
	if s.cfg.Kind == media.KindVideo {
		// stop on the first frame that is ahead in time
		delta := head.Seconds() + drift - outputTime
		return delta > 0 && (candidate != nil || math.Abs(delta) > s.cfg.AheadTolerance)
	}
	if s.syncing {
		delta := head.Seconds() + drift - outputTime
		if delta <= 0 {
			return false
		}
		if candidate != nil {
			s.syncing = false
		}
		return true
	}
	if candidate != nil {
		// locked on: take one frame per tick unless far off
		delta := candidate.Seconds() + drift - outputTime
		if math.Abs(delta) > s.cfg.ResyncThreshold {
			s.syncing = true
		}
		return true
	}
	return false
}

func (s *BufferedSource) markInitialBufferingComplete() {
	if s.initialBuffering {
		s.initialBuffering = false
		s.log.Infof("ready")
		if s.onReady != nil {
			s.onReady()
		}
	}
}

func (s *BufferedSource) fillLevel() float64 {
	if s.queue.Len() == 0 {
		return 0
	}
	return s.queue.Back().Seconds() - s.queue.Front().Seconds()
}

func (s *BufferedSource) IsReady() bool {
	return !s.initialBuffering
}

func (s *BufferedSource) SetTargetLatency(latency float64) {
	s.drift.SetTargetFillLevel(latency)
}

func (s *BufferedSource) TargetLatency() float64 {
	return s.drift.TargetFillLevel()
}

func (s *BufferedSource) SetDrift(drift float64) {
	s.drift.SetDrift(drift)
}

func (s *BufferedSource) Drift() float64 {
	return s.drift.Drift()
}

// SetLatestFrame replaces the frame repeated while the queue is empty.
func (s *BufferedSource) SetLatestFrame(frame *media.Frame) {
	s.latest = frame
}

func (s *BufferedSource) NumberOfBuffers() int {
	return s.queue.Len()
}

func (s *BufferedSource) Stats() StatsSnapshot {
	duplicated, dropped, overflowed := s.stats.Totals()
	return StatsSnapshot{
		Duplicated: duplicated,
		Dropped:    dropped,
		Overflowed: overflowed,
		Buffers:    s.queue.Len(),
		Drift:      s.drift.Drift(),
		FillLevel:  s.drift.EstimatedFillLevel(),
		Target:     s.drift.TargetFillLevel(),
	}
}
