package jitter

// Stats counts repeated and skipped frames of a source.
type Stats struct {
	interval   float64
	lastReport float64
	reported   bool
	duplicated uint64
	dropped    uint64
	overflowed uint64
	periodDup  uint64
	periodDrop uint64
}

type StatsSnapshot struct {
	Duplicated uint64  `json:"duplicated"`
	Dropped    uint64  `json:"dropped"`
	Overflowed uint64  `json:"overflowed"`
	Buffers    int     `json:"buffers"`
	Drift      float64 `json:"drift"`
	FillLevel  float64 `json:"fill_level"`
	Target     float64 `json:"target"`
}

func NewStats(interval float64) *Stats {
	return &Stats{interval: interval}
}

func (s *Stats) IncrementDuplicated() {
	s.duplicated++
	s.periodDup++
}

func (s *Stats) IncrementDropped(count int) {
	s.dropped += uint64(count)
	s.periodDrop += uint64(count)
}

func (s *Stats) IncrementOverflowed() {
	s.overflowed++
}

// Report returns the counts of the current period once per interval of
// output time, and starts a new period.
func (s *Stats) Report(outputTime float64) (duplicated, dropped uint64, ok bool) {
	if !s.reported {
		s.reported = true
		s.lastReport = outputTime
		return 0, 0, false
	}
	if outputTime-s.lastReport < s.interval {
		return 0, 0, false
	}
	duplicated, dropped = s.periodDup, s.periodDrop
	s.periodDup, s.periodDrop = 0, 0
	s.lastReport = outputTime
	return duplicated, dropped, true
}

func (s *Stats) Totals() (duplicated, dropped, overflowed uint64) {
	return s.duplicated, s.dropped, s.overflowed
}
