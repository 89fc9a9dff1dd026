package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/ghettovoice/gosip/log"
)

// Session holds the lifecycle bookkeeping shared by ingest and egress
// sessions: identity, state, negotiated descriptions and traffic counters.
type Session struct {
	lock      sync.Mutex
	id        string
	direction Direction
	state     State
	reason    string
	offer     string
	answer    string
	resource  string
	created   time.Time
	connected time.Time
	counters  Counters
	logger    log.Logger
}

func NewSession(id string, dir Direction, logger log.Logger) *Session {
	s := &Session{
		id:        id,
		direction: dir,
		state:     InitialState(dir),
		created:   time.Now(),
		logger:    logger.WithFields(log.Fields{"session": id}),
	}
	return s
}

func (s *Session) Log() log.Logger {
	return s.logger
}

func (s *Session) String() string {
	return fmt.Sprintf("%s session %s (%s)", s.direction, s.id, s.State())
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Direction() Direction {
	return s.direction
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Reason is set when the session closed.
func (s *Session) Reason() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.reason
}

// Transition moves the session to state. Transitions not allowed from the
// current state are logged and ignored; it reports whether the state
// changed.
func (s *Session) Transition(to State, reason string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !CanTransition(s.direction, s.state, to) {
		if s.state != to {
			s.logger.Errorf("invalid transition %s -> %s", s.state, to)
		}
		return false
	}
	s.logger.Infof("%s -> %s %s", s.state, to, reason)
	s.state = to
	switch to {
	case Connected:
		s.connected = time.Now()
	case Closed:
		s.reason = reason
	}
	return true
}

func (s *Session) Offer() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.offer
}

func (s *Session) SetOffer(sdp string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.offer = sdp
}

func (s *Session) Answer() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.answer
}

func (s *Session) SetAnswer(sdp string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.answer = sdp
}

// Resource is the URL that deletes the session on the remote side.
func (s *Session) Resource() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.resource
}

func (s *Session) SetResource(url string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.resource = url
}

func (s *Session) Counters() *Counters {
	return &s.counters
}

type Info struct {
	ID        string          `json:"id"`
	Direction Direction       `json:"direction"`
	State     State           `json:"state"`
	Reason    string          `json:"reason,omitempty"`
	Created   time.Time       `json:"created"`
	Uptime    float64         `json:"uptime"`
	Counters  CounterSnapshot `json:"counters"`
}

func (s *Session) Info() Info {
	s.lock.Lock()
	defer s.lock.Unlock()
	info := Info{
		ID:        s.id,
		Direction: s.direction,
		State:     s.state,
		Reason:    s.reason,
		Created:   s.created,
		Counters:  s.counters.Snapshot(),
	}
	if s.state == Connected {
		info.Uptime = time.Since(s.connected).Seconds()
	}
	return info
}
