package whip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/tevino/abool"

	"github.com/cloudwebrtc/go-whip/pkg/config"
	"github.com/cloudwebrtc/go-whip/pkg/jitter"
	"github.com/cloudwebrtc/go-whip/pkg/media"
	"github.com/cloudwebrtc/go-whip/pkg/registry"
	rtpcodec "github.com/cloudwebrtc/go-whip/pkg/rtp"
	"github.com/cloudwebrtc/go-whip/pkg/session"
	"github.com/cloudwebrtc/go-whip/pkg/transport"
	"github.com/cloudwebrtc/go-whip/pkg/utils"
)

const defaultAnswerTimeout = 10 * time.Second

var (
	ErrNoFactory     = errors.New("no transport factory")
	ErrServerClosed  = errors.New("server closed")
	ErrSessionClosed = errors.New("session closed during negotiation")
)

// Observer is notified about ingest sessions. Callbacks run on the server
// queue, OnFrame also on jitter output goroutines, so they must not block
// and must not call the blocking Server queries.
type Observer interface {
	OnPublishStart(id string)
	OnPublishStop(id string, reason string)
	OnFrame(id string, frame *media.Frame)
}

// SourceReadyObserver is optionally implemented by an Observer to learn when
// a session's jitter buffer finished initial buffering for one media kind.
type SourceReadyObserver interface {
	OnSourceReady(id string, kind media.Kind)
}

type ServerConfig struct {
	// Path is the WHIP endpoint; sessions live below it.
	Path    string
	Factory transport.Factory
	// Jitter, when enabled, paces each session's frames through a
	// jitter.Pipeline before they reach the observers.
	Jitter *config.JitterConfig
	// AnswerTimeout bounds ICE gathering for the answer.
	AnswerTimeout time.Duration
	Clock         media.Clock
}

// ingestSession is only touched from the server queue, except for the
// atomic counters in session.Session.
type ingestSession struct {
	*session.Session
	offer    *OfferInfo
	conn     transport.Connection
	rebaser  *rtpcodec.Rebaser
	video    *rtpcodec.H264Depacketizer
	audio    *rtpcodec.OpusDepacketizer
	pipeline *jitter.Pipeline
	latency  float64

	formatSeen bool
}

// Server accepts WHIP offers and owns the resulting ingest sessions.
type Server struct {
	cfg      ServerConfig
	queue    *utils.TaskQueue
	sessions registry.Registry[*ingestSession]
	closed   *abool.AtomicBool

	mu        sync.RWMutex
	observers []Observer
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Factory == nil {
		return nil, ErrNoFactory
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	cfg.Path = "/" + strings.Trim(cfg.Path, "/")
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = defaultAnswerTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = media.NewMonotonicClock()
	}
	return &Server{
		cfg:      cfg,
		queue:    utils.NewTaskQueue("whip-server"),
		sessions: registry.NewMemoryRegistry[*ingestSession](),
		closed:   abool.New(),
	}, nil
}

func (s *Server) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Server) notify(fn func(Observer)) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger.Debugf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
	switch {
	case r.URL.Path == s.cfg.Path:
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		s.handleOffer(w, r)
	case strings.HasPrefix(r.URL.Path, s.cfg.Path+"/"):
		if r.Method != http.MethodDelete {
			http.NotFound(w, r)
			return
		}
		s.handleDelete(w, r, strings.TrimPrefix(r.URL.Path, s.cfg.Path+"/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferSize+1))
	if err != nil {
		http.Error(w, "failed to read offer", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.NotFound(w, r)
		return
	}
	if len(body) > maxOfferSize {
		http.Error(w, "offer too large", http.StatusRequestEntityTooLarge)
		return
	}
	offer, info, err := ParseOffer(string(body))
	if err != nil {
		logger.Warnf("Rejecting offer from %s: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.Debugf("Received SDP offer from %s", r.RemoteAddr)

	var sess *ingestSession
	if !s.queue.Sync(func() { sess, err = s.createSession(offer, info) }) {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Gathering may take seconds; it must not hold up the queue.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AnswerTimeout)
	defer cancel()
	answer, err := sess.conn.CreateAnswer(ctx, offer.SDP)

	if !s.queue.Sync(func() { err = s.completeNegotiation(sess, answer, err, ctx.Err() != nil) }) {
		err = ErrServerClosed
	}
	if err != nil {
		sess.Log().Warnf("Negotiation failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeSDP)
	w.Header().Set("Location", s.cfg.Path+"/"+sess.ID())
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, answer)
}

func (s *Server) createSession(offer *media.Description, info *OfferInfo) (*ingestSession, error) {
	id := uuid.New().String()
	sess := &ingestSession{
		Session: session.NewSession(id, session.Incoming, logger),
		offer:   info,
		rebaser: rtpcodec.NewRebaser(s.cfg.Clock),
	}
	sess.SetOffer(offer.SDP)
	sess.video = rtpcodec.NewH264Depacketizer(sess.rebaser)
	sess.audio = rtpcodec.NewOpusDepacketizer(sess.rebaser)
	sess.video.OnFormatChange(func(format *media.FormatParameters) {
		sess.Log().Infof("H.264 format changed, sps %d bytes, pps %d bytes", len(format.SPS), len(format.PPS))
		if sess.formatSeen {
			s.requestKeyFrame(sess)
		}
		sess.formatSeen = true
	})

	conn, err := s.cfg.Factory.NewConnection()
	if err != nil {
		sess.Log().Errorf("NewConnection: %v", err)
		sess.Transition(session.Closed, session.ReasonCreateTransport)
		return nil, fmt.Errorf("%s: %w", session.ReasonCreateTransport, err)
	}
	sess.conn = conn

	if s.cfg.Jitter != nil && s.cfg.Jitter.Enabled {
		sess.latency = s.cfg.Jitter.Latency
		sess.pipeline = jitter.NewPipeline(s.cfg.Jitter.Pipeline(id), s.cfg.Clock)
		// closeSession stops the pipeline before OnPublishStop, and Stop
		// waits for a running output callback.
		sess.pipeline.OnOutput(func(out jitter.Output) {
			if sess.State().IsEnded() {
				return
			}
			s.notify(func(o Observer) { o.OnFrame(id, out.Frame) })
		})
		// OnReady runs under the pipeline lock.
		sess.pipeline.OnReady(func(kind media.Kind) {
			s.queue.Dispatch(func() { s.sourceReady(sess, kind) })
		})
	}

	conn.OnStateChange(func(state transport.ConnectionState) {
		s.queue.Dispatch(func() { s.handleStateChange(sess, state) })
	})
	conn.OnTrack(func(track transport.TrackInfo) {
		s.queue.Dispatch(func() { s.handleTrack(sess, track) })
	})
	conn.OnRTP(func(track transport.TrackInfo, pkt *rtp.Packet) {
		sess.Counters().AddPacket(track.Kind, pkt.MarshalSize())
		s.queue.Dispatch(func() { s.handlePacket(sess, track, pkt) })
	})

	if err := s.sessions.Add(id, sess); err != nil {
		_ = conn.Close()
		return nil, err
	}
	sess.Transition(session.Negotiating, "")
	return sess, nil
}

func (s *Server) completeNegotiation(sess *ingestSession, answer string, err error, timedOut bool) error {
	if sess.State().IsEnded() {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sess.Reason())
	}
	if err != nil {
		reason := session.ReasonHandleOffer
		if timedOut {
			reason = session.ReasonLocalDescription
		}
		s.closeSession(sess, reason)
		return fmt.Errorf("%s: %w", reason, err)
	}
	sess.SetAnswer(answer)
	sess.Log().Debugf("Answer ready")
	return nil
}

func (s *Server) handleStateChange(sess *ingestSession, state transport.ConnectionState) {
	if sess.State().IsEnded() {
		return
	}
	sess.Log().Infof("Connection state: %s", state)
	switch state {
	case transport.StateConnected:
		if !sess.Transition(session.Connected, "") {
			return
		}
		if sess.pipeline != nil {
			sess.pipeline.Start()
		}
		s.notify(func(o Observer) { o.OnPublishStart(sess.ID()) })
	case transport.StateDisconnected:
		s.closeSession(sess, session.ReasonDisconnected)
	case transport.StateFailed:
		s.closeSession(sess, session.ReasonFailed)
	case transport.StateClosed:
		s.closeSession(sess, session.ReasonClosed)
	}
}

func (s *Server) handleTrack(sess *ingestSession, track transport.TrackInfo) {
	if sess.State().IsEnded() {
		return
	}
	sess.Log().Infof("Incoming %s track ssrc %d (%s)", track.Kind, track.SSRC, track.MimeType)
	if track.Kind == media.KindVideo {
		if want := sess.offer.Video.SSRC; want != 0 && want != track.SSRC {
			sess.Log().Debugf("video ssrc %d differs from offered %d", track.SSRC, want)
		}
		s.requestKeyFrame(sess)
	}
}

func (s *Server) handlePacket(sess *ingestSession, track transport.TrackInfo, pkt *rtp.Packet) {
	if sess.State().IsEnded() {
		return
	}
	switch track.Kind {
	case media.KindVideo:
		before := sess.video.Malformed
		frames := sess.video.Depacketize(pkt)
		countMalformed(sess, sess.video.Malformed-before)
		for _, frame := range frames {
			s.deliver(sess, frame)
		}
	case media.KindAudio:
		before := sess.audio.Malformed
		frame := sess.audio.Depacketize(pkt)
		countMalformed(sess, sess.audio.Malformed-before)
		if frame != nil {
			s.deliver(sess, frame)
		}
	}
}

func countMalformed(sess *ingestSession, n uint64) {
	for ; n > 0; n-- {
		sess.Counters().AddMalformed()
	}
}

func (s *Server) deliver(sess *ingestSession, frame *media.Frame) {
	if sess.pipeline == nil {
		s.notify(func(o Observer) { o.OnFrame(sess.ID(), frame) })
		return
	}
	// frames become due latency seconds after they arrived
	pts := frame.PresentationTime
	sess.pipeline.Push(frame.WithPresentationTime(pts.Add(media.TimeFromSeconds(sess.latency, pts.Scale))))
}

func (s *Server) sourceReady(sess *ingestSession, kind media.Kind) {
	if sess.State().IsEnded() {
		return
	}
	sess.Log().Infof("%s source ready", kind)
	s.notify(func(o Observer) {
		if ro, ok := o.(SourceReadyObserver); ok {
			ro.OnSourceReady(sess.ID(), kind)
		}
	})
}

func (s *Server) requestKeyFrame(sess *ingestSession) {
	if err := sess.conn.RequestKeyFrame(); err != nil {
		sess.Log().Debugf("RequestKeyFrame: %v", err)
	}
}

// closeSession tears sess down once; later calls are no-ops.
func (s *Server) closeSession(sess *ingestSession, reason string) {
	if !sess.Transition(session.Closed, reason) {
		return
	}
	if sess.pipeline != nil {
		sess.pipeline.Stop()
	}
	if err := sess.conn.Close(); err != nil {
		sess.Log().Warnf("Close: %v", err)
	}
	if _, err := s.sessions.Remove(sess.ID()); err != nil {
		sess.Log().Debugf("Remove: %v", err)
	}
	s.notify(func(o Observer) { o.OnPublishStop(sess.ID(), reason) })
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := uuid.Parse(id); err != nil {
		http.NotFound(w, r)
		return
	}
	logger.Infof("Received DELETE for session %s", id)
	found := false
	if !s.queue.Sync(func() {
		sess, ok := s.sessions.Get(id)
		if !ok {
			return
		}
		found = true
		s.closeSession(sess, session.ReasonClientDisconnect)
	}) {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) IsClientConnected(id string) bool {
	connected := false
	s.queue.Sync(func() {
		_, connected = s.sessions.Get(id)
	})
	return connected
}

func (s *Server) NumberOfClients() int {
	n := 0
	s.queue.Sync(func() {
		n = s.sessions.Len()
	})
	return n
}

// SessionStats is the monitoring view of one ingest session.
type SessionStats struct {
	session.Info
	Offer  *OfferInfo                      `json:"offer,omitempty"`
	Jitter map[string]jitter.StatsSnapshot `json:"jitter,omitempty"`
}

// Sessions lists the live sessions, oldest first.
func (s *Server) Sessions() []session.Info {
	stats := s.Stats()
	infos := make([]session.Info, 0, len(stats))
	for _, st := range stats {
		infos = append(infos, st.Info)
	}
	return infos
}

func (s *Server) Stats() []SessionStats {
	var stats []SessionStats
	s.queue.Sync(func() {
		for _, sess := range s.sessions.All() {
			st := SessionStats{Info: sess.Info(), Offer: sess.offer}
			if sess.pipeline != nil {
				st.Jitter = sess.pipeline.Stats()
			}
			stats = append(stats, st)
		}
	})
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Created.Before(stats[j].Created)
	})
	return stats
}

// Close terminates every session and stops the server queue. HTTP requests
// arriving afterwards get 503.
func (s *Server) Close() {
	if !s.closed.SetToIf(false, true) {
		return
	}
	s.queue.Sync(func() {
		for _, sess := range s.sessions.All() {
			s.closeSession(sess, session.ReasonServerShutdown)
		}
	})
	s.queue.Close()
	<-s.queue.Done()
	logger.Infof("Stopped")
}
