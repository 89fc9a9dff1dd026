package whip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/cloudwebrtc/go-whip/pkg/media"
	rtpcodec "github.com/cloudwebrtc/go-whip/pkg/rtp"
	"github.com/cloudwebrtc/go-whip/pkg/session"
	"github.com/cloudwebrtc/go-whip/pkg/transport"
	"github.com/cloudwebrtc/go-whip/pkg/utils"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	maxAnswerSize         = 64 * 1024
)

var (
	ErrAlreadyStarted = errors.New("stream already started")
	ErrStreamClosed   = errors.New("stream closed")
)

// StreamObserver is notified from the stream queue. Callbacks must not
// block; calling Stop from them is fine.
type StreamObserver interface {
	OnConnected()
	OnDisconnected(reason string)
	// OnKeyFrameRequest reports a PLI or FIR from the remote side.
	OnKeyFrameRequest()
}

type StreamConfig struct {
	// URL of the WHIP endpoint. whip:// and whips:// stand for http:// and
	// https://.
	URL         string
	BearerToken string
	Factory     transport.Factory
	// ConnectTimeout closes the stream if it is not connected in time.
	ConnectTimeout time.Duration
	MTU            int
	HTTPClient     *http.Client
}

// Stream publishes one audio and one video track to a WHIP endpoint.
type Stream struct {
	cfg      StreamConfig
	endpoint string
	observer StreamObserver
	queue    *utils.TaskQueue

	mu   sync.Mutex
	sess *session.Session

	// owned by the queue
	epoch      uint64
	conn       transport.Connection
	videoTrack transport.LocalTrack
	audioTrack transport.LocalTrack
	video      *rtpcodec.H264Packetizer
	audio      *rtpcodec.OpusPacketizer
	format     *media.FormatParameters
	timer      *time.Timer
	cancel     context.CancelFunc
}

func NewStream(cfg StreamConfig, observer StreamObserver) (*Stream, error) {
	if cfg.Factory == nil {
		return nil, ErrNoFactory
	}
	endpoint, err := httpURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MTU <= 0 {
		cfg.MTU = rtpcodec.DefaultMTU
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Stream{
		cfg:      cfg,
		endpoint: endpoint,
		observer: observer,
		queue:    utils.NewTaskQueue("whip-stream"),
	}, nil
}

// httpURL maps the whip schemes onto http.
func httpURL(raw string) (string, error) {
	switch {
	case strings.HasPrefix(raw, "whip://"):
		raw = "http://" + strings.TrimPrefix(raw, "whip://")
	case strings.HasPrefix(raw, "whips://"):
		raw = "https://" + strings.TrimPrefix(raw, "whips://")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid WHIP url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid WHIP url %q: unsupported scheme", raw)
	}
	return u.String(), nil
}

// resolveLocation turns a Location header into an absolute URL.
func resolveLocation(endpoint, location string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func (s *Stream) session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

func (s *Stream) State() session.State {
	if sess := s.session(); sess != nil {
		return sess.State()
	}
	return session.Idle
}

// Reason tells why the last session closed.
func (s *Stream) Reason() string {
	if sess := s.session(); sess != nil {
		return sess.Reason()
	}
	return ""
}

func (s *Stream) Counters() session.CounterSnapshot {
	if sess := s.session(); sess != nil {
		return sess.Counters().Snapshot()
	}
	return session.CounterSnapshot{}
}

// Start begins a new session. A stream can be started again once the
// previous session is closed.
func (s *Stream) Start() error {
	var err error
	if !s.queue.Sync(func() { err = s.start() }) {
		return ErrStreamClosed
	}
	return err
}

func (s *Stream) start() error {
	if sess := s.session(); sess != nil && !sess.State().IsEnded() {
		return ErrAlreadyStarted
	}
	s.epoch++
	epoch := s.epoch
	sess := session.NewSession(uuid.New().String(), session.Outgoing, logger)
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
	sess.Log().Infof("Publishing to %s", s.endpoint)

	conn, err := s.cfg.Factory.NewConnection()
	if err != nil {
		sess.Log().Errorf("NewConnection: %v", err)
		s.closeSession(session.ReasonCreateTransport, true)
		return err
	}
	s.conn = conn

	// packetizers stamp the SSRCs the transport announces in the offer
	if s.videoTrack, err = conn.AddTrack(media.KindVideo); err != nil {
		s.closeSession(session.ReasonCreateTransport, true)
		return err
	}
	if s.audioTrack, err = conn.AddTrack(media.KindAudio); err != nil {
		s.closeSession(session.ReasonCreateTransport, true)
		return err
	}
	s.video = rtpcodec.NewH264Packetizer(s.videoTrack.SSRC(), rtpcodec.PayloadTypeH264, s.cfg.MTU, nil)
	s.video.SetFormat(s.format)
	s.audio = rtpcodec.NewOpusPacketizer(s.audioTrack.SSRC(), rtpcodec.PayloadTypeOpus, nil)

	conn.OnStateChange(func(state transport.ConnectionState) {
		s.queue.Dispatch(func() { s.handleStateChange(epoch, state) })
	})
	conn.OnKeyFrameRequest(func() {
		s.queue.Dispatch(func() {
			if s.current(epoch) && s.observer != nil {
				s.observer.OnKeyFrameRequest()
			}
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.timer = time.AfterFunc(s.cfg.ConnectTimeout, func() {
		s.queue.Dispatch(func() { s.handleTimeout(epoch) })
	})
	sess.Transition(session.Offering, "")
	go s.negotiate(ctx, epoch, conn)
	return nil
}

// current reports whether epoch is the live, not yet closed session.
func (s *Stream) current(epoch uint64) bool {
	sess := s.session()
	return epoch == s.epoch && sess != nil && !sess.State().IsEnded()
}

func (s *Stream) negotiate(ctx context.Context, epoch uint64, conn transport.Connection) {
	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		s.queue.Dispatch(func() {
			if s.current(epoch) {
				s.session().Log().Warnf("CreateOffer: %v", err)
				s.closeSession(session.ReasonCreateOffer, true)
			}
		})
		return
	}
	live := false
	if !s.queue.Sync(func() {
		if live = s.current(epoch); live {
			sess := s.session()
			sess.SetOffer(offer)
			sess.Transition(session.AwaitingAnswer, "")
		}
	}) || !live {
		return
	}

	logger.Infof("Sending SDP offer to %s", s.endpoint)
	resp, err := s.post(ctx, offer)
	s.queue.Dispatch(func() { s.handleResponse(epoch, resp, err) })
}

type answerResponse struct {
	status   int
	location string
	answer   string
}

func (s *Stream) post(ctx context.Context, offer string) (*answerResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(offer))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeSDP)
	if s.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerSize))
	if err != nil {
		return nil, err
	}
	return &answerResponse{
		status:   resp.StatusCode,
		location: resp.Header.Get("Location"),
		answer:   string(body),
	}, nil
}

func (s *Stream) handleResponse(epoch uint64, resp *answerResponse, err error) {
	sess := s.session()
	if !s.current(epoch) || sess.State() != session.AwaitingAnswer {
		logger.Debugf("Dropping late WHIP response")
		return
	}
	if err != nil {
		sess.Log().Infof("HTTP request failed: %v", err)
		s.closeSession(fmt.Sprintf("HTTP request failed: %v", err), true)
		return
	}
	if resp.status < 200 || resp.status > 299 {
		sess.Log().Infof("HTTP response status %d", resp.status)
		s.closeSession(fmt.Sprintf("HTTP response status %d", resp.status), true)
		return
	}
	if resp.location != "" {
		resource, err := resolveLocation(s.endpoint, resp.location)
		if err != nil {
			sess.Log().Warnf("Ignoring bad Location %q: %v", resp.location, err)
		} else {
			sess.SetResource(resource)
		}
	}
	if strings.TrimSpace(resp.answer) == "" {
		s.closeSession("No SDP answer in response", true)
		return
	}
	sess.Log().Infof("Received SDP answer")
	sess.SetAnswer(resp.answer)
	if err := s.conn.SetAnswer(resp.answer); err != nil {
		sess.Log().Warnf("SetAnswer: %v", err)
		s.closeSession(session.ReasonRemoteDescription, true)
	}
}

func (s *Stream) handleStateChange(epoch uint64, state transport.ConnectionState) {
	if !s.current(epoch) {
		return
	}
	sess := s.session()
	sess.Log().Infof("Peer connection state: %s", state)
	switch state {
	case transport.StateConnected:
		if !sess.Transition(session.Connected, "") {
			return
		}
		s.timer.Stop()
		if s.observer != nil {
			s.observer.OnConnected()
		}
	case transport.StateDisconnected:
		s.closeSession(session.ReasonDisconnected, true)
	case transport.StateFailed:
		s.closeSession(session.ReasonFailed, true)
	case transport.StateClosed:
		s.closeSession(session.ReasonClosed, true)
	}
}

func (s *Stream) handleTimeout(epoch uint64) {
	if !s.current(epoch) || s.session().State() == session.Connected {
		return
	}
	s.closeSession(session.ReasonConnectTimeout, true)
}

// closeSession runs on the queue. The DELETE is sent before the transport is
// released; its outcome is ignored.
func (s *Stream) closeSession(reason string, notify bool) {
	sess := s.session()
	if sess == nil || !sess.Transition(session.Closed, reason) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if resource := sess.Resource(); resource != "" {
		go s.sendDelete(resource)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			sess.Log().Warnf("Close: %v", err)
		}
		s.conn = nil
	}
	s.videoTrack, s.audioTrack = nil, nil
	if notify && s.observer != nil {
		s.observer.OnDisconnected(reason)
	}
}

func (s *Stream) sendDelete(resource string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resource, nil)
	if err != nil {
		return
	}
	if s.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		logger.Debugf("DELETE %s: %v", resource, err)
		return
	}
	resp.Body.Close()
	logger.Debugf("DELETE %s: %s", resource, resp.Status)
}

// Stop closes the session from any state. It returns without waiting for
// the network; no callback fires for the session afterwards.
func (s *Stream) Stop() {
	s.queue.Dispatch(func() { s.closeSession(session.ReasonStopped, false) })
}

// Close stops the stream for good and waits for queued work to finish.
func (s *Stream) Close() {
	s.Stop()
	s.queue.Close()
	<-s.queue.Done()
}

// SetVideoFormat sets the SPS/PPS sent ahead of every sync frame.
func (s *Stream) SetVideoFormat(format *media.FormatParameters) {
	s.queue.Dispatch(func() {
		s.format = format
		if s.video != nil {
			s.video.SetFormat(format)
		}
	})
}

// WriteVideo sends an encoded access unit. Frames written before the stream
// is connected are dropped.
func (s *Stream) WriteVideo(frame *media.Frame) {
	s.queue.Dispatch(func() {
		if s.video == nil || s.videoTrack == nil || s.State() != session.Connected {
			return
		}
		packets, err := s.video.Packetize(frame)
		if err != nil {
			logger.Debugf("Packetize video: %v", err)
			return
		}
		s.send(s.videoTrack, packets)
	})
}

// WriteAudio sends one encoded Opus frame.
func (s *Stream) WriteAudio(frame *media.Frame) {
	s.queue.Dispatch(func() {
		if s.audio == nil || s.audioTrack == nil || s.State() != session.Connected {
			return
		}
		packets, err := s.audio.Packetize(frame)
		if err != nil {
			logger.Debugf("Packetize audio: %v", err)
			return
		}
		s.send(s.audioTrack, packets)
	})
}

func (s *Stream) send(track transport.LocalTrack, packets []*rtp.Packet) {
	counters := s.session().Counters()
	for _, pkt := range packets {
		if err := track.WriteRTP(pkt); err != nil {
			logger.Debugf("WriteRTP %s: %v", track.Kind(), err)
			return
		}
		counters.AddPacket(track.Kind(), pkt.MarshalSize())
	}
}
