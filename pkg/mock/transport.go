package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/rtp"

	"github.com/cloudwebrtc/go-whip/pkg/media"
	rtpcodec "github.com/cloudwebrtc/go-whip/pkg/rtp"
	"github.com/cloudwebrtc/go-whip/pkg/transport"
)

var ErrInjected = errors.New("injected failure")

// Track records every packet written to it.
type Track struct {
	kind media.Kind
	ssrc uint32

	mu      sync.Mutex
	packets []*rtp.Packet
}

func (t *Track) Kind() media.Kind {
	return t.kind
}

func (t *Track) SSRC() uint32 {
	return t.ssrc
}

func (t *Track) WriteRTP(pkt *rtp.Packet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packets = append(t.packets, pkt)
	return nil
}

func (t *Track) Packets() []*rtp.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*rtp.Packet(nil), t.packets...)
}

// Connection is an in-memory transport.Connection. Tests drive its callbacks
// with SetState, EmitTrack, EmitRTP and EmitKeyFrameRequest.
type Connection struct {
	OfferSDP  string
	AnswerSDP string

	CreateOfferErr  error
	CreateAnswerErr error
	SetAnswerErr    error

	mu               sync.Mutex
	stateHandler     func(transport.ConnectionState)
	trackHandler     func(transport.TrackInfo)
	rtpHandler       func(transport.TrackInfo, *rtp.Packet)
	keyFrameHandler  func()
	tracks           []*Track
	remoteOffer      string
	remoteAnswer     string
	keyFrameRequests int
	closed           int
}

func NewConnection() *Connection {
	return &Connection{OfferSDP: Offer, AnswerSDP: Answer}
}

func (c *Connection) OnStateChange(handler func(transport.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandler = handler
}

func (c *Connection) OnTrack(handler func(transport.TrackInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackHandler = handler
}

func (c *Connection) OnRTP(handler func(transport.TrackInfo, *rtp.Packet)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtpHandler = handler
}

func (c *Connection) OnKeyFrameRequest(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyFrameHandler = handler
}

// AddTrack picks a random SSRC not used by another track of c.
func (c *Connection) AddTrack(kind media.Kind) (transport.LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return nil, transport.ErrClosed
	}
	ssrc := rtpcodec.NewSSRC()
	for c.hasSSRC(ssrc) {
		ssrc = rtpcodec.NewSSRC()
	}
	track := &Track{kind: kind, ssrc: ssrc}
	c.tracks = append(c.tracks, track)
	return track, nil
}

func (c *Connection) hasSSRC(ssrc uint32) bool {
	for _, t := range c.tracks {
		if t.ssrc == ssrc {
			return true
		}
	}
	return false
}

func (c *Connection) CreateOffer(ctx context.Context) (string, error) {
	if c.CreateOfferErr != nil {
		return "", c.CreateOfferErr
	}
	return c.OfferSDP, ctx.Err()
}

func (c *Connection) CreateAnswer(ctx context.Context, offer string) (string, error) {
	c.mu.Lock()
	c.remoteOffer = offer
	c.mu.Unlock()
	if c.CreateAnswerErr != nil {
		return "", c.CreateAnswerErr
	}
	return c.AnswerSDP, ctx.Err()
}

func (c *Connection) SetAnswer(answer string) error {
	c.mu.Lock()
	c.remoteAnswer = answer
	c.mu.Unlock()
	return c.SetAnswerErr
}

func (c *Connection) RequestKeyFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyFrameRequests++
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *Connection) SetState(state transport.ConnectionState) {
	c.mu.Lock()
	handler := c.stateHandler
	c.mu.Unlock()
	if handler != nil {
		handler(state)
	}
}

func (c *Connection) EmitTrack(info transport.TrackInfo) {
	c.mu.Lock()
	handler := c.trackHandler
	c.mu.Unlock()
	if handler != nil {
		handler(info)
	}
}

func (c *Connection) EmitRTP(info transport.TrackInfo, pkt *rtp.Packet) {
	c.mu.Lock()
	handler := c.rtpHandler
	c.mu.Unlock()
	if handler != nil {
		handler(info, pkt)
	}
}

func (c *Connection) EmitKeyFrameRequest() {
	c.mu.Lock()
	handler := c.keyFrameHandler
	c.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (c *Connection) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Track(nil), c.tracks...)
}

func (c *Connection) Track(kind media.Kind) *Track {
	for _, t := range c.Tracks() {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

func (c *Connection) RemoteOffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteOffer
}

func (c *Connection) RemoteAnswer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAnswer
}

func (c *Connection) KeyFrameRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyFrameRequests
}

func (c *Connection) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Factory hands out Connections and remembers them.
type Factory struct {
	// Err makes NewConnection fail.
	Err error
	// Configure runs on each new connection before it is returned.
	Configure func(*Connection)

	mu          sync.Mutex
	connections []*Connection
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NewConnection() (transport.Connection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewConnection()
	if f.Configure != nil {
		f.Configure(c)
	}
	f.mu.Lock()
	f.connections = append(f.connections, c)
	f.mu.Unlock()
	return c, nil
}

func (f *Factory) Connections() []*Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Connection(nil), f.connections...)
}

// Last returns the most recently created connection or nil.
func (f *Factory) Last() *Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connections) == 0 {
		return nil
	}
	return f.connections[len(f.connections)-1]
}
