package transport

import (
	"context"
	"errors"

	"github.com/ghettovoice/gosip/log"
	"github.com/pion/rtp"

	"github.com/cloudwebrtc/go-whip/pkg/media"
	"github.com/cloudwebrtc/go-whip/pkg/utils"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrNoVideoTrack = errors.New("no remote video track")
	ErrNoEncoding   = errors.New("sender has no encoding")

	logger log.Logger
)

func init() {
	logger = utils.NewLogrusLogger(utils.DefaultLogLevel, "Transport", nil)
}

type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// TrackInfo describes a negotiated remote track.
type TrackInfo struct {
	ID          string
	Kind        media.Kind
	SSRC        uint32
	PayloadType uint8
	MimeType    string
}

// LocalTrack sends RTP to the remote peer.
type LocalTrack interface {
	Kind() media.Kind
	SSRC() uint32
	WriteRTP(pkt *rtp.Packet) error
}

// Connection is the narrow view of a peer connection used by the WHIP
// state machines. Handlers must be installed before the offer/answer
// exchange and may be called from transport goroutines.
type Connection interface {
	OnStateChange(handler func(ConnectionState))
	OnTrack(handler func(TrackInfo))
	OnRTP(handler func(TrackInfo, *rtp.Packet))
	OnKeyFrameRequest(handler func())

	// AddTrack adds a sendonly track; its SSRC is chosen by the transport.
	AddTrack(kind media.Kind) (LocalTrack, error)
	// CreateOffer returns the local offer once ICE gathering completed.
	CreateOffer(ctx context.Context) (string, error)
	// CreateAnswer applies the remote offer and returns the local answer
	// once ICE gathering completed.
	CreateAnswer(ctx context.Context, offer string) (string, error)
	SetAnswer(answer string) error
	RequestKeyFrame() error
	Close() error
}

type Factory interface {
	NewConnection() (Connection, error)
}
