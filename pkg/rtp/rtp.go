package rtp

import (
	"errors"
	"math/rand"

	"github.com/ghettovoice/gosip/log"
	"github.com/pion/rtp"

	"github.com/cloudwebrtc/go-whip/pkg/utils"
)

const (
	// DefaultMTU is the largest RTP payload produced by the packetizers.
	DefaultMTU = 1200

	PayloadTypeH264 = 96
	PayloadTypeOpus = 111

	headerSize = 12
)

var (
	ErrMalformedPacket = errors.New("malformed rtp packet")
	ErrEmptyFrame      = errors.New("frame has no payload")

	logger log.Logger
)

func init() {
	logger = utils.NewLogrusLogger(utils.DefaultLogLevel, "RTP", nil)
}

// NewSSRC returns a random non-zero synchronization source.
func NewSSRC() uint32 {
	for {
		if v := rand.Uint32(); v != 0 {
			return v
		}
	}
}

// Sequencer hands out consecutive 16-bit sequence numbers for one track.
type Sequencer struct {
	next uint16
}

func NewSequencer() *Sequencer {
	return &Sequencer{next: uint16(rand.Uint32())}
}

func NewSequencerAt(start uint16) *Sequencer {
	return &Sequencer{next: start}
}

func (s *Sequencer) Next() uint16 {
	v := s.next
	s.next++
	return v
}

// ParsePacket decodes a raw RTP datagram. Packets that are not version 2 or
// carry no payload are rejected.
func ParsePacket(buf []byte) (*rtp.Packet, error) {
	if len(buf) < headerSize {
		return nil, ErrMalformedPacket
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, err
	}
	if pkt.Version != 2 || len(pkt.Payload) == 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func newPacket(pt uint8, seq uint16, ts, ssrc uint32, marker bool, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
}

// isNewer reports whether a comes after b in 16-bit sequence space.
func isNewer(a, b uint16) bool {
	return a != b && a-b < 0x8000
}
