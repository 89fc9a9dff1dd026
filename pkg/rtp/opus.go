package rtp

import (
	"github.com/pion/rtp"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

// OpusPacketizer sends each Opus packet of a frame as one RTP packet.
type OpusPacketizer struct {
	ssrc        uint32
	payloadType uint8
	seq         *Sequencer
}

func NewOpusPacketizer(ssrc uint32, payloadType uint8, seq *Sequencer) *OpusPacketizer {
	if seq == nil {
		seq = NewSequencer()
	}
	return &OpusPacketizer{ssrc: ssrc, payloadType: payloadType, seq: seq}
}

func (p *OpusPacketizer) Packetize(frame *media.Frame) ([]*rtp.Packet, error) {
	if len(frame.Payload) == 0 {
		return nil, ErrEmptyFrame
	}
	ts := uint32(frame.PresentationTime.Rescale(media.OpusClockRate).Value)
	if len(frame.PacketSizes) <= 1 {
		return []*rtp.Packet{newPacket(p.payloadType, p.seq.Next(), ts, p.ssrc, false, frame.Payload)}, nil
	}

	var packets []*rtp.Packet
	offset := 0
	for _, size := range frame.PacketSizes {
		if size <= 0 || offset+size > len(frame.Payload) {
			return nil, ErrMalformedPacket
		}
		payload := frame.Payload[offset : offset+size]
		packets = append(packets, newPacket(p.payloadType, p.seq.Next(), ts, p.ssrc, false, payload))
		ts += uint32(OpusFrameDuration(payload).Rescale(media.OpusClockRate).Value)
		offset += size
	}
	return packets, nil
}

// OpusDepacketizer emits one frame per RTP packet.
type OpusDepacketizer struct {
	rebaser   *Rebaser
	unwrapper Unwrapper
	format    *media.FormatParameters
	Malformed uint64
}

func NewOpusDepacketizer(rebaser *Rebaser) *OpusDepacketizer {
	return &OpusDepacketizer{rebaser: rebaser, format: media.OpusFormat()}
}

func (d *OpusDepacketizer) Depacketize(pkt *rtp.Packet) *media.Frame {
	if len(pkt.Payload) == 0 {
		d.Malformed++
		return nil
	}
	pts := media.NewTime(d.unwrapper.Unwrap(pkt.Timestamp), media.OpusClockRate)
	if d.rebaser != nil {
		pts = d.rebaser.Rebase(media.KindAudio, pts)
	}
	payload := append([]byte(nil), pkt.Payload...)
	frame := media.NewFrame(media.KindAudio, payload, pts, OpusFrameDuration(payload))
	frame.Format = d.format
	return frame
}

// OpusFrameDuration reads the TOC byte of an Opus packet (RFC 6716 3.1) and
// returns the audio duration it carries. Unknown layouts default to 20 ms.
func OpusFrameDuration(packet []byte) media.Time {
	def := media.NewTime(960, media.OpusClockRate)
	if len(packet) == 0 {
		return def
	}
	toc := packet[0]
	config := toc >> 3

	var samples int64
	switch {
	case config < 12:
		// SILK: 10, 20, 40, 60 ms
		samples = []int64{480, 960, 1920, 2880}[config%4]
	case config < 16:
		// Hybrid: 10, 20 ms
		samples = []int64{480, 960}[config%2]
	default:
		// CELT: 2.5, 5, 10, 20 ms
		samples = []int64{120, 240, 480, 960}[config%4]
	}

	frames := int64(1)
	switch toc & 0x03 {
	case 1, 2:
		frames = 2
	case 3:
		if len(packet) < 2 {
			return def
		}
		frames = int64(packet[1] & 0x3F)
		if frames == 0 {
			return def
		}
	}
	return media.NewTime(samples*frames, media.OpusClockRate)
}
