package rtp

import (
	"encoding/binary"

	"github.com/pion/rtp"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

const (
	nalTypeSTAPA = 24
	nalTypeFUA   = 28

	fuStartBit = 0x80
	fuEndBit   = 0x40
	fuaHeader  = 2
)

// H264Packetizer turns access units into RTP packets (RFC 6184,
// packetization-mode=1). Small NAL units are sent as single NAL unit
// packets, large ones as FU-A fragments.
type H264Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	seq         *Sequencer
	sps         []byte
	pps         []byte
}

func NewH264Packetizer(ssrc uint32, payloadType uint8, mtu int, seq *Sequencer) *H264Packetizer {
	if mtu <= fuaHeader {
		mtu = DefaultMTU
	}
	if seq == nil {
		seq = NewSequencer()
	}
	return &H264Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		seq:         seq,
	}
}

// SetFormat caches the parameter sets sent ahead of every sync frame.
func (p *H264Packetizer) SetFormat(format *media.FormatParameters) {
	if format == nil {
		return
	}
	if len(format.SPS) > 0 {
		p.sps = append([]byte(nil), format.SPS...)
	}
	if len(format.PPS) > 0 {
		p.pps = append([]byte(nil), format.PPS...)
	}
}

func (p *H264Packetizer) Packetize(frame *media.Frame) ([]*rtp.Packet, error) {
	if frame.Format != nil {
		p.SetFormat(frame.Format)
	}
	nals, err := frame.NALUnits()
	if err != nil {
		return nil, err
	}

	units := make([][]byte, 0, len(nals)+2)
	hasParameterSets := false
	for _, nal := range nals {
		switch media.NALType(nal) {
		case media.NALTypeAUD:
			continue
		case media.NALTypeSPS, media.NALTypePPS:
			hasParameterSets = true
		}
		units = append(units, nal)
	}
	if len(units) == 0 {
		return nil, ErrEmptyFrame
	}
	if frame.IsSync && !hasParameterSets && len(p.sps) > 0 && len(p.pps) > 0 {
		units = append([][]byte{p.sps, p.pps}, units...)
	}

	ts := uint32(frame.PresentationTime.Rescale(media.H264ClockRate).Value)
	var packets []*rtp.Packet
	for i, nal := range units {
		last := i == len(units)-1
		if len(nal) <= p.mtu {
			packets = append(packets, newPacket(p.payloadType, p.seq.Next(), ts, p.ssrc, last, nal))
			continue
		}
		packets = append(packets, p.fragment(nal, ts, last)...)
	}
	return packets, nil
}

func (p *H264Packetizer) fragment(nal []byte, ts uint32, lastNAL bool) []*rtp.Packet {
	indicator := nal[0]&0xE0 | nalTypeFUA
	nalType := nal[0] & 0x1F
	data := nal[1:]
	chunk := p.mtu - fuaHeader

	var packets []*rtp.Packet
	for offset := 0; offset < len(data); offset += chunk {
		end := offset + chunk
		if end > len(data) {
			end = len(data)
		}
		header := nalType
		if offset == 0 {
			header |= fuStartBit
		}
		if end == len(data) {
			header |= fuEndBit
		}
		payload := make([]byte, 0, fuaHeader+end-offset)
		payload = append(payload, indicator, header)
		payload = append(payload, data[offset:end]...)
		marker := lastNAL && end == len(data)
		packets = append(packets, newPacket(p.payloadType, p.seq.Next(), ts, p.ssrc, marker, payload))
	}
	return packets
}

// H264Depacketizer reassembles access units from RTP packets. SPS and PPS
// are kept out of the frame payload and exposed as format parameters.
type H264Depacketizer struct {
	rebaser   *Rebaser
	unwrapper Unwrapper

	sps    []byte
	pps    []byte
	format *media.FormatParameters

	onFormatChange func(*media.FormatParameters)

	nals      [][]byte
	hasSlice  bool
	isSync    bool
	timestamp uint32
	pending   bool

	fua        []byte
	fuaStarted bool

	lastSeq uint16
	haveSeq bool

	Malformed uint64
}

// NewH264Depacketizer creates a depacketizer. rebaser may be nil, in which
// case frames carry the unwrapped RTP timestamp.
func NewH264Depacketizer(rebaser *Rebaser) *H264Depacketizer {
	return &H264Depacketizer{rebaser: rebaser}
}

// OnFormatChange is called whenever a new SPS/PPS pair takes effect.
func (d *H264Depacketizer) OnFormatChange(fn func(*media.FormatParameters)) {
	d.onFormatChange = fn
}

func (d *H264Depacketizer) Format() *media.FormatParameters {
	return d.format
}

// Depacketize consumes one packet and returns the access units it completed,
// if any. Malformed packets are dropped and counted.
func (d *H264Depacketizer) Depacketize(pkt *rtp.Packet) []*media.Frame {
	var out []*media.Frame
	if len(pkt.Payload) == 0 {
		d.Malformed++
		return nil
	}

	if d.haveSeq && pkt.SequenceNumber != d.lastSeq+1 && d.fuaStarted {
		logger.Debugf("sequence gap %d -> %d, dropping fragmented NAL", d.lastSeq, pkt.SequenceNumber)
		d.fua = nil
		d.fuaStarted = false
	}
	if !d.haveSeq || isNewer(pkt.SequenceNumber, d.lastSeq) {
		d.lastSeq = pkt.SequenceNumber
		d.haveSeq = true
	}

	if d.pending && pkt.Timestamp != d.timestamp {
		if f := d.flush(); f != nil {
			out = append(out, f)
		}
	}
	d.timestamp = pkt.Timestamp
	d.pending = true

	payload := pkt.Payload
	switch t := payload[0] & 0x1F; {
	case t >= 1 && t <= 23:
		d.addNAL(payload)
	case t == nalTypeSTAPA:
		if !d.decodeSTAPA(payload) {
			d.Malformed++
			return out
		}
	case t == nalTypeFUA:
		if !d.decodeFUA(payload) {
			d.Malformed++
			return out
		}
	default:
		logger.Debugf("unsupported nal unit type %d", t)
		d.Malformed++
		return out
	}

	if pkt.Marker {
		if f := d.flush(); f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (d *H264Depacketizer) decodeSTAPA(payload []byte) bool {
	offset := 1
	added := false
	for offset+2 <= len(payload) {
		size := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2
		if size == 0 || offset+size > len(payload) {
			return added
		}
		d.addNAL(payload[offset : offset+size])
		offset += size
		added = true
	}
	return added
}

func (d *H264Depacketizer) decodeFUA(payload []byte) bool {
	if len(payload) <= fuaHeader {
		return false
	}
	indicator := payload[0]
	header := payload[1]
	switch {
	case header&fuStartBit != 0:
		d.fua = append(d.fua[:0], indicator&0xE0|header&0x1F)
		d.fua = append(d.fua, payload[fuaHeader:]...)
		d.fuaStarted = true
	case d.fuaStarted:
		d.fua = append(d.fua, payload[fuaHeader:]...)
	default:
		// continuation without a start fragment
		return false
	}
	if header&fuEndBit != 0 {
		nal := make([]byte, len(d.fua))
		copy(nal, d.fua)
		d.fua = d.fua[:0]
		d.fuaStarted = false
		d.addNAL(nal)
	}
	return true
}

func (d *H264Depacketizer) addNAL(nal []byte) {
	switch t := media.NALType(nal); t {
	case media.NALTypeSPS:
		d.sps = append(d.sps[:0], nal...)
		d.updateFormat()
	case media.NALTypePPS:
		d.pps = append(d.pps[:0], nal...)
		d.updateFormat()
	default:
		if media.IsSliceNAL(t) {
			d.hasSlice = true
		}
		if t == media.NALTypeIDR {
			d.isSync = true
		}
		d.nals = append(d.nals, append([]byte(nil), nal...))
	}
}

func (d *H264Depacketizer) updateFormat() {
	if len(d.sps) == 0 || len(d.pps) == 0 {
		return
	}
	format := media.H264Format(d.sps, d.pps)
	if format.Equal(d.format) {
		return
	}
	d.format = format
	if d.onFormatChange != nil {
		d.onFormatChange(format)
	}
}

func (d *H264Depacketizer) flush() *media.Frame {
	nals, hasSlice, isSync, ts := d.nals, d.hasSlice, d.isSync, d.timestamp
	d.nals = nil
	d.hasSlice = false
	d.isSync = false
	d.pending = false

	if !hasSlice || d.format == nil {
		return nil
	}
	pts := media.NewTime(d.unwrapper.Unwrap(ts), media.H264ClockRate)
	if d.rebaser != nil {
		pts = d.rebaser.Rebase(media.KindVideo, pts)
	}
	frame := media.NewFrame(media.KindVideo, media.JoinAVCC(nals), pts, media.InvalidTime)
	frame.IsSync = isSync
	frame.Format = d.format
	return frame
}
