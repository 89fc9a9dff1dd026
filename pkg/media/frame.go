package media

import (
	"bytes"
)

const (
	H264ClockRate = 90000
	OpusClockRate = 48000
)

// FormatParameters describe how to decode the payload of a frame.
type FormatParameters struct {
	Codec      string `json:"codec"`
	SPS        []byte `json:"-"`
	PPS        []byte `json:"-"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

func H264Format(sps, pps []byte) *FormatParameters {
	return &FormatParameters{
		Codec: "H264",
		SPS:   append([]byte(nil), sps...),
		PPS:   append([]byte(nil), pps...),
	}
}

func OpusFormat() *FormatParameters {
	return &FormatParameters{Codec: "opus", SampleRate: OpusClockRate, Channels: 2}
}

func (f *FormatParameters) Equal(o *FormatParameters) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Codec == o.Codec &&
		f.SampleRate == o.SampleRate &&
		f.Channels == o.Channels &&
		bytes.Equal(f.SPS, o.SPS) &&
		bytes.Equal(f.PPS, o.PPS)
}

// Frame is one encoded access unit (video) or one compressed audio frame.
// H.264 payloads hold 4-byte length-prefixed NAL units. A frame must not be
// mutated once handed to the next stage.
type Frame struct {
	Kind             Kind
	Payload          []byte
	PresentationTime Time
	Duration         Time
	IsSync           bool
	Format           *FormatParameters
	// PacketSizes splits an audio payload into independently decodable
	// packets. Empty means the payload is a single packet.
	PacketSizes []int
}

func NewFrame(kind Kind, payload []byte, pts, duration Time) *Frame {
	return &Frame{
		Kind:             kind,
		Payload:          payload,
		PresentationTime: pts,
		Duration:         duration,
	}
}

// WithPresentationTime returns a copy of f stamped with pts. The payload is
// shared, not copied.
func (f *Frame) WithPresentationTime(pts Time) *Frame {
	c := *f
	c.PresentationTime = pts
	return &c
}

// NALUnits splits an H.264 payload into NAL units.
func (f *Frame) NALUnits() ([][]byte, error) {
	return SplitAVCC(f.Payload)
}

func (f *Frame) Seconds() float64 {
	return f.PresentationTime.Seconds()
}
