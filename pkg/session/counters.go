package session

import (
	"sync/atomic"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

// Counters track RTP traffic of a session for bitrate reporting.
type Counters struct {
	packets [2]atomic.Uint64
	bytes   [2]atomic.Uint64
	dropped atomic.Uint64
}

type CounterSnapshot struct {
	VideoPackets uint64 `json:"video_packets"`
	VideoBytes   uint64 `json:"video_bytes"`
	AudioPackets uint64 `json:"audio_packets"`
	AudioBytes   uint64 `json:"audio_bytes"`
	Malformed    uint64 `json:"malformed"`
}

func (c *Counters) AddPacket(kind media.Kind, size int) {
	c.packets[kind].Add(1)
	c.bytes[kind].Add(uint64(size))
}

func (c *Counters) AddMalformed() {
	c.dropped.Add(1)
}

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		VideoPackets: c.packets[media.KindVideo].Load(),
		VideoBytes:   c.bytes[media.KindVideo].Load(),
		AudioPackets: c.packets[media.KindAudio].Load(),
		AudioBytes:   c.bytes[media.KindAudio].Load(),
		Malformed:    c.dropped.Load(),
	}
}

func (s CounterSnapshot) Bytes() uint64 {
	return s.VideoBytes + s.AudioBytes
}
