package rtp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

func TestNewSSRCNonZero(t *testing.T) {
	for i := 0; i < 1000; i++ {
		assert.NotZero(t, NewSSRC())
	}
}

func TestSequencerNeverRepeats(t *testing.T) {
	s := NewSequencer()
	first := s.Next()
	for i := 1; i < 1<<16; i++ {
		assert.Equal(t, first+uint16(i), s.Next())
	}
	assert.Equal(t, first, s.Next())
}

func TestParsePacket(t *testing.T) {
	pkt := newPacket(PayloadTypeH264, 42, 9000, 5, true, []byte{0x41, 1, 2})
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	parsed, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), parsed.SequenceNumber)
	assert.Equal(t, uint32(9000), parsed.Timestamp)
	assert.True(t, parsed.Marker)
	assert.Equal(t, []byte{0x41, 1, 2}, parsed.Payload)

	_, err = ParsePacket(raw[:8])
	assert.ErrorIs(t, err, ErrMalformedPacket)

	_, err = ParsePacket(raw[:12])
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestUnwrapper(t *testing.T) {
	var u Unwrapper
	assert.Equal(t, int64(0xFFFFFF00), u.Unwrap(0xFFFFFF00))
	assert.Equal(t, int64(0xFFFFFF00+0x200), u.Unwrap(0x00000100))
	assert.Equal(t, int64(0xFFFFFF00+0x100), u.Unwrap(0x00000000))
}

func TestRebaser(t *testing.T) {
	now := 10 * time.Second
	r := NewRebaser(func() time.Duration { return now })

	assert.Equal(t, media.NewTime(900000, 90000), r.Rebase(media.KindVideo, media.NewTime(90000, 90000)))
	now = 11 * time.Second
	assert.Equal(t, media.NewTime(903000, 90000), r.Rebase(media.KindVideo, media.NewTime(93000, 90000)))
	assert.Equal(t, media.NewTime(480000, 48000), r.Rebase(media.KindAudio, media.NewTime(240000, 48000)))

	first, ok := r.FirstPresentationTime(media.KindAudio)
	require.True(t, ok)
	assert.Equal(t, media.NewTime(240000, 48000), first)
}
