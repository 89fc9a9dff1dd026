package whip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwebrtc/go-whip/pkg/media"
	"github.com/cloudwebrtc/go-whip/pkg/mock"
)

func TestValidateOffer(t *testing.T) {
	offer, info, err := ParseOffer(mock.Offer)
	require.NoError(t, err)
	assert.Equal(t, media.DescriptionOffer, offer.Type)
	assert.Equal(t, mock.Offer, offer.SDP)

	assert.Equal(t, media.KindVideo, info.Video.Kind)
	assert.Equal(t, "0", info.Video.Mid)
	assert.Equal(t, uint32(2231627014), info.Video.SSRC)
	assert.Equal(t, uint8(96), info.Video.PayloadType)
	assert.Equal(t, "H264", info.Video.Codec)
	assert.Equal(t, 90000, info.Video.ClockRate)

	assert.Equal(t, media.KindAudio, info.Audio.Kind)
	assert.Equal(t, "1", info.Audio.Mid)
	assert.Equal(t, uint32(3735928559), info.Audio.SSRC)
	assert.Equal(t, uint8(111), info.Audio.PayloadType)
	assert.Equal(t, "opus", info.Audio.Codec)
}

func TestValidateOfferRejects(t *testing.T) {
	_, _, err := ParseOffer(mock.AudioOnlyOffer)
	assert.ErrorIs(t, err, ErrInvalidOffer)

	vp8 := strings.ReplaceAll(mock.Offer, "H264/90000", "VP8/90000")
	_, _, err = ParseOffer(vp8)
	assert.ErrorIs(t, err, ErrInvalidOffer)

	doubled := mock.Offer + "m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"a=mid:2\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"
	_, _, err = ParseOffer(doubled)
	assert.ErrorIs(t, err, ErrInvalidOffer)

	_, _, err = ParseOffer("not an sdp")
	assert.ErrorIs(t, err, ErrInvalidOffer)

	answer, err := media.ParseDescription(media.DescriptionAnswer, mock.Offer)
	require.NoError(t, err)
	_, err = ValidateOffer(answer)
	assert.ErrorIs(t, err, ErrInvalidOffer)
	_, err = ValidateOffer(&media.Description{Type: media.DescriptionOffer, SDP: mock.Offer})
	assert.ErrorIs(t, err, ErrInvalidOffer)
}

func TestValidateOfferWithoutSSRC(t *testing.T) {
	var lines []string
	for _, line := range strings.Split(mock.Offer, "\r\n") {
		if strings.HasPrefix(line, "a=ssrc") {
			continue
		}
		lines = append(lines, line)
	}
	_, info, err := ParseOffer(strings.Join(lines, "\r\n"))
	require.NoError(t, err)
	assert.Zero(t, info.Video.SSRC)
	assert.Zero(t, info.Audio.SSRC)
	assert.Equal(t, "1", info.Audio.Mid)
}

func TestBuiltOfferMentionsBothMedia(t *testing.T) {
	offer := mock.NewOffer("video", "audio")
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "H264/90000")

	assert.Equal(t, media.DescriptionOffer, offer.Type)
	require.NotNil(t, offer.Session())

	parsed, err := media.ParseDescription(media.DescriptionOffer, offer.SDP)
	require.NoError(t, err)
	require.Len(t, parsed.Session().Media, 2)
	assert.Equal(t, "video", parsed.Session().Media[0].Type)
	assert.Equal(t, "audio", parsed.Session().Media[1].Type)
}
