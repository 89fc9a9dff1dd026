package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeRescale(t *testing.T) {
	ts := NewTime(3003, 90000)
	assert.InDelta(t, 0.033366, ts.Seconds(), 1e-6)
	assert.Equal(t, NewTime(1602, 48000), ts.Rescale(48000))
	assert.Equal(t, NewTime(-2, 1000), NewTime(-180, 90000).Rescale(1000))
	assert.Equal(t, NewTime(4500, 90000), TimeFromSeconds(0.05, 90000))

	sum := NewTime(1, 10).Add(NewTime(50, 1000))
	assert.Equal(t, NewTime(2, 10), sum)
	assert.True(t, NewTime(1, 10).Before(NewTime(2, 10)))
	assert.False(t, InvalidTime.IsValid())
}

func TestFrameWithPresentationTimeSharesPayload(t *testing.T) {
	f := NewFrame(KindVideo, []byte{1, 2, 3}, NewTime(0, 90000), NewTime(3000, 90000))
	f.IsSync = true
	g := f.WithPresentationTime(NewTime(9000, 90000))

	assert.Equal(t, NewTime(0, 90000), f.PresentationTime)
	assert.Equal(t, NewTime(9000, 90000), g.PresentationTime)
	assert.True(t, g.IsSync)
	require.Len(t, g.Payload, 3)
	assert.Same(t, &f.Payload[0], &g.Payload[0])
}

func TestAVCCAnnexB(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1f}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	idr := []byte{0x65, 0x88, 0x84, 0x00, 0x33}

	annexb := append([]byte{0, 0, 0, 1}, sps...)
	annexb = append(annexb, 0, 0, 1)
	annexb = append(annexb, pps...)
	annexb = append(annexb, 0, 0, 0, 1)
	annexb = append(annexb, idr...)

	nals := SplitAnnexB(annexb)
	require.Len(t, nals, 3)
	assert.Equal(t, sps, nals[0])
	assert.Equal(t, pps, nals[1])
	assert.Equal(t, idr, nals[2])

	avcc := AnnexBToAVCC(annexb)
	split, err := SplitAVCC(avcc)
	require.NoError(t, err)
	assert.Equal(t, nals, split)

	back, err := AVCCToAnnexB(avcc)
	require.NoError(t, err)
	assert.Equal(t, nals, SplitAnnexB(back))

	_, err = SplitAVCC([]byte{0, 0, 0, 9, 1})
	assert.ErrorIs(t, err, ErrTruncatedNAL)
}

func TestNALType(t *testing.T) {
	assert.Equal(t, byte(NALTypeIDR), NALType([]byte{0x65}))
	assert.True(t, IsSliceNAL(NALTypeSlice))
	assert.False(t, IsSliceNAL(NALTypeSPS))
	assert.Equal(t, byte(0), NALType(nil))
}

func TestFormatEqual(t *testing.T) {
	a := H264Format([]byte{0x67, 1}, []byte{0x68, 2})
	b := H264Format([]byte{0x67, 1}, []byte{0x68, 2})
	assert.True(t, a.Equal(b))
	b.PPS[1] = 3
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
	assert.True(t, (*FormatParameters)(nil).Equal(nil))
	assert.Equal(t, "audio", KindAudio.String())
	k, ok := ParseKind("Video")
	assert.True(t, ok)
	assert.Equal(t, KindVideo, k)
}

func TestParseDescription(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"
	desc, err := ParseDescription(DescriptionOffer, raw)
	require.NoError(t, err)
	assert.Equal(t, DescriptionOffer, desc.Type)
	assert.Equal(t, raw, desc.SDP)
	require.Len(t, desc.Session().Media, 2)
	assert.Equal(t, "H264", desc.Session().Media[0].Format[0].Name)

	again := NewDescription(DescriptionAnswer, desc.Session())
	assert.Equal(t, DescriptionAnswer, again.Type)
	assert.Contains(t, again.SDP, "m=audio")
	assert.Same(t, desc.Session(), again.Session())
}
