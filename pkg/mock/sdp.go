package mock

import (
	"time"

	"github.com/pixelbender/go-sdp/sdp"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

var (
	host = "127.0.0.1"

	// Offer is a browser style WHIP offer with one H.264 video and one Opus
	// audio m-line, both sendonly.
	Offer = "v=0\r\n" +
		"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=group:BUNDLE 0 1\r\n" +
		"a=msid-semantic: WMS stream\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtcp:9 IN IP4 0.0.0.0\r\n" +
		"a=ice-ufrag:EsAw\r\n" +
		"a=ice-pwd:bP+XJMM09aR8AiX1jdukzR6Y\r\n" +
		"a=fingerprint:sha-256 DA:7B:57:DC:28:CE:04:4F:31:79:85:C4:31:67:EB:27:58:29:ED:77:2A:0D:24:AE:ED:AD:30:BC:BD:F1:9C:02\r\n" +
		"a=setup:actpass\r\n" +
		"a=mid:0\r\n" +
		"a=sendonly\r\n" +
		"a=rtcp-mux\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=rtcp-fb:96 nack\r\n" +
		"a=rtcp-fb:96 nack pli\r\n" +
		"a=fmtp:96 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f\r\n" +
		"a=rtpmap:97 rtx/90000\r\n" +
		"a=fmtp:97 apt=96\r\n" +
		"a=ssrc-group:FID 2231627014 632943048\r\n" +
		"a=ssrc:2231627014 cname:whip\r\n" +
		"a=ssrc:632943048 cname:whip\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtcp:9 IN IP4 0.0.0.0\r\n" +
		"a=ice-ufrag:EsAw\r\n" +
		"a=ice-pwd:bP+XJMM09aR8AiX1jdukzR6Y\r\n" +
		"a=fingerprint:sha-256 DA:7B:57:DC:28:CE:04:4F:31:79:85:C4:31:67:EB:27:58:29:ED:77:2A:0D:24:AE:ED:AD:30:BC:BD:F1:9C:02\r\n" +
		"a=setup:actpass\r\n" +
		"a=mid:1\r\n" +
		"a=sendonly\r\n" +
		"a=rtcp-mux\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
		"a=ssrc:3735928559 cname:whip\r\n"

	// AudioOnlyOffer lacks the video m-line.
	AudioOnlyOffer = "v=0\r\n" +
		"o=- 4215775240449105458 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=sendonly\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=ssrc:3735928559 cname:whip\r\n"

	// Answer is what a WHIP server returns for Offer.
	Answer = "v=0\r\n" +
		"o=- 1686042237442135542 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=group:BUNDLE 0 1\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=recvonly\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:1\r\n" +
		"a=recvonly\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"
)

// NewOfferSession builds a plain RTP offer carrying the given media types,
// each with its default WHIP codec.
func NewOfferSession(kinds ...string) *sdp.Session {
	offer := &sdp.Session{
		Origin: &sdp.Origin{
			Username:       "-",
			Address:        host,
			SessionID:      time.Now().UnixNano() / 1e6,
			SessionVersion: time.Now().UnixNano() / 1e6,
		},
		Timing: &sdp.Timing{Start: time.Time{}, Stop: time.Time{}},
		Connection: &sdp.Connection{
			Address: host,
		},
	}
	for i, kind := range kinds {
		m := &sdp.Media{
			Connection: []*sdp.Connection{{Address: host}},
			Mode:       sdp.SendOnly,
			Type:       kind,
			Port:       4008 + 2*i,
			Proto:      "RTP/AVP",
		}
		switch kind {
		case "video":
			m.Format = []*sdp.Format{
				{Payload: 96, Name: "H264", ClockRate: 90000, Params: []string{"packetization-mode=1"}},
			}
		case "audio":
			m.Format = []*sdp.Format{
				{Payload: 111, Name: "opus", ClockRate: 48000, Channels: 2},
			}
		}
		offer.Media = append(offer.Media, m)
	}
	return offer
}

// NewOffer wraps NewOfferSession as an offer description.
func NewOffer(kinds ...string) *media.Description {
	return media.NewDescription(media.DescriptionOffer, NewOfferSession(kinds...))
}
