package whip

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pionsdp "github.com/pion/sdp/v3"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

var ErrInvalidOffer = errors.New("invalid offer")

// MediaInfo is what the offer announces for one m-line.
type MediaInfo struct {
	Kind        media.Kind `json:"kind"`
	Mid         string     `json:"mid"`
	SSRC        uint32     `json:"ssrc"`
	PayloadType uint8      `json:"payload_type"`
	Codec       string     `json:"codec"`
	ClockRate   int        `json:"clock_rate"`
}

type OfferInfo struct {
	Video MediaInfo `json:"video"`
	Audio MediaInfo `json:"audio"`
}

var wantedCodecs = map[media.Kind]string{
	media.KindVideo: "H264",
	media.KindAudio: "opus",
}

// ParseOffer parses and validates a raw offer.
func ParseOffer(raw string) (*media.Description, *OfferInfo, error) {
	offer, err := media.ParseDescription(media.DescriptionOffer, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	info, err := ValidateOffer(offer)
	if err != nil {
		return nil, nil, err
	}
	return offer, info, nil
}

// ValidateOffer checks that offer carries exactly one H.264 video and one
// Opus audio m-line and returns their parameters.
func ValidateOffer(offer *media.Description) (*OfferInfo, error) {
	sess := offer.Session()
	if sess == nil || offer.Type != media.DescriptionOffer {
		return nil, fmt.Errorf("%w: not a parsed offer", ErrInvalidOffer)
	}

	found := map[media.Kind]*MediaInfo{}
	for _, m := range sess.Media {
		kind, ok := media.ParseKind(m.Type)
		if !ok {
			logger.Debugf("ignoring %s m-line", m.Type)
			continue
		}
		if _, dup := found[kind]; dup {
			return nil, fmt.Errorf("%w: more than one %s m-line", ErrInvalidOffer, kind)
		}
		info := &MediaInfo{Kind: kind}
		for _, f := range m.Format {
			if strings.EqualFold(f.Name, wantedCodecs[kind]) {
				info.PayloadType = uint8(f.Payload)
				info.Codec = wantedCodecs[kind]
				info.ClockRate = int(f.ClockRate)
				break
			}
		}
		if info.Codec == "" {
			return nil, fmt.Errorf("%w: no %s codec in %s m-line", ErrInvalidOffer, wantedCodecs[kind], kind)
		}
		found[kind] = info
	}
	for _, kind := range []media.Kind{media.KindVideo, media.KindAudio} {
		if found[kind] == nil {
			return nil, fmt.Errorf("%w: missing %s m-line", ErrInvalidOffer, kind)
		}
	}

	if err := readMidAndSSRC(offer.SDP, found); err != nil {
		return nil, err
	}
	return &OfferInfo{Video: *found[media.KindVideo], Audio: *found[media.KindAudio]}, nil
}

// readMidAndSSRC fills in the mid and the first announced SSRC of each
// m-line. Offers without a=ssrc lines are valid; the SSRC is then learned
// from the first packet.
func readMidAndSSRC(offer string, found map[media.Kind]*MediaInfo) error {
	desc := pionsdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(offer)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	for _, md := range desc.MediaDescriptions {
		kind, ok := media.ParseKind(md.MediaName.Media)
		if !ok || found[kind] == nil {
			continue
		}
		if mid, ok := md.Attribute("mid"); ok {
			found[kind].Mid = mid
		}
		for _, attr := range md.Attributes {
			if attr.Key != "ssrc" {
				continue
			}
			fields := strings.Fields(attr.Value)
			if len(fields) == 0 {
				continue
			}
			ssrc, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return fmt.Errorf("%w: bad ssrc %q", ErrInvalidOffer, attr.Value)
			}
			found[kind].SSRC = uint32(ssrc)
			break
		}
	}
	return nil
}
