package media

import (
	"strings"

	"github.com/pixelbender/go-sdp/sdp"
)

// Kind of a track or frame.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	}
	return "unknown"
}

// ParseKind maps an SDP media type ("audio", "video") to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "audio":
		return KindAudio, true
	case "video":
		return KindVideo, true
	}
	return KindAudio, false
}

const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// Description is an SDP offer or answer as exchanged over WHIP, kept with
// its parsed form.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`

	session *sdp.Session
}

// ParseDescription parses raw once; the result is read-only.
func ParseDescription(typ, raw string) (*Description, error) {
	sess, err := sdp.Parse([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &Description{Type: typ, SDP: raw, session: sess}, nil
}

func NewDescription(typ string, sess *sdp.Session) *Description {
	return &Description{Type: typ, SDP: sess.String(), session: sess}
}

func (d *Description) Session() *sdp.Session {
	return d.session
}
