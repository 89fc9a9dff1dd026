package whip

import (
	"github.com/ghettovoice/gosip/log"

	"github.com/cloudwebrtc/go-whip/pkg/utils"
)

const (
	DefaultPath    = "/whip"
	contentTypeSDP = "application/sdp"

	// largest offer accepted on POST
	maxOfferSize = 64 * 1024
)

var logger log.Logger

func init() {
	logger = utils.NewLogrusLogger(utils.DefaultLogLevel, "WHIP", nil)
}
