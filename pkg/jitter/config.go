package jitter

import (
	"github.com/ghettovoice/gosip/log"

	"github.com/cloudwebrtc/go-whip/pkg/media"
	"github.com/cloudwebrtc/go-whip/pkg/utils"
)

var logger log.Logger

func init() {
	logger = utils.NewLogrusLogger(utils.DefaultLogLevel, "Jitter", nil)
}

// DriftConfig holds the fill level control loop constants. They are
// empirically tuned; change them with care.
type DriftConfig struct {
	Alpha       float64 `json:"alpha"`
	LowMargin   float64 `json:"low_margin"`
	HighMargin  float64 `json:"high_margin"`
	ResetMargin float64 `json:"reset_margin"`
	Step        float64 `json:"step"`
	Interval    float64 `json:"interval"`
}

func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		Alpha:       0.05,
		LowMargin:   0.1,
		HighMargin:  0.3,
		ResetMargin: 0.1,
		Step:        0.01,
		Interval:    10,
	}
}

// SourceConfig configures one BufferedSource.
type SourceConfig struct {
	Name string
	Kind media.Kind
	// Latency is the target fill level in seconds.
	Latency float64
	// MaxBuffers caps the queue; the oldest frames are dropped beyond it.
	MaxBuffers int
	// AheadTolerance lets the first candidate of a tick be slightly ahead
	// of the output time (video).
	AheadTolerance float64
	// ResyncThreshold is how far the selected audio frame may drift from
	// the output time before the source re-syncs.
	ResyncThreshold float64
	StatsInterval   float64
	Drift           DriftConfig
}

func DefaultVideoSourceConfig(name string, latency float64) SourceConfig {
	return SourceConfig{
		Name:           name,
		Kind:           media.KindVideo,
		Latency:        latency,
		MaxBuffers:     200,
		AheadTolerance: 0.01,
		StatsInterval:  5,
		Drift:          DefaultDriftConfig(),
	}
}

func DefaultAudioSourceConfig(name string, latency float64) SourceConfig {
	return SourceConfig{
		Name:            name,
		Kind:            media.KindAudio,
		Latency:         latency,
		MaxBuffers:      300,
		ResyncThreshold: 0.05,
		StatsInterval:   5,
		Drift:           DefaultDriftConfig(),
	}
}
