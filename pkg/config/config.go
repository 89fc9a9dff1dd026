package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ghettovoice/gosip/log"

	"github.com/cloudwebrtc/go-whip/pkg/jitter"
	"github.com/cloudwebrtc/go-whip/pkg/transport"
	"github.com/cloudwebrtc/go-whip/pkg/utils"
)

var logger log.Logger

func init() {
	logger = utils.NewLogrusLogger(utils.DefaultLogLevel, "Config", nil)
}

// JitterConfig exposes the tuned jitter buffer and synchronizer constants.
type JitterConfig struct {
	Enabled bool `json:"enabled"`
	// Latency is the target end-to-end buffering in seconds.
	Latency              float64 `json:"latency"`
	FrameRate            float64 `json:"frame_rate"`
	AheadTolerance       float64 `json:"ahead_tolerance"`
	VideoMaxBuffers      int     `json:"video_max_buffers"`
	AudioMaxBuffers      int     `json:"audio_max_buffers"`
	AudioResyncThreshold float64 `json:"audio_resync_threshold"`
	AudioFrameDuration   float64 `json:"audio_frame_duration"`
	AudioClockDeltaLimit float64 `json:"audio_clock_delta_limit"`
	SyncHysteresis       float64 `json:"sync_hysteresis"`
	StatsInterval        float64 `json:"stats_interval"`

	Drift jitter.DriftConfig `json:"drift"`
}

func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		Enabled:              true,
		Latency:              0.2,
		FrameRate:            30,
		AheadTolerance:       0.01,
		VideoMaxBuffers:      200,
		AudioMaxBuffers:      300,
		AudioResyncThreshold: 0.05,
		AudioFrameDuration:   0.02,
		AudioClockDeltaLimit: 0.03,
		SyncHysteresis:       0.15,
		StatsInterval:        5,
		Drift:                jitter.DefaultDriftConfig(),
	}
}

// Pipeline maps the settings onto a pipeline configuration named name.
func (c JitterConfig) Pipeline(name string) jitter.PipelineConfig {
	p := jitter.DefaultPipelineConfig(name, c.Latency)
	p.FrameRate = c.FrameRate
	p.AudioFrameDuration = c.AudioFrameDuration
	p.AudioClockDeltaLimit = c.AudioClockDeltaLimit
	p.SyncHysteresis = c.SyncHysteresis

	p.Video.MaxBuffers = c.VideoMaxBuffers
	p.Video.AheadTolerance = c.AheadTolerance
	p.Video.StatsInterval = c.StatsInterval
	p.Video.Drift = c.Drift

	p.Audio.MaxBuffers = c.AudioMaxBuffers
	p.Audio.ResyncThreshold = c.AudioResyncThreshold
	p.Audio.StatsInterval = c.StatsInterval
	p.Audio.Drift = c.Drift
	return p
}

func (c JitterConfig) Validate() error {
	if c.Latency < 0 {
		return fmt.Errorf("jitter: negative latency %v", c.Latency)
	}
	if c.FrameRate <= 0 || c.AudioFrameDuration <= 0 {
		return fmt.Errorf("jitter: frame rate %v and audio frame duration %v must be positive", c.FrameRate, c.AudioFrameDuration)
	}
	if c.VideoMaxBuffers <= 0 || c.AudioMaxBuffers <= 0 {
		return fmt.Errorf("jitter: buffer caps must be positive")
	}
	if c.Drift.Alpha <= 0 || c.Drift.Alpha > 1 {
		return fmt.Errorf("jitter: drift alpha %v out of (0, 1]", c.Drift.Alpha)
	}
	return nil
}

type ServerConfig struct {
	// Listen is the HTTP address of the WHIP endpoint.
	Listen string `json:"listen"`
	// Path is the WHIP resource prefix, "/whip" by default.
	Path     string `json:"path"`
	LogLevel string `json:"log_level"`
	// Monitor enables the websocket event feed on /events.
	Monitor bool `json:"monitor"`

	WebRTC transport.Config `json:"webrtc"`
	Jitter JitterConfig     `json:"jitter"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:   ":8080",
		Path:     "/whip",
		LogLevel: "info",
		Monitor:  true,
		WebRTC:   transport.DefaultConfig(),
		Jitter:   DefaultJitterConfig(),
	}
}

func (c ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("server: empty listen address")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("server: path %q must start with /", c.Path)
	}
	if _, err := utils.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Jitter.Enabled {
		return c.Jitter.Validate()
	}
	return nil
}

type ClientConfig struct {
	// Endpoint is the WHIP URL; whip:// and whips:// map to http:// and https://.
	Endpoint string `json:"endpoint"`
	// BearerToken is sent as Authorization header when set.
	BearerToken string `json:"bearer_token"`
	// ConnectTimeout in seconds.
	ConnectTimeout float64 `json:"connect_timeout"`
	MTU            int     `json:"mtu"`
	LogLevel       string  `json:"log_level"`

	WebRTC transport.Config `json:"webrtc"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint:       "http://127.0.0.1:8080/whip",
		ConnectTimeout: 10,
		MTU:            1200,
		LogLevel:       "info",
		WebRTC:         transport.DefaultConfig(),
	}
}

func (c ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("client: empty endpoint")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("client: connect timeout must be positive")
	}
	if c.MTU < 100 {
		return fmt.Errorf("client: mtu %d too small", c.MTU)
	}
	if _, err := utils.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Load decodes the JSON file at path over cfg, so fields absent from the
// file keep their current values.
func Load(path string, cfg interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	logger.Infof("Loaded config from %s", path)
	return nil
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}
