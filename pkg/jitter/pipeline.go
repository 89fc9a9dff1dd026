package jitter

import (
	"sync"
	"time"

	"github.com/tevino/abool"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

// opus frame that decodes to 20 ms of silence
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

type PipelineConfig struct {
	Name                 string
	Latency              float64
	FrameRate            float64
	AudioFrameDuration   float64
	AudioClockDeltaLimit float64
	SyncHysteresis       float64
	Video                SourceConfig
	Audio                SourceConfig
}

func DefaultPipelineConfig(name string, latency float64) PipelineConfig {
	return PipelineConfig{
		Name:                 name,
		Latency:              latency,
		FrameRate:            30,
		AudioFrameDuration:   0.02,
		AudioClockDeltaLimit: 0.03,
		SyncHysteresis:       0.15,
		Video:                DefaultVideoSourceConfig(name, latency),
		Audio:                DefaultAudioSourceConfig(name, latency),
	}
}

// Output is one paced frame. Repeated is set when no new frame was due: video
// shows the previous frame again, audio gets Opus silence. Placeholder is set
// when the source never delivered anything.
type Output struct {
	Kind        media.Kind
	Frame       *media.Frame
	Repeated    bool
	Placeholder bool
}

// Placeholder returns the deterministic frame used while a source has not
// produced anything: an empty video frame or 20 ms of Opus silence.
func Placeholder(kind media.Kind, pts media.Time) *media.Frame {
	if kind == media.KindAudio {
		f := media.NewFrame(kind, opusSilence, pts, media.NewTime(960, media.OpusClockRate))
		f.Format = media.OpusFormat()
		return f
	}
	return media.NewFrame(kind, nil, pts, media.InvalidTime)
}

// Pipeline pairs the audio and video sources of one session, keeps them in
// sync and paces their output.
type Pipeline struct {
	cfg   PipelineConfig
	clock media.Clock

	mu    sync.Mutex
	video *BufferedSource
	audio *BufferedSource
	sync  *Synchronizer
	pacer *AudioPacer

	running *abool.AtomicBool
	stopped *abool.AtomicBool
	stop    chan struct{}
	wg      sync.WaitGroup

	onOutput func(Output)
	onReady  func(media.Kind)
}

func NewPipeline(cfg PipelineConfig, clock media.Clock) *Pipeline {
	if clock == nil {
		clock = media.NewMonotonicClock()
	}
	p := &Pipeline{
		cfg:     cfg,
		clock:   clock,
		video:   NewBufferedSource(cfg.Video),
		audio:   NewBufferedSource(cfg.Audio),
		sync:    NewSynchronizer(cfg.Latency, cfg.SyncHysteresis),
		pacer:   NewAudioPacer(cfg.AudioFrameDuration, cfg.AudioClockDeltaLimit),
		running: abool.New(),
		stopped: abool.New(),
		stop:    make(chan struct{}),
	}
	// A drift correction on one media is mirrored on the other so the two
	// stay aligned.
	p.video.OnDrift(p.audio.SetDrift)
	p.audio.OnDrift(p.video.SetDrift)
	p.video.OnReady(func() { p.ready(media.KindVideo) })
	p.audio.OnReady(func() { p.ready(media.KindAudio) })
	return p
}

func (p *Pipeline) OnOutput(fn func(Output)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOutput = fn
}

func (p *Pipeline) OnReady(fn func(media.Kind)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReady = fn
}

// ready runs with mu held.
func (p *Pipeline) ready(kind media.Kind) {
	if p.onReady != nil {
		p.onReady(kind)
	}
}

func (p *Pipeline) Push(frame *media.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source(frame.Kind).Append(frame)
}

// Tick produces the output of kind for clock time now (seconds). Audio output
// times come from the pacer, video output times are now itself.
func (p *Pipeline) Tick(kind media.Kind, now float64) Output {
	p.mu.Lock()
	outputTime := now
	if kind == media.KindAudio {
		outputTime = p.pacer.Next(now)
	}
	src := p.source(kind)
	frame, consumed := src.Update(outputTime)

	scale := int64(media.H264ClockRate)
	if kind == media.KindAudio {
		scale = media.OpusClockRate
	}
	pts := media.TimeFromSeconds(outputTime, scale)
	out := Output{Kind: kind}
	if frame == nil {
		out.Frame = Placeholder(kind, pts)
		out.Placeholder = true
	} else {
		out.Repeated = consumed == 0
		if out.Repeated && kind == media.KindAudio {
			// replaying an audio packet would loop it, play silence instead
			out.Frame = Placeholder(kind, pts)
		} else {
			out.Frame = frame.WithPresentationTime(pts)
		}
		p.balance()
	}
	onOutput := p.onOutput
	p.mu.Unlock()

	if onOutput != nil {
		onOutput(out)
	}
	return out
}

// balance runs with mu held.
func (p *Pipeline) balance() {
	videoFrame, audioFrame := p.video.latest, p.audio.latest
	if videoFrame == nil || audioFrame == nil {
		return
	}
	audioTarget, videoTarget, changed := p.sync.Observe(videoFrame.Seconds(), audioFrame.Seconds())
	if changed {
		p.audio.SetTargetLatency(audioTarget)
		p.video.SetTargetLatency(videoTarget)
	}
}

func (p *Pipeline) source(kind media.Kind) *BufferedSource {
	if kind == media.KindAudio {
		return p.audio
	}
	return p.video
}

// Start runs the video and audio output tickers until Stop.
func (p *Pipeline) Start() {
	if p.stopped.IsSet() || !p.running.SetToIf(false, true) {
		return
	}
	logger.Infof("%s: start output, %.0f fps, audio frame %.3fs", p.cfg.Name, p.cfg.FrameRate, p.cfg.AudioFrameDuration)
	p.wg.Add(2)
	go p.run(media.KindVideo, time.Duration(float64(time.Second)/p.cfg.FrameRate))
	go p.run(media.KindAudio, time.Duration(p.cfg.AudioFrameDuration*float64(time.Second)))
}

// Stop ends the tickers and waits for a tick in progress, so no output
// callback runs once it returns. It must not be called from OnOutput.
func (p *Pipeline) Stop() {
	if !p.stopped.SetToIf(false, true) {
		return
	}
	p.running.UnSet()
	close(p.stop)
	p.wg.Wait()
	logger.Infof("%s: stop output", p.cfg.Name)
}

func (p *Pipeline) run(kind media.Kind, interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Tick(kind, p.clock().Seconds())
		}
	}
}

func (p *Pipeline) SetLatency(latency float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sync.SetBaseLatency(latency)
	p.video.SetTargetLatency(latency)
	p.audio.SetTargetLatency(latency)
}

func (p *Pipeline) Stats() map[string]StatsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]StatsSnapshot{
		media.KindVideo.String(): p.video.Stats(),
		media.KindAudio.String(): p.audio.Stats(),
	}
}

func (p *Pipeline) NumberOfBuffers(kind media.Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source(kind).NumberOfBuffers()
}
