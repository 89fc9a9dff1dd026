package whip

import (
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

var (
	testSPS = []byte{0x67, 0x42, 0xe0, 0x1f, 0xda, 0x02, 0x80, 0xbf, 0xe5, 0x84}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x21, 0xa0, 0x13, 0x37}
)

type publishStop struct {
	id     string
	reason string
}

type serverRecorder struct {
	mu      sync.Mutex
	started []string
	stopped []publishStop
	frames  map[string][]*media.Frame
	ready   map[string][]media.Kind
	// frames delivered for a session after its OnPublishStop
	afterStop int
}

func newServerRecorder() *serverRecorder {
	return &serverRecorder{frames: map[string][]*media.Frame{}, ready: map[string][]media.Kind{}}
}

func (r *serverRecorder) OnPublishStart(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *serverRecorder) OnPublishStop(id string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, publishStop{id: id, reason: reason})
}

func (r *serverRecorder) OnFrame(id string, frame *media.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.stopped {
		if st.id == id {
			r.afterStop++
		}
	}
	r.frames[id] = append(r.frames[id], frame)
}

func (r *serverRecorder) OnSourceReady(id string, kind media.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready[id] = append(r.ready[id], kind)
}

func (r *serverRecorder) Ready(id string) []media.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.Kind(nil), r.ready[id]...)
}

func (r *serverRecorder) FramesAfterStop() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.afterStop
}

func (r *serverRecorder) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func (r *serverRecorder) Stopped() []publishStop {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishStop(nil), r.stopped...)
}

func (r *serverRecorder) Frames(id string, kind media.Kind) []*media.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*media.Frame
	for _, f := range r.frames[id] {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

type streamRecorder struct {
	mu        sync.Mutex
	connected int
	reasons   []string
	keyFrames int
}

func (r *streamRecorder) OnConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *streamRecorder) OnDisconnected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *streamRecorder) OnKeyFrameRequest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyFrames++
}

func (r *streamRecorder) Connected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *streamRecorder) Reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

func (r *streamRecorder) KeyFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keyFrames
}

func newTestPacket(pt uint8, seq uint16, ts uint32, marker bool, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           2231627014,
			Marker:         marker,
		},
		Payload: payload,
	}
}

func fixedClock(seconds float64) media.Clock {
	return func() time.Duration {
		return time.Duration(seconds * float64(time.Second))
	}
}
