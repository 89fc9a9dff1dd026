package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ghettovoice/gosip/log"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/tevino/abool"

	"github.com/cloudwebrtc/go-whip/pkg/media"
	rtpcodec "github.com/cloudwebrtc/go-whip/pkg/rtp"
	"github.com/cloudwebrtc/go-whip/pkg/utils"
)

const (
	maxPktSize = 1500
	streamID   = "whip"
)

var (
	videoRTCPFeedback = []webrtc.RTCPFeedback{{Type: "goog-remb"}, {Type: "ccm", Parameter: "fir"}, {Type: "nack"}, {Type: "nack", Parameter: "pli"}}

	videoCodecs = []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: media.H264ClockRate, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", RTCPFeedback: videoRTCPFeedback},
			PayloadType:        rtpcodec.PayloadTypeH264,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: media.H264ClockRate, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f", RTCPFeedback: videoRTCPFeedback},
			PayloadType:        102,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: media.H264ClockRate, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640032", RTCPFeedback: videoRTCPFeedback},
			PayloadType:        125,
		},
	}

	audioCodecs = []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: media.OpusClockRate, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
			PayloadType:        rtpcodec.PayloadTypeOpus,
		},
	}
)

// WebRTCFactory creates pion peer connections sharing one SettingEngine.
type WebRTCFactory struct {
	cfg     Config
	setting webrtc.SettingEngine
	mux     net.PacketConn
}

func NewWebRTCFactory(cfg Config, loggerFactory logging.LoggerFactory) (*WebRTCFactory, error) {
	f := &WebRTCFactory{cfg: cfg}
	if loggerFactory != nil {
		f.setting.LoggerFactory = loggerFactory
	}
	if len(cfg.NAT1To1IPs) > 0 {
		f.setting.SetNAT1To1IPs(cfg.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}
	if cfg.ICELite {
		f.setting.SetLite(true)
	}

	// All connections share one UDP socket: the configured single port, or
	// the first free port of the range.
	laddr := &net.UDPAddr{IP: net.IP{0, 0, 0, 0}, Port: cfg.SinglePort}
	if cfg.SinglePort == 0 && cfg.PortMin == 0 && cfg.PortMax == 0 {
		return f, nil
	}
	udpListener, err := utils.ListenUDPInPortRange(int(cfg.PortMin), int(cfg.PortMax), laddr)
	if err != nil {
		logger.Errorf("ListenUDP: err => %v", err)
		return nil, err
	}
	logger.Infof("ICE UDP mux on %s", udpListener.LocalAddr())
	f.mux = udpListener
	var muxLogger logging.LeveledLogger
	if loggerFactory != nil {
		muxLogger = loggerFactory.NewLogger("ice-mux")
	}
	f.setting.SetICEUDPMux(webrtc.NewICEUDPMux(muxLogger, udpListener))
	return f, nil
}

func (f *WebRTCFactory) NewConnection() (Connection, error) {
	// Create a MediaEngine object to configure the supported codec
	m := &webrtc.MediaEngine{}
	for _, codec := range videoCodecs {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	}
	for _, codec := range audioCodecs {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, err
		}
	}

	// Each PeerConnection needs its own InterceptorRegistry. The default set
	// provides NACKs and RTCP reports.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(f.setting))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.cfg.webrtcICEServers(),
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, err
	}
	return newWebRTCConnection(pc), nil
}

// Close releases the shared UDP mux, if any.
func (f *WebRTCFactory) Close() error {
	if f.mux != nil {
		return f.mux.Close()
	}
	return nil
}

type webrtcConnection struct {
	pc     *webrtc.PeerConnection
	closed *abool.AtomicBool
	logger log.Logger

	mu                     sync.RWMutex
	remoteVideo            *TrackInfo
	stateHandler           func(ConnectionState)
	trackHandler           func(TrackInfo)
	rtpHandler             func(TrackInfo, *rtp.Packet)
	requestKeyFrameHandler func()
}

func newWebRTCConnection(pc *webrtc.PeerConnection) *webrtcConnection {
	c := &webrtcConnection{
		pc:     pc,
		closed: abool.New(),
		logger: logger,
	}
	c.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.logger.Debugf("ICE Connection State has changed: %s", state.String())
	})
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Infof("PeerConnection State has changed: %s", state.String())
		c.mu.RLock()
		handler := c.stateHandler
		c.mu.RUnlock()
		if handler != nil {
			handler(fromPeerConnectionState(state))
		}
	})
	c.pc.OnTrack(c.readTrack)
	return c
}

func fromPeerConnectionState(state webrtc.PeerConnectionState) ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	}
	return StateNew
}

func (c *webrtcConnection) readTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	info := TrackInfo{
		ID:          track.ID(),
		SSRC:        uint32(track.SSRC()),
		PayloadType: uint8(track.PayloadType()),
		MimeType:    track.Codec().MimeType,
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		info.Kind = media.KindVideo
	} else {
		info.Kind = media.KindAudio
	}

	c.mu.Lock()
	if info.Kind == media.KindVideo {
		c.remoteVideo = &info
	}
	trackHandler := c.trackHandler
	c.mu.Unlock()
	c.logger.Infof("OnTrack: %s ssrc %d pt %d %s", info.Kind, info.SSRC, info.PayloadType, info.MimeType)
	if trackHandler != nil {
		trackHandler(info)
	}

	for {
		if c.closed.IsSet() {
			c.logger.Infof("OnTrack: stop now!")
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			c.logger.Debugf("track.ReadRTP: %v", err)
			return
		}
		c.mu.RLock()
		handler := c.rtpHandler
		c.mu.RUnlock()
		if handler != nil {
			handler(info, pkt)
		}
	}
}

func (c *webrtcConnection) OnStateChange(handler func(ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandler = handler
}

func (c *webrtcConnection) OnTrack(handler func(TrackInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackHandler = handler
}

func (c *webrtcConnection) OnRTP(handler func(TrackInfo, *rtp.Packet)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtpHandler = handler
}

func (c *webrtcConnection) OnKeyFrameRequest(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestKeyFrameHandler = handler
}

// AddTrack adds a sendonly track. The returned track reports the SSRC pion
// chose for the sender, which is the one announced in the offer and stamped
// on every packet.
func (c *webrtcConnection) AddTrack(kind media.Kind) (LocalTrack, error) {
	if c.closed.IsSet() {
		return nil, ErrClosed
	}
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}
	if kind == media.KindAudio {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(capability, kind.String(), streamID)
	if err != nil {
		c.logger.Errorf("NewTrack: panic => %v", err)
		return nil, err
	}
	transceiver, err := c.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		c.logger.Errorf("AddTrack: panic => %v", err)
		return nil, err
	}
	sender := transceiver.Sender()
	encodings := sender.GetParameters().Encodings
	if len(encodings) == 0 {
		return nil, ErrNoEncoding
	}
	c.handleRtcpFb(sender)
	return &localTrack{kind: kind, ssrc: uint32(encodings[0].SSRC), track: track}, nil
}

func (c *webrtcConnection) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.logger.Errorf("CreateOffer: panic => %v", err)
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err = c.pc.SetLocalDescription(offer); err != nil {
		c.logger.Errorf("SetLocalDescription: panic => %v", err)
		return "", err
	}
	return c.localDescription(ctx, gatherComplete)
}

func (c *webrtcConnection) CreateAnswer(ctx context.Context, offer string) (string, error) {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		c.logger.Errorf("SetRemoteDescription: panic => %v", err)
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.logger.Errorf("CreateAnswer: panic => %v", err)
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err = c.pc.SetLocalDescription(answer); err != nil {
		c.logger.Errorf("SetLocalDescription: panic => %v", err)
		return "", err
	}
	return c.localDescription(ctx, gatherComplete)
}

func (c *webrtcConnection) localDescription(ctx context.Context, gatherComplete <-chan struct{}) (string, error) {
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	desc := c.pc.LocalDescription()
	if desc == nil {
		return "", fmt.Errorf("no local description")
	}
	return desc.SDP, nil
}

func (c *webrtcConnection) SetAnswer(answer string) error {
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		c.logger.Errorf("SetAnswer::SetRemoteDescription: panic => %v", err)
		return err
	}
	return nil
}

// handleRtcpFb reads RTCP from a sender. Interceptors (NACK, reports) only
// work while it is being read.
func (c *webrtcConnection) handleRtcpFb(rtpSender *webrtc.RTPSender) {
	go func() {
		rtcpBuf := make([]byte, maxPktSize)
		for {
			n, _, rtcpErr := rtpSender.Read(rtcpBuf)
			if rtcpErr != nil {
				return
			}
			pkts, err := rtcp.Unmarshal(rtcpBuf[:n])
			if err != nil {
				c.logger.Debugf("Unmarshal rtcp receiver packets err %v", err)
				continue
			}
			keyFrameRequested := false
			for _, pkt := range pkts {
				switch p := pkt.(type) {
				case *rtcp.PictureLossIndication:
					c.logger.Debugf("Picture Loss Indication")
					keyFrameRequested = true
				case *rtcp.FullIntraRequest:
					c.logger.Debugf("FullIntraRequest")
					keyFrameRequested = true
				case *rtcp.ReceiverEstimatedMaximumBitrate:
					c.logger.Tracef("ReceiverEstimatedMaximumBitrate %d kbps", uint64(p.Bitrate)/1024)
				case *rtcp.ReceiverReport:
					for _, r := range p.Reports {
						if r.FractionLost > 0 {
							c.logger.Debugf("ssrc %d fraction lost %d", r.SSRC, r.FractionLost)
						}
					}
				}
			}
			if keyFrameRequested {
				c.mu.RLock()
				handler := c.requestKeyFrameHandler
				c.mu.RUnlock()
				if handler != nil {
					handler()
				}
			}
		}
	}()
}

func (c *webrtcConnection) RequestKeyFrame() error {
	c.mu.RLock()
	video := c.remoteVideo
	c.mu.RUnlock()
	if video == nil {
		return ErrNoVideoTrack
	}
	return c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: video.SSRC}})
}

func (c *webrtcConnection) Close() error {
	if !c.closed.SetToIf(false, true) {
		return nil
	}
	return c.pc.Close()
}

type localTrack struct {
	kind  media.Kind
	ssrc  uint32
	track *webrtc.TrackLocalStaticRTP
}

func (t *localTrack) Kind() media.Kind {
	return t.kind
}

func (t *localTrack) SSRC() uint32 {
	return t.ssrc
}

// WriteRTP sends pkt. The track stamps the sender's SSRC and the negotiated
// payload type.
func (t *localTrack) WriteRTP(pkt *rtp.Packet) error {
	return t.track.WriteRTP(pkt)
}
