package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwebrtc/go-whip/pkg/media"
)

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestICEServers(t *testing.T) {
	cfg := DefaultConfig()
	servers := cfg.webrtcICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)

	cfg.ICEServers = append(cfg.ICEServers, ICEServer{URLs: []string{"turn:turn.example.org"}, Username: "u", Credential: "p"})
	servers = cfg.webrtcICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, "p", servers[1].Credential)

	cfg.ICELite = true
	assert.Empty(t, cfg.webrtcICEServers())
}

func TestOfferAnswer(t *testing.T) {
	factory, err := NewWebRTCFactory(Config{}, nil)
	require.NoError(t, err)
	defer factory.Close()

	sender, err := factory.NewConnection()
	require.NoError(t, err)
	defer sender.Close()

	video, err := sender.AddTrack(media.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, media.KindVideo, video.Kind())
	assert.NotZero(t, video.SSRC())
	audio, err := sender.AddTrack(media.KindAudio)
	require.NoError(t, err)
	assert.NotEqual(t, video.SSRC(), audio.SSRC())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := sender.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Contains(t, offer, "m=video")
	assert.Contains(t, offer, "m=audio")
	assert.Contains(t, offer, "H264/90000")
	assert.Contains(t, offer, "opus/48000/2")
	assert.True(t, strings.Contains(offer, "a=sendonly"))
	// the offer announces the SSRCs the tracks report
	assert.Contains(t, offer, fmt.Sprintf("a=ssrc:%d ", video.SSRC()))
	assert.Contains(t, offer, fmt.Sprintf("a=ssrc:%d ", audio.SSRC()))

	receiver, err := factory.NewConnection()
	require.NoError(t, err)
	defer receiver.Close()

	answer, err := receiver.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	assert.Contains(t, answer, "a=recvonly")
	require.NoError(t, sender.SetAnswer(answer))

	assert.ErrorIs(t, receiver.RequestKeyFrame(), ErrNoVideoTrack)
}

func TestCloseIsIdempotent(t *testing.T) {
	factory, err := NewWebRTCFactory(Config{}, nil)
	require.NoError(t, err)
	conn, err := factory.NewConnection()
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err = conn.AddTrack(media.KindVideo)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCreateAnswerRejectsGarbage(t *testing.T) {
	factory, err := NewWebRTCFactory(Config{}, nil)
	require.NoError(t, err)
	conn, err := factory.NewConnection()
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.CreateAnswer(context.Background(), "not an sdp")
	assert.Error(t, err)
}

func TestFactoryBindsMuxInPortRange(t *testing.T) {
	factory, err := NewWebRTCFactory(Config{PortMin: 43000, PortMax: 43099}, nil)
	require.NoError(t, err)
	require.NotNil(t, factory.mux)
	port := factory.mux.LocalAddr().(*net.UDPAddr).Port
	assert.GreaterOrEqual(t, port, 43000)
	assert.LessOrEqual(t, port, 43099)

	conn, err := factory.NewConnection()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, factory.Close())
}

func TestFactoryWithoutPortsHasNoMux(t *testing.T) {
	factory, err := NewWebRTCFactory(Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, factory.mux)
	assert.NoError(t, factory.Close())
}
