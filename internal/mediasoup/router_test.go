package mediasoup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *Router {
	w, _ := newTestWorker(t)

	router, err := w.CreateRouter(RouterOptions{MediaCodecs: testMediaCodecs()})
	require.NoError(t, err)

	return router
}

func TestRouterRtpCapabilities(t *testing.T) {
	router := newTestRouter(t)

	caps := router.RtpCapabilities()
	require.Len(t, caps.Codecs, 3)

	require.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	require.Equal(t, byte(100), caps.Codecs[0].PreferredPayloadType)

	require.Equal(t, "video/VP8", caps.Codecs[1].MimeType)
	require.Equal(t, byte(101), caps.Codecs[1].PreferredPayloadType)

	require.Equal(t, "video/rtx", caps.Codecs[2].MimeType)
	require.Equal(t, byte(102), caps.Codecs[2].PreferredPayloadType)
	require.Equal(t, byte(101), caps.Codecs[2].Parameters.Apt)

	require.NotEmpty(t, caps.HeaderExtensions)
}

func TestRouterCreateWebRtcTransport(t *testing.T) {
	router := newTestRouter(t)

	transport, err := router.CreateWebRtcTransport(WebRtcTransportOptions{
		ListenIps:  []TransportListenIp{{Ip: "127.0.0.1"}},
		EnableUdp:  true,
		EnableSctp: true,
	})
	require.NoError(t, err)

	require.Equal(t, "controlled", transport.IceRole())
	require.Equal(t, "ufrag", transport.IceParameters().UsernameFragment)
	require.Len(t, transport.IceCandidates(), 1)
	require.Equal(t, "new", transport.DtlsState())
	require.NotNil(t, transport.SctpParameters())
	require.Equal(t, uint16(16), transport.SctpParameters().MIS)
}

func TestRouterCreateWebRtcTransportMissingListenIps(t *testing.T) {
	router := newTestRouter(t)

	_, err := router.CreateWebRtcTransport(WebRtcTransportOptions{})
	require.IsType(t, TypeError{}, err)
}

func TestRouterCreatePlainTransport(t *testing.T) {
	router := newTestRouter(t)

	transport, err := router.CreatePlainTransport(PlainTransportOptions{
		ListenIp: TransportListenIp{Ip: "127.0.0.1"},
		RtcpMux:  true,
	})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", transport.Tuple().LocalIp)
}

func TestRouterCreatePipeTransport(t *testing.T) {
	router := newTestRouter(t)

	transport, err := router.CreatePipeTransport(PipeTransportOptions{
		ListenIp:   TransportListenIp{Ip: "127.0.0.1"},
		EnableSctp: true,
	})
	require.NoError(t, err)
	require.Equal(t, uint16(40001), transport.Tuple().LocalPort)
}

func TestRouterCloseCascade(t *testing.T) {
	router := newTestRouter(t)

	transport, err := router.CreateWebRtcTransport(WebRtcTransportOptions{
		ListenIps: []TransportListenIp{{Ip: "127.0.0.1"}},
	})
	require.NoError(t, err)

	routerClose := make(chan struct{})
	transport.On("routerclose", func() {
		close(routerClose)
	})

	router.Close()
	require.True(t, router.Closed())
	require.True(t, transport.Closed())

	select {
	case <-routerClose:
	default:
		t.Fatal("routerclose not emitted")
	}
}

func TestRouterCreateTransportWhenClosed(t *testing.T) {
	router := newTestRouter(t)

	router.Close()

	_, err := router.CreateWebRtcTransport(WebRtcTransportOptions{
		ListenIps: []TransportListenIp{{Ip: "127.0.0.1"}},
	})
	require.IsType(t, InvalidStateError{}, err)
}

func TestRouterCreateAudioLevelObserver(t *testing.T) {
	router := newTestRouter(t)

	observer, err := router.CreateAudioLevelObserver(AudioLevelObserverOptions{
		MaxEntries: 4,
		Threshold:  -70,
		Interval:   500,
	})
	require.NoError(t, err)
	require.False(t, observer.Closed())

	observer.Close()
	require.True(t, observer.Closed())
}

func TestRouterCreateActiveSpeakerObserver(t *testing.T) {
	router := newTestRouter(t)

	observer, err := router.CreateActiveSpeakerObserver(ActiveSpeakerObserverOptions{})
	require.NoError(t, err)
	require.False(t, observer.Closed())
}
