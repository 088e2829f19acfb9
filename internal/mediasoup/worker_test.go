package mediasoup

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RainStream/rainstream-server/internal/test"
)

func newTestWorker(t *testing.T) (*Worker, *test.FakeWorker) {
	fw := test.NewFakeWorker(12345)

	producer, consumer, payloadProducer, payloadConsumer := fw.Conns()

	w, err := NewWorkerOnConns(&WorkerSettings{
		RequestTimeout: 2 * time.Second,
		Parent:         test.NilLogger,
	}, fw.Pid, producer, consumer, payloadProducer, payloadConsumer)
	require.NoError(t, err)

	t.Cleanup(func() {
		w.Close()
		fw.Close()
	})

	return w, fw
}

func testMediaCodecs() []*RtpCodecCapability {
	return []*RtpCodecCapability{
		{
			Kind:      MediaKind_Audio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      MediaKind_Video,
			MimeType:  "video/VP8",
			ClockRate: 90000,
		},
	}
}

func TestWorkerRunning(t *testing.T) {
	w, _ := newTestWorker(t)

	require.Equal(t, 12345, w.Pid())
	require.False(t, w.Closed())
	require.False(t, w.Died())
}

func TestWorkerStartupTimeout(t *testing.T) {
	var conns [4]net.Conn
	for i := range conns {
		a, b := net.Pipe()
		defer b.Close()
		conns[i] = a
	}

	_, err := NewWorkerOnConns(&WorkerSettings{
		RequestTimeout: 100 * time.Millisecond,
		Parent:         test.NilLogger,
	}, 1, conns[0], conns[1], conns[2], conns[3])
	require.Equal(t, RequestTimeoutError{Method: "worker startup"}, err)
}

func TestWorkerDump(t *testing.T) {
	w, fw := newTestWorker(t)

	fw.HandleFunc("worker.dump", func(_ string, _ []byte) (interface{}, error) {
		return map[string]interface{}{"pid": 12345}, nil
	})

	data, err := w.Dump()
	require.NoError(t, err)
	require.JSONEq(t, `{"pid": 12345}`, string(data))
}

func TestWorkerGetResourceUsage(t *testing.T) {
	w, fw := newTestWorker(t)

	fw.HandleFunc("worker.getResourceUsage", func(_ string, _ []byte) (interface{}, error) {
		return map[string]interface{}{
			"ru_utime":  100,
			"ru_stime":  50,
			"ru_maxrss": 4096,
		}, nil
	})

	usage, err := w.GetResourceUsage()
	require.NoError(t, err)
	require.Equal(t, int64(100), usage.Utime)
	require.Equal(t, int64(50), usage.Stime)
	require.Equal(t, int64(4096), usage.Maxrss)
}

func TestWorkerUpdateSettings(t *testing.T) {
	w, _ := newTestWorker(t)

	err := w.UpdateSettings(WorkerUpdateableSettings{LogLevel: "debug"})
	require.NoError(t, err)
}

func TestWorkerCreateRouter(t *testing.T) {
	w, _ := newTestWorker(t)

	router, err := w.CreateRouter(RouterOptions{MediaCodecs: testMediaCodecs()})
	require.NoError(t, err)
	require.NotEmpty(t, router.Id())
	require.False(t, router.Closed())
}

func TestWorkerCreateRouterEmptyCodecs(t *testing.T) {
	w, _ := newTestWorker(t)

	_, err := w.CreateRouter(RouterOptions{})
	require.IsType(t, TypeError{}, err)
}

func TestWorkerCloseCascade(t *testing.T) {
	w, _ := newTestWorker(t)

	router, err := w.CreateRouter(RouterOptions{MediaCodecs: testMediaCodecs()})
	require.NoError(t, err)

	workerClose := make(chan struct{})
	router.On("workerclose", func() {
		close(workerClose)
	})

	w.Close()
	require.True(t, w.Closed())
	require.True(t, router.Closed())

	select {
	case <-workerClose:
	case <-time.After(time.Second):
		t.Fatal("workerclose not emitted")
	}
}

func TestWorkerCreateRouterWhenClosed(t *testing.T) {
	w, _ := newTestWorker(t)

	w.Close()

	_, err := w.CreateRouter(RouterOptions{MediaCodecs: testMediaCodecs()})
	require.IsType(t, InvalidStateError{}, err)
}

func TestWorkerCreateWebRtcServer(t *testing.T) {
	w, _ := newTestWorker(t)

	server, err := w.CreateWebRtcServer(WebRtcServerOptions{
		ListenInfos: []WebRtcServerListenInfo{
			{Protocol: "udp", Ip: "127.0.0.1", Port: 44444},
		},
	})
	require.NoError(t, err)
	require.False(t, server.Closed())

	server.Close()
	require.True(t, server.Closed())
}
