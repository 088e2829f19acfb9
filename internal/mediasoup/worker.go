package mediasoup

import (
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// WorkerSettings are the settings of a media worker.
type WorkerSettings struct {
	// WorkerBin is the path of the worker executable (subprocess mode).
	WorkerBin string

	// ExtraArgs are arguments appended after the generated ones.
	ExtraArgs []string

	// LogLevel is one of debug, warn, error, none. Defaults to error.
	LogLevel string

	// LogTags are the debug tags enabled in the worker.
	LogTags []string

	// RTCMinPort is the lower bound of the RTC port range. Defaults to 10000.
	RTCMinPort uint16

	// RTCMaxPort is the upper bound of the RTC port range. Defaults to 59999.
	RTCMaxPort uint16

	// DTLSCertificateFile is the path of a DTLS certificate in PEM format.
	// When unset, the worker generates one.
	DTLSCertificateFile string

	// DTLSPrivateKeyFile is the path of the DTLS certificate key.
	DTLSPrivateKeyFile string

	// RequestTimeout is the timeout of every channel request.
	// Defaults to 20 seconds.
	RequestTimeout time.Duration

	// MaxMessageSize is the maximum size of a channel frame.
	// Defaults to 4 MiB.
	MaxMessageSize uint32

	// AppData is custom application data.
	AppData H

	// Parent is the parent logger.
	Parent logger.Writer
}

func (s *WorkerSettings) fillDefaults() {
	if s.LogLevel == "" {
		s.LogLevel = "error"
	}
	if s.RTCMinPort == 0 {
		s.RTCMinPort = 10000
	}
	if s.RTCMaxPort == 0 {
		s.RTCMaxPort = 59999
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = defaultRequestTimeout
	}
	if s.AppData == nil {
		s.AppData = H{}
	}
}

func (s *WorkerSettings) args() []string {
	args := []string{
		"--logLevel=" + s.LogLevel,
	}
	for _, tag := range s.LogTags {
		args = append(args, "--logTags="+tag)
	}
	args = append(args,
		fmt.Sprintf("--rtcMinPort=%d", s.RTCMinPort),
		fmt.Sprintf("--rtcMaxPort=%d", s.RTCMaxPort),
	)
	if s.DTLSCertificateFile != "" && s.DTLSPrivateKeyFile != "" {
		args = append(args,
			"--dtlsCertificateFile="+s.DTLSCertificateFile,
			"--dtlsPrivateKeyFile="+s.DTLSPrivateKeyFile,
		)
	}
	return append(args, s.ExtraArgs...)
}

// WorkerUpdateableSettings are the settings that can be changed while
// the worker is running.
type WorkerUpdateableSettings struct {
	LogLevel string   `json:"logLevel,omitempty"`
	LogTags  []string `json:"logTags,omitempty"`
}

// WorkerResourceUsage is the resource usage of a worker process.
type WorkerResourceUsage struct {
	Utime   int64 `json:"ru_utime"`
	Stime   int64 `json:"ru_stime"`
	Maxrss  int64 `json:"ru_maxrss"`
	Minflt  int64 `json:"ru_minflt"`
	Majflt  int64 `json:"ru_majflt"`
	Inblock int64 `json:"ru_inblock"`
	Oublock int64 `json:"ru_oublock"`
	Nvcsw   int64 `json:"ru_nvcsw"`
	Nivcsw  int64 `json:"ru_nivcsw"`
}

// Worker supervises one media worker process (or its in-process
// equivalent), owning its Channel and PayloadChannel.
//
// @emits died - (err WorkerDiedError)
type Worker struct {
	IEventEmitter

	settings       WorkerSettings
	child          *exec.Cmd
	pid            int
	channel        *Channel
	payloadChannel *PayloadChannel
	closed         uint32
	died           uint32
	spawnDone      uint32
	startupErr     chan error
	running        chan struct{}
	appData        H
	routers        sync.Map
	webRtcServers  sync.Map
	parent         logger.Writer

	childMutex sync.Mutex
}

// newWorker finishes the construction common to both modes: it wires
// the channels and waits for the 'running' notification on the pid.
func newWorker(
	settings *WorkerSettings,
	pid int,
	child *exec.Cmd,
	producer, consumer, payloadProducer, payloadConsumer net.Conn,
) (*Worker, error) {
	w := &Worker{
		IEventEmitter: NewEventEmitter(),
		settings:      *settings,
		child:         child,
		pid:           pid,
		appData:       settings.AppData,
		parent:        settings.Parent,
		startupErr:    make(chan error, 1),
		running:       make(chan struct{}),
	}

	w.channel = newChannel(producer, consumer, pid,
		settings.RequestTimeout, settings.MaxMessageSize, w)
	w.payloadChannel = newPayloadChannel(payloadProducer, payloadConsumer,
		settings.RequestTimeout, settings.MaxMessageSize, w)

	go func() {
		select {
		case <-w.channel.running:
			if atomic.CompareAndSwapUint32(&w.spawnDone, 0, 1) {
				close(w.running)
			}
		case <-w.channel.done:
		}
	}()

	if child != nil {
		go w.wait()
	}

	timer := time.NewTimer(settings.RequestTimeout)
	defer timer.Stop()

	select {
	case <-w.running:
		w.Log(logger.Debug, "worker process running [pid:%d]", pid)
		return w, nil

	case err := <-w.startupErr:
		return nil, err

	case <-timer.C:
		w.Close()
		return nil, RequestTimeoutError{Method: "worker startup"}
	}
}

// NewWorkerOnConns creates a Worker attached to caller-provided duplex
// connections instead of a subprocess: producer/consumer carry the
// Channel, payloadProducer/payloadConsumer the PayloadChannel. pid is
// a synthetic identifier; the remote side must emit a 'running'
// notification on it.
func NewWorkerOnConns(
	settings *WorkerSettings,
	pid int,
	producer, consumer, payloadProducer, payloadConsumer net.Conn,
) (*Worker, error) {
	settings.fillDefaults()

	return newWorker(settings, pid, nil, producer, consumer, payloadProducer, payloadConsumer)
}

// Log implements logger.Writer.
func (w *Worker) Log(level logger.Level, format string, args ...interface{}) {
	if w.parent != nil {
		w.parent.Log(level, format, args...)
	}
}

// Pid returns the worker process identifier.
func (w *Worker) Pid() int {
	return w.pid
}

// Closed reports whether the worker is closed.
func (w *Worker) Closed() bool {
	return atomic.LoadUint32(&w.closed) > 0
}

// Died reports whether the worker process exited unexpectedly.
func (w *Worker) Died() bool {
	return atomic.LoadUint32(&w.died) > 0
}

// AppData returns the custom application data.
func (w *Worker) AppData() H {
	return w.appData
}

// wait supervises the subprocess until it exits.
func (w *Worker) wait() {
	err := w.child.Wait()
	code, signal := exitStatus(err)

	if atomic.CompareAndSwapUint32(&w.spawnDone, 0, 1) {
		// exited before the running notification
		if code == 42 {
			w.Log(logger.Error, "worker process failed due to wrong settings [pid:%d]", w.pid)
			w.startupErr <- NewTypeError("wrong settings")
		} else {
			w.Log(logger.Error, "worker process failed unexpectedly [pid:%d, code:%d, signal:%s]",
				w.pid, code, signal)
			w.startupErr <- WorkerDiedError{Pid: w.pid, Code: code, Signal: signal}
		}
		w.close(false)
		return
	}

	if w.Closed() {
		// the exit was requested by Close()
		return
	}

	atomic.StoreUint32(&w.died, 1)
	w.Log(logger.Error, "worker process died unexpectedly [pid:%d, code:%d, signal:%s]",
		w.pid, code, signal)

	w.close(false)
	w.SafeEmit("died", WorkerDiedError{Pid: w.pid, Code: code, Signal: signal})
}

func exitStatus(err error) (int, string) {
	exiterr, ok := err.(*exec.ExitError)
	if !ok {
		return 0, ""
	}

	status, ok := exiterr.Sys().(syscall.WaitStatus)
	if !ok {
		return 1, ""
	}

	if status.Signaled() {
		return status.ExitStatus(), status.Signal().String()
	}
	return status.ExitStatus(), ""
}

// Close closes the worker and all its Routers and WebRtcServers.
// It can be called more than once.
func (w *Worker) Close() {
	w.close(true)
}

func (w *Worker) close(kill bool) {
	if !atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		return
	}

	w.Log(logger.Debug, "closing worker [pid:%d]", w.pid)

	if kill {
		w.childMutex.Lock()
		if w.child != nil && w.child.Process != nil {
			w.child.Process.Signal(syscall.SIGTERM) //nolint:errcheck
		}
		w.childMutex.Unlock()
	}

	w.channel.Close()
	w.payloadChannel.Close()

	w.routers.Range(func(_, value interface{}) bool {
		value.(*Router).workerClosed()
		return true
	})
	w.routers = sync.Map{}

	w.webRtcServers.Range(func(_, value interface{}) bool {
		value.(*WebRtcServer).workerClosed()
		return true
	})
	w.webRtcServers = sync.Map{}
}

// Dump returns the internal state of the worker.
func (w *Worker) Dump() (json.RawMessage, error) {
	return w.channel.Request("worker.dump", "", nil)
}

// GetResourceUsage returns the resource usage of the worker process.
func (w *Worker) GetResourceUsage() (usage WorkerResourceUsage, err error) {
	data, err := w.channel.Request("worker.getResourceUsage", "", nil)
	if err != nil {
		return
	}
	err = json.Unmarshal(data, &usage)
	return
}

// UpdateSettings updates the log level and tags of the worker.
func (w *Worker) UpdateSettings(settings WorkerUpdateableSettings) error {
	_, err := w.channel.Request("worker.updateSettings", "", settings)
	return err
}

// RouterOptions are the options of CreateRouter.
type RouterOptions struct {
	MediaCodecs []*RtpCodecCapability
	AppData     H
}

// CreateRouter creates a Router on the worker.
func (w *Worker) CreateRouter(options RouterOptions) (*Router, error) {
	if w.Closed() {
		return nil, NewInvalidStateError("worker closed")
	}

	rtpCapabilities, err := generateRouterRtpCapabilities(options.MediaCodecs)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()

	_, err = w.channel.Request("worker.createRouter", id, H{"routerId": id})
	if err != nil {
		return nil, err
	}

	router := newRouter(routerParams{
		id:              id,
		rtpCapabilities: rtpCapabilities,
		channel:         w.channel,
		payloadChannel:  w.payloadChannel,
		appData:         options.AppData,
		parent:          w,
	})

	w.routers.Store(id, router)
	router.On("@close", func() {
		w.routers.Delete(id)
	})

	return router, nil
}

// WebRtcServerOptions are the options of CreateWebRtcServer.
type WebRtcServerOptions struct {
	ListenInfos []WebRtcServerListenInfo
	AppData     H
}

// WebRtcServerListenInfo is one listening endpoint of a WebRtcServer.
type WebRtcServerListenInfo struct {
	Protocol    string `json:"protocol"`
	Ip          string `json:"ip"`
	AnnouncedIp string `json:"announcedIp,omitempty"`
	Port        uint16 `json:"port,omitempty"`
}

// CreateWebRtcServer creates a WebRtcServer on the worker.
func (w *Worker) CreateWebRtcServer(options WebRtcServerOptions) (*WebRtcServer, error) {
	if w.Closed() {
		return nil, NewInvalidStateError("worker closed")
	}

	if len(options.ListenInfos) == 0 {
		return nil, NewTypeError("missing listenInfos")
	}

	id := uuid.NewString()

	_, err := w.channel.Request("worker.createWebRtcServer", id, H{
		"webRtcServerId": id,
		"listenInfos":    options.ListenInfos,
	})
	if err != nil {
		return nil, err
	}

	server := newWebRtcServer(webRtcServerParams{
		id:      id,
		channel: w.channel,
		appData: options.AppData,
		parent:  w,
	})

	w.webRtcServers.Store(id, server)
	server.On("@close", func() {
		w.webRtcServers.Delete(id)
	})

	return server, nil
}
