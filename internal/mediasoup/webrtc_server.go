package mediasoup

import (
	"sync/atomic"
)

type webRtcServerParams struct {
	id      string
	channel *Channel
	appData H
	parent  *Worker
}

// WebRtcServer is a worker-wide server that listens on fixed ports and
// can be shared by multiple WebRtcTransports.
//
// @emits workerclose
// @emits @close
type WebRtcServer struct {
	IEventEmitter

	id      string
	channel *Channel
	closed  uint32
	appData H
}

func newWebRtcServer(params webRtcServerParams) *WebRtcServer {
	if params.appData == nil {
		params.appData = H{}
	}

	return &WebRtcServer{
		IEventEmitter: NewEventEmitter(),
		id:            params.id,
		channel:       params.channel,
		appData:       params.appData,
	}
}

// Id returns the WebRtcServer id.
func (s *WebRtcServer) Id() string {
	return s.id
}

// Closed reports whether the WebRtcServer is closed.
func (s *WebRtcServer) Closed() bool {
	return atomic.LoadUint32(&s.closed) > 0
}

// AppData returns the custom application data.
func (s *WebRtcServer) AppData() H {
	return s.appData
}

// Close closes the WebRtcServer.
func (s *WebRtcServer) Close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}

	// the worker may already be gone
	s.channel.Request("worker.closeWebRtcServer", s.id, H{"webRtcServerId": s.id}) //nolint:errcheck

	s.Emit("@close")
}

// workerClosed is called when the owning worker dies or closes.
func (s *WebRtcServer) workerClosed() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}

	s.SafeEmit("workerclose")
}

// Dump returns the internal state of the WebRtcServer.
func (s *WebRtcServer) Dump() ([]byte, error) {
	return s.channel.Request("webRtcServer.dump", s.id, nil)
}
