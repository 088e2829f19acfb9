package mediasoup

import (
	"github.com/RainStream/rainstream-server/internal/logger"
)

// DirectTransportOptions configure a new DirectTransport.
type DirectTransportOptions struct {
	MaxMessageSize uint32 `json:"maxMessageSize,omitempty"`
	AppData        H      `json:"appData,omitempty"`
}

// DirectTransport exchanges data messages directly between the
// application and the router, with no network involved.
//
// @emits rtcp (packet []byte)
// @emits trace (trace []byte)
type DirectTransport struct {
	*Transport
}

func newDirectTransport(params transportParams, _ []byte) (*DirectTransport, error) {
	t := &DirectTransport{
		Transport: newTransport(params),
	}
	t.directTransport = true

	t.handleWorkerNotifications()

	return t, nil
}

// SendRtcp feeds an RTCP packet into the transport.
func (t *DirectTransport) SendRtcp(packet []byte) error {
	if t.Closed() {
		return NewInvalidStateError("transport closed")
	}

	return t.payloadChannel.Notify("transport.sendRtcp", t.id, nil, packet)
}

func (t *DirectTransport) handleWorkerNotifications() {
	t.channel.On(t.id, func(event string, data []byte) {
		switch event {
		case "trace":
			t.SafeEmit("trace", data)

		default:
			t.Log(logger.Error, "ignoring unknown transport event '%s'", event)
		}
	})

	t.payloadChannel.On(t.id, func(event string, data, payload []byte) {
		switch event {
		case "rtcp":
			t.SafeEmit("rtcp", payload)

		default:
			t.Log(logger.Error, "ignoring unknown transport event '%s'", event)
		}
	})
}
