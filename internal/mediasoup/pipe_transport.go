package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// PipeTransportOptions configure a new PipeTransport.
type PipeTransportOptions struct {
	ListenIp           TransportListenIp `json:"listenIp,omitempty"`
	EnableSctp         bool              `json:"enableSctp,omitempty"`
	NumSctpStreams     NumSctpStreams    `json:"numSctpStreams,omitempty"`
	MaxSctpMessageSize uint32            `json:"maxSctpMessageSize,omitempty"`
	EnableRtx          bool              `json:"enableRtx,omitempty"`
	EnableSrtp         bool              `json:"enableSrtp,omitempty"`
	AppData            H                 `json:"appData,omitempty"`
}

type pipeTransportData struct {
	Tuple          TransportTuple  `json:"tuple"`
	SctpParameters *SctpParameters `json:"sctpParameters,omitempty"`
	SctpState      string          `json:"sctpState,omitempty"`
	Rtx            bool            `json:"rtx,omitempty"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
}

// PipeTransport interconnects two routers, on the same host or across
// hosts, carrying RTP over a fixed UDP tuple.
//
// @emits sctpstatechange (state string)
// @emits trace (trace []byte)
type PipeTransport struct {
	*Transport

	mutex sync.Mutex
	data  pipeTransportData
}

func newPipeTransport(params transportParams, rawData []byte) (*PipeTransport, error) {
	var data pipeTransportData
	if err := json.Unmarshal(rawData, &data); err != nil {
		return nil, err
	}

	t := &PipeTransport{
		Transport: newTransport(params),
		data:      data,
	}
	t.sctpParameters = data.SctpParameters

	t.handleWorkerNotifications()

	return t, nil
}

// Tuple returns the local tuple, with the remote side filled in after
// Connect.
func (t *PipeTransport) Tuple() TransportTuple {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.Tuple
}

// SctpParameters returns the SCTP parameters, nil when SCTP is
// disabled.
func (t *PipeTransport) SctpParameters() *SctpParameters {
	return t.data.SctpParameters
}

// SctpState returns the current SCTP state.
func (t *PipeTransport) SctpState() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.SctpState
}

// Rtx reports whether the transport applies RTX retransmission.
func (t *PipeTransport) Rtx() bool {
	return t.data.Rtx
}

// SrtpParameters returns the local SRTP parameters, nil when SRTP is
// disabled.
func (t *PipeTransport) SrtpParameters() *SrtpParameters {
	return t.data.SrtpParameters
}

// PipeTransportConnectOptions provide the remote pipe endpoint.
type PipeTransportConnectOptions struct {
	Ip             string          `json:"ip,omitempty"`
	Port           uint16          `json:"port,omitempty"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
}

// Connect provides the transport with the address of the remote
// PipeTransport.
func (t *PipeTransport) Connect(options PipeTransportConnectOptions) error {
	if t.Closed() {
		return NewInvalidStateError("transport closed")
	}

	data, err := t.channel.Request("transport.connect", t.id, options)
	if err != nil {
		return err
	}

	var resp struct {
		Tuple TransportTuple `json:"tuple"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}

	t.mutex.Lock()
	t.data.Tuple = resp.Tuple
	t.mutex.Unlock()

	return nil
}

func (t *PipeTransport) handleWorkerNotifications() {
	t.channel.On(t.id, func(event string, data []byte) {
		switch event {
		case "sctpstatechange":
			var resp struct {
				SctpState string `json:"sctpState"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return
			}
			t.mutex.Lock()
			t.data.SctpState = resp.SctpState
			t.mutex.Unlock()
			t.SafeEmit("sctpstatechange", resp.SctpState)

		case "trace":
			t.SafeEmit("trace", data)

		default:
			t.Log(logger.Error, "ignoring unknown transport event '%s'", event)
		}
	})
}
