package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// PlainTransportOptions configure a new PlainTransport.
type PlainTransportOptions struct {
	ListenIp           TransportListenIp `json:"listenIp,omitempty"`
	RtcpMux            bool              `json:"rtcpMux,omitempty"`
	Comedia            bool              `json:"comedia,omitempty"`
	EnableSctp         bool              `json:"enableSctp,omitempty"`
	NumSctpStreams     NumSctpStreams    `json:"numSctpStreams,omitempty"`
	MaxSctpMessageSize uint32            `json:"maxSctpMessageSize,omitempty"`
	EnableSrtp         bool              `json:"enableSrtp,omitempty"`
	AppData            H                 `json:"appData,omitempty"`
}

type plainTransportData struct {
	Tuple          TransportTuple  `json:"tuple"`
	RtcpTuple      *TransportTuple `json:"rtcpTuple,omitempty"`
	SctpParameters *SctpParameters `json:"sctpParameters,omitempty"`
	SctpState      string          `json:"sctpState,omitempty"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
}

// PlainTransport carries plain RTP, optionally protected with SRTP.
//
// @emits tuple (tuple TransportTuple)
// @emits rtcptuple (tuple TransportTuple)
// @emits sctpstatechange (state string)
// @emits trace (trace []byte)
type PlainTransport struct {
	*Transport

	mutex sync.Mutex
	data  plainTransportData
}

func newPlainTransport(params transportParams, rawData []byte) (*PlainTransport, error) {
	var data plainTransportData
	if err := json.Unmarshal(rawData, &data); err != nil {
		return nil, err
	}

	t := &PlainTransport{
		Transport: newTransport(params),
		data:      data,
	}
	t.sctpParameters = data.SctpParameters

	t.handleWorkerNotifications()

	return t, nil
}

// Tuple returns the local RTP tuple, with the remote side filled in
// once known.
func (t *PlainTransport) Tuple() TransportTuple {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.Tuple
}

// RtcpTuple returns the RTCP tuple, nil when RTCP multiplexing is on.
func (t *PlainTransport) RtcpTuple() *TransportTuple {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.RtcpTuple
}

// SctpParameters returns the SCTP parameters, nil when SCTP is
// disabled.
func (t *PlainTransport) SctpParameters() *SctpParameters {
	return t.data.SctpParameters
}

// SctpState returns the current SCTP state.
func (t *PlainTransport) SctpState() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.SctpState
}

// SrtpParameters returns the local SRTP parameters, nil when SRTP is
// disabled.
func (t *PlainTransport) SrtpParameters() *SrtpParameters {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.SrtpParameters
}

// PlainTransportConnectOptions provide the remote address and
// optionally the remote SRTP parameters.
type PlainTransportConnectOptions struct {
	Ip             string          `json:"ip,omitempty"`
	Port           uint16          `json:"port,omitempty"`
	RtcpPort       uint16          `json:"rtcpPort,omitempty"`
	SrtpParameters *SrtpParameters `json:"srtpParameters,omitempty"`
}

// Connect provides the transport with the remote endpoint address.
// Not needed when comedia mode is on.
func (t *PlainTransport) Connect(options PlainTransportConnectOptions) error {
	if t.Closed() {
		return NewInvalidStateError("transport closed")
	}

	data, err := t.channel.Request("transport.connect", t.id, options)
	if err != nil {
		return err
	}

	var resp plainTransportData
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}

	t.mutex.Lock()
	t.data.Tuple = resp.Tuple
	if resp.RtcpTuple != nil {
		t.data.RtcpTuple = resp.RtcpTuple
	}
	if resp.SrtpParameters != nil {
		t.data.SrtpParameters = resp.SrtpParameters
	}
	t.mutex.Unlock()

	return nil
}

func (t *PlainTransport) handleWorkerNotifications() {
	t.channel.On(t.id, func(event string, data []byte) {
		switch event {
		case "tuple":
			var resp struct {
				Tuple TransportTuple `json:"tuple"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return
			}
			t.mutex.Lock()
			t.data.Tuple = resp.Tuple
			t.mutex.Unlock()
			t.SafeEmit("tuple", resp.Tuple)

		case "rtcptuple":
			var resp struct {
				RtcpTuple TransportTuple `json:"rtcpTuple"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return
			}
			t.mutex.Lock()
			t.data.RtcpTuple = &resp.RtcpTuple
			t.mutex.Unlock()
			t.SafeEmit("rtcptuple", resp.RtcpTuple)

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
