package mediasoup

import (
	"encoding/json"
	"sync"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// IceParameters are the local ICE parameters offered to the endpoint.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

// IceCandidate is a local ICE candidate offered to the endpoint.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Ip         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TcpType    string `json:"tcpType,omitempty"`
}

// DtlsFingerprint is a certificate fingerprint in "algorithm value" form.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters describe a DTLS endpoint.
type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportTuple is a local/remote address pair.
type TransportTuple struct {
	LocalIp    string `json:"localIp,omitempty"`
	LocalPort  uint16 `json:"localPort,omitempty"`
	RemoteIp   string `json:"remoteIp,omitempty"`
	RemotePort uint16 `json:"remotePort,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
}

// SrtpParameters describe an SRTP crypto suite and key.
type SrtpParameters struct {
	CryptoSuite string `json:"cryptoSuite"`
	KeyBase64   string `json:"keyBase64"`
}

// WebRtcTransportOptions configure a new WebRtcTransport.
type WebRtcTransportOptions struct {
	ListenIps                       []TransportListenIp `json:"listenIps,omitempty"`
	WebRtcServer                    *WebRtcServer       `json:"-"`
	EnableUdp                       bool                `json:"enableUdp,omitempty"`
	EnableTcp                       bool                `json:"enableTcp,omitempty"`
	PreferUdp                       bool                `json:"preferUdp,omitempty"`
	PreferTcp                       bool                `json:"preferTcp,omitempty"`
	InitialAvailableOutgoingBitrate uint32              `json:"initialAvailableOutgoingBitrate,omitempty"`
	EnableSctp                      bool                `json:"enableSctp,omitempty"`
	NumSctpStreams                  NumSctpStreams      `json:"numSctpStreams,omitempty"`
	MaxSctpMessageSize              uint32              `json:"maxSctpMessageSize,omitempty"`
	AppData                         H                   `json:"appData,omitempty"`
}

type webRtcTransportData struct {
	IceRole          string          `json:"iceRole"`
	IceParameters    IceParameters   `json:"iceParameters"`
	IceCandidates    []IceCandidate  `json:"iceCandidates"`
	IceState         string          `json:"iceState"`
	IceSelectedTuple *TransportTuple `json:"iceSelectedTuple,omitempty"`
	DtlsParameters   DtlsParameters  `json:"dtlsParameters"`
	DtlsState        string          `json:"dtlsState"`
	SctpParameters   *SctpParameters `json:"sctpParameters,omitempty"`
	SctpState        string          `json:"sctpState,omitempty"`
}

// WebRtcTransport carries media to and from a WebRTC endpoint over
// ICE and DTLS.
//
// @emits icestatechange (state string)
// @emits iceselectedtuplechange (tuple TransportTuple)
// @emits dtlsstatechange (state string)
// @emits sctpstatechange (state string)
// @emits trace (trace []byte)
type WebRtcTransport struct {
	*Transport

	mutex sync.Mutex
	data  webRtcTransportData
}

func newWebRtcTransport(params transportParams, rawData []byte) (*WebRtcTransport, error) {
	var data webRtcTransportData
	if err := json.Unmarshal(rawData, &data); err != nil {
		return nil, err
	}

	t := &WebRtcTransport{
		Transport: newTransport(params),
		data:      data,
	}
	t.sctpParameters = data.SctpParameters

	t.handleWorkerNotifications()

	return t, nil
}

// IceRole returns the local ICE role, always "controlled".
func (t *WebRtcTransport) IceRole() string {
	return t.data.IceRole
}

// IceParameters returns the local ICE parameters.
func (t *WebRtcTransport) IceParameters() IceParameters {
	return t.data.IceParameters
}

// IceCandidates returns the local ICE candidates.
func (t *WebRtcTransport) IceCandidates() []IceCandidate {
	return t.data.IceCandidates
}

// IceState returns the current ICE state.
func (t *WebRtcTransport) IceState() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.IceState
}

// IceSelectedTuple returns the selected ICE tuple, nil before
// connection.
func (t *WebRtcTransport) IceSelectedTuple() *TransportTuple {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.IceSelectedTuple
}

// DtlsParameters returns the local DTLS parameters.
func (t *WebRtcTransport) DtlsParameters() DtlsParameters {
	return t.data.DtlsParameters
}

// DtlsState returns the current DTLS state.
func (t *WebRtcTransport) DtlsState() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.DtlsState
}

// SctpParameters returns the SCTP parameters, nil when SCTP is
// disabled.
func (t *WebRtcTransport) SctpParameters() *SctpParameters {
	return t.data.SctpParameters
}

// SctpState returns the current SCTP state.
func (t *WebRtcTransport) SctpState() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.data.SctpState
}

// Connect provides the transport with the remote DTLS parameters.
func (t *WebRtcTransport) Connect(dtlsParameters DtlsParameters) error {
	if t.Closed() {
		return NewInvalidStateError("transport closed")
	}

	data, err := t.channel.Request("transport.connect", t.id, H{
		"dtlsParameters": dtlsParameters,
	})
	if err != nil {
		return err
	}

	var resp struct {
		DtlsLocalRole string `json:"dtlsLocalRole"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}

	t.mutex.Lock()
	t.data.DtlsParameters.Role = resp.DtlsLocalRole
	t.mutex.Unlock()

	return nil
}

// RestartIce generates new local ICE parameters and returns them.
func (t *WebRtcTransport) RestartIce() (IceParameters, error) {
	if t.Closed() {
		return IceParameters{}, NewInvalidStateError("transport closed")
	}

	data, err := t.channel.Request("transport.restartIce", t.id, nil)
	if err != nil {
		return IceParameters{}, err
	}

	var resp struct {
		IceParameters IceParameters `json:"iceParameters"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return IceParameters{}, err
	}

	t.mutex.Lock()
	t.data.IceParameters = resp.IceParameters
	t.mutex.Unlock()

	return resp.IceParameters, nil
}

func (t *WebRtcTransport) handleWorkerNotifications() {
	t.channel.On(t.id, func(event string, data []byte) {
		switch event {
		case "icestatechange":
			var resp struct {
				IceState string `json:"iceState"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return
			}
			t.mutex.Lock()
			t.data.IceState = resp.IceState
			t.mutex.Unlock()
			t.SafeEmit("icestatechange", resp.IceState)

		case "iceselectedtuplechange":
			var resp struct {
				IceSelectedTuple TransportTuple `json:"iceSelectedTuple"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return
			}
			t.mutex.Lock()
			t.data.IceSelectedTuple = &resp.IceSelectedTuple
			t.mutex.Unlock()
			t.SafeEmit("iceselectedtuplechange", resp.IceSelectedTuple)

		case "dtlsstatechange":
			var resp struct {
				DtlsState string `json:"dtlsState"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return
			}
			t.mutex.Lock()
			t.data.DtlsState = resp.DtlsState
			t.mutex.Unlock()
			t.SafeEmit("dtlsstatechange", resp.DtlsState)

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
