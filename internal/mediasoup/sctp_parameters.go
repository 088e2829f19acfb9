package mediasoup

// SctpCapabilities define what an endpoint supports at SCTP level.
type SctpCapabilities struct {
	NumStreams NumSctpStreams `json:"numStreams"`
}

// NumSctpStreams is the number of outgoing and incoming SCTP streams.
type NumSctpStreams struct {
	// OS is the initially requested number of outgoing SCTP streams.
	OS uint16 `json:"OS"`
	// MIS is the maximum number of incoming SCTP streams.
	MIS uint16 `json:"MIS"`
}

// SctpParameters describe the SCTP association of a transport.
type SctpParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"OS"`
	MIS            uint16 `json:"MIS"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

// SctpStreamParameters describe the reliability of a certain SCTP stream.
type SctpStreamParameters struct {
	StreamId          uint16 `json:"streamId"`
	Ordered           *bool  `json:"ordered,omitempty"`
	MaxPacketLifeTime uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    uint16 `json:"maxRetransmits,omitempty"`
}
