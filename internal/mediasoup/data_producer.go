package mediasoup

import (
	"sync/atomic"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// DataProducerType reflects how messages enter the worker.
type DataProducerType string

const (
	DataProducerType_Sctp   DataProducerType = "sctp"
	DataProducerType_Direct DataProducerType = "direct"
)

type dataProducerParams struct {
	id                   string
	dataProducerType     DataProducerType
	sctpStreamParameters *SctpStreamParameters
	label                string
	protocol             string
	channel              *Channel
	payloadChannel       *PayloadChannel
	appData              H
	parent               logger.Writer
}

// DataProducer represents a data channel source being received by a
// transport.
//
// @emits transportclose
// @emits @close
type DataProducer struct {
	IEventEmitter

	id                   string
	dataProducerType     DataProducerType
	sctpStreamParameters *SctpStreamParameters
	label                string
	protocol             string
	channel              *Channel
	payloadChannel       *PayloadChannel
	closed               uint32
	appData              H
	parent               logger.Writer
}

func newDataProducer(params dataProducerParams) *DataProducer {
	if params.appData == nil {
		params.appData = H{}
	}

	return &DataProducer{
		IEventEmitter:        NewEventEmitter(),
		id:                   params.id,
		dataProducerType:     params.dataProducerType,
		sctpStreamParameters: params.sctpStreamParameters,
		label:                params.label,
		protocol:             params.protocol,
		channel:              params.channel,
		payloadChannel:       params.payloadChannel,
		appData:              params.appData,
		parent:               params.parent,
	}
}

// Log implements logger.Writer.
func (p *DataProducer) Log(level logger.Level, format string, args ...interface{}) {
	if p.parent != nil {
		p.parent.Log(level, format, args...)
	}
}

// Id returns the DataProducer id.
func (p *DataProducer) Id() string {
	return p.id
}

// Closed reports whether the DataProducer is closed.
func (p *DataProducer) Closed() bool {
	return atomic.LoadUint32(&p.closed) > 0
}

// Type returns the data producer type.
func (p *DataProducer) Type() DataProducerType {
	return p.dataProducerType
}

// SctpStreamParameters returns the SCTP stream parameters, nil for
// direct data producers.
func (p *DataProducer) SctpStreamParameters() *SctpStreamParameters {
	return p.sctpStreamParameters
}

// Label returns the data channel label.
func (p *DataProducer) Label() string {
	return p.label
}

// Protocol returns the data channel protocol.
func (p *DataProducer) Protocol() string {
	return p.protocol
}

// AppData returns the custom application data.
func (p *DataProducer) AppData() H {
	return p.appData
}

// Close closes the DataProducer. Its data consumers are notified
// through the worker and close themselves.
func (p *DataProducer) Close() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}

	p.Log(logger.Debug, "closing data producer %s", p.id)

	p.channel.RemoveAllListeners(p.id)
	p.payloadChannel.RemoveAllListeners(p.id)

	// the transport may already be gone
	p.channel.Request("dataProducer.close", p.id, H{"dataProducerId": p.id}) //nolint:errcheck

	p.Emit("@close")
	p.RemoveAllListeners()
}

// transportClosed is called when the owning transport closes.
func (p *DataProducer) transportClosed() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}

	p.channel.RemoveAllListeners(p.id)
	p.payloadChannel.RemoveAllListeners(p.id)

	p.SafeEmit("transportclose")
	p.Emit("@close")
	p.RemoveAllListeners()
}

// Dump returns the internal state of the DataProducer.
func (p *DataProducer) Dump() ([]byte, error) {
	return p.channel.Request("dataProducer.dump", p.id, nil)
}

// GetStats returns the DataProducer statistics.
func (p *DataProducer) GetStats() ([]byte, error) {
	return p.channel.Request("dataProducer.getStats", p.id, nil)
}

// Send pushes a message into the worker, only meaningful on direct
// transports. The ppid selects the WebRTC datachannel payload type:
// 51 for text, 53 for binary.
func (p *DataProducer) Send(payload []byte, ppid uint32) error {
	if p.Closed() {
		return NewInvalidStateError("data producer closed")
	}

	return p.payloadChannel.Notify("dataProducer.send", p.id, H{
		"ppid": ppid,
	}, payload)
}

// SendText sends a text message.
func (p *DataProducer) SendText(message string) error {
	return p.Send([]byte(message), 51)
}

// SendBinary sends a binary message.
func (p *DataProducer) SendBinary(message []byte) error {
	return p.Send(message, 53)
}
