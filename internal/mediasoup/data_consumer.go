package mediasoup

import (
	"encoding/json"
	"sync/atomic"

	"github.com/RainStream/rainstream-server/internal/logger"
)

type dataConsumerParams struct {
	id                   string
	dataProducerId       string
	dataConsumerType     DataProducerType
	sctpStreamParameters *SctpStreamParameters
	label                string
	protocol             string
	channel              *Channel
	payloadChannel       *PayloadChannel
	appData              H
	parent               logger.Writer
}

// DataConsumer represents data channel messages from a data producer
// being sent to an endpoint.
//
// @emits transportclose
// @emits dataproducerclose
// @emits message (payload []byte, ppid uint32)
// @emits sctpsendbufferfull
// @emits bufferedamountlow (bufferedAmount uint32)
// @emits @close
// @emits @dataproducerclose
type DataConsumer struct {
	IEventEmitter

	id                   string
	dataProducerId       string
	dataConsumerType     DataProducerType
	sctpStreamParameters *SctpStreamParameters
	label                string
	protocol             string
	channel              *Channel
	payloadChannel       *PayloadChannel
	closed               uint32
	appData              H
	parent               logger.Writer
}

func newDataConsumer(params dataConsumerParams) *DataConsumer {
	if params.appData == nil {
		params.appData = H{}
	}

	c := &DataConsumer{
		IEventEmitter:        NewEventEmitter(),
		id:                   params.id,
		dataProducerId:       params.dataProducerId,
		dataConsumerType:     params.dataConsumerType,
		sctpStreamParameters: params.sctpStreamParameters,
		label:                params.label,
		protocol:             params.protocol,
		channel:              params.channel,
		payloadChannel:       params.payloadChannel,
		appData:              params.appData,
		parent:               params.parent,
	}

	c.handleWorkerNotifications()

	return c
}

// Log implements logger.Writer.
func (c *DataConsumer) Log(level logger.Level, format string, args ...interface{}) {
	if c.parent != nil {
		c.parent.Log(level, format, args...)
	}
}

// Id returns the DataConsumer id.
func (c *DataConsumer) Id() string {
	return c.id
}

// DataProducerId returns the id of the consumed DataProducer.
func (c *DataConsumer) DataProducerId() string {
	return c.dataProducerId
}

// Closed reports whether the DataConsumer is closed.
func (c *DataConsumer) Closed() bool {
	return atomic.LoadUint32(&c.closed) > 0
}

// Type returns the data consumer type.
func (c *DataConsumer) Type() DataProducerType {
	return c.dataConsumerType
}

// SctpStreamParameters returns the SCTP stream parameters, nil for
// direct data consumers.
func (c *DataConsumer) SctpStreamParameters() *SctpStreamParameters {
	return c.sctpStreamParameters
}

// Label returns the data channel label.
func (c *DataConsumer) Label() string {
	return c.label
}

// Protocol returns the data channel protocol.
func (c *DataConsumer) Protocol() string {
	return c.protocol
}

// AppData returns the custom application data.
func (c *DataConsumer) AppData() H {
	return c.appData
}

// Close closes the DataConsumer.
func (c *DataConsumer) Close() {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}

	c.Log(logger.Debug, "closing data consumer %s", c.id)

	c.channel.RemoveAllListeners(c.id)
	c.payloadChannel.RemoveAllListeners(c.id)

	// the transport may already be gone
	c.channel.Request("dataConsumer.close", c.id, H{"dataConsumerId": c.id}) //nolint:errcheck

	c.Emit("@close")
	c.RemoveAllListeners()
}

// transportClosed is called when the owning transport closes.
func (c *DataConsumer) transportClosed() {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}

	c.channel.RemoveAllListeners(c.id)
	c.payloadChannel.RemoveAllListeners(c.id)

	c.SafeEmit("transportclose")
	c.Emit("@close")
	c.RemoveAllListeners()
}

// dataProducerClosed is called when the worker reports the consumed
// data producer as closed.
func (c *DataConsumer) dataProducerClosed() {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}

	c.channel.RemoveAllListeners(c.id)
	c.payloadChannel.RemoveAllListeners(c.id)

	c.SafeEmit("dataproducerclose")
	c.Emit("@dataproducerclose")
	c.Emit("@close")
	c.RemoveAllListeners()
}

// Dump returns the internal state of the DataConsumer.
func (c *DataConsumer) Dump() ([]byte, error) {
	return c.channel.Request("dataConsumer.dump", c.id, nil)
}

// GetStats returns the DataConsumer statistics.
func (c *DataConsumer) GetStats() ([]byte, error) {
	return c.channel.Request("dataConsumer.getStats", c.id, nil)
}

// GetBufferedAmount returns the number of bytes queued in the
// underlying SCTP send buffer.
func (c *DataConsumer) GetBufferedAmount() (uint32, error) {
	data, err := c.channel.Request("dataConsumer.getBufferedAmount", c.id, nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		BufferedAmount uint32 `json:"bufferedAmount"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, err
	}

	return resp.BufferedAmount, nil
}

// SetBufferedAmountLowThreshold sets the buffered amount below which a
// bufferedamountlow notification is emitted.
func (c *DataConsumer) SetBufferedAmountLowThreshold(threshold uint32) error {
	_, err := c.channel.Request("dataConsumer.setBufferedAmountLowThreshold", c.id, H{
		"threshold": threshold,
	})
	return err
}

func (c *DataConsumer) handleWorkerNotifications() {
	c.channel.On(c.id, func(event string, data []byte) {
		switch event {
		case "dataproducerclose":
			c.dataProducerClosed()

		case "sctpsendbufferfull":
			c.SafeEmit("sctpsendbufferfull")

		case "bufferedamountlow":
			var resp struct {
				BufferedAmount uint32 `json:"bufferedAmount"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				c.Log(logger.Error, "invalid bufferedamountlow notification: %v", err)
				return
			}
			c.SafeEmit("bufferedamountlow", resp.BufferedAmount)

		default:
			c.Log(logger.Error, "ignoring unknown data consumer event '%s'", event)
		}
	})

	c.payloadChannel.On(c.id, func(event string, data, payload []byte) {
		switch event {
		case "message":
			var header struct {
				Ppid uint32 `json:"ppid"`
			}
			if err := json.Unmarshal(data, &header); err != nil {
				c.Log(logger.Error, "invalid message notification: %v", err)
				return
			}
			c.SafeEmit("message", payload, header.Ppid)

		default:
			c.Log(logger.Error, "ignoring unknown data consumer event '%s'", event)
		}
	})
}
