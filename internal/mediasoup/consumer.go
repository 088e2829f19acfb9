package mediasoup

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// ConsumerScore groups the scores of the consumer and its producer.
type ConsumerScore struct {
	Score          uint8   `json:"score"`
	ProducerScore  uint8   `json:"producerScore"`
	ProducerScores []uint8 `json:"producerScores,omitempty"`
}

// ConsumerLayers designates spatial and temporal layers of a simulcast
// or SVC consumer. Layer 0 and "no layer" are distinct, hence the
// pointers.
type ConsumerLayers struct {
	SpatialLayer  *uint8 `json:"spatialLayer"`
	TemporalLayer *uint8 `json:"temporalLayer,omitempty"`
}

type consumerParams struct {
	id              string
	producerId      string
	kind            MediaKind
	consumerType    ProducerType
	rtpParameters   RtpParameters
	paused          bool
	producerPaused  bool
	score           *ConsumerScore
	preferredLayers *ConsumerLayers
	channel         *Channel
	payloadChannel  *PayloadChannel
	appData         H
	parent          logger.Writer
}

// Consumer represents media from a producer being sent to an endpoint.
//
// @emits transportclose
// @emits producerclose
// @emits producerpause
// @emits producerresume
// @emits score (score ConsumerScore)
// @emits layerschange (layers *ConsumerLayers)
// @emits trace (trace []byte)
// @emits @close
// @emits @producerclose
type Consumer struct {
	IEventEmitter

	id             string
	producerId     string
	kind           MediaKind
	consumerType   ProducerType
	rtpParameters  RtpParameters
	channel        *Channel
	payloadChannel *PayloadChannel
	closed         uint32
	appData        H
	parent         logger.Writer

	mutex           sync.Mutex
	paused          bool
	producerPaused  bool
	score           ConsumerScore
	currentLayers   *ConsumerLayers
	preferredLayers *ConsumerLayers
	priority        uint8
}

func newConsumer(params consumerParams) *Consumer {
	if params.appData == nil {
		params.appData = H{}
	}

	c := &Consumer{
		IEventEmitter:   NewEventEmitter(),
		id:              params.id,
		producerId:      params.producerId,
		kind:            params.kind,
		consumerType:    params.consumerType,
		rtpParameters:   params.rtpParameters,
		channel:         params.channel,
		payloadChannel:  params.payloadChannel,
		appData:         params.appData,
		parent:          params.parent,
		paused:          params.paused,
		producerPaused:  params.producerPaused,
		preferredLayers: params.preferredLayers,
		priority:        1,
	}

	if params.score != nil {
		c.score = *params.score
	} else {
		c.score = ConsumerScore{Score: 10, ProducerScore: 10}
	}

	c.handleWorkerNotifications()

	return c
}

// Log implements logger.Writer.
func (c *Consumer) Log(level logger.Level, format string, args ...interface{}) {
	if c.parent != nil {
		c.parent.Log(level, format, args...)
	}
}

// Id returns the Consumer id.
func (c *Consumer) Id() string {
	return c.id
}

// ProducerId returns the id of the consumed Producer.
func (c *Consumer) ProducerId() string {
	return c.producerId
}

// Closed reports whether the Consumer is closed.
func (c *Consumer) Closed() bool {
	return atomic.LoadUint32(&c.closed) > 0
}

// Kind returns the media kind.
func (c *Consumer) Kind() MediaKind {
	return c.kind
}

// Type returns the consumer type.
func (c *Consumer) Type() ProducerType {
	return c.consumerType
}

// RtpParameters returns the RTP parameters the endpoint receives with.
func (c *Consumer) RtpParameters() RtpParameters {
	return c.rtpParameters
}

// Paused reports whether the Consumer itself is paused.
func (c *Consumer) Paused() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.paused
}

// ProducerPaused reports whether the consumed Producer is paused.
func (c *Consumer) ProducerPaused() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.producerPaused
}

// Score returns the last reported consumer score.
func (c *Consumer) Score() ConsumerScore {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.score
}

// CurrentLayers returns the currently active layers, nil when unknown.
func (c *Consumer) CurrentLayers() *ConsumerLayers {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.currentLayers
}

// PreferredLayers returns the preferred layers, nil when unset.
func (c *Consumer) PreferredLayers() *ConsumerLayers {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.preferredLayers
}

// Priority returns the consumer priority.
func (c *Consumer) Priority() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.priority
}

// AppData returns the custom application data.
func (c *Consumer) AppData() H {
	return c.appData
}

// Close closes the Consumer.
func (c *Consumer) Close() {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}

	c.Log(logger.Debug, "closing consumer %s", c.id)

	c.channel.RemoveAllListeners(c.id)
	c.payloadChannel.RemoveAllListeners(c.id)

	// the transport may already be gone
	c.channel.Request("consumer.close", c.id, H{"consumerId": c.id}) //nolint:errcheck

	c.Emit("@close")
	c.RemoveAllListeners()
}

// transportClosed is called when the owning transport closes.
func (c *Consumer) transportClosed() {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}

	c.channel.RemoveAllListeners(c.id)
	c.payloadChannel.RemoveAllListeners(c.id)

	c.SafeEmit("transportclose")
	c.Emit("@close")
	c.RemoveAllListeners()
}

// producerClosed is called when the worker reports the consumed
// producer as closed.
func (c *Consumer) producerClosed() {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}

	c.channel.RemoveAllListeners(c.id)
	c.payloadChannel.RemoveAllListeners(c.id)

	c.SafeEmit("producerclose")
	c.Emit("@producerclose")
	c.Emit("@close")
	c.RemoveAllListeners()
}

// Dump returns the internal state of the Consumer.
func (c *Consumer) Dump() ([]byte, error) {
	return c.channel.Request("consumer.dump", c.id, nil)
}

// GetStats returns the Consumer statistics.
func (c *Consumer) GetStats() ([]byte, error) {
	return c.channel.Request("consumer.getStats", c.id, nil)
}

// Pause pauses the sending of media.
func (c *Consumer) Pause() error {
	if c.Closed() {
		return NewInvalidStateError("consumer closed")
	}

	_, err := c.channel.Request("consumer.pause", c.id, nil)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	c.paused = true
	c.mutex.Unlock()

	return nil
}

// Resume resumes the sending of media.
func (c *Consumer) Resume() error {
	if c.Closed() {
		return NewInvalidStateError("consumer closed")
	}

	_, err := c.channel.Request("consumer.resume", c.id, nil)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	c.paused = false
	c.mutex.Unlock()

	return nil
}

// SetPreferredLayers asks the worker to deliver the given spatial and
// temporal layers when possible.
func (c *Consumer) SetPreferredLayers(layers ConsumerLayers) error {
	if c.Closed() {
		return NewInvalidStateError("consumer closed")
	}

	data, err := c.channel.Request("consumer.setPreferredLayers", c.id, layers)
	if err != nil {
		return err
	}

	var preferred *ConsumerLayers
	if err := json.Unmarshal(data, &preferred); err != nil {
		return err
	}

	c.mutex.Lock()
	c.preferredLayers = preferred
	c.mutex.Unlock()

	return nil
}

// SetPriority sets the consumer priority used by the bandwidth
// estimator when distributing the available bitrate.
func (c *Consumer) SetPriority(priority uint8) error {
	if c.Closed() {
		return NewInvalidStateError("consumer closed")
	}

	_, err := c.channel.Request("consumer.setPriority", c.id, H{
		"priority": priority,
	})
	if err != nil {
		return err
	}

	c.mutex.Lock()
	c.priority = priority
	c.mutex.Unlock()

	return nil
}

// RequestKeyFrame asks the producing endpoint for a video key frame.
func (c *Consumer) RequestKeyFrame() error {
	if c.Closed() {
		return NewInvalidStateError("consumer closed")
	}

	_, err := c.channel.Request("consumer.requestKeyFrame", c.id, nil)
	return err
}

// EnableTraceEvent instructs the worker to emit trace notifications of
// the given types for this consumer.
func (c *Consumer) EnableTraceEvent(types []string) error {
	if types == nil {
		types = []string{}
	}
	_, err := c.channel.Request("consumer.enableTraceEvent", c.id, H{
		"types": types,
	})
	return err
}

func (c *Consumer) handleWorkerNotifications() {
	c.channel.On(c.id, func(event string, data []byte) {
		switch event {
		case "producerclose":
			c.producerClosed()

		case "producerpause":
			c.mutex.Lock()
			c.producerPaused = true
			c.mutex.Unlock()
			c.SafeEmit("producerpause")

		case "producerresume":
			c.mutex.Lock()
			c.producerPaused = false
			c.mutex.Unlock()
			c.SafeEmit("producerresume")

		case "score":
			var score ConsumerScore
			if err := json.Unmarshal(data, &score); err != nil {
				c.Log(logger.Error, "invalid consumer score notification: %v", err)
				return
			}
			c.mutex.Lock()
			c.score = score
			c.mutex.Unlock()
			c.SafeEmit("score", score)

		case "layerschange":
			var layers *ConsumerLayers
			if err := json.Unmarshal(data, &layers); err != nil {
				c.Log(logger.Error, "invalid layers notification: %v", err)
				return
			}
			c.mutex.Lock()
			c.currentLayers = layers
			c.mutex.Unlock()
			c.SafeEmit("layerschange", layers)

		case "trace":
			c.SafeEmit("trace", data)

		default:
			c.Log(logger.Error, "ignoring unknown consumer event '%s'", event)
		}
	})
}
