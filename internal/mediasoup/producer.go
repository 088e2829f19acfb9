package mediasoup

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// ProducerType reflects how the producer sends media.
type ProducerType string

const (
	ProducerType_Simple    ProducerType = "simple"
	ProducerType_Simulcast ProducerType = "simulcast"
	ProducerType_Svc       ProducerType = "svc"
	ProducerType_Pipe      ProducerType = "pipe"
)

// ProducerScore is the score of an RTP stream of the producer.
type ProducerScore struct {
	Ssrc  uint32 `json:"ssrc"`
	Rid   string `json:"rid,omitempty"`
	Score uint8  `json:"score"`
}

// ProducerVideoOrientation is the rotation reported by the producing
// endpoint.
type ProducerVideoOrientation struct {
	Camera   bool  `json:"camera"`
	Flip     bool  `json:"flip"`
	Rotation uint8 `json:"rotation"`
}

type producerParams struct {
	id                      string
	kind                    MediaKind
	producerType            ProducerType
	rtpParameters           RtpParameters
	consumableRtpParameters RtpParameters
	paused                  bool
	channel                 *Channel
	payloadChannel          *PayloadChannel
	appData                 H
	parent                  logger.Writer
}

// Producer represents a media source being received by a transport.
//
// @emits transportclose
// @emits score (scores []ProducerScore)
// @emits videoorientationchange (orientation ProducerVideoOrientation)
// @emits trace (trace []byte)
// @emits @close
type Producer struct {
	IEventEmitter

	id                      string
	kind                    MediaKind
	producerType            ProducerType
	rtpParameters           RtpParameters
	consumableRtpParameters RtpParameters
	channel                 *Channel
	payloadChannel          *PayloadChannel
	closed                  uint32
	appData                 H
	parent                  logger.Writer

	mutex  sync.Mutex
	paused bool
	score  []ProducerScore
}

func newProducer(params producerParams) *Producer {
	if params.appData == nil {
		params.appData = H{}
	}

	p := &Producer{
		IEventEmitter:           NewEventEmitter(),
		id:                      params.id,
		kind:                    params.kind,
		producerType:            params.producerType,
		rtpParameters:           params.rtpParameters,
		consumableRtpParameters: params.consumableRtpParameters,
		channel:                 params.channel,
		payloadChannel:          params.payloadChannel,
		appData:                 params.appData,
		parent:                  params.parent,
		paused:                  params.paused,
		score:                   []ProducerScore{},
	}

	p.handleWorkerNotifications()

	return p
}

// Log implements logger.Writer.
func (p *Producer) Log(level logger.Level, format string, args ...interface{}) {
	if p.parent != nil {
		p.parent.Log(level, format, args...)
	}
}

// Id returns the Producer id.
func (p *Producer) Id() string {
	return p.id
}

// Closed reports whether the Producer is closed.
func (p *Producer) Closed() bool {
	return atomic.LoadUint32(&p.closed) > 0
}

// Kind returns the media kind.
func (p *Producer) Kind() MediaKind {
	return p.kind
}

// Type returns the producer type.
func (p *Producer) Type() ProducerType {
	return p.producerType
}

// RtpParameters returns the RTP parameters the endpoint sends with.
func (p *Producer) RtpParameters() RtpParameters {
	return p.rtpParameters
}

// ConsumableRtpParameters returns the RTP parameters consumers of this
// producer are fed from.
func (p *Producer) ConsumableRtpParameters() RtpParameters {
	return p.consumableRtpParameters
}

// Paused reports whether the Producer is paused.
func (p *Producer) Paused() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.paused
}

// Score returns the last reported scores of the producer streams.
func (p *Producer) Score() []ProducerScore {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.score
}

// AppData returns the custom application data.
func (p *Producer) AppData() H {
	return p.appData
}

// Close closes the Producer. Its consumers are notified through the
// worker and close themselves.
func (p *Producer) Close() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}

	p.Log(logger.Debug, "closing producer %s", p.id)

	p.channel.RemoveAllListeners(p.id)
	p.payloadChannel.RemoveAllListeners(p.id)

	// the transport may already be gone
	p.channel.Request("producer.close", p.id, H{"producerId": p.id}) //nolint:errcheck

	p.Emit("@close")
	p.RemoveAllListeners()
}

// transportClosed is called when the owning transport closes.
func (p *Producer) transportClosed() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}

	p.channel.RemoveAllListeners(p.id)
	p.payloadChannel.RemoveAllListeners(p.id)

	p.SafeEmit("transportclose")
	p.Emit("@close")
	p.RemoveAllListeners()
}

// Dump returns the internal state of the Producer.
func (p *Producer) Dump() ([]byte, error) {
	return p.channel.Request("producer.dump", p.id, nil)
}

// GetStats returns the Producer statistics.
func (p *Producer) GetStats() ([]byte, error) {
	return p.channel.Request("producer.getStats", p.id, nil)
}

// Pause pauses the reception of media.
func (p *Producer) Pause() error {
	if p.Closed() {
		return NewInvalidStateError("producer closed")
	}

	_, err := p.channel.Request("producer.pause", p.id, nil)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	p.paused = true
	p.mutex.Unlock()

	return nil
}

// Resume resumes the reception of media.
func (p *Producer) Resume() error {
	if p.Closed() {
		return NewInvalidStateError("producer closed")
	}

	_, err := p.channel.Request("producer.resume", p.id, nil)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	p.paused = false
	p.mutex.Unlock()

	return nil
}

// EnableTraceEvent instructs the worker to emit trace notifications of
// the given types for this producer.
func (p *Producer) EnableTraceEvent(types []string) error {
	if types == nil {
		types = []string{}
	}
	_, err := p.channel.Request("producer.enableTraceEvent", p.id, H{
		"types": types,
	})
	return err
}

func (p *Producer) handleWorkerNotifications() {
	p.channel.On(p.id, func(event string, data []byte) {
		switch event {
		case "score":
			var score []ProducerScore
			if err := json.Unmarshal(data, &score); err != nil {
				p.Log(logger.Error, "invalid producer score notification: %v", err)
				return
			}
			p.mutex.Lock()
			p.score = score
			p.mutex.Unlock()
			p.SafeEmit("score", score)

		case "videoorientationchange":
			var orientation ProducerVideoOrientation
			if err := json.Unmarshal(data, &orientation); err != nil {
				p.Log(logger.Error, "invalid video orientation notification: %v", err)
				return
			}
			p.SafeEmit("videoorientationchange", orientation)

		case "trace":
			p.SafeEmit("trace", data)

		default:
			p.Log(logger.Error, "ignoring unknown producer event '%s'", event)
		}
	})
}
