package mediasoup

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// ITransport is implemented by every transport flavor.
type ITransport interface {
	IEventEmitter
	Id() string
	Closed() bool
	AppData() H
	Close()
	routerClosed()
	Dump() ([]byte, error)
	GetStats() ([]byte, error)
	EnableTraceEvent(types []string) error
	Produce(options ProducerOptions) (*Producer, error)
	Consume(options ConsumerOptions) (*Consumer, error)
	ProduceData(options DataProducerOptions) (*DataProducer, error)
	ConsumeData(options DataConsumerOptions) (*DataConsumer, error)
}

// ProducerOptions describes a media producer to be created on a transport.
type ProducerOptions struct {
	Id                   string        `json:"id,omitempty"`
	Kind                 MediaKind     `json:"kind,omitempty"`
	RtpParameters        RtpParameters `json:"rtpParameters,omitempty"`
	Paused               bool          `json:"paused,omitempty"`
	KeyFrameRequestDelay uint32        `json:"keyFrameRequestDelay,omitempty"`
	AppData              H             `json:"appData,omitempty"`
}

// ConsumerOptions describes a media consumer to be created on a transport.
type ConsumerOptions struct {
	ProducerId      string           `json:"producerId,omitempty"`
	RtpCapabilities RtpCapabilities  `json:"rtpCapabilities,omitempty"`
	Paused          bool             `json:"paused,omitempty"`
	PreferredLayers *ConsumerLayers  `json:"preferredLayers,omitempty"`
	Pipe            bool             `json:"pipe,omitempty"`
	AppData         H                `json:"appData,omitempty"`
}

// DataProducerOptions describes a data producer to be created on a transport.
type DataProducerOptions struct {
	Id                   string                `json:"id,omitempty"`
	SctpStreamParameters *SctpStreamParameters `json:"sctpStreamParameters,omitempty"`
	Label                string                `json:"label,omitempty"`
	Protocol             string                `json:"protocol,omitempty"`
	AppData              H                     `json:"appData,omitempty"`
}

// DataConsumerOptions describes a data consumer to be created on a transport.
type DataConsumerOptions struct {
	DataProducerId    string `json:"dataProducerId,omitempty"`
	Ordered           *bool  `json:"ordered,omitempty"`
	MaxPacketLifeTime uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    uint16 `json:"maxRetransmits,omitempty"`
	AppData           H      `json:"appData,omitempty"`
}

type transportParams struct {
	id             string
	channel        *Channel
	payloadChannel *PayloadChannel
	appData        H
	router         *Router
	parent         logger.Writer
}

// Transport holds the state and behavior shared by all transport
// flavors. Concrete transports embed it.
//
// @emits routerclose
// @emits @close
type Transport struct {
	IEventEmitter

	id             string
	channel        *Channel
	payloadChannel *PayloadChannel
	closed         uint32
	appData        H
	router         *Router
	parent         logger.Writer

	producers     sync.Map // id -> *Producer
	consumers     sync.Map // id -> *Consumer
	dataProducers sync.Map // id -> *DataProducer
	dataConsumers sync.Map // id -> *DataConsumer

	// SCTP stream ids in use by data consumers, bounded by MIS
	sctpParameters  *SctpParameters
	sctpMutex       sync.Mutex
	sctpStreamIds   []byte
	nextSctpStream  int

	// set by concrete transports that carry media over SCTP directly
	directTransport bool
}

func newTransport(params transportParams) *Transport {
	if params.appData == nil {
		params.appData = H{}
	}

	return &Transport{
		IEventEmitter:  NewEventEmitter(),
		id:             params.id,
		channel:        params.channel,
		payloadChannel: params.payloadChannel,
		appData:        params.appData,
		router:         params.router,
		parent:         params.parent,
	}
}

// Log implements logger.Writer.
func (t *Transport) Log(level logger.Level, format string, args ...interface{}) {
	if t.parent != nil {
		t.parent.Log(level, format, args...)
	}
}

// Id returns the transport id.
func (t *Transport) Id() string {
	return t.id
}

// Closed reports whether the transport is closed.
func (t *Transport) Closed() bool {
	return atomic.LoadUint32(&t.closed) > 0
}

// AppData returns the custom application data.
func (t *Transport) AppData() H {
	return t.appData
}

// Close closes the transport and everything produced or consumed on it.
func (t *Transport) Close() {
	if !atomic.CompareAndSwapUint32(&t.closed, 0, 1) {
		return
	}

	t.Log(logger.Debug, "closing transport %s", t.id)

	t.channel.RemoveAllListeners(t.id)
	t.payloadChannel.RemoveAllListeners(t.id)

	// the router may already be gone
	t.channel.Request("transport.close", t.id, H{"transportId": t.id}) //nolint:errcheck

	t.closeChildren()

	t.Emit("@close")
}

// routerClosed is called when the owning router closes.
func (t *Transport) routerClosed() {
	if !atomic.CompareAndSwapUint32(&t.closed, 0, 1) {
		return
	}

	t.channel.RemoveAllListeners(t.id)
	t.payloadChannel.RemoveAllListeners(t.id)

	t.closeChildren()

	t.SafeEmit("routerclose")
	t.Emit("@close")
}

func (t *Transport) closeChildren() {
	t.producers.Range(func(_, value interface{}) bool {
		value.(*Producer).transportClosed()
		return true
	})
	t.producers = sync.Map{}

	t.consumers.Range(func(_, value interface{}) bool {
		value.(*Consumer).transportClosed()
		return true
	})
	t.consumers = sync.Map{}

	t.dataProducers.Range(func(_, value interface{}) bool {
		value.(*DataProducer).transportClosed()
		return true
	})
	t.dataProducers = sync.Map{}

	t.dataConsumers.Range(func(_, value interface{}) bool {
		value.(*DataConsumer).transportClosed()
		return true
	})
	t.dataConsumers = sync.Map{}
}

// Dump returns the internal state of the transport.
func (t *Transport) Dump() ([]byte, error) {
	return t.channel.Request("transport.dump", t.id, nil)
}

// GetStats returns the transport statistics.
func (t *Transport) GetStats() ([]byte, error) {
	return t.channel.Request("transport.getStats", t.id, nil)
}

// SetMaxIncomingBitrate caps the bitrate the transport will ask its
// remote endpoint to send.
func (t *Transport) SetMaxIncomingBitrate(bitrate uint32) error {
	_, err := t.channel.Request("transport.setMaxIncomingBitrate", t.id, H{
		"bitrate": bitrate,
	})
	return err
}

// EnableTraceEvent instructs the worker to emit trace notifications of
// the given types for this transport.
func (t *Transport) EnableTraceEvent(types []string) error {
	if types == nil {
		types = []string{}
	}
	_, err := t.channel.Request("transport.enableTraceEvent", t.id, H{
		"types": types,
	})
	return err
}

// Produce instructs the transport to receive media from the endpoint.
func (t *Transport) Produce(options ProducerOptions) (*Producer, error) {
	if t.Closed() {
		return nil, NewInvalidStateError("transport closed")
	}
	if options.Kind != MediaKind_Audio && options.Kind != MediaKind_Video {
		return nil, NewTypeError("invalid kind '%s'", options.Kind)
	}
	if len(options.RtpParameters.Codecs) == 0 {
		return nil, NewTypeError("missing rtpParameters.codecs")
	}
	if len(options.RtpParameters.Encodings) == 0 {
		return nil, NewTypeError("missing rtpParameters.encodings")
	}

	id := options.Id
	if id == "" {
		id = uuid.NewString()
	} else if _, ok := t.router.producers.Load(id); ok {
		return nil, NewTypeError("a producer with same id '%s' already exists", id)
	}

	consumableRtpParameters, err := getConsumableRtpParameters(
		options.RtpParameters, t.router.rtpCapabilities)
	if err != nil {
		return nil, err
	}

	data, err := t.channel.Request("transport.produce", t.id, H{
		"producerId":              id,
		"kind":                    options.Kind,
		"rtpParameters":           options.RtpParameters,
		"consumableRtpParameters": consumableRtpParameters,
		"paused":                  options.Paused,
		"keyFrameRequestDelay":    options.KeyFrameRequestDelay,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Type ProducerType `json:"type"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	producer := newProducer(producerParams{
		id:                      id,
		kind:                    options.Kind,
		producerType:            resp.Type,
		rtpParameters:           options.RtpParameters,
		consumableRtpParameters: consumableRtpParameters,
		paused:                  options.Paused,
		channel:                 t.channel,
		payloadChannel:          t.payloadChannel,
		appData:                 options.AppData,
		parent:                  t,
	})

	t.producers.Store(id, producer)
	t.router.producers.Store(id, producer)
	producer.On("@close", func() {
		t.producers.Delete(id)
		t.router.producers.Delete(id)
	})

	t.SafeEmit("newproducer", producer)

	return producer, nil
}

// Consume instructs the transport to send to the endpoint the media of
// the given producer, which may live on another transport of the same
// router.
func (t *Transport) Consume(options ConsumerOptions) (*Consumer, error) {
	if t.Closed() {
		return nil, NewInvalidStateError("transport closed")
	}
	if options.ProducerId == "" {
		return nil, NewTypeError("missing producerId")
	}

	value, ok := t.router.producers.Load(options.ProducerId)
	if !ok {
		return nil, NewTypeError("producer with id '%s' not found", options.ProducerId)
	}
	producer := value.(*Producer)

	if !canConsume(producer.ConsumableRtpParameters(), options.RtpCapabilities) {
		return nil, NewTypeError("incompatible rtpCapabilities")
	}

	rtpParameters, err := getConsumerRtpParameters(
		producer.ConsumableRtpParameters(), options.RtpCapabilities)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()

	consumerType := producer.Type()
	if options.Pipe {
		consumerType = ProducerType_Pipe
	}

	data, err := t.channel.Request("transport.consume", t.id, H{
		"consumerId":             id,
		"producerId":             producer.Id(),
		"kind":                   producer.Kind(),
		"rtpParameters":          rtpParameters,
		"type":                   consumerType,
		"consumableRtpEncodings": producer.ConsumableRtpParameters().Encodings,
		"paused":                 options.Paused,
		"preferredLayers":        options.PreferredLayers,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Paused          bool            `json:"paused"`
		ProducerPaused  bool            `json:"producerPaused"`
		Score           *ConsumerScore  `json:"score,omitempty"`
		PreferredLayers *ConsumerLayers `json:"preferredLayers,omitempty"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	consumer := newConsumer(consumerParams{
		id:              id,
		producerId:      producer.Id(),
		kind:            producer.Kind(),
		consumerType:    consumerType,
		rtpParameters:   rtpParameters,
		paused:          resp.Paused,
		producerPaused:  resp.ProducerPaused,
		score:           resp.Score,
		preferredLayers: resp.PreferredLayers,
		channel:         t.channel,
		payloadChannel:  t.payloadChannel,
		appData:         options.AppData,
		parent:          t,
	})

	t.consumers.Store(id, consumer)
	consumer.On("@close", func() {
		t.consumers.Delete(id)
	})

	t.SafeEmit("newconsumer", consumer)

	return consumer, nil
}

// ProduceData instructs the transport to receive data messages from the
// endpoint, over SCTP or directly.
func (t *Transport) ProduceData(options DataProducerOptions) (*DataProducer, error) {
	if t.Closed() {
		return nil, NewInvalidStateError("transport closed")
	}

	dataProducerType := DataProducerType_Sctp
	if t.directTransport {
		dataProducerType = DataProducerType_Direct
	} else if options.SctpStreamParameters == nil {
		return nil, NewTypeError("missing sctpStreamParameters")
	}

	id := options.Id
	if id == "" {
		id = uuid.NewString()
	} else if _, ok := t.router.dataProducers.Load(id); ok {
		return nil, NewTypeError("a data producer with same id '%s' already exists", id)
	}

	_, err := t.channel.Request("transport.produceData", t.id, H{
		"dataProducerId":       id,
		"type":                 dataProducerType,
		"sctpStreamParameters": options.SctpStreamParameters,
		"label":                options.Label,
		"protocol":             options.Protocol,
	})
	if err != nil {
		return nil, err
	}

	dataProducer := newDataProducer(dataProducerParams{
		id:                   id,
		dataProducerType:     dataProducerType,
		sctpStreamParameters: options.SctpStreamParameters,
		label:                options.Label,
		protocol:             options.Protocol,
		channel:              t.channel,
		payloadChannel:       t.payloadChannel,
		appData:              options.AppData,
		parent:               t,
	})

	t.dataProducers.Store(id, dataProducer)
	t.router.dataProducers.Store(id, dataProducer)
	dataProducer.On("@close", func() {
		t.dataProducers.Delete(id)
		t.router.dataProducers.Delete(id)
	})

	t.SafeEmit("newdataproducer", dataProducer)

	return dataProducer, nil
}

// ConsumeData instructs the transport to send to the endpoint the
// messages of the given data producer.
func (t *Transport) ConsumeData(options DataConsumerOptions) (*DataConsumer, error) {
	if t.Closed() {
		return nil, NewInvalidStateError("transport closed")
	}
	if options.DataProducerId == "" {
		return nil, NewTypeError("missing dataProducerId")
	}

	value, ok := t.router.dataProducers.Load(options.DataProducerId)
	if !ok {
		return nil, NewTypeError("data producer with id '%s' not found", options.DataProducerId)
	}
	dataProducer := value.(*DataProducer)

	dataConsumerType := DataProducerType_Sctp
	if t.directTransport {
		dataConsumerType = DataProducerType_Direct
	}

	var sctpStreamParameters *SctpStreamParameters

	if dataConsumerType == DataProducerType_Sctp {
		streamId, err := t.getNextSctpStreamId()
		if err != nil {
			return nil, err
		}

		ordered := true
		if options.Ordered != nil {
			ordered = *options.Ordered
		} else if orig := dataProducer.SctpStreamParameters(); orig != nil && orig.Ordered != nil {
			ordered = *orig.Ordered
		}

		sctpStreamParameters = &SctpStreamParameters{
			StreamId:          streamId,
			Ordered:           &ordered,
			MaxPacketLifeTime: options.MaxPacketLifeTime,
			MaxRetransmits:    options.MaxRetransmits,
		}
	}

	id := uuid.NewString()

	_, err := t.channel.Request("transport.consumeData", t.id, H{
		"dataConsumerId":       id,
		"dataProducerId":       dataProducer.Id(),
		"type":                 dataConsumerType,
		"sctpStreamParameters": sctpStreamParameters,
		"label":                dataProducer.Label(),
		"protocol":             dataProducer.Protocol(),
	})
	if err != nil {
		if sctpStreamParameters != nil {
			t.releaseSctpStreamId(sctpStreamParameters.StreamId)
		}
		return nil, err
	}

	dataConsumer := newDataConsumer(dataConsumerParams{
		id:                   id,
		dataProducerId:       dataProducer.Id(),
		dataConsumerType:     dataConsumerType,
		sctpStreamParameters: sctpStreamParameters,
		label:                dataProducer.Label(),
		protocol:             dataProducer.Protocol(),
		channel:              t.channel,
		payloadChannel:       t.payloadChannel,
		appData:              options.AppData,
		parent:               t,
	})

	t.dataConsumers.Store(id, dataConsumer)
	dataConsumer.On("@close", func() {
		t.dataConsumers.Delete(id)
		if sctpStreamParameters != nil {
			t.releaseSctpStreamId(sctpStreamParameters.StreamId)
		}
	})

	t.SafeEmit("newdataconsumer", dataConsumer)

	return dataConsumer, nil
}

func (t *Transport) getNextSctpStreamId() (uint16, error) {
	t.sctpMutex.Lock()
	defer t.sctpMutex.Unlock()

	if t.sctpParameters == nil || t.sctpParameters.MIS == 0 {
		return 0, NewTypeError("missing sctpParameters.MIS")
	}

	numStreams := int(t.sctpParameters.MIS)
	if len(t.sctpStreamIds) != numStreams {
		t.sctpStreamIds = make([]byte, numStreams)
		t.nextSctpStream = 0
	}

	for i := 0; i < numStreams; i++ {
		candidate := (t.nextSctpStream + i) % numStreams
		if t.sctpStreamIds[candidate] == 0 {
			t.sctpStreamIds[candidate] = 1
			t.nextSctpStream = candidate + 1
			return uint16(candidate), nil
		}
	}

	return 0, NewInvalidStateError("no SCTP stream id available")
}

func (t *Transport) releaseSctpStreamId(streamId uint16) {
	t.sctpMutex.Lock()
	defer t.sctpMutex.Unlock()

	if int(streamId) < len(t.sctpStreamIds) {
		t.sctpStreamIds[streamId] = 0
	}
}
