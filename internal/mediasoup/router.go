package mediasoup

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/RainStream/rainstream-server/internal/logger"
)

type routerParams struct {
	id              string
	rtpCapabilities RtpCapabilities
	channel         *Channel
	payloadChannel  *PayloadChannel
	appData         H
	parent          logger.Writer
}

// Router is the per-room media context inside a worker. It owns
// transports and RTP observers.
//
// @emits workerclose
// @emits @close
type Router struct {
	IEventEmitter

	id              string
	rtpCapabilities RtpCapabilities
	channel         *Channel
	payloadChannel  *PayloadChannel
	closed          uint32
	appData         H
	parent          logger.Writer

	transports    sync.Map // id -> ITransport
	rtpObservers  sync.Map // id -> IRtpObserver
	producers     sync.Map // id -> *Producer
	dataProducers sync.Map // id -> *DataProducer
}

func newRouter(params routerParams) *Router {
	if params.appData == nil {
		params.appData = H{}
	}

	return &Router{
		IEventEmitter:   NewEventEmitter(),
		id:              params.id,
		rtpCapabilities: params.rtpCapabilities,
		channel:         params.channel,
		payloadChannel:  params.payloadChannel,
		appData:         params.appData,
		parent:          params.parent,
	}
}

// Log implements logger.Writer.
func (r *Router) Log(level logger.Level, format string, args ...interface{}) {
	if r.parent != nil {
		r.parent.Log(level, format, args...)
	}
}

// Id returns the Router id.
func (r *Router) Id() string {
	return r.id
}

// Closed reports whether the Router is closed.
func (r *Router) Closed() bool {
	return atomic.LoadUint32(&r.closed) > 0
}

// RtpCapabilities returns the RTP capabilities of the Router.
func (r *Router) RtpCapabilities() RtpCapabilities {
	return r.rtpCapabilities
}

// AppData returns the custom application data.
func (r *Router) AppData() H {
	return r.appData
}

// Close closes the Router and all its transports and observers.
// It can be called more than once.
func (r *Router) Close() {
	if !atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		return
	}

	r.Log(logger.Debug, "closing router %s", r.id)

	// the worker may already be gone
	r.channel.Request("router.close", r.id, H{"routerId": r.id}) //nolint:errcheck

	r.closeChildren()

	r.Emit("@close")
}

// workerClosed is called when the owning worker dies or closes.
func (r *Router) workerClosed() {
	if !atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		return
	}

	r.closeChildren()

	r.SafeEmit("workerclose")
	r.Emit("@close")
}

func (r *Router) closeChildren() {
	r.transports.Range(func(_, value interface{}) bool {
		value.(ITransport).routerClosed()
		return true
	})
	r.transports = sync.Map{}

	r.rtpObservers.Range(func(_, value interface{}) bool {
		value.(IRtpObserver).routerClosed()
		return true
	})
	r.rtpObservers = sync.Map{}

	r.producers = sync.Map{}
	r.dataProducers = sync.Map{}
}

// Dump returns the internal state of the Router.
func (r *Router) Dump() ([]byte, error) {
	return r.channel.Request("router.dump", r.id, nil)
}

// CanConsume reports whether an endpoint with the given RTP
// capabilities can consume the given Producer.
func (r *Router) CanConsume(producerId string, rtpCapabilities RtpCapabilities) bool {
	value, ok := r.producers.Load(producerId)
	if !ok {
		r.Log(logger.Error, "canConsume: producer with id '%s' not found", producerId)
		return false
	}

	return canConsume(value.(*Producer).ConsumableRtpParameters(), rtpCapabilities)
}

func (r *Router) baseTransportParams(id string, appData H) transportParams {
	return transportParams{
		id:             id,
		channel:        r.channel,
		payloadChannel: r.payloadChannel,
		appData:        appData,
		router:         r,
		parent:         r,
	}
}

func (r *Router) registerTransport(transport ITransport) {
	r.transports.Store(transport.Id(), transport)
	transport.On("@close", func() {
		r.transports.Delete(transport.Id())
	})
}

// CreateWebRtcTransport creates a WebRTC transport on the Router.
func (r *Router) CreateWebRtcTransport(options WebRtcTransportOptions) (*WebRtcTransport, error) {
	if r.Closed() {
		return nil, NewInvalidStateError("router closed")
	}
	if len(options.ListenIps) == 0 && options.WebRtcServer == nil {
		return nil, NewTypeError("missing listenIps")
	}

	id := uuid.NewString()

	reqData := H{
		"transportId":                     id,
		"listenIps":                       options.ListenIps,
		"enableUdp":                       options.EnableUdp,
		"enableTcp":                       options.EnableTcp,
		"preferUdp":                       options.PreferUdp,
		"preferTcp":                       options.PreferTcp,
		"initialAvailableOutgoingBitrate": options.InitialAvailableOutgoingBitrate,
		"enableSctp":                      options.EnableSctp,
		"numSctpStreams":                  options.NumSctpStreams,
		"maxSctpMessageSize":              options.MaxSctpMessageSize,
		"isDataChannel":                   true,
	}
	if options.WebRtcServer != nil {
		reqData["webRtcServerId"] = options.WebRtcServer.Id()
	}

	data, err := r.channel.Request("router.createWebRtcTransport", r.id, reqData)
	if err != nil {
		return nil, err
	}

	transport, err := newWebRtcTransport(r.baseTransportParams(id, options.AppData), data)
	if err != nil {
		return nil, err
	}

	r.registerTransport(transport)

	return transport, nil
}

// CreatePlainTransport creates a plain RTP transport on the Router.
func (r *Router) CreatePlainTransport(options PlainTransportOptions) (*PlainTransport, error) {
	if r.Closed() {
		return nil, NewInvalidStateError("router closed")
	}
	if options.ListenIp.Ip == "" {
		return nil, NewTypeError("missing listenIp")
	}

	id := uuid.NewString()

	data, err := r.channel.Request("router.createPlainTransport", r.id, H{
		"transportId":        id,
		"listenIp":           options.ListenIp,
		"rtcpMux":            options.RtcpMux,
		"comedia":            options.Comedia,
		"enableSctp":         options.EnableSctp,
		"numSctpStreams":     options.NumSctpStreams,
		"maxSctpMessageSize": options.MaxSctpMessageSize,
		"enableSrtp":         options.EnableSrtp,
		"isDataChannel":      false,
	})
	if err != nil {
		return nil, err
	}

	transport, err := newPlainTransport(r.baseTransportParams(id, options.AppData), data)
	if err != nil {
		return nil, err
	}

	r.registerTransport(transport)

	return transport, nil
}

// CreatePipeTransport creates a transport that interconnects routers,
// possibly across hosts.
func (r *Router) CreatePipeTransport(options PipeTransportOptions) (*PipeTransport, error) {
	if r.Closed() {
		return nil, NewInvalidStateError("router closed")
	}
	if options.ListenIp.Ip == "" {
		return nil, NewTypeError("missing listenIp")
	}

	id := uuid.NewString()

	data, err := r.channel.Request("router.createPipeTransport", r.id, H{
		"transportId":        id,
		"listenIp":           options.ListenIp,
		"enableSctp":         options.EnableSctp,
		"numSctpStreams":     options.NumSctpStreams,
		"maxSctpMessageSize": options.MaxSctpMessageSize,
		"enableRtx":          options.EnableRtx,
		"enableSrtp":         options.EnableSrtp,
		"isDataChannel":      false,
	})
	if err != nil {
		return nil, err
	}

	transport, err := newPipeTransport(r.baseTransportParams(id, options.AppData), data)
	if err != nil {
		return nil, err
	}

	r.registerTransport(transport)

	return transport, nil
}

// CreateDirectTransport creates a transport that exchanges media
// directly with the application.
func (r *Router) CreateDirectTransport(options DirectTransportOptions) (*DirectTransport, error) {
	if r.Closed() {
		return nil, NewInvalidStateError("router closed")
	}

	id := uuid.NewString()

	maxMessageSize := options.MaxMessageSize
	if maxMessageSize == 0 {
		maxMessageSize = 262144
	}

	data, err := r.channel.Request("router.createDirectTransport", r.id, H{
		"transportId":    id,
		"direct":         true,
		"maxMessageSize": maxMessageSize,
	})
	if err != nil {
		return nil, err
	}

	transport, err := newDirectTransport(r.baseTransportParams(id, options.AppData), data)
	if err != nil {
		return nil, err
	}

	r.registerTransport(transport)

	return transport, nil
}

// CreateAudioLevelObserver creates an RTP observer that reports the
// volume of the audio producers added to it.
func (r *Router) CreateAudioLevelObserver(options AudioLevelObserverOptions) (*AudioLevelObserver, error) {
	if r.Closed() {
		return nil, NewInvalidStateError("router closed")
	}

	if options.MaxEntries == 0 {
		options.MaxEntries = 1
	}
	if options.Threshold == 0 {
		options.Threshold = -80
	}
	if options.Interval == 0 {
		options.Interval = 1000
	}

	id := uuid.NewString()

	_, err := r.channel.Request("router.createAudioLevelObserver", r.id, H{
		"rtpObserverId": id,
		"maxEntries":    options.MaxEntries,
		"threshold":     options.Threshold,
		"interval":      options.Interval,
	})
	if err != nil {
		return nil, err
	}

	observer := newAudioLevelObserver(rtpObserverParams{
		id:             id,
		channel:        r.channel,
		payloadChannel: r.payloadChannel,
		appData:        options.AppData,
		router:         r,
		parent:         r,
	})

	r.rtpObservers.Store(id, observer)
	observer.On("@close", func() {
		r.rtpObservers.Delete(id)
	})

	return observer, nil
}

// CreateActiveSpeakerObserver creates an RTP observer that reports the
// dominant speaker among the audio producers added to it.
func (r *Router) CreateActiveSpeakerObserver(options ActiveSpeakerObserverOptions) (*ActiveSpeakerObserver, error) {
	if r.Closed() {
		return nil, NewInvalidStateError("router closed")
	}

	if options.Interval == 0 {
		options.Interval = 300
	}

	id := uuid.NewString()

	_, err := r.channel.Request("router.createActiveSpeakerObserver", r.id, H{
		"rtpObserverId": id,
		"interval":      options.Interval,
	})
	if err != nil {
		return nil, err
	}

	observer := newActiveSpeakerObserver(rtpObserverParams{
		id:             id,
		channel:        r.channel,
		payloadChannel: r.payloadChannel,
		appData:        options.AppData,
		router:         r,
		parent:         r,
	})

	r.rtpObservers.Store(id, observer)
	observer.On("@close", func() {
		r.rtpObservers.Delete(id)
	})

	return observer, nil
}

// TransportListenIp is a listening IP with an optional announced IP,
// used when the server sits behind NAT.
type TransportListenIp struct {
	Ip          string `json:"ip"`
	AnnouncedIp string `json:"announcedIp,omitempty"`
}
