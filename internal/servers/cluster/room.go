package cluster

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/RainStream/rainstream-server/internal/logger"
	"github.com/RainStream/rainstream-server/internal/mediasoup"
	"github.com/RainStream/rainstream-server/internal/protocols/protoo"
)

// RoomOptions are the media parameters shared by every room of a
// server.
type RoomOptions struct {
	MediaCodecs                     []*mediasoup.RtpCodecCapability
	ListenIps                       []mediasoup.TransportListenIp
	InitialAvailableOutgoingBitrate uint32
	MaxIncomingBitrate              uint32
	MaxSctpMessageSize              uint32
	AudioLevelObserver              bool
}

// roomPeer is one client session within a room. Its maps are guarded
// by the room mutex.
type roomPeer struct {
	id    string
	room  *room
	proto *protoo.Peer

	joined           bool
	displayName      string
	device           json.RawMessage
	rtpCapabilities  *mediasoup.RtpCapabilities
	sctpCapabilities json.RawMessage

	transports    map[string]*mediasoup.WebRtcTransport
	producers     map[string]*mediasoup.Producer
	consumers     map[string]*mediasoup.Consumer
	dataProducers map[string]*mediasoup.DataProducer
}

// Log implements logger.Writer.
func (rp *roomPeer) Log(level logger.Level, format string, args ...interface{}) {
	rp.room.Log(level, "[peer %s] "+format, append([]interface{}{rp.id}, args...)...)
}

// OnPeerRequest implements protoo.PeerHandler.
func (rp *roomPeer) OnPeerRequest(_ *protoo.Peer, req *protoo.Request) {
	rp.room.handleRequest(rp, req)
}

// OnPeerNotification implements protoo.PeerHandler.
func (rp *roomPeer) OnPeerNotification(_ *protoo.Peer, method string, _ json.RawMessage) {
	rp.Log(logger.Debug, "ignoring notification '%s'", method)
}

// OnPeerClose implements protoo.PeerHandler.
func (rp *roomPeer) OnPeerClose(_ *protoo.Peer) {
	rp.room.removePeer(rp)
}

// room is a logical conference: one mediasoup Router plus a set of
// peers. Room and peer state is guarded by the room mutex; mediasoup
// event callbacks that need it run on their own goroutine so that the
// worker channel reader never blocks on it.
type room struct {
	id                 string
	server             *Server
	router             *mediasoup.Router
	audioLevelObserver *mediasoup.AudioLevelObserver
	options            RoomOptions
	parent             logger.Writer

	mutex  sync.Mutex
	closed bool
	peers  map[string]*roomPeer
}

func newRoom(
	id string,
	server *Server,
	worker *mediasoup.Worker,
	options RoomOptions,
	parent logger.Writer,
) (*room, error) {
	router, err := worker.CreateRouter(mediasoup.RouterOptions{
		MediaCodecs: options.MediaCodecs,
	})
	if err != nil {
		return nil, err
	}

	r := &room{
		id:      id,
		server:  server,
		router:  router,
		options: options,
		parent:  parent,
		peers:   make(map[string]*roomPeer),
	}

	if options.AudioLevelObserver {
		observer, err := router.CreateAudioLevelObserver(mediasoup.AudioLevelObserverOptions{
			MaxEntries: 1,
			Threshold:  -80,
			Interval:   800,
		})
		if err != nil {
			router.Close()
			return nil, err
		}
		r.audioLevelObserver = observer

		observer.On("volumes", func(volumes []mediasoup.AudioLevelObserverVolume) {
			go r.onAudioVolumes(volumes)
		})
		observer.On("silence", func() {
			go r.onAudioSilence()
		})
	}

	r.Log(logger.Info, "created")

	return r, nil
}

// Log implements logger.Writer.
func (r *room) Log(level logger.Level, format string, args ...interface{}) {
	if r.parent != nil {
		r.parent.Log(level, "[room %s] "+format, append([]interface{}{r.id}, args...)...)
	}
}

// addPeer admits a connection as a peer. A second connection with the
// same id closes the incumbent first.
func (r *room) addPeer(id string, conn *protoo.Conn) {
	rp := &roomPeer{
		id:            id,
		room:          r,
		transports:    make(map[string]*mediasoup.WebRtcTransport),
		producers:     make(map[string]*mediasoup.Producer),
		consumers:     make(map[string]*mediasoup.Consumer),
		dataProducers: make(map[string]*mediasoup.DataProducer),
	}
	rp.proto = &protoo.Peer{
		ID:             id,
		Conn:           conn,
		RequestTimeout: r.server.RequestTimeout,
		Handler:        rp,
		Parent:         rp,
	}

	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		conn.Close()
		return
	}

	incumbent := r.peers[id]
	r.peers[id] = rp
	r.mutex.Unlock()

	if incumbent != nil {
		incumbent.Log(logger.Info, "closing, replaced by a new connection")
		incumbent.proto.Close()
	}

	rp.proto.Initialize()
	rp.Log(logger.Info, "connected")
}

// removePeer is called once per peer, when its session closes for any
// reason.
func (r *room) removePeer(rp *roomPeer) {
	r.mutex.Lock()

	replaced := r.peers[rp.id] != rp
	if !replaced {
		delete(r.peers, rp.id)
	}

	var others []*roomPeer
	if rp.joined {
		others = r.joinedPeersExcept(rp)
	}

	transports := make([]*mediasoup.WebRtcTransport, 0, len(rp.transports))
	for _, transport := range rp.transports {
		transports = append(transports, transport)
	}

	empty := !replaced && !r.closed && len(r.peers) == 0
	r.mutex.Unlock()

	rp.Log(logger.Info, "disconnected")

	for _, other := range others {
		other.proto.Notify("peerClosed", mediasoup.H{"peerId": rp.id}) //nolint:errcheck
	}

	// cascades to producers, consumers and data producers
	for _, transport := range transports {
		transport.Close()
	}

	if empty {
		r.close()
	}
}

// joinedPeersExcept must be called with the mutex held.
func (r *room) joinedPeersExcept(except *roomPeer) []*roomPeer {
	var out []*roomPeer
	for _, other := range r.peers {
		if other.joined && other != except {
			out = append(out, other)
		}
	}
	return out
}

// close closes the room, its router and every remaining peer session.
func (r *room) close() {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return
	}
	r.closed = true

	peers := make([]*roomPeer, 0, len(r.peers))
	for _, rp := range r.peers {
		peers = append(peers, rp)
	}
	r.peers = make(map[string]*roomPeer)
	r.mutex.Unlock()

	for _, rp := range peers {
		rp.proto.Close()
	}

	r.router.Close()
	r.server.removeRoom(r)

	r.Log(logger.Info, "closed")
}

func (r *room) handleRequest(rp *roomPeer, req *protoo.Request) {
	var err error

	switch req.Method {
	case "getRouterRtpCapabilities":
		req.Accept(r.router.RtpCapabilities())

	case "join":
		err = r.handleJoin(rp, req)

	case "createWebRtcTransport":
		err = r.handleCreateWebRtcTransport(rp, req)

	case "connectWebRtcTransport":
		err = r.handleConnectWebRtcTransport(rp, req)

	case "restartIce":
		err = r.handleRestartIce(rp, req)

	case "produce":
		err = r.handleProduce(rp, req)

	case "closeProducer", "pauseProducer", "resumeProducer":
		err = r.handleProducerOperation(rp, req)

	case "pauseConsumer", "resumeConsumer", "setConsumerPreferredLayers",
		"setConsumerPriority", "requestConsumerKeyFrame":
		err = r.handleConsumerOperation(rp, req)

	case "produceData":
		err = r.handleProduceData(rp, req)

	case "changeDisplayName":
		err = r.handleChangeDisplayName(rp, req)

	case "getTransportStats":
		err = r.handleGetTransportStats(rp, req)

	case "getProducerStats":
		err = r.handleGetProducerStats(rp, req)

	case "getConsumerStats":
		err = r.handleGetConsumerStats(rp, req)

	default:
		req.Reject(500, fmt.Sprintf("unknown request.method %s", req.Method))
		return
	}

	if err != nil {
		rp.Log(logger.Error, "request '%s' failed: %v", req.Method, err)
		req.Reject(500, err.Error())
	}
}

type peerInfo struct {
	Id          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Device      json.RawMessage `json:"device,omitempty"`
}

func (r *room) handleJoin(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		DisplayName      string                     `json:"displayName"`
		Device           json.RawMessage            `json:"device"`
		RtpCapabilities  *mediasoup.RtpCapabilities `json:"rtpCapabilities"`
		SctpCapabilities json.RawMessage            `json:"sctpCapabilities"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()

	if rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer already joined")
	}

	rp.displayName = in.DisplayName
	rp.device = in.Device
	rp.rtpCapabilities = in.RtpCapabilities
	rp.sctpCapabilities = in.SctpCapabilities

	others := r.joinedPeersExcept(rp)

	peers := []peerInfo{}
	for _, other := range others {
		peers = append(peers, peerInfo{
			Id:          other.id,
			DisplayName: other.displayName,
			Device:      other.device,
		})
	}

	r.mutex.Unlock()

	// the reply must reach the client before any newConsumer request
	req.Accept(mediasoup.H{"peers": peers})

	r.mutex.Lock()
	rp.joined = true

	// one consumer for every producer the new peer can consume
	for _, other := range r.joinedPeersExcept(rp) {
		for _, producer := range other.producers {
			r.createConsumer(rp, other, producer)
		}
	}
	r.mutex.Unlock()

	for _, other := range others {
		other.proto.Notify("newPeer", peerInfo{ //nolint:errcheck
			Id:          rp.id,
			DisplayName: rp.displayName,
			Device:      rp.device,
		})
	}

	rp.Log(logger.Info, "joined [displayName:%s]", rp.displayName)

	return nil
}

func (r *room) handleCreateWebRtcTransport(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		ForceTcp         bool                        `json:"forceTcp"`
		Producing        bool                        `json:"producing"`
		Consuming        bool                        `json:"consuming"`
		SctpCapabilities *mediasoup.SctpCapabilities `json:"sctpCapabilities"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	options := mediasoup.WebRtcTransportOptions{
		ListenIps:                       r.options.ListenIps,
		EnableUdp:                       !in.ForceTcp,
		EnableTcp:                       true,
		PreferUdp:                       true,
		InitialAvailableOutgoingBitrate: r.options.InitialAvailableOutgoingBitrate,
		AppData: mediasoup.H{
			"producing": in.Producing,
			"consuming": in.Consuming,
		},
	}
	if in.SctpCapabilities != nil {
		options.EnableSctp = true
		options.NumSctpStreams = in.SctpCapabilities.NumStreams
		options.MaxSctpMessageSize = r.options.MaxSctpMessageSize
	}

	transport, err := r.router.CreateWebRtcTransport(options)
	if err != nil {
		return err
	}

	transport.On("sctpstatechange", func(state string) {
		rp.Log(logger.Debug, "transport sctp state changed to '%s'", state)
	})
	transport.On("dtlsstatechange", func(state string) {
		if state == "failed" || state == "closed" {
			rp.Log(logger.Warn, "transport dtls state changed to '%s'", state)
		}
	})
	transport.On("trace", func(data []byte) {
		var trace struct {
			Type string          `json:"type"`
			Info json.RawMessage `json:"info"`
		}
		if json.Unmarshal(data, &trace) == nil && trace.Type == "bwe" {
			rp.proto.Notify("downlinkBwe", trace.Info) //nolint:errcheck
		}
	})

	// best-effort, trace support depends on the worker version
	transport.EnableTraceEvent([]string{"bwe"}) //nolint:errcheck

	if r.options.MaxIncomingBitrate != 0 {
		err := transport.SetMaxIncomingBitrate(r.options.MaxIncomingBitrate)
		if err != nil {
			rp.Log(logger.Warn, "cannot set max incoming bitrate: %v", err)
		}
	}

	r.mutex.Lock()
	rp.transports[transport.Id()] = transport
	r.mutex.Unlock()

	req.Accept(mediasoup.H{
		"id":             transport.Id(),
		"iceParameters":  transport.IceParameters(),
		"iceCandidates":  transport.IceCandidates(),
		"dtlsParameters": transport.DtlsParameters(),
		"sctpParameters": transport.SctpParameters(),
	})

	return nil
}

func (r *room) transportByID(rp *roomPeer, id string) (*mediasoup.WebRtcTransport, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	transport, ok := rp.transports[id]
	if !ok {
		return nil, fmt.Errorf("transport with id '%s' not found", id)
	}
	return transport, nil
}

func (r *room) handleConnectWebRtcTransport(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		TransportId    string                   `json:"transportId"`
		DtlsParameters mediasoup.DtlsParameters `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	transport, err := r.transportByID(rp, in.TransportId)
	if err != nil {
		return err
	}

	if err := transport.Connect(in.DtlsParameters); err != nil {
		return err
	}

	req.Accept(nil)
	return nil
}

func (r *room) handleRestartIce(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		TransportId string `json:"transportId"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	transport, err := r.transportByID(rp, in.TransportId)
	if err != nil {
		return err
	}

	iceParameters, err := transport.RestartIce()
	if err != nil {
		return err
	}

	req.Accept(iceParameters)
	return nil
}

func (r *room) handleProduce(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		TransportId   string                  `json:"transportId"`
		Kind          mediasoup.MediaKind     `json:"kind"`
		RtpParameters mediasoup.RtpParameters `json:"rtpParameters"`
		AppData       mediasoup.H             `json:"appData"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()

	if !rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer not yet joined")
	}

	transport, ok := rp.transports[in.TransportId]
	if !ok {
		r.mutex.Unlock()
		return fmt.Errorf("transport with id '%s' not found", in.TransportId)
	}
	r.mutex.Unlock()

	appData := in.AppData
	if appData == nil {
		appData = mediasoup.H{}
	}
	appData["peerId"] = rp.id

	producer, err := transport.Produce(mediasoup.ProducerOptions{
		Kind:          in.Kind,
		RtpParameters: in.RtpParameters,
		AppData:       appData,
	})
	if err != nil {
		return err
	}

	producer.On("score", func(score []mediasoup.ProducerScore) {
		rp.proto.Notify("producerScore", mediasoup.H{ //nolint:errcheck
			"producerId": producer.Id(),
			"score":      score,
		})
	})
	producer.On("videoorientationchange", func(orientation mediasoup.ProducerVideoOrientation) {
		rp.Log(logger.Debug, "producer video orientation changed [producerId:%s, rotation:%d]",
			producer.Id(), orientation.Rotation)
	})
	producer.On("trace", func(data []byte) {
		rp.Log(logger.Debug, "producer trace [producerId:%s]", producer.Id())
	})

	r.mutex.Lock()
	rp.producers[producer.Id()] = producer

	// fan the new producer out to every other joined peer
	for _, other := range r.joinedPeersExcept(rp) {
		r.createConsumer(other, rp, producer)
	}
	r.mutex.Unlock()

	req.Accept(mediasoup.H{"id": producer.Id()})

	if producer.Kind() == mediasoup.MediaKind_Audio && r.audioLevelObserver != nil {
		err := r.audioLevelObserver.AddProducer(producer.Id())
		if err != nil {
			rp.Log(logger.Warn, "cannot add producer to audio level observer: %v", err)
		}
	}

	return nil
}

// createConsumer makes consumerPeer receive the media of a producer
// owned by producerPeer. Must be called with the mutex held. The
// consumer is created paused and resumed once the client acknowledges
// the newConsumer request.
func (r *room) createConsumer(consumerPeer, producerPeer *roomPeer, producer *mediasoup.Producer) {
	if consumerPeer.rtpCapabilities == nil ||
		!r.router.CanConsume(producer.Id(), *consumerPeer.rtpCapabilities) {
		return
	}

	var transport *mediasoup.WebRtcTransport
	for _, t := range consumerPeer.transports {
		if consuming, ok := t.AppData()["consuming"].(bool); ok && consuming {
			transport = t
			break
		}
	}
	if transport == nil {
		consumerPeer.Log(logger.Warn, "createConsumer failed: no consuming transport")
		return
	}

	consumer, err := transport.Consume(mediasoup.ConsumerOptions{
		ProducerId:      producer.Id(),
		RtpCapabilities: *consumerPeer.rtpCapabilities,
		Paused:          true,
	})
	if err != nil {
		consumerPeer.Log(logger.Error, "createConsumer failed: %v", err)
		return
	}

	consumerPeer.consumers[consumer.Id()] = consumer

	consumer.On("transportclose", func() {
		go r.removeConsumer(consumerPeer, consumer.Id(), false)
	})
	consumer.On("producerclose", func() {
		go r.removeConsumer(consumerPeer, consumer.Id(), true)
	})
	consumer.On("producerpause", func() {
		consumerPeer.proto.Notify("consumerPaused", mediasoup.H{ //nolint:errcheck
			"consumerId": consumer.Id(),
		})
	})
	consumer.On("producerresume", func() {
		consumerPeer.proto.Notify("consumerResumed", mediasoup.H{ //nolint:errcheck
			"consumerId": consumer.Id(),
		})
	})
	consumer.On("score", func(score mediasoup.ConsumerScore) {
		consumerPeer.proto.Notify("consumerScore", mediasoup.H{ //nolint:errcheck
			"consumerId": consumer.Id(),
			"score":      score,
		})
	})
	consumer.On("layerschange", func(layers *mediasoup.ConsumerLayers) {
		var spatial, temporal *uint8
		if layers != nil {
			spatial, temporal = layers.SpatialLayer, layers.TemporalLayer
		}
		consumerPeer.proto.Notify("consumerLayersChanged", mediasoup.H{ //nolint:errcheck
			"consumerId":    consumer.Id(),
			"spatialLayer":  spatial,
			"temporalLayer": temporal,
		})
	})
	consumer.On("trace", func(data []byte) {
		consumerPeer.Log(logger.Debug, "consumer trace [consumerId:%s]", consumer.Id())
	})

	// the ack round trip must not hold the room lock
	go func() {
		_, err := consumerPeer.proto.Request("newConsumer", mediasoup.H{
			"peerId":         producerPeer.id,
			"producerId":     producer.Id(),
			"id":             consumer.Id(),
			"kind":           consumer.Kind(),
			"rtpParameters":  consumer.RtpParameters(),
			"type":           consumer.Type(),
			"appData":        producer.AppData(),
			"producerPaused": consumer.ProducerPaused(),
		})
		if err != nil {
			consumerPeer.Log(logger.Error, "createConsumer failed: %v", err)
			consumer.Close()
			r.removeConsumer(consumerPeer, consumer.Id(), false)
			return
		}

		if err := consumer.Resume(); err != nil {
			consumerPeer.Log(logger.Error, "cannot resume consumer: %v", err)
			return
		}

		consumerPeer.proto.Notify("consumerScore", mediasoup.H{ //nolint:errcheck
			"consumerId": consumer.Id(),
			"score":      consumer.Score(),
		})
	}()
}

func (r *room) removeConsumer(rp *roomPeer, consumerId string, notify bool) {
	r.mutex.Lock()
	_, ok := rp.consumers[consumerId]
	if ok {
		delete(rp.consumers, consumerId)
	}
	r.mutex.Unlock()

	if ok && notify {
		rp.proto.Notify("consumerClosed", mediasoup.H{ //nolint:errcheck
			"consumerId": consumerId,
		})
	}
}

func (r *room) handleProducerOperation(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		ProducerId string `json:"producerId"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()
	if !rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer not yet joined")
	}
	producer, ok := rp.producers[in.ProducerId]
	r.mutex.Unlock()
	if !ok {
		return fmt.Errorf("producer with id '%s' not found", in.ProducerId)
	}

	var err error
	switch req.Method {
	case "closeProducer":
		producer.Close()
		r.mutex.Lock()
		delete(rp.producers, in.ProducerId)
		r.mutex.Unlock()

	case "pauseProducer":
		err = producer.Pause()

	case "resumeProducer":
		err = producer.Resume()
	}
	if err != nil {
		return err
	}

	req.Accept(nil)
	return nil
}

func (r *room) handleConsumerOperation(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		ConsumerId    string `json:"consumerId"`
		SpatialLayer  *uint8 `json:"spatialLayer"`
		TemporalLayer *uint8 `json:"temporalLayer"`
		Priority      uint8  `json:"priority"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()
	if !rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer not yet joined")
	}
	consumer, ok := rp.consumers[in.ConsumerId]
	r.mutex.Unlock()
	if !ok {
		return fmt.Errorf("consumer with id '%s' not found", in.ConsumerId)
	}

	var err error
	switch req.Method {
	case "pauseConsumer":
		err = consumer.Pause()

	case "resumeConsumer":
		err = consumer.Resume()

	case "setConsumerPreferredLayers":
		err = consumer.SetPreferredLayers(mediasoup.ConsumerLayers{
			SpatialLayer:  in.SpatialLayer,
			TemporalLayer: in.TemporalLayer,
		})

	case "setConsumerPriority":
		err = consumer.SetPriority(in.Priority)

	case "requestConsumerKeyFrame":
		err = consumer.RequestKeyFrame()
	}
	if err != nil {
		return err
	}

	req.Accept(nil)
	return nil
}

func (r *room) handleProduceData(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		TransportId          string                          `json:"transportId"`
		SctpStreamParameters *mediasoup.SctpStreamParameters `json:"sctpStreamParameters"`
		Label                string                          `json:"label"`
		Protocol             string                          `json:"protocol"`
		AppData              mediasoup.H                     `json:"appData"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()
	if !rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer not yet joined")
	}
	transport, ok := rp.transports[in.TransportId]
	r.mutex.Unlock()
	if !ok {
		return fmt.Errorf("transport with id '%s' not found", in.TransportId)
	}

	dataProducer, err := transport.ProduceData(mediasoup.DataProducerOptions{
		SctpStreamParameters: in.SctpStreamParameters,
		Label:                in.Label,
		Protocol:             in.Protocol,
		AppData:              in.AppData,
	})
	if err != nil {
		return err
	}

	r.mutex.Lock()
	rp.dataProducers[dataProducer.Id()] = dataProducer
	r.mutex.Unlock()

	req.Accept(mediasoup.H{"id": dataProducer.Id()})
	return nil
}

func (r *room) handleChangeDisplayName(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()
	if !rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer not yet joined")
	}
	oldDisplayName := rp.displayName
	rp.displayName = in.DisplayName
	others := r.joinedPeersExcept(rp)
	r.mutex.Unlock()

	req.Accept(nil)

	for _, other := range others {
		other.proto.Notify("peerDisplayNameChanged", mediasoup.H{ //nolint:errcheck
			"peerId":         rp.id,
			"displayName":    in.DisplayName,
			"oldDisplayName": oldDisplayName,
		})
	}

	return nil
}

func (r *room) handleGetTransportStats(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		TransportId string `json:"transportId"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()
	if !rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer not yet joined")
	}
	r.mutex.Unlock()

	transport, err := r.transportByID(rp, in.TransportId)
	if err != nil {
		return err
	}

	stats, err := transport.GetStats()
	if err != nil {
		return err
	}

	req.Accept(json.RawMessage(stats))
	return nil
}

func (r *room) handleGetProducerStats(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		ProducerId string `json:"producerId"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()
	if !rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer not yet joined")
	}
	producer, ok := rp.producers[in.ProducerId]
	r.mutex.Unlock()
	if !ok {
		return fmt.Errorf("producer with id '%s' not found", in.ProducerId)
	}

	stats, err := producer.GetStats()
	if err != nil {
		return err
	}

	req.Accept(json.RawMessage(stats))
	return nil
}

func (r *room) handleGetConsumerStats(rp *roomPeer, req *protoo.Request) error {
	var in struct {
		ConsumerId string `json:"consumerId"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return err
	}

	r.mutex.Lock()
	if !rp.joined {
		r.mutex.Unlock()
		return fmt.Errorf("peer not yet joined")
	}
	consumer, ok := rp.consumers[in.ConsumerId]
	r.mutex.Unlock()
	if !ok {
		return fmt.Errorf("consumer with id '%s' not found", in.ConsumerId)
	}

	stats, err := consumer.GetStats()
	if err != nil {
		return err
	}

	req.Accept(json.RawMessage(stats))
	return nil
}

func (r *room) onAudioVolumes(volumes []mediasoup.AudioLevelObserverVolume) {
	if len(volumes) == 0 {
		return
	}
	loudest := volumes[0]

	r.mutex.Lock()
	var ownerId string
	for _, rp := range r.peers {
		if _, ok := rp.producers[loudest.ProducerId]; ok {
			ownerId = rp.id
			break
		}
	}
	peers := r.joinedPeers()
	r.mutex.Unlock()

	if ownerId == "" {
		return
	}

	for _, rp := range peers {
		rp.proto.Notify("active-speaker", mediasoup.H{ //nolint:errcheck
			"peerId": ownerId,
			"volume": loudest.Volume,
		})
	}
}

func (r *room) onAudioSilence() {
	r.mutex.Lock()
	peers := r.joinedPeers()
	r.mutex.Unlock()

	for _, rp := range peers {
		rp.proto.Notify("active-speaker", mediasoup.H{ //nolint:errcheck
			"peerId": nil,
		})
	}
}

// joinedPeers must be called with the mutex held.
func (r *room) joinedPeers() []*roomPeer {
	var out []*roomPeer
	for _, rp := range r.peers {
		if rp.joined {
			out = append(out, rp)
		}
	}
	return out
}

// kickPeer closes the session of the given peer. Used by the control
// API.
func (r *room) kickPeer(peerId string) error {
	r.mutex.Lock()
	rp, ok := r.peers[peerId]
	r.mutex.Unlock()

	if !ok {
		return fmt.Errorf("peer with id '%s' not found", peerId)
	}

	rp.proto.Close()
	return nil
}

// apiInfo returns a snapshot of the room for the control API.
func (r *room) apiInfo() APIRoom {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := APIRoom{Id: r.id, Peers: []APIPeer{}}
	for _, rp := range r.peers {
		out.Peers = append(out.Peers, APIPeer{
			Id:          rp.id,
			DisplayName: rp.displayName,
			Joined:      rp.joined,
			Producers:   len(rp.producers),
			Consumers:   len(rp.consumers),
		})
	}
	return out
}
