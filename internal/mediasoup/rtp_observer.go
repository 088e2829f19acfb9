package mediasoup

import (
	"sync/atomic"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// IRtpObserver is implemented by every RTP observer flavor.
type IRtpObserver interface {
	IEventEmitter
	Id() string
	Closed() bool
	Paused() bool
	AppData() H
	Close()
	routerClosed()
	Pause() error
	Resume() error
	AddProducer(producerId string) error
	RemoveProducer(producerId string) error
}

type rtpObserverParams struct {
	id             string
	channel        *Channel
	payloadChannel *PayloadChannel
	appData        H
	router         *Router
	parent         logger.Writer
}

// RtpObserver holds the state shared by all RTP observer flavors.
//
// @emits routerclose
// @emits @close
type RtpObserver struct {
	IEventEmitter

	id             string
	channel        *Channel
	payloadChannel *PayloadChannel
	closed         uint32
	paused         uint32
	appData        H
	router         *Router
	parent         logger.Writer
}

func newRtpObserver(params rtpObserverParams) *RtpObserver {
	if params.appData == nil {
		params.appData = H{}
	}

	return &RtpObserver{
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
func (o *RtpObserver) Log(level logger.Level, format string, args ...interface{}) {
	if o.parent != nil {
		o.parent.Log(level, format, args...)
	}
}

// Id returns the observer id.
func (o *RtpObserver) Id() string {
	return o.id
}

// Closed reports whether the observer is closed.
func (o *RtpObserver) Closed() bool {
	return atomic.LoadUint32(&o.closed) > 0
}

// Paused reports whether the observer is paused.
func (o *RtpObserver) Paused() bool {
	return atomic.LoadUint32(&o.paused) > 0
}

// AppData returns the custom application data.
func (o *RtpObserver) AppData() H {
	return o.appData
}

// Close closes the observer.
func (o *RtpObserver) Close() {
	if !atomic.CompareAndSwapUint32(&o.closed, 0, 1) {
		return
	}

	o.Log(logger.Debug, "closing rtp observer %s", o.id)

	o.channel.RemoveAllListeners(o.id)
	o.payloadChannel.RemoveAllListeners(o.id)

	// the router may already be gone
	o.channel.Request("rtpObserver.close", o.id, H{"rtpObserverId": o.id}) //nolint:errcheck

	o.Emit("@close")
	o.RemoveAllListeners()
}

// routerClosed is called when the owning router closes.
func (o *RtpObserver) routerClosed() {
	if !atomic.CompareAndSwapUint32(&o.closed, 0, 1) {
		return
	}

	o.channel.RemoveAllListeners(o.id)
	o.payloadChannel.RemoveAllListeners(o.id)

	o.SafeEmit("routerclose")
	o.Emit("@close")
	o.RemoveAllListeners()
}

// Pause pauses the observer. No notifications are emitted while paused.
func (o *RtpObserver) Pause() error {
	if o.Closed() {
		return NewInvalidStateError("rtp observer closed")
	}

	_, err := o.channel.Request("rtpObserver.pause", o.id, nil)
	if err != nil {
		return err
	}

	atomic.StoreUint32(&o.paused, 1)

	return nil
}

// Resume resumes the observer.
func (o *RtpObserver) Resume() error {
	if o.Closed() {
		return NewInvalidStateError("rtp observer closed")
	}

	_, err := o.channel.Request("rtpObserver.resume", o.id, nil)
	if err != nil {
		return err
	}

	atomic.StoreUint32(&o.paused, 0)

	return nil
}

// AddProducer adds a producer of the same router to the observer.
func (o *RtpObserver) AddProducer(producerId string) error {
	if o.Closed() {
		return NewInvalidStateError("rtp observer closed")
	}
	if _, ok := o.router.producers.Load(producerId); !ok {
		return NewTypeError("producer with id '%s' not found", producerId)
	}

	_, err := o.channel.Request("rtpObserver.addProducer", o.id, H{
		"producerId": producerId,
	})
	return err
}

// RemoveProducer removes a producer from the observer.
func (o *RtpObserver) RemoveProducer(producerId string) error {
	if o.Closed() {
		return NewInvalidStateError("rtp observer closed")
	}

	_, err := o.channel.Request("rtpObserver.removeProducer", o.id, H{
		"producerId": producerId,
	})
	return err
}
