// Package mediasoup implements the control plane of mediasoup workers:
// process supervision, the channel protocol and the remote object proxies.
package mediasoup

import (
	"reflect"
	"sync"
)

// IEventEmitter is the interface of EventEmitter.
type IEventEmitter interface {
	// On adds a listener for an event.
	On(event string, listener interface{})

	// Once adds a listener that is removed after its first call.
	Once(event string, listener interface{})

	// Off removes a previously added listener.
	Off(event string, listener interface{})

	// RemoveAllListeners removes all listeners of the given events,
	// or of every event when none is given.
	RemoveAllListeners(events ...string)

	// Emit calls every listener of the event. A panicking listener
	// propagates the panic.
	Emit(event string, args ...interface{})

	// SafeEmit calls every listener of the event, swallowing panics
	// so that one broken listener cannot tear down the caller.
	SafeEmit(event string, args ...interface{})

	// ListenerCount returns the number of listeners of the given event.
	ListenerCount(event string) int
}

type eventListener struct {
	fn   reflect.Value
	once bool
}

// EventEmitter implements IEventEmitter.
type EventEmitter struct {
	mutex     sync.Mutex
	listeners map[string][]*eventListener
}

// NewEventEmitter allocates an EventEmitter.
func NewEventEmitter() IEventEmitter {
	return &EventEmitter{
		listeners: make(map[string][]*eventListener),
	}
}

// On implements IEventEmitter.
func (e *EventEmitter) On(event string, listener interface{}) {
	e.add(event, listener, false)
}

// Once implements IEventEmitter.
func (e *EventEmitter) Once(event string, listener interface{}) {
	e.add(event, listener, true)
}

func (e *EventEmitter) add(event string, listener interface{}, once bool) {
	fn := reflect.ValueOf(listener)
	if fn.Kind() != reflect.Func {
		panic("listener must be a function")
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.listeners[event] = append(e.listeners[event], &eventListener{fn: fn, once: once})
}

// Off implements IEventEmitter.
func (e *EventEmitter) Off(event string, listener interface{}) {
	ptr := reflect.ValueOf(listener).Pointer()

	e.mutex.Lock()
	defer e.mutex.Unlock()

	listeners := e.listeners[event]
	for i, l := range listeners {
		if l.fn.Pointer() == ptr {
			e.listeners[event] = append(listeners[:i:i], listeners[i+1:]...)
			break
		}
	}
}

// RemoveAllListeners implements IEventEmitter.
func (e *EventEmitter) RemoveAllListeners(events ...string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(events) == 0 {
		e.listeners = make(map[string][]*eventListener)
		return
	}

	for _, event := range events {
		delete(e.listeners, event)
	}
}

// ListenerCount implements IEventEmitter.
func (e *EventEmitter) ListenerCount(event string) int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.listeners[event])
}

// Emit implements IEventEmitter.
func (e *EventEmitter) Emit(event string, args ...interface{}) {
	for _, l := range e.take(event) {
		call(l.fn, args)
	}
}

// SafeEmit implements IEventEmitter.
func (e *EventEmitter) SafeEmit(event string, args ...interface{}) {
	for _, l := range e.take(event) {
		func() {
			defer func() {
				recover() //nolint:errcheck
			}()
			call(l.fn, args)
		}()
	}
}

// take snapshots the listeners of an event and drops the once ones.
func (e *EventEmitter) take(event string) []*eventListener {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	listeners := e.listeners[event]
	if len(listeners) == 0 {
		return nil
	}

	out := make([]*eventListener, len(listeners))
	copy(out, listeners)

	remaining := listeners[:0]
	for _, l := range listeners {
		if !l.once {
			remaining = append(remaining, l)
		}
	}
	if len(remaining) > 0 {
		e.listeners[event] = remaining
	} else {
		delete(e.listeners, event)
	}

	return out
}

// call invokes fn adapting the argument list to its signature:
// extra arguments are dropped, missing ones are zero-filled.
func call(fn reflect.Value, args []interface{}) {
	typ := fn.Type()
	numIn := typ.NumIn()

	in := make([]reflect.Value, numIn)
	for i := 0; i < numIn; i++ {
		if i < len(args) && args[i] != nil {
			in[i] = reflect.ValueOf(args[i])
		} else {
			in[i] = reflect.New(typ.In(i)).Elem()
		}
	}

	fn.Call(in)
}
