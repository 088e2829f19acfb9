package mediasoup

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// PayloadChannel is the companion of Channel for messages that carry
// a binary payload. Every incoming notification is a pair of frames:
// a JSON header followed by the payload (possibly empty).
// Listeners registered on the embedded emitter receive
// (event string, data []byte, payload []byte).
type PayloadChannel struct {
	IEventEmitter

	requestTimeout time.Duration
	parent         logger.Writer

	producer net.Conn
	consumer net.Conn
	writer   *frameWriter

	mutex   sync.Mutex
	closed  bool
	lastID  uint32
	pending map[uint32]chan channelResponse
	done    chan struct{}
}

func newPayloadChannel(
	producer net.Conn,
	consumer net.Conn,
	requestTimeout time.Duration,
	maxMessageSize uint32,
	parent logger.Writer,
) *PayloadChannel {
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}

	c := &PayloadChannel{
		IEventEmitter:  NewEventEmitter(),
		requestTimeout: requestTimeout,
		parent:         parent,
		producer:       producer,
		consumer:       consumer,
		writer:         newFrameWriter(producer, maxMessageSize),
		pending:        make(map[uint32]chan channelResponse),
		done:           make(chan struct{}),
	}

	go c.runReader(newFrameReader(consumer, maxMessageSize))

	return c
}

// Log implements logger.Writer.
func (c *PayloadChannel) Log(level logger.Level, format string, args ...interface{}) {
	if c.parent != nil {
		c.parent.Log(level, format, args...)
	}
}

// Closed reports whether the channel is closed.
func (c *PayloadChannel) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

// Close closes the channel, rejecting all pending requests.
// It can be called more than once.
func (c *PayloadChannel) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true

	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- channelResponse{err: ChannelClosedError{}}
	}

	close(c.done)
	c.mutex.Unlock()

	c.producer.Close() //nolint:errcheck
	c.consumer.Close() //nolint:errcheck

	c.RemoveAllListeners()
}

// Notify sends a notification with a payload, without waiting for
// any reply.
func (c *PayloadChannel) Notify(event string, handlerID string, data interface{}, payload []byte) error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return ChannelClosedError{}
	}
	c.mutex.Unlock()

	encData := "undefined"
	if data != nil {
		byts, err := json.Marshal(data)
		if err != nil {
			return err
		}
		encData = string(byts)
	}
	if handlerID == "" {
		handlerID = "undefined"
	}

	header := []byte("n:" + event + ":" + handlerID + ":" + encData)

	return c.writer.writePair(header, payload)
}

// Request sends a request with a payload and waits for its response.
func (c *PayloadChannel) Request(method string, handlerID string, data interface{}, payload []byte) (json.RawMessage, error) {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil, ChannelClosedError{}
	}

	if c.lastID == math.MaxUint32 {
		c.lastID = 1
	} else {
		c.lastID++
	}
	id := c.lastID

	ch := make(chan channelResponse, 1)
	c.pending[id] = ch
	c.mutex.Unlock()

	header, err := encodeRequest(id, method, handlerID, data)
	if err != nil {
		c.removePending(id)
		return nil, err
	}

	err = c.writer.writePair(header, payload)
	if err != nil {
		c.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.data, res.err

	case <-timer.C:
		c.removePending(id)
		return nil, RequestTimeoutError{Method: method}

	case <-c.done:
		return nil, ChannelClosedError{}
	}
}

func (c *PayloadChannel) removePending(id uint32) {
	c.mutex.Lock()
	delete(c.pending, id)
	c.mutex.Unlock()
}

func (c *PayloadChannel) runReader(fr *frameReader) {
	// header of the notification whose payload is expected next
	var awaiting *channelMessage

	for {
		frame, err := fr.read()
		if err != nil {
			if err == errFrameTooBig {
				c.Log(logger.Error, "discarding frame bigger than the maximum size")
				awaiting = nil
				continue
			}
			c.Close()
			return
		}

		if awaiting != nil {
			msg := awaiting
			awaiting = nil
			c.SafeEmit(msg.targetID(), msg.Event, []byte(msg.Data), frame)
			continue
		}

		var msg channelMessage
		err = json.Unmarshal(frame, &msg)
		if err != nil {
			c.Log(logger.Error, "received invalid frame: %v", err)
			continue
		}

		switch {
		case msg.ID != 0:
			c.handleResponse(&msg)

		case len(msg.TargetID) != 0 && msg.Event != "":
			awaiting = &msg

		default:
			c.Log(logger.Error, "received frame which is neither a response nor a notification")
		}
	}
}

func (c *PayloadChannel) handleResponse(msg *channelMessage) {
	c.mutex.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mutex.Unlock()

	if !ok {
		c.Log(logger.Debug, "response with unknown id %d, discarding", msg.ID)
		return
	}

	switch {
	case msg.Accepted:
		ch <- channelResponse{data: msg.Data}

	case msg.Error == "TypeError":
		ch <- channelResponse{err: NewTypeError("%s", msg.Reason)}

	default:
		ch <- channelResponse{err: fmt.Errorf("%s", msg.Reason)}
	}
}
