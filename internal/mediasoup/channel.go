package mediasoup

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/RainStream/rainstream-server/internal/logger"
)

const defaultRequestTimeout = 20 * time.Second

type channelResponse struct {
	data json.RawMessage
	err  error
}

// channelMessage is a frame coming from the worker: either a response
// (id set) or a notification (targetId + event).
type channelMessage struct {
	ID       uint32          `json:"id,omitempty"`
	Accepted bool            `json:"accepted,omitempty"`
	Error    string          `json:"error,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	TargetID json.RawMessage `json:"targetId,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// targetID returns the notification target as a string. The worker
// uses its pid (a number) as target for its own notifications and
// object uuids (strings) for everything else.
func (m *channelMessage) targetID() string {
	if len(m.TargetID) == 0 {
		return ""
	}
	if m.TargetID[0] == '"' {
		var s string
		if json.Unmarshal(m.TargetID, &s) == nil {
			return s
		}
	}
	return string(m.TargetID)
}

// Channel is the request/response and notification carrier between
// the orchestrator and one worker. Notifications are emitted on the
// embedded emitter, keyed by target id.
type Channel struct {
	IEventEmitter

	pid            int
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

	// closed when the worker reports itself as running on its pid.
	// Latched here so that the notification cannot be missed however
	// late the owner attaches its listeners.
	running     chan struct{}
	runningOnce sync.Once
}

func newChannel(
	producer net.Conn,
	consumer net.Conn,
	pid int,
	requestTimeout time.Duration,
	maxMessageSize uint32,
	parent logger.Writer,
) *Channel {
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}

	c := &Channel{
		IEventEmitter:  NewEventEmitter(),
		pid:            pid,
		requestTimeout: requestTimeout,
		parent:         parent,
		producer:       producer,
		consumer:       consumer,
		writer:         newFrameWriter(producer, maxMessageSize),
		pending:        make(map[uint32]chan channelResponse),
		done:           make(chan struct{}),
		running:        make(chan struct{}),
	}

	go c.runReader(newFrameReader(consumer, maxMessageSize))

	return c
}

// Log implements logger.Writer.
func (c *Channel) Log(level logger.Level, format string, args ...interface{}) {
	if c.parent != nil {
		c.parent.Log(level, format, args...)
	}
}

// Closed reports whether the channel is closed.
func (c *Channel) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

// Close closes the channel, rejecting all pending requests.
// It can be called more than once.
func (c *Channel) Close() {
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

// Request sends a request to the worker and waits for its response.
// handlerID is the id of the object the method operates on, or empty
// for worker-level methods.
func (c *Channel) Request(method string, handlerID string, data interface{}) (json.RawMessage, error) {
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

	payload, err := encodeRequest(id, method, handlerID, data)
	if err != nil {
		c.removePending(id)
		return nil, err
	}

	err = c.writer.write(payload)
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

func (c *Channel) removePending(id uint32) {
	c.mutex.Lock()
	delete(c.pending, id)
	c.mutex.Unlock()
}

func (c *Channel) runReader(fr *frameReader) {
	for {
		frame, err := fr.read()
		if err != nil {
			if err == errFrameTooBig {
				c.Log(logger.Error, "discarding frame bigger than the maximum size")
				continue
			}
			c.Close()
			return
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
			if msg.Event == "running" && msg.targetID() == strconv.Itoa(c.pid) {
				c.runningOnce.Do(func() {
					close(c.running)
				})
			}
			c.SafeEmit(msg.targetID(), msg.Event, []byte(msg.Data))

		default:
			c.Log(logger.Error, "received frame which is neither a response nor a notification")
		}
	}
}

func (c *Channel) handleResponse(msg *channelMessage) {
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

// encodeRequest builds the flat request representation
// "<id>:<method>:<handlerId|undefined>:<data|undefined>".
func encodeRequest(id uint32, method string, handlerID string, data interface{}) ([]byte, error) {
	if handlerID == "" {
		handlerID = "undefined"
	}

	encData := "undefined"
	if data != nil {
		byts, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		encData = string(byts)
	}

	return []byte(strconv.FormatUint(uint64(id), 10) + ":" + method + ":" + handlerID + ":" + encData), nil
}
