package protoo

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/RainStream/rainstream-server/internal/logger"
)

const (
	defaultRequestTimeout = 20 * time.Second
	dispatchQueueSize     = 32
)

// PeerHandler is implemented by the owner of a Peer.
type PeerHandler interface {
	// OnPeerRequest is called on every incoming request, in arrival order.
	OnPeerRequest(p *Peer, req *Request)

	// OnPeerNotification is called on every incoming notification.
	OnPeerNotification(p *Peer, method string, data json.RawMessage)

	// OnPeerClose is called once, when the peer closes for any reason.
	OnPeerClose(p *Peer)
}

type peerResponse struct {
	data json.RawMessage
	err  error
}

// Peer is one remote endpoint speaking the protoo protocol.
type Peer struct {
	ID             string
	Conn           *Conn
	RequestTimeout time.Duration
	Handler        PeerHandler
	Parent         logger.Writer

	mutex   sync.Mutex
	closed  bool
	lastID  uint32
	pending map[uint32]chan peerResponse
	done    chan struct{}
	// incoming requests and notifications, consumed by a single goroutine
	dispatch chan *Message
}

// Initialize initializes a Peer.
func (p *Peer) Initialize() {
	if p.RequestTimeout == 0 {
		p.RequestTimeout = defaultRequestTimeout
	}

	p.pending = make(map[uint32]chan peerResponse)
	p.done = make(chan struct{})
	p.dispatch = make(chan *Message, dispatchQueueSize)

	go p.runReader()
	go p.runDispatcher()
}

// Log implements logger.Writer.
func (p *Peer) Log(level logger.Level, format string, args ...interface{}) {
	if p.Parent != nil {
		p.Parent.Log(level, format, args...)
	}
}

// Closed reports whether the peer is closed.
func (p *Peer) Closed() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.closed
}

// Close closes the peer, rejecting all pending requests.
// It can be called more than once.
func (p *Peer) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true

	for id, ch := range p.pending {
		delete(p.pending, id)
		ch <- peerResponse{err: PeerClosedError{}}
	}

	close(p.done)
	p.mutex.Unlock()

	p.Conn.Close()

	if p.Handler != nil {
		p.Handler.OnPeerClose(p)
	}
}

// Request sends a request and waits for the matching response.
func (p *Peer) Request(method string, data interface{}) (json.RawMessage, error) {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil, PeerClosedError{}
	}

	if p.lastID == math.MaxUint32 {
		p.lastID = 1
	} else {
		p.lastID++
	}
	id := p.lastID

	ch := make(chan peerResponse, 1)
	p.pending[id] = ch
	p.mutex.Unlock()

	msg, err := createRequest(id, method, data)
	if err != nil {
		p.removePending(id)
		return nil, err
	}

	err = p.Conn.WriteMessage(msg)
	if err != nil {
		p.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(p.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.data, res.err

	case <-timer.C:
		p.removePending(id)
		return nil, RequestTimeoutError{Method: method}

	case <-p.done:
		return nil, PeerClosedError{}
	}
}

// Notify sends a notification.
func (p *Peer) Notify(method string, data interface{}) error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return PeerClosedError{}
	}
	p.mutex.Unlock()

	msg, err := createNotification(method, data)
	if err != nil {
		return err
	}

	return p.Conn.WriteMessage(msg)
}

func (p *Peer) removePending(id uint32) {
	p.mutex.Lock()
	delete(p.pending, id)
	p.mutex.Unlock()
}

// runReader reads envelopes until the connection dies. Responses are
// correlated inline so that a request handler can await replies from
// this same peer; requests and notifications are queued to the
// dispatcher to preserve arrival order.
func (p *Peer) runReader() {
	for {
		msg, err := p.Conn.ReadMessage()
		if err != nil {
			// a frame the remote cannot encode is its problem, not a
			// reason to drop the session
			var perr InvalidMessageError
			if errors.As(err, &perr) {
				p.Log(logger.Warn, "discarding invalid envelope: %v", err)
				continue
			}

			close(p.dispatch)
			p.Close()
			return
		}

		switch {
		case msg.Response:
			p.handleResponse(msg)

		default:
			select {
			case p.dispatch <- msg:
			case <-p.done:
				close(p.dispatch)
				return
			}
		}
	}
}

func (p *Peer) runDispatcher() {
	for msg := range p.dispatch {
		switch {
		case msg.Request:
			req := &Request{
				Method: msg.Method,
				Data:   msg.Data,
				peer:   p,
				msg:    msg,
			}
			if p.Handler != nil {
				p.Handler.OnPeerRequest(p, req)
			}

		case msg.Notification:
			if p.Handler != nil {
				p.Handler.OnPeerNotification(p, msg.Method, msg.Data)
			}
		}
	}
}

func (p *Peer) handleResponse(msg *Message) {
	p.mutex.Lock()
	ch, ok := p.pending[msg.ID]
	if ok {
		delete(p.pending, msg.ID)
	}
	p.mutex.Unlock()

	if !ok {
		p.Log(logger.Debug, "response with unknown id %d, discarding", msg.ID)
		return
	}

	if msg.OK {
		ch <- peerResponse{data: msg.Data}
	} else {
		ch <- peerResponse{err: ResponseError{
			Code:   msg.ErrorCode,
			Reason: msg.ErrorReason,
		}}
	}
}

// Request is an incoming request. Accept or Reject sends the matching
// response, exactly once.
type Request struct {
	Method string
	Data   json.RawMessage

	peer *Peer
	msg  *Message
	once sync.Once
}

// Accept replies with a success response.
func (r *Request) Accept(data interface{}) {
	r.once.Do(func() {
		msg, err := createSuccessResponse(r.msg, data)
		if err != nil {
			r.peer.Log(logger.Error, "cannot encode response to '%s': %v", r.Method, err)
			msg = createErrorResponse(r.msg, 500, err.Error())
		}

		err = r.peer.Conn.WriteMessage(msg)
		if err != nil {
			r.peer.Log(logger.Debug, "cannot send response to '%s': %v", r.Method, err)
		}
	})
}

// Reject replies with an error response.
func (r *Request) Reject(code int, reason string) {
	r.once.Do(func() {
		err := r.peer.Conn.WriteMessage(createErrorResponse(r.msg, code, reason))
		if err != nil {
			r.peer.Log(logger.Debug, "cannot send response to '%s': %v", r.Method, err)
		}
	})
}
