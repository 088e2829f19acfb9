package protoo

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/RainStream/rainstream-server/internal/test"
)

type testHandler struct {
	onRequest      func(p *Peer, req *Request)
	onNotification func(p *Peer, method string, data json.RawMessage)
	onClose        func(p *Peer)
}

func (h *testHandler) OnPeerRequest(p *Peer, req *Request) {
	if h.onRequest != nil {
		h.onRequest(p, req)
	}
}

func (h *testHandler) OnPeerNotification(p *Peer, method string, data json.RawMessage) {
	if h.onNotification != nil {
		h.onNotification(p, method, data)
	}
}

func (h *testHandler) OnPeerClose(p *Peer) {
	if h.onClose != nil {
		h.onClose(p)
	}
}

var testUpgrader = websocket.Upgrader{
	Subprotocols: []string{"protoo"},
	CheckOrigin:  func(_ *http.Request) bool { return true },
}

// peerPair builds a connected server-side Peer and a raw client conn.
func peerPair(t *testing.T, h PeerHandler, timeout time.Duration) (*Peer, *websocket.Conn, func()) {
	connCh := make(chan *Peer, 1)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		p := &Peer{
			ID:             "remote",
			Conn:           NewConn(wc),
			RequestTimeout: timeout,
			Handler:        h,
			Parent:         test.NilLogger,
		}
		p.Initialize()
		connCh <- p
	}))

	u := "ws" + strings.TrimPrefix(s.URL, "http")
	wc, _, err := websocket.DefaultDialer.Dial(u, http.Header{
		"Sec-WebSocket-Protocol": []string{"protoo"},
	})
	require.NoError(t, err)

	p := <-connCh

	return p, wc, func() {
		wc.Close()
		p.Close()
		s.Close()
	}
}

func TestPeerIncomingRequest(t *testing.T) {
	h := &testHandler{
		onRequest: func(_ *Peer, req *Request) {
			require.Equal(t, "join", req.Method)
			req.Accept(map[string]interface{}{"peers": []string{}})
			// a second reply must be a no-op
			req.Reject(500, "never sent")
		},
	}

	_, wc, done := peerPair(t, h, 0)
	defer done()

	err := wc.WriteMessage(websocket.TextMessage,
		[]byte(`{"request":true,"id":7,"method":"join","data":{}}`))
	require.NoError(t, err)

	_, byts, err := wc.ReadMessage()
	require.NoError(t, err)

	msg, err := ParseMessage(byts)
	require.NoError(t, err)
	require.True(t, msg.Response)
	require.True(t, msg.OK)
	require.Equal(t, uint32(7), msg.ID)

	// no further frame must arrive
	wc.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = wc.ReadMessage()
	require.Error(t, err)
}

func TestPeerOutgoingRequest(t *testing.T) {
	p, wc, done := peerPair(t, &testHandler{}, 0)
	defer done()

	go func() {
		_, byts, err := wc.ReadMessage()
		if err != nil {
			return
		}
		msg, err := ParseMessage(byts)
		if err != nil {
			return
		}
		res, _ := createSuccessResponse(msg, map[string]interface{}{"pong": true})
		byts, _ = res.marshal()
		wc.WriteMessage(websocket.TextMessage, byts) //nolint:errcheck
	}()

	data, err := p.Request("ping", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"pong":true}`, string(data))
}

func TestPeerOutgoingRequestRejected(t *testing.T) {
	p, wc, done := peerPair(t, &testHandler{}, 0)
	defer done()

	go func() {
		_, byts, err := wc.ReadMessage()
		if err != nil {
			return
		}
		msg, err := ParseMessage(byts)
		if err != nil {
			return
		}
		res := createErrorResponse(msg, 403, "not allowed")
		byts, _ = res.marshal()
		wc.WriteMessage(websocket.TextMessage, byts) //nolint:errcheck
	}()

	_, err := p.Request("forbidden", nil)
	var rerr ResponseError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 403, rerr.Code)
	require.Equal(t, "not allowed", rerr.Reason)
}

func TestPeerRequestTimeout(t *testing.T) {
	p, _, done := peerPair(t, &testHandler{}, 100*time.Millisecond)
	defer done()

	_, err := p.Request("void", nil)
	var terr RequestTimeoutError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "void", terr.Method)
}

func TestPeerCloseRejectsPending(t *testing.T) {
	closed := make(chan struct{})
	h := &testHandler{
		onClose: func(_ *Peer) { close(closed) },
	}

	p, _, done := peerPair(t, h, 10*time.Second)
	defer done()

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Request("void", nil)
		errCh <- err
	}()

	// let the request register itself
	time.Sleep(100 * time.Millisecond)
	p.Close()

	require.ErrorAs(t, <-errCh, &PeerClosedError{})
	<-closed

	// requests after close fail immediately
	_, err := p.Request("void", nil)
	require.ErrorAs(t, err, &PeerClosedError{})
}

func TestPeerCloseOnSocketError(t *testing.T) {
	closed := make(chan struct{})
	h := &testHandler{
		onClose: func(_ *Peer) { close(closed) },
	}

	_, wc, done := peerPair(t, h, 0)
	defer done()

	wc.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Error("OnPeerClose not called")
	}
}

func TestPeerInvalidEnvelopeIgnored(t *testing.T) {
	recv := make(chan string, 1)
	closed := make(chan struct{})
	h := &testHandler{
		onRequest: func(_ *Peer, req *Request) {
			req.Accept(nil)
			recv <- req.Method
		},
		onClose: func(_ *Peer) { close(closed) },
	}

	_, wc, done := peerPair(t, h, 0)
	defer done()

	// neither of these must tear the session down
	err := wc.WriteMessage(websocket.TextMessage, []byte(`not json`))
	require.NoError(t, err)
	err = wc.WriteMessage(websocket.TextMessage, []byte(`{"request":true,"id":3}`))
	require.NoError(t, err)

	err = wc.WriteMessage(websocket.TextMessage,
		[]byte(`{"request":true,"id":4,"method":"join","data":{}}`))
	require.NoError(t, err)

	select {
	case method := <-recv:
		require.Equal(t, "join", method)
	case <-time.After(2 * time.Second):
		t.Fatal("request after invalid frames not received")
	}

	select {
	case <-closed:
		t.Fatal("peer closed by invalid frames")
	default:
	}
}

func TestPeerNotification(t *testing.T) {
	recv := make(chan string, 1)
	h := &testHandler{
		onNotification: func(_ *Peer, method string, _ json.RawMessage) {
			recv <- method
		},
	}

	p, wc, done := peerPair(t, h, 0)
	defer done()

	err := wc.WriteMessage(websocket.TextMessage,
		[]byte(`{"notification":true,"method":"producerScore","data":{}}`))
	require.NoError(t, err)
	require.Equal(t, "producerScore", <-recv)

	err = p.Notify("newPeer", map[string]interface{}{"id": "b"})
	require.NoError(t, err)

	_, byts, err := wc.ReadMessage()
	require.NoError(t, err)

	msg, err := ParseMessage(byts)
	require.NoError(t, err)
	require.True(t, msg.Notification)
	require.Equal(t, "newPeer", msg.Method)
}

func TestPeerRequestIDWrap(t *testing.T) {
	p, wc, done := peerPair(t, &testHandler{}, 0)
	defer done()

	var mutex sync.Mutex
	ids := []uint32{}

	go func() {
		for {
			_, byts, err := wc.ReadMessage()
			if err != nil {
				return
			}
			msg, err := ParseMessage(byts)
			if err != nil {
				return
			}
			mutex.Lock()
			ids = append(ids, msg.ID)
			mutex.Unlock()
			res, _ := createSuccessResponse(msg, nil)
			byts, _ = res.marshal()
			wc.WriteMessage(websocket.TextMessage, byts) //nolint:errcheck
		}
	}()

	_, err := p.Request("a", nil)
	require.NoError(t, err)

	p.mutex.Lock()
	p.lastID = math.MaxUint32 - 1
	p.mutex.Unlock()

	_, err = p.Request("b", nil)
	require.NoError(t, err)
	_, err = p.Request("c", nil)
	require.NoError(t, err)

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, []uint32{1, math.MaxUint32, 1}, ids)
}
