package mediasoup

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RainStream/rainstream-server/internal/test"
)

// testChannelPeer is the worker side of a Channel under test.
type testChannelPeer struct {
	reader *frameReader
	writer *frameWriter
}

func newTestChannel(t *testing.T, requestTimeout time.Duration, maxMessageSize uint32) (*Channel, *testChannelPeer) {
	prodLocal, prodRemote := net.Pipe()
	consLocal, consRemote := net.Pipe()

	c := newChannel(prodLocal, consLocal, 1234, requestTimeout, maxMessageSize, test.NilLogger)
	t.Cleanup(c.Close)

	return c, &testChannelPeer{
		reader: newFrameReader(prodRemote, maxMessageSize),
		writer: newFrameWriter(consRemote, maxMessageSize),
	}
}

// readRequest decodes one flat request "<id>:<method>:<handlerId>:<data>".
func (p *testChannelPeer) readRequest(t *testing.T) (uint32, string, string, string) {
	frame, err := p.reader.read()
	require.NoError(t, err)

	parts := strings.SplitN(string(frame), ":", 4)
	require.Len(t, parts, 4)

	id, err := strconv.ParseUint(parts[0], 10, 32)
	require.NoError(t, err)

	return uint32(id), parts[1], parts[2], parts[3]
}

func (p *testChannelPeer) writeJSON(t *testing.T, format string, args ...interface{}) {
	err := p.writer.write([]byte(fmt.Sprintf(format, args...)))
	require.NoError(t, err)
}

func TestChannelRequest(t *testing.T) {
	c, peer := newTestChannel(t, 0, 0)

	go func() {
		id, method, handlerID, data := peer.readRequest(t)
		require.Equal(t, "router.createWebRtcTransport", method)
		require.Equal(t, "router-1", handlerID)
		require.JSONEq(t, `{"transportId":"t1"}`, data)
		peer.writeJSON(t, `{"id":%d,"accepted":true,"data":{"iceRole":"controlled"}}`, id)
	}()

	data, err := c.Request("router.createWebRtcTransport", "router-1", H{"transportId": "t1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"iceRole":"controlled"}`, string(data))
}

func TestChannelRequestWithoutData(t *testing.T) {
	c, peer := newTestChannel(t, 0, 0)

	go func() {
		id, method, handlerID, data := peer.readRequest(t)
		require.Equal(t, "worker.dump", method)
		require.Equal(t, "undefined", handlerID)
		require.Equal(t, "undefined", data)
		peer.writeJSON(t, `{"id":%d,"accepted":true}`, id)
	}()

	data, err := c.Request("worker.dump", "", nil)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestChannelRequestErrors(t *testing.T) {
	c, peer := newTestChannel(t, 0, 0)

	go func() {
		id, _, _, _ := peer.readRequest(t)
		peer.writeJSON(t, `{"id":%d,"error":"Error","reason":"something failed"}`, id)

		id, _, _, _ = peer.readRequest(t)
		peer.writeJSON(t, `{"id":%d,"error":"TypeError","reason":"wrong rtpParameters"}`, id)
	}()

	_, err := c.Request("transport.connect", "t1", nil)
	require.EqualError(t, err, "something failed")

	_, err = c.Request("transport.produce", "t1", nil)
	var terr TypeError
	require.ErrorAs(t, err, &terr)
	require.EqualError(t, err, "wrong rtpParameters")
}

func TestChannelRequestTimeout(t *testing.T) {
	c, peer := newTestChannel(t, 100*time.Millisecond, 0)

	go func() {
		// read the request, never answer
		peer.readRequest(t)
	}()

	_, err := c.Request("worker.dump", "", nil)
	var terr RequestTimeoutError
	require.ErrorAs(t, err, &terr)
}

func TestChannelRequestTooBig(t *testing.T) {
	c, _ := newTestChannel(t, 0, 128)

	_, err := c.Request("transport.produce", "t1", H{
		"filler": strings.Repeat("x", 256),
	})
	var terr RequestTooBigError
	require.ErrorAs(t, err, &terr)
}

func TestChannelNotifications(t *testing.T) {
	c, peer := newTestChannel(t, 0, 0)

	recv := make(chan string, 2)
	c.On("producer-1", func(event string, data []byte) {
		recv <- event + ":" + string(data)
	})
	// the worker signals its own notifications on its pid
	c.On("1234", func(event string, data []byte) {
		recv <- event
	})

	peer.writeJSON(t, `{"targetId":"producer-1","event":"score","data":[{"score":10}]}`)
	require.Equal(t, `score:[{"score":10}]`, <-recv)

	peer.writeJSON(t, `{"targetId":1234,"event":"running"}`)
	require.Equal(t, "running", <-recv)

	// notifications for unknown targets are dropped
	peer.writeJSON(t, `{"targetId":"nobody","event":"score"}`)

	peer.writeJSON(t, `{"targetId":"producer-1","event":"trace","data":{}}`)
	require.Equal(t, "trace:{}", <-recv)
}

func TestChannelCloseRejectsPending(t *testing.T) {
	c, peer := newTestChannel(t, 10*time.Second, 0)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request("worker.dump", "", nil)
		errCh <- err
	}()

	// read the request, never answer
	_, _, _, _ = peer.readRequest(t)

	time.Sleep(100 * time.Millisecond)
	c.Close()

	require.ErrorAs(t, <-errCh, &ChannelClosedError{})

	// requests after close fail immediately
	_, err := c.Request("worker.dump", "", nil)
	require.ErrorAs(t, err, &ChannelClosedError{})
}

func TestChannelCloseOnEOF(t *testing.T) {
	prodLocal, _ := net.Pipe()
	consLocal, consRemote := net.Pipe()

	c := newChannel(prodLocal, consLocal, 1234, time.Second, 0, test.NilLogger)
	defer c.Close()

	consRemote.Close()

	require.Eventually(t, c.Closed, time.Second, 10*time.Millisecond)
}

func TestChannelIDWrap(t *testing.T) {
	c, peer := newTestChannel(t, 0, 0)

	ids := make(chan uint32, 3)
	go func() {
		for i := 0; i < 3; i++ {
			id, _, _, _ := peer.readRequest(t)
			ids <- id
			peer.writeJSON(t, `{"id":%d,"accepted":true}`, id)
		}
	}()

	_, err := c.Request("worker.dump", "", nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), <-ids)

	c.mutex.Lock()
	c.lastID = math.MaxUint32 - 1
	c.mutex.Unlock()

	_, err = c.Request("worker.dump", "", nil)
	require.NoError(t, err)
	require.Equal(t, uint32(math.MaxUint32), <-ids)

	_, err = c.Request("worker.dump", "", nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), <-ids)
}

func TestChannelUnknownResponseID(t *testing.T) {
	c, peer := newTestChannel(t, 0, 0)

	// must be logged and discarded without disrupting the stream
	peer.writeJSON(t, `{"id":99,"accepted":true}`)

	recv := make(chan struct{})
	c.On("x", func(event string, data []byte) {
		close(recv)
	})

	peer.writeJSON(t, `{"targetId":"x","event":"ping"}`)

	select {
	case <-recv:
	case <-time.After(time.Second):
		t.Error("notification not received")
	}
}

func TestChannelEncodeRequest(t *testing.T) {
	byts, err := encodeRequest(7, "transport.produce", "t1", H{"kind": "audio"})
	require.NoError(t, err)
	require.Equal(t, `7:transport.produce:t1:{"kind":"audio"}`, string(byts))

	byts, err = encodeRequest(8, "worker.dump", "", nil)
	require.NoError(t, err)
	require.Equal(t, `8:worker.dump:undefined:undefined`, string(byts))
}
