package mediasoup

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RainStream/rainstream-server/internal/test"
)

type testPayloadPeer struct {
	reader *frameReader
	writer *frameWriter
}

func newTestPayloadChannel(t *testing.T, requestTimeout time.Duration) (*PayloadChannel, *testPayloadPeer) {
	prodLocal, prodRemote := net.Pipe()
	consLocal, consRemote := net.Pipe()

	c := newPayloadChannel(prodLocal, consLocal, requestTimeout, 0, test.NilLogger)
	t.Cleanup(c.Close)

	return c, &testPayloadPeer{
		reader: newFrameReader(prodRemote, 0),
		writer: newFrameWriter(consRemote, 0),
	}
}

func (p *testPayloadPeer) readPair(t *testing.T) (string, []byte) {
	header, err := p.reader.read()
	require.NoError(t, err)

	payload, err := p.reader.read()
	require.NoError(t, err)

	return string(header), payload
}

func (p *testPayloadPeer) writeJSON(t *testing.T, format string, args ...interface{}) {
	err := p.writer.write([]byte(fmt.Sprintf(format, args...)))
	require.NoError(t, err)
}

func TestPayloadChannelNotify(t *testing.T) {
	c, peer := newTestPayloadChannel(t, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		header, payload := peer.readPair(t)
		require.Equal(t, `n:dataProducer.send:dp1:{"ppid":51}`, header)
		require.Equal(t, []byte("hello"), payload)
	}()

	err := c.Notify("dataProducer.send", "dp1", H{"ppid": 51}, []byte("hello"))
	require.NoError(t, err)
	<-done
}

func TestPayloadChannelNotifyEmptyPayload(t *testing.T) {
	c, peer := newTestPayloadChannel(t, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		header, payload := peer.readPair(t)
		require.Equal(t, `n:dataProducer.send:dp1:undefined`, header)
		require.Len(t, payload, 0)
	}()

	err := c.Notify("dataProducer.send", "dp1", nil, nil)
	require.NoError(t, err)
	<-done
}

func TestPayloadChannelRequest(t *testing.T) {
	c, peer := newTestPayloadChannel(t, 0)

	go func() {
		header, payload := peer.readPair(t)
		require.Equal(t, []byte{4, 5, 6}, payload)

		parts := strings.SplitN(header, ":", 4)
		require.Len(t, parts, 4)
		require.Equal(t, "dataConsumer.send", parts[1])

		id, err := strconv.ParseUint(parts[0], 10, 32)
		require.NoError(t, err)
		peer.writeJSON(t, `{"id":%d,"accepted":true}`, id)
	}()

	_, err := c.Request("dataConsumer.send", "dc1", H{"ppid": 53}, []byte{4, 5, 6})
	require.NoError(t, err)
}

func TestPayloadChannelIncomingNotification(t *testing.T) {
	c, peer := newTestPayloadChannel(t, 0)

	type recvMsg struct {
		event   string
		data    []byte
		payload []byte
	}
	recv := make(chan recvMsg, 1)

	c.On("dc1", func(event string, data, payload []byte) {
		recv <- recvMsg{event, data, payload}
	})

	peer.writeJSON(t, `{"targetId":"dc1","event":"message","data":{"ppid":51}}`)
	err := peer.writer.write([]byte("payload-bytes"))
	require.NoError(t, err)

	msg := <-recv
	require.Equal(t, "message", msg.event)
	require.JSONEq(t, `{"ppid":51}`, string(msg.data))
	require.Equal(t, []byte("payload-bytes"), msg.payload)

	// the awaiting-payload state must reset between units
	peer.writeJSON(t, `{"targetId":"dc1","event":"message","data":{"ppid":51}}`)
	err = peer.writer.write([]byte{})
	require.NoError(t, err)

	msg = <-recv
	require.Len(t, msg.payload, 0)
}

func TestPayloadChannelCloseRejectsPending(t *testing.T) {
	c, peer := newTestPayloadChannel(t, 10*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request("dataConsumer.send", "dc1", nil, []byte{1})
		errCh <- err
	}()

	peer.readPair(t)

	time.Sleep(100 * time.Millisecond)
	c.Close()

	require.ErrorAs(t, <-errCh, &ChannelClosedError{})

	err := c.Notify("dataProducer.send", "dp1", nil, nil)
	require.ErrorAs(t, err, &ChannelClosedError{})
}
