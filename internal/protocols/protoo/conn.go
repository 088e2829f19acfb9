package protoo

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

var (
	pingInterval = 30 * time.Second
	pingTimeout  = 5 * time.Second
	writeTimeout = 2 * time.Second
)

// Conn is a WebSocket connection that carries protoo envelopes,
// with automatic, periodic ping-pong. It wraps an already
// established connection, either accepted or dialed.
type Conn struct {
	wc *websocket.Conn

	// in
	terminate chan struct{}
	write     chan []byte

	// out
	writeErr chan error
}

// NewConn allocates a Conn.
func NewConn(wc *websocket.Conn) *Conn {
	c := &Conn{
		wc:        wc,
		terminate: make(chan struct{}),
		write:     make(chan []byte),
		writeErr:  make(chan error),
	}

	go c.run()

	return c
}

// Close closes a Conn.
func (c *Conn) Close() {
	c.wc.Close() //nolint:errcheck
	close(c.terminate)
}

// RemoteAddr returns the remote address.
func (c *Conn) RemoteAddr() string {
	return c.wc.RemoteAddr().String()
}

func (c *Conn) run() {
	c.wc.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)) //nolint:errcheck

	c.wc.SetPongHandler(func(string) error {
		c.wc.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)) //nolint:errcheck
		return nil
	})

	c.wc.SetPingHandler(func(payload string) error {
		c.wc.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)) //nolint:errcheck
		return c.wc.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeTimeout))
	})

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case byts := <-c.write:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			err := c.wc.WriteMessage(websocket.TextMessage, byts)
			c.writeErr <- err

		case <-pingTicker.C:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			c.wc.WriteMessage(websocket.PingMessage, nil)       //nolint:errcheck

		case <-c.terminate:
			return
		}
	}
}

// ReadMessage reads a single envelope. It must be called by a
// single goroutine.
func (c *Conn) ReadMessage() (*Message, error) {
	for {
		typ, byts, err := c.wc.ReadMessage()
		if err != nil {
			return nil, err
		}

		// a text frame is exactly one envelope; ignore anything else
		if typ != websocket.TextMessage {
			continue
		}

		return ParseMessage(byts)
	}
}

// WriteMessage writes a single envelope.
func (c *Conn) WriteMessage(msg *Message) error {
	byts, err := msg.marshal()
	if err != nil {
		return err
	}

	select {
	case c.write <- byts:
		return <-c.writeErr
	case <-c.terminate:
		return fmt.Errorf("terminated")
	}
}
