// Package media contains the media node registration client. It
// announces this instance to a coordinator and keeps reporting its
// load while the process runs.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/randutil"

	"github.com/RainStream/rainstream-server/internal/logger"
	"github.com/RainStream/rainstream-server/internal/mediasoup"
	"github.com/RainStream/rainstream-server/internal/protocols/protoo"
)

const (
	defaultReportInterval = 30 * time.Second
	reconnectPause        = 5 * time.Second
	runesAlpha            = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// StatsProvider reports the current load of this node.
type StatsProvider interface {
	RoomCount() int
	PeerCount() int
}

// Server is the registration client. It dials the coordinator over a
// protoo WebSocket and reports this node periodically, reconnecting
// with a fixed pause when the link drops.
type Server struct {
	ServerURL      string
	NodeID         string
	Capacity       int
	ReportInterval time.Duration
	Stats          StatsProvider
	Parent         logger.Writer

	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
}

// Initialize initializes the server.
func (s *Server) Initialize() error {
	if s.ReportInterval == 0 {
		s.ReportInterval = defaultReportInterval
	}
	if s.NodeID == "" {
		suffix, err := randutil.GenerateCryptoRandomString(8, runesAlpha)
		if err != nil {
			return err
		}
		s.NodeID = "media-" + suffix
	}

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()

	s.Log(logger.Info, "node %s registering on %s", s.NodeID, s.ServerURL)

	return nil
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[media] "+format, args...)
}

// Close closes the server.
func (s *Server) Close() {
	s.ctxCancel()
	s.wg.Wait()
}

func (s *Server) run() {
	defer s.wg.Done()

	for {
		err := s.runSession()
		if err != nil {
			s.Log(logger.Warn, "coordinator link lost: %v", err)
		}

		select {
		case <-time.After(reconnectPause):
		case <-s.ctx.Done():
			return
		}
	}
}

// sessionHandler answers requests coming from the coordinator.
type sessionHandler struct {
	s      *Server
	closed chan struct{}
}

func (h *sessionHandler) OnPeerRequest(_ *protoo.Peer, req *protoo.Request) {
	switch req.Method {
	case "getNodeStatus":
		req.Accept(h.s.statusPayload())

	default:
		req.Reject(500, fmt.Sprintf("unknown request.method %s", req.Method))
	}
}

func (h *sessionHandler) OnPeerNotification(_ *protoo.Peer, method string, _ json.RawMessage) {
	h.s.Log(logger.Debug, "ignoring notification '%s' from coordinator", method)
}

func (h *sessionHandler) OnPeerClose(_ *protoo.Peer) {
	close(h.closed)
}

func (s *Server) runSession() error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"secret-media"},
		HandshakeTimeout: 10 * time.Second,
	}

	wc, _, err := dialer.DialContext(s.ctx, s.ServerURL, nil)
	if err != nil {
		return err
	}

	handler := &sessionHandler{s: s, closed: make(chan struct{})}

	peer := &protoo.Peer{
		ID:      s.NodeID,
		Conn:    protoo.NewConn(wc),
		Handler: handler,
		Parent:  s,
	}
	peer.Initialize()
	defer peer.Close()

	_, err = peer.Request("registerNode", mediasoup.H{
		"nodeId":      s.NodeID,
		"serviceType": "media_server",
		"capacity":    s.Capacity,
		"status":      "online",
	})
	if err != nil {
		return err
	}

	s.Log(logger.Info, "registered on coordinator")

	ticker := time.NewTicker(s.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := peer.Request("reportNodeOnline", s.statusPayload())
			if err != nil {
				return err
			}

		case <-handler.closed:
			return fmt.Errorf("connection closed by coordinator")

		case <-s.ctx.Done():
			return nil
		}
	}
}

func (s *Server) statusPayload() mediasoup.H {
	rooms := 0
	peers := 0
	if s.Stats != nil {
		rooms = s.Stats.RoomCount()
		peers = s.Stats.PeerCount()
	}

	return mediasoup.H{
		"nodeId":      s.NodeID,
		"serviceType": "media_server",
		"capacity":    s.Capacity,
		"status":      "online",
		"rooms":       rooms,
		"peers":       peers,
	}
}
