// Package cluster contains the WebSocket signaling server.
package cluster

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/RainStream/rainstream-server/internal/logger"
	"github.com/RainStream/rainstream-server/internal/mediasoup"
	"github.com/RainStream/rainstream-server/internal/protocols/httpp"
	"github.com/RainStream/rainstream-server/internal/protocols/protoo"
)

// WorkerProvider hands out mediasoup workers for new rooms.
type WorkerProvider interface {
	Worker() *mediasoup.Worker
}

// APIPeer is a peer seen by the control API.
type APIPeer struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	Joined      bool   `json:"joined"`
	Producers   int    `json:"producers"`
	Consumers   int    `json:"consumers"`
}

// APIRoom is a room seen by the control API.
type APIRoom struct {
	Id    string    `json:"id"`
	Peers []APIPeer `json:"peers"`
}

// ErrRoomNotFound is returned when a room does not exist.
var ErrRoomNotFound = fmt.Errorf("room not found")

// Server is the signaling server. It accepts protoo WebSocket
// connections and routes each of them into a room.
type Server struct {
	Address        string
	Encryption     bool
	ServerKey      string
	ServerCert     string
	ReadTimeout    time.Duration
	RequestTimeout time.Duration
	RoomOptions    RoomOptions
	Workers        WorkerProvider
	Parent         logger.Writer

	httpServer *httpp.Server
	upgrader   websocket.Upgrader

	mutex sync.Mutex
	rooms map[string]*room
}

// Initialize initializes the server.
func (s *Server) Initialize() error {
	s.rooms = make(map[string]*room)

	s.upgrader = websocket.Upgrader{
		Subprotocols: []string{"protoo"},
		CheckOrigin: func(_ *http.Request) bool {
			return true
		},
	}

	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck
	router.NoRoute(s.onRequest)

	s.httpServer = &httpp.Server{
		Address:     s.Address,
		ReadTimeout: s.ReadTimeout,
		Encryption:  s.Encryption,
		ServerCert:  s.ServerCert,
		ServerKey:   s.ServerKey,
		Handler:     router,
		Parent:      s,
	}
	err := s.httpServer.Initialize()
	if err != nil {
		return err
	}

	s.Log(logger.Info, "listener opened on %s", s.Address)

	return nil
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[cluster] "+format, args...)
}

// Close closes the server and every room.
func (s *Server) Close() {
	s.Log(logger.Info, "listener is closing")

	s.httpServer.Close()

	s.mutex.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mutex.Unlock()

	for _, r := range rooms {
		r.close()
	}
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.httpServer.Addr()
}

func (s *Server) onRequest(ctx *gin.Context) {
	if !websocket.IsWebSocketUpgrade(ctx.Request) {
		ctx.Writer.WriteHeader(http.StatusNotFound)
		return
	}

	roomId := ctx.Query("roomId")
	peerId := ctx.Query("peerId")
	if peerId == "" {
		// accepted for compatibility with older clients
		peerId = ctx.Query("peerName")
	}

	if roomId == "" || peerId == "" {
		s.Log(logger.Warn, "[conn %s] rejected, missing roomId or peerId", ctx.Request.RemoteAddr)
		ctx.Writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if !containsString(websocket.Subprotocols(ctx.Request), "protoo") {
		s.Log(logger.Warn, "[conn %s] rejected, invalid subprotocol", ctx.Request.RemoteAddr)
		ctx.Writer.WriteHeader(http.StatusForbidden)
		return
	}

	r, err := s.getOrCreateRoom(roomId)
	if err != nil {
		s.Log(logger.Error, "cannot create room '%s': %v", roomId, err)
		ctx.Writer.WriteHeader(http.StatusInternalServerError)
		return
	}

	wc, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.Log(logger.Warn, "[conn %s] upgrade failed: %v", ctx.Request.RemoteAddr, err)
		return
	}

	r.addPeer(peerId, protoo.NewConn(wc))
}

func (s *Server) getOrCreateRoom(roomId string) (*room, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if r, ok := s.rooms[roomId]; ok {
		return r, nil
	}

	r, err := newRoom(roomId, s, s.Workers.Worker(), s.RoomOptions, s)
	if err != nil {
		return nil, err
	}

	s.rooms[roomId] = r
	return r, nil
}

func (s *Server) removeRoom(r *room) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.rooms[r.id] == r {
		delete(s.rooms, r.id)
	}
}

// RoomCount returns the number of open rooms.
func (s *Server) RoomCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.rooms)
}

// PeerCount returns the number of connected peers across all rooms.
func (s *Server) PeerCount() int {
	s.mutex.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mutex.Unlock()

	count := 0
	for _, r := range rooms {
		r.mutex.Lock()
		count += len(r.peers)
		r.mutex.Unlock()
	}
	return count
}

// APIRoomsList is called by the control API.
func (s *Server) APIRoomsList() ([]APIRoom, error) {
	s.mutex.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mutex.Unlock()

	out := []APIRoom{}
	for _, r := range rooms {
		out = append(out, r.apiInfo())
	}
	return out, nil
}

// APIRoomsGet is called by the control API.
func (s *Server) APIRoomsGet(roomId string) (APIRoom, error) {
	s.mutex.Lock()
	r, ok := s.rooms[roomId]
	s.mutex.Unlock()

	if !ok {
		return APIRoom{}, ErrRoomNotFound
	}
	return r.apiInfo(), nil
}

// APIRoomsKick is called by the control API.
func (s *Server) APIRoomsKick(roomId string, peerId string) error {
	s.mutex.Lock()
	r, ok := s.rooms[roomId]
	s.mutex.Unlock()

	if !ok {
		return ErrRoomNotFound
	}
	return r.kickPeer(peerId)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
