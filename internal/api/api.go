// Package api contains the API server.
package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RainStream/rainstream-server/internal/conf"
	"github.com/RainStream/rainstream-server/internal/logger"
	"github.com/RainStream/rainstream-server/internal/protocols/httpp"
	"github.com/RainStream/rainstream-server/internal/servers/cluster"
)

// APIError is a generic error.
type APIError struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// APIOK is a generic success.
type APIOK struct {
	Status string `json:"status"`
}

// APIInfo contains server information.
type APIInfo struct {
	Version string    `json:"version"`
	Started time.Time `json:"started"`
	NodeID  string    `json:"nodeId"`
}

type apiClusterServer interface {
	APIRoomsList() ([]cluster.APIRoom, error)
	APIRoomsGet(roomId string) (cluster.APIRoom, error)
	APIRoomsKick(roomId string, peerId string) error
}

// API is an API server.
type API struct {
	Version       string
	Started       time.Time
	NodeID        string
	Address       string
	Encryption    bool
	ServerKey     string
	ServerCert    string
	ReadTimeout   time.Duration
	Conf          *conf.Conf
	ClusterServer apiClusterServer
	Parent        logger.Writer

	httpServer *httpp.Server
	mutex      sync.RWMutex
}

// Initialize initializes API.
func (a *API) Initialize() error {
	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	group := router.Group("/v1")

	group.GET("/info", a.onInfo)

	group.GET("/config/global/get", a.onConfigGlobalGet)

	group.GET("/rooms/list", a.onRoomsList)
	group.GET("/rooms/get/:id", a.onRoomsGet)
	group.POST("/rooms/kick/:id/:peer", a.onRoomsKick)

	a.httpServer = &httpp.Server{
		Address:     a.Address,
		ReadTimeout: a.ReadTimeout,
		Encryption:  a.Encryption,
		ServerCert:  a.ServerCert,
		ServerKey:   a.ServerKey,
		Handler:     router,
		Parent:      a,
	}
	err := a.httpServer.Initialize()
	if err != nil {
		return err
	}

	a.Log(logger.Info, "listener opened on "+a.Address)

	return nil
}

// Close closes the API.
func (a *API) Close() {
	a.Log(logger.Info, "listener is closing")
	a.httpServer.Close()
}

// Log implements logger.Writer.
func (a *API) Log(level logger.Level, format string, args ...interface{}) {
	a.Parent.Log(level, "[API] "+format, args...)
}

// Addr returns the address the API is listening on.
func (a *API) Addr() string {
	return a.httpServer.Addr().String()
}

// ReloadConf is called by core.
func (a *API) ReloadConf(cnf *conf.Conf) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.Conf = cnf
}

func (a *API) writeError(ctx *gin.Context, status int, err error) {
	// show error in logs
	a.Log(logger.Error, err.Error())

	// add error to response
	ctx.JSON(status, &APIError{
		Status: "error",
		Error:  err.Error(),
	})
}

func (a *API) writeOK(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, &APIOK{Status: "ok"})
}

func (a *API) onInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, &APIInfo{
		Version: a.Version,
		Started: a.Started,
		NodeID:  a.NodeID,
	})
}

func (a *API) onConfigGlobalGet(ctx *gin.Context) {
	a.mutex.RLock()
	c := a.Conf
	a.mutex.RUnlock()

	ctx.JSON(http.StatusOK, c)
}

func (a *API) onRoomsList(ctx *gin.Context) {
	rooms, err := a.ClusterServer.APIRoomsList()
	if err != nil {
		a.writeError(ctx, http.StatusInternalServerError, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"items": rooms})
}

func (a *API) onRoomsGet(ctx *gin.Context) {
	room, err := a.ClusterServer.APIRoomsGet(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, cluster.ErrRoomNotFound) {
			a.writeError(ctx, http.StatusNotFound, err)
		} else {
			a.writeError(ctx, http.StatusInternalServerError, err)
		}
		return
	}

	ctx.JSON(http.StatusOK, room)
}

func (a *API) onRoomsKick(ctx *gin.Context) {
	err := a.ClusterServer.APIRoomsKick(ctx.Param("id"), ctx.Param("peer"))
	if err != nil {
		if errors.Is(err, cluster.ErrRoomNotFound) {
			a.writeError(ctx, http.StatusNotFound, err)
		} else {
			a.writeError(ctx, http.StatusInternalServerError, err)
		}
		return
	}

	a.writeOK(ctx)
}
