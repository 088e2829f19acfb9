// Package pprof contains a pprof exporter.
package pprof

import (
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/RainStream/rainstream-server/internal/logger"
	"github.com/RainStream/rainstream-server/internal/protocols/httpp"
)

// PPROF is a pprof exporter.
type PPROF struct {
	Address     string
	Encryption  bool
	ServerKey   string
	ServerCert  string
	ReadTimeout time.Duration
	Parent      logger.Writer

	httpServer *httpp.Server
}

// Initialize initializes PPROF.
func (pp *PPROF) Initialize() error {
	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	pprof.Register(router)

	pp.httpServer = &httpp.Server{
		Address:     pp.Address,
		ReadTimeout: pp.ReadTimeout,
		Encryption:  pp.Encryption,
		ServerCert:  pp.ServerCert,
		ServerKey:   pp.ServerKey,
		Handler:     router,
		Parent:      pp,
	}
	err := pp.httpServer.Initialize()
	if err != nil {
		return err
	}

	pp.Log(logger.Info, "listener opened on "+pp.Address)

	return nil
}

// Close closes PPROF.
func (pp *PPROF) Close() {
	pp.Log(logger.Info, "listener is closing")
	pp.httpServer.Close()
}

// Log implements logger.Writer.
func (pp *PPROF) Log(level logger.Level, format string, args ...interface{}) {
	pp.Parent.Log(level, "[pprof] "+format, args...)
}

// Addr returns the address the exporter is listening on.
func (pp *PPROF) Addr() string {
	return pp.httpServer.Addr().String()
}
