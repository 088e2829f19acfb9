// Package core contains the main struct of the software.
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/RainStream/rainstream-server/internal/api"
	"github.com/RainStream/rainstream-server/internal/conf"
	"github.com/RainStream/rainstream-server/internal/confwatcher"
	"github.com/RainStream/rainstream-server/internal/logger"
	"github.com/RainStream/rainstream-server/internal/mediasoup"
	"github.com/RainStream/rainstream-server/internal/pprof"
	"github.com/RainStream/rainstream-server/internal/rlimit"
	"github.com/RainStream/rainstream-server/internal/servers/cluster"
	"github.com/RainStream/rainstream-server/internal/servers/media"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"rainstream.yml",
	"/usr/local/etc/rainstream.yml",
	"/usr/etc/rainstream.yml",
	"/etc/rainstream/rainstream.yml",
}

// capacity advertised to the coordinator, per worker.
const peersPerWorker = 500

var cli struct {
	Version   bool   `help:"print version."`
	ServerURL string `help:"override the coordinator URL."`
	NodeID    string `help:"override the node id."`
	Confpath  string `arg:"" default:""`
}

// Core is an instance of rainstream.
type Core struct {
	ctx         context.Context
	ctxCancel   func()
	confPath    string
	conf        *conf.Conf
	logger      *logger.Logger
	workers     []*mediasoup.Worker
	workerIndex uint32
	cluster     *cluster.Server
	media       *media.Server
	api         *api.API
	pprof       *pprof.PPROF
	confWatcher *confwatcher.ConfWatcher

	// in
	chWorkerDied chan error

	// out
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("rainstream "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is rainstream.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		confPath:     cli.Confpath,
		chWorkerDied: make(chan error, 4),
		done:         make(chan struct{}),
	}

	p.conf, p.confPath, err = conf.Load(p.confPath, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	if cli.ServerURL != "" {
		p.conf.ServerURL = cli.ServerURL
	}
	if cli.NodeID != "" {
		p.conf.NodeID = cli.NodeID
	}

	err = p.createResources(true)
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources(nil)
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
func (p *Core) Wait() {
	<-p.done
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

// Worker returns workers in round robin order. Implements
// cluster.WorkerProvider.
func (p *Core) Worker() *mediasoup.Worker {
	i := atomic.AddUint32(&p.workerIndex, 1)
	return p.workers[int(i)%len(p.workers)]
}

func (p *Core) run() {
	defer close(p.done)

	confChanged := func() chan struct{} {
		if p.confWatcher != nil {
			return p.confWatcher.Watch()
		}
		return make(chan struct{})
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

outer:
	for {
		select {
		case <-confChanged:
			p.Log(logger.Info, "reloading configuration (file changed)")

			newConf, _, err := conf.Load(p.confPath, nil)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

			err = p.reloadConf(newConf)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

		case err := <-p.chWorkerDied:
			p.Log(logger.Error, "worker died: %s", err)
			break outer

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			break outer

		case <-p.ctx.Done():
			break outer
		}
	}

	p.ctxCancel()

	p.closeResources(nil)
}

func (p *Core) createResources(initial bool) error {
	var err error

	if p.logger == nil {
		p.logger = &logger.Logger{
			Level:        logger.Level(p.conf.LogLevel),
			Destinations: p.conf.LogDestinations.ToDestinations(),
			File:         p.conf.LogFile,
			SysLogPrefix: p.conf.SysLogPrefix,
		}
		err = p.logger.Initialize()
		if err != nil {
			return err
		}
	}

	if initial {
		p.Log(logger.Info, "rainstream %s", version)
		if p.confPath == "" {
			p.Log(logger.Warn, "configuration file not found, using defaults")
		}

		// on Linux, try to raise the number of file descriptors that can be opened
		// to allow the maximum possible number of clients
		// do not check for errors
		rlimit.Raise() //nolint:errcheck

		gin.SetMode(gin.ReleaseMode)
	}

	if p.workers == nil {
		workerArgs := p.conf.WorkerArgs()

		for i := 0; i < p.conf.WorkerCount; i++ {
			var w *mediasoup.Worker
			w, err = mediasoup.NewWorker(&mediasoup.WorkerSettings{
				WorkerBin:           workerArgs[0],
				ExtraArgs:           workerArgs[1:],
				LogLevel:            p.conf.WorkerLogLevel,
				LogTags:             p.conf.WorkerLogTags.ToStrings(),
				RTCMinPort:          p.conf.RTCMinPort,
				RTCMaxPort:          p.conf.RTCMaxPort,
				DTLSCertificateFile: p.conf.DTLSCertificateFile,
				DTLSPrivateKeyFile:  p.conf.DTLSPrivateKeyFile,
				RequestTimeout:      time.Duration(p.conf.RequestTimeout),
				MaxMessageSize:      uint32(p.conf.ChannelMaxMessageSize),
				Parent:              p,
			})
			if err != nil {
				return err
			}

			w.On("died", func(derr mediasoup.WorkerDiedError) {
				select {
				case p.chWorkerDied <- derr:
				default:
				}
			})

			p.workers = append(p.workers, w)
		}

		p.Log(logger.Info, "%d media workers started", len(p.workers))
	}

	if p.conf.Cluster && p.cluster == nil {
		p.cluster = &cluster.Server{
			Address:        p.conf.ClusterAddress,
			Encryption:     p.conf.ClusterEncryption,
			ServerKey:      p.conf.ClusterServerKey,
			ServerCert:     p.conf.ClusterServerCert,
			ReadTimeout:    time.Duration(p.conf.ReadTimeout),
			RequestTimeout: time.Duration(p.conf.RequestTimeout),
			RoomOptions: cluster.RoomOptions{
				MediaCodecs:                     p.conf.MediaCodecs,
				ListenIps:                       p.conf.ListenIPs,
				InitialAvailableOutgoingBitrate: p.conf.InitialAvailableOutgoingBitrate,
				MaxIncomingBitrate:              p.conf.MaxIncomingBitrate,
				MaxSctpMessageSize:              p.conf.MaxSctpMessageSize,
				AudioLevelObserver:              p.conf.AudioLevelObserver,
			},
			Workers: p,
			Parent:  p,
		}
		err = p.cluster.Initialize()
		if err != nil {
			return err
		}
	}

	if p.conf.ServerURL != "" && p.media == nil {
		var stats media.StatsProvider
		if p.cluster != nil {
			stats = p.cluster
		}

		p.media = &media.Server{
			ServerURL:      p.conf.ServerURL,
			NodeID:         p.conf.NodeID,
			Capacity:       p.conf.WorkerCount * peersPerWorker,
			ReportInterval: time.Duration(p.conf.ReportInterval),
			Stats:          stats,
			Parent:         p,
		}
		err = p.media.Initialize()
		if err != nil {
			return err
		}
	}

	if p.conf.API && p.api == nil {
		p.api = &api.API{
			Version:       version,
			Started:       time.Now(),
			NodeID:        p.conf.NodeID,
			Address:       p.conf.APIAddress,
			ReadTimeout:   time.Duration(p.conf.ReadTimeout),
			Conf:          p.conf,
			ClusterServer: p,
			Parent:        p,
		}
		err = p.api.Initialize()
		if err != nil {
			return err
		}
	}

	if p.conf.PPROF && p.pprof == nil {
		p.pprof = &pprof.PPROF{
			Address:     p.conf.PPROFAddress,
			ReadTimeout: time.Duration(p.conf.ReadTimeout),
			Parent:      p,
		}
		err = p.pprof.Initialize()
		if err != nil {
			return err
		}
	}

	if initial && p.confPath != "" {
		p.confWatcher = &confwatcher.ConfWatcher{FilePath: p.confPath}
		err = p.confWatcher.Initialize()
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Core) closeResources(newConf *conf.Conf) {
	closeLogger := newConf == nil ||
		newConf.LogLevel != p.conf.LogLevel ||
		!reflect.DeepEqual(newConf.LogDestinations, p.conf.LogDestinations) ||
		newConf.LogFile != p.conf.LogFile

	closeWorkers := newConf == nil ||
		newConf.WorkerCommand != p.conf.WorkerCommand ||
		newConf.WorkerCount != p.conf.WorkerCount ||
		newConf.WorkerLogLevel != p.conf.WorkerLogLevel ||
		!reflect.DeepEqual(newConf.WorkerLogTags, p.conf.WorkerLogTags) ||
		newConf.RTCMinPort != p.conf.RTCMinPort ||
		newConf.RTCMaxPort != p.conf.RTCMaxPort ||
		newConf.DTLSCertificateFile != p.conf.DTLSCertificateFile ||
		newConf.DTLSPrivateKeyFile != p.conf.DTLSPrivateKeyFile

	closeCluster := newConf == nil ||
		newConf.Cluster != p.conf.Cluster ||
		newConf.ClusterAddress != p.conf.ClusterAddress ||
		newConf.ClusterEncryption != p.conf.ClusterEncryption ||
		newConf.ClusterServerKey != p.conf.ClusterServerKey ||
		newConf.ClusterServerCert != p.conf.ClusterServerCert ||
		newConf.ReadTimeout != p.conf.ReadTimeout ||
		newConf.RequestTimeout != p.conf.RequestTimeout ||
		!reflect.DeepEqual(newConf.MediaCodecs, p.conf.MediaCodecs) ||
		!reflect.DeepEqual(newConf.ListenIPs, p.conf.ListenIPs) ||
		newConf.InitialAvailableOutgoingBitrate != p.conf.InitialAvailableOutgoingBitrate ||
		newConf.MaxIncomingBitrate != p.conf.MaxIncomingBitrate ||
		newConf.MaxSctpMessageSize != p.conf.MaxSctpMessageSize ||
		newConf.AudioLevelObserver != p.conf.AudioLevelObserver ||
		closeWorkers

	closeMedia := newConf == nil ||
		newConf.ServerURL != p.conf.ServerURL ||
		newConf.NodeID != p.conf.NodeID ||
		newConf.WorkerCount != p.conf.WorkerCount ||
		newConf.ReportInterval != p.conf.ReportInterval ||
		closeCluster

	closeAPI := newConf == nil ||
		newConf.API != p.conf.API ||
		newConf.APIAddress != p.conf.APIAddress ||
		newConf.ReadTimeout != p.conf.ReadTimeout ||
		closeCluster

	closePPROF := newConf == nil ||
		newConf.PPROF != p.conf.PPROF ||
		newConf.PPROFAddress != p.conf.PPROFAddress ||
		newConf.ReadTimeout != p.conf.ReadTimeout

	if newConf == nil && p.confWatcher != nil {
		p.confWatcher.Close()
		p.confWatcher = nil
	}

	if closeAPI && p.api != nil {
		p.api.Close()
		p.api = nil
	} else if p.api != nil && newConf != nil {
		p.api.ReloadConf(newConf)
	}

	if closePPROF && p.pprof != nil {
		p.pprof.Close()
		p.pprof = nil
	}

	if closeMedia && p.media != nil {
		p.media.Close()
		p.media = nil
	}

	if closeCluster && p.cluster != nil {
		p.cluster.Close()
		p.cluster = nil
	}

	if closeWorkers && p.workers != nil {
		for _, w := range p.workers {
			w.Close()
		}
		p.workers = nil
	}

	if closeLogger && p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

func (p *Core) reloadConf(newConf *conf.Conf) error {
	p.closeResources(newConf)
	p.conf = newConf
	return p.createResources(false)
}

// APIRoomsList implements the api cluster interface.
func (p *Core) APIRoomsList() ([]cluster.APIRoom, error) {
	if p.cluster == nil {
		return nil, fmt.Errorf("cluster server is disabled")
	}
	return p.cluster.APIRoomsList()
}

// APIRoomsGet implements the api cluster interface.
func (p *Core) APIRoomsGet(roomId string) (cluster.APIRoom, error) {
	if p.cluster == nil {
		return cluster.APIRoom{}, fmt.Errorf("cluster server is disabled")
	}
	return p.cluster.APIRoomsGet(roomId)
}

// APIRoomsKick implements the api cluster interface.
func (p *Core) APIRoomsKick(roomId string, peerId string) error {
	if p.cluster == nil {
		return fmt.Errorf("cluster server is disabled")
	}
	return p.cluster.APIRoomsKick(roomId, peerId)
}
