// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/RainStream/rainstream-server/internal/conf/env"
	"github.com/RainStream/rainstream-server/internal/conf/jsonwrapper"
	"github.com/RainStream/rainstream-server/internal/conf/yamlwrapper"
	"github.com/RainStream/rainstream-server/internal/logger"
	"github.com/RainStream/rainstream-server/internal/mediasoup"
)

// Conf is a configuration.
// WARNING: Avoid using slices directly due to https://github.com/golang/go/issues/21092
type Conf struct {
	// General
	LogLevel          LogLevel        `json:"logLevel"`
	LogDestinations   LogDestinations `json:"logDestinations"`
	LogFile           string          `json:"logFile"`
	SysLogPrefix      string          `json:"sysLogPrefix"`
	ReadTimeout       Duration        `json:"readTimeout"`
	WriteTimeout      Duration        `json:"writeTimeout"`
	RequestTimeout    Duration        `json:"requestTimeout"`

	// Workers
	WorkerCommand         string        `json:"workerCommand"`
	WorkerCount           int           `json:"workerCount"`
	WorkerLogLevel        string        `json:"workerLogLevel"`
	WorkerLogTags         WorkerLogTags `json:"workerLogTags"`
	RTCMinPort            uint16        `json:"rtcMinPort"`
	RTCMaxPort            uint16        `json:"rtcMaxPort"`
	DTLSCertificateFile   string        `json:"dtlsCertificateFile"`
	DTLSPrivateKeyFile    string        `json:"dtlsPrivateKeyFile"`
	ChannelMaxMessageSize StringSize    `json:"channelMaxMessageSize"`

	// Routers
	MediaCodecs                     []*mediasoup.RtpCodecCapability `json:"mediaCodecs"`
	ListenIPs                       []mediasoup.TransportListenIp   `json:"listenIPs"`
	InitialAvailableOutgoingBitrate uint32                          `json:"initialAvailableOutgoingBitrate"`
	MaxIncomingBitrate              uint32                          `json:"maxIncomingBitrate"`
	MaxSctpMessageSize              uint32                          `json:"maxSctpMessageSize"`
	AudioLevelObserver              bool                            `json:"audioLevelObserver"`

	// Cluster server
	Cluster           bool   `json:"cluster"`
	ClusterAddress    string `json:"clusterAddress"`
	ClusterEncryption bool   `json:"clusterEncryption"`
	ClusterServerKey  string `json:"clusterServerKey"`
	ClusterServerCert string `json:"clusterServerCert"`

	// Coordinator link
	ServerURL      string   `json:"serverURL"`
	NodeID         string   `json:"nodeID"`
	ReportInterval Duration `json:"reportInterval"`

	// API
	API        bool   `json:"api"`
	APIAddress string `json:"apiAddress"`

	// PPROF
	PPROF        bool   `json:"pprof"`
	PPROFAddress string `json:"pprofAddress"`
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{LogDestination(logger.DestinationStdout)}
	conf.LogFile = "rainstream.log"
	conf.SysLogPrefix = "rainstream"
	conf.ReadTimeout = 10 * Duration(time.Second)
	conf.WriteTimeout = 10 * Duration(time.Second)
	conf.RequestTimeout = 20 * Duration(time.Second)

	// Workers
	conf.WorkerCommand = "mediasoup-worker"
	conf.WorkerCount = runtime.NumCPU()
	conf.WorkerLogLevel = "warn"
	conf.WorkerLogTags = WorkerLogTags{"info", "ice", "dtls", "rtp", "srtp", "rtcp"}
	conf.RTCMinPort = 10000
	conf.RTCMaxPort = 59999
	conf.ChannelMaxMessageSize = 4 * 1024 * 1024

	// Routers
	conf.MediaCodecs = defaultMediaCodecs()
	conf.ListenIPs = []mediasoup.TransportListenIp{{
		Ip: "0.0.0.0",
	}}
	conf.InitialAvailableOutgoingBitrate = 1000000
	conf.MaxIncomingBitrate = 1500000
	conf.MaxSctpMessageSize = 262144
	conf.AudioLevelObserver = true

	// Cluster server
	conf.Cluster = true
	conf.ClusterAddress = ":4443"

	// Coordinator link
	conf.ReportInterval = 30 * Duration(time.Second)

	// API
	conf.APIAddress = "127.0.0.1:9997"

	// PPROF
	conf.PPROFAddress = "127.0.0.1:9999"
}

func defaultMediaCodecs() []*mediasoup.RtpCodecCapability {
	return []*mediasoup.RtpCodecCapability{
		{
			Kind:      mediasoup.MediaKind_Audio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      mediasoup.MediaKind_Video,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			Parameters: mediasoup.RtpCodecSpecificParameters{
				XGoogleStartBitrate: 1000,
			},
		},
		{
			Kind:      mediasoup.MediaKind_Video,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: mediasoup.RtpCodecSpecificParameters{
				RtpParameter: mediasoup.RtpParameter{
					PacketizationMode:     1,
					ProfileLevelId:        "4d0032",
					LevelAsymmetryAllowed: 1,
				},
				XGoogleStartBitrate: 1000,
			},
		},
	}
}

// Load loads a configuration file.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load("RAINSTREAM", conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		// find first default path that exists
		for _, pa := range defaultConfPaths {
			if _, err := os.Stat(pa); err == nil {
				fpath = pa
				break
			}
		}

		// when the configuration file is not explicitly set,
		// it is optional. Load defaults.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	err = conf.UnmarshalJSON(nil) // load defaults
	if err != nil {
		return "", err
	}

	err = yamlwrapper.Unmarshal(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// UnmarshalJSON implements json.Unmarshaler. It is used to
// load defaults before every unmarshaling.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	if b != nil {
		type alias Conf
		if err := jsonwrapper.Unmarshal(b, (*alias)(conf)); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	// General
	if conf.ReadTimeout <= 0 {
		return fmt.Errorf("'readTimeout' must be greater than zero")
	}
	if conf.WriteTimeout <= 0 {
		return fmt.Errorf("'writeTimeout' must be greater than zero")
	}
	if conf.RequestTimeout <= 0 {
		return fmt.Errorf("'requestTimeout' must be greater than zero")
	}

	// Workers
	if conf.WorkerCount <= 0 {
		return fmt.Errorf("'workerCount' must be greater than zero")
	}
	if _, err := shellquote.Split(conf.WorkerCommand); err != nil {
		return fmt.Errorf("invalid 'workerCommand': %w", err)
	}
	switch conf.WorkerLogLevel {
	case "debug", "warn", "error", "none":
	default:
		return fmt.Errorf("invalid 'workerLogLevel': '%s'", conf.WorkerLogLevel)
	}
	if conf.RTCMinPort >= conf.RTCMaxPort {
		return fmt.Errorf("'rtcMinPort' must be lower than 'rtcMaxPort'")
	}
	if conf.ChannelMaxMessageSize == 0 {
		return fmt.Errorf("'channelMaxMessageSize' must be greater than zero")
	}

	// Routers
	if len(conf.MediaCodecs) == 0 {
		return fmt.Errorf("at least one entry in 'mediaCodecs' is required")
	}
	if len(conf.ListenIPs) == 0 {
		return fmt.Errorf("at least one entry in 'listenIPs' is required")
	}

	// Cluster server
	if conf.ClusterEncryption {
		if conf.ClusterServerKey == "" {
			return fmt.Errorf("'clusterServerKey' is required when encryption is enabled")
		}
		if conf.ClusterServerCert == "" {
			return fmt.Errorf("'clusterServerCert' is required when encryption is enabled")
		}
	}

	return nil
}

// WorkerArgs returns the worker command split into executable and arguments.
func (conf *Conf) WorkerArgs() []string {
	parts, _ := shellquote.Split(conf.WorkerCommand)
	return parts
}
