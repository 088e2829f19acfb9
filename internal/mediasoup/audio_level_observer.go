package mediasoup

import (
	"encoding/json"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// AudioLevelObserverOptions configure a new AudioLevelObserver.
type AudioLevelObserverOptions struct {
	// MaxEntries is the maximum number of producers reported per
	// volumes notification.
	MaxEntries int `json:"maxEntries,omitempty"`

	// Threshold in dBvo below which a producer counts as silent,
	// from -127 to 0.
	Threshold int `json:"threshold,omitempty"`

	// Interval between notifications in milliseconds.
	Interval int `json:"interval,omitempty"`

	AppData H `json:"appData,omitempty"`
}

// AudioLevelObserverVolume pairs a producer with its audio level.
type AudioLevelObserverVolume struct {
	ProducerId string `json:"producerId"`
	Volume     int    `json:"volume"`
}

// AudioLevelObserver reports the loudest audio producers added to it.
//
// @emits volumes (volumes []AudioLevelObserverVolume)
// @emits silence
type AudioLevelObserver struct {
	*RtpObserver
}

func newAudioLevelObserver(params rtpObserverParams) *AudioLevelObserver {
	o := &AudioLevelObserver{
		RtpObserver: newRtpObserver(params),
	}

	o.handleWorkerNotifications()

	return o
}

func (o *AudioLevelObserver) handleWorkerNotifications() {
	o.channel.On(o.id, func(event string, data []byte) {
		switch event {
		case "volumes":
			var volumes []AudioLevelObserverVolume
			if err := json.Unmarshal(data, &volumes); err != nil {
				o.Log(logger.Error, "invalid volumes notification: %v", err)
				return
			}
			if len(volumes) > 0 {
				o.SafeEmit("volumes", volumes)
			}

		case "silence":
			o.SafeEmit("silence")

		default:
			o.Log(logger.Error, "ignoring unknown audio level observer event '%s'", event)
		}
	})
}
