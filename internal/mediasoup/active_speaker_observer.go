package mediasoup

import (
	"encoding/json"

	"github.com/RainStream/rainstream-server/internal/logger"
)

// ActiveSpeakerObserverOptions configure a new ActiveSpeakerObserver.
type ActiveSpeakerObserverOptions struct {
	// Interval between dominant speaker evaluations in milliseconds.
	Interval int `json:"interval,omitempty"`

	AppData H `json:"appData,omitempty"`
}

// ActiveSpeakerObserver reports the dominant speaker among the audio
// producers added to it.
//
// @emits dominantspeaker (producerId string)
type ActiveSpeakerObserver struct {
	*RtpObserver
}

func newActiveSpeakerObserver(params rtpObserverParams) *ActiveSpeakerObserver {
	o := &ActiveSpeakerObserver{
		RtpObserver: newRtpObserver(params),
	}

	o.handleWorkerNotifications()

	return o
}

func (o *ActiveSpeakerObserver) handleWorkerNotifications() {
	o.channel.On(o.id, func(event string, data []byte) {
		switch event {
		case "dominantspeaker":
			var resp struct {
				ProducerId string `json:"producerId"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				o.Log(logger.Error, "invalid dominant speaker notification: %v", err)
				return
			}
			o.SafeEmit("dominantspeaker", resp.ProducerId)

		default:
			o.Log(logger.Error, "ignoring unknown active speaker observer event '%s'", event)
		}
	})
}
