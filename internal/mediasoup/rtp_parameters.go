package mediasoup

import "strings"

// H is a generic JSON dictionary, used for appData and loosely
// structured request payloads.
type H map[string]interface{}

// MediaKind is the kind of a media stream.
type MediaKind string

// media kinds.
const (
	MediaKind_Audio MediaKind = "audio"
	MediaKind_Video MediaKind = "video"
)

// RtpCapabilities define what mediasoup or an endpoint can receive at
// media level.
type RtpCapabilities struct {
	Codecs           []*RtpCodecCapability `json:"codecs,omitempty"`
	HeaderExtensions []*RtpHeaderExtension `json:"headerExtensions,omitempty"`
	FecMechanisms    []string              `json:"fecMechanisms,omitempty"`
}

// RtpCodecCapability provides information on the capabilities of a codec.
type RtpCodecCapability struct {
	Kind                 MediaKind                  `json:"kind"`
	MimeType             string                     `json:"mimeType"`
	PreferredPayloadType byte                       `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32                     `json:"clockRate"`
	Channels             uint8                      `json:"channels,omitempty"`
	Parameters           RtpCodecSpecificParameters `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback             `json:"rtcpFeedback,omitempty"`
}

func (c RtpCodecCapability) isRtxCodec() bool {
	return strings.HasSuffix(strings.ToLower(c.MimeType), "/rtx")
}

// RtpHeaderExtension provides information on a RTP header extension.
type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind"`
	Uri              string    `json:"uri"`
	PreferredId      byte      `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

// RtpParameters describe a media stream received by mediasoup.
type RtpParameters struct {
	Mid              string                          `json:"mid,omitempty"`
	Codecs           []*RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []*RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []*RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                  `json:"rtcp,omitempty"`
}

// RtpCodecParameters provides information on codec settings within the
// RTP parameters.
type RtpCodecParameters struct {
	MimeType     string                     `json:"mimeType"`
	PayloadType  byte                       `json:"payloadType"`
	ClockRate    uint32                     `json:"clockRate"`
	Channels     uint8                      `json:"channels,omitempty"`
	Parameters   RtpCodecSpecificParameters `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback             `json:"rtcpFeedback,omitempty"`
}

func (c RtpCodecParameters) isRtxCodec() bool {
	return strings.HasSuffix(strings.ToLower(c.MimeType), "/rtx")
}

// RtpCodecSpecificParameters are the known fmtp parameters.
type RtpCodecSpecificParameters struct {
	RtpParameter
	ProfileId           string `json:"profile-id,omitempty"`
	Apt                 byte   `json:"apt,omitempty"`
	SpropStereo         uint8  `json:"sprop-stereo,omitempty"`
	Useinbandfec        uint8  `json:"useinbandfec,omitempty"`
	Usedtx              uint8  `json:"usedtx,omitempty"`
	Maxplaybackrate     uint32 `json:"maxplaybackrate,omitempty"`
	XGoogleStartBitrate uint32 `json:"x-google-start-bitrate,omitempty"`
	XGoogleMaxBitrate   uint32 `json:"x-google-max-bitrate,omitempty"`
	XGoogleMinBitrate   uint32 `json:"x-google-min-bitrate,omitempty"`
}

// RtpParameter holds the H264 related fmtp parameters.
type RtpParameter struct {
	PacketizationMode     uint8  `json:"packetization-mode,omitempty"`
	ProfileLevelId        string `json:"profile-level-id,omitempty"`
	LevelAsymmetryAllowed uint8  `json:"level-asymmetry-allowed,omitempty"`
}

// RtcpFeedback provides information on RTCP feedback messages for a
// specific codec.
type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpHeaderExtensionParameters defines a RTP header extension within
// the RTP parameters.
type RtpHeaderExtensionParameters struct {
	Uri        string `json:"uri"`
	Id         byte   `json:"id"`
	Encrypt    bool   `json:"encrypt,omitempty"`
	Parameters H      `json:"parameters,omitempty"`
}

// RtpEncodingParameters provides information relating to an encoding,
// which represents a media RTP stream and its associated RTX stream
// (if any).
type RtpEncodingParameters struct {
	Ssrc                  uint32          `json:"ssrc,omitempty"`
	Rid                   string          `json:"rid,omitempty"`
	CodecPayloadType      byte            `json:"codecPayloadType,omitempty"`
	Rtx                   *RtpEncodingRtx `json:"rtx,omitempty"`
	Dtx                   bool            `json:"dtx,omitempty"`
	ScalabilityMode       string          `json:"scalabilityMode,omitempty"`
	ScaleResolutionDownBy float64         `json:"scaleResolutionDownBy,omitempty"`
	MaxBitrate            uint32          `json:"maxBitrate,omitempty"`
}

// RtpEncodingRtx represents the associated RTX stream for RTP stream.
type RtpEncodingRtx struct {
	Ssrc uint32 `json:"ssrc"`
}

// RtcpParameters provides information on RTCP settings.
type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize *bool  `json:"reducedSize,omitempty"`
	Mux         *bool  `json:"mux,omitempty"`
}
