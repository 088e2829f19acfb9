package mediasoup

import (
	"strings"

	"github.com/jinzhu/copier"
	"github.com/pion/randutil"
)

var rng = randutil.NewMathRandomGenerator()

// generateSsrc returns a random SSRC in the range mediasoup uses.
func generateSsrc() uint32 {
	return 100000000 + rng.Uint32()%900000000
}

var dynamicPayloadTypes = []byte{
	100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111, 112, 113,
	114, 115, 116, 117, 118, 119, 120, 121, 122, 123, 124, 125, 126, 127,
	96, 97, 98, 99,
}

var supportedRtpCapabilities = RtpCapabilities{
	Codecs: []*RtpCodecCapability{
		{
			Kind:      MediaKind_Audio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:                 MediaKind_Audio,
			MimeType:             "audio/PCMU",
			PreferredPayloadType: 0,
			ClockRate:            8000,
		},
		{
			Kind:                 MediaKind_Audio,
			MimeType:             "audio/PCMA",
			PreferredPayloadType: 8,
			ClockRate:            8000,
		},
		{
			Kind:                 MediaKind_Audio,
			MimeType:             "audio/G722",
			PreferredPayloadType: 9,
			ClockRate:            8000,
		},
		{
			Kind:      MediaKind_Audio,
			MimeType:  "audio/telephone-event",
			ClockRate: 48000,
		},
		{
			Kind:      MediaKind_Audio,
			MimeType:  "audio/telephone-event",
			ClockRate: 8000,
		},
		{
			Kind:      MediaKind_Video,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
		{
			Kind:      MediaKind_Video,
			MimeType:  "video/VP9",
			ClockRate: 90000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
		{
			Kind:      MediaKind_Video,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: RtpCodecSpecificParameters{
				RtpParameter: RtpParameter{
					PacketizationMode:     1,
					LevelAsymmetryAllowed: 1,
				},
			},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
		{
			Kind:      MediaKind_Video,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: RtpCodecSpecificParameters{
				RtpParameter: RtpParameter{
					PacketizationMode:     0,
					LevelAsymmetryAllowed: 1,
				},
			},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
		{
			Kind:      MediaKind_Video,
			MimeType:  "video/H265",
			ClockRate: 90000,
			Parameters: RtpCodecSpecificParameters{
				RtpParameter: RtpParameter{
					PacketizationMode:     1,
					LevelAsymmetryAllowed: 1,
				},
			},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
	},
	HeaderExtensions: []*RtpHeaderExtension{
		{
			Kind:        MediaKind_Audio,
			Uri:         "urn:ietf:params:rtp-hdrext:sdes:mid",
			PreferredId: 1,
		},
		{
			Kind:        MediaKind_Video,
			Uri:         "urn:ietf:params:rtp-hdrext:sdes:mid",
			PreferredId: 1,
		},
		{
			Kind:        MediaKind_Video,
			Uri:         "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id",
			PreferredId: 2,
		},
		{
			Kind:        MediaKind_Video,
			Uri:         "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id",
			PreferredId: 3,
		},
		{
			Kind:        MediaKind_Audio,
			Uri:         "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time",
			PreferredId: 4,
		},
		{
			Kind:        MediaKind_Video,
			Uri:         "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time",
			PreferredId: 4,
		},
		{
			Kind:        MediaKind_Audio,
			Uri:         "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
			PreferredId: 5,
		},
		{
			Kind:        MediaKind_Video,
			Uri:         "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
			PreferredId: 5,
		},
		{
			Kind:        MediaKind_Audio,
			Uri:         "urn:ietf:params:rtp-hdrext:ssrc-audio-level",
			PreferredId: 10,
		},
		{
			Kind:        MediaKind_Video,
			Uri:         "urn:3gpp:video-orientation",
			PreferredId: 11,
		},
		{
			Kind:        MediaKind_Video,
			Uri:         "urn:ietf:params:rtp-hdrext:toffset",
			PreferredId: 12,
		},
	},
}

// GetSupportedRtpCapabilities returns a deep copy of the RTP
// capabilities supported by the media worker.
func GetSupportedRtpCapabilities() (rtpCapabilities RtpCapabilities) {
	copier.CopyWithOption(&rtpCapabilities, &supportedRtpCapabilities, //nolint:errcheck
		copier.Option{DeepCopy: true})

	return
}

// generateRouterRtpCapabilities validates the configured media codecs
// and builds the capabilities of a Router: media codecs with assigned
// payload types, their RTX companions and the standard header
// extensions.
func generateRouterRtpCapabilities(mediaCodecs []*RtpCodecCapability) (RtpCapabilities, error) {
	if len(mediaCodecs) == 0 {
		return RtpCapabilities{}, NewTypeError("mediaCodecs cannot be empty")
	}

	supported := GetSupportedRtpCapabilities()

	caps := RtpCapabilities{
		HeaderExtensions: supported.HeaderExtensions,
	}

	usedPayloadTypes := map[byte]struct{}{}

	nextDynamicPayloadType := func() (byte, bool) {
		for _, pt := range dynamicPayloadTypes {
			if _, used := usedPayloadTypes[pt]; !used {
				usedPayloadTypes[pt] = struct{}{}
				return pt, true
			}
		}
		return 0, false
	}

	for _, mediaCodec := range mediaCodecs {
		if err := validateRtpCodecCapability(mediaCodec); err != nil {
			return RtpCapabilities{}, err
		}

		var matched *RtpCodecCapability
		for _, supportedCodec := range supported.Codecs {
			if matchCodecCapabilities(mediaCodec, supportedCodec) {
				matched = supportedCodec
				break
			}
		}
		if matched == nil {
			return RtpCapabilities{}, NewTypeError(
				"media codec not supported [mimeType:%s]", mediaCodec.MimeType)
		}

		codec := &RtpCodecCapability{}
		copier.CopyWithOption(codec, matched, copier.Option{DeepCopy: true}) //nolint:errcheck

		// the configuration may refine the fmtp parameters
		codec.Parameters = mergeCodecParameters(matched.Parameters, mediaCodec.Parameters)

		if codec.PreferredPayloadType == 0 && !strings.EqualFold(codec.MimeType, "audio/PCMU") {
			pt, ok := nextDynamicPayloadType()
			if !ok {
				return RtpCapabilities{}, NewTypeError("cannot allocate more dynamic payload types")
			}
			codec.PreferredPayloadType = pt
		} else {
			usedPayloadTypes[codec.PreferredPayloadType] = struct{}{}
		}

		caps.Codecs = append(caps.Codecs, codec)

		// add a RTX codec for video codecs
		if codec.Kind == MediaKind_Video {
			pt, ok := nextDynamicPayloadType()
			if !ok {
				return RtpCapabilities{}, NewTypeError("cannot allocate more dynamic payload types")
			}

			caps.Codecs = append(caps.Codecs, &RtpCodecCapability{
				Kind:                 codec.Kind,
				MimeType:             string(codec.Kind) + "/rtx",
				PreferredPayloadType: pt,
				ClockRate:            codec.ClockRate,
				Parameters: RtpCodecSpecificParameters{
					Apt: codec.PreferredPayloadType,
				},
			})
		}
	}

	return caps, nil
}

func validateRtpCodecCapability(codec *RtpCodecCapability) error {
	if codec.Kind != MediaKind_Audio && codec.Kind != MediaKind_Video {
		return NewTypeError("invalid codec kind '%s'", codec.Kind)
	}
	if !strings.HasPrefix(strings.ToLower(codec.MimeType), string(codec.Kind)+"/") {
		return NewTypeError("invalid codec mimeType '%s'", codec.MimeType)
	}
	if codec.ClockRate == 0 {
		return NewTypeError("missing codec clockRate")
	}
	return nil
}

// matchCodecCapabilities reports whether two codec capabilities refer
// to the same codec. The mime type comparison is case-insensitive.
func matchCodecCapabilities(a, b *RtpCodecCapability) bool {
	if !strings.EqualFold(a.MimeType, b.MimeType) {
		return false
	}
	if a.ClockRate != b.ClockRate {
		return false
	}

	if a.Kind == MediaKind_Audio {
		aChannels := a.Channels
		if aChannels == 0 {
			aChannels = 1
		}
		bChannels := b.Channels
		if bChannels == 0 {
			bChannels = 1
		}
		if aChannels != bChannels {
			return false
		}
	}

	// H264 requires the same packetization mode
	if strings.EqualFold(a.MimeType, "video/h264") &&
		a.Parameters.PacketizationMode != b.Parameters.PacketizationMode {
		return false
	}

	return true
}

func mergeCodecParameters(base, override RtpCodecSpecificParameters) RtpCodecSpecificParameters {
	out := base

	if override.ProfileLevelId != "" {
		out.ProfileLevelId = override.ProfileLevelId
	}
	if override.XGoogleStartBitrate != 0 {
		out.XGoogleStartBitrate = override.XGoogleStartBitrate
	}
	if override.XGoogleMaxBitrate != 0 {
		out.XGoogleMaxBitrate = override.XGoogleMaxBitrate
	}
	if override.XGoogleMinBitrate != 0 {
		out.XGoogleMinBitrate = override.XGoogleMinBitrate
	}
	if override.Useinbandfec != 0 {
		out.Useinbandfec = override.Useinbandfec
	}
	if override.Usedtx != 0 {
		out.Usedtx = override.Usedtx
	}

	return out
}

// matchCodecToCapability reports whether a codec of some RTP parameters
// is covered by a codec capability.
func matchCodecToCapability(codec *RtpCodecParameters, capCodec *RtpCodecCapability) bool {
	if !strings.EqualFold(codec.MimeType, capCodec.MimeType) {
		return false
	}
	if codec.ClockRate != capCodec.ClockRate {
		return false
	}

	if strings.HasPrefix(strings.ToLower(codec.MimeType), "audio/") {
		cChannels := codec.Channels
		if cChannels == 0 {
			cChannels = 1
		}
		capChannels := capCodec.Channels
		if capChannels == 0 {
			capChannels = 1
		}
		if cChannels != capChannels {
			return false
		}
	}

	if strings.EqualFold(codec.MimeType, "video/h264") &&
		codec.Parameters.PacketizationMode != capCodec.Parameters.PacketizationMode {
		return false
	}

	return true
}

// getConsumableRtpParameters builds the RTP parameters a Consumer of
// the given Producer can be fed with: the producer codecs remapped to
// the payload types of the router capabilities.
func getConsumableRtpParameters(params RtpParameters, caps RtpCapabilities) (RtpParameters, error) {
	consumable := RtpParameters{
		Rtcp: RtcpParameters{
			Cname:       params.Rtcp.Cname,
			ReducedSize: boolPtr(true),
			Mux:         boolPtr(true),
		},
	}

	for _, codec := range params.Codecs {
		if codec.isRtxCodec() {
			continue
		}

		var capCodec *RtpCodecCapability
		for _, c := range caps.Codecs {
			if !c.isRtxCodec() && matchCodecToCapability(codec, c) {
				capCodec = c
				break
			}
		}
		if capCodec == nil {
			return RtpParameters{}, NewTypeError(
				"unsupported codec [mimeType:%s, payloadType:%d]", codec.MimeType, codec.PayloadType)
		}

		consumable.Codecs = append(consumable.Codecs, &RtpCodecParameters{
			MimeType:     capCodec.MimeType,
			PayloadType:  capCodec.PreferredPayloadType,
			ClockRate:    capCodec.ClockRate,
			Channels:     capCodec.Channels,
			Parameters:   codec.Parameters,
			RtcpFeedback: capCodec.RtcpFeedback,
		})

		// associated RTX codec, if the router has one
		for _, c := range caps.Codecs {
			if c.isRtxCodec() && c.Parameters.Apt == capCodec.PreferredPayloadType {
				consumable.Codecs = append(consumable.Codecs, &RtpCodecParameters{
					MimeType:    c.MimeType,
					PayloadType: c.PreferredPayloadType,
					ClockRate:   c.ClockRate,
					Parameters:  c.Parameters,
				})
				break
			}
		}
	}

	if len(consumable.Codecs) == 0 {
		return RtpParameters{}, NewTypeError("no consumable codecs")
	}

	kind := MediaKind_Video
	if strings.HasPrefix(strings.ToLower(consumable.Codecs[0].MimeType), "audio/") {
		kind = MediaKind_Audio
	}

	for _, ext := range caps.HeaderExtensions {
		if ext.Kind != kind {
			continue
		}
		consumable.HeaderExtensions = append(consumable.HeaderExtensions, &RtpHeaderExtensionParameters{
			Uri: ext.Uri,
			Id:  ext.PreferredId,
		})
	}

	consumable.Encodings = params.Encodings

	return consumable, nil
}

// canConsume reports whether an endpoint with the given capabilities
// can receive media described by consumable RTP parameters.
func canConsume(consumableParams RtpParameters, caps RtpCapabilities) bool {
	for _, codec := range consumableParams.Codecs {
		if codec.isRtxCodec() {
			continue
		}
		for _, capCodec := range caps.Codecs {
			if !capCodec.isRtxCodec() && matchCodecToCapability(codec, capCodec) {
				return true
			}
		}
	}
	return false
}

// getConsumerRtpParameters builds the RTP parameters of a Consumer:
// the consumable codecs supported by the endpoint, the intersection of
// header extensions, and a single consolidated encoding.
func getConsumerRtpParameters(consumableParams RtpParameters, caps RtpCapabilities) (RtpParameters, error) {
	out := RtpParameters{
		Rtcp: consumableParams.Rtcp,
	}

	matchedMedia := map[byte]struct{}{}

	for _, codec := range consumableParams.Codecs {
		if codec.isRtxCodec() {
			if _, ok := matchedMedia[codec.Parameters.Apt]; ok {
				out.Codecs = append(out.Codecs, codec)
			}
			continue
		}

		for _, capCodec := range caps.Codecs {
			if !capCodec.isRtxCodec() && matchCodecToCapability(codec, capCodec) {
				out.Codecs = append(out.Codecs, codec)
				matchedMedia[codec.PayloadType] = struct{}{}
				break
			}
		}
	}

	if len(matchedMedia) == 0 {
		return RtpParameters{}, NewTypeError("no compatible media codecs")
	}

	capExtensions := map[string]struct{}{}
	for _, ext := range caps.HeaderExtensions {
		capExtensions[ext.Uri] = struct{}{}
	}
	for _, ext := range consumableParams.HeaderExtensions {
		if _, ok := capExtensions[ext.Uri]; ok {
			out.HeaderExtensions = append(out.HeaderExtensions, ext)
		}
	}

	encoding := &RtpEncodingParameters{
		Ssrc: generateSsrc(),
	}

	// consolidate simulcast or SVC sources into a single stream
	if len(consumableParams.Encodings) > 1 {
		encoding.ScalabilityMode = consumableParams.Encodings[0].ScalabilityMode
	}

	for _, codec := range out.Codecs {
		if codec.isRtxCodec() {
			encoding.Rtx = &RtpEncodingRtx{Ssrc: encoding.Ssrc + 1}
			break
		}
	}

	out.Encodings = []*RtpEncodingParameters{encoding}

	return out, nil
}

func boolPtr(v bool) *bool {
	return &v
}
