package mediasoup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateRouterRtpCapabilities(t *testing.T) {
	caps, err := generateRouterRtpCapabilities([]*RtpCodecCapability{
		{
			Kind:      MediaKind_Audio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      MediaKind_Video,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: RtpCodecSpecificParameters{
				RtpParameter: RtpParameter{
					PacketizationMode: 1,
					ProfileLevelId:    "4d0032",
				},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, caps.Codecs, 3)

	require.Equal(t, byte(100), caps.Codecs[0].PreferredPayloadType)

	h264 := caps.Codecs[1]
	require.Equal(t, "video/H264", h264.MimeType)
	require.Equal(t, byte(101), h264.PreferredPayloadType)
	require.Equal(t, uint8(1), h264.Parameters.PacketizationMode)
	require.Equal(t, "4d0032", h264.Parameters.ProfileLevelId)

	rtx := caps.Codecs[2]
	require.Equal(t, "video/rtx", rtx.MimeType)
	require.Equal(t, byte(101), rtx.Parameters.Apt)
}

func TestGenerateRouterRtpCapabilitiesErrors(t *testing.T) {
	_, err := generateRouterRtpCapabilities(nil)
	require.EqualError(t, err, "mediaCodecs cannot be empty")

	_, err = generateRouterRtpCapabilities([]*RtpCodecCapability{{
		Kind:      MediaKind_Audio,
		MimeType:  "audio/unknown-codec",
		ClockRate: 48000,
	}})
	require.EqualError(t, err, "media codec not supported [mimeType:audio/unknown-codec]")

	_, err = generateRouterRtpCapabilities([]*RtpCodecCapability{{
		Kind:      "document",
		MimeType:  "audio/opus",
		ClockRate: 48000,
	}})
	require.IsType(t, TypeError{}, err)
}

func TestGenerateRouterRtpCapabilitiesKeepsStaticPayloadTypes(t *testing.T) {
	caps, err := generateRouterRtpCapabilities([]*RtpCodecCapability{{
		Kind:      MediaKind_Audio,
		MimeType:  "audio/PCMU",
		ClockRate: 8000,
	}})
	require.NoError(t, err)
	require.Len(t, caps.Codecs, 1)
	require.Equal(t, byte(0), caps.Codecs[0].PreferredPayloadType)
}

func TestGetSupportedRtpCapabilitiesIsACopy(t *testing.T) {
	caps := GetSupportedRtpCapabilities()
	caps.Codecs[0].ClockRate = 1234

	require.EqualValues(t, 48000, GetSupportedRtpCapabilities().Codecs[0].ClockRate)
}

func TestGetConsumableRtpParameters(t *testing.T) {
	routerCaps, err := generateRouterRtpCapabilities([]*RtpCodecCapability{
		{Kind: MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: MediaKind_Video, MimeType: "video/VP8", ClockRate: 90000},
	})
	require.NoError(t, err)

	params := RtpParameters{
		Codecs: []*RtpCodecParameters{
			{MimeType: "video/VP8", PayloadType: 112, ClockRate: 90000},
			{MimeType: "video/rtx", PayloadType: 113, ClockRate: 90000,
				Parameters: RtpCodecSpecificParameters{Apt: 112}},
		},
		Encodings: []*RtpEncodingParameters{{Ssrc: 1111}},
		Rtcp:      RtcpParameters{Cname: "video-1"},
	}

	consumable, err := getConsumableRtpParameters(params, routerCaps)
	require.NoError(t, err)
	require.Len(t, consumable.Codecs, 2)
	require.Equal(t, byte(101), consumable.Codecs[0].PayloadType)
	require.Equal(t, byte(102), consumable.Codecs[1].PayloadType)
	require.Equal(t, byte(101), consumable.Codecs[1].Parameters.Apt)
	require.Equal(t, "video-1", consumable.Rtcp.Cname)
	require.Equal(t, params.Encodings, consumable.Encodings)

	// only video header extensions
	for _, ext := range consumable.HeaderExtensions {
		require.NotEqual(t, "urn:ietf:params:rtp-hdrext:ssrc-audio-level", ext.Uri)
	}
}

func TestCanConsume(t *testing.T) {
	routerCaps, err := generateRouterRtpCapabilities([]*RtpCodecCapability{
		{Kind: MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	})
	require.NoError(t, err)

	params := RtpParameters{
		Codecs: []*RtpCodecParameters{
			{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
		},
		Encodings: []*RtpEncodingParameters{{Ssrc: 2222}},
	}

	consumable, err := getConsumableRtpParameters(params, routerCaps)
	require.NoError(t, err)

	require.True(t, canConsume(consumable, RtpCapabilities{
		Codecs: []*RtpCodecCapability{
			{Kind: MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		},
	}))

	require.False(t, canConsume(consumable, RtpCapabilities{
		Codecs: []*RtpCodecCapability{
			{Kind: MediaKind_Audio, MimeType: "audio/PCMA", PreferredPayloadType: 8, ClockRate: 8000},
		},
	}))
}

func TestGetConsumerRtpParametersSimulcast(t *testing.T) {
	routerCaps, err := generateRouterRtpCapabilities([]*RtpCodecCapability{
		{Kind: MediaKind_Video, MimeType: "video/VP8", ClockRate: 90000},
	})
	require.NoError(t, err)

	params := RtpParameters{
		Codecs: []*RtpCodecParameters{
			{MimeType: "video/VP8", PayloadType: 112, ClockRate: 90000},
		},
		Encodings: []*RtpEncodingParameters{
			{Ssrc: 1111, ScalabilityMode: "L1T3"},
			{Ssrc: 2222, ScalabilityMode: "L1T3"},
			{Ssrc: 3333, ScalabilityMode: "L1T3"},
		},
	}

	consumable, err := getConsumableRtpParameters(params, routerCaps)
	require.NoError(t, err)

	consumerParams, err := getConsumerRtpParameters(consumable, RtpCapabilities{
		Codecs: []*RtpCodecCapability{
			{Kind: MediaKind_Video, MimeType: "video/VP8", PreferredPayloadType: 101, ClockRate: 90000},
			{Kind: MediaKind_Video, MimeType: "video/rtx", PreferredPayloadType: 102, ClockRate: 90000,
				Parameters: RtpCodecSpecificParameters{Apt: 101}},
		},
	})
	require.NoError(t, err)

	// the simulcast streams consolidate into one encoding
	require.Len(t, consumerParams.Encodings, 1)
	require.Equal(t, "L1T3", consumerParams.Encodings[0].ScalabilityMode)
	require.NotNil(t, consumerParams.Encodings[0].Rtx)
}
