//go:build linux && cgo

package media

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/config"
)

// newPeerConnection creates a PeerConnection with VP8+Opus codecs and
// attempts to capture local camera/mic via pion/mediadevices (V4L2 + malgo).
// Returns the PC, a cleanup func for local tracks (may be nil), and a non-nil
// *AcquisitionError when capture failed and the PC is receive-only.
func newPeerConnection(cfg config.Media) (*webrtc.PeerConnection, func(), error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = cfg.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// Generous ICE timeouts: the default 5 s disconnectedTimeout drops calls
	// on brief NAT or relay hiccups.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(cfg)})
	if err != nil {
		return nil, nil, err
	}

	// GetUserMedia fails as a unit if either requested track can't open.
	// Try video+audio first, then video-only, then audio-only, so a busy
	// microphone doesn't block the camera and vice versa.
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}
	if cfg.DisableVideo {
		attempts = []attempt{{false, true, "audio-only"}}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw frame formats only. Some cameras expose an MJPEG node
				// that produces malformed JPEG and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: cfg.VideoMaxWidth}
				c.Height = prop.IntRanged{Max: cfg.VideoMaxHeight}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("attempt", a.label).Msg("media: GetUserMedia failed")
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Debug().Err(err).Msg("media: local track ended")
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				log.Warn().Err(err).Msg("media: add local track")
			}
		}

		log.Info().Str("attempt", a.label).Int("tracks", len(tracks)).Msg("media: local capture ready")
		cleanup := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, cleanup, nil
	}

	// No local media at all. Keep the PC usable for receiving.
	addRecvOnlyTransceivers(pc)
	return pc, nil, &AcquisitionError{Err: lastErr}
}
