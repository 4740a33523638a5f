// Package media owns the WebRTC side of a call: device capture, peer
// connection setup and SDP/ICE negotiation. Signaling frames are exchanged
// through a caller-provided SignalFunc; the package never talks to the
// network channel directly.
package media

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/config"
)

// Engine builds media sessions from the configured STUN and capture settings.
type Engine struct {
	cfg config.Media
}

func NewEngine(cfg config.Media) *Engine {
	return &Engine{cfg: cfg}
}

// NewSession creates a peer connection for a call with the given peer.
// Capture failures are reported through the session's AcquireErr and do not
// prevent the session from being created; the connection falls back to
// receive-only.
func (e *Engine) NewSession(peerID string, signal SignalFunc) (*Session, error) {
	pc, cleanup, acqErr := newPeerConnection(e.cfg)
	if pc == nil {
		return nil, acqErr
	}
	if acqErr != nil {
		log.Warn().Err(acqErr).Str("peer", peerID).Msg("media: continuing receive-only")
	}
	return newSession(peerID, pc, cleanup, signal, acqErr), nil
}

func iceServers(cfg config.Media) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, url := range cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return servers
}

// addRecvOnlyTransceivers ensures the SDP carries audio and video m-lines
// with ICE credentials even when no local track was captured.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Warn().Err(err).Stringer("kind", kind).Msg("media: add recvonly transceiver")
		}
	}
}
