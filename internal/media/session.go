package media

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/proto"
)

// SignalFunc delivers an outbound SDP/ICE payload to the remote peer over
// the signaling channel.
type SignalFunc func(kind string, payload json.RawMessage) error

// EventType identifies a session lifecycle event.
type EventType string

const (
	// EventRemoteTrack fires when the remote peer's media arrives.
	EventRemoteTrack EventType = "remote-track"
	// EventConnected fires when the peer connection reaches connected state.
	EventConnected EventType = "connected"
	// EventClosed fires when the connection ends, cleanly or not.
	EventClosed EventType = "closed"
	// EventFailed fires when ICE gives up on the media path.
	EventFailed EventType = "failed"
)

// Event is a session lifecycle notification.
type Event struct {
	Type      EventType
	TrackKind string // set for EventRemoteTrack
}

// TrackStats counts inbound RTP for one media kind.
type TrackStats struct {
	Packets uint64
	Bytes   uint64
	LastSeq uint16
}

// counters accumulates RTP arrival stats for one direction of one kind.
type counters struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

func (c *counters) observe(pkt *rtp.Packet) {
	c.packets.Add(1)
	c.bytes.Add(uint64(pkt.MarshalSize()))
	c.lastSeq.Store(uint32(pkt.SequenceNumber))
}

func (c *counters) snapshot() TrackStats {
	return TrackStats{
		Packets: c.packets.Load(),
		Bytes:   c.bytes.Load(),
		LastSeq: uint16(c.lastSeq.Load()),
	}
}

const pliInterval = 3 * time.Second

// Session is the media leg of one call. It owns a PeerConnection, relays
// SDP/ICE through its SignalFunc and reports lifecycle changes on Events.
type Session struct {
	peerID  string
	pc      *webrtc.PeerConnection
	cleanup func()
	signal  SignalFunc
	acqErr  error

	events chan Event
	done   chan struct{}

	mu         sync.Mutex
	closed     bool
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	audioOn    bool
	videoOn    bool
	detached   map[*webrtc.RTPSender]webrtc.TrackLocal

	video counters
	audio counters
}

func newSession(peerID string, pc *webrtc.PeerConnection, cleanup func(), signal SignalFunc, acqErr error) *Session {
	s := &Session{
		peerID:   peerID,
		pc:       pc,
		cleanup:  cleanup,
		signal:   signal,
		acqErr:   acqErr,
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
		audioOn:  true,
		videoOn:  true,
		detached: map[*webrtc.RTPSender]webrtc.TrackLocal{},
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Warn().Err(err).Msg("media: marshal candidate")
			return
		}
		if err := s.signal(proto.KindRTCCandidate, payload); err != nil {
			log.Warn().Err(err).Str("peer", s.peerID).Msg("media: relay candidate")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", track.Kind().String()).Str("peer", s.peerID).Msg("media: remote track")
		s.emit(Event{Type: EventRemoteTrack, TrackKind: track.Kind().String()})

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go s.requestKeyframes(track)
		}
		go s.drainTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("peer", s.peerID).Str("state", state.String()).Msg("media: connection state")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.emit(Event{Type: EventConnected})
		case webrtc.PeerConnectionStateFailed:
			s.emit(Event{Type: EventFailed})
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.emit(Event{Type: EventClosed})
		}
	})

	return s
}

// AcquireErr returns the capture failure that left this session receive-only,
// or nil when local media was captured.
func (s *Session) AcquireErr() error { return s.acqErr }

// Events delivers session lifecycle notifications.
func (s *Session) Events() <-chan Event { return s.events }

// Offer starts negotiation from the caller side. ICE candidates trickle
// separately, so the offer is sent as soon as it is created.
func (s *Session) Offer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return &NegotiationError{Stage: "offer", Err: err}
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return &NegotiationError{Stage: "offer", Err: err}
	}
	payload, err := json.Marshal(s.pc.LocalDescription())
	if err != nil {
		return &NegotiationError{Stage: "offer", Err: err}
	}
	return s.signal(proto.KindRTCOffer, payload)
}

// HandleSignal routes an inbound rtc:* payload from the remote peer.
func (s *Session) HandleSignal(kind string, payload json.RawMessage) error {
	switch kind {
	case proto.KindRTCOffer:
		return s.handleOffer(payload)
	case proto.KindRTCAnswer:
		return s.handleAnswer(payload)
	case proto.KindRTCCandidate:
		return s.handleCandidate(payload)
	default:
		return &NegotiationError{Stage: kind, Err: errors.New("unexpected signal kind")}
	}
}

func (s *Session) handleOffer(payload json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return &NegotiationError{Stage: "answer", Err: err}
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return &NegotiationError{Stage: "answer", Err: err}
	}
	s.flushCandidates()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return &NegotiationError{Stage: "answer", Err: err}
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return &NegotiationError{Stage: "answer", Err: err}
	}
	out, err := json.Marshal(s.pc.LocalDescription())
	if err != nil {
		return &NegotiationError{Stage: "answer", Err: err}
	}
	return s.signal(proto.KindRTCAnswer, out)
}

func (s *Session) handleAnswer(payload json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return &NegotiationError{Stage: "answer", Err: err}
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return &NegotiationError{Stage: "answer", Err: err}
	}
	s.flushCandidates()
	return nil
}

// handleCandidate adds a trickled ICE candidate, buffering it when it
// arrives before the remote description.
func (s *Session) handleCandidate(payload json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &cand); err != nil {
		return &NegotiationError{Stage: "candidate", Err: err}
	}

	s.mu.Lock()
	if !s.remoteSet {
		s.candidates = append(s.candidates, cand)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(cand); err != nil {
		return &NegotiationError{Stage: "candidate", Err: err}
	}
	return nil
}

func (s *Session) flushCandidates() {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.candidates
	s.candidates = nil
	s.mu.Unlock()

	for _, cand := range pending {
		if err := s.pc.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("peer", s.peerID).Msg("media: buffered candidate")
		}
	}
}

// ToggleAudio flips local audio and returns the new muted state. With no
// local audio track held the session is already silent and stays muted.
func (s *Session) ToggleAudio() bool {
	if !s.hasLocalTrack(webrtc.RTPCodecTypeAudio) {
		return true
	}
	s.mu.Lock()
	s.audioOn = !s.audioOn
	muted := !s.audioOn
	s.mu.Unlock()
	s.setSenderTracks(webrtc.RTPCodecTypeAudio, !muted)
	return muted
}

// ToggleVideo flips local video and returns the new disabled state. With no
// local video track held the session stays disabled.
func (s *Session) ToggleVideo() bool {
	if !s.hasLocalTrack(webrtc.RTPCodecTypeVideo) {
		return true
	}
	s.mu.Lock()
	s.videoOn = !s.videoOn
	disabled := !s.videoOn
	s.mu.Unlock()
	s.setSenderTracks(webrtc.RTPCodecTypeVideo, !disabled)
	return disabled
}

// Muted reports whether local audio is off.
func (s *Session) Muted() bool {
	if !s.hasLocalTrack(webrtc.RTPCodecTypeAudio) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.audioOn
}

// VideoDisabled reports whether local video is off.
func (s *Session) VideoDisabled() bool {
	if !s.hasLocalTrack(webrtc.RTPCodecTypeVideo) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.videoOn
}

// hasLocalTrack reports whether a sender of the given kind holds a local
// track, attached or temporarily detached by a toggle.
func (s *Session) hasLocalTrack(kind webrtc.RTPCodecType) bool {
	for _, tr := range s.pc.GetTransceivers() {
		sender := tr.Sender()
		if sender == nil || tr.Kind() != kind {
			continue
		}
		if sender.Track() != nil {
			return true
		}
		s.mu.Lock()
		_, ok := s.detached[sender]
		s.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// setSenderTracks detaches or reattaches local tracks of the given kind.
// ReplaceTrack keeps the transceiver alive, so toggling does not require
// renegotiation. Detached tracks are remembered for reattachment.
func (s *Session) setSenderTracks(kind webrtc.RTPCodecType, on bool) {
	for _, tr := range s.pc.GetTransceivers() {
		sender := tr.Sender()
		if sender == nil || tr.Kind() != kind {
			continue
		}
		if on {
			s.mu.Lock()
			track := s.detached[sender]
			delete(s.detached, sender)
			s.mu.Unlock()
			if track == nil {
				continue
			}
			if err := sender.ReplaceTrack(track); err != nil {
				log.Warn().Err(err).Stringer("kind", kind).Msg("media: reattach track")
			}
		} else {
			track := sender.Track()
			if track == nil {
				continue
			}
			if err := sender.ReplaceTrack(nil); err != nil {
				log.Warn().Err(err).Stringer("kind", kind).Msg("media: detach track")
				continue
			}
			s.mu.Lock()
			s.detached[sender] = track
			s.mu.Unlock()
		}
	}
}

// Stats returns inbound RTP counters per media kind.
func (s *Session) Stats() (video, audio TrackStats) {
	return s.video.snapshot(), s.audio.snapshot()
}

// drainTrack consumes inbound RTP so the interceptors keep running and NACK
// feedback flows. Playout is the platform layer's concern, not this one.
func (s *Session) drainTrack(track *webrtc.TrackRemote) {
	ctr := &s.audio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		ctr = &s.video
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("peer", s.peerID).Msg("media: track read ended")
			}
			return
		}
		ctr.observe(pkt)
	}
}

// requestKeyframes sends an immediate PLI, then one every few seconds, so
// the remote encoder produces decodable video promptly after join or loss.
func (s *Session) requestKeyframes(track *webrtc.TrackRemote) {
	sendPLI := func() {
		err := s.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Debug().Err(err).Msg("media: PLI")
		}
	}
	sendPLI()

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sendPLI()
		case <-s.done:
			return
		}
	}
}

func (s *Session) emit(evt Event) {
	select {
	case s.events <- evt:
	default:
		log.Warn().Str("type", string(evt.Type)).Msg("media: event buffer full")
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if s.cleanup != nil {
		s.cleanup()
	}
	if err := s.pc.Close(); err != nil {
		log.Debug().Err(err).Str("peer", s.peerID).Msg("media: close peer connection")
	}
}
