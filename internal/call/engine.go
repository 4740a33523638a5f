// Package call implements the call session state machine. One Engine tracks
// at most one call: Idle -> Dialing -> Connected for outbound calls,
// Idle -> Ringing -> Connected for inbound, always back to Idle.
//
// All signaling events and user operations are serialized through one mutex,
// so every handler runs to completion before the next one starts. Delayed
// work (ring timeout, duration ticks, media callbacks) captures the session
// epoch at arm time and is ignored if the session has moved on.
package call

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/chat"
	"github.com/petervdpas/peercall/internal/history"
	"github.com/petervdpas/peercall/internal/media"
	"github.com/petervdpas/peercall/internal/proto"
	"github.com/petervdpas/peercall/internal/roster"
)

var (
	// ErrBusy means a call is already in flight.
	ErrBusy = errors.New("call: busy")
	// ErrPeerOffline means the requested peer is not in the online roster.
	ErrPeerOffline = errors.New("call: peer offline")
	// ErrNotRinging means there is no inbound call to accept or reject.
	ErrNotRinging = errors.New("call: no ringing call")
	// ErrNoCall means there is no call to operate on.
	ErrNoCall = errors.New("call: no active call")
	// ErrNotConnected means chat requires a connected call.
	ErrNotConnected = errors.New("call: not connected")
	// ErrEmptyMessage rejects blank chat messages.
	ErrEmptyMessage = errors.New("call: empty message")
)

// Sender sends a signaling frame. Satisfied by signal.Channel.
type Sender interface {
	Send(kind string, payload any) error
}

// MediaSession is the media leg the engine drives. Satisfied by
// media.Session.
type MediaSession interface {
	Offer() error
	HandleSignal(kind string, payload json.RawMessage) error
	Events() <-chan media.Event
	ToggleAudio() bool
	ToggleVideo() bool
	Close()
}

// MediaFactory builds the media leg for a call with the given peer.
type MediaFactory func(peerID string, signal media.SignalFunc) (MediaSession, error)

// NoticeKind classifies user-facing call notifications.
type NoticeKind string

const (
	NoticeIncoming NoticeKind = "incoming"
	NoticeAccepted NoticeKind = "accepted"
	NoticeRejected NoticeKind = "rejected"
	NoticeMissed   NoticeKind = "missed"
	NoticeEnded    NoticeKind = "ended"
	NoticeError    NoticeKind = "error"
)

// Notice is a user-facing event the UI layer can surface.
type Notice struct {
	Kind NoticeKind
	Peer proto.User
	Text string
}

// Deps wires the engine to its collaborators.
type Deps struct {
	Send     Sender
	NewMedia MediaFactory
	Roster   *roster.Table
	Recorder *history.Recorder
	Thread   *chat.Thread
	Clock    clock.Clock

	// RingTimeout bounds how long an inbound call rings before it is
	// auto-rejected and logged as missed. Zero disables the timeout.
	RingTimeout time.Duration

	// Blocked, when set, suppresses inbound calls and chat from the given
	// user. Blocked callers receive call:rejected without ringing.
	Blocked func(userID string) bool
}

type pendingSignal struct {
	kind    string
	payload json.RawMessage
}

// Engine is the call session state machine.
type Engine struct {
	self proto.User
	deps Deps

	mu          sync.Mutex
	phase       Phase
	epoch       uint64
	peer        proto.User
	outbound    bool
	session     MediaSession
	pending     []pendingSignal
	durationSec int
	ringTimer   *clock.Timer

	notices chan Notice
}

func NewEngine(self proto.User, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Engine{
		self:    self,
		deps:    deps,
		phase:   PhaseIdle,
		notices: make(chan Notice, 16),
	}
}

// Notices delivers user-facing call notifications. Slow consumers lose
// notices rather than blocking the engine.
func (e *Engine) Notices() <-chan Notice { return e.notices }

// Phase returns the current call phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Peer returns the remote party of the in-flight call, if any.
func (e *Engine) Peer() (proto.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer, e.phase.Active()
}

// SetRingTimeout changes the inbound ring timeout for future calls.
func (e *Engine) SetRingTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deps.RingTimeout = d
}

// Outbound reports whether the in-flight call was placed locally.
func (e *Engine) Outbound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase.Active() && e.outbound
}

// DurationSec returns the elapsed seconds of the connected call.
func (e *Engine) DurationSec() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationSec
}

// Run consumes signaling events until the channel closes or ctx ends.
// Events are handled one at a time in arrival order.
func (e *Engine) Run(done <-chan struct{}, events <-chan proto.Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				e.onChannelLost()
				return
			}
			e.HandleEvent(evt)
		case <-done:
			return
		}
	}
}

// HandleEvent dispatches one inbound signaling event.
func (e *Engine) HandleEvent(evt proto.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch evt.Kind {
	case proto.KindUsersOnline:
		e.deps.Roster.Replace(evt.Roster)
		// Re-announce so the server's view of us stays fresh.
		if err := e.deps.Send.Send(proto.KindUserRefresh, e.self); err != nil {
			log.Debug().Err(err).Msg("call: roster refresh")
		}
	case proto.KindCallIncoming:
		e.handleIncoming(evt.Incoming)
	case proto.KindCallAccepted:
		e.handleAccepted(evt.Accepted)
	case proto.KindCallRejected:
		e.handleRejected(evt.Rejected)
	case proto.KindCallEnded:
		e.handleEnded(evt.Ended)
	case proto.KindMessageReceived:
		e.handleChat(evt.Chat)
	case proto.KindRTCOffer, proto.KindRTCAnswer, proto.KindRTCCandidate:
		e.handleRTC(evt.Kind, evt.RTC)
	}
}

func (e *Engine) handleIncoming(in *proto.CallIncoming) {
	if e.deps.Blocked != nil && e.deps.Blocked(in.From) {
		err := e.deps.Send.Send(proto.KindCallRejected, proto.CallAnswer{
			To: in.From, From: e.self.ID, FromName: e.self.DisplayName,
		})
		if err != nil {
			log.Warn().Err(err).Str("from", in.From).Msg("call: reject blocked caller")
		}
		log.Info().Str("from", in.From).Msg("call: rejected blocked caller")
		return
	}
	if e.phase != PhaseIdle {
		// Already busy; decline without disturbing the current call.
		err := e.deps.Send.Send(proto.KindCallRejected, proto.CallAnswer{
			To: in.From, From: e.self.ID, FromName: e.self.DisplayName,
		})
		if err != nil {
			log.Warn().Err(err).Str("from", in.From).Msg("call: auto-reject")
		}
		log.Info().Str("from", in.From).Stringer("phase", e.phase).Msg("call: auto-rejected while busy")
		return
	}

	e.epoch++
	e.phase = PhaseRinging
	e.outbound = false
	e.peer = proto.User{ID: in.From, DisplayName: in.FromName, PhotoURL: in.FromPhoto}
	e.pending = nil
	e.durationSec = 0
	e.deps.Thread.Clear()

	if e.deps.RingTimeout > 0 {
		epoch := e.epoch
		e.ringTimer = e.deps.Clock.AfterFunc(e.deps.RingTimeout, func() {
			e.onRingTimeout(epoch)
		})
	}

	log.Info().Str("from", in.From).Str("name", in.FromName).Msg("call: incoming")
	e.notify(Notice{Kind: NoticeIncoming, Peer: e.peer, Text: in.FromName + " is calling you"})
}

func (e *Engine) handleAccepted(ans *proto.CallAnswer) {
	if e.phase != PhaseDialing || ans.From != e.peer.ID {
		log.Debug().Str("from", ans.From).Stringer("phase", e.phase).Msg("call: stale accept dropped")
		return
	}

	e.connectLocked()
	e.deps.Recorder.Begin(e.self.ID, e.self.DisplayName, e.peer.ID, e.peer.DisplayName)
	log.Info().Str("peer", e.peer.ID).Msg("call: accepted by peer")
	e.notify(Notice{Kind: NoticeAccepted, Peer: e.peer, Text: ans.FromName + " has accepted your call"})
}

func (e *Engine) handleRejected(ans *proto.CallAnswer) {
	if e.phase != PhaseDialing || ans.From != e.peer.ID {
		log.Debug().Str("from", ans.From).Stringer("phase", e.phase).Msg("call: stale reject dropped")
		return
	}

	e.deps.Recorder.RecordRejected(e.self.ID, e.self.DisplayName, e.peer.ID, e.peer.DisplayName)
	peer := e.peer
	e.resetLocked()
	log.Info().Str("peer", peer.ID).Msg("call: rejected by peer")
	e.notify(Notice{Kind: NoticeRejected, Peer: peer, Text: ans.FromName + " has rejected your call"})
}

func (e *Engine) handleEnded(end *proto.CallEnded) {
	if end.From != "" && e.phase.Active() && end.From != e.peer.ID {
		return
	}

	switch e.phase {
	case PhaseConnected:
		e.deps.Recorder.Conclude(e.durationSec)
		peer := e.peer
		e.resetLocked()
		log.Info().Str("peer", peer.ID).Msg("call: ended by peer")
		e.notify(Notice{Kind: NoticeEnded, Peer: peer, Text: "The call has been ended"})
	case PhaseRinging:
		// Caller gave up before we answered.
		e.deps.Recorder.RecordMissed(e.peer.ID, e.peer.DisplayName, e.self.ID, e.self.DisplayName)
		peer := e.peer
		e.resetLocked()
		log.Info().Str("peer", peer.ID).Msg("call: caller hung up while ringing")
		e.notify(Notice{Kind: NoticeMissed, Peer: peer, Text: "Missed call from " + peer.DisplayName})
	case PhaseDialing:
		peer := e.peer
		e.resetLocked()
		e.notify(Notice{Kind: NoticeEnded, Peer: peer, Text: "The call has been ended"})
	}
}

func (e *Engine) handleChat(msg *proto.ChatMessage) {
	if e.phase != PhaseConnected || msg.SenderID != e.peer.ID {
		log.Debug().Str("sender", msg.SenderID).Msg("call: chat outside session dropped")
		return
	}
	e.deps.Thread.Append(chat.Message{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.Sender,
		Content:    msg.Content,
		Timestamp:  time.UnixMilli(msg.Timestamp),
	})
}

func (e *Engine) handleRTC(kind string, sig *proto.RTCSignal) {
	if !e.phase.Active() || sig.From != e.peer.ID {
		log.Debug().Str("kind", kind).Str("from", sig.From).Msg("call: stray rtc signal dropped")
		return
	}

	if e.session == nil {
		// Ringing: media is negotiated only after the user accepts.
		e.pending = append(e.pending, pendingSignal{kind: kind, payload: sig.Payload})
		return
	}
	if err := e.session.HandleSignal(kind, sig.Payload); err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("call: media negotiation")
		e.notify(Notice{Kind: NoticeError, Peer: e.peer, Text: "There was a problem connecting the call"})
	}
}

// PlaceCall starts an outbound call to an online peer.
func (e *Engine) PlaceCall(peerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseIdle {
		return ErrBusy
	}
	peer, ok := e.deps.Roster.Get(peerID)
	if !ok {
		return ErrPeerOffline
	}

	e.epoch++
	e.phase = PhaseDialing
	e.outbound = true
	e.peer = proto.User{ID: peer.ID, DisplayName: peer.DisplayName, PhotoURL: peer.PhotoURL}
	e.pending = nil
	e.durationSec = 0
	e.deps.Thread.Clear()

	session, err := e.deps.NewMedia(peerID, e.signalFunc(peerID))
	if err != nil {
		e.resetLocked()
		return err
	}
	e.session = session
	go e.watchMedia(e.epoch, session)

	err = e.deps.Send.Send(proto.KindCallRequest, proto.CallRequest{
		To:        peerID,
		From:      e.self.ID,
		FromName:  e.self.DisplayName,
		FromPhoto: e.self.PhotoURL,
	})
	if err != nil {
		e.resetLocked()
		return err
	}

	// Negotiation starts now; the callee holds our offer until they accept.
	if err := session.Offer(); err != nil {
		log.Warn().Err(err).Str("peer", peerID).Msg("call: initial offer")
	}

	log.Info().Str("peer", peerID).Msg("call: dialing")
	return nil
}

// AcceptCall answers the ringing inbound call.
func (e *Engine) AcceptCall() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseRinging {
		return ErrNotRinging
	}
	e.stopRingTimerLocked()

	session, err := e.deps.NewMedia(e.peer.ID, e.signalFunc(e.peer.ID))
	if err != nil {
		return err
	}
	e.session = session
	go e.watchMedia(e.epoch, session)

	err = e.deps.Send.Send(proto.KindCallAccepted, proto.CallAnswer{
		To: e.peer.ID, From: e.self.ID, FromName: e.self.DisplayName,
	})
	if err != nil {
		session.Close()
		e.session = nil
		return err
	}

	e.connectLocked()
	e.deps.Recorder.Begin(e.peer.ID, e.peer.DisplayName, e.self.ID, e.self.DisplayName)

	// Replay the offer and any candidates that arrived while ringing.
	for _, p := range e.pending {
		if err := session.HandleSignal(p.kind, p.payload); err != nil {
			log.Warn().Err(err).Str("kind", p.kind).Msg("call: buffered signal")
		}
	}
	e.pending = nil

	log.Info().Str("peer", e.peer.ID).Msg("call: accepted")
	return nil
}

// RejectCall declines the ringing inbound call.
func (e *Engine) RejectCall() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseRinging {
		return ErrNotRinging
	}
	e.stopRingTimerLocked()

	err := e.deps.Send.Send(proto.KindCallRejected, proto.CallAnswer{
		To: e.peer.ID, From: e.self.ID, FromName: e.self.DisplayName,
	})
	if err != nil {
		log.Warn().Err(err).Str("peer", e.peer.ID).Msg("call: send reject")
	}

	e.deps.Recorder.RecordRejected(e.peer.ID, e.peer.DisplayName, e.self.ID, e.self.DisplayName)
	peer := e.peer
	e.resetLocked()
	log.Info().Str("peer", peer.ID).Msg("call: rejected")
	return nil
}

// HangUp ends the in-flight call, whether still dialing or connected.
func (e *Engine) HangUp() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseDialing && e.phase != PhaseConnected {
		return ErrNoCall
	}

	err := e.deps.Send.Send(proto.KindCallEnded, proto.CallEnded{
		To: e.peer.ID, From: e.self.ID,
	})
	if err != nil {
		log.Warn().Err(err).Str("peer", e.peer.ID).Msg("call: send hangup")
	}

	if e.phase == PhaseConnected {
		e.deps.Recorder.Conclude(e.durationSec)
	}
	peer := e.peer
	e.resetLocked()
	log.Info().Str("peer", peer.ID).Msg("call: hung up")
	return nil
}

// SendMessage sends a chat message over the connected call and echoes it
// into the local thread immediately.
func (e *Engine) SendMessage(content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseConnected {
		return ErrNotConnected
	}
	if chat.Blank(content) {
		return ErrEmptyMessage
	}

	msg := chat.NewMessage(e.self.ID, e.self.DisplayName, content)
	err := e.deps.Send.Send(proto.KindMessageSend, proto.ChatMessage{
		ID:        msg.ID,
		Sender:    msg.SenderName,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UnixMilli(),
		To:        e.peer.ID,
	})
	if err != nil {
		return err
	}
	e.deps.Thread.Append(msg)
	return nil
}

// ToggleAudio mutes or unmutes the local microphone. Without a call in
// progress there is nothing to mute and the toggle reports false.
func (e *Engine) ToggleAudio() (muted bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return false, nil
	}
	return e.session.ToggleAudio(), nil
}

// ToggleVideo disables or enables the local camera. Without a call in
// progress there is nothing to disable and the toggle reports false.
func (e *Engine) ToggleVideo() (disabled bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return false, nil
	}
	return e.session.ToggleVideo(), nil
}

// signalFunc wraps media payloads into RTCSignal frames addressed to peerID.
func (e *Engine) signalFunc(peerID string) media.SignalFunc {
	return func(kind string, payload json.RawMessage) error {
		return e.deps.Send.Send(kind, proto.RTCSignal{
			To: peerID, From: e.self.ID, Payload: payload,
		})
	}
}

// connectLocked moves the session into the connected phase and starts the
// duration counter.
func (e *Engine) connectLocked() {
	e.phase = PhaseConnected
	e.durationSec = 0

	epoch := e.epoch
	ticker := e.deps.Clock.Ticker(time.Second)
	go func() {
		defer ticker.Stop()
		for range ticker.C {
			e.mu.Lock()
			if e.epoch != epoch || e.phase != PhaseConnected {
				e.mu.Unlock()
				return
			}
			e.durationSec++
			e.mu.Unlock()
		}
	}()
}

func (e *Engine) onRingTimeout(epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.epoch != epoch || e.phase != PhaseRinging {
		return
	}

	err := e.deps.Send.Send(proto.KindCallRejected, proto.CallAnswer{
		To: e.peer.ID, From: e.self.ID, FromName: e.self.DisplayName,
	})
	if err != nil {
		log.Warn().Err(err).Str("peer", e.peer.ID).Msg("call: ring timeout reject")
	}

	e.deps.Recorder.RecordMissed(e.peer.ID, e.peer.DisplayName, e.self.ID, e.self.DisplayName)
	peer := e.peer
	e.resetLocked()
	log.Info().Str("peer", peer.ID).Msg("call: rang out")
	e.notify(Notice{Kind: NoticeMissed, Peer: peer, Text: "Missed call from " + peer.DisplayName})
}

// watchMedia forwards media session events into the state machine. Events
// from a superseded session are discarded by the epoch check.
func (e *Engine) watchMedia(epoch uint64, session MediaSession) {
	for evt := range session.Events() {
		e.mu.Lock()
		if e.epoch != epoch {
			e.mu.Unlock()
			return
		}
		switch evt.Type {
		case media.EventConnected:
			log.Info().Str("peer", e.peer.ID).Msg("call: media path up")
		case media.EventRemoteTrack:
			log.Debug().Str("kind", evt.TrackKind).Msg("call: remote media attached")
		case media.EventFailed:
			switch e.phase {
			case PhaseConnected:
				e.deps.Recorder.Abort(history.StatusMissed)
			case PhaseDialing:
				e.deps.Recorder.RecordMissed(e.self.ID, e.self.DisplayName, e.peer.ID, e.peer.DisplayName)
			}
			peer := e.peer
			e.resetLocked()
			e.mu.Unlock()
			log.Warn().Str("peer", peer.ID).Msg("call: media path failed")
			e.notify(Notice{Kind: NoticeError, Peer: peer, Text: "There was a problem connecting to the other user"})
			return
		case media.EventClosed:
			switch e.phase {
			case PhaseConnected:
				e.deps.Recorder.Conclude(e.durationSec)
				peer := e.peer
				e.resetLocked()
				e.mu.Unlock()
				log.Info().Str("peer", peer.ID).Msg("call: media closed")
				e.notify(Notice{Kind: NoticeEnded, Peer: peer, Text: "The call has been ended"})
				return
			case PhaseDialing:
				peer := e.peer
				e.resetLocked()
				e.mu.Unlock()
				log.Info().Str("peer", peer.ID).Msg("call: media closed before connect")
				e.notify(Notice{Kind: NoticeEnded, Peer: peer, Text: "The call has been ended"})
				return
			}
		}
		e.mu.Unlock()
	}
}

// onChannelLost clears state when the signaling channel dies mid-call.
func (e *Engine) onChannelLost() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseConnected {
		e.deps.Recorder.Conclude(e.durationSec)
	}
	if e.phase.Active() {
		peer := e.peer
		e.resetLocked()
		e.notify(Notice{Kind: NoticeEnded, Peer: peer, Text: "Connection to the server was lost"})
	}
	e.deps.Roster.Clear()
	log.Warn().Msg("call: signaling channel lost")
}

func (e *Engine) stopRingTimerLocked() {
	if e.ringTimer != nil {
		e.ringTimer.Stop()
		e.ringTimer = nil
	}
}

// resetLocked returns the engine to Idle and invalidates all delayed work
// armed for the old session.
func (e *Engine) resetLocked() {
	e.epoch++
	e.stopRingTimerLocked()
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
	e.phase = PhaseIdle
	e.outbound = false
	e.peer = proto.User{}
	e.pending = nil
	e.durationSec = 0
}

func (e *Engine) notify(n Notice) {
	select {
	case e.notices <- n:
	default:
		log.Debug().Str("kind", string(n.Kind)).Msg("call: notice dropped")
	}
}
