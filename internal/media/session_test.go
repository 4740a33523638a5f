package media

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/proto"
)

func testMediaConfig() config.Media {
	return config.Media{
		STUNServers:    []string{"stun:stun.l.google.com:19302"},
		VideoMaxWidth:  640,
		VideoMaxHeight: 480,
		VideoBitRate:   1_500_000,
	}
}

// signalRecorder captures outbound signal frames for inspection.
type signalRecorder struct {
	mu     sync.Mutex
	frames []struct {
		kind    string
		payload json.RawMessage
	}
}

func (r *signalRecorder) fn() SignalFunc {
	return func(kind string, payload json.RawMessage) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		cp := make(json.RawMessage, len(payload))
		copy(cp, payload)
		r.frames = append(r.frames, struct {
			kind    string
			payload json.RawMessage
		}{kind, cp})
		return nil
	}
}

func (r *signalRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.kind
	}
	return out
}

func (r *signalRecorder) first(kind string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if f.kind == kind {
			return f.payload, true
		}
	}
	return nil, false
}

func newTestSession(t *testing.T, rec *signalRecorder) *Session {
	t.Helper()
	eng := NewEngine(testMediaConfig())
	s, err := eng.NewSession("peer", rec.fn())
	require.NoError(t, err)
	require.NotNil(t, s)
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestOfferAnswerExchange(t *testing.T) {
	recA, recB := &signalRecorder{}, &signalRecorder{}
	a := newTestSession(t, recA)
	b := newTestSession(t, recB)

	require.NoError(t, a.Offer())

	offer, ok := recA.first(proto.KindRTCOffer)
	require.True(t, ok, "caller must emit an offer, got %v", recA.kinds())

	require.NoError(t, b.HandleSignal(proto.KindRTCOffer, offer))

	answer, ok := recB.first(proto.KindRTCAnswer)
	require.True(t, ok, "callee must emit an answer, got %v", recB.kinds())

	require.NoError(t, a.HandleSignal(proto.KindRTCAnswer, answer))

	assert.Equal(t, webrtc.SignalingStateStable, a.pc.SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, b.pc.SignalingState())

	waitFor(t, func() bool {
		_, ok := recA.first(proto.KindRTCCandidate)
		return ok
	}, "caller never trickled a candidate")
}

func TestCandidateBufferedBeforeRemoteDescription(t *testing.T) {
	rec := &signalRecorder{}
	s := newTestSession(t, rec)

	cand, err := json.Marshal(webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 4444 typ host",
	})
	require.NoError(t, err)

	// Arrives before the offer; must be queued, not rejected.
	require.NoError(t, s.HandleSignal(proto.KindRTCCandidate, cand))

	s.mu.Lock()
	buffered := len(s.candidates)
	s.mu.Unlock()
	assert.Equal(t, 1, buffered)
}

func TestHandleSignalRejectsUnknownKind(t *testing.T) {
	s := newTestSession(t, &signalRecorder{})

	err := s.HandleSignal("rtc:bogus", json.RawMessage(`{}`))
	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
}

func TestHandleSignalRejectsMalformedPayload(t *testing.T) {
	s := newTestSession(t, &signalRecorder{})

	var negErr *NegotiationError
	assert.ErrorAs(t, s.HandleSignal(proto.KindRTCOffer, json.RawMessage(`not json`)), &negErr)
	assert.ErrorAs(t, s.HandleSignal(proto.KindRTCCandidate, json.RawMessage(`42`)), &negErr)
}

func TestToggles(t *testing.T) {
	s := newTestSession(t, &signalRecorder{})

	if s.AcquireErr() != nil {
		// Receive-only session: nothing to mute, toggles are no-ops that
		// keep reporting disabled.
		assert.True(t, s.Muted())
		assert.True(t, s.VideoDisabled())
		assert.True(t, s.ToggleAudio())
		assert.True(t, s.Muted())
		assert.True(t, s.ToggleVideo())
		assert.True(t, s.VideoDisabled())
		return
	}

	assert.False(t, s.Muted())
	assert.False(t, s.VideoDisabled())

	assert.True(t, s.ToggleAudio(), "first audio toggle mutes")
	assert.True(t, s.Muted())
	assert.False(t, s.ToggleAudio(), "second audio toggle unmutes")

	assert.True(t, s.ToggleVideo())
	assert.True(t, s.VideoDisabled())
	assert.False(t, s.ToggleVideo())
	assert.False(t, s.VideoDisabled())
}

func TestCloseIdempotent(t *testing.T) {
	s := newTestSession(t, &signalRecorder{})
	s.Close()
	s.Close()
}

func TestStatsStartAtZero(t *testing.T) {
	s := newTestSession(t, &signalRecorder{})
	video, audio := s.Stats()
	assert.Zero(t, video.Packets)
	assert.Zero(t, audio.Bytes)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	acq := &AcquisitionError{Err: cause}
	neg := &NegotiationError{Stage: "offer", Err: cause}

	assert.ErrorIs(t, acq, cause)
	assert.ErrorIs(t, neg, cause)
	assert.Contains(t, neg.Error(), "offer")
}
