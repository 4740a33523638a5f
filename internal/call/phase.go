package call

// Phase is the call session state. Transitions happen only inside the
// engine's serialized event handlers.
type Phase int

const (
	// PhaseIdle means no call activity.
	PhaseIdle Phase = iota
	// PhaseDialing means an outbound call is waiting for the peer's answer.
	PhaseDialing
	// PhaseRinging means an inbound call is waiting for a local decision.
	PhaseRinging
	// PhaseConnected means a call is live.
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDialing:
		return "dialing"
	case PhaseRinging:
		return "ringing"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Active reports whether the phase belongs to an in-flight call.
func (p Phase) Active() bool { return p != PhaseIdle }
