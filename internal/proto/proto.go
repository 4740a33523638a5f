// Package proto defines the signaling wire protocol spoken over the presence
// channel. Every frame is one JSON text message: {"kind": ..., "data": {...}}.
// Inbound frames are decoded into a closed set of typed events at the channel
// boundary; anything unknown or malformed is dropped there and never reaches
// the call engine.
package proto

import (
	"encoding/json"
	"fmt"
)

// Message kinds. Outbound and inbound kinds mirror each other: a
// KindCallRequest sent by the caller arrives at the callee as KindCallIncoming,
// relayed by the signaling server.
const (
	KindUserConnect = "user:connect"
	KindUserRefresh = "user:refresh"
	KindUsersOnline = "users:online"

	KindCallRequest  = "call:request"
	KindCallIncoming = "call:incoming"
	KindCallAccepted = "call:accepted"
	KindCallRejected = "call:rejected"
	KindCallEnded    = "call:ended"

	KindMessageSend     = "message:send"
	KindMessageReceived = "message:received"

	// SDP/ICE relay for the media transport. The server forwards these to the
	// user named in "to" without inspecting the payload.
	KindRTCOffer     = "rtc:offer"
	KindRTCAnswer    = "rtc:answer"
	KindRTCCandidate = "rtc:candidate"
)

// User identifies a participant as announced over the wire. Immutable once
// received; the id doubles as the user's media negotiation address.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// Envelope is the outer frame for every signaling message.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CallRequest is sent by the caller to start a call.
type CallRequest struct {
	To        string `json:"to"`
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	FromPhoto string `json:"fromPhoto,omitempty"`
}

// CallIncoming is the inbound form of CallRequest, as relayed to the callee.
type CallIncoming struct {
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	FromPhoto string `json:"fromPhoto,omitempty"`
}

// CallAnswer carries both call:accepted and call:rejected in either direction.
type CallAnswer struct {
	To       string `json:"to"`
	From     string `json:"from"`
	FromName string `json:"fromName"`
}

// CallEnded signals a hangup by the remote party.
type CallEnded struct {
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
}

// ChatMessage is a chat payload. Outbound (message:send) includes To; the
// server strips it before relaying as message:received.
type ChatMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	To        string `json:"to,omitempty"`
}

// RTCSignal relays an SDP description or ICE candidate between peers.
// Payload is the pion-serialized JSON, opaque to the server.
type RTCSignal struct {
	To      string          `json:"to"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Event is a validated inbound signaling event. Exactly one of the pointer
// fields is non-nil, matching Kind (Roster for users:online).
type Event struct {
	Kind     string
	Roster   []User
	Incoming *CallIncoming
	Accepted *CallAnswer
	Rejected *CallAnswer
	Ended    *CallEnded
	Chat     *ChatMessage
	RTC      *RTCSignal
}

// DecodeEvent parses a raw inbound frame into a typed Event.
// Unknown kinds and malformed payloads return an error; callers drop them.
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	evt := Event{Kind: env.Kind}
	switch env.Kind {
	case KindUsersOnline:
		if err := json.Unmarshal(env.Data, &evt.Roster); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
	case KindCallIncoming:
		evt.Incoming = &CallIncoming{}
		if err := json.Unmarshal(env.Data, evt.Incoming); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		if evt.Incoming.From == "" {
			return Event{}, fmt.Errorf("%s: missing from", env.Kind)
		}
	case KindCallAccepted:
		evt.Accepted = &CallAnswer{}
		if err := json.Unmarshal(env.Data, evt.Accepted); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
	case KindCallRejected:
		evt.Rejected = &CallAnswer{}
		if err := json.Unmarshal(env.Data, evt.Rejected); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
	case KindCallEnded:
		evt.Ended = &CallEnded{}
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, evt.Ended); err != nil {
				return Event{}, fmt.Errorf("decode %s: %w", env.Kind, err)
			}
		}
	case KindMessageReceived:
		evt.Chat = &ChatMessage{}
		if err := json.Unmarshal(env.Data, evt.Chat); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		if evt.Chat.SenderID == "" {
			return Event{}, fmt.Errorf("%s: missing senderId", env.Kind)
		}
	case KindRTCOffer, KindRTCAnswer, KindRTCCandidate:
		evt.RTC = &RTCSignal{}
		if err := json.Unmarshal(env.Data, evt.RTC); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		if evt.RTC.From == "" {
			return Event{}, fmt.Errorf("%s: missing from", env.Kind)
		}
	default:
		return Event{}, fmt.Errorf("unknown kind %q", env.Kind)
	}
	return evt, nil
}

// Encode wraps a payload in an Envelope and serializes it.
func Encode(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Kind: kind, Data: data})
}
