// Package chat holds the in-call message thread. Messages live only for the
// duration of one call session; resetting the session discards them.
package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message represents one chat message inside a call session.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"sender"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMessage creates a locally-authored message.
func NewMessage(senderID, senderName, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Timestamp:  time.Now(),
	}
}

// Blank reports whether content is empty or whitespace-only.
// Blank messages are never appended or sent.
func Blank(content string) bool {
	return strings.TrimSpace(content) == ""
}

// Thread is an append-only, session-scoped message list.
// Append preserves arrival order regardless of sender.
type Thread struct {
	mu       sync.RWMutex
	messages []Message
}

func NewThread() *Thread {
	return &Thread{}
}

// Append adds a message to the thread.
func (t *Thread) Append(msg Message) {
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
}

// Snapshot returns a copy of the thread in arrival order.
func (t *Thread) Snapshot() []Message {
	t.mu.RLock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	t.mu.RUnlock()
	return out
}

// Len returns the number of messages in the thread.
func (t *Thread) Len() int {
	t.mu.RLock()
	n := len(t.messages)
	t.mu.RUnlock()
	return n
}

// Clear discards all messages.
func (t *Thread) Clear() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
}
