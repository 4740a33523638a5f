package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage("u1", "Alice", "hello")

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.Timestamp.IsZero())

	other := NewMessage("u1", "Alice", "hello")
	assert.NotEqual(t, msg.ID, other.ID)
}

func TestBlank(t *testing.T) {
	tests := []struct {
		content string
		blank   bool
	}{
		{"", true},
		{"   ", true},
		{"\t\n", true},
		{"hi", false},
		{"  hi  ", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.blank, Blank(tt.content), "content=%q", tt.content)
	}
}

func TestThreadAppendOrder(t *testing.T) {
	th := NewThread()
	th.Append(NewMessage("a", "A", "first"))
	th.Append(NewMessage("b", "B", "second"))
	th.Append(NewMessage("a", "A", "third"))

	msgs := th.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
	assert.Equal(t, 3, th.Len())
}

func TestThreadSnapshotIsCopy(t *testing.T) {
	th := NewThread()
	th.Append(NewMessage("a", "A", "one"))

	msgs := th.Snapshot()
	msgs[0].Content = "mutated"

	assert.Equal(t, "one", th.Snapshot()[0].Content)
}

func TestThreadClear(t *testing.T) {
	th := NewThread()
	th.Append(NewMessage("a", "A", "one"))
	th.Append(NewMessage("b", "B", "two"))
	th.Clear()

	assert.Equal(t, 0, th.Len())
	assert.Empty(t, th.Snapshot())
}
