package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/peercall/internal/proto"
)

func users(ids ...string) []proto.User {
	out := make([]proto.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, proto.User{ID: id, DisplayName: "User " + id})
	}
	return out
}

func TestReplaceExcludesSelf(t *testing.T) {
	tbl := NewTable("me")
	tbl.Replace(users("me", "a", "b"))

	snap := tbl.Snapshot()
	assert.Len(t, snap, 2)
	assert.NotContains(t, snap, "me")
	assert.True(t, tbl.Online("a"))
	assert.True(t, tbl.Online("b"))
}

func TestReplaceIsWholesale(t *testing.T) {
	tbl := NewTable("me")
	tbl.Replace(users("a", "b"))
	tbl.Replace(users("b", "c"))

	assert.False(t, tbl.Online("a"), "absent from latest list means offline")
	assert.True(t, tbl.Online("b"))
	assert.True(t, tbl.Online("c"))
}

func TestReplaceSkipsEmptyIDs(t *testing.T) {
	tbl := NewTable("me")
	tbl.Replace([]proto.User{{ID: ""}, {ID: "a"}})
	assert.Len(t, tbl.Snapshot(), 1)
}

func TestGet(t *testing.T) {
	tbl := NewTable("me")
	tbl.Replace([]proto.User{{ID: "a", DisplayName: "Alice", PhotoURL: "http://x/p.png"}})

	p, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, "http://x/p.png", p.PhotoURL)
	assert.False(t, p.LastSeen.IsZero())

	_, ok = tbl.Get("nope")
	assert.False(t, ok)
}

func TestListSorted(t *testing.T) {
	tbl := NewTable("me")
	tbl.Replace([]proto.User{
		{ID: "1", DisplayName: "Carol"},
		{ID: "2", DisplayName: "Alice"},
		{ID: "3", DisplayName: "Bob"},
	})

	list := tbl.List()
	require.Len(t, list, 3)
	assert.Equal(t, "Alice", list[0].DisplayName)
	assert.Equal(t, "Bob", list[1].DisplayName)
	assert.Equal(t, "Carol", list[2].DisplayName)
}

func TestClear(t *testing.T) {
	tbl := NewTable("me")
	tbl.Replace(users("a", "b"))
	tbl.Clear()
	assert.Empty(t, tbl.Snapshot())
}

func TestSubscribeReceivesReplace(t *testing.T) {
	tbl := NewTable("me")
	ch := tbl.Subscribe()
	defer tbl.Unsubscribe(ch)

	tbl.Replace(users("a"))

	select {
	case evt := <-ch:
		assert.Equal(t, "replace", evt.Type)
		assert.Contains(t, evt.Peers, "a")
	default:
		t.Fatal("expected a roster event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	tbl := NewTable("me")
	ch := tbl.Subscribe()
	tbl.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
}
