// Package roster tracks which users the presence server currently reports
// as online. The server sends the full list on every change, so updates are
// wholesale replacements rather than deltas.
package roster

import (
	"sort"
	"sync"
	"time"

	"github.com/petervdpas/peercall/internal/proto"
)

// Peer is one online user as last reported by the server.
type Peer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Event describes a roster change delivered to subscribers.
type Event struct {
	Type  string          `json:"type"`
	Peers map[string]Peer `json:"peers,omitempty"`
}

// Table holds the current online roster. The local user is never listed.
type Table struct {
	mu        sync.Mutex
	selfID    string
	peers     map[string]Peer
	listeners []chan Event
}

func NewTable(selfID string) *Table {
	return &Table{
		selfID: selfID,
		peers:  map[string]Peer{},
	}
}

// Replace swaps the whole roster for the server's latest list. Entries for
// the local user are dropped. Absence from the list means offline.
func (t *Table) Replace(users []proto.User) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	next := make(map[string]Peer, len(users))
	for _, u := range users {
		if u.ID == "" || u.ID == t.selfID {
			continue
		}
		next[u.ID] = Peer{
			ID:          u.ID,
			DisplayName: u.DisplayName,
			PhotoURL:    u.PhotoURL,
			LastSeen:    now,
		}
	}
	t.peers = next
	t.notifyListeners(Event{Type: "replace", Peers: t.copyLocked()})
}

// Clear empties the roster, typically on signal channel loss.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = map[string]Peer{}
	t.notifyListeners(Event{Type: "replace", Peers: map[string]Peer{}})
}

// Get returns the peer with the given id, if online.
func (t *Table) Get(id string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	return p, ok
}

// Online reports whether the given user is currently listed.
func (t *Table) Online(id string) bool {
	_, ok := t.Get(id)
	return ok
}

// Snapshot returns a copy of the roster keyed by user id.
func (t *Table) Snapshot() map[string]Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

// List returns the roster sorted by display name, ties broken by id.
func (t *Table) List() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *Table) Subscribe() chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Event, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *Table) Unsubscribe(ch chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *Table) copyLocked() map[string]Peer {
	cp := make(map[string]Peer, len(t.peers))
	for k, v := range t.peers {
		cp[k] = v
	}
	return cp
}

func (t *Table) notifyListeners(evt Event) {
	for _, ch := range t.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
