// Package history records call outcomes into a bounded, in-memory log.
package history

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/petervdpas/peercall/internal/util"
)

// Status classifies how a call ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusRejected  Status = "rejected"
)

// Entry is one call log record. Rejected and missed calls carry an EndTime
// equal to their StartTime's wall-clock moment of rejection and a zero
// DurationSec; completed calls are amended with the real end time once the
// call concludes.
type Entry struct {
	ID           string    `json:"id"`
	CallerID     string    `json:"callerId"`
	CallerName   string    `json:"callerName"`
	ReceiverID   string    `json:"receiverId"`
	ReceiverName string    `json:"receiverName"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	DurationSec  int       `json:"duration"`
	Status       Status    `json:"status"`
}

// Recorder keeps the most recent call entries, oldest evicted first.
// A connected call is opened with Begin and finalized with Conclude; at most
// one call can be open at a time.
type Recorder struct {
	mu      sync.Mutex
	clk     clock.Clock
	buf     *util.RingBuffer[*Entry]
	pending *Entry
}

// NewRecorder creates a recorder holding at most limit entries.
func NewRecorder(limit int, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		clk: clk,
		buf: util.NewRingBuffer[*Entry](limit),
	}
}

// Begin opens an entry for a call that just connected. The entry is visible
// in snapshots immediately, with its end fields zeroed until Conclude.
func (r *Recorder) Begin(callerID, callerName, receiverID, receiverName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &Entry{
		ID:           uuid.NewString(),
		CallerID:     callerID,
		CallerName:   callerName,
		ReceiverID:   receiverID,
		ReceiverName: receiverName,
		StartTime:    r.clk.Now(),
		Status:       StatusCompleted,
	}
	r.pending = e
	r.buf.Push(e)
}

// Conclude finalizes the open entry with its duration in seconds. Calling it
// without an open entry is a no-op, as is calling it twice.
func (r *Recorder) Conclude(durationSec int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return
	}
	r.pending.EndTime = r.clk.Now()
	r.pending.DurationSec = durationSec
	r.pending = nil
}

// Abort closes the open entry with a non-completed status and zero duration,
// for calls that died mid-flight. No-op without an open entry.
func (r *Recorder) Abort(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return
	}
	r.pending.Status = st
	r.pending.EndTime = r.clk.Now()
	r.pending.DurationSec = 0
	r.pending = nil
}

// RecordMissed logs a call that rang out without being answered.
func (r *Recorder) RecordMissed(callerID, callerName, receiverID, receiverName string) {
	r.record(callerID, callerName, receiverID, receiverName, StatusMissed)
}

// RecordRejected logs a call that was declined.
func (r *Recorder) RecordRejected(callerID, callerName, receiverID, receiverName string) {
	r.record(callerID, callerName, receiverID, receiverName, StatusRejected)
}

func (r *Recorder) record(callerID, callerName, receiverID, receiverName string, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	r.buf.Push(&Entry{
		ID:           uuid.NewString(),
		CallerID:     callerID,
		CallerName:   callerName,
		ReceiverID:   receiverID,
		ReceiverName: receiverName,
		StartTime:    now,
		EndTime:      now,
		Status:       st,
	})
}

// Last returns a copy of the most recent entry, if any.
func (r *Recorder) Last() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.buf.Last()
	if !ok {
		return Entry{}, false
	}
	return *p, true
}

// Snapshot returns a copy of all entries, newest first.
func (r *Recorder) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	ptrs := r.buf.SnapshotNewest()
	out := make([]Entry, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// Len returns the number of stored entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}
