package status

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

const (
	maxLabels = 2
	shortID   = 8
)

// Batch is the latest known progress of one batch.
type Batch struct {
	protocol.ProgressEvent
	FirstSeen time.Time
	UpdatedAt time.Time
}

// Tracker folds progress events into per-batch state. It is safe for
// concurrent use and is meant to be subscribed to the stream.
type Tracker struct {
	mu      sync.Mutex
	batches map[string]*Batch
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		batches: make(map[string]*Batch),
		now:     time.Now,
	}
}

// Update records evt. Events for a batch that already ended are ignored so a
// late frame cannot revive it.
func (t *Tracker) Update(evt protocol.ProgressEvent) {
	if evt.BatchID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.batches[evt.BatchID]
	if !ok {
		t.batches[evt.BatchID] = &Batch{ProgressEvent: evt, FirstSeen: now, UpdatedAt: now}
		return
	}
	if b.IsTerminal() {
		return
	}
	b.ProgressEvent = evt
	b.UpdatedAt = now
}

// Batches returns a copy of every tracked batch, oldest first.
func (t *Tracker) Batches() []Batch {
	t.mu.Lock()
	out := make([]Batch, 0, len(t.batches))
	for _, b := range t.batches {
		out = append(out, *b)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].BatchID < out[j].BatchID
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

// Get returns one batch.
func (t *Tracker) Get(batchID string) (Batch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return Batch{}, false
	}
	return *b, true
}

// Prune drops finished batches last updated before cutoff.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, b := range t.batches {
		if b.IsTerminal() && b.UpdatedAt.Before(cutoff) {
			delete(t.batches, id)
			n++
		}
	}
	return n
}

// Format renders running batches as one status line.
func Format(batches []Batch) string {
	var running []Batch
	for _, b := range batches {
		if !b.IsTerminal() {
			running = append(running, b)
		}
	}

	if len(running) == 0 {
		return "✓ idle"
	}

	var labels []string
	for i, b := range running {
		if i >= maxLabels {
			break
		}
		labels = append(labels, Label(b.ProgressEvent))
	}

	labelStr := strings.Join(labels, ", ")
	if len(running) > maxLabels {
		labelStr += "..."
	}

	return fmt.Sprintf("%d running: %s", len(running), labelStr)
}

// Label describes one batch, e.g. "3f2a9c1b 4/10 @42%".
func Label(evt protocol.ProgressEvent) string {
	id := evt.BatchID
	if len(id) > shortID {
		id = id[:shortID]
	}
	label := fmt.Sprintf("%s %d/%d", id, evt.Done(), evt.Total)
	if evt.Failed > 0 {
		label += fmt.Sprintf(" (%d failed)", evt.Failed)
	}
	if evt.CurrentAPL != nil {
		label += fmt.Sprintf(" @%g%%", *evt.CurrentAPL)
	}
	return label
}
