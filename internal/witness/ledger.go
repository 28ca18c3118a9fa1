// Package witness anchors chain state to the Nostr network at a fixed chunk
// cadence. Checkpoints live beside the chain, never inside it.
package witness

import (
	"sync"
)

// Checkpoint records one published witness event.
type Checkpoint struct {
	ChunkIndex       int      `json:"chunkIndex"                 mapstructure:"chunkIndex"`
	VerificationHash string   `json:"verificationHash,omitempty" mapstructure:"verificationHash"`
	EventID          string   `json:"eventId"                    mapstructure:"eventId"`
	Relays           []string `json:"relays"                     mapstructure:"relays"`
	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp" mapstructure:"timestamp"`
}

// Ledger is the ordered, per-chunk idempotent list of checkpoints owned by a
// recording session. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []Checkpoint
	seen    map[int]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[int]struct{})}
}

// Has reports whether chunkIndex already has a checkpoint.
func (l *Ledger) Has(chunkIndex int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[chunkIndex]
	return ok
}

// Add appends cp unless its chunk already has a checkpoint.
func (l *Ledger) Add(cp Checkpoint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[cp.ChunkIndex]; ok {
		return false
	}
	cp.Relays = append([]string(nil), cp.Relays...)
	l.entries = append(l.entries, cp)
	l.seen[cp.ChunkIndex] = struct{}{}
	return true
}

// Len returns the number of checkpoints.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Checkpoints returns a copy of the checkpoints in publish order.
func (l *Ledger) Checkpoints() []Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Checkpoint, len(l.entries))
	for i, cp := range l.entries {
		cp.Relays = append([]string(nil), cp.Relays...)
		out[i] = cp
	}
	return out
}
