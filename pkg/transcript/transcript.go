// Package transcript holds the append-only record of conversation turns for
// one interview session, plus the speaking metrics derived from it.
// The ledger is the source of truth the UI renders from and the unit the
// persistence layer flushes to durable storage.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerAgent is the AI interviewer.
	SpeakerAgent Speaker = "agent"
	// SpeakerUser is the candidate.
	SpeakerUser Speaker = "user"
)

// Entry is a single conversation turn. Entries are immutable once created;
// ID is unique per entry and used for de-duplication across flush retries.
type Entry struct {
	// ID is the unique identifier for this entry.
	ID string `json:"id"`
	// Speaker indicates who spoke.
	Speaker Speaker `json:"speaker"`
	// Text is the utterance content.
	Text string `json:"text"`
	// Timestamp is the creation time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewEntry creates an entry with a fresh ID.
func NewEntry(speaker Speaker, text string, at time.Time) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: at.UnixMilli(),
	}
}

// Time returns the entry timestamp as a time.Time.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// closingAckMaxLen is the length under which a trailing agent entry is
// treated as a closing acknowledgment rather than a new question.
const closingAckMaxLen = 120

// Ledger is the canonical append-only store for one session's turns.
// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make([]Entry, 0)}
}

// Append adds an entry to the ledger. Append always succeeds and is O(1).
// Entries are never mutated or reordered after creation.
func (l *Ledger) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Entries returns a copy of all entries in insertion order.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear removes all entries. Clear is permitted only when explicitly
// starting a fresh session; no entry may be removed individually.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// PrepareForFeedback returns the transcript to submit for feedback
// generation. To avoid submitting a transcript that ends on an unanswered
// question, it cuts after the last user entry, then includes one
// immediately-following agent entry only if that entry is short and contains
// no question mark (a closing acknowledgment, not a new question).
//
// If no user entry exists the result is empty and the caller must treat the
// session as having insufficient data.
func (l *Ledger) PrepareForFeedback() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	lastUser := -1
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Speaker == SpeakerUser {
			lastUser = i
			break
		}
	}
	if lastUser < 0 {
		return nil
	}

	end := lastUser + 1
	if end < len(l.entries) {
		next := l.entries[end]
		if next.Speaker == SpeakerAgent &&
			len(next.Text) < closingAckMaxLen &&
			!strings.Contains(next.Text, "?") {
			end++
		}
	}

	out := make([]Entry, end)
	copy(out, l.entries[:end])
	return out
}

// HasUserContent reports whether the prepared transcript contains at least
// one non-empty user response.
func HasUserContent(entries []Entry) bool {
	for _, e := range entries {
		if e.Speaker == SpeakerUser && strings.TrimSpace(e.Text) != "" {
			return true
		}
	}
	return false
}
