package checkpoint

import (
	"context"
	"errors"

	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// Common errors for checkpoint storage operations.
var (
	// ErrNotFound is returned when no checkpoint exists for a session.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("checkpoint store is closed")
)

// Store abstracts checkpoint persistence.
// Implementations must be safe for concurrent use, and AppendEntries must be
// idempotent with respect to entry IDs: the persistence layer retries
// unacknowledged batches, so the same entry may be appended more than once.
type Store interface {
	// Save creates or supersedes the checkpoint for a session.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves the checkpoint for a session.
	// Returns ErrNotFound if no checkpoint exists.
	Load(ctx context.Context, sessionID string) (*Checkpoint, error)

	// AppendEntries appends transcript entries and updates progress
	// counters, creating the checkpoint if needed. Entries whose ID is
	// already present are ignored. Returns the number of entries accepted.
	AppendEntries(ctx context.Context, sessionID string, entries []transcript.Entry,
		elapsedTime, questionCount int, metrics transcript.Metrics) (int, error)

	// SetStatus updates the lifecycle status of a session's checkpoint.
	// Returns ErrNotFound if no checkpoint exists.
	SetStatus(ctx context.Context, sessionID string, status Status) error

	// Delete removes a session's checkpoint, e.g. on start-fresh.
	// Deleting a missing checkpoint is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}
