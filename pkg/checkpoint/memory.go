package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// MemoryStore is an in-memory checkpoint store for tests and local
// development. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	byID     map[string]*Checkpoint
	entryIDs map[string]map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Checkpoint),
		entryIDs: make(map[string]map[string]bool),
	}
}

// Save creates or supersedes the checkpoint for a session.
func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	stored := cloneCheckpoint(cp)
	stored.UpdatedAt = time.Now().UTC()
	s.byID[cp.SessionID] = stored

	ids := make(map[string]bool, len(cp.Transcript))
	for _, e := range cp.Transcript {
		ids[e.ID] = true
	}
	s.entryIDs[cp.SessionID] = ids
	return nil
}

// Load retrieves the checkpoint for a session.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	cp, ok := s.byID[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCheckpoint(cp), nil
}

// AppendEntries appends transcript entries, de-duplicated by entry ID.
func (s *MemoryStore) AppendEntries(_ context.Context, sessionID string, entries []transcript.Entry,
	elapsedTime, questionCount int, metrics transcript.Metrics) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	cp, ok := s.byID[sessionID]
	if !ok {
		cp = &Checkpoint{SessionID: sessionID, Status: StatusActive}
		s.byID[sessionID] = cp
		s.entryIDs[sessionID] = make(map[string]bool)
	}

	accepted := 0
	for _, e := range entries {
		if s.entryIDs[sessionID][e.ID] {
			continue
		}
		s.entryIDs[sessionID][e.ID] = true
		cp.Transcript = append(cp.Transcript, e)
		accepted++
	}

	cp.ElapsedTimeSeconds = elapsedTime
	cp.QuestionCount = questionCount
	cp.Metrics = metrics
	cp.UpdatedAt = time.Now().UTC()
	return accepted, nil
}

// SetStatus updates the lifecycle status of a session's checkpoint.
func (s *MemoryStore) SetStatus(_ context.Context, sessionID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	cp, ok := s.byID[sessionID]
	if !ok {
		return ErrNotFound
	}
	cp.Status = status
	cp.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a session's checkpoint.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.byID, sessionID)
	delete(s.entryIDs, sessionID)
	return nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.Transcript = make([]transcript.Entry, len(cp.Transcript))
	copy(out.Transcript, cp.Transcript)
	out.Metrics.FillerWordsDetected = append([]string(nil), cp.Metrics.FillerWordsDetected...)
	return &out
}
