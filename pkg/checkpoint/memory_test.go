package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/interviewlab/sessionkit/pkg/transcript"
)

func testEntries(n int) []transcript.Entry {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := make([]transcript.Entry, n)
	for i := range entries {
		speaker := transcript.SpeakerAgent
		if i%2 == 1 {
			speaker = transcript.SpeakerUser
		}
		entries[i] = transcript.NewEntry(speaker, "turn", base.Add(time.Duration(i)*time.Second))
	}
	return entries
}

func TestMemoryStoreSaveLoad(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	cp := &Checkpoint{
		SessionID:          "sess-1",
		Transcript:         testEntries(4),
		ElapsedTimeSeconds: 120,
		QuestionCount:      2,
		Status:             StatusActive,
	}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Transcript) != 4 || got.ElapsedTimeSeconds != 120 || got.QuestionCount != 2 {
		t.Errorf("Load() = %+v", got)
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %v, want active", got.Status)
	}
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()

	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreAppendEntriesDeduplicates(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	entries := testEntries(3)
	accepted, err := s.AppendEntries(ctx, "sess-1", entries, 30, 1, transcript.Metrics{})
	if err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}
	if accepted != 3 {
		t.Errorf("accepted = %d, want 3", accepted)
	}

	// A retried batch must be a no-op for already-stored entries.
	more := append(entries[1:], testEntries(1)...)
	accepted, err = s.AppendEntries(ctx, "sess-1", more, 60, 2, transcript.Metrics{})
	if err != nil {
		t.Fatalf("AppendEntries() retry error = %v", err)
	}
	if accepted != 1 {
		t.Errorf("accepted on retry = %d, want 1", accepted)
	}

	got, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Transcript) != 4 {
		t.Errorf("transcript length = %d, want 4", len(got.Transcript))
	}
	if got.ElapsedTimeSeconds != 60 || got.QuestionCount != 2 {
		t.Errorf("progress not updated: %+v", got)
	}
}

func TestMemoryStoreAppendPreservesPrefix(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	first := testEntries(2)
	if _, err := s.AppendEntries(ctx, "sess-1", first, 10, 1, transcript.Metrics{}); err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}
	before, _ := s.Load(ctx, "sess-1")

	if _, err := s.AppendEntries(ctx, "sess-1", testEntries(2), 20, 2, transcript.Metrics{}); err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}
	after, _ := s.Load(ctx, "sess-1")

	// A later checkpoint's transcript is a prefix-compatible superset of
	// any earlier one.
	if len(after.Transcript) < len(before.Transcript) {
		t.Fatalf("later checkpoint dropped entries: %d -> %d", len(before.Transcript), len(after.Transcript))
	}
	for i, e := range before.Transcript {
		if after.Transcript[i].ID != e.ID {
			t.Errorf("entry %d reordered across checkpoints", i)
		}
	}
}

func TestMemoryStoreSetStatus(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if err := s.SetStatus(ctx, "missing", StatusPaused); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus() on missing = %v, want ErrNotFound", err)
	}

	_ = s.Save(ctx, &Checkpoint{SessionID: "sess-1", Status: StatusActive})
	if err := s.SetStatus(ctx, "sess-1", StatusInterrupted); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	got, _ := s.Load(ctx, "sess-1")
	if got.Status != StatusInterrupted {
		t.Errorf("Status = %v, want interrupted", got.Status)
	}
}

func TestMemoryStoreDeleteAndClose(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Save(ctx, &Checkpoint{SessionID: "sess-1"})
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Load(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after delete = %v, want ErrNotFound", err)
	}

	_ = s.Close()
	if err := s.Save(ctx, &Checkpoint{SessionID: "sess-2"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Save() after close = %v, want ErrStoreClosed", err)
	}
}
