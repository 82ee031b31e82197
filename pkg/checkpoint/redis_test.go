package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/interviewlab/sessionkit/pkg/transcript"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "", 0)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStoreSaveLoadRoundtrip(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	cp := &Checkpoint{
		SessionID:          "sess-1",
		Transcript:         testEntries(5),
		ElapsedTimeSeconds: 300,
		QuestionCount:      3,
		Metrics: transcript.Metrics{
			FillerWordCount:          2,
			TotalWordsSpoken:         80,
			TotalSpeakingTimeSeconds: 95,
			WordsPerMinute:           51,
			FillerWordsDetected:      []string{"um", "like"},
		},
		Status: StatusPaused,
	}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Transcript) != 5 {
		t.Fatalf("transcript length = %d, want 5", len(got.Transcript))
	}
	for i := range got.Transcript {
		if got.Transcript[i].ID != cp.Transcript[i].ID {
			t.Errorf("entry %d out of order", i)
		}
	}
	if got.Status != StatusPaused || got.QuestionCount != 3 || got.ElapsedTimeSeconds != 300 {
		t.Errorf("metadata mismatch: %+v", got)
	}
	if got.Metrics.FillerWordCount != 2 || len(got.Metrics.FillerWordsDetected) != 2 {
		t.Errorf("metrics mismatch: %+v", got.Metrics)
	}
}

func TestRedisStoreLoadMissing(t *testing.T) {
	s := newTestRedisStore(t)
	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreAppendEntriesDeduplicates(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	entries := testEntries(3)
	accepted, err := s.AppendEntries(ctx, "sess-1", entries, 45, 2, transcript.Metrics{TotalWordsSpoken: 12})
	if err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}
	if accepted != 3 {
		t.Errorf("accepted = %d, want 3", accepted)
	}

	// Retry the same batch: idempotent by entry ID.
	accepted, err = s.AppendEntries(ctx, "sess-1", entries, 50, 2, transcript.Metrics{TotalWordsSpoken: 12})
	if err != nil {
		t.Fatalf("AppendEntries() retry error = %v", err)
	}
	if accepted != 0 {
		t.Errorf("accepted on retry = %d, want 0", accepted)
	}

	got, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Transcript) != 3 {
		t.Errorf("transcript length = %d, want 3", len(got.Transcript))
	}
	if got.ElapsedTimeSeconds != 50 {
		t.Errorf("elapsed = %d, want 50", got.ElapsedTimeSeconds)
	}
	if got.Status != StatusActive {
		t.Errorf("implicit status = %v, want active", got.Status)
	}
}

func TestRedisStoreSetStatus(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if err := s.SetStatus(ctx, "missing", StatusInterrupted); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetStatus() on missing = %v, want ErrNotFound", err)
	}

	if _, err := s.AppendEntries(ctx, "sess-1", testEntries(1), 5, 1, transcript.Metrics{}); err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}
	if err := s.SetStatus(ctx, "sess-1", StatusInterrupted); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	got, _ := s.Load(ctx, "sess-1")
	if got.Status != StatusInterrupted {
		t.Errorf("Status = %v, want interrupted", got.Status)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, &Checkpoint{SessionID: "sess-1", Transcript: testEntries(2)})
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Load(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after delete = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "", time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	if err := s.Save(ctx, &Checkpoint{SessionID: "sess-1", Transcript: testEntries(1)}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Load(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after TTL expiry = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreClosed(t *testing.T) {
	s := newTestRedisStore(t)
	_ = s.Close()
	if err := s.Save(context.Background(), &Checkpoint{SessionID: "x"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Save() after close = %v, want ErrStoreClosed", err)
	}
}
