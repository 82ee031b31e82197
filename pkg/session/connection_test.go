package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/interviewlab/sessionkit/internal/batcher"
	"github.com/interviewlab/sessionkit/pkg/backend"
	"github.com/interviewlab/sessionkit/pkg/closing"
	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// fakeTransport scripts provider behavior for state machine tests.
type fakeTransport struct {
	mu         sync.Mutex
	events     chan ProviderEvent
	sent       []string
	connectErr error
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(_ context.Context, _ *backend.SessionHandle) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.events = make(chan ProviderEvent, 64)
	f.closed = false
	f.mu.Unlock()
	f.events <- ProviderEvent{Kind: KindConnected}
	return nil
}

func (f *fakeTransport) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) Events() <-chan ProviderEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.events <- ProviderEvent{Kind: KindDisconnected}
	close(f.events)
	return nil
}

// emit delivers a speaker message as if the provider sent it.
func (f *fakeTransport) emit(speaker transcript.Speaker, text string) {
	f.events <- ProviderEvent{Kind: KindMessage, Speaker: speaker, Text: text}
}

// drop simulates an unintentional provider disconnect.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.events <- ProviderEvent{Kind: KindDisconnected}
	close(f.events)
}

// fakeBackend records calls and emulates idempotent transcript storage.
type fakeBackend struct {
	mu            sync.Mutex
	entries       []transcript.Entry
	seen          map[string]bool
	elapsed       int
	questions     int
	status        string
	resumeErr     error
	feedbackWith  []transcript.Entry
	feedbackID    string
	endCalls      int
	pauseCalls    int
	interruptions int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{seen: make(map[string]bool), feedbackID: "fb-1"}
}

func (f *fakeBackend) StartSession(context.Context, bool) (*backend.SessionHandle, error) {
	return &backend.SessionHandle{ChannelHandle: "chan-1"}, nil
}

func (f *fakeBackend) ResumeSession(context.Context) (*backend.SessionHandle, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return &backend.SessionHandle{ChannelHandle: "chan-2", ResumeGreeting: "Welcome back!"}, nil
}

func (f *fakeBackend) AppendTranscript(_ context.Context, req backend.AppendTranscriptRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accepted := 0
	for _, e := range req.Entries {
		if f.seen[e.ID] {
			continue
		}
		f.seen[e.ID] = true
		f.entries = append(f.entries, e)
		accepted++
	}
	f.elapsed = req.ElapsedTime
	f.questions = req.QuestionCount
	return accepted, nil
}

func (f *fakeBackend) PauseSession(_ context.Context, req backend.PauseSessionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	f.status = "paused"
	f.elapsed = req.ElapsedTime
	return nil
}

func (f *fakeBackend) MarkInterrupted(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interruptions++
	f.status = "interrupted"
	return nil
}

func (f *fakeBackend) SessionState(context.Context) (*backend.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]transcript.Entry, len(f.entries))
	copy(entries, f.entries)
	return &backend.SessionState{
		HasState:      len(entries) > 0,
		Transcript:    entries,
		ElapsedTime:   f.elapsed,
		QuestionCount: f.questions,
		Status:        f.status,
	}, nil
}

func (f *fakeBackend) EndSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	return nil
}

func (f *fakeBackend) GenerateFeedback(_ context.Context, req backend.GenerateFeedbackRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbackWith = req.Transcript
	return f.feedbackID, nil
}

type deniedGranter struct{}

func (deniedGranter) Acquire(context.Context) (func(), error) {
	return nil, errors.New("permission denied by user")
}

// stalledGranter never answers, so acquisition runs into the timeout.
type stalledGranter struct{}

func (stalledGranter) Acquire(ctx context.Context) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testConfig() Config {
	return Config{
		ConnectTimeout:    time.Second,
		CapabilityTimeout: time.Second,
		ClosingDelay:      20 * time.Millisecond,
		Batch:             batcher.Config{MaxBatch: 5, IdleFlush: 50 * time.Millisecond},
	}
}

func newTestConnection(b Backend, t Transport) *Connection {
	return NewConnection(b, t, NopGranter{}, closing.NewDetector(), testConfig(), zerolog.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStartCapabilityDenied(t *testing.T) {
	conn := NewConnection(newFakeBackend(), newFakeTransport(), deniedGranter{},
		closing.NewDetector(), testConfig(), zerolog.Nop())

	_, err := conn.Start(context.Background(), StartOptions{})
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("Start() error = %v, want ErrCapabilityDenied", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", conn.State())
	}
}

func TestStartCapabilityTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CapabilityTimeout = 20 * time.Millisecond
	conn := NewConnection(newFakeBackend(), newFakeTransport(), stalledGranter{},
		closing.NewDetector(), cfg, zerolog.Nop())

	_, err := conn.Start(context.Background(), StartOptions{})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Start() error = %v, want ErrConnectFailed", err)
	}
	if errors.Is(err, ErrCapabilityDenied) {
		t.Errorf("timeout classified as capability denial: %v", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", conn.State())
	}
}

func TestStartConnectFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("connection refused")
	conn := newTestConnection(newFakeBackend(), ft)

	_, err := conn.Start(context.Background(), StartOptions{})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Start() error = %v, want ErrConnectFailed", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", conn.State())
	}
}

func TestStartWhileActive(t *testing.T) {
	ft := newFakeTransport()
	conn := newTestConnection(newFakeBackend(), ft)

	if _, err := conn.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := conn.Start(context.Background(), StartOptions{}); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Start() = %v, want ErrAlreadyActive", err)
	}
	_ = conn.Close(context.Background())
}

func TestMessagesFlowInOrder(t *testing.T) {
	ft := newFakeTransport()
	fb := newFakeBackend()
	conn := newTestConnection(fb, ft)

	if _, err := conn.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ft.emit(transcript.SpeakerAgent, "Tell me about a project you led.")
	ft.emit(transcript.SpeakerUser, "I led the billing rewrite last year.")
	ft.emit(transcript.SpeakerAgent, "What was the hardest part?")

	waitFor(t, time.Second, func() bool { return conn.Ledger().Len() == 3 })

	entries := conn.Ledger().Entries()
	if entries[0].Speaker != transcript.SpeakerAgent || entries[1].Speaker != transcript.SpeakerUser {
		t.Errorf("entries out of order: %+v", entries)
	}
	if got := conn.QuestionCount(); got != 2 {
		t.Errorf("QuestionCount() = %d, want 2", got)
	}
	if m := conn.Metrics(); m.TotalWordsSpoken != 7 {
		t.Errorf("TotalWordsSpoken = %d, want 7", m.TotalWordsSpoken)
	}
	_ = conn.Close(context.Background())
}

func TestEndInsufficientTranscript(t *testing.T) {
	ft := newFakeTransport()
	conn := newTestConnection(newFakeBackend(), ft)

	if _, err := conn.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ft.emit(transcript.SpeakerAgent, "Tell me about yourself.")
	waitFor(t, time.Second, func() bool { return conn.Ledger().Len() == 1 })

	if _, err := conn.End(context.Background()); !errors.Is(err, ErrInsufficientTranscript) {
		t.Fatalf("End() error = %v, want ErrInsufficientTranscript", err)
	}
}

func TestPauseCheckpoints(t *testing.T) {
	ft := newFakeTransport()
	fb := newFakeBackend()
	conn := newTestConnection(fb, ft)

	if _, err := conn.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ft.emit(transcript.SpeakerAgent, "First question?")
	ft.emit(transcript.SpeakerUser, "First answer.")
	waitFor(t, time.Second, func() bool { return conn.Ledger().Len() == 2 })

	if err := conn.Pause(context.Background()); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", conn.State())
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.pauseCalls != 1 || fb.status != "paused" {
		t.Errorf("pause not checkpointed: calls=%d status=%q", fb.pauseCalls, fb.status)
	}
	if len(fb.entries) != 2 {
		t.Errorf("persisted %d entries before pause, want 2", len(fb.entries))
	}
	if fb.interruptions != 0 {
		t.Errorf("intentional pause marked interrupted")
	}
}

func TestClosingStatementAutoEnds(t *testing.T) {
	ft := newFakeTransport()
	fb := newFakeBackend()
	conn := newTestConnection(fb, ft)

	var (
		mu         sync.Mutex
		feedbackID string
		endErr     error
		fired      bool
	)
	conn.OnAutoEnd(func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		feedbackID, endErr, fired = id, err, true
	})

	if _, err := conn.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ft.emit(transcript.SpeakerAgent, "Why this role?")
	ft.emit(transcript.SpeakerUser, "I care about the mission.")
	ft.emit(transcript.SpeakerAgent, "That concludes our interview. Best of luck!")

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired
	})

	mu.Lock()
	defer mu.Unlock()
	if endErr != nil {
		t.Fatalf("auto end error = %v", endErr)
	}
	if feedbackID != "fb-1" {
		t.Errorf("feedback ID = %q, want fb-1", feedbackID)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", conn.State())
	}
}

// Interruption and recovery, end to end: turns arrive, the provider
// drops, the checkpoint reports the session interrupted, a resume opens a
// new channel with prior context, and feedback sees every original entry
// exactly once.
func TestInterruptionRecoveryScenario(t *testing.T) {
	fb := newFakeBackend()
	ft := newFakeTransport()
	conn := newTestConnection(fb, ft)

	if _, err := conn.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	turns := []struct {
		speaker transcript.Speaker
		text    string
	}{
		{transcript.SpeakerAgent, "Tell me about yourself."},
		{transcript.SpeakerUser, "I build streaming systems."},
		{transcript.SpeakerAgent, "What is your proudest project?"},
		{transcript.SpeakerUser, "A checkpointing layer for live sessions."},
		{transcript.SpeakerAgent, "How do you handle failure?"},
		{transcript.SpeakerUser, "Retry with idempotent writes."},
	}
	for _, turn := range turns {
		ft.emit(turn.speaker, turn.text)
	}
	waitFor(t, time.Second, func() bool { return conn.Ledger().Len() == 6 })
	originalIDs := make([]string, 0, 6)
	for _, e := range conn.Ledger().Entries() {
		originalIDs = append(originalIDs, e.ID)
	}

	ft.drop()
	waitFor(t, 2*time.Second, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return fb.status == "interrupted" && len(fb.entries) == 6
	})

	// A new visit discovers the interrupted checkpoint and resumes.
	ft2 := newFakeTransport()
	conn2 := newTestConnection(fb, ft2)
	coord := NewCoordinator(fb, conn2, zerolog.Nop())

	state, err := coord.CheckExisting(context.Background())
	if err != nil {
		t.Fatalf("CheckExisting() error = %v", err)
	}
	if !state.HasState || len(state.Transcript) != 6 || state.Status != "interrupted" {
		t.Fatalf("state = %+v, want 6 interrupted entries", state)
	}

	if err := coord.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if conn2.State() != StateConnected {
		t.Fatalf("state after resume = %v, want connected", conn2.State())
	}

	// One more exchange, then the session completes.
	ft2.emit(transcript.SpeakerAgent, "Where were we? Ah: any questions for me?")
	ft2.emit(transcript.SpeakerUser, "No, thank you.")
	waitFor(t, time.Second, func() bool { return conn2.Ledger().Len() == 9 })

	if _, err := conn2.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	seen := make(map[string]int)
	for _, e := range fb.feedbackWith {
		seen[e.ID]++
	}
	for i, id := range originalIDs {
		if seen[id] != 1 {
			t.Errorf("original entry %d appears %d times in feedback transcript", i, seen[id])
		}
	}
	for i, id := range originalIDs {
		if fb.feedbackWith[i].ID != id {
			t.Errorf("feedback entry %d out of order", i)
		}
	}
}
