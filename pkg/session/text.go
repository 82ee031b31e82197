package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interviewlab/sessionkit/pkg/backend"
	"github.com/interviewlab/sessionkit/pkg/checkpoint"
	"github.com/interviewlab/sessionkit/pkg/closing"
	"github.com/interviewlab/sessionkit/pkg/observability"
	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// TextBackend is the slice of the coaching backend used by text-mode
// interviews. *backend.Client satisfies it.
type TextBackend interface {
	StartTextSession(ctx context.Context, clearExisting bool) (*backend.SessionHandle, error)
	ResumeTextSession(ctx context.Context) (*backend.SessionHandle, error)
	SendTextMessage(ctx context.Context, req backend.TextMessageRequest) (*backend.TextMessageReply, error)
	PauseTextSession(ctx context.Context, req backend.PauseSessionRequest) error
	TextSessionState(ctx context.Context) (*backend.SessionState, error)
	EndTextSession(ctx context.Context) error
	GenerateFeedback(ctx context.Context, req backend.GenerateFeedbackRequest) (string, error)
}

// TextSession is the request/response analog of Connection for interviews
// conducted over text. There is no voice clock in this mode, so the
// metrics carried on each backend reply are authoritative.
type TextSession struct {
	backend  TextBackend
	detector *closing.Detector
	log      zerolog.Logger

	ledger *transcript.Ledger
	store  checkpoint.Store

	mu            sync.Mutex
	sessionID     string
	active        bool
	questionCount int
	maxQuestions  int
	elapsedBase   int
	startedAt     time.Time
	metrics       transcript.Metrics
}

// TextTurn is the result of one exchange, ready for rendering.
type TextTurn struct {
	Reply         string
	QuestionCount int
	MaxQuestions  int
	Closing       bool
}

// NewTextSession creates an inactive text session.
func NewTextSession(b TextBackend, d *closing.Detector, log zerolog.Logger) *TextSession {
	return &TextSession{
		backend:  b,
		detector: d,
		log:      log.With().Str("component", "text-session").Logger(),
		ledger:   transcript.NewLedger(),
	}
}

// UseStore attaches a local checkpoint store. Progress is mirrored into
// it on every exchange and pause, and the mirror is cleared when the
// session runs to completion. Must be set before Start or Resume.
func (s *TextSession) UseStore(store checkpoint.Store) {
	s.store = store
}

// SessionID returns the mirror key for the running session, empty before
// the first Start or Resume.
func (s *TextSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Ledger exposes the session transcript.
func (s *TextSession) Ledger() *transcript.Ledger {
	return s.ledger
}

// Metrics returns the latest backend-reported metrics.
func (s *TextSession) Metrics() transcript.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// QuestionCount reports how many prompts the agent has asked.
func (s *TextSession) QuestionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionCount
}

// MaxQuestions reports the interview's question budget, when the backend
// announces one (0 otherwise).
func (s *TextSession) MaxQuestions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxQuestions
}

// Elapsed reports total session seconds, including time before a resume.
func (s *TextSession) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *TextSession) elapsedLocked() int {
	elapsed := s.elapsedBase
	if s.active && !s.startedAt.IsZero() {
		elapsed += int(time.Since(s.startedAt).Seconds())
	}
	return elapsed
}

// Start begins a new text interview. The backend's opening question is
// appended as the first agent turn.
func (s *TextSession) Start(ctx context.Context, clearExisting bool) (string, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return "", ErrAlreadyActive
	}
	s.mu.Unlock()

	handle, err := s.backend.StartTextSession(ctx, clearExisting)
	if err != nil {
		return "", err
	}

	if clearExisting {
		s.ledger.Clear()
	}
	s.mu.Lock()
	s.active = true
	s.startedAt = time.Now()
	s.sessionID = handle.ChannelHandle
	if s.sessionID == "" {
		s.sessionID = uuid.New().String()
	}
	if clearExisting {
		s.questionCount = 0
		s.elapsedBase = 0
		s.metrics = transcript.Metrics{}
	}
	s.mu.Unlock()

	opening := handle.OpeningQuestion
	if opening != "" {
		s.ledger.Append(transcript.NewEntry(transcript.SpeakerAgent, opening, time.Now()))
		s.mu.Lock()
		s.questionCount++
		s.mu.Unlock()
	}

	s.mirror(ctx)
	observability.RecordSessionStarted("text")
	return opening, nil
}

// Resume reopens a text interview from its checkpoint, hydrating local
// state from the backend snapshot first. Falls back to a fresh start when
// no checkpoint exists server-side.
func (s *TextSession) Resume(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return "", ErrAlreadyActive
	}
	s.mu.Unlock()

	state, err := s.backend.TextSessionState(ctx)
	if err != nil && !errors.Is(err, backend.ErrNoCheckpoint) {
		return "", err
	}
	if state != nil && state.HasState && len(state.Transcript) > 0 {
		s.ledger.Clear()
		for _, e := range state.Transcript {
			s.ledger.Append(e)
		}
		s.mu.Lock()
		s.questionCount = state.QuestionCount
		s.elapsedBase = state.ElapsedTime
		s.metrics = state.Metrics
		s.mu.Unlock()
	}

	handle, err := s.backend.ResumeTextSession(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrNoCheckpoint) {
			s.log.Info().Msg("no text checkpoint server-side, starting fresh")
			return s.Start(ctx, true)
		}
		return "", err
	}

	s.mu.Lock()
	s.active = true
	s.startedAt = time.Now()
	if s.sessionID == "" {
		s.sessionID = handle.ChannelHandle
	}
	if s.sessionID == "" {
		s.sessionID = uuid.New().String()
	}
	s.mu.Unlock()

	greeting := handle.ResumeGreeting
	if greeting == "" {
		greeting = defaultResumeGreeting
	}
	s.ledger.Append(transcript.NewEntry(transcript.SpeakerAgent, greeting, time.Now()))
	s.mirror(ctx)
	observability.RecordSessionStarted("text")
	return greeting, nil
}

// Send delivers one user turn and appends both sides of the exchange to
// the ledger.
func (s *TextSession) Send(ctx context.Context, text string) (*TextTurn, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	elapsed := s.elapsedLocked()
	s.mu.Unlock()

	s.ledger.Append(transcript.NewEntry(transcript.SpeakerUser, text, time.Now()))

	reply, err := s.backend.SendTextMessage(ctx, backend.TextMessageRequest{
		Text:        text,
		ElapsedTime: elapsed,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.ledger.Append(transcript.NewEntry(transcript.SpeakerAgent, reply.Reply, time.Now()))

	s.mu.Lock()
	s.questionCount = reply.QuestionCount
	if reply.MaxQuestions > 0 {
		s.maxQuestions = reply.MaxQuestions
	}
	s.metrics = reply.Metrics
	s.mu.Unlock()

	isClosing := reply.IsClosingStatement
	if !isClosing && s.detector != nil {
		isClosing = s.detector.IsClosing(reply.Reply)
	}
	if isClosing {
		observability.RecordClosingStatement()
	}
	s.mirror(ctx)

	return &TextTurn{
		Reply:         reply.Reply,
		QuestionCount: reply.QuestionCount,
		MaxQuestions:  s.MaxQuestions(),
		Closing:       isClosing,
	}, nil
}

// Pause checkpoints progress and deactivates the session.
func (s *TextSession) Pause(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.elapsedBase = s.elapsedLocked()
	s.active = false
	s.startedAt = time.Time{}
	elapsed := s.elapsedBase
	questions := s.questionCount
	metrics := s.metrics
	s.mu.Unlock()

	if err := s.backend.PauseTextSession(ctx, backend.PauseSessionRequest{
		ElapsedTime:   elapsed,
		QuestionCount: questions,
		Metrics:       metrics,
	}); err != nil {
		return fmt.Errorf("pause session: %w", err)
	}

	s.mirror(ctx)
	if s.store != nil {
		if err := s.store.SetStatus(ctx, s.SessionID(), checkpoint.StatusPaused); err != nil {
			s.log.Warn().Err(err).Msg("checkpoint status update failed")
		}
	}
	s.log.Info().Int("elapsed", elapsed).Msg("text session paused")
	return nil
}

// End closes the interview and requests feedback. Returns the feedback
// ID, or ErrInsufficientTranscript when no user responses exist.
func (s *TextSession) End(ctx context.Context) (string, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return "", ErrNotConnected
	}
	s.elapsedBase = s.elapsedLocked()
	s.active = false
	s.startedAt = time.Time{}
	s.mu.Unlock()

	if err := s.backend.EndTextSession(ctx); err != nil {
		s.log.Error().Err(err).Msg("end-session failed")
	}

	prepared := s.ledger.PrepareForFeedback()
	if !transcript.HasUserContent(prepared) {
		return "", ErrInsufficientTranscript
	}

	feedbackID, err := s.backend.GenerateFeedback(ctx, backend.GenerateFeedbackRequest{Transcript: prepared})
	if err != nil {
		return "", fmt.Errorf("generate feedback: %w", err)
	}

	// A completed session has been consumed; the mirror is cleared.
	if s.store != nil {
		if err := s.store.Delete(ctx, s.SessionID()); err != nil {
			s.log.Warn().Err(err).Msg("checkpoint delete failed")
		}
	}
	s.log.Info().Str("feedback_id", feedbackID).Msg("text session ended")
	return feedbackID, nil
}

// mirror writes current progress to the local checkpoint store. Mirror
// failures never fail the exchange; the backend stays authoritative.
func (s *TextSession) mirror(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	id := s.sessionID
	elapsed := s.elapsedLocked()
	questions := s.questionCount
	metrics := s.metrics
	s.mu.Unlock()

	if _, err := s.store.AppendEntries(ctx, id, s.ledger.Entries(), elapsed, questions, metrics); err != nil {
		s.log.Warn().Err(err).Msg("checkpoint mirror write failed")
	}
}
