package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/interviewlab/sessionkit/pkg/backend"
	"github.com/interviewlab/sessionkit/pkg/observability"
	"github.com/interviewlab/sessionkit/pkg/transcript"
)

const defaultResumeGreeting = "Welcome back! Let's pick up where we left off."

// Coordinator bridges checkpoints and live connections: it discovers
// prior progress, hydrates the connection from it, and drives the
// resume and start-fresh paths.
type Coordinator struct {
	backend Backend
	conn    *Connection
	log     zerolog.Logger
}

// NewCoordinator creates a coordinator around an existing connection.
func NewCoordinator(b Backend, conn *Connection, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		backend: b,
		conn:    conn,
		log:     log.With().Str("component", "coordinator").Logger(),
	}
}

// CheckExisting queries the backend recovery snapshot. When a checkpoint
// with a non-empty transcript exists, the connection is hydrated from it
// so prior progress is never silently discarded; the caller then chooses
// between Resume and StartFresh.
func (c *Coordinator) CheckExisting(ctx context.Context) (*backend.SessionState, error) {
	state, err := c.backend.SessionState(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrNoCheckpoint) {
			return &backend.SessionState{}, nil
		}
		return nil, err
	}

	if state.HasState && len(state.Transcript) > 0 {
		if err := c.conn.Hydrate(state); err != nil {
			return nil, err
		}
		c.log.Info().
			Int("entries", len(state.Transcript)).
			Str("status", state.Status).
			Msg("hydrated from checkpoint")
	}
	return state, nil
}

// Resume reopens the session from its checkpoint. The backend supplies
// the prior transcript to the provider as session-start context; on
// success a synthetic resuming turn is appended to the ledger. If no
// checkpoint exists server-side, Resume falls back to the start-fresh
// path rather than erroring.
func (c *Coordinator) Resume(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "session.resume")
	defer span.End()

	handle, err := c.conn.Start(ctx, StartOptions{Resume: true})
	if err != nil {
		if errors.Is(err, backend.ErrNoCheckpoint) {
			c.log.Info().Msg("no checkpoint server-side, starting fresh")
			return c.StartFresh(ctx)
		}
		return err
	}

	greeting := handle.ResumeGreeting
	if greeting == "" {
		greeting = defaultResumeGreeting
	}
	c.conn.Ledger().Append(transcript.NewEntry(transcript.SpeakerAgent, greeting, time.Now()))
	return nil
}

// StartFresh clears all local session state, then opens a new channel
// instructing the backend to discard the previous checkpoint.
func (c *Coordinator) StartFresh(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "session.start_fresh")
	defer span.End()

	if err := c.conn.Reset(); err != nil {
		return err
	}
	_, err := c.conn.Start(ctx, StartOptions{ClearExisting: true})
	return err
}
