package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/interviewlab/sessionkit/internal/batcher"
	"github.com/interviewlab/sessionkit/pkg/backend"
	"github.com/interviewlab/sessionkit/pkg/closing"
	"github.com/interviewlab/sessionkit/pkg/observability"
	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// State is the live connection state. The interrupted condition is not a
// live state; it is recorded in the checkpoint when the channel drops
// without passing through StateDisconnecting.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

// Config holds connection tuning. Zero values take defaults.
type Config struct {
	// Mode labels the session for metrics ("voice" or "text").
	Mode string
	// ConnectTimeout bounds the provider-connect handshake (default 10s).
	ConnectTimeout time.Duration
	// CapabilityTimeout bounds device-capability acquisition (default 10s).
	CapabilityTimeout time.Duration
	// ClosingDelay is the grace period between a detected closing
	// statement and automatic session end, letting in-flight speech
	// synthesis finish (default 3s).
	ClosingDelay time.Duration
	// Batch tunes the persistence batcher.
	Batch batcher.Config
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "voice"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CapabilityTimeout <= 0 {
		c.CapabilityTimeout = 10 * time.Second
	}
	if c.ClosingDelay <= 0 {
		c.ClosingDelay = 3 * time.Second
	}
}

// StartOptions selects how a session begins.
type StartOptions struct {
	// Resume reopens the session from the backend checkpoint instead of
	// starting a new one.
	Resume bool
	// ClearExisting discards any prior checkpoint (start-fresh path).
	// Ignored when Resume is set.
	ClearExisting bool
}

// Connection is the state machine for one live interview channel. A
// single dispatcher goroutine consumes transport events, so ledger
// appends, metric updates, and batcher enqueues happen in arrival order.
type Connection struct {
	backend   Backend
	transport Transport
	granter   CapabilityGranter
	detector  *closing.Detector
	cfg       Config
	log       zerolog.Logger

	ledger  *transcript.Ledger
	metrics *transcript.Accumulator
	batch   *batcher.Batcher

	mu            sync.Mutex
	state         State
	questionCount int
	elapsedBase   int
	connectedAt   time.Time
	release       func()
	closingTimer  *time.Timer
	dispatchDone  chan struct{}

	// onAutoEnd is invoked after a closing statement triggers automatic
	// termination, with the result of the end path.
	onAutoEnd func(feedbackID string, err error)
}

// backendSink adapts the backend transcript-append endpoint to the
// batcher's sink contract.
type backendSink struct {
	b Backend
}

func (s backendSink) Persist(ctx context.Context, entries []transcript.Entry,
	elapsedTime, questionCount int, metrics transcript.Metrics) (int, error) {
	return s.b.AppendTranscript(ctx, backend.AppendTranscriptRequest{
		Entries:       entries,
		ElapsedTime:   elapsedTime,
		QuestionCount: questionCount,
		Metrics:       metrics,
	})
}

// NewConnection creates a disconnected session connection.
func NewConnection(b Backend, t Transport, g CapabilityGranter, d *closing.Detector,
	cfg Config, log zerolog.Logger) *Connection {
	cfg.applyDefaults()
	c := &Connection{
		backend:   b,
		transport: t,
		granter:   g,
		detector:  d,
		cfg:       cfg,
		log:       log.With().Str("component", "connection").Logger(),
		ledger:    transcript.NewLedger(),
		metrics:   transcript.NewAccumulator(),
		state:     StateDisconnected,
	}
	c.batch = batcher.New(backendSink{b}, c.Snapshot, cfg.Batch, log)
	return c
}

// OnAutoEnd registers a callback fired when a closing statement ends the
// session automatically.
func (c *Connection) OnAutoEnd(fn func(feedbackID string, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAutoEnd = fn
}

// State reports the current live state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ledger exposes the session transcript.
func (c *Connection) Ledger() *transcript.Ledger {
	return c.ledger
}

// Metrics returns the current metrics snapshot.
func (c *Connection) Metrics() transcript.Metrics {
	return c.metrics.Snapshot()
}

// QuestionCount reports how many prompts the agent has asked.
func (c *Connection) QuestionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.questionCount
}

// Elapsed reports total session seconds, including time accumulated
// before a resume.
func (c *Connection) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

func (c *Connection) elapsedLocked() int {
	elapsed := c.elapsedBase
	if c.state == StateConnected || c.state == StateDisconnecting {
		if !c.connectedAt.IsZero() {
			elapsed += int(time.Since(c.connectedAt).Seconds())
		}
	}
	return elapsed
}

// Snapshot reports progress for persistence: elapsed seconds, question
// count, and the metrics snapshot.
func (c *Connection) Snapshot() (int, int, transcript.Metrics) {
	c.mu.Lock()
	elapsed := c.elapsedLocked()
	questions := c.questionCount
	c.mu.Unlock()
	return elapsed, questions, c.metrics.Snapshot()
}

// Hydrate loads prior progress from a recovery snapshot. Only valid while
// disconnected.
func (c *Connection) Hydrate(state *backend.SessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		return ErrAlreadyActive
	}

	c.ledger.Clear()
	for _, e := range state.Transcript {
		c.ledger.Append(e)
	}
	c.metrics.Restore(state.Metrics)
	c.questionCount = state.QuestionCount
	c.elapsedBase = state.ElapsedTime
	return nil
}

// Reset clears all local session state for a fresh start.
func (c *Connection) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		return ErrAlreadyActive
	}

	c.ledger.Clear()
	c.metrics.Reset()
	c.questionCount = 0
	c.elapsedBase = 0
	c.connectedAt = time.Time{}
	return nil
}

func (c *Connection) setDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// Start acquires the device capability, obtains a channel handle from the
// backend, opens the transport, and waits for the provider's
// acknowledgment. On any failure the connection returns to disconnected
// with everything released.
func (c *Connection) Start(ctx context.Context, opts StartOptions) (*backend.SessionHandle, error) {
	ctx, span := observability.StartSpan(ctx, "session.start")
	defer span.End()

	c.mu.Lock()
	if c.state != StateDisconnected || c.dispatchDone != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	c.state = StateConnecting
	c.mu.Unlock()

	// Capability first: the transport never opens without it.
	capCtx, cancel := context.WithTimeout(ctx, c.cfg.CapabilityTimeout)
	release, err := c.granter.Acquire(capCtx)
	cancel()
	if err != nil {
		c.setDisconnected()
		span.RecordError(err)
		// A timed-out acquisition is a connection problem, not a denial.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: capability acquisition timed out", ErrConnectFailed)
		}
		return nil, fmt.Errorf("%w: %v", ErrCapabilityDenied, err)
	}

	var handle *backend.SessionHandle
	if opts.Resume {
		handle, err = c.backend.ResumeSession(ctx)
	} else {
		handle, err = c.backend.StartSession(ctx, opts.ClearExisting)
	}
	if err != nil {
		release()
		c.setDisconnected()
		return nil, err
	}

	connCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	err = c.transport.Connect(connCtx, handle)
	cancel()
	if err != nil {
		release()
		c.setDisconnected()
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	ready := make(chan struct{})
	done := make(chan struct{})
	c.mu.Lock()
	c.release = release
	c.dispatchDone = done
	c.mu.Unlock()
	go c.dispatch(ready, done)

	select {
	case <-ready:
	case <-done:
		return nil, fmt.Errorf("%w: channel closed before acknowledgment", ErrConnectFailed)
	case <-time.After(c.cfg.ConnectTimeout):
		_ = c.transport.Close()
		<-done
		return nil, fmt.Errorf("%w: no provider acknowledgment", ErrConnectFailed)
	case <-ctx.Done():
		_ = c.transport.Close()
		<-done
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, ctx.Err())
	}

	observability.RecordSessionStarted(c.cfg.Mode)
	c.log.Info().Str("mode", c.cfg.Mode).Bool("resume", opts.Resume).Msg("session connected")
	return handle, nil
}

// Send delivers a user utterance to the provider.
func (c *Connection) Send(ctx context.Context, text string) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	return c.transport.Send(ctx, text)
}

// dispatch is the single consumer of transport events. All transcript
// appends, metric updates, and batch enqueues happen here, preserving
// arrival order.
func (c *Connection) dispatch(ready chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	acked := false

	for ev := range c.transport.Events() {
		switch ev.Kind {
		case KindConnected:
			c.mu.Lock()
			c.state = StateConnected
			c.connectedAt = time.Now()
			c.mu.Unlock()
			if !acked {
				acked = true
				close(ready)
			}

		case KindMessage:
			c.handleMessage(ev)

		case KindError:
			c.log.Warn().Err(ev.Err).Msg("provider error")

		case KindDisconnected:
			c.handleDisconnect()
			return
		}
	}
	// Channel closed without an explicit disconnect event.
	c.handleDisconnect()
}

func (c *Connection) handleMessage(ev ProviderEvent) {
	entry := transcript.NewEntry(ev.Speaker, ev.Text, time.Now())
	c.ledger.Append(entry)
	c.metrics.ProcessEntry(entry)
	if err := c.batch.Enqueue(entry); err != nil {
		c.log.Warn().Err(err).Msg("entry not queued for persistence")
	}

	if ev.Speaker != transcript.SpeakerAgent {
		return
	}

	// Every agent utterance is a prompt or follow-up.
	c.mu.Lock()
	c.questionCount++
	c.mu.Unlock()

	if c.detector != nil && c.detector.IsClosing(ev.Text) {
		observability.RecordClosingStatement()
		c.log.Info().Dur("delay", c.cfg.ClosingDelay).Msg("closing statement detected, scheduling end")
		c.mu.Lock()
		if c.closingTimer == nil {
			c.closingTimer = time.AfterFunc(c.cfg.ClosingDelay, c.autoEnd)
		}
		c.mu.Unlock()
	}
}

func (c *Connection) autoEnd() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, err := c.End(ctx)
	c.mu.Lock()
	fn := c.onAutoEnd
	c.mu.Unlock()
	if fn != nil {
		fn(id, err)
	}
}

// handleDisconnect finalizes the live state when the channel closes. A
// drop that never passed through disconnecting marks the checkpoint
// interrupted so the next visit can offer resume.
func (c *Connection) handleDisconnect() {
	c.mu.Lock()
	intentional := c.state == StateDisconnecting
	c.state = StateDisconnected
	c.connectedAt = time.Time{}
	c.dispatchDone = nil
	c.stopClosingTimerLocked()
	release := c.release
	c.release = nil
	c.mu.Unlock()

	if release != nil {
		release()
	}
	if intentional {
		return
	}

	c.log.Warn().Msg("provider dropped connection")
	if c.ledger.Len() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.batch.Drain(ctx); err != nil {
		c.log.Error().Err(err).Msg("flush after drop failed")
	}
	if err := c.backend.MarkInterrupted(ctx); err != nil {
		c.log.Error().Err(err).Msg("mark-interrupted failed")
	} else {
		observability.RecordSessionInterrupted()
	}
}

func (c *Connection) stopClosingTimerLocked() {
	if c.closingTimer != nil {
		c.closingTimer.Stop()
		c.closingTimer = nil
	}
}

// End is the intentional termination path: force-flush, notify the
// backend, tear down the transport, then request feedback. Returns the
// feedback ID, or ErrInsufficientTranscript when the prepared transcript
// has no user responses.
func (c *Connection) End(ctx context.Context) (string, error) {
	ctx, span := observability.StartSpan(ctx, "session.end")
	defer span.End()

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	c.state = StateDisconnecting
	c.elapsedBase = c.elapsedBase + int(time.Since(c.connectedAt).Seconds())
	c.connectedAt = time.Time{}
	c.stopClosingTimerLocked()
	done := c.dispatchDone
	c.mu.Unlock()

	if err := c.batch.Drain(ctx); err != nil {
		c.log.Error().Err(err).Msg("final flush failed")
	}
	if err := c.backend.EndSession(ctx); err != nil {
		c.log.Error().Err(err).Msg("end-session failed")
	}

	c.teardown(ctx, done)

	prepared := c.ledger.PrepareForFeedback()
	if !transcript.HasUserContent(prepared) {
		return "", ErrInsufficientTranscript
	}

	feedbackID, err := c.backend.GenerateFeedback(ctx, backend.GenerateFeedbackRequest{Transcript: prepared})
	if err != nil {
		return "", fmt.Errorf("generate feedback: %w", err)
	}
	c.log.Info().Str("feedback_id", feedbackID).Msg("session ended")
	return feedbackID, nil
}

// Pause checkpoints progress and tears the channel down with status
// paused. Distinct from interruption: it is user-initiated and expected.
func (c *Connection) Pause(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "session.pause")
	defer span.End()

	c.mu.Lock()
	if c.state != StateConnected && c.state != StateConnecting {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.state = StateDisconnecting
	if !c.connectedAt.IsZero() {
		c.elapsedBase = c.elapsedBase + int(time.Since(c.connectedAt).Seconds())
		c.connectedAt = time.Time{}
	}
	c.stopClosingTimerLocked()
	done := c.dispatchDone
	c.mu.Unlock()

	if err := c.batch.Drain(ctx); err != nil {
		c.log.Error().Err(err).Msg("flush before pause failed")
	}

	elapsed, questions, metrics := c.Snapshot()
	if err := c.backend.PauseSession(ctx, backend.PauseSessionRequest{
		ElapsedTime:   elapsed,
		QuestionCount: questions,
		Metrics:       metrics,
	}); err != nil {
		c.log.Error().Err(err).Msg("pause-session failed")
	}

	c.teardown(ctx, done)
	c.log.Info().Int("elapsed", elapsed).Msg("session paused")
	return nil
}

// teardown closes the transport and waits for the dispatcher to finish so
// the next connecting transition never races a half-closed channel.
func (c *Connection) teardown(ctx context.Context, done <-chan struct{}) {
	_ = c.transport.Close()
	if done == nil {
		c.mu.Lock()
		c.state = StateDisconnected
		release := c.release
		c.release = nil
		c.mu.Unlock()
		if release != nil {
			release()
		}
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn().Msg("dispatcher did not stop before deadline")
	}
}

// Close releases everything, including the batcher. The connection cannot
// be started again afterwards.
func (c *Connection) Close(ctx context.Context) error {
	if c.State() == StateConnected {
		_ = c.Pause(ctx)
	}
	return c.batch.Close(ctx)
}
