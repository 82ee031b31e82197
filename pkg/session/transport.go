// Package session orchestrates live interview sessions: the connection
// state machine, provider transport, recovery from checkpoints, and the
// pause/resume/end lifecycle.
package session

import (
	"context"

	"github.com/interviewlab/sessionkit/pkg/backend"
	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// EventKind classifies events emitted by a provider transport.
type EventKind string

const (
	// KindConnected is the provider's acknowledgment that the channel
	// is open and the interview can begin.
	KindConnected EventKind = "connected"
	// KindMessage is one speaker-attributed text fragment.
	KindMessage EventKind = "message"
	// KindDisconnected means the channel closed, intentionally or not.
	KindDisconnected EventKind = "disconnected"
	// KindError carries a transport-level failure. The transport emits
	// KindDisconnected afterwards if the channel is no longer usable.
	KindError EventKind = "error"
)

// ProviderEvent is the normalized event contract every transport must
// produce, regardless of the vendor protocol underneath.
type ProviderEvent struct {
	Kind    EventKind
	Speaker transcript.Speaker
	Text    string
	Err     error
}

// Transport is the live channel to the AI provider. Implementations own
// their read loop and deliver all activity through Events; the channel is
// closed when the transport shuts down.
type Transport interface {
	// Connect opens the channel using the handle issued by the backend.
	Connect(ctx context.Context, handle *backend.SessionHandle) error
	// Send delivers a user utterance to the provider.
	Send(ctx context.Context, text string) error
	// Events yields provider events in arrival order.
	Events() <-chan ProviderEvent
	// Close tears the channel down. Safe to call more than once.
	Close() error
}

// CapabilityGranter acquires the exclusive device capability a session
// needs before its transport may open (the microphone, in voice mode).
// Acquire returns a release function that must be called on teardown.
type CapabilityGranter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// NopGranter satisfies CapabilityGranter for modes that need no device
// capability, such as text interviews.
type NopGranter struct{}

func (NopGranter) Acquire(context.Context) (func(), error) {
	return func() {}, nil
}

// Backend is the slice of the coaching backend the session machinery
// uses. *backend.Client satisfies it.
type Backend interface {
	StartSession(ctx context.Context, clearExisting bool) (*backend.SessionHandle, error)
	ResumeSession(ctx context.Context) (*backend.SessionHandle, error)
	AppendTranscript(ctx context.Context, req backend.AppendTranscriptRequest) (int, error)
	PauseSession(ctx context.Context, req backend.PauseSessionRequest) error
	MarkInterrupted(ctx context.Context) error
	SessionState(ctx context.Context) (*backend.SessionState, error)
	EndSession(ctx context.Context) error
	GenerateFeedback(ctx context.Context, req backend.GenerateFeedbackRequest) (string, error)
}
