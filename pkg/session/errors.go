package session

import (
	"errors"
	"strings"
)

// Sentinel errors for session lifecycle failures.
var (
	// ErrCapabilityDenied means the device capability (microphone) was
	// refused; starting cannot proceed without user action.
	ErrCapabilityDenied = errors.New("capability denied")
	// ErrConnectFailed means the provider channel could not be opened.
	ErrConnectFailed = errors.New("failed to connect")
	// ErrAlreadyActive means a start was attempted while a previous
	// transport had not been fully torn down.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotConnected means the operation requires a live session.
	ErrNotConnected = errors.New("session not connected")
	// ErrInsufficientTranscript means the prepared transcript contains
	// no user responses, so feedback cannot be generated.
	ErrInsufficientTranscript = errors.New("no responses recorded")
)

// User-facing messages for classified provider errors.
const (
	msgCapabilityDenied = "Microphone access was denied. Please allow microphone access and try again."
	msgConnectionClosed = "The connection to the interviewer was lost."
	msgAgentNotFound    = "The interviewer is unavailable right now. Please try again later."
	msgGeneric          = "A connection error occurred. Please try again."
)

// UserMessage maps a transport or provider error to the message shown to
// the user. Classification inspects error text for known substrings; the
// provider does not expose structured error codes.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCapabilityDenied) {
		return msgCapabilityDenied
	}
	if errors.Is(err, ErrInsufficientTranscript) {
		return "No responses were recorded, so feedback cannot be generated."
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "permission"):
		return msgCapabilityDenied
	case strings.Contains(text, "connection closed"), strings.Contains(text, "connection reset"):
		return msgConnectionClosed
	case strings.Contains(text, "agent not found"):
		return msgAgentNotFound
	default:
		return msgGeneric
	}
}
