package backend

import (
	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// StartSessionRequest begins a new provider-backed voice session.
type StartSessionRequest struct {
	// ClearExisting discards any prior checkpoint for this user.
	ClearExisting bool `json:"clearExisting"`
}

// SessionHandle is returned by session start and resume calls. The
// channel handle and provider context are opaque to the client; they are
// forwarded verbatim to the provider transport.
type SessionHandle struct {
	ChannelHandle   string `json:"channelHandle"`
	ProviderContext string `json:"providerContext"`
	// ResumeGreeting is only present on resume responses ("Welcome
	// back! ..."), rendered as a synthetic agent turn.
	ResumeGreeting string `json:"resumeGreeting,omitempty"`
	// OpeningQuestion is only present on text-mode start responses; it
	// is the agent's first prompt.
	OpeningQuestion string `json:"openingQuestion,omitempty"`
}

// AppendTranscriptRequest carries a batch of transcript entries plus the
// progress snapshot taken when the batch was cut.
type AppendTranscriptRequest struct {
	Entries       []transcript.Entry `json:"entries"`
	ElapsedTime   int                `json:"elapsedTime"`
	QuestionCount int                `json:"questionCount"`
	Metrics       transcript.Metrics `json:"metrics"`
}

// AppendTranscriptResponse reports how many entries in the batch were new.
// A retried batch yields a lower count; that is expected, not an error.
type AppendTranscriptResponse struct {
	Accepted int `json:"accepted"`
}

// PauseSessionRequest checkpoints progress when the user pauses.
type PauseSessionRequest struct {
	ElapsedTime   int                `json:"elapsedTime"`
	QuestionCount int                `json:"questionCount"`
	Metrics       transcript.Metrics `json:"metrics"`
}

// SessionState is the recovery snapshot returned by the session-state
// query. HasState is false when no checkpoint exists for the user.
type SessionState struct {
	HasState      bool               `json:"hasState"`
	Transcript    []transcript.Entry `json:"transcript"`
	ElapsedTime   int                `json:"elapsedTime"`
	QuestionCount int                `json:"questionCount"`
	Metrics       transcript.Metrics `json:"metrics"`
	Status        string             `json:"status"`
}

// GenerateFeedbackRequest submits the final transcript for scoring.
type GenerateFeedbackRequest struct {
	Transcript []transcript.Entry `json:"transcript"`
}

// GenerateFeedbackResponse identifies the feedback record being prepared.
type GenerateFeedbackResponse struct {
	FeedbackID string `json:"feedbackId"`
}

// TextMessageRequest is one user turn in a text-mode interview.
type TextMessageRequest struct {
	Text        string `json:"text"`
	ElapsedTime int    `json:"elapsedTime"`
}

// TextMessageReply is the agent's answer to a text turn. Metrics are
// authoritative in text mode; the client does not run its own timing.
type TextMessageReply struct {
	Reply              string             `json:"reply"`
	QuestionCount      int                `json:"questionCount"`
	MaxQuestions       int                `json:"maxQuestions,omitempty"`
	IsClosingStatement bool               `json:"isClosingStatement"`
	Metrics            transcript.Metrics `json:"metrics"`
}

// GenerateStreamRequest asks for a chunked generation stream (resume
// improvement, cover-letter drafting).
type GenerateStreamRequest struct {
	Kind   string         `json:"kind"`
	Inputs map[string]any `json:"inputs,omitempty"`
}
