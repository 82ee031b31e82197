// Package checkpoint provides durable snapshots of session progress,
// enabling pause/resume and recovery from involuntary disconnects.
// A checkpoint is created when a session begins, superseded (never deleted)
// on each flush or pause so recovery is idempotent, and cleared on
// resume-to-completion or an explicit start-fresh.
package checkpoint

import (
	"time"

	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// Status describes a checkpointed session's lifecycle state.
type Status string

const (
	// StatusActive is a session with a live connection.
	StatusActive Status = "active"
	// StatusPaused is a deliberate, user-initiated pause.
	StatusPaused Status = "paused"
	// StatusInterrupted is an involuntary disconnect with existing
	// progress, distinct from a pause.
	StatusInterrupted Status = "interrupted"
	// StatusCompleted is a session that finished normally.
	StatusCompleted Status = "completed"
)

// Checkpoint is a durable snapshot of one session's progress.
//
// A checkpoint's transcript is always a prefix-compatible superset of any
// previously stored checkpoint for the same session; entries are never
// dropped by a later checkpoint.
type Checkpoint struct {
	// SessionID identifies the session this checkpoint belongs to.
	SessionID string `json:"sessionId"`
	// Transcript is the ordered list of persisted turns.
	Transcript []transcript.Entry `json:"transcript"`
	// ElapsedTimeSeconds is the session's elapsed time at checkpoint.
	ElapsedTimeSeconds int `json:"elapsedTime"`
	// QuestionCount is the number of agent prompts so far.
	QuestionCount int `json:"questionCount"`
	// Metrics is the speaking metrics snapshot.
	Metrics transcript.Metrics `json:"metrics"`
	// Status is the session lifecycle state.
	Status Status `json:"status"`
	// UpdatedAt is when the checkpoint was last superseded.
	UpdatedAt time.Time `json:"updatedAt"`
}
