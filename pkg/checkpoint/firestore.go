package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// defaultCollection is the Firestore collection holding one document per
// session checkpoint.
const defaultCollection = "interview_sessions"

// FirestoreStore implements Store using Google Cloud Firestore, the
// production checkpoint storage. Each session maps to a single document;
// writes are merge-sets so a later checkpoint supersedes an earlier one
// without dropping fields.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// FirestoreConfig contains configuration for the Firestore store.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string
	// CredentialsFile is a service account key path; when empty,
	// Application Default Credentials are used.
	CredentialsFile string
	// Collection overrides the default collection name.
	Collection string
}

// NewFirestoreStore creates a Firestore-backed checkpoint store.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}

	return &FirestoreStore{client: client, collection: collection}, nil
}

// firestoreEntry mirrors transcript.Entry with firestore field tags.
type firestoreEntry struct {
	ID        string `firestore:"id"`
	Speaker   string `firestore:"speaker"`
	Text      string `firestore:"text"`
	Timestamp int64  `firestore:"timestamp"`
}

// firestoreCheckpoint is the stored document shape.
type firestoreCheckpoint struct {
	SessionID          string           `firestore:"sessionId"`
	Transcript         []firestoreEntry `firestore:"transcript"`
	ElapsedTimeSeconds int              `firestore:"elapsedTime"`
	QuestionCount      int              `firestore:"questionCount"`
	FillerWordCount    int              `firestore:"fillerWordCount"`
	TotalWordsSpoken   int              `firestore:"totalWordsSpoken"`
	TotalSpeakingTime  int              `firestore:"totalSpeakingTime"`
	WordsPerMinute     int              `firestore:"wordsPerMinute"`
	FillerWords        []string         `firestore:"fillerWordsDetected"`
	Status             string           `firestore:"status"`
	UpdatedAt          time.Time        `firestore:"updatedAt"`
}

func toDoc(cp *Checkpoint) firestoreCheckpoint {
	entries := make([]firestoreEntry, len(cp.Transcript))
	for i, e := range cp.Transcript {
		entries[i] = firestoreEntry{
			ID:        e.ID,
			Speaker:   string(e.Speaker),
			Text:      e.Text,
			Timestamp: e.Timestamp,
		}
	}
	return firestoreCheckpoint{
		SessionID:          cp.SessionID,
		Transcript:         entries,
		ElapsedTimeSeconds: cp.ElapsedTimeSeconds,
		QuestionCount:      cp.QuestionCount,
		FillerWordCount:    cp.Metrics.FillerWordCount,
		TotalWordsSpoken:   cp.Metrics.TotalWordsSpoken,
		TotalSpeakingTime:  cp.Metrics.TotalSpeakingTimeSeconds,
		WordsPerMinute:     cp.Metrics.WordsPerMinute,
		FillerWords:        cp.Metrics.FillerWordsDetected,
		Status:             string(cp.Status),
		UpdatedAt:          time.Now().UTC(),
	}
}

func fromDoc(doc firestoreCheckpoint) *Checkpoint {
	entries := make([]transcript.Entry, len(doc.Transcript))
	for i, e := range doc.Transcript {
		entries[i] = transcript.Entry{
			ID:        e.ID,
			Speaker:   transcript.Speaker(e.Speaker),
			Text:      e.Text,
			Timestamp: e.Timestamp,
		}
	}
	return &Checkpoint{
		SessionID:          doc.SessionID,
		Transcript:         entries,
		ElapsedTimeSeconds: doc.ElapsedTimeSeconds,
		QuestionCount:      doc.QuestionCount,
		Metrics: transcript.Metrics{
			FillerWordCount:          doc.FillerWordCount,
			TotalWordsSpoken:         doc.TotalWordsSpoken,
			TotalSpeakingTimeSeconds: doc.TotalSpeakingTime,
			WordsPerMinute:           doc.WordsPerMinute,
			FillerWordsDetected:      doc.FillerWords,
		},
		Status:    Status(doc.Status),
		UpdatedAt: doc.UpdatedAt,
	}
}

func (s *FirestoreStore) doc(sessionID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(sessionID)
}

// Save creates or supersedes the checkpoint for a session.
func (s *FirestoreStore) Save(ctx context.Context, cp *Checkpoint) error {
	if _, err := s.doc(cp.SessionID).Set(ctx, toDoc(cp)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves the checkpoint for a session.
func (s *FirestoreStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	snap, err := s.doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	var doc firestoreCheckpoint
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return fromDoc(doc), nil
}

// AppendEntries appends transcript entries inside a transaction so a
// retried batch never duplicates entries already stored.
func (s *FirestoreStore) AppendEntries(ctx context.Context, sessionID string, entries []transcript.Entry,
	elapsedTime, questionCount int, metrics transcript.Metrics) (int, error) {
	accepted := 0

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		accepted = 0

		existing := firestoreCheckpoint{SessionID: sessionID, Status: string(StatusActive)}
		snap, err := tx.Get(s.doc(sessionID))
		switch {
		case err == nil:
			if derr := snap.DataTo(&existing); derr != nil {
				return fmt.Errorf("decode checkpoint: %w", derr)
			}
		case status.Code(err) == codes.NotFound:
			// First flush creates the document.
		default:
			return fmt.Errorf("get checkpoint: %w", err)
		}

		known := make(map[string]bool, len(existing.Transcript))
		for _, e := range existing.Transcript {
			known[e.ID] = true
		}
		for _, e := range entries {
			if known[e.ID] {
				continue
			}
			known[e.ID] = true
			existing.Transcript = append(existing.Transcript, firestoreEntry{
				ID:        e.ID,
				Speaker:   string(e.Speaker),
				Text:      e.Text,
				Timestamp: e.Timestamp,
			})
			accepted++
		}

		existing.SessionID = sessionID
		existing.ElapsedTimeSeconds = elapsedTime
		existing.QuestionCount = questionCount
		existing.FillerWordCount = metrics.FillerWordCount
		existing.TotalWordsSpoken = metrics.TotalWordsSpoken
		existing.TotalSpeakingTime = metrics.TotalSpeakingTimeSeconds
		existing.WordsPerMinute = metrics.WordsPerMinute
		existing.FillerWords = metrics.FillerWordsDetected
		existing.UpdatedAt = time.Now().UTC()

		return tx.Set(s.doc(sessionID), existing)
	})
	if err != nil {
		return 0, fmt.Errorf("append entries: %w", err)
	}
	return accepted, nil
}

// SetStatus updates the lifecycle status of a session's checkpoint.
func (s *FirestoreStore) SetStatus(ctx context.Context, sessionID string, st Status) error {
	_, err := s.doc(sessionID).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(st)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// Delete removes a session's checkpoint document.
func (s *FirestoreStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.doc(sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
