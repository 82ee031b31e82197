// Package backend is the HTTP client for the coaching backend: session
// lifecycle, transcript persistence, recovery state, feedback generation,
// and the chunked generation stream.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoCheckpoint is returned by resume calls when the backend has no
// saved session for this user.
var ErrNoCheckpoint = errors.New("no checkpoint exists for this session")

const defaultTimeout = 30 * time.Second

// Client talks to the coaching backend over JSON/HTTP with bearer auth.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// NewClient creates a backend client. The token is sent as a bearer
// credential on every request.
func NewClient(baseURL, token string, log zerolog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
		log:     log.With().Str("component", "backend").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiError is the backend's error envelope.
type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// doJSON issues a request with a JSON body (nil for none) and decodes the
// JSON response into out (nil to discard). A 404 maps to ErrNoCheckpoint
// since the only resource the client addresses is the session checkpoint.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNoCheckpoint
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if jerr := json.Unmarshal(raw, &apiErr); jerr == nil && (apiErr.Error != "" || apiErr.Detail != "") {
			msg := apiErr.Error
			if msg == "" {
				msg = apiErr.Detail
			}
			return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StartSession begins a new voice session, optionally discarding any
// prior checkpoint.
func (c *Client) StartSession(ctx context.Context, clearExisting bool) (*SessionHandle, error) {
	var handle SessionHandle
	req := StartSessionRequest{ClearExisting: clearExisting}
	if err := c.doJSON(ctx, http.MethodPost, "/api/interview/start-session", req, &handle); err != nil {
		return nil, err
	}
	c.log.Info().Bool("clear_existing", clearExisting).Msg("session started")
	return &handle, nil
}

// ResumeSession reopens a voice session from the saved checkpoint.
// Returns ErrNoCheckpoint when none exists.
func (c *Client) ResumeSession(ctx context.Context) (*SessionHandle, error) {
	var handle SessionHandle
	if err := c.doJSON(ctx, http.MethodPost, "/api/interview/resume-session", nil, &handle); err != nil {
		return nil, err
	}
	c.log.Info().Msg("session resumed")
	return &handle, nil
}

// AppendTranscript persists a batch of entries. The backend de-duplicates
// by entry ID, so retrying a batch is safe; the returned count is the
// number of entries that were new.
func (c *Client) AppendTranscript(ctx context.Context, req AppendTranscriptRequest) (int, error) {
	var resp AppendTranscriptResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/interview/append-transcript", req, &resp); err != nil {
		return 0, err
	}
	return resp.Accepted, nil
}

// PauseSession checkpoints progress and marks the session paused.
func (c *Client) PauseSession(ctx context.Context, req PauseSessionRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/interview/pause-session", req, nil)
}

// MarkInterrupted flags the checkpoint after an unexpected disconnect so
// the next visit offers to resume.
func (c *Client) MarkInterrupted(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/interview/mark-interrupted", nil, nil)
}

// SessionState queries the recovery snapshot for this user.
func (c *Client) SessionState(ctx context.Context) (*SessionState, error) {
	var state SessionState
	if err := c.doJSON(ctx, http.MethodGet, "/api/interview/session-state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// EndSession closes the session on the backend.
func (c *Client) EndSession(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/interview/end-session", nil, nil)
}

// GenerateFeedback submits the final transcript for scoring and returns
// the feedback record ID.
func (c *Client) GenerateFeedback(ctx context.Context, req GenerateFeedbackRequest) (string, error) {
	var resp GenerateFeedbackResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/interview/generate-feedback", req, &resp); err != nil {
		return "", err
	}
	return resp.FeedbackID, nil
}

// StartTextSession begins a text-mode interview.
func (c *Client) StartTextSession(ctx context.Context, clearExisting bool) (*SessionHandle, error) {
	var handle SessionHandle
	req := StartSessionRequest{ClearExisting: clearExisting}
	if err := c.doJSON(ctx, http.MethodPost, "/api/interview/text/start-session", req, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// ResumeTextSession reopens a text-mode interview from its checkpoint.
// Returns ErrNoCheckpoint when none exists.
func (c *Client) ResumeTextSession(ctx context.Context) (*SessionHandle, error) {
	var handle SessionHandle
	if err := c.doJSON(ctx, http.MethodPost, "/api/interview/text/resume-session", nil, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// SendTextMessage sends one user turn and returns the agent's reply. In
// text mode the reply's metrics are authoritative.
func (c *Client) SendTextMessage(ctx context.Context, req TextMessageRequest) (*TextMessageReply, error) {
	var reply TextMessageReply
	if err := c.doJSON(ctx, http.MethodPost, "/api/interview/text/send-message", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// PauseTextSession checkpoints a text-mode interview.
func (c *Client) PauseTextSession(ctx context.Context, req PauseSessionRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/interview/text/pause-session", req, nil)
}

// TextSessionState queries the recovery snapshot for a text-mode interview.
func (c *Client) TextSessionState(ctx context.Context) (*SessionState, error) {
	var state SessionState
	if err := c.doJSON(ctx, http.MethodGet, "/api/interview/text/session-state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// EndTextSession closes a text-mode interview on the backend.
func (c *Client) EndTextSession(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/interview/text/end-session", nil, nil)
}

// GenerateStream starts a chunked generation (resume improvement,
// cover-letter drafting) and returns the raw stream body. The caller
// owns the ReadCloser and typically hands it to stream.DecodeStream.
func (c *Client) GenerateStream(ctx context.Context, req GenerateStreamRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate-stream", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	// The request timeout would cut long generations short; streams are
	// bounded by ctx instead.
	streamClient := *c.client
	streamClient.Timeout = 0

	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate-stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("backend error (status %d): %s", resp.StatusCode, string(raw))
	}
	return resp.Body, nil
}
