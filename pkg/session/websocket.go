package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/interviewlab/sessionkit/pkg/backend"
	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// wsEnvelope is the abstract JSON event envelope carried over the voice
// channel. It is deliberately vendor-neutral; provider wire protocols are
// terminated upstream.
type wsEnvelope struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	wsTypeReady    = "ready"
	wsTypeMessage  = "message"
	wsTypeError    = "error"
	wsTypeUserText = "user_text"
)

// WebSocketTransport carries the provider event envelope over a
// WebSocket. A fresh event channel is created per Connect so the
// transport can be reused across pause/resume cycles.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	events  chan ProviderEvent
}

// NewWebSocketTransport creates a transport dialing the given URL.
func NewWebSocketTransport(url string, log zerolog.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("component", "ws-transport").Logger(),
	}
}

// Connect dials the channel, forwarding the backend-issued handle as
// headers, and starts the read loop.
func (t *WebSocketTransport) Connect(ctx context.Context, handle *backend.SessionHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return errors.New("transport already connected")
	}

	header := http.Header{}
	header.Set("X-Channel-Handle", handle.ChannelHandle)
	if handle.ProviderContext != "" {
		header.Set("X-Provider-Context", handle.ProviderContext)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s (status %d): %w", t.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	t.conn = conn
	t.events = make(chan ProviderEvent, 64)
	go t.readLoop(conn, t.events)
	return nil
}

// Send delivers a user utterance to the provider.
func (t *WebSocketTransport) Send(_ context.Context, text string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteJSON(wsEnvelope{Type: wsTypeUserText, Text: text}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Events yields provider events for the current connection.
func (t *WebSocketTransport) Events() <-chan ProviderEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Close sends a close frame and tears the socket down.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

// readLoop translates envelopes into provider events. Envelopes it cannot
// understand are logged and skipped; the channel closes when the socket
// does.
func (t *WebSocketTransport) readLoop(conn *websocket.Conn, events chan ProviderEvent) {
	defer close(events)
	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				events <- ProviderEvent{Kind: KindError, Err: err}
			}
			events <- ProviderEvent{Kind: KindDisconnected}
			return
		}

		switch env.Type {
		case wsTypeReady:
			events <- ProviderEvent{Kind: KindConnected}
		case wsTypeMessage:
			speaker := transcript.Speaker(env.Speaker)
			if speaker != transcript.SpeakerAgent && speaker != transcript.SpeakerUser {
				t.log.Warn().Str("speaker", env.Speaker).Msg("skipping message with unknown speaker")
				continue
			}
			events <- ProviderEvent{Kind: KindMessage, Speaker: speaker, Text: env.Text}
		case wsTypeError:
			events <- ProviderEvent{Kind: KindError, Err: errors.New(env.Message)}
		default:
			t.log.Warn().Str("type", env.Type).Msg("skipping unknown envelope type")
		}
	}
}
