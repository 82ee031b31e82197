// Package stream decodes chunked event streams produced by long-running
// generation endpoints (interview feedback, resume improvement, cover-letter
// drafting). A raw byte stream arrives in arbitrary-sized pieces; the
// decoder reassembles framed records and emits typed, named events in frame
// order, exactly once.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/interviewlab/sessionkit/pkg/observability"
)

// Well-known event types emitted by the generation endpoints.
const (
	// EventChunk carries an incremental piece of generated text.
	EventChunk = "chunk"
	// EventComplete is terminal and carries the full generated text.
	EventComplete = "complete"
	// EventError is terminal and carries an error message.
	EventError = "error"
)

// recordSeparator delimits framed records in the raw stream.
const recordSeparator = "\n\n"

// Event is one decoded record from the stream.
type Event struct {
	// Type is the event name tag.
	Type string
	// Data is the parsed event payload.
	Data map[string]any
}

// Text returns the "text" payload field, if present.
func (e Event) Text() string {
	s, _ := e.Data["text"].(string)
	return s
}

// FullText returns the "fullText" payload field carried by complete events.
func (e Event) FullText() string {
	s, _ := e.Data["fullText"].(string)
	return s
}

// Message returns the "message" payload field carried by error events.
func (e Event) Message() string {
	s, _ := e.Data["message"].(string)
	return s
}

// Decoder turns a sequence of opaque text fragments into ordered events.
// Fragments may be split at arbitrary byte boundaries; the decoder keeps a
// single pending buffer and retains any trailing partial record between
// calls. Decoder is not safe for concurrent use; feed it from one goroutine.
type Decoder struct {
	pending string
	done    bool
	log     zerolog.Logger
}

// NewDecoder creates a decoder.
func NewDecoder(log zerolog.Logger) *Decoder {
	return &Decoder{log: log.With().Str("component", "stream").Logger()}
}

// Done reports whether a terminal event has been emitted. After that, Feed
// returns nil: no event is ever delivered twice or after termination.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends a fragment to the pending buffer and returns every event
// whose record completed with this fragment. Malformed records are logged
// and skipped; this is non-fatal and the stream continues.
func (d *Decoder) Feed(fragment string) []Event {
	if d.done {
		return nil
	}
	d.pending += fragment

	var events []Event
	for {
		idx := strings.Index(d.pending, recordSeparator)
		if idx < 0 {
			break
		}
		record := d.pending[:idx]
		d.pending = d.pending[idx+len(recordSeparator):]

		ev, ok := d.decodeRecord(record)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Type == EventComplete || ev.Type == EventError {
			d.done = true
			d.pending = ""
			break
		}
	}
	return events
}

// Close drains any complete trailing record after the underlying stream has
// ended. A trailing partial record is discarded.
func (d *Decoder) Close() []Event {
	if d.done || strings.TrimSpace(d.pending) == "" {
		d.pending = ""
		d.done = true
		return nil
	}
	record := d.pending
	d.pending = ""
	d.done = true
	if ev, ok := d.decodeRecord(record); ok {
		return []Event{ev}
	}
	return nil
}

// decodeRecord parses one framed record of the form:
//
//	event: <name>
//	data: <json>
func (d *Decoder) decodeRecord(record string) (Event, bool) {
	if strings.TrimSpace(record) == "" {
		return Event{}, false
	}

	ev := Event{}
	var dataLines []string
	for _, line := range strings.Split(record, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if ev.Type == "" {
		d.skipMalformed(record, errors.New("missing event name"))
		return Event{}, false
	}
	if len(dataLines) > 0 {
		raw := strings.Join(dataLines, "\n")
		if err := json.Unmarshal([]byte(raw), &ev.Data); err != nil {
			d.skipMalformed(record, fmt.Errorf("parse payload: %w", err))
			return Event{}, false
		}
	}

	observability.RecordStreamEvent(ev.Type)
	return ev, true
}

func (d *Decoder) skipMalformed(record string, err error) {
	observability.RecordStreamDecodeFailure()
	d.log.Warn().Err(err).Str("record", truncate(record, 120)).
		Msg("skipping malformed stream record")
}

// DecodeStream pumps a chunked HTTP response body through a decoder,
// invoking fn for each event in order. It returns when a terminal event has
// been handled, the stream ends, fn returns an error, or the context is
// cancelled.
func DecodeStream(ctx context.Context, r io.Reader, log zerolog.Logger, fn func(Event) error) error {
	d := NewDecoder(log)
	buf := make([]byte, 4096)

	emit := func(events []Event) error {
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if emitErr := emit(d.Feed(string(buf[:n]))); emitErr != nil {
				return emitErr
			}
			if d.Done() {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return emit(d.Close())
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
