// Package sse decodes the Claude-web server-sent-event byte stream into
// typed Anthropic streaming events.
//
// The parser is pull-based: callers drain it with Next until io.EOF. It
// tolerates frames split at arbitrary chunk boundaries, normalizes CRLF
// line endings, drops malformed frames without failing the stream, and
// rewrites Claude-web private events into their public Anthropic shape
// before typing.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/saffronlabs/saffron/pkg/anthropic"
)

// EventStream is a pull iterator over streaming events. Next returns
// io.EOF when the stream is exhausted; Close releases the upstream.
type EventStream interface {
	Next() (*anthropic.Event, error)
	Close() error
}

// Stream parses an SSE byte stream into anthropic.Events.
type Stream struct {
	r       io.ReadCloser
	buf     []byte
	readBuf []byte
	carryCR bool
	pending []*anthropic.Event

	skipUnknown bool
	flushed     bool
	closed      bool
}

type Option func(*Stream)

// WithSkipUnknownEvents controls handling of payloads outside the event
// union: skipped when true (the default), surfaced as fallback Unknown
// events when false.
func WithSkipUnknownEvents(skip bool) Option {
	return func(s *Stream) {
		s.skipUnknown = skip
	}
}

// NewStream wraps an upstream SSE body. The stream owns r and closes it
// via Close.
func NewStream(r io.ReadCloser, opts ...Option) *Stream {
	s := &Stream{
		r:           r,
		readBuf:     make([]byte, 4096),
		skipUnknown: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next typed event, io.EOF once the upstream is drained
// and flushed, or the upstream read error verbatim.
func (s *Stream) Next() (*anthropic.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		if s.flushed {
			return nil, io.EOF
		}

		n, err := s.r.Read(s.readBuf)
		if n > 0 {
			s.appendChunk(s.readBuf[:n])
			s.processBuffer()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.flush()
				continue
			}
			return nil, err
		}
	}
}

// Close closes the upstream body. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.r.Close()
}

// appendChunk normalizes CRLF to LF while accumulating, carrying a
// trailing CR across chunk boundaries.
func (s *Stream) appendChunk(p []byte) {
	if s.carryCR {
		s.carryCR = false
		if len(p) > 0 && p[0] == '\n' {
			// CR/LF pair split across chunks; collapse to the LF below.
		} else {
			s.buf = append(s.buf, '\r')
		}
	}
	if len(p) > 0 && p[len(p)-1] == '\r' {
		s.carryCR = true
		p = p[:len(p)-1]
	}
	s.buf = append(s.buf, bytes.ReplaceAll(p, []byte("\r\n"), []byte("\n"))...)
}

// flush processes whatever remains in the buffer when the upstream ends,
// treating it as one final message if it has any non-whitespace content.
func (s *Stream) flush() {
	s.flushed = true
	if s.carryCR {
		s.buf = append(s.buf, '\r')
		s.carryCR = false
	}
	if len(bytes.TrimSpace(s.buf)) == 0 {
		return
	}
	slog.Warn("Flushing incomplete SSE buffer", "bytes", len(s.buf))
	s.buf = append(s.buf, '\n', '\n')
	s.processBuffer()
}

// processBuffer extracts complete messages (terminated by a blank line)
// and queues their decoded events.
func (s *Stream) processBuffer() {
	for {
		idx := bytes.Index(s.buf, []byte("\n\n"))
		if idx < 0 {
			return
		}
		message := string(s.buf[:idx])
		s.buf = s.buf[idx+2:]

		eventName, data, ok := parseMessage(message)
		if !ok {
			continue
		}
		if ev := s.decodeEvent(eventName, data); ev != nil {
			s.pending = append(s.pending, ev)
		}
	}
}

// parseMessage splits one SSE message into its event name and joined data
// payload. Fields other than "event" and "data" are ignored; a line
// without a colon is a field with an empty value. An empty joined payload
// counts as no data, so bare "data:" heartbeat frames are skipped.
func parseMessage(message string) (eventName, data string, hasData bool) {
	var dataLines []string

	for _, line := range strings.Split(message, "\n") {
		if line == "" {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			eventName = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}

	data = strings.Join(dataLines, "\n")
	if data == "" {
		return eventName, "", false
	}
	return eventName, data, true
}

// decodeEvent turns one data payload into a typed event, or nil when the
// payload is dropped (malformed JSON, dropped private event, or skipped
// unknown type).
func (s *Stream) decodeEvent(eventName, data string) *anthropic.Event {
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		slog.Error("Failed to parse SSE data as JSON", "event", eventName, "error", err)
		return nil
	}

	normalized, keep := normalizePrivateEvent(payload)
	if !keep {
		return nil
	}

	raw := []byte(data)
	if normalized != nil {
		var err error
		raw, err = json.Marshal(normalized)
		if err != nil {
			slog.Error("Failed to re-encode normalized event", "event", eventName, "error", err)
			return nil
		}
	}

	ev, err := anthropic.ParseEvent(raw)
	if err != nil {
		if errors.Is(err, anthropic.ErrUnknownEvent) {
			if s.skipUnknown {
				slog.Debug("Skipping unknown streaming event", "event", eventName)
				return nil
			}
			slog.Debug("Falling back to unknown event", "event", eventName)
			return anthropic.NewUnknownEvent(eventName, raw)
		}
		slog.Error("Dropping unparsable streaming event", "event", eventName, "error", err)
		return nil
	}

	return ev
}
