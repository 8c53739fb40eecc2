package server

import (
	"fmt"
	"net/http"

	"github.com/saffronlabs/saffron/pkg/anthropic"
)

// sseEncoder writes Anthropic streaming events in their SSE encoding,
// flushing after each event so clients see tokens as they arrive.
type sseEncoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEEncoder(w http.ResponseWriter) *sseEncoder {
	flusher, _ := w.(http.Flusher)
	return &sseEncoder{w: w, flusher: flusher}
}

// writeHeader emits the SSE response headers. Call before the first event.
func (e *sseEncoder) writeHeader() {
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	e.w.WriteHeader(http.StatusOK)
}

// writeEvent encodes one event. Raw carries the exact payload bytes, so
// the encoding round-trips what the parser read.
func (e *sseEncoder) writeEvent(ev *anthropic.Event) error {
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, ev.Raw); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
