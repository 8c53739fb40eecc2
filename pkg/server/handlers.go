package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/saffronlabs/saffron/pkg/account"
	"github.com/saffronlabs/saffron/pkg/anthropic"
	"github.com/saffronlabs/saffron/pkg/claudeweb"
	"github.com/saffronlabs/saffron/pkg/pipeline"
	"github.com/saffronlabs/saffron/pkg/sse"
)

// apiError is the Anthropic error envelope.
type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	var body apiError
	body.Type = "error"
	body.Error.Type = errType
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordError(ctx, "invalid_request")
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
		return
	}
	s.metrics.RecordRequest(ctx, req.Model)

	sessionID, resumed := pipeline.ResolveSession(&req, s.registry)
	slog.Debug("Handling messages request",
		"session_id", sessionID, "resumed", resumed, "model", req.Model)

	sess, err := s.sessions.GetOrCreate(sessionID, account.Filter{})
	if err != nil {
		s.writeRequestError(w, r, "", err)
		return
	}

	// One request at a time per session; the upstream conversation is
	// not reentrant-safe. The claim holds until the response stream is
	// fully drained.
	if err := sess.Acquire(ctx); err != nil {
		s.metrics.RecordError(ctx, "request_cancelled")
		return
	}
	defer sess.Release()

	body, err := s.builder.Build(ctx, sess, &req)
	if err != nil {
		s.writeRequestError(w, r, sess.AccountUUID, err)
		return
	}

	stream := sse.NewStream(body, sse.WithSkipUnknownEvents(s.cfg.Request.SkipUnknownEvents))
	interceptor := pipeline.NewInterceptor(stream, s.registry, sess.ID, req.Tools)
	defer interceptor.Close()

	if req.Stream {
		s.streamResponse(w, r, interceptor)
	} else {
		s.aggregateResponse(w, r, interceptor)
	}
	s.metrics.RecordDuration(ctx, time.Since(start).Seconds(), req.Model)
}

// writeRequestError maps pipeline and upstream failures onto the API
// error taxonomy and applies account status transitions.
func (s *Server) writeRequestError(w http.ResponseWriter, r *http.Request, accountUUID string, err error) {
	ctx := r.Context()

	var rateLimited *claudeweb.RateLimitedError
	var authErr *claudeweb.AuthenticationError
	switch {
	case errors.Is(err, pipeline.ErrNoValidMessages):
		s.metrics.RecordError(ctx, "no_valid_messages")
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())

	case errors.Is(err, account.ErrNoAccountsAvailable):
		s.metrics.RecordError(ctx, "no_accounts_available")
		writeError(w, http.StatusServiceUnavailable, "overloaded_error", "no accounts available")

	case errors.As(err, &rateLimited):
		s.metrics.RecordError(ctx, "rate_limited")
		if accountUUID != "" {
			s.pool.MarkRateLimited(accountUUID, rateLimited.ResetsAt)
		}
		writeError(w, http.StatusTooManyRequests, "rate_limit_error", rateLimited.Error())

	case errors.As(err, &authErr):
		s.metrics.RecordError(ctx, "authentication_error")
		if accountUUID != "" {
			s.pool.MarkInvalid(accountUUID)
		}
		writeError(w, http.StatusBadGateway, "api_error", "upstream rejected account credentials")

	default:
		s.metrics.RecordError(ctx, "api_error")
		slog.Error("Messages request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
	}
}

// streamResponse copies rewritten events out as SSE.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, events sse.EventStream) {
	enc := newSSEEncoder(w)
	enc.writeHeader()

	for {
		ev, err := events.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			// Headers are gone; all we can do is log and drop the stream.
			slog.Warn("Upstream stream failed mid-response", "error", err)
			return
		}
		if isToolUseTerminator(ev) {
			s.metrics.RecordToolCall(r.Context())
		}
		if err := enc.writeEvent(ev); err != nil {
			slog.Debug("Client disconnected", "error", err)
			return
		}
	}
}

func isToolUseTerminator(ev *anthropic.Event) bool {
	return ev.Type == anthropic.EventMessageDelta && ev.Delta != nil && ev.Delta.StopReason == "tool_use"
}

// aggregateResponse drains the stream into a single Messages response
// for non-streaming callers.
func (s *Server) aggregateResponse(w http.ResponseWriter, r *http.Request, events sse.EventStream) {
	msg, err := collectMessage(events)
	if err != nil {
		s.metrics.RecordError(r.Context(), "api_error")
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}
	if isToolUse(msg.StopReason) {
		s.metrics.RecordToolCall(r.Context())
	}
	writeJSON(w, http.StatusOK, msg)
}

func isToolUse(reason *string) bool {
	return reason != nil && *reason == "tool_use"
}

// collectedMessage is the non-streaming response shape.
type collectedMessage struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Model        string           `json:"model"`
	Content      []map[string]any `json:"content"`
	StopReason   *string          `json:"stop_reason"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        *anthropic.Usage `json:"usage,omitempty"`
}

// collectMessage folds a streaming event sequence into one message:
// text and thinking deltas concatenate, tool_use input assembles from
// its partial JSON.
func collectMessage(events sse.EventStream) (*collectedMessage, error) {
	msg := &collectedMessage{Type: "message", Role: "assistant", Content: []map[string]any{}}
	blocks := make(map[int]map[string]any)
	partial := make(map[int]string)
	var order []int

	for {
		ev, err := events.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("upstream stream failed: %w", err)
		}

		switch ev.Type {
		case anthropic.EventMessageStart:
			if ev.Message != nil {
				msg.ID = ev.Message.ID
				msg.Model = ev.Message.Model
				if ev.Message.Usage != nil {
					msg.Usage = ev.Message.Usage
				}
			}

		case anthropic.EventContentBlockStart:
			if ev.ContentBlock == nil {
				continue
			}
			block := map[string]any{"type": ev.ContentBlock.Type}
			switch ev.ContentBlock.Type {
			case "text":
				block["text"] = ev.ContentBlock.Text
			case "thinking":
				block["thinking"] = ev.ContentBlock.Thinking
			case "tool_use":
				block["id"] = ev.ContentBlock.ID
				block["name"] = ev.ContentBlock.Name
				block["input"] = map[string]any{}
			}
			blocks[ev.Index] = block
			order = append(order, ev.Index)

		case anthropic.EventContentBlockDelta:
			block := blocks[ev.Index]
			if block == nil || ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				block["text"] = asString(block["text"]) + ev.Delta.Text
			case "thinking_delta":
				block["thinking"] = asString(block["thinking"]) + ev.Delta.Thinking
			case "input_json_delta":
				partial[ev.Index] += ev.Delta.PartialJSON
			case "signature_delta":
				block["signature"] = asString(block["signature"]) + ev.Delta.Signature
			}

		case anthropic.EventMessageDelta:
			if ev.Delta == nil {
				continue
			}
			if ev.Delta.StopReason != "" {
				reason := ev.Delta.StopReason
				msg.StopReason = &reason
			}
			if ev.Usage != nil {
				if msg.Usage == nil {
					msg.Usage = &anthropic.Usage{}
				}
				msg.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		}
	}

	for index, block := range blocks {
		if raw, ok := partial[index]; ok && raw != "" {
			var input map[string]any
			if err := json.Unmarshal([]byte(raw), &input); err == nil {
				block["input"] = input
			}
		}
	}
	for _, index := range order {
		msg.Content = append(msg.Content, blocks[index])
	}
	return msg, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
