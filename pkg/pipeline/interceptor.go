package pipeline

import (
	"io"
	"log/slog"
	"strings"

	"github.com/saffronlabs/saffron/pkg/anthropic"
	"github.com/saffronlabs/saffron/pkg/sse"
	"github.com/saffronlabs/saffron/pkg/toolcall"
)

type interceptState int

const (
	stateIdle interceptState = iota
	stateClientToolUse
	stateServerWebSearch
	stateToolResult
)

// Interceptor rewrites an event stream around tool activity. Server-side
// web search blocks pass through untouched. A client tool_use block is
// forwarded and then terminated: a synthetic message_delta with
// stop_reason tool_use plus a message_stop, the pending call registered,
// and the upstream abandoned. tool_result blocks (private to Claude-web)
// are suppressed entirely.
//
// Single consumer, single pass; it is itself an sse.EventStream.
type Interceptor struct {
	upstream  sse.EventStream
	registry  *toolcall.Registry
	sessionID string

	// serverWebSearch is set when the request's tool list activates the
	// upstream web_search tool, so its tool_use blocks belong to the
	// server, not the client.
	serverWebSearch bool

	state      interceptState
	blockIndex int
	toolUseID  string
	messageID  string

	// resumeState restores the interrupted block's tracking when a
	// tool_result opens before that block is closed.
	resumeState interceptState
	resumeIndex int

	queue    []*anthropic.Event
	finished bool
	closed   bool
}

// NewInterceptor wraps upstream. tools is the request's tool list, used
// to distinguish server web-search tool blocks from client ones.
func NewInterceptor(upstream sse.EventStream, registry *toolcall.Registry, sessionID string, tools []anthropic.Tool) *Interceptor {
	return &Interceptor{
		upstream:        upstream,
		registry:        registry,
		sessionID:       sessionID,
		serverWebSearch: hasServerWebSearch(tools),
		blockIndex:      -1,
		resumeIndex:     -1,
	}
}

func hasServerWebSearch(tools []anthropic.Tool) bool {
	for _, t := range tools {
		if t.Name == "web_search" &&
			(t.Type == "web_search_v0" || strings.HasPrefix(t.Type, "web_search_")) {
			return true
		}
	}
	return false
}

// Next returns the next rewritten event. io.EOF terminates the stream,
// including after the synthetic terminators of a client tool use.
func (ic *Interceptor) Next() (*anthropic.Event, error) {
	for {
		if len(ic.queue) > 0 {
			ev := ic.queue[0]
			ic.queue = ic.queue[1:]
			return ev, nil
		}
		if ic.finished {
			return nil, io.EOF
		}

		ev, err := ic.upstream.Next()
		if err != nil {
			return nil, err
		}

		if out := ic.transform(ev); out != nil {
			return out, nil
		}
	}
}

// transform applies the state machine to one event. A nil return means
// the event was suppressed or queued.
func (ic *Interceptor) transform(ev *anthropic.Event) *anthropic.Event {
	switch ev.Type {
	case anthropic.EventMessageStart:
		if ev.Message != nil {
			ic.messageID = ev.Message.ID
		}
		return ev

	case anthropic.EventContentBlockStart:
		if ic.state == stateToolResult {
			return nil
		}
		switch {
		case ev.IsToolResultStart():
			ic.resumeState = ic.state
			ic.resumeIndex = ic.blockIndex
			ic.state = stateToolResult
			ic.blockIndex = ev.Index
			return nil
		case ev.IsToolUseStart():
			if ic.serverWebSearch && ev.ContentBlock.Name == "web_search" {
				ic.state = stateServerWebSearch
				ic.blockIndex = ev.Index
				return ev
			}
			ic.state = stateClientToolUse
			ic.blockIndex = ev.Index
			ic.toolUseID = ev.ContentBlock.ID
			return ev
		}
		return ev

	case anthropic.EventContentBlockStop:
		switch {
		case ic.state == stateToolResult && ev.Index == ic.blockIndex:
			ic.state = ic.resumeState
			ic.blockIndex = ic.resumeIndex
			ic.resumeState = stateIdle
			ic.resumeIndex = -1
			return nil
		case ic.state == stateClientToolUse && ev.Index == ic.blockIndex:
			ic.terminateForToolUse(ev)
			return nil
		case ic.state == stateServerWebSearch && ev.Index == ic.blockIndex:
			ic.state = stateIdle
			ic.blockIndex = -1
			return ev
		}
		if ic.state == stateToolResult {
			return nil
		}
		return ev

	default:
		if ic.state == stateToolResult {
			return nil
		}
		return ev
	}
}

// terminateForToolUse queues the block close plus synthetic terminators,
// registers the pending call and abandons the upstream.
func (ic *Interceptor) terminateForToolUse(stop *anthropic.Event) {
	ic.queue = append(ic.queue,
		stop,
		anthropic.NewToolUseMessageDelta(),
		anthropic.NewMessageStop(),
	)
	ic.finished = true

	if ic.registry != nil && ic.toolUseID != "" {
		ic.registry.Register(ic.toolUseID, ic.sessionID, ic.messageID)
	}
	slog.Debug("Intercepted client tool use",
		"session_id", ic.sessionID,
		"tool_use_id", ic.toolUseID)

	ic.closeUpstream()
}

// Close releases the upstream.
func (ic *Interceptor) Close() error {
	ic.closeUpstream()
	return nil
}

func (ic *Interceptor) closeUpstream() {
	if ic.closed {
		return
	}
	ic.closed = true
	if err := ic.upstream.Close(); err != nil {
		slog.Debug("Failed to close upstream stream", "error", err)
	}
}

var _ sse.EventStream = (*Interceptor)(nil)
