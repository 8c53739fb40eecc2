// Package anthropic defines the subset of the Anthropic Messages API wire
// types the proxy consumes and produces: the inbound request shape and the
// streaming event union.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// MessagesRequest is an inbound Messages API request.
type MessagesRequest struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages"`
	System    json.RawMessage `json:"system,omitempty"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream,omitempty"`
	Tools     []Tool          `json:"tools,omitempty"`
	Thinking  *Thinking       `json:"thinking,omitempty"`
	Metadata  *Metadata       `json:"metadata,omitempty"`
}

// Metadata carries the caller-supplied request metadata. UserID doubles as
// the logical session key when present.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// Thinking selects extended-thinking behavior.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Message is a single conversation turn. Content is either a plain string
// or an array of content blocks; ContentBlocks normalizes both.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlocks decodes Content into block form. A bare string becomes a
// single text block.
func (m *Message) ContentBlocks() ([]ContentBlock, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return []ContentBlock{{Type: "text", Text: text}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("message content is neither string nor block list: %w", err)
	}
	return blocks, nil
}

// ContentBlock is a block inside a message: text, image, tool_use or
// tool_result.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
}

// ImageSource is an inline (base64) image attached to a message.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool is a tool definition from the request tool list. Client tools carry
// an input schema; server tools (web search variants) are identified by
// Type alone.
type Tool struct {
	Name        string          `json:"name,omitempty"`
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	MaxUses     int             `json:"max_uses,omitempty"`
}
