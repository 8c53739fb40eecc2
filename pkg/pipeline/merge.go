// Package pipeline turns Anthropic Messages requests into Claude-web
// completion calls and rewrites the event stream coming back: prompt
// merging, image upload, tool rewrite on the way in; tool-call
// interception on the way out.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/saffronlabs/saffron/pkg/anthropic"
)

// InlineImage is a base64 image extracted from the message history.
type InlineImage struct {
	MediaType string
	Data      string
}

// Merge flattens system plus messages into one role-labelled plain-text
// prompt and extracts inline images. Tool blocks are rendered as compact
// JSON context lines so tool results thread back into the conversation.
func Merge(req *anthropic.MessagesRequest) (string, []InlineImage, error) {
	var parts []string
	var images []InlineImage

	if sys := systemText(req.System); sys != "" {
		parts = append(parts, "System: "+sys)
	}

	for _, msg := range req.Messages {
		blocks, err := msg.ContentBlocks()
		if err != nil {
			return "", nil, err
		}

		var lines []string
		for _, block := range blocks {
			switch block.Type {
			case "text":
				if strings.TrimSpace(block.Text) != "" {
					lines = append(lines, block.Text)
				}
			case "image":
				if block.Source != nil && block.Source.Type == "base64" && block.Source.Data != "" {
					images = append(images, InlineImage{
						MediaType: block.Source.MediaType,
						Data:      block.Source.Data,
					})
				}
			case "tool_use":
				lines = append(lines, fmt.Sprintf("[tool_use %s %s] %s",
					block.ID, block.Name, compactJSON(block.Input)))
			case "tool_result":
				lines = append(lines, fmt.Sprintf("[tool_result %s] %s",
					block.ToolUseID, toolResultText(block.Content)))
			}
			// thinking blocks are not replayed upstream
		}
		if len(lines) == 0 {
			continue
		}
		parts = append(parts, roleLabel(msg.Role)+": "+strings.Join(lines, "\n"))
	}

	return strings.Join(parts, "\n\n"), images, nil
}

func roleLabel(role string) string {
	switch role {
	case "assistant":
		return "Assistant"
	default:
		return "Human"
	}
}

// systemText handles both the string and block-list forms of the system
// field.
func systemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var lines []string
	for _, block := range blocks {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			lines = append(lines, block.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// toolResultText flattens a tool_result content member, which is either a
// bare string or a list of text blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return compactJSON(raw)
	}
	var lines []string
	for _, block := range blocks {
		if block.Type == "text" {
			lines = append(lines, block.Text)
		}
	}
	return strings.Join(lines, "\n")
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
