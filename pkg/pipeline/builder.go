package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/saffronlabs/saffron/pkg/anthropic"
	"github.com/saffronlabs/saffron/pkg/claudeweb"
	"github.com/saffronlabs/saffron/pkg/session"
	"github.com/saffronlabs/saffron/pkg/toolcall"
)

// defaultPadTokens is the padding character pool when none is configured.
const defaultPadTokens = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Builder converts Messages API requests into Claude-web completion
// calls on a session.
type Builder struct {
	padtxtLength int
	padTokens    string
	customPrompt string
}

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	PadtxtLength int
	PadTokens    string
	CustomPrompt string
}

// NewBuilder creates a builder.
func NewBuilder(opts BuilderOptions) *Builder {
	if opts.PadTokens == "" {
		opts.PadTokens = defaultPadTokens
	}
	return &Builder{
		padtxtLength: opts.PadtxtLength,
		padTokens:    opts.PadTokens,
		customPrompt: opts.CustomPrompt,
	}
}

// ResolveSession decides which session a request runs on. A tool_result
// referencing a pending tool call resumes that call's session (the entry
// is consumed); otherwise metadata.user_id names the session, and
// failing that a fresh one is minted. The bool reports a resume.
func ResolveSession(req *anthropic.MessagesRequest, registry *toolcall.Registry) (string, bool) {
	if registry != nil {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			blocks, err := req.Messages[i].ContentBlocks()
			if err != nil {
				continue
			}
			for _, block := range blocks {
				if block.Type != "tool_result" || block.ToolUseID == "" {
					continue
				}
				if call, ok := registry.Consume(block.ToolUseID); ok {
					slog.Debug("Resuming session for tool result",
						"session_id", call.SessionID, "tool_use_id", block.ToolUseID)
					return call.SessionID, true
				}
			}
		}
	}

	if req.Metadata != nil && req.Metadata.UserID != "" {
		return req.Metadata.UserID, false
	}
	return uuid.NewString(), false
}

// Build runs the request pipeline on the session and returns the opened
// upstream SSE body: validate, merge, pad, upload images, ensure the
// conversation, apply thinking and web-search settings, assemble, send.
func (b *Builder) Build(ctx context.Context, sess *session.Session, req *anthropic.MessagesRequest) (io.ReadCloser, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoValidMessages
	}

	merged, images, err := Merge(req)
	if err != nil {
		return nil, fmt.Errorf("failed to merge messages: %w", err)
	}
	if merged == "" {
		return nil, ErrNoValidMessages
	}

	if b.padtxtLength > 0 {
		merged = b.randomPadding() + merged
	}

	fileIDs := b.uploadImages(ctx, sess, images)

	if _, err := sess.EnsureConversation(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize conversation: %w", err)
	}

	if err := sess.SetPaprikaMode(ctx, paprikaMode(req.Thinking)); err != nil {
		slog.Warn("Failed to set rendering mode", "session_id", sess.ID, "error", err)
	}

	tools, hasWebSearch := rewriteWebSearchTools(req.Tools)
	if hasWebSearch {
		if err := sess.SetWebSearch(ctx, true); err != nil {
			slog.Warn("Failed to enable web search", "session_id", sess.ID, "error", err)
		}
	}

	payload := &claudeweb.CompletionRequest{
		MaxTokensToSample: req.MaxTokens,
		Attachments:       []claudeweb.Attachment{claudeweb.TextAttachment(merged)},
		Files:             fileIDs,
		Model:             req.Model,
		RenderingMode:     "messages",
		Prompt:            b.customPrompt,
		Timezone:          "UTC",
		Tools:             tools,
	}

	body, err := sess.SendMessage(ctx, payload)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// uploadImages pushes each inline image and collects file IDs. A failed
// upload is logged and skipped, never fatal to the request.
func (b *Builder) uploadImages(ctx context.Context, sess *session.Session, images []InlineImage) []string {
	fileIDs := make([]string, 0, len(images))
	for i, img := range images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			slog.Warn("Skipping undecodable image", "session_id", sess.ID, "index", i, "error", err)
			continue
		}
		fileID, err := sess.UploadFile(ctx, data, imageFileName(i, img.MediaType), img.MediaType)
		if err != nil {
			slog.Warn("Skipping failed image upload", "session_id", sess.ID, "index", i, "error", err)
			continue
		}
		fileIDs = append(fileIDs, fileID)
	}
	return fileIDs
}

func imageFileName(index int, mediaType string) string {
	ext := ".png"
	switch mediaType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/gif":
		ext = ".gif"
	case "image/webp":
		ext = ".webp"
	}
	return fmt.Sprintf("image_%d%s", index, ext)
}

// paprikaMode maps the request thinking config to the upstream rendering
// mode: extended for enabled or adaptive thinking, cleared otherwise.
func paprikaMode(thinking *anthropic.Thinking) *string {
	if thinking != nil && (thinking.Type == "enabled" || thinking.Type == "adaptive") {
		mode := "extended"
		return &mode
	}
	return nil
}

// rewriteWebSearchTools drops every web_search_* typed tool and prepends
// the single web_search_v0 the completion endpoint understands. The bool
// reports whether any were present.
func rewriteWebSearchTools(tools []anthropic.Tool) ([]anthropic.Tool, bool) {
	rest := make([]anthropic.Tool, 0, len(tools))
	found := false
	for _, t := range tools {
		if strings.HasPrefix(t.Type, "web_search_") {
			found = true
			continue
		}
		rest = append(rest, t)
	}
	if !found {
		return tools, false
	}
	return append([]anthropic.Tool{{Name: "web_search", Type: "web_search_v0"}}, rest...), true
}

func (b *Builder) randomPadding() string {
	buf := make([]byte, b.padtxtLength)
	for i := range buf {
		buf[i] = b.padTokens[rand.IntN(len(b.padTokens))]
	}
	return string(buf)
}
