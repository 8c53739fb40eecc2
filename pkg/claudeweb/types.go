package claudeweb

import "github.com/saffronlabs/saffron/pkg/anthropic"

// CompletionRequest is the Claude-web completion payload.
type CompletionRequest struct {
	MaxTokensToSample int              `json:"max_tokens_to_sample,omitempty"`
	Attachments       []Attachment     `json:"attachments"`
	Files             []string         `json:"files"`
	Model             string           `json:"model,omitempty"`
	RenderingMode     string           `json:"rendering_mode,omitempty"`
	Prompt            string           `json:"prompt"`
	Timezone          string           `json:"timezone"`
	Tools             []anthropic.Tool `json:"tools,omitempty"`
}

// Attachment is a text attachment on a completion request. The merged
// conversation prompt travels as one of these rather than in the prompt
// field itself.
type Attachment struct {
	FileName         string `json:"file_name"`
	FileType         string `json:"file_type"`
	FileSize         int    `json:"file_size"`
	ExtractedContent string `json:"extracted_content"`
}

// TextAttachment wraps merged conversation text as a paste attachment.
func TextAttachment(text string) Attachment {
	return Attachment{
		FileName:         "paste.txt",
		FileType:         "txt",
		FileSize:         len(text),
		ExtractedContent: text,
	}
}
