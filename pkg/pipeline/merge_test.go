package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saffronlabs/saffron/pkg/anthropic"
)

func TestMergeLabelsRoles(t *testing.T) {
	req := &anthropic.MessagesRequest{
		System: json.RawMessage(`"You are terse."`),
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"hello"`)},
			{Role: "assistant", Content: json.RawMessage(`"hi"`)},
			{Role: "user", Content: json.RawMessage(`"bye"`)},
		},
	}

	merged, images, err := Merge(req)
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.Equal(t, "System: You are terse.\n\nHuman: hello\n\nAssistant: hi\n\nHuman: bye", merged)
}

func TestMergeSystemBlockList(t *testing.T) {
	req := &anthropic.MessagesRequest{
		System: json.RawMessage(`[{"type":"text","text":"rule one"},{"type":"text","text":"rule two"}]`),
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"go"`)},
		},
	}

	merged, _, err := Merge(req)
	require.NoError(t, err)
	assert.Equal(t, "System: rule one\nrule two\n\nHuman: go", merged)
}

func TestMergeExtractsImages(t *testing.T) {
	content, err := json.Marshal([]map[string]any{
		{"type": "text", "text": "see image"},
		{"type": "image", "source": map[string]any{"type": "base64", "media_type": "image/png", "data": "AAAA"}},
		{"type": "image", "source": map[string]any{"type": "url", "url": "https://x/y.png"}},
	})
	require.NoError(t, err)

	req := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{{Role: "user", Content: content}},
	}
	merged, images, err := Merge(req)
	require.NoError(t, err)

	assert.Equal(t, "Human: see image", merged)
	// Only inline base64 sources are uploadable.
	require.Len(t, images, 1)
	assert.Equal(t, "image/png", images[0].MediaType)
	assert.Equal(t, "AAAA", images[0].Data)
}

func TestMergeRendersToolBlocks(t *testing.T) {
	assistant, err := json.Marshal([]map[string]any{
		{"type": "text", "text": "checking"},
		{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": map[string]any{"city": "Oslo"}},
	})
	require.NoError(t, err)
	user, err := json.Marshal([]map[string]any{
		{"type": "tool_result", "tool_use_id": "toolu_1", "content": []map[string]any{{"type": "text", "text": "snow"}}},
	})
	require.NoError(t, err)

	req := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "assistant", Content: assistant},
			{Role: "user", Content: user},
		},
	}
	merged, _, err := Merge(req)
	require.NoError(t, err)

	assert.Contains(t, merged, `Assistant: checking`)
	assert.Contains(t, merged, `[tool_use toolu_1 get_weather] {"city":"Oslo"}`)
	assert.Contains(t, merged, `Human: [tool_result toolu_1] snow`)
}

func TestMergeEmptyYieldsEmptyString(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: json.RawMessage(`"   "`)},
		},
	}
	merged, _, err := Merge(req)
	require.NoError(t, err)
	assert.Empty(t, merged)
}
