package claudeweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConversation(t *testing.T) {
	var gotPath, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCookie = r.Header.Get("Cookie")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["uuid"])

		json.NewEncoder(w).Encode(map[string]string{"uuid": "conv-9"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cookie-1", "org-1")
	convID, err := c.CreateConversation(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "conv-9", convID)
	assert.Equal(t, "/api/organizations/org-1/chat_conversations", gotPath)
	assert.Equal(t, "sessionKey=cookie-1", gotCookie)
}

func TestCreateConversationFallsBackToRequestedUUID(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requested, _ = body["uuid"].(string)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cookie-1", "org-1")
	convID, err := c.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, requested, convID)
}

func TestSetPaprikaMode(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cookie-1", "org-1")
	mode := "extended"
	require.NoError(t, c.SetPaprikaMode(context.Background(), "conv-1", &mode))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, map[string]any{"paprika_mode": "extended"}, gotBody)

	require.NoError(t, c.SetPaprikaMode(context.Background(), "conv-1", nil))
	assert.Equal(t, map[string]any{"paprika_mode": nil}, gotBody)
}

func TestSetWebSearch(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cookie-1", "org-1")
	require.NoError(t, c.SetWebSearch(context.Background(), "conv-1", true))
	assert.Equal(t, map[string]any{
		"settings": map[string]any{"enabled_web_search": true},
	}, gotBody)
}

func TestUploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/org-1/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "image_0.png", header.Filename)

		json.NewEncoder(w).Encode(map[string]string{"file_uuid": "file-7"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cookie-1", "org-1")
	id, err := c.UploadFile(context.Background(), []byte{0x89, 0x50}, "image_0.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "file-7", id)
}

func TestUploadFileRejectsMissingFileUUID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cookie-1", "org-1")
	_, err := c.UploadFile(context.Background(), []byte("x"), "a.png", "image/png")
	assert.Error(t, err)
}

func TestSendMessageStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations/org-1/chat_conversations/conv-1/completion", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cookie-1", "org-1")
	body, err := c.SendMessage(context.Background(), "conv-1", &CompletionRequest{Prompt: "hi", Timezone: "UTC"})
	require.NoError(t, err)
	body.Close()
}

func TestSendMessageAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cookie-1", "org-1")
	_, err := c.SendMessage(context.Background(), "conv-1", &CompletionRequest{Prompt: "hi"})

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

func TestSendMessageRateLimited(t *testing.T) {
	reset := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    *time.Time
	}{
		{
			name: "unified reset header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("anthropic-ratelimit-unified-reset", reset.Format(time.RFC3339))
				w.WriteHeader(http.StatusTooManyRequests)
			},
			want: &reset,
		},
		{
			name: "resetsAt in body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"resetsAt":%d}`, reset.Unix())
			},
			want: &reset,
		},
		{
			name: "resetsAt nested in error message",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				msg, _ := json.Marshal(fmt.Sprintf(`{"resetsAt":%d}`, reset.Unix()))
				fmt.Fprintf(w, `{"error":{"type":"rate_limit_error","message":%s}}`, msg)
			},
			want: &reset,
		},
		{
			name: "no reset information",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
			},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(srv.URL, "cookie-1", "org-1")
			_, err := c.SendMessage(context.Background(), "conv-1", &CompletionRequest{Prompt: "hi"})

			var rlErr *RateLimitedError
			require.ErrorAs(t, err, &rlErr)
			if tt.want == nil {
				assert.Nil(t, rlErr.ResetsAt)
			} else {
				require.NotNil(t, rlErr.ResetsAt)
				assert.Equal(t, tt.want.Unix(), rlErr.ResetsAt.Unix())
			}
		})
	}
}

func TestRateLimitedErrorUnwrapping(t *testing.T) {
	err := fmt.Errorf("completion request failed: %w", &RateLimitedError{})
	var rlErr *RateLimitedError
	assert.True(t, errors.As(err, &rlErr))
}

func TestCookieHeader(t *testing.T) {
	assert.Equal(t, "sessionKey=abc", cookieHeader("abc"))
	assert.Equal(t, "sessionKey=abc; other=1", cookieHeader("sessionKey=abc; other=1"))
}
