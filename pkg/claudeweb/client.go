// Package claudeweb is the HTTP client for the Claude.ai consumer web
// endpoint: conversation lifecycle, file uploads, conversation-level
// flags, and the completion SSE stream.
package claudeweb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saffronlabs/saffron/pkg/httpclient"
)

// Client talks to Claude-web on behalf of one account.
type Client struct {
	api     *httpclient.Client
	stream  *httpclient.Client
	baseURL string
	cookie  string
	orgUUID string
}

type Option func(*Client)

// WithAPIClient overrides the client used for non-streaming calls.
func WithAPIClient(c *httpclient.Client) Option {
	return func(cl *Client) {
		cl.api = c
	}
}

// NewClient creates a client bound to one account's cookie and org.
func NewClient(baseURL, cookie, orgUUID string, opts ...Option) *Client {
	c := &Client{
		api: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
		),
		// Completions stream for minutes; no overall timeout, no retries.
		stream: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{}),
			httpclient.WithMaxRetries(0),
		),
		baseURL: strings.TrimRight(baseURL, "/"),
		cookie:  cookie,
		orgUUID: orgUUID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OrganizationUUID returns the org the client is bound to.
func (c *Client) OrganizationUUID() string {
	return c.orgUUID
}

// CreateConversation opens a new conversation and returns its uuid.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	convUUID := uuid.NewString()
	body := map[string]any{"uuid": convUUID, "name": ""}

	resp, err := c.doJSON(ctx, c.api, http.MethodPost, c.conversationsURL(), body)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	defer resp.Body.Close()

	var created struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode conversation response: %w", err)
	}
	if created.UUID == "" {
		created.UUID = convUUID
	}
	return created.UUID, nil
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, convID string) error {
	resp, err := c.doJSON(ctx, c.api, http.MethodDelete, c.conversationsURL()+"/"+convID, nil)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", convID, err)
	}
	resp.Body.Close()
	return nil
}

// SetPaprikaMode sets the conversation's extended-thinking flag. A nil
// mode clears it.
func (c *Client) SetPaprikaMode(ctx context.Context, convID string, mode *string) error {
	body := map[string]any{"paprika_mode": mode}
	resp, err := c.doJSON(ctx, c.api, http.MethodPut, c.conversationsURL()+"/"+convID, body)
	if err != nil {
		return fmt.Errorf("failed to set paprika mode: %w", err)
	}
	resp.Body.Close()
	return nil
}

// SetWebSearch toggles server-side web search for the conversation.
func (c *Client) SetWebSearch(ctx context.Context, convID string, enabled bool) error {
	body := map[string]any{"settings": map[string]any{"enabled_web_search": enabled}}
	resp, err := c.doJSON(ctx, c.api, http.MethodPut, c.conversationsURL()+"/"+convID, body)
	if err != nil {
		return fmt.Errorf("failed to set web search: %w", err)
	}
	resp.Body.Close()
	return nil
}

// UploadFile uploads raw file bytes and returns the upstream file id.
func (c *Client) UploadFile(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/api/%s/upload", c.baseURL, c.orgUUID)
	req, err := c.newRequest(ctx, http.MethodPost, url, buf.Bytes())
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.api.Do(req)
	if err := c.checkResponse(resp, err); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	var uploaded struct {
		FileUUID string `json:"file_uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if uploaded.FileUUID == "" {
		return "", fmt.Errorf("upload response carried no file_uuid")
	}
	return uploaded.FileUUID, nil
}

// SendMessage posts a completion request and returns the raw SSE body.
// The caller owns the returned body and must close it.
func (c *Client) SendMessage(ctx context.Context, convID string, payload *CompletionRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := c.conversationsURL() + "/" + convID + "/completion"
	req, err := c.newRequest(ctx, http.MethodPost, url, data)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err := c.checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	return resp.Body, nil
}

func (c *Client) conversationsURL() string {
	return fmt.Sprintf("%s/api/organizations/%s/chat_conversations", c.baseURL, c.orgUUID)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	req.Header.Set("Cookie", cookieHeader(c.cookie))
	req.Header.Set("Referer", c.baseURL+"/chats")
	req.Header.Set("Origin", c.baseURL)
	return req, nil
}

// doJSON issues a JSON request and maps error statuses.
func (c *Client) doJSON(ctx context.Context, client *httpclient.Client, method, url string, body any) (*http.Response, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	req, err := c.newRequest(ctx, method, url, data)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err := c.checkResponse(resp, err); err != nil {
		return nil, err
	}
	return resp, nil
}

// checkResponse converts upstream error statuses into typed errors.
// 401/403 become AuthenticationError, 429 becomes RateLimitedError with a
// reset instant extracted from the unified-reset header or the error body.
func (c *Client) checkResponse(resp *http.Response, err error) error {
	if resp == nil {
		if err != nil {
			return err
		}
		return fmt.Errorf("no response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &AuthenticationError{StatusCode: resp.StatusCode, Message: string(body)}

	case resp.StatusCode == http.StatusTooManyRequests:
		defer resp.Body.Close()
		return &RateLimitedError{ResetsAt: extractResetsAt(resp)}

	default:
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err == nil {
			err = fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(body)))
	}
}

// extractResetsAt pulls the rate-limit reset instant from a 429 response:
// the unified-reset header when present, else the resetsAt field of the
// error body.
func extractResetsAt(resp *http.Response) *time.Time {
	if v := resp.Header.Get("anthropic-ratelimit-unified-reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return &t
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		ResetsAt *int64 `json:"resetsAt"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	if payload.ResetsAt != nil {
		t := time.Unix(*payload.ResetsAt, 0).UTC()
		return &t
	}

	// Claude-web sometimes nests the reset epoch inside the error message
	// as JSON.
	var nested struct {
		ResetsAt *int64 `json:"resetsAt"`
	}
	if err := json.Unmarshal([]byte(payload.Error.Message), &nested); err == nil && nested.ResetsAt != nil {
		t := time.Unix(*nested.ResetsAt, 0).UTC()
		return &t
	}
	return nil
}

// cookieHeader normalizes a stored cookie value into a Cookie header. A
// bare session key is prefixed with its cookie name.
func cookieHeader(value string) string {
	if strings.Contains(value, "=") {
		return value
	}
	return "sessionKey=" + value
}
