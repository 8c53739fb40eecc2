package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/saffronlabs/saffron/pkg/claudeweb"
	"github.com/saffronlabs/saffron/pkg/httpclient"
)

// ProbeOutcome is the result of a rate-limit probe.
type ProbeOutcome string

const (
	ProbeValid       ProbeOutcome = "valid"
	ProbeRateLimited ProbeOutcome = "rate_limited"
	ProbeError       ProbeOutcome = "error"
)

// Prober verifies whether a rate-limited account has recovered by issuing
// a minimal chat.
type Prober interface {
	Probe(ctx context.Context, acct *Account) (ProbeOutcome, *time.Time)
}

// RateLimitProber probes over OAuth when the account has a token
// (cheapest: one 1-token API call), otherwise over the web endpoint with
// a throwaway conversation.
type RateLimitProber struct {
	apiBaseURL string
	webBaseURL string
	http       *httpclient.Client
}

// NewRateLimitProber creates a prober against the given API and web base
// URLs.
func NewRateLimitProber(apiBaseURL, webBaseURL string) *RateLimitProber {
	return &RateLimitProber{
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		webBaseURL: webBaseURL,
		// A 429 is the probe's signal, never something to retry through.
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(0),
		),
	}
}

// Probe issues the minimal chat and classifies the outcome.
func (p *RateLimitProber) Probe(ctx context.Context, acct *Account) (ProbeOutcome, *time.Time) {
	if acct.HasOAuth() && acct.OAuthToken != nil {
		return p.probeOAuth(ctx, acct)
	}
	return p.probeCookie(ctx, acct)
}

func (p *RateLimitProber) probeOAuth(ctx context.Context, acct *Account) (ProbeOutcome, *time.Time) {
	payload := map[string]any{
		"model":      "claude-sonnet-4-20250514",
		"max_tokens": 1,
		"messages": []map[string]any{
			{"role": "user", "content": "hi"},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ProbeError, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return ProbeError, nil
	}
	req.Header.Set("Authorization", "Bearer "+acct.OAuthToken.AccessToken)
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if resp == nil {
		slog.Warn("OAuth probe failed", "account", acct.ShortID(), "error", err)
		return ProbeError, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK:
		return ProbeValid, nil
	case http.StatusTooManyRequests:
		return ProbeRateLimited, parseUnifiedReset(resp.Header.Get("anthropic-ratelimit-unified-reset"))
	default:
		return ProbeError, nil
	}
}

func (p *RateLimitProber) probeCookie(ctx context.Context, acct *Account) (outcome ProbeOutcome, resetsAt *time.Time) {
	client := claudeweb.NewClient(p.webBaseURL, acct.CookieValue, acct.OrganizationUUID)

	convID, err := client.CreateConversation(ctx)
	if err != nil {
		return classifyProbeError(acct, err)
	}
	defer func() {
		// Best-effort cleanup; the throwaway conversation must not pile up.
		if delErr := client.DeleteConversation(ctx, convID); delErr != nil {
			slog.Debug("Failed to delete probe conversation", "account", acct.ShortID(), "error", delErr)
		}
	}()

	body, err := client.SendMessage(ctx, convID, &claudeweb.CompletionRequest{
		Prompt:      "hi",
		Timezone:    "UTC",
		Attachments: []claudeweb.Attachment{},
		Files:       []string{},
	})
	if err != nil {
		return classifyProbeError(acct, err)
	}
	body.Close()

	return ProbeValid, nil
}

func classifyProbeError(acct *Account, err error) (ProbeOutcome, *time.Time) {
	var rl *claudeweb.RateLimitedError
	if errors.As(err, &rl) {
		return ProbeRateLimited, rl.ResetsAt
	}
	slog.Warn("Cookie probe failed", "account", acct.ShortID(), "error", err)
	return ProbeError, nil
}

// parseUnifiedReset parses the anthropic-ratelimit-unified-reset header,
// an ISO 8601 instant. Non-conforming values are silently ignored.
func parseUnifiedReset(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}

var _ Prober = (*RateLimitProber)(nil)
