// Package config loads and validates saffron's configuration: a YAML file
// with ${ENV} expansion, plus optional .env loading and file watching.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full configuration tree.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Claude   ClaudeConfig   `yaml:"claude"`
	Accounts AccountsConfig `yaml:"accounts"`
	Request  RequestConfig  `yaml:"request"`
	Logger   LoggerConfig   `yaml:"logger"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the inbound HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// APIKey, when set, is required in the x-api-key header of inbound
	// requests.
	APIKey string `yaml:"api_key"`
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClaudeConfig configures the upstream endpoints.
type ClaudeConfig struct {
	// WebBaseURL is the Claude.ai consumer web endpoint.
	WebBaseURL string `yaml:"web_baseurl"`

	// APIBaseURL is the first-party API endpoint used for OAuth probes.
	APIBaseURL string `yaml:"api_baseurl"`
}

// AccountsConfig configures the account pool.
type AccountsConfig struct {
	DataFolder       string `yaml:"data_folder"`
	NoFilesystemMode bool   `yaml:"no_filesystem_mode"`

	// MaxSessionsPerCookie caps concurrent sessions bound to one account.
	MaxSessionsPerCookie int `yaml:"max_sessions_per_cookie"`

	// TaskIntervalSeconds is the background maintenance tick.
	TaskIntervalSeconds int `yaml:"account_task_interval"`

	// RefreshConcurrency bounds batch status-refresh fan-out.
	RefreshConcurrency int `yaml:"refresh_concurrency"`
}

// TaskInterval returns the background tick as a duration.
func (c AccountsConfig) TaskInterval() time.Duration {
	return time.Duration(c.TaskIntervalSeconds) * time.Second
}

// RequestConfig configures the request pipeline.
type RequestConfig struct {
	// PadtxtLength prefixes the merged prompt with this many random
	// characters to defeat upstream prompt-length heuristics. 0 disables.
	PadtxtLength int `yaml:"padtxt_length"`

	// PadTokens is the character pool for padding. Empty means [A-Za-z0-9].
	PadTokens string `yaml:"pad_tokens"`

	// CustomPrompt is passed verbatim as the web payload prompt field.
	CustomPrompt string `yaml:"custom_prompt"`

	// SkipUnknownEvents drops unmodeled streaming events instead of
	// surfacing them as fallback unknown events.
	SkipUnknownEvents bool `yaml:"skip_unknown_events"`

	// SessionIdleSeconds is how long an idle session survives before the
	// sweeper destroys it.
	SessionIdleSeconds int `yaml:"session_idle_ttl"`

	// ToolCallTTLSeconds bounds how long a pending tool call is resumable.
	ToolCallTTLSeconds int `yaml:"tool_call_ttl"`
}

// SessionIdleTTL returns the idle TTL as a duration.
func (c RequestConfig) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleSeconds) * time.Second
}

// ToolCallTTL returns the pending-tool-call TTL as a duration.
func (c RequestConfig) ToolCallTTL() time.Duration {
	return time.Duration(c.ToolCallTTLSeconds) * time.Second
}

// LoggerConfig configures logging output.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5201,
		},
		Claude: ClaudeConfig{
			WebBaseURL: "https://claude.ai",
			APIBaseURL: "https://api.anthropic.com",
		},
		Accounts: AccountsConfig{
			DataFolder:           "data",
			MaxSessionsPerCookie: 3,
			TaskIntervalSeconds:  60,
			RefreshConcurrency:   5,
		},
		Request: RequestConfig{
			SkipUnknownEvents:  true,
			SessionIdleSeconds: 3600,
			ToolCallTTLSeconds: 900,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "simple",
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !strings.HasPrefix(c.Claude.WebBaseURL, "http") {
		return fmt.Errorf("claude.web_baseurl %q is not a URL", c.Claude.WebBaseURL)
	}
	if !strings.HasPrefix(c.Claude.APIBaseURL, "http") {
		return fmt.Errorf("claude.api_baseurl %q is not a URL", c.Claude.APIBaseURL)
	}
	if c.Accounts.MaxSessionsPerCookie <= 0 {
		return fmt.Errorf("accounts.max_sessions_per_cookie must be positive")
	}
	if c.Accounts.TaskIntervalSeconds <= 0 {
		return fmt.Errorf("accounts.account_task_interval must be positive")
	}
	if c.Request.PadtxtLength < 0 {
		return fmt.Errorf("request.padtxt_length must be >= 0")
	}
	if !c.Accounts.NoFilesystemMode && c.Accounts.DataFolder == "" {
		return fmt.Errorf("accounts.data_folder is required unless no_filesystem_mode is set")
	}
	return nil
}
