// Package config loads the adpilot configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/agent/providers"
	"github.com/haasonsaas/adpilot/internal/audit"
	"github.com/haasonsaas/adpilot/internal/backoff"
	"github.com/haasonsaas/adpilot/internal/mcp"
	"github.com/haasonsaas/adpilot/internal/observability"
	"github.com/haasonsaas/adpilot/internal/ratelimit"
	"github.com/haasonsaas/adpilot/internal/secrets"
	"github.com/haasonsaas/adpilot/internal/tools/notify"
	"github.com/haasonsaas/adpilot/internal/tools/research"
)

// Config is the main configuration structure for adpilot.
type Config struct {
	LLM      LLMConfig                 `yaml:"llm"`
	Ads      AdsConfig                 `yaml:"ads"`
	Research research.Config           `yaml:"research"`
	Notify   notify.Config             `yaml:"notify"`
	Gateway  GatewayConfig             `yaml:"gateway"`
	Audit    audit.Config              `yaml:"audit"`
	Logging  observability.LogConfig   `yaml:"logging"`
	Tracing  observability.TraceConfig `yaml:"tracing"`
	Loop     agent.LoopConfig          `yaml:"loop"`
}

// LLMConfig configures the reasoning service.
type LLMConfig struct {
	Provider string         `yaml:"provider"`
	APIKey   string         `yaml:"api_key"`
	BaseURL  string         `yaml:"base_url"`
	Model    string         `yaml:"model"`
	Timeout  time.Duration  `yaml:"timeout"`
	Retry    backoff.Policy `yaml:"retry"`
}

// AdsConfig configures the Google Ads MCP server.
type AdsConfig struct {
	MCP mcp.BridgeConfig `yaml:"mcp"`

	// DeveloperToken and LoginCustomerID are passed to the server environment.
	DeveloperToken  string `yaml:"developer_token"`
	LoginCustomerID string `yaml:"login_customer_id"`

	// CustomerID is used when a command does not name an account.
	CustomerID string `yaml:"customer_id"`
}

// Server environment variables set from AdsConfig.
const (
	EnvDeveloperToken  = secrets.GoogleAdsDeveloperToken
	EnvLoginCustomerID = "GOOGLE_ADS_LOGIN_CUSTOMER_ID"
)

// BridgeConfig returns the MCP launch configuration with the Ads credentials
// added to its environment.
func (c AdsConfig) BridgeConfig() mcp.BridgeConfig {
	bc := c.MCP
	env := make(map[string]string, len(bc.Env)+2)
	for k, v := range bc.Env {
		env[k] = v
	}
	if c.DeveloperToken != "" {
		env[EnvDeveloperToken] = c.DeveloperToken
	}
	if c.LoginCustomerID != "" {
		if id, err := mcp.NormalizeCustomerID(c.LoginCustomerID); err == nil {
			env[EnvLoginCustomerID] = id
		}
	}
	bc.Env = env
	return bc
}

// GatewayConfig configures the HTTP webhook surface.
type GatewayConfig struct {
	Addr            string           `yaml:"addr"`
	ReadTimeout     time.Duration    `yaml:"read_timeout"`
	WriteTimeout    time.Duration    `yaml:"write_timeout"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64            `yaml:"max_body_bytes"`
	Auth            GatewayAuth      `yaml:"auth"`
	RateLimit       ratelimit.Config `yaml:"rate_limit"`
}

// GatewayAuth enables bearer JWT verification when JWTSecret is set.
type GatewayAuth struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// Enabled reports whether webhook requests must carry a token.
func (a GatewayAuth) Enabled() bool {
	return strings.TrimSpace(a.JWTSecret) != ""
}

const minJWTSecretLen = 32

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    providers.DefaultModel,
			Timeout:  2 * time.Minute,
			Retry:    backoff.DefaultPolicy(),
		},
		Ads: AdsConfig{
			MCP: mcp.BridgeConfig{
				Timeout:         mcp.DefaultTimeout,
				ProtocolVersion: mcp.DefaultProtocolVersion,
			},
		},
		Research: research.Config{
			Timeout:   30 * time.Second,
			RateLimit: ratelimit.DefaultConfig(),
			Retry:     backoff.DefaultPolicy(),
		},
		Notify: notify.Config{
			Username: "adpilot",
			Timeout:  10 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       ratelimit.Config{RequestsPerSecond: 1, BurstSize: 5},
		},
		Audit: audit.Config{
			Enabled:      true,
			Path:         "adpilot-audit.db",
			MaxFieldSize: 16 << 10,
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: observability.TraceConfig{
			ServiceName:  "adpilot",
			SamplingRate: 1,
		},
		Loop: agent.DefaultLoopConfig(),
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks cross-field constraints. It returns a *ValidationError.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if c.LLM.Provider != "anthropic" {
		add("llm.provider: unsupported provider %q", c.LLM.Provider)
	}
	if c.LLM.Timeout < 0 {
		add("llm.timeout must not be negative")
	}

	if strings.TrimSpace(c.Ads.MCP.Command) != "" {
		if err := c.Ads.MCP.Validate(); err != nil {
			add("ads.mcp: %v", err)
		}
	}
	for _, f := range []struct{ field, id string }{
		{"ads.customer_id", c.Ads.CustomerID},
		{"ads.login_customer_id", c.Ads.LoginCustomerID},
	} {
		if f.id == "" {
			continue
		}
		if _, err := mcp.NormalizeCustomerID(f.id); err != nil {
			add("%s: %v", f.field, err)
		}
	}

	if c.Research.BaseURL != "" && !isHTTPURL(c.Research.BaseURL, false) {
		add("research.base_url must be an http(s) URL")
	}
	if c.Research.RateLimit.Enabled && c.Research.RateLimit.RequestsPerSecond <= 0 {
		add("research.rate_limit.requests_per_second must be positive")
	}
	if c.Notify.WebhookURL != "" && !isHTTPURL(c.Notify.WebhookURL, true) {
		add("notify.webhook_url must be an https URL")
	}

	if strings.TrimSpace(c.Gateway.Addr) == "" {
		add("gateway.addr is required")
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		add("gateway.max_body_bytes must be positive")
	}
	if c.Gateway.Auth.Enabled() && len(c.Gateway.Auth.JWTSecret) < minJWTSecretLen {
		add("gateway.auth.jwt_secret must be at least %d bytes", minJWTSecretLen)
	}

	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		add("audit.path is required when audit is enabled")
	}
	if c.Audit.Retention < 0 {
		add("audit.retention must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if c.Loop.MaxIterations < 0 || c.Loop.Concurrency < 0 || c.Loop.MaxResultBytes < 0 {
		add("loop limits must not be negative")
	}
	if c.Loop.PerToolTimeout < 0 {
		add("loop.per_tool_timeout must not be negative")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func isHTTPURL(raw string, httpsOnly bool) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if httpsOnly {
		return u.Scheme == "https"
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// SecretSource resolves a named credential; "" means unset. *secrets.Store
// implements it.
type SecretSource interface {
	Lookup(name string) (string, error)
}

// ResolveSecrets fills credentials the file left empty from src.
func (c *Config) ResolveSecrets(src SecretSource) error {
	targets := []struct {
		name string
		dst  *string
	}{
		{secrets.AnthropicAPIKey, &c.LLM.APIKey},
		{secrets.ResearchAPIKey, &c.Research.APIKey},
		{secrets.SlackWebhookURL, &c.Notify.WebhookURL},
		{secrets.WebhookJWTSecret, &c.Gateway.Auth.JWTSecret},
		{secrets.GoogleAdsDeveloperToken, &c.Ads.DeveloperToken},
	}
	var errs []error
	for _, t := range targets {
		if strings.TrimSpace(*t.dst) != "" {
			continue
		}
		v, err := src.Lookup(t.name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*t.dst = v
	}
	return errors.Join(errs...)
}
