// Package research provides the market-research API client and the
// keyword_research and competitor_analysis tools built on it.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/adpilot/internal/backoff"
	"github.com/haasonsaas/adpilot/internal/observability"
	"github.com/haasonsaas/adpilot/internal/ratelimit"
)

const (
	keywordsPath    = "/v1/keywords/ideas"
	competitorsPath = "/v1/competitors/analysis"

	maxErrorBody = 4 << 10
)

// Config holds research API client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://research.example.com
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey is sent in the X-API-Key header.
	APIKey string `yaml:"api_key" json:"api_key"`
	// Timeout for one HTTP request. Default 30s.
	Timeout   time.Duration    `yaml:"timeout" json:"timeout"`
	RateLimit ratelimit.Config `yaml:"rate_limit" json:"rate_limit"`
	Retry     backoff.Policy   `yaml:"retry" json:"retry"`
}

// APIError is a non-2xx response from the research API.
type APIError struct {
	Status     int
	Message    string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("research api: status %d: %s", e.Status, e.Message)
}

// RetryAfter returns the server's Retry-After hint, if any.
func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client is a research API client. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retry      backoff.Policy
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records request outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a research API client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("research: base_url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("research: invalid base_url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    ratelimit.NewLimiter(cfg.RateLimit),
		retry:      cfg.Retry.WithDefaults(),
		logger:     logger.With("component", "research"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// KeywordIdeas returns keyword suggestions with volume and bid estimates.
func (c *Client) KeywordIdeas(ctx context.Context, req KeywordRequest) (*KeywordReport, error) {
	if len(req.SeedKeywords) == 0 {
		return nil, errors.New("at least one seed keyword is required")
	}
	var report KeywordReport
	if err := c.post(ctx, keywordsPath, req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CompetitorAnalysis returns spend and keyword overlap estimates for the
// domain's competitors.
func (c *Client) CompetitorAnalysis(ctx context.Context, req CompetitorRequest) (*CompetitorReport, error) {
	if strings.TrimSpace(req.Domain) == "" {
		return nil, errors.New("domain is required")
	}
	var report CompetitorReport
	if err := c.post(ctx, competitorsPath, req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// post sends body as JSON and decodes a 2xx response into out. 429 and 5xx
// responses and transport errors are retried; other statuses are not.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	endpoint := c.baseURL.JoinPath(path).String()

	return backoff.Do(ctx, c.retry, func(attempt int) error {
		if err := c.limiter.Wait(ctx, c.baseURL.Host); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.RecordResearchRequest(path, "transport_error")
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			c.logger.Warn("research request failed", "path", path, "attempt", attempt, "error", err)
			return err
		}
		defer resp.Body.Close()
		c.metrics.RecordResearchRequest(path, strconv.Itoa(resp.StatusCode))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode %s response: %w", path, err))
			}
			return nil
		}

		apiErr := readAPIError(resp)
		if !apiErr.Temporary() {
			return backoff.Permanent(apiErr)
		}
		c.logger.Warn("research request failed", "path", path, "attempt", attempt, "status", resp.StatusCode)
		return apiErr
	})
}

func readAPIError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		} else if body.Error != "" {
			apiErr.Message = body.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.retryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
