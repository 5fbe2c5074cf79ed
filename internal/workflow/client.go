package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.dify.ai/v1"
	defaultEndpoint  = "/workflows/run"
	defaultTimeout   = 50 * time.Second
	defaultUserAgent = "diagnosis-workflow-client/0.1"

	maxErrorBodyBytes = 2048
)

// ErrUpstreamTimeout means the provider did not answer within the hard
// timeout. The HTTP layer maps it to 504; the reconciliation layer treats
// it as a silently failed channel.
var ErrUpstreamTimeout = errors.New("workflow: upstream timeout")

// UpstreamError is a non-2xx answer from the provider.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("workflow: upstream returned %d: %s", e.StatusCode, e.Body)
}

// Config controls how the workflow client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string

	// TenantKeys maps a tenant name (subdomain) to its own API key.
	// Tenants without an entry use APIKey.
	TenantKeys map[string]string
}

// Client calls the provider's blocking workflow-run endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	tenantKeys map[string]string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("workflow: API key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
		tenantKeys: cfg.TenantKeys,
	}, nil
}

// Timeout reports the hard upstream timeout, for error payloads.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// RunRequest is one blocking workflow execution.
type RunRequest struct {
	Inputs map[string]string
	User   string
	// Tenant selects a per-tenant API key; empty means the default key.
	Tenant string
}

// Run submits the workflow and returns the provider's raw JSON response.
// The caller normalizes it: the payload is also an input to the delivery
// race, which wants the untouched bytes.
func (c *Client) Run(ctx context.Context, req RunRequest) (json.RawMessage, error) {
	body, err := json.Marshal(struct {
		Inputs       map[string]string `json:"inputs"`
		ResponseMode string            `json:"response_mode"`
		User         string            `json:"user"`
	}{
		Inputs:       req.Inputs,
		ResponseMode: "blocking",
		User:         req.User,
	})
	if err != nil {
		return nil, fmt.Errorf("workflow: marshal run request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("workflow: build run request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.keyFor(req.Tenant))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("workflow run timed out", "elapsed", time.Since(start).String())
			return nil, ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("workflow: run request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Warn("workflow run rejected",
			"status", resp.StatusCode,
			"elapsed", time.Since(start).String(),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("workflow: read run response: %w", err)
	}
	c.logger.Info("workflow run completed",
		"status", resp.StatusCode,
		"elapsed", time.Since(start).String(),
		"bytes", len(raw),
	)
	return raw, nil
}

func (c *Client) keyFor(tenant string) string {
	if tenant != "" {
		if key, ok := c.tenantKeys[tenant]; ok && strings.TrimSpace(key) != "" {
			return key
		}
	}
	return c.apiKey
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
