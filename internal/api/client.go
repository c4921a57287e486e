package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kelsjon3/forge-iterator/internal/config"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	// Checkpoint reloads on large models can legitimately take minutes.
	DefaultHTTPTimeout = 600 * time.Second
	// DefaultMaxRetries is the default maximum number of retry attempts
	DefaultMaxRetries = 3
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
)

// APIError represents a failed request to the host API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Client talks to a Stable Diffusion WebUI / Forge server over its
// /sdapi/v1 REST API.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	logger          *slog.Logger
	rpm             int
	maxRetries      int
	baseRetryDelay  time.Duration
	maxBackoff      time.Duration
	authUser        string
	authPassword    string
}

// NewClient creates a new host API client from the host configuration
// and optional --api-auth credentials.
func NewClient(cfg config.HostConfig, secrets *config.Secrets, logger *slog.Logger) *Client {
	timeout := DefaultHTTPTimeout
	if cfg.HTTPTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	maxBackoff := time.Duration(cfg.MaxBackoffSeconds) * time.Second
	if maxBackoff == 0 {
		maxBackoff = 120 * time.Second
	}

	c := &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:      &http.Client{Timeout: timeout},
		rateLimiterPool: NewRateLimiterPool(),
		logger:          logger,
		rpm:             cfg.RequestsPerMinute,
		maxRetries:      maxRetries,
		baseRetryDelay:  DefaultBaseRetryDelay,
		maxBackoff:      maxBackoff,
	}
	if secrets != nil {
		c.authUser = secrets.APIUser
		c.authPassword = secrets.APIPassword
	}
	return c
}

// Models returns the host's checkpoint list.
func (c *Client) Models(ctx context.Context) ([]SDModel, error) {
	var out []SDModel
	if err := c.do(ctx, http.MethodGet, "/sdapi/v1/sd-models", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RefreshCheckpoints asks the host to rescan its models directory.
func (c *Client) RefreshCheckpoints(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/sdapi/v1/refresh-checkpoints", struct{}{}, nil)
}

// Options returns the host settings subset the iterator cares about.
func (c *Client) Options(ctx context.Context) (*Options, error) {
	var out Options
	if err := c.do(ctx, http.MethodGet, "/sdapi/v1/options", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetCheckpoint posts the sd_model_checkpoint option, which makes the
// host reload model weights. The call blocks until the reload completes
// or fails; that is the contract the swap controller relies on.
func (c *Client) SetCheckpoint(ctx context.Context, title string) error {
	body := map[string]string{"sd_model_checkpoint": title}
	return c.do(ctx, http.MethodPost, "/sdapi/v1/options", body, nil)
}

// Txt2Img runs one generation batch on the host.
func (c *Client) Txt2Img(ctx context.Context, req *Txt2ImgRequest) (*Txt2ImgResponse, error) {
	var out Txt2ImgResponse
	if err := c.do(ctx, http.MethodPost, "/sdapi/v1/txt2img", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one JSON request with rate limiting and retry with
// exponential backoff. Non-retryable status codes fail immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.rateLimiterPool.Wait(ctx, path, c.rpm); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}

			c.logger.Warn("Retrying API request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", backoff,
				"endpoint", path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if apiErr, ok := err.(*APIError); ok && !apiErr.Retryable {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authUser != "" {
		httpReq.SetBasicAuth(c.authUser, c.authPassword)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &APIError{
			Endpoint:   path,
			Message:    fmt.Sprintf("request failed: %v", err),
			StatusCode: 0,
			Retryable:  true,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			if errResp.Detail != "" {
				msg = errResp.Detail
			} else if errResp.Error != "" {
				msg = errResp.Error
			}
		}
		return &APIError{
			Endpoint:   path,
			StatusCode: httpResp.StatusCode,
			Message:    msg,
			Retryable:  isStatusCodeRetryable(httpResp.StatusCode),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// isStatusCodeRetryable reports whether a status code is worth retrying.
// 4xx responses other than 429 indicate a caller bug or a bad checkpoint
// title and will not succeed on retry.
func isStatusCodeRetryable(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}
