package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/jonathan/songsmith/internal/workflow"
)

// DefaultTimeout bounds one synthesis request end to end. A timeout is a soft
// failure like any non-2xx response.
const DefaultTimeout = 5 * time.Minute

// Options configures the synthesis client.
type Options struct {
	// Key and Secret fill the two caller-identifying request headers.
	Key    string
	Secret string

	Timeout time.Duration

	// RequestsPerMinute throttles outbound calls; zero disables throttling.
	RequestsPerMinute int

	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client performs one POST per invocation against a routed synthesis
// endpoint. It never returns an error: every failure mode, transport error,
// non-2xx status, or unreadable body, comes back as a soft-failure outcome.
type Client struct {
	httpClient *http.Client
	key        string
	secret     string
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewClient creates a synthesis client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Client{
		httpClient: httpClient,
		key:        opts.Key,
		secret:     opts.Secret,
		limiter:    limiter,
		logger:     logger,
	}
}

// Generate posts the request body to the endpoint and captures the raw
// outcome as data for the workflow step log.
func (c *Client) Generate(ctx context.Context, endpoint string, body RequestBody) workflow.FetchOutcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("generation call aborted before send", "error", err)
			return workflow.FetchOutcome{OK: false}
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		c.logger.Error("failed to encode generation request", "error", err)
		return workflow.FetchOutcome{OK: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		c.logger.Error("failed to build generation request", "error", err)
		return workflow.FetchOutcome{OK: false}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Modal-Key", c.key)
	req.Header.Set("Modal-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("generation call failed", "endpoint", endpoint, "error", err)
		return workflow.FetchOutcome{OK: false}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("failed to read generation response", "endpoint", endpoint, "error", err)
		return workflow.FetchOutcome{OK: false, StatusCode: resp.StatusCode}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		c.logger.Warn("generation call returned non-2xx", "endpoint", endpoint, "status", resp.StatusCode)
	}
	return workflow.FetchOutcome{OK: ok, StatusCode: resp.StatusCode, Body: raw}
}
