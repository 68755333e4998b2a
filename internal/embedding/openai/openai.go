package openai

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
)

// ErrDimensionMismatch reports a vector whose length differs from the
// configured embedding dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Client is an OpenAI-compatible embeddings client implementing the Embedder interface.
// It also understands the Ollama-native response shape.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int
	sleep      func(context.Context, time.Duration) error

	mu        sync.RWMutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client. APIKey may be
// empty for local servers; Dimension 0 means "take it from the first reply".
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.Dimension < 0 {
		return nil, errors.Newf("invalid embedding dimension %d", cfg.Dimension)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     hc,
		maxRetries: max(cfg.MaxRetries, 0),
		dimension:  cfg.Dimension,
		sleep:      sleepContext,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Prepare is not required for remote embedding.
func (c *Client) Prepare(corpus []string) error { return nil }

// Dimension returns the configured or first observed vector length.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

type embedRequest struct {
	Input  string `json:"input,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	// Ollama-native shape
	Embedding []float64 `json:"embedding"`
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	url := c.baseURL + "/embeddings"
	data, err := sonic.Marshal(embedRequest{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, errors.Wrap(err, "encode embedding request")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt-1, lastErr)); err != nil {
				return nil, err
			}
		}
		vec, retry, err := c.do(ctx, url, data)
		if err == nil {
			return c.checkDimension(vec)
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "embeddings failed after %d attempts", c.maxRetries+1)
}

type retryAfterError struct {
	status string
	wait   time.Duration
}

func (e *retryAfterError) Error() string { return "openai embeddings failed: " + e.status }

func (c *Client) do(ctx context.Context, url string, body []byte) ([]float64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, errors.Wrap(err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, errors.Wrap(err, "send embedding request")
	}
	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		e := &retryAfterError{status: resp.Status}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			e.wait = time.Duration(secs) * time.Second
		}
		return nil, true, e
	}
	if resp.StatusCode >= 300 {
		return nil, false, errors.Newf("openai embeddings failed: %s", resp.Status)
	}
	if readErr != nil {
		return nil, true, errors.Wrap(readErr, "read embedding response")
	}

	var out embedResponse
	if err := sonic.Unmarshal(payload, &out); err != nil {
		return nil, true, errors.Wrap(err, "decode embedding response")
	}
	if len(out.Data) > 0 && len(out.Data[0].Embedding) > 0 {
		return out.Data[0].Embedding, false, nil
	}
	if len(out.Embedding) > 0 {
		return out.Embedding, false, nil
	}
	return nil, true, errors.New("no embedding returned")
}

func (c *Client) checkDimension(v []float64) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = len(v)
	}
	if len(v) != c.dimension {
		return nil, errors.Wrapf(ErrDimensionMismatch, "got %d, want %d", len(v), c.dimension)
	}
	return v, nil
}

func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) && ra.wait > 0 {
		return ra.wait
	}
	return RetryDelay(attempt)
}

// RetryDelay is exponential backoff from 200ms capped at 5s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
