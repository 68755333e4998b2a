// Package openai talks to OpenAI-compatible chat completion endpoints such as
// LM Studio, Ollama or the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"

	embedopenai "matchrag/internal/embedding/openai"
)

// ErrEmptyCompletion is returned when the server answers without any text.
var ErrEmptyCompletion = errors.New("empty completion")

type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
	maxRetries  int
	sleep       func(context.Context, time.Duration) error
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		return nil, errors.New("generation model is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      hc,
		maxRetries:  max(cfg.MaxRetries, 0),
		sleep:       sleepContext,
	}, nil
}

func (c *Client) Name() string { return "openai:" + c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Text    string      `json:"text"`
	} `json:"choices"`
	// Some gateways in front of Ollama answer /chat/completions with the
	// native /api/chat body: a top-level message and no choices.
	Message *chatMessage `json:"message"`
}

// Generate sends prompt as a single user message and returns the trimmed
// reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	url := c.baseURL + "/chat/completions"
	data, err := sonic.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode chat request")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt-1, lastErr)); err != nil {
				return "", err
			}
		}
		text, retry, err := c.do(ctx, url, data)
		if err == nil {
			return text, nil
		}
		if !retry {
			return "", err
		}
		lastErr = err
	}
	return "", errors.Wrapf(lastErr, "chat completion failed after %d attempts", c.maxRetries+1)
}

type retryAfterError struct {
	status string
	wait   time.Duration
}

func (e *retryAfterError) Error() string { return "chat completion failed: " + e.status }

func (c *Client) do(ctx context.Context, url string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, errors.Wrap(err, "build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, errors.Wrap(err, "send chat request")
	}
	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		e := &retryAfterError{status: resp.Status}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			e.wait = time.Duration(secs) * time.Second
		}
		return "", true, e
	}
	if resp.StatusCode >= 300 {
		return "", false, errors.Newf("chat completion failed: %s", resp.Status)
	}
	if readErr != nil {
		return "", true, errors.Wrap(readErr, "read chat response")
	}

	var out chatResponse
	if err := sonic.Unmarshal(payload, &out); err != nil {
		return "", false, errors.Wrap(err, "decode chat response")
	}
	var text string
	switch {
	case len(out.Choices) > 0 && out.Choices[0].Message.Content != "":
		text = out.Choices[0].Message.Content
	case len(out.Choices) > 0:
		text = out.Choices[0].Text
	case out.Message != nil:
		text = out.Message.Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false, ErrEmptyCompletion
	}
	return text, false, nil
}

func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) && ra.wait > 0 {
		return ra.wait
	}
	return embedopenai.RetryDelay(attempt)
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
