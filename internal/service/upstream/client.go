// Package upstream talks to the DeepSeek chat-completions API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/errs"
)

const (
	defaultBaseURL = "https://api.deepseek.com/v1"
	defaultModel   = "deepseek-chat"

	// maxErrorBodySize caps how much of an error body is kept for logs.
	maxErrorBodySize = 4096
)

// Config 描述上游 DeepSeek 接口。
type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	MaxAttempts      int
	Backoff          time.Duration
	PresencePenalty  float64
	FrequencyPenalty float64
}

// Message is one entry of the upstream conversation, system prompt included.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything the relay decides per call.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Client issues chat-completion calls. The caller's context bounds every call.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a client. A nil httpClient uses a fresh http.Client without its own
// timeout; deadlines come from the request context.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Configured reports whether the API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// RequireKey returns a configuration error when the API key is missing.
func (c *Client) RequireKey() error {
	if !c.Configured() {
		return errs.Configuration("DEEPSEEK_API_KEY is not configured")
	}
	return nil
}

// Model returns the upstream model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

type wireRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	PresencePenalty  float64   `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64   `json:"frequency_penalty,omitempty"`
	Stream           bool      `json:"stream,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete performs a buffered call and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := contextError(ctx); ctxErr != nil {
			return "", ctxErr
		}
		return "", errs.UpstreamUnavailable(fmt.Errorf("read response: %w", err))
	}

	var decoded wireResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", errs.UpstreamFormat("upstream returned invalid JSON", err)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message == nil || decoded.Choices[0].Message.Content == nil {
		return "", errs.UpstreamFormat("upstream response missing choices[0].message.content", nil)
	}
	return *decoded.Choices[0].Message.Content, nil
}

// Stream performs a streamed call. onDelta receives every non-empty content delta in
// arrival order; returning an error from it aborts the stream. The concatenated reply
// is returned once the [DONE] sentinel arrives.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return readStream(ctx, resp.Body, onDelta)
}

// do sends the request, retrying only transport failures that happened before any
// response was received.
func (c *Client) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if err := c.RequireKey(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(wireRequest{
		Model:            c.cfg.Model,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		PresencePenalty:  c.cfg.PresencePenalty,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		Stream:           stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/chat/completions"
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}

		resp, err := c.http.Do(httpReq)
		if err == nil {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, handleErrorResponse(resp)
			}
			return resp, nil
		}

		if ctxErr := contextError(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if attempt == c.cfg.MaxAttempts {
			break
		}

		wait := time.Duration(attempt) * c.cfg.Backoff
		log.Printf("[upstream] attempt %d/%d failed, retrying in %s: %v", attempt, c.cfg.MaxAttempts, wait, err)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, errs.UpstreamUnavailable(lastErr)
}

func handleErrorResponse(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	log.Printf("[upstream] HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	return errs.UpstreamHTTP(resp.StatusCode, string(body))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return contextError(ctx)
	}
}

// contextError translates a finished context: deadlines become UpstreamTimeout,
// caller cancellation is returned as is.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errs.UpstreamTimeout(err)
	default:
		return err
	}
}
