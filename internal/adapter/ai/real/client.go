// Package real implements domain.AIClient against an OpenAI-compatible
// chat completions endpoint (Ollama, OpenRouter, OpenAI, vLLM).
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-mock-interview/internal/config"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/service/ratelimiter"
)

const (
	provider  = "llm"
	bucketKey = "llm:chat"
)

// Client implements domain.AIClient.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	referer   string
	title     string
	hc        *http.Client
	backoff   config.BackoffConfig
	limiter   *ratelimiter.RedisLuaLimiter
	bucket    ratelimiter.BucketConfig
	counter   *tokencount.Counter
	maxTokens int
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter throttles every attempt through a shared token bucket.
func WithLimiter(l *ratelimiter.RedisLuaLimiter, perMinute int) Option {
	return func(c *Client) {
		if l == nil || perMinute <= 0 {
			return
		}
		c.bucket = ratelimiter.NewBucketConfigFromPerMinute(perMinute)
		l.SetBucketConfig(bucketKey, c.bucket)
		c.limiter = l
	}
}

// WithHTTPClient replaces the traced default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New constructs a client from configuration.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(cfg.LLMBaseURL, "/"),
		apiKey:    cfg.LLMAPIKey,
		model:     cfg.LLMModel,
		referer:   cfg.LLMReferer,
		title:     cfg.LLMTitle,
		hc:        observability.NewHTTPClient(cfg.LLMTimeout),
		backoff:   cfg.GetBackoffConfig(),
		counter:   tokencount.DefaultCounter,
		maxTokens: cfg.LLMMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ChatJSON asks for a JSON object response.
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	out, err := c.chat(ctx, "chat_json", systemPrompt, userPrompt, maxTokens, true)
	if err != nil {
		return "", upstream.Wrap("real.Client.ChatJSON", err)
	}
	return out, nil
}

// ChatText asks for a free-form response.
func (c *Client) ChatText(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	out, err := c.chat(ctx, "chat_text", systemPrompt, userPrompt, maxTokens, false)
	if err != nil {
		return "", upstream.Wrap("real.Client.ChatText", err)
	}
	return out, nil
}

func (c *Client) chat(ctx domain.Context, op, systemPrompt, userPrompt string, maxTokens int, jsonMode bool) (string, error) {
	if c.baseURL == "" || c.model == "" {
		return "", fmt.Errorf("%w: LLM_BASE_URL and LLM_MODEL are required", domain.ErrInvalidArgument)
	}
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	ctx, span := otel.Tracer("ai.llm").Start(ctx, "llm."+op)
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model), attribute.Int("llm.max_tokens", maxTokens))

	reqBody := chatRequest{
		Model:       c.model,
		Temperature: 0.2,
		MaxTokens:   maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	if n, err := c.counter.CountChatTokens(systemPrompt, userPrompt, c.model); err == nil {
		span.SetAttributes(attribute.Int("llm.prompt_tokens_estimate", n))
		slog.Debug("llm request", slog.String("op", op), slog.String("model", c.model), slog.Int("prompt_tokens", n))
	}

	var out chatResponse
	attempt := 0
	call := func() error {
		attempt++
		if err := c.limiter.Wait(ctx, bucketKey, 1); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			r.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if c.referer != "" {
			r.Header.Set("HTTP-Referer", c.referer)
		}
		if c.title != "" {
			r.Header.Set("X-Title", c.title)
		}
		resp, err := c.hc.Do(r)
		observability.ObserveAIRequest(provider, op, start)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := upstream.ReadResponse(provider, resp)
		if err != nil {
			c.logFailure(ctx, op, attempt, resp, err)
			return err
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode chat response: %w", domain.ErrSchemaInvalid, err))
		}
		return nil
	}
	if err := backoff.Retry(call, c.backoff.NewBackOff(ctx)); err != nil {
		observability.FailAIRequest(provider, op, upstream.Class(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		slog.Error("llm call failed", slog.String("op", op), slog.String("model", c.model), slog.Int("attempts", attempt), slog.Any("error", err))
		return "", err
	}

	c.restoreBucket()

	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		err := fmt.Errorf("%w: empty completion", domain.ErrSchemaInvalid)
		observability.FailAIRequest(provider, op, upstream.Class(err))
		return "", err
	}
	if out.Model != "" && out.Model != c.model {
		slog.Debug("provider substituted model", slog.String("requested", c.model), slog.String("actual", out.Model))
	}
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", out.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", out.Usage.CompletionTokens),
	)
	return out.Choices[0].Message.Content, nil
}

// logFailure logs a failed attempt and narrows the shared bucket when the provider says to back off.
func (c *Client) logFailure(ctx context.Context, op string, attempt int, resp *http.Response, err error) {
	var se *upstream.StatusError
	if !errors.As(err, &se) {
		return
	}
	lvl := slog.LevelWarn
	if se.StatusCode >= 500 {
		lvl = slog.LevelError
	}
	slog.Log(ctx, lvl, "llm non-2xx",
		slog.String("op", op),
		slog.Int("attempt", attempt),
		slog.Int("status", se.StatusCode),
		slog.String("model", c.model),
		slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
		slog.String("body", se.Body))
	if se.StatusCode == http.StatusTooManyRequests && se.RetryAfter > 0 && c.limiter != nil {
		// one call per Retry-After window until the provider recovers
		c.limiter.SetBucketConfig(bucketKey, ratelimiter.BucketConfig{
			Capacity:   1,
			RefillRate: 1 / se.RetryAfter.Seconds(),
		})
	}
}

func (c *Client) restoreBucket() {
	if c.limiter == nil {
		return
	}
	if cur, ok := c.limiter.BucketConfig(bucketKey); ok && cur != c.bucket {
		c.limiter.SetBucketConfig(bucketKey, c.bucket)
	}
}
