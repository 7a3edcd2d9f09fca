// Package llm extracts offer fields from free text with a chat-completion model.
package llm

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
	"github.com/Dan-Hightower/hirebot/pkg/retry"
)

const service = "openai"

// Parser turns a /hire command into an offer record in state PARSED.
// Every error it returns matches failure.ErrParse.
type Parser interface {
	Parse(ctx context.Context, text string) (offer.Record, error)
}

// Config configures Client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	CallTimeout time.Duration
	Rules       Rules
	Retry       retry.Policy
	HTTPClient  *http.Client
}

// Client is a Parser backed by the chat-completions API.
type Client struct {
	api *openai.Client
	cfg Config
	log logger.Logger
}

// New creates a Client.
func New(cfg Config, log logger.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Once()
	}
	return &Client{api: openai.NewClientWithConfig(oc), cfg: cfg, log: log}
}

// Parse implements Parser.
func (c *Client) Parse(ctx context.Context, text string) (offer.Record, error) {
	const op = "llm.parse"
	rules := c.cfg.Rules
	now := rules.now()
	rules.Now = func() time.Time { return now }

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(now.Year(), rules.totalShares())},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(text)},
		},
		Temperature: temperature(c.cfg.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var content string
	start := time.Now()
	policy := c.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.RecordRetry(service)
		c.log.Warn(ctx, "retrying completion", logger.Int("attempt", attempt), logger.Duration("wait", wait), logger.Error(err))
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		if err != nil {
			return classify(op, err)
		}
		if len(resp.Choices) == 0 {
			return failure.Newf(op, failure.ErrPermanent, "completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	metrics.ObserveOutbound(service, "parse", failure.Label(err), time.Since(start))
	if err != nil {
		c.log.Error(ctx, "completion failed", logger.Error(err))
		return offer.Record{}, failure.WrapKind(op, failure.ErrParse, err)
	}

	rec, err := decode(content, text, rules)
	if err != nil {
		c.log.Warn(ctx, "completion rejected", logger.String("reason", err.Error()))
		return offer.Record{}, err
	}
	c.log.Debug(ctx, "completion parsed", logger.String("role", rec.Role), logger.String("start_date", rec.StartDate))
	return rec, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// temperature maps zero to the smallest positive value; the request
// field is omitted when zero, which would select the API default.
func temperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func classify(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return failure.WrapKind(op, statusKind(apiErr.HTTPStatusCode), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return failure.WrapKind(op, statusKind(reqErr.HTTPStatusCode), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.WrapKind(op, failure.ErrTransient, err)
	}
	return failure.WrapKind(op, failure.ErrPermanent, err)
}

func statusKind(code int) error {
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError || code == 0 {
		return failure.ErrTransient
	}
	return failure.ErrPermanent
}
