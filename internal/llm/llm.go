// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm is the language-model service used by the reference fallback
// parser. Callers depend on the Client interface; OpenAIClient implements it
// with the OpenAI Responses API behind a shared request limiter.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// Client sends one prompt and returns the model's text reply.
type Client interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient calls the OpenAI Responses API.
type OpenAIClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIClient builds a client from cfg. It returns ErrConfiguration
// when no API key is set.
func NewOpenAIClient(cfg types.AIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: no language-model API key (set openai-api-key in .secrets/ or PAPERSTRUCT_FALLBACK_API_KEY)", types.ErrConfiguration)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are owned by the caller so timeouts can be classified.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logging.OrNop(logger),
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Chat sends prompt as a single user message.
func (c *OpenAIClient) Chat(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(
					responses.ResponseInputMessageContentListParam{
						responses.ResponseInputContentParamOfInputText(prompt),
					},
					"user",
				),
			},
		},
	})
	if err != nil {
		c.logger.Debug("model call failed", zap.String("model", c.model), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return "", err
	}
	out := resp.OutputText()
	c.logger.Debug("model call complete",
		zap.String("model", c.model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("reply_chars", len(out)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

// IsTimeout reports whether err is a timeout-class failure worth retrying:
// context deadlines, network timeouts, gateway timeout statuses, or a
// message that says so.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusGatewayTimeout, 524:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
