// Package llm wraps the chat completion API used for performance plans.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/retry"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o-mini"
	// DefaultTimeout bounds one completion including rate-limit retries
	DefaultTimeout = 60 * time.Second
)

// ErrAPIKeyNotSet is returned when no API key is configured
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

// CompletionRequest is one prompt sent to the model
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completion is the model's answer
type Completion struct {
	Content    string
	Model      string
	TokensUsed int
}

// OpenAIConfig configures an OpenAIClient
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// RateLimitRetries is how often a 429 is retried with backoff
	RateLimitRetries int
	Sleep            retry.SleepFunc
}

// OpenAIClient generates completions through the OpenAI API
type OpenAIClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
	runner  *retry.Runner
	logger  *logging.Logger
}

// NewOpenAIClient creates a client. The SDK's own retries are disabled so
// rate limits go through one backoff policy.
func NewOpenAIClient(cfg *OpenAIConfig) (*OpenAIClient, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.RateLimitRetries
	if retries < 0 {
		retries = 0
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
		runner: retry.NewRunner(&retry.Policy{
			MaxRetries: retries,
			BaseDelay:  2 * time.Second,
			MaxDelay:   32 * time.Second,
			Multiplier: 2,
			Retryable:  IsRateLimitError,
		}, cfg.Sleep),
		logger: logging.GetGlobalLogger().Component("llm"),
	}, nil
}

// ModelName returns the configured model
func (c *OpenAIClient) ModelName() string {
	return c.model
}

// Complete sends req to the chat completion endpoint
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	var completion *openai.ChatCompletion
	err := c.runner.Do(logging.WithLogger(ctx, c.logger), func(ctx context.Context, attempt int) error {
		var err error
		completion, err = c.client.Chat.Completions.New(ctx, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}

	return &Completion{
		Content:    completion.Choices[0].Message.Content,
		Model:      string(completion.Model),
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

// IsRateLimitError reports whether err is an HTTP 429 from the API
func IsRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
