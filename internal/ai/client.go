// Package ai provides OpenAI-compatible chat completions.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"adminpanel/internal/config"
)

// Request is one completion request. Zero fields fall back to the client defaults.
type Request struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	Role        string   `json:"role,omitempty"` // system message
	N           int      `json:"n,omitempty"`
}

// Result is the outcome of one request in a batch.
type Result struct {
	Completions []string `json:"completions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Client provides access to an OpenAI-compatible chat completion endpoint.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewClient creates a client from config.
func NewClient(cfg config.AIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger.Named("ai"),
	}, nil
}

// Complete returns the completions generated for one prompt.
func (c *Client) Complete(ctx context.Context, req Request) ([]string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	n := req.N
	if n <= 0 {
		n = 1
	}

	var messages []openai.ChatCompletionMessage
	if req.Role != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Role})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	c.logger.Debug("completion request",
		zap.String("model", model),
		zap.Int("prompt_len", len(req.Prompt)),
		zap.Int("n", n))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		N:           n,
	})
	if err != nil {
		c.logger.Error("completion request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	completions := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		completions = append(completions, choice.Message.Content)
	}

	c.logger.Info("completion request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))
	return completions, nil
}

// CompleteAll runs every request concurrently. A failed request does not
// cancel the others; results are returned in request order.
func (c *Client) CompleteAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			completions, err := c.Complete(ctx, req)
			if err != nil {
				results[i] = Result{Error: err.Error()}
				return nil
			}
			results[i] = Result{Completions: completions}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
