// Package anthropic implements text generation on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"shopify-analytics-agent/internal/integrations/paramstore"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
	systemPrompt     = "You are a precise analytics assistant for an online store. Follow the output format you are given exactly."
)

// messagesAPI is the subset of the SDK's message service used here.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client generates text with Claude. The API key is read from the parameter
// store on first use.
type Client struct {
	getter      paramstore.Getter
	paramPrefix string
	model       anthropic.Model
	maxTokens   int64
	newAPI      func(apiKey string) messagesAPI

	mu  sync.Mutex
	api messagesAPI
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = anthropic.Model(m)
		}
	}
}

func WithMaxTokens(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("anthropic: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("anthropic: parameter prefix must not be empty")
	}
	c := &Client{
		getter:      ps,
		paramPrefix: paramPrefix,
		model:       defaultModel,
		maxTokens:   defaultMaxTokens,
		newAPI: func(apiKey string) messagesAPI {
			client := anthropic.NewClient(option.WithAPIKey(apiKey))
			return &client.Messages
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) messages(ctx context.Context) (messagesAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	key, err := paramstore.ReadToken(ctx, c.getter, c.paramPrefix+"/anthropic-token")
	if err != nil {
		return nil, fmt.Errorf("anthropic: resolve api key: %w", err)
	}
	c.api = c.newAPI(key)
	return c.api, nil
}

// Generate returns the first text block of Claude's reply to prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("anthropic: prompt must not be empty")
	}
	api, err := c.messages(ctx)
	if err != nil {
		return "", err
	}

	msg, err := api.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: messages: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("anthropic: no text content in response")
}
