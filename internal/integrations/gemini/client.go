// Package gemini implements text generation on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"shopify-analytics-agent/internal/integrations/paramstore"
)

const (
	defaultModel = "gemini-2.0-flash"
	systemPrompt = "You are a precise analytics assistant for an online store. Follow the output format you are given exactly."
)

// modelsAPI is the subset of *genai.Models used here.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client generates text with Gemini. The API key is read from the parameter
// store on first use.
type Client struct {
	getter      paramstore.Getter
	paramPrefix string
	model       string
	newAPI      func(ctx context.Context, apiKey string) (modelsAPI, error)

	mu  sync.Mutex
	api modelsAPI
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		getter:      ps,
		paramPrefix: paramPrefix,
		model:       defaultModel,
		newAPI: func(ctx context.Context, apiKey string) (modelsAPI, error) {
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  apiKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return nil, err
			}
			return client.Models, nil
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) models(ctx context.Context) (modelsAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	key, err := paramstore.ReadToken(ctx, c.getter, c.paramPrefix+"/gemini-token")
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	api, err := c.newAPI(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.api = api
	return api, nil
}

// Generate returns the concatenated text parts of the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("gemini: prompt must not be empty")
	}
	api, err := c.models(ctx)
	if err != nil {
		return "", err
	}

	resp, err := api.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: no candidates in response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini: no text content in response")
	}
	return b.String(), nil
}
