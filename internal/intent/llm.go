package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"shopify-analytics-agent/internal/domain"
)

const classificationPrompt = `You classify questions a merchant asks about their online store.

Categories:
- sales: revenue, money earned, top-selling products by revenue or units, sales trends
- orders: order counts, order volume per day, fulfillment, shipping, returns
- customers: who buys, repeat customers, where customers are located, customer value
- inventory: stock levels, low or out of stock products, product listings and catalog
- ambiguous: the question is not about the store's data or cannot be placed

A request to "list products" or "show my products" is inventory, not sales.
%s
Question: %s

Respond with JSON only:
{"intent": "sales|orders|customers|inventory|ambiguous", "confidence": "high|medium|low"}`

// LLM classifies with a language model and falls back to the keyword
// classifier when the model is unavailable or returns something unusable.
// Explicit follow-ups are resolved before the model is consulted.
type LLM struct {
	gen      Generator
	fallback *Keyword
	logger   *slog.Logger
}

// NewLLM returns an LLM-backed classifier.
func NewLLM(gen Generator, logger *slog.Logger) (*LLM, error) {
	if gen == nil {
		return nil, errors.New("intent: generator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{gen: gen, fallback: NewKeyword(), logger: logger}, nil
}

// Classify implements Classifier.
func (c *LLM) Classify(ctx context.Context, question string, prior *domain.ConversationTurn) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	kw := c.fallback.classify(question, prior)
	if kw.Inherited {
		return kw, nil
	}

	raw, err := c.gen.Generate(ctx, buildPrompt(question, prior))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		c.logger.Warn("intent_llm_failed", "error", err)
		return kw, nil
	}
	res, err := parseResponse(raw)
	if err != nil {
		c.logger.Warn("intent_llm_unparseable", "error", err, "response", truncate(raw, 200))
		return kw, nil
	}
	return res, nil
}

func buildPrompt(question string, prior *domain.ConversationTurn) string {
	var ctxBlock string
	if prior != nil {
		ctxBlock = fmt.Sprintf("\nPrevious turn (intent %s):\nUser: %s\nAssistant: %s\n",
			prior.Intent, prior.Question, truncate(prior.Answer, 200))
	}
	return fmt.Sprintf(classificationPrompt, ctxBlock, question)
}

type llmAnswer struct {
	Intent     string `json:"intent"`
	Confidence string `json:"confidence"`
}

func parseResponse(raw string) (Result, error) {
	s := strings.TrimSpace(raw)
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return Result{}, errors.New("intent: no JSON object in response")
	}
	var a llmAnswer
	if err := json.Unmarshal([]byte(s[start:end+1]), &a); err != nil {
		return Result{}, fmt.Errorf("intent: decode response: %w", err)
	}
	in := domain.Intent(strings.ToLower(strings.TrimSpace(a.Intent)))
	if !in.Valid() {
		return Result{}, fmt.Errorf("intent: unknown intent %q", a.Intent)
	}
	conf := domain.Confidence(strings.ToLower(strings.TrimSpace(a.Confidence)))
	if !conf.Valid() {
		conf = domain.ConfidenceMedium
	}
	if in == domain.IntentAmbiguous {
		conf = domain.ConfidenceLow
	}
	return Result{Intent: in, Confidence: conf, Source: "llm"}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
