// Package intent maps a question, plus the previous resolved turn of the
// conversation, to one of the fixed intents.
package intent

import (
	"context"

	"shopify-analytics-agent/internal/domain"
)

// Result is the outcome of a classification.
type Result struct {
	Intent     domain.Intent
	Confidence domain.Confidence
	// Inherited is set when the intent was carried over from the prior turn
	// and only the time range is expected to change.
	Inherited bool
	// Source names what produced the result: "keyword", "llm" or "follow_up".
	Source string
}

// Classifier classifies questions. prior may be nil. Implementations fail
// into domain.IntentAmbiguous rather than returning an error for questions
// they cannot place; errors are reserved for cancellation.
type Classifier interface {
	Classify(ctx context.Context, question string, prior *domain.ConversationTurn) (Result, error)
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
