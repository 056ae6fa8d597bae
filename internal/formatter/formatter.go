// Package formatter turns execution results into prose with a confidence
// label.
package formatter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shopify-analytics-agent/internal/domain"
	"shopify-analytics-agent/internal/metrics"
)

const promptRows = 20

const formattingPrompt = `You are a helpful analytics assistant for an online store owner. Turn the data below into a clear, friendly answer.

Question: %s
Category: %s
Period: %s
Data (%d rows):
%s

Guidelines:
- Answer the question that was asked, in plain business language with no technical jargon.
- Use the specific numbers from the data. Format money like $1,234.56.
- If the data suggests an action (for example low stock), mention it briefly.
- Do not invent numbers that are not in the data.

Respond with JSON only:
{"answer": "...", "confidence": "high|medium|low"}`

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Request is everything the formatter needs about one answered question.
type Request struct {
	Question   string
	Intent     domain.Intent
	Confidence domain.Confidence
	Plan       domain.QueryPlan
	Result     domain.ExecutionResult
}

// Answer is the formatted response.
type Answer struct {
	Text       string
	Confidence domain.Confidence
	// Degraded is set when language generation was configured but failed and
	// the template formatter produced Text instead.
	Degraded bool
}

// Formatter renders answers, preferring a language model when one is
// configured.
type Formatter struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithGenerator enables language-model formatting.
func WithGenerator(g Generator) Option {
	return func(f *Formatter) { f.gen = g }
}

// WithTimeout bounds each language-model call.
func WithTimeout(d time.Duration) Option {
	return func(f *Formatter) { f.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Formatter) {
		if l != nil {
			f.logger = l
		}
	}
}

// New returns a Formatter. Without a generator it always uses templates.
func New(opts ...Option) *Formatter {
	f := &Formatter{timeout: 20 * time.Second, logger: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// baseConfidence is the classifier's confidence, lowered one tier when the
// result came from the fallback path.
func baseConfidence(req Request) domain.Confidence {
	c := req.Confidence
	if !c.Valid() {
		c = domain.ConfidenceMedium
	}
	if req.Result.FallbackUsed {
		c = c.Downgrade()
	}
	return c
}

// Format renders req. It never fails: empty results produce NoDataMessage and
// generation failures fall back to templates.
func (f *Formatter) Format(ctx context.Context, req Request) Answer {
	if len(req.Result.Rows) == 0 {
		return Answer{Text: NoDataMessage, Confidence: domain.ConfidenceLow}
	}
	conf := baseConfidence(req)
	if f.gen == nil {
		return Answer{Text: Template(req.Intent, req.Plan, req.Result.Rows), Confidence: conf}
	}

	gctx, cancel := ctx, context.CancelFunc(func() {})
	if f.timeout > 0 {
		gctx, cancel = context.WithTimeout(ctx, f.timeout)
	}
	defer cancel()

	raw, err := f.gen.Generate(gctx, buildPrompt(req))
	if err == nil {
		if text, llmConf, ok := parseResponse(raw); ok {
			if llmConf.Valid() {
				conf = conf.Lower(llmConf)
			}
			return Answer{Text: text, Confidence: conf}
		}
		err = errors.New("formatter: empty response")
	}

	f.logger.Warn("formatter_degraded", "intent", req.Intent, "error", err)
	metrics.FormatterDegradedTotal.Inc()
	return Answer{
		Text:       Template(req.Intent, req.Plan, req.Result.Rows),
		Confidence: conf,
		Degraded:   true,
	}
}

func buildPrompt(req Request) string {
	rows := req.Result.Rows
	shown := rows
	if len(shown) > promptRows {
		shown = shown[:promptRows]
	}
	data, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprint(shown))
	}
	body := string(data)
	if len(rows) > promptRows {
		body += fmt.Sprintf("\n...and %d more rows", len(rows)-promptRows)
	}
	when := req.Plan.TimeRange.String()
	if req.Plan.TimeRange.Label != "" {
		when = req.Plan.TimeRange.Label + " (" + when + ")"
	}
	return fmt.Sprintf(formattingPrompt, req.Question, req.Intent, when, len(rows), body)
}

type llmAnswer struct {
	Answer     string `json:"answer"`
	Confidence string `json:"confidence"`
}

// parseResponse accepts either the requested JSON or, failing that, plain
// prose.
func parseResponse(raw string) (string, domain.Confidence, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	var a llmAnswer
	if strings.HasPrefix(s, "{") && json.Unmarshal([]byte(s), &a) == nil {
		text := strings.TrimSpace(a.Answer)
		if text == "" {
			return "", "", false
		}
		return text, domain.Confidence(strings.ToLower(strings.TrimSpace(a.Confidence))), true
	}
	return s, "", true
}
