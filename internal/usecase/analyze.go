package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"shopify-analytics-agent/internal/cache"
	"shopify-analytics-agent/internal/conversation"
	"shopify-analytics-agent/internal/domain"
	"shopify-analytics-agent/internal/executor"
	"shopify-analytics-agent/internal/formatter"
	"shopify-analytics-agent/internal/intent"
	"shopify-analytics-agent/internal/metrics"
	"shopify-analytics-agent/internal/planner"
	"shopify-analytics-agent/internal/shopifyql"
)

const (
	defaultMaxQuestion = 500
	defaultCacheTTL    = 5 * time.Minute
	maxRawRows         = 100
	logQuestionChars   = 100
)

// ClarificationMessage answers questions whose intent could not be resolved.
const ClarificationMessage = "I'm not sure what you'd like to know. I can answer questions about sales, orders, customers and inventory, for example \"What were my top 5 selling products last week?\" or \"Which products are low on stock?\""

type Classifier interface {
	Classify(ctx context.Context, question string, prior *domain.ConversationTurn) (intent.Result, error)
}

type Planner interface {
	Plan(intent domain.Intent, question string, conv domain.ConversationContext, now time.Time) (domain.QueryPlan, error)
}

type QueryValidator interface {
	Validate(q domain.GeneratedQuery) domain.ValidationResult
}

type Executor interface {
	Run(ctx context.Context, job executor.Job) executor.Outcome
}

type Formatter interface {
	Format(ctx context.Context, req formatter.Request) formatter.Answer
}

// TokenSource resolves the access token for a store. A store without a
// usable token yields an error wrapping domain.ErrStoreNotAuthorized.
type TokenSource interface {
	AccessToken(ctx context.Context, storeID string) (string, error)
}

// Dependencies are the collaborators of AnalyzeService. All are required.
type Dependencies struct {
	Classifier    Classifier
	Planner       Planner
	Validator     QueryValidator
	Executor      Executor
	Formatter     Formatter
	Cache         cache.Cache
	Conversations conversation.Store
	Tokens        TokenSource
}

func (d Dependencies) check() error {
	switch {
	case d.Classifier == nil:
		return errors.New("usecase: classifier must not be nil")
	case d.Planner == nil:
		return errors.New("usecase: planner must not be nil")
	case d.Validator == nil:
		return errors.New("usecase: validator must not be nil")
	case d.Executor == nil:
		return errors.New("usecase: executor must not be nil")
	case d.Formatter == nil:
		return errors.New("usecase: formatter must not be nil")
	case d.Cache == nil:
		return errors.New("usecase: cache must not be nil")
	case d.Conversations == nil:
		return errors.New("usecase: conversation store must not be nil")
	case d.Tokens == nil:
		return errors.New("usecase: token source must not be nil")
	}
	return nil
}

type Option func(*AnalyzeService)

func WithMaxQuestionLength(n int) Option {
	return func(s *AnalyzeService) {
		if n > 0 {
			s.maxQuestionLen = n
		}
	}
}

func WithCacheTTL(d time.Duration) Option {
	return func(s *AnalyzeService) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

// WithClock sets the clock that supplies the reference instant for relative
// time ranges.
func WithClock(c clockwork.Clock) Option {
	return func(s *AnalyzeService) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *AnalyzeService) {
		if l != nil {
			s.logger = l
		}
	}
}

// AnalyzeService answers analytics questions about a store.
type AnalyzeService struct {
	deps           Dependencies
	generate       func(domain.QueryPlan) (domain.GeneratedQuery, error)
	maxQuestionLen int
	cacheTTL       time.Duration
	clock          clockwork.Clock
	logger         *slog.Logger
}

type AnalyzeInput struct {
	StoreID        string
	Question       string
	ConversationID string
}

type AnalyzeOutput struct {
	Answer         string
	Confidence     domain.Confidence
	Intent         domain.Intent
	QueryUsed      string
	DataSource     domain.DataSource
	FallbackUsed   bool
	ConversationID string
	RawData        []domain.Row
	// Clarification is set when the question could not be classified and
	// Answer asks the caller to rephrase.
	Clarification bool
	Cached        bool
}

func NewAnalyzeService(deps Dependencies, opts ...Option) (*AnalyzeService, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	s := &AnalyzeService{
		deps:           deps,
		generate:       shopifyql.Generate,
		maxQuestionLen: defaultMaxQuestion,
		cacheTTL:       defaultCacheTTL,
		clock:          clockwork.NewRealClock(),
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Analyze runs one question through classification, planning, generation,
// validation, execution and formatting. Completed answers are cached by plan
// fingerprint and appended to the conversation; nothing is written when the
// request fails or ctx is canceled.
func (s *AnalyzeService) Analyze(ctx context.Context, in AnalyzeInput) (out AnalyzeOutput, err error) {
	start := time.Now()
	intentLabel := "unknown"
	defer func() {
		outcome := "answered"
		var uerr *Error
		switch {
		case errors.As(err, &uerr):
			outcome = strings.ToLower(string(uerr.Code))
		case out.Clarification:
			outcome = "clarification"
		case out.Cached:
			outcome = "cached"
		}
		metrics.QuestionsTotal.WithLabelValues(intentLabel, outcome).Inc()
		metrics.ObserveStage("analyze", start)
	}()

	storeID := strings.TrimSpace(in.StoreID)
	question := strings.TrimSpace(in.Question)
	switch {
	case storeID == "":
		return AnalyzeOutput{}, newError(ErrorInvalidInput, "missing_store_id", nil)
	case question == "":
		return AnalyzeOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	case utf8.RuneCountInString(question) > s.maxQuestionLen:
		return AnalyzeOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}
	logger := s.logger.With("store_id", storeID, "conversation_id", convID)
	now := s.clock.Now().UTC()

	conv, err := s.deps.Conversations.Get(ctx, convID)
	if err != nil {
		if ctx.Err() != nil {
			return AnalyzeOutput{}, canceled(ctx)
		}
		logger.Warn("conversation_load_failed", "error", err)
		conv = domain.ConversationContext{ConversationID: convID}
	}
	logger.Info("processing_question", "question", truncate(question, logQuestionChars), "has_history", len(conv.Turns) > 0)

	stage := time.Now()
	res, err := s.deps.Classifier.Classify(ctx, question, conv.LastResolved())
	metrics.ObserveStage("classify", stage)
	if err != nil {
		if ctx.Err() != nil {
			return AnalyzeOutput{}, canceled(ctx)
		}
		return AnalyzeOutput{}, newError(ErrorInternal, "classification_failed", err)
	}
	intentLabel = string(res.Intent)
	logger.Info("intent_classified", "intent", res.Intent, "confidence", res.Confidence, "source", res.Source, "inherited", res.Inherited)

	if res.Intent == domain.IntentAmbiguous {
		out = AnalyzeOutput{
			Answer:         ClarificationMessage,
			Confidence:     domain.ConfidenceLow,
			Intent:         domain.IntentAmbiguous,
			ConversationID: convID,
			Clarification:  true,
		}
		s.remember(ctx, logger, convID, domain.ConversationTurn{
			Question:      question,
			Intent:        domain.IntentAmbiguous,
			Answer:        ClarificationMessage,
			Clarification: true,
			At:            now,
		})
		return out, nil
	}

	plan, err := s.deps.Planner.Plan(res.Intent, question, conv, now)
	if err != nil {
		var perr *planner.Error
		if errors.As(err, &perr) {
			logger.Info("planning_failed", "intent", res.Intent, "kind", perr.Kind, "error", err)
			return AnalyzeOutput{}, newError(ErrorPlanning, string(perr.Kind), err)
		}
		return AnalyzeOutput{}, newError(ErrorInternal, "planning_failed", err)
	}

	key := cache.Fingerprint(storeID, plan)
	if hit, ok := s.lookup(ctx, logger, key); ok {
		out = AnalyzeOutput{
			Answer:         hit.Answer,
			Confidence:     hit.Confidence,
			Intent:         plan.Intent,
			QueryUsed:      hit.QueryUsed,
			DataSource:     hit.DataSource,
			FallbackUsed:   hit.FallbackUsed,
			ConversationID: convID,
			RawData:        hit.Rows,
			Cached:         true,
		}
		s.remember(ctx, logger, convID, domain.ConversationTurn{
			Question:   question,
			Intent:     plan.Intent,
			TimeRange:  plan.TimeRange,
			Query:      hit.QueryUsed,
			Answer:     hit.Answer,
			DataSource: hit.DataSource,
			At:         now,
		})
		return out, nil
	}

	q, err := s.generate(plan)
	if err != nil {
		logger.Error("query_generation_failed", "intent", plan.Intent, "error", err)
		return AnalyzeOutput{}, newError(ErrorUnprocessableQuestion, "query_generation_failed", err)
	}
	if vr := s.deps.Validator.Validate(q); !vr.OK() {
		codes := make([]string, 0, len(vr.Violations))
		for _, v := range vr.Violations {
			metrics.ValidationFailuresTotal.WithLabelValues(string(v.Code)).Inc()
			codes = append(codes, v.String())
		}
		logger.Error("query_validation_failed", "intent", plan.Intent, "query", q.Text, "violations", codes)
		return AnalyzeOutput{}, newError(ErrorUnprocessableQuestion, "query_validation_failed", errors.New(strings.Join(codes, "; ")))
	}
	logger.Debug("query_generated", "query", q.Text)

	token, err := s.deps.Tokens.AccessToken(ctx, storeID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStoreNotAuthorized):
			return AnalyzeOutput{}, newError(ErrorStoreNotAuthorized, "store_not_authorized", err)
		case ctx.Err() != nil:
			return AnalyzeOutput{}, canceled(ctx)
		}
		return AnalyzeOutput{}, newError(ErrorUpstreamUnavailable, "credential_lookup_failed", err)
	}

	stage = time.Now()
	outcome := s.deps.Executor.Run(ctx, executor.Job{
		Credentials: domain.Credentials{StoreID: storeID, AccessToken: token},
		Query:       q,
	})
	metrics.ObserveStage("execute", stage)
	if outcome.State != executor.Succeeded {
		if ctx.Err() != nil {
			return AnalyzeOutput{}, canceled(ctx)
		}
		logger.Error("execution_failed", "intent", plan.Intent, "trace", outcome.Trace, "error", outcome.Err)
		return AnalyzeOutput{}, execError(outcome.Err)
	}
	logger.Info("query_executed", "data_source", outcome.Result.DataSource, "rows", len(outcome.Result.Rows), "fallback_used", outcome.Result.FallbackUsed)

	stage = time.Now()
	ans := s.deps.Formatter.Format(ctx, formatter.Request{
		Question:   question,
		Intent:     plan.Intent,
		Confidence: res.Confidence,
		Plan:       plan,
		Result:     outcome.Result,
	})
	metrics.ObserveStage("format", stage)
	if ctx.Err() != nil {
		return AnalyzeOutput{}, canceled(ctx)
	}

	rows := outcome.Result.Rows
	if len(rows) > maxRawRows {
		rows = rows[:maxRawRows]
	}
	out = AnalyzeOutput{
		Answer:         ans.Text,
		Confidence:     ans.Confidence,
		Intent:         plan.Intent,
		QueryUsed:      q.Text,
		DataSource:     outcome.Result.DataSource,
		FallbackUsed:   outcome.Result.FallbackUsed,
		ConversationID: convID,
		RawData:        rows,
	}

	// Template answers stand in for a failed generation step and are not
	// worth pinning for a whole TTL.
	if !ans.Degraded {
		err := s.deps.Cache.Set(ctx, key, domain.CachedAnswer{
			Answer:       out.Answer,
			Confidence:   out.Confidence,
			QueryUsed:    out.QueryUsed,
			DataSource:   out.DataSource,
			FallbackUsed: out.FallbackUsed,
			Rows:         rows,
			StoredAt:     now.Unix(),
		}, s.cacheTTL)
		if err != nil {
			logger.Warn("cache_set_failed", "error", err)
		}
	}
	s.remember(ctx, logger, convID, domain.ConversationTurn{
		Question:   question,
		Intent:     plan.Intent,
		TimeRange:  plan.TimeRange,
		Query:      q.Text,
		Answer:     out.Answer,
		DataSource: out.DataSource,
		At:         now,
	})
	return out, nil
}

func (s *AnalyzeService) lookup(ctx context.Context, logger *slog.Logger, key string) (domain.CachedAnswer, bool) {
	v, ok, err := s.deps.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		logger.Warn("cache_get_failed", "error", err)
		return domain.CachedAnswer{}, false
	case !ok:
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return domain.CachedAnswer{}, false
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	logger.Info("cache_hit", "key", key)
	return v, true
}

// remember appends turn unless ctx has been canceled. Store failures only
// cost follow-up context, so they are logged and swallowed.
func (s *AnalyzeService) remember(ctx context.Context, logger *slog.Logger, convID string, turn domain.ConversationTurn) {
	if ctx.Err() != nil {
		return
	}
	if err := s.deps.Conversations.Append(ctx, convID, turn); err != nil {
		logger.Warn("conversation_append_failed", "error", err)
	}
}

func execError(err error) *Error {
	switch kind := domain.ExecKind(err); kind {
	case domain.ExecAuth:
		return newError(ErrorStoreNotAuthorized, "shopify_auth_failed", err)
	case domain.ExecRateLimited:
		return newError(ErrorRateLimited, "shopify_rate_limited", err)
	case domain.ExecMalformedQuery:
		return newError(ErrorUnprocessableQuestion, "shopify_rejected_query", err)
	case domain.ExecCapabilityUnavailable:
		return newError(ErrorUpstreamUnavailable, "capability_unavailable", err)
	default:
		return newError(ErrorUpstreamUnavailable, "shopify_unavailable", err)
	}
}

func canceled(ctx context.Context) *Error {
	return newError(ErrorRequestCanceled, "request_canceled", ctx.Err())
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

var newUUID = func() string {
	return uuid.NewString()
}
