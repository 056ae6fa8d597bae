// Package executor runs validated queries against the primary analytics
// endpoint and, when the store lacks that capability, against the
// general-purpose query endpoint.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"shopify-analytics-agent/internal/domain"
	"shopify-analytics-agent/internal/metrics"
)

// State is a node of the execution state machine.
type State string

const (
	NotStarted     State = "not_started"
	TryingPrimary  State = "trying_primary"
	TryingFallback State = "trying_fallback"
	Succeeded      State = "succeeded"
	Failed         State = "failed"
)

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// PrimaryExecutor runs analytics-language queries.
type PrimaryExecutor interface {
	ExecuteAnalytics(ctx context.Context, creds domain.Credentials, query string) (domain.ResultSet, error)
}

// FallbackExecutor runs general-purpose graph queries.
type FallbackExecutor interface {
	ExecuteGraph(ctx context.Context, creds domain.Credentials, req domain.GraphRequest) (domain.ResultSet, error)
}

// FallbackBuilder derives a general-purpose request equivalent to plan.
type FallbackBuilder interface {
	Build(plan domain.QueryPlan) (domain.GraphRequest, error)
}

// Policy bounds retries of retryable failures on each path.
type Policy struct {
	// MaxAttempts includes the first try. Values below 1 mean 1.
	MaxAttempts int
	// BaseDelay of zero disables waiting between attempts.
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// AttemptTimeout bounds each individual remote call. Zero means no
	// per-attempt bound beyond the caller's context.
	AttemptTimeout time.Duration
}

// DefaultPolicy mirrors the service defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		Multiplier:     2,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

func (p Policy) tries() uint {
	if p.MaxAttempts < 1 {
		return 1
	}
	return uint(p.MaxAttempts)
}

func (p Policy) newBackOff() backoff.BackOff {
	if p.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}

// Job is one validated query ready for execution.
type Job struct {
	Credentials domain.Credentials
	Query       domain.GeneratedQuery
}

// Outcome is the terminal state of a run.
type Outcome struct {
	State State
	// Trace lists every state entered, starting with NotStarted.
	Trace  []State
	Result domain.ExecutionResult
	Err    error
	// PrimaryCalls and FallbackCalls count remote invocations.
	PrimaryCalls  int
	FallbackCalls int
}

// enter moves to s. A terminal state is never left.
func (o *Outcome) enter(s State) {
	if o.State.Terminal() {
		return
	}
	o.State = s
	o.Trace = append(o.Trace, s)
}

func (o *Outcome) fail(err error) Outcome {
	o.enter(Failed)
	o.Err = err
	return *o
}

// Executor drives the state machine.
type Executor struct {
	primary  PrimaryExecutor
	fallback FallbackExecutor
	builder  FallbackBuilder
	policy   Policy
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New returns an Executor.
func New(primary PrimaryExecutor, fallback FallbackExecutor, builder FallbackBuilder, opts ...Option) (*Executor, error) {
	if primary == nil {
		return nil, errors.New("executor: primary executor must not be nil")
	}
	if fallback == nil {
		return nil, errors.New("executor: fallback executor must not be nil")
	}
	if builder == nil {
		return nil, errors.New("executor: fallback builder must not be nil")
	}
	e := &Executor{
		primary:  primary,
		fallback: fallback,
		builder:  builder,
		policy:   DefaultPolicy(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Run executes job. Capability-unavailable failures on the primary path move
// straight to the fallback path without retrying. Transport and rate-limit
// failures are retried per the policy on either path; everything else is
// terminal.
func (e *Executor) Run(ctx context.Context, job Job) Outcome {
	out := Outcome{}
	out.enter(NotStarted)
	if err := ctx.Err(); err != nil {
		return out.fail(err)
	}

	out.enter(TryingPrimary)
	rs, err := e.attempt(ctx, domain.PathPrimary, &out.PrimaryCalls, func(actx context.Context) (domain.ResultSet, error) {
		return e.primary.ExecuteAnalytics(actx, job.Credentials, job.Query.Text)
	})
	if err == nil {
		return e.succeed(&out, rs, domain.SourceShopifyQL, false)
	}
	if ctx.Err() != nil {
		return out.fail(ctx.Err())
	}
	if domain.ExecKind(err) != domain.ExecCapabilityUnavailable {
		return out.fail(err)
	}

	e.logger.Info("fallback_triggered", "store_id", job.Credentials.StoreID, "intent", job.Query.Plan.Intent, "error", err)
	metrics.FallbacksTotal.Inc()
	out.enter(TryingFallback)

	req, err := e.builder.Build(job.Query.Plan)
	if err != nil {
		return out.fail(fmt.Errorf("executor: build fallback request: %w", err))
	}
	rs, err = e.attempt(ctx, domain.PathFallback, &out.FallbackCalls, func(actx context.Context) (domain.ResultSet, error) {
		return e.fallback.ExecuteGraph(actx, job.Credentials, req)
	})
	if err == nil {
		return e.succeed(&out, rs, domain.SourceGraphQLFallback, true)
	}
	if ctx.Err() != nil {
		return out.fail(ctx.Err())
	}
	return out.fail(err)
}

func (e *Executor) succeed(out *Outcome, rs domain.ResultSet, src domain.DataSource, fallback bool) Outcome {
	out.enter(Succeeded)
	out.Result = domain.ExecutionResult{
		Rows:         rs.Rows,
		Columns:      rs.Columns,
		DataSource:   src,
		FallbackUsed: fallback,
	}
	return *out
}

// attempt runs call under the retry policy, each try bounded by the
// per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, path domain.QueryPath, calls *int, call func(context.Context) (domain.ResultSet, error)) (domain.ResultSet, error) {
	op := func() (domain.ResultSet, error) {
		*calls++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if e.policy.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		}
		defer cancel()

		rs, err := call(actx)
		if err == nil {
			metrics.ExecutionAttemptsTotal.WithLabelValues(string(path), "ok").Inc()
			return rs, nil
		}
		if ctx.Err() != nil {
			return domain.ResultSet{}, backoff.Permanent(ctx.Err())
		}
		if actx.Err() != nil {
			err = domain.NewExecError(domain.ExecTransport, string(path), fmt.Errorf("attempt timed out after %s: %w", e.policy.AttemptTimeout, err))
		}
		kind := domain.ExecKind(err)
		metrics.ExecutionAttemptsTotal.WithLabelValues(string(path), string(kind)).Inc()
		if !kind.Retryable() {
			return domain.ResultSet{}, backoff.Permanent(err)
		}
		return domain.ResultSet{}, err
	}

	notify := func(err error, wait time.Duration) {
		e.logger.Warn("execution_retry", "path", path, "attempt", *calls, "wait", wait, "error", err)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(e.policy.newBackOff()),
		backoff.WithMaxTries(e.policy.tries()),
		backoff.WithNotify(notify),
	)
}
