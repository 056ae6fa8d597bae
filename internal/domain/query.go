package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date layout used in queries and fingerprints.
const DateLayout = "2006-01-02"

// TimeRange is an inclusive range of calendar days. The zero value means the
// plan has no time dimension (a point-in-time snapshot).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Label is the normalized expression the range was resolved from,
	// e.g. "last 7 days".
	Label string `json:"label,omitempty"`
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// WellOrdered reports whether Start <= End.
func (r TimeRange) WellOrdered() bool {
	return !r.Start.After(r.End)
}

// Contains reports whether t falls on a day inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	day := t.In(r.Start.Location()).Format(DateLayout)
	return day >= r.Start.Format(DateLayout) && day <= r.End.Format(DateLayout)
}

func (r TimeRange) String() string {
	if r.IsZero() {
		return "snapshot"
	}
	return fmt.Sprintf("%s..%s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// Aggregate is an aggregate function applicable to a field.
type Aggregate string

const (
	AggNone  Aggregate = ""
	AggSum   Aggregate = "sum"
	AggCount Aggregate = "count"
	AggAvg   Aggregate = "avg"
	AggMin   Aggregate = "min"
	AggMax   Aggregate = "max"
)

// Projection is one requested output column.
type Projection struct {
	Field     string    `json:"field"`
	Aggregate Aggregate `json:"aggregate,omitempty"`
	Alias     string    `json:"alias,omitempty"`
}

// Name is the column name the projection produces in result rows.
func (p Projection) Name() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Field
}

// Filter restricts a field to an exact literal value.
type Filter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Sort orders the result by a projected column.
type Sort struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// QueryPlan is the resolved, backend-independent description of a question.
type QueryPlan struct {
	Intent      Intent       `json:"intent"`
	Table       string       `json:"table"`
	Projections []Projection `json:"projections"`
	Filters     []Filter     `json:"filters,omitempty"`
	TimeRange   TimeRange    `json:"time_range"`
	Sort        *Sort        `json:"sort,omitempty"`
	Limit       int          `json:"limit,omitempty"`
}

// Fields returns the ordered list of underlying schema fields the plan projects.
func (p QueryPlan) Fields() []string {
	out := make([]string, 0, len(p.Projections))
	for _, pr := range p.Projections {
		out = append(out, pr.Field)
	}
	return out
}

// Dimensions returns the non-aggregated projections, which become the
// grouping keys whenever any aggregate is present.
func (p QueryPlan) Dimensions() []Projection {
	var out []Projection
	for _, pr := range p.Projections {
		if pr.Aggregate == AggNone {
			out = append(out, pr)
		}
	}
	return out
}

// Metrics returns the aggregated projections.
func (p QueryPlan) Metrics() []Projection {
	var out []Projection
	for _, pr := range p.Projections {
		if pr.Aggregate != AggNone {
			out = append(out, pr)
		}
	}
	return out
}

// QueryPath marks which backend a query is meant for.
type QueryPath string

const (
	PathPrimary  QueryPath = "primary"
	PathFallback QueryPath = "fallback"
)

// GeneratedQuery is a rendered query together with the plan it came from.
type GeneratedQuery struct {
	Text string    `json:"text"`
	Plan QueryPlan `json:"plan"`
	Path QueryPath `json:"path"`
}

// GraphRequest is a general-purpose query derived from a QueryPlan for the
// fallback endpoint.
type GraphRequest struct {
	Document  string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
	Plan      QueryPlan      `json:"-"`
}

// ViolationCode enumerates validator findings.
type ViolationCode string

const (
	ViolationUnknownTable          ViolationCode = "unknown_table"
	ViolationUnknownField          ViolationCode = "unknown_field"
	ViolationIncompatibleAggregate ViolationCode = "incompatible_aggregate"
	ViolationMalformedTimeRange    ViolationCode = "malformed_time_range"
	ViolationSyntax                ViolationCode = "syntax"
	ViolationPlanMismatch          ViolationCode = "plan_mismatch"
)

// Violation is one failed validation constraint.
type Violation struct {
	Code   ViolationCode `json:"code"`
	Detail string        `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Detail)
}

// ValidationResult is the outcome of static query validation.
type ValidationResult struct {
	Violations []Violation `json:"violations,omitempty"`
}

// OK reports whether validation passed.
func (r ValidationResult) OK() bool {
	return len(r.Violations) == 0
}
