// Package planner turns a classified question into a backend-independent
// QueryPlan.
package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"shopify-analytics-agent/internal/domain"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

var (
	topNRe       = regexp.MustCompile(`\b(?:top|best|bottom|worst|first)\s+(\d+|one|two|three|four|five|six|seven|eight|nine|ten|twenty)\b`)
	ascendingRe  = regexp.MustCompile(`\b(?:bottom|worst|least|lowest|slowest|fewest)\b`)
	descendingRe = regexp.MustCompile(`\b(?:most|highest|largest|biggest)\b`)
	breakdownRe  = regexp.MustCompile(`\b(?:products?|items?|top|best|worst|bottom|selling|sellers?|skus?)\b`)
	quotedRe     = regexp.MustCompile(`["“]([^"”]+)["”]`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "twenty": 20,
}

// Option configures a Planner.
type Option func(*Planner)

// WithDefaultLimit sets the row limit used for ranked plans when the question
// does not ask for a specific count.
func WithDefaultLimit(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.defaultLimit = n
		}
	}
}

// WithMaxLimit caps any requested row count.
func WithMaxLimit(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxLimit = n
		}
	}
}

// Planner is stateless; Plan is a pure function of its arguments.
type Planner struct {
	defaultLimit int
	maxLimit     int
}

// New returns a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{defaultLimit: defaultLimit, maxLimit: maxLimit}
	for _, o := range opts {
		o(p)
	}
	if p.defaultLimit > p.maxLimit {
		p.defaultLimit = p.maxLimit
	}
	return p
}

// Plan resolves the table, projections, filters and time range for question.
// Relative time expressions are resolved against now. A question with no
// time expression inherits the previous turn's range when it continues the
// same intent, and otherwise covers the last 7 days.
func (p *Planner) Plan(intent domain.Intent, question string, conv domain.ConversationContext, now time.Time) (domain.QueryPlan, error) {
	text := strings.ToLower(strings.TrimSpace(question))

	plan, ok := p.shape(intent, text)
	if !ok {
		return domain.QueryPlan{}, &Error{Kind: KindDomain, Msg: "I can answer questions about sales, orders, customers and inventory. Could you rephrase your question around one of those?"}
	}

	if m := quotedRe.FindStringSubmatch(question); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			plan.Filters = append(plan.Filters, domain.Filter{Field: "product_title", Value: name})
		}
	}

	// Snapshot tables have no time dimension; a time phrase is ignored.
	if intent == domain.IntentInventory {
		return plan, nil
	}

	// Quoted product names are not time expressions.
	tr, found, err := ResolveTimeRange(quotedRe.ReplaceAllString(text, " "), now)
	if err != nil {
		return domain.QueryPlan{}, err
	}
	if !found {
		tr = lastNDays(startOfDay(now), 7)
		if prev := conv.LastResolved(); prev != nil && prev.Intent == intent && !prev.TimeRange.IsZero() {
			tr = prev.TimeRange
		}
	}
	plan.TimeRange = tr
	return plan, nil
}

func (p *Planner) shape(intent domain.Intent, text string) (domain.QueryPlan, bool) {
	switch intent {
	case domain.IntentSales:
		if !breakdownRe.MatchString(text) {
			return domain.QueryPlan{
				Intent: intent,
				Table:  "sales",
				Projections: []domain.Projection{
					{Field: "net_sales", Aggregate: domain.AggSum, Alias: "total_sales"},
					{Field: "net_quantity", Aggregate: domain.AggSum, Alias: "units_sold"},
					{Field: "order_id", Aggregate: domain.AggCount, Alias: "orders"},
				},
			}, true
		}
		return domain.QueryPlan{
			Intent: intent,
			Table:  "sales",
			Projections: []domain.Projection{
				{Field: "product_title"},
				{Field: "net_sales", Aggregate: domain.AggSum, Alias: "total_sales"},
				{Field: "net_quantity", Aggregate: domain.AggSum, Alias: "units_sold"},
			},
			Sort:  &domain.Sort{Column: "total_sales", Descending: !ascendingRe.MatchString(text)},
			Limit: p.limit(text),
		}, true

	case domain.IntentOrders:
		return domain.QueryPlan{
			Intent: intent,
			Table:  "sales",
			Projections: []domain.Projection{
				{Field: "day"},
				{Field: "order_id", Aggregate: domain.AggCount, Alias: "orders"},
				{Field: "net_sales", Aggregate: domain.AggSum, Alias: "revenue"},
			},
			Sort: &domain.Sort{Column: "day", Descending: true},
		}, true

	case domain.IntentCustomers:
		return domain.QueryPlan{
			Intent: intent,
			Table:  "sales",
			Projections: []domain.Projection{
				{Field: "billing_city"},
				{Field: "order_id", Aggregate: domain.AggCount, Alias: "order_count"},
				{Field: "net_sales", Aggregate: domain.AggSum, Alias: "total_spent"},
			},
			Sort:  &domain.Sort{Column: "order_count", Descending: !ascendingRe.MatchString(text)},
			Limit: p.limit(text),
		}, true

	case domain.IntentInventory:
		return domain.QueryPlan{
			Intent: intent,
			Table:  "inventory",
			Projections: []domain.Projection{
				{Field: "product_title"},
				{Field: "quantity_available", Aggregate: domain.AggSum, Alias: "stock"},
			},
			Sort:  &domain.Sort{Column: "stock", Descending: descendingRe.MatchString(text)},
			Limit: p.limit(text),
		}, true
	}
	return domain.QueryPlan{}, false
}

func (p *Planner) limit(text string) int {
	m := topNRe.FindStringSubmatch(text)
	if m == nil {
		return p.defaultLimit
	}
	n, ok := numberWords[m[1]]
	if !ok {
		var err error
		if n, err = strconv.Atoi(m[1]); err != nil || n <= 0 {
			return p.defaultLimit
		}
	}
	if n > p.maxLimit {
		return p.maxLimit
	}
	return n
}
