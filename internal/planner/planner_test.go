package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopify-analytics-agent/internal/domain"
)

// Friday.
var refNow = time.Date(2024, time.March, 15, 14, 30, 0, 0, time.UTC)

func date(s string) time.Time {
	t, err := time.ParseInLocation(domain.DateLayout, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func requireRange(t *testing.T, tr domain.TimeRange, start, end string) {
	t.Helper()
	require.Equal(t, start, tr.Start.Format(domain.DateLayout), "start")
	require.Equal(t, end, tr.End.Format(domain.DateLayout), "end")
}

func TestResolveTimeRange(t *testing.T) {
	cases := []struct {
		text       string
		start, end string
		label      string
	}{
		{"sales last week", "2024-03-08", "2024-03-15", "last week"},
		{"sales in the past week", "2024-03-08", "2024-03-15", "last week"},
		{"last 30 days", "2024-02-14", "2024-03-15", "last 30 days"},
		{"past 2 weeks", "2024-03-01", "2024-03-15", "last 2 weeks"},
		{"previous 3 months", "2023-12-15", "2024-03-15", "last 3 months"},
		{"last 2 quarters", "2023-09-15", "2024-03-15", "last 2 quarters"},
		{"last month", "2024-02-01", "2024-02-29", "last month"},
		{"last quarter", "2023-10-01", "2023-12-31", "last quarter"},
		{"last year", "2023-01-01", "2023-12-31", "last year"},
		{"this week", "2024-03-11", "2024-03-15", "this week"},
		{"this month", "2024-03-01", "2024-03-15", "this month"},
		{"month to date", "2024-03-01", "2024-03-15", "this month"},
		{"this quarter", "2024-01-01", "2024-03-15", "this quarter"},
		{"ytd", "2024-01-01", "2024-03-15", "this year"},
		{"today", "2024-03-15", "2024-03-15", "today"},
		{"yesterday", "2024-03-14", "2024-03-14", "yesterday"},
		{"from 2024-01-01 to 2024-01-31", "2024-01-01", "2024-01-31", "2024-01-01 to 2024-01-31"},
		{"between 2024-02-01 and 2024-02-10", "2024-02-01", "2024-02-10", "2024-02-01 to 2024-02-10"},
		{"since 2024-03-01", "2024-03-01", "2024-03-15", "since 2024-03-01"},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			tr, found, err := ResolveTimeRange(tc.text, refNow)
			require.NoError(t, err)
			require.True(t, found)
			requireRange(t, tr, tc.start, tc.end)
			require.Equal(t, tc.label, tr.Label)
			require.True(t, tr.WellOrdered())
		})
	}
}

func TestResolveTimeRange_Deterministic(t *testing.T) {
	a, _, err := ResolveTimeRange("last 30 days", refNow)
	require.NoError(t, err)
	b, _, err := ResolveTimeRange("last 30 days", refNow.Add(9*time.Hour))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestResolveTimeRange_None(t *testing.T) {
	_, found, err := ResolveTimeRange("what are my best products", refNow)
	require.NoError(t, err)
	require.False(t, found)
}

func TestResolveTimeRange_Unsupported(t *testing.T) {
	for _, text := range []string{
		"next month",
		"next 3 weeks",
		"last 6 hours",
		"this weekend",
		"past decade",
		"since 2024-13-45",
		"since 03/01",
		"from 2024-03-10 to 2024-03-01",
		"on 2024-03-01",
		"last 0 days",
		"sales since monday",
		"sales last monday",
		"how many orders next friday",
		"sales this morning",
		"orders tonight",
		"revenue 3 hours ago",
		"sales since launch",
		"orders next season",
		"sales last christmas",
		"customers this spring",
	} {
		t.Run(text, func(t *testing.T) {
			_, found, err := ResolveTimeRange(text, refNow)
			require.True(t, found)
			var pe *Error
			require.True(t, errors.As(err, &pe), "got %v", err)
			require.Equal(t, KindTimeRange, pe.Kind)
			require.NotEmpty(t, pe.UserMessage())
		})
	}
}

func TestPlan_TopProductsLastWeek(t *testing.T) {
	p := New()
	plan, err := p.Plan(domain.IntentSales, "What were my top 5 selling products last week?", domain.ConversationContext{}, refNow)
	require.NoError(t, err)
	require.Equal(t, "sales", plan.Table)
	require.Equal(t, 5, plan.Limit)
	require.Equal(t, []string{"product_title", "net_sales", "net_quantity"}, plan.Fields())
	require.Equal(t, domain.AggSum, plan.Projections[1].Aggregate)
	require.Equal(t, &domain.Sort{Column: "total_sales", Descending: true}, plan.Sort)
	requireRange(t, plan.TimeRange, "2024-03-08", "2024-03-15")
}

func TestPlan_SalesTotalsWithoutBreakdown(t *testing.T) {
	plan, err := New().Plan(domain.IntentSales, "How much revenue did I make this month?", domain.ConversationContext{}, refNow)
	require.NoError(t, err)
	require.Empty(t, plan.Dimensions())
	require.Nil(t, plan.Sort)
	require.Zero(t, plan.Limit)
	requireRange(t, plan.TimeRange, "2024-03-01", "2024-03-15")
}

func TestPlan_InventoryIsSnapshot(t *testing.T) {
	plan, err := New().Plan(domain.IntentInventory, "Which products are low on stock this week?", domain.ConversationContext{}, refNow)
	require.NoError(t, err)
	require.Equal(t, "inventory", plan.Table)
	require.True(t, plan.TimeRange.IsZero())
	require.False(t, plan.Sort.Descending)
	require.Equal(t, 10, plan.Limit)
}

func TestPlan_DefaultsToLastSevenDays(t *testing.T) {
	plan, err := New().Plan(domain.IntentOrders, "how many orders came in", domain.ConversationContext{}, refNow)
	require.NoError(t, err)
	requireRange(t, plan.TimeRange, "2024-03-08", "2024-03-15")
	require.Equal(t, "day", plan.Projections[0].Field)
}

func TestPlan_FollowUpInheritsRange(t *testing.T) {
	prior := domain.TimeRange{Start: date("2024-02-01"), End: date("2024-02-29"), Label: "last month"}
	conv := domain.ConversationContext{
		ConversationID: "c1",
		Turns:          []domain.ConversationTurn{{Question: "sales last month", Intent: domain.IntentSales, TimeRange: prior}},
	}

	plan, err := New().Plan(domain.IntentSales, "and for the best products?", conv, refNow)
	require.NoError(t, err)
	require.Equal(t, prior, plan.TimeRange)

	plan, err = New().Plan(domain.IntentSales, "what about last 14 days", conv, refNow)
	require.NoError(t, err)
	requireRange(t, plan.TimeRange, "2024-03-01", "2024-03-15")

	// Different intent: no inheritance.
	plan, err = New().Plan(domain.IntentOrders, "orders please", conv, refNow)
	require.NoError(t, err)
	requireRange(t, plan.TimeRange, "2024-03-08", "2024-03-15")
}

func TestPlan_QuotedProductBecomesFilter(t *testing.T) {
	plan, err := New().Plan(domain.IntentSales, `How did "Bob's Tee" sell last month?`, domain.ConversationContext{}, refNow)
	require.NoError(t, err)
	require.Equal(t, []domain.Filter{{Field: "product_title", Value: "Bob's Tee"}}, plan.Filters)
}

func TestPlan_Limits(t *testing.T) {
	p := New(WithDefaultLimit(7), WithMaxLimit(50))
	cases := map[string]int{
		"top products":          7,
		"top three products":    3,
		"top 500 products":      50,
		"worst 4 sellers":       4,
		"best twenty items ytd": 20,
	}
	for q, want := range cases {
		t.Run(q, func(t *testing.T) {
			plan, err := p.Plan(domain.IntentSales, q, domain.ConversationContext{}, refNow)
			require.NoError(t, err)
			require.Equal(t, want, plan.Limit)
		})
	}

	plan, err := p.Plan(domain.IntentSales, "worst 4 sellers", domain.ConversationContext{}, refNow)
	require.NoError(t, err)
	require.False(t, plan.Sort.Descending)
}

func TestPlan_Errors(t *testing.T) {
	_, err := New().Plan(domain.IntentAmbiguous, "hello", domain.ConversationContext{}, refNow)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	require.Equal(t, KindDomain, pe.Kind)

	_, err = New().Plan(domain.IntentSales, "sales next quarter", domain.ConversationContext{}, refNow)
	require.True(t, errors.As(err, &pe))
	require.Equal(t, KindTimeRange, pe.Kind)
}

func TestPlan_RejectsUnsupportedTimeExpressions(t *testing.T) {
	for _, q := range []string{
		"What were my sales since monday?",
		"top products last monday",
		"how many orders next friday",
		"sales this morning",
	} {
		t.Run(q, func(t *testing.T) {
			_, err := New().Plan(domain.IntentSales, q, domain.ConversationContext{}, refNow)
			var pe *Error
			require.True(t, errors.As(err, &pe), "got %v", err)
			require.Equal(t, KindTimeRange, pe.Kind)
		})
	}
}

func TestPlan_StoreNounsAreNotTimeExpressions(t *testing.T) {
	for _, q := range []string{
		"how is this product selling",
		"what did my last order bring in",
		`sales of "This Old Tee"`,
	} {
		t.Run(q, func(t *testing.T) {
			plan, err := New().Plan(domain.IntentSales, q, domain.ConversationContext{}, refNow)
			require.NoError(t, err)
			requireRange(t, plan.TimeRange, "2024-03-08", "2024-03-15")
		})
	}
}
