package shopifyql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopify-analytics-agent/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func topProductsPlan() domain.QueryPlan {
	return domain.QueryPlan{
		Intent: domain.IntentSales,
		Table:  "sales",
		Projections: []domain.Projection{
			{Field: "product_title"},
			{Field: "net_sales", Aggregate: domain.AggSum, Alias: "total_sales"},
			{Field: "net_quantity", Aggregate: domain.AggSum, Alias: "units_sold"},
		},
		TimeRange: domain.TimeRange{Start: day("2024-03-08"), End: day("2024-03-15")},
		Sort:      &domain.Sort{Column: "total_sales", Descending: true},
		Limit:     5,
	}
}

func TestGenerate_TopProducts(t *testing.T) {
	q, err := Generate(topProductsPlan())
	require.NoError(t, err)
	require.Equal(t, domain.PathPrimary, q.Path)
	require.Equal(t,
		"FROM sales SHOW product_title, sum(net_sales) AS total_sales, sum(net_quantity) AS units_sold "+
			"GROUP BY product_title SINCE 2024-03-08 UNTIL 2024-03-15 ORDER BY total_sales DESC LIMIT 5",
		q.Text)
}

func TestGenerate_Deterministic(t *testing.T) {
	plan := topProductsPlan()
	first, err := Generate(plan)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Generate(plan)
		require.NoError(t, err)
		require.Equal(t, first.Text, again.Text)
	}
}

func TestGenerate_SnapshotOmitsTimeClauses(t *testing.T) {
	q, err := Generate(domain.QueryPlan{
		Intent: domain.IntentInventory,
		Table:  "inventory",
		Projections: []domain.Projection{
			{Field: "product_title"},
			{Field: "quantity_available", Aggregate: domain.AggSum, Alias: "stock"},
		},
		Sort:  &domain.Sort{Column: "stock"},
		Limit: 10,
	})
	require.NoError(t, err)
	require.Equal(t, "FROM inventory SHOW product_title, sum(quantity_available) AS stock GROUP BY product_title ORDER BY stock ASC LIMIT 10", q.Text)
	require.NotContains(t, q.Text, "SINCE")
}

func TestGenerate_EscapesLiterals(t *testing.T) {
	plan := topProductsPlan()
	plan.Filters = []domain.Filter{{Field: "product_title", Value: `Bob's "best" \ tee`}}
	q, err := Generate(plan)
	require.NoError(t, err)
	require.Contains(t, q.Text, `WHERE product_title = 'Bob\'s "best" \\ tee'`)

	st, err := Parse(q.Text)
	require.NoError(t, err)
	require.Equal(t, []domain.Filter{{Field: "product_title", Value: `Bob's "best" \ tee`}}, st.Where)
}

func TestGenerate_InjectionStaysInsideLiteral(t *testing.T) {
	plan := topProductsPlan()
	plan.Filters = []domain.Filter{{Field: "product_title", Value: "x' LIMIT 1 --\nFROM orders"}}
	q, err := Generate(plan)
	require.NoError(t, err)

	st, err := Parse(q.Text)
	require.NoError(t, err)
	require.Equal(t, "sales", st.Table)
	require.Equal(t, 5, st.Limit)
	require.Len(t, st.Where, 1)
}

func TestGenerate_RejectsBadIdentifiers(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.QueryPlan)
	}{
		{"table", func(p *domain.QueryPlan) { p.Table = "sales; drop" }},
		{"field", func(p *domain.QueryPlan) { p.Projections[0].Field = "Product Title" }},
		{"alias", func(p *domain.QueryPlan) { p.Projections[1].Alias = "total-sales" }},
		{"filter", func(p *domain.QueryPlan) { p.Filters = []domain.Filter{{Field: "a'b", Value: "x"}} }},
		{"sort", func(p *domain.QueryPlan) { p.Sort = &domain.Sort{Column: "1=1"} }},
		{"no projections", func(p *domain.QueryPlan) { p.Projections = nil }},
		{"negative limit", func(p *domain.QueryPlan) { p.Limit = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := topProductsPlan()
			tc.mutate(&plan)
			_, err := Generate(plan)
			require.Error(t, err)
		})
	}
}

func TestGenerate_NoGroupByWithoutMetrics(t *testing.T) {
	q, err := Generate(domain.QueryPlan{
		Table:       "products",
		Projections: []domain.Projection{{Field: "product_title"}, {Field: "vendor"}},
	})
	require.NoError(t, err)
	require.Equal(t, "FROM products SHOW product_title, vendor", q.Text)
}
