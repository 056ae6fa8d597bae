package formatter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopify-analytics-agent/internal/domain"
)

type fakeGen struct {
	out    string
	err    error
	calls  int
	prompt string
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.out, f.err
}

func day(s string) time.Time {
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}

var lastWeek = domain.TimeRange{Start: day("2024-03-08"), End: day("2024-03-15"), Label: "last week"}

func topProducts() Request {
	return Request{
		Question:   "What were my top 5 selling products last week?",
		Intent:     domain.IntentSales,
		Confidence: domain.ConfidenceHigh,
		Plan:       domain.QueryPlan{Intent: domain.IntentSales, Table: "sales", TimeRange: lastWeek},
		Result: domain.ExecutionResult{
			DataSource: domain.SourceShopifyQL,
			Rows: []domain.Row{
				{"product_title": "Classic Tee", "total_sales": 1234.5, "units_sold": int64(61)},
				{"product_title": "Hoodie", "total_sales": "980.00", "units_sold": "20"},
			},
		},
	}
}

func TestFormat_EmptyRowsAlwaysNoData(t *testing.T) {
	gen := &fakeGen{out: `{"answer":"should not be used"}`}
	for _, f := range []*Formatter{New(), New(WithGenerator(gen))} {
		for _, in := range []domain.Intent{domain.IntentSales, domain.IntentOrders, domain.IntentCustomers, domain.IntentInventory} {
			req := topProducts()
			req.Intent = in
			req.Result.Rows = nil
			ans := f.Format(context.Background(), req)
			require.Equal(t, NoDataMessage, ans.Text)
			require.NotEmpty(t, ans.Text)
			require.Equal(t, domain.ConfidenceLow, ans.Confidence)
		}
	}
	require.Zero(t, gen.calls)
}

func TestFormat_TemplateWithoutGenerator(t *testing.T) {
	ans := New().Format(context.Background(), topProducts())
	require.False(t, ans.Degraded)
	require.Equal(t, domain.ConfidenceHigh, ans.Confidence)
	require.Equal(t, "Your top 2 products by net sales from 2024-03-08 to 2024-03-15:\n"+
		"1. Classic Tee: $1,234.50 (61 units)\n"+
		"2. Hoodie: $980.00 (20 units)\n"+
		"Total across these products: $2,214.50.", ans.Text)
}

func TestFormat_FallbackDowngradesConfidence(t *testing.T) {
	req := topProducts()
	req.Result.FallbackUsed = true
	req.Result.DataSource = domain.SourceGraphQLFallback
	ans := New().Format(context.Background(), req)
	require.Equal(t, domain.ConfidenceMedium, ans.Confidence)
}

func TestFormat_UsesGenerator(t *testing.T) {
	gen := &fakeGen{out: "```json\n{\"answer\": \"Classic Tee led with $1,234.50.\", \"confidence\": \"medium\"}\n```"}
	ans := New(WithGenerator(gen)).Format(context.Background(), topProducts())
	require.Equal(t, "Classic Tee led with $1,234.50.", ans.Text)
	require.Equal(t, domain.ConfidenceMedium, ans.Confidence)
	require.False(t, ans.Degraded)
	require.Contains(t, gen.prompt, "Question: What were my top 5 selling products last week?")
	require.Contains(t, gen.prompt, "Period: last week (2024-03-08..2024-03-15)")
}

func TestFormat_GeneratorCannotRaiseConfidence(t *testing.T) {
	req := topProducts()
	req.Confidence = domain.ConfidenceLow
	gen := &fakeGen{out: `{"answer":"ok","confidence":"high"}`}
	ans := New(WithGenerator(gen)).Format(context.Background(), req)
	require.Equal(t, domain.ConfidenceLow, ans.Confidence)
}

func TestFormat_PlainProseResponse(t *testing.T) {
	gen := &fakeGen{out: "  You sold a lot.  "}
	ans := New(WithGenerator(gen)).Format(context.Background(), topProducts())
	require.Equal(t, "You sold a lot.", ans.Text)
	require.Equal(t, domain.ConfidenceHigh, ans.Confidence)
}

func TestFormat_DegradesOnGeneratorFailure(t *testing.T) {
	for name, gen := range map[string]*fakeGen{
		"error":        {err: errors.New("llm down")},
		"empty":        {out: "   "},
		"empty answer": {out: `{"answer":""}`},
	} {
		t.Run(name, func(t *testing.T) {
			ans := New(WithGenerator(gen)).Format(context.Background(), topProducts())
			require.True(t, ans.Degraded)
			require.Equal(t, Template(domain.IntentSales, topProducts().Plan, topProducts().Result.Rows), ans.Text)
			require.Equal(t, domain.ConfidenceHigh, ans.Confidence)
		})
	}
}

func TestBuildPrompt_TruncatesRows(t *testing.T) {
	req := topProducts()
	req.Result.Rows = nil
	for i := 0; i < 25; i++ {
		req.Result.Rows = append(req.Result.Rows, domain.Row{"product_title": fmt.Sprintf("P%02d", i), "total_sales": float64(i)})
	}
	p := buildPrompt(req)
	require.Contains(t, p, "Data (25 rows)")
	require.Contains(t, p, `"P19"`)
	require.NotContains(t, p, `"P20"`)
	require.Contains(t, p, "...and 5 more rows")
}

func TestTemplate_SalesTotals(t *testing.T) {
	plan := domain.QueryPlan{TimeRange: lastWeek}
	got := Template(domain.IntentSales, plan, []domain.Row{{"total_sales": 5400.25, "units_sold": 120.0, "orders": 42.0}})
	require.Equal(t, "From 2024-03-08 to 2024-03-15 you made $5,400.25 in net sales across 42 orders (120 units).", got)
}

func TestTemplate_Orders(t *testing.T) {
	got := Template(domain.IntentOrders, domain.QueryPlan{TimeRange: lastWeek}, []domain.Row{
		{"day": "2024-03-15", "orders": 3.0, "revenue": 100.0},
		{"day": "2024-03-14", "orders": 9.0, "revenue": 250.5},
	})
	require.Equal(t, "You received 12 orders from 2024-03-08 to 2024-03-15, totalling $350.50 in net sales. Your busiest day was 2024-03-14 with 9 orders.", got)
}

func TestTemplate_Customers(t *testing.T) {
	got := Template(domain.IntentCustomers, domain.QueryPlan{}, []domain.Row{
		{"billing_city": "Toronto", "order_count": 14.0, "total_spent": 1500.0},
		{"billing_city": nil, "order_count": 2.0},
	})
	require.Equal(t, "Your orders came from 2 locations. Top locations:\n1. Toronto: 14 orders ($1,500.00)\n2. Unknown: 2 orders", got)
}

func TestTemplate_InventoryLowStock(t *testing.T) {
	var rows []domain.Row
	for i := 0; i < 12; i++ {
		rows = append(rows, domain.Row{"product_title": fmt.Sprintf("Item %d", i), "stock": float64(i * 2)})
	}
	got := Template(domain.IntentInventory, domain.QueryPlan{}, rows)
	require.True(t, strings.HasPrefix(got, "Here are 12 products by stock level:\n• Item 0: 0 units"))
	require.Contains(t, got, "...and 2 more products.")
	require.Contains(t, got, "Low stock alert: Item 0 (0 units), Item 1 (2 units), Item 2 (4 units), 2 more.")
	require.NotContains(t, got, "• Item 10")
}

func TestTemplate_Generic(t *testing.T) {
	got := Template(domain.IntentAmbiguous, domain.QueryPlan{}, []domain.Row{{"b": 1, "a": 2}})
	require.Equal(t, "Found 1 records matching your question. Data includes: a, b.", got)
}
