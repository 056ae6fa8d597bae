package shopifyql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"shopify-analytics-agent/internal/domain"
)

func TestParse_FullStatement(t *testing.T) {
	st, err := Parse("from sales show product_title, sum(net_sales) as total where billing_country = 'CA' and product_type = 'Shirt' " +
		"group by product_title since -7d until today order by total desc, product_title limit 3")
	require.NoError(t, err)
	require.Equal(t, Statement{
		Table: "sales",
		Show: []domain.Projection{
			{Field: "product_title"},
			{Field: "net_sales", Aggregate: domain.AggSum, Alias: "total"},
		},
		Where: []domain.Filter{
			{Field: "billing_country", Value: "CA"},
			{Field: "product_type", Value: "Shirt"},
		},
		GroupBy: []string{"product_title"},
		Since:   "-7d",
		Until:   "today",
		OrderBy: []domain.Sort{{Column: "total", Descending: true}, {Column: "product_title"}},
		Limit:   3,
	}, st)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"missing show":           "FROM sales",
		"missing from":           "SHOW net_sales",
		"out of order":           "FROM sales SHOW net_sales LIMIT 3 WHERE day = '1'",
		"duplicate clause":       "FROM sales SHOW net_sales SHOW day",
		"unterminated literal":   "FROM sales SHOW net_sales WHERE day = 'abc",
		"unknown aggregate":      "FROM sales SHOW median(net_sales)",
		"missing paren":          "FROM sales SHOW sum(net_sales",
		"bad limit":              "FROM sales SHOW net_sales LIMIT ten",
		"trailing junk":          "FROM sales SHOW net_sales extra",
		"stray character":        "FROM sales SHOW net_sales; DROP",
		"group without by":       "FROM sales SHOW net_sales GROUP product_title",
		"where without equals":   "FROM sales SHOW net_sales WHERE day 'x'",
		"clause keyword as name": "FROM show SHOW net_sales",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			var se *SyntaxError
			require.True(t, errors.As(err, &se))
		})
	}
}
