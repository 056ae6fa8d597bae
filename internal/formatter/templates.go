package formatter

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"shopify-analytics-agent/internal/domain"
)

const (
	// NoDataMessage is returned whenever a query produced zero rows.
	NoDataMessage = "I couldn't find any data matching your question. There may be no records for the period you asked about, or the items you mentioned don't exist in the store. Try a broader time range or a different product."

	maxListed     = 10
	lowStockBelow = 10
)

func money(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

func count(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// num returns the first numeric value found under keys.
func num(r domain.Row, keys ...string) float64 {
	for _, k := range keys {
		if f, ok := toFloat(r[k]); ok {
			return f
		}
	}
	return 0
}

func str(r domain.Row, keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return "Unknown"
}

func period(tr domain.TimeRange) string {
	if tr.IsZero() {
		return ""
	}
	if tr.Start.Equal(tr.End) {
		return "on " + tr.Start.Format(domain.DateLayout)
	}
	return fmt.Sprintf("from %s to %s", tr.Start.Format(domain.DateLayout), tr.End.Format(domain.DateLayout))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func more(b *strings.Builder, total int, noun string) {
	if total > maxListed {
		fmt.Fprintf(b, "\n...and %d more %s.", total-maxListed, noun)
	}
}

// Template renders a deterministic answer for rows without calling out to a
// language model.
func Template(intent domain.Intent, plan domain.QueryPlan, rows []domain.Row) string {
	if len(rows) == 0 {
		return NoDataMessage
	}
	switch intent {
	case domain.IntentSales:
		return salesTemplate(plan, rows)
	case domain.IntentOrders:
		return ordersTemplate(plan, rows)
	case domain.IntentCustomers:
		return customersTemplate(plan, rows)
	case domain.IntentInventory:
		return inventoryTemplate(rows)
	}
	return genericTemplate(rows)
}

func salesTemplate(plan domain.QueryPlan, rows []domain.Row) string {
	var total, units, orders float64
	for _, r := range rows {
		total += num(r, "total_sales", "net_sales")
		units += num(r, "units_sold", "net_quantity")
		orders += num(r, "orders")
	}
	when := period(plan.TimeRange)

	var b strings.Builder
	if _, ok := rows[0]["product_title"]; !ok {
		if when != "" {
			fmt.Fprintf(&b, "%s you made %s in net sales", capitalize(when), money(total))
		} else {
			fmt.Fprintf(&b, "You made %s in net sales", money(total))
		}
		switch {
		case orders > 0 && units > 0:
			fmt.Fprintf(&b, " across %s orders (%s units)", count(orders), count(units))
		case units > 0:
			fmt.Fprintf(&b, " with %s units sold", count(units))
		}
		b.WriteString(".")
		return b.String()
	}

	fmt.Fprintf(&b, "Your top %d products by net sales", min(len(rows), maxListed))
	if when != "" {
		b.WriteString(" " + when)
	}
	b.WriteString(":")
	for i, r := range rows {
		if i == maxListed {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s: %s", i+1, str(r, "product_title"), money(num(r, "total_sales", "net_sales")))
		if u := num(r, "units_sold", "net_quantity"); u > 0 {
			fmt.Fprintf(&b, " (%s units)", count(u))
		}
	}
	more(&b, len(rows), "products")
	fmt.Fprintf(&b, "\nTotal across these products: %s.", money(total))
	return b.String()
}

func ordersTemplate(plan domain.QueryPlan, rows []domain.Row) string {
	var orders, revenue float64
	busiest, busiestN := "", -1.0
	for _, r := range rows {
		n := num(r, "orders", "order_count")
		orders += n
		revenue += num(r, "revenue", "total_sales", "net_sales")
		if n > busiestN {
			busiest, busiestN = str(r, "day"), n
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You received %s orders", count(orders))
	if when := period(plan.TimeRange); when != "" {
		b.WriteString(" " + when)
	}
	if revenue > 0 {
		fmt.Fprintf(&b, ", totalling %s in net sales", money(revenue))
	}
	b.WriteString(".")
	if len(rows) > 1 && busiest != "Unknown" {
		fmt.Fprintf(&b, " Your busiest day was %s with %s orders.", busiest, count(busiestN))
	}
	return b.String()
}

func customersTemplate(plan domain.QueryPlan, rows []domain.Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your orders came from %d locations", len(rows))
	if when := period(plan.TimeRange); when != "" {
		b.WriteString(" " + when)
	}
	b.WriteString(". Top locations:")
	for i, r := range rows {
		if i == maxListed {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s: %s orders", i+1, str(r, "billing_city", "city"), count(num(r, "order_count", "orders")))
		if spent := num(r, "total_spent", "net_sales"); spent > 0 {
			fmt.Fprintf(&b, " (%s)", money(spent))
		}
	}
	more(&b, len(rows), "locations")
	return b.String()
}

func inventoryTemplate(rows []domain.Row) string {
	var b strings.Builder
	var low []string
	fmt.Fprintf(&b, "Here are %d products by stock level:", len(rows))
	for i, r := range rows {
		stock := num(r, "stock", "quantity_available")
		name := str(r, "product_title")
		if i < maxListed {
			fmt.Fprintf(&b, "\n• %s: %s units", name, count(stock))
		}
		if stock < lowStockBelow {
			low = append(low, fmt.Sprintf("%s (%s units)", name, count(stock)))
		}
	}
	more(&b, len(rows), "products")
	if len(low) > 0 {
		if len(low) > 3 {
			low = append(low[:3], fmt.Sprintf("%d more", len(low)-3))
		}
		fmt.Fprintf(&b, "\n\nLow stock alert: %s.", strings.Join(low, ", "))
	}
	return b.String()
}

func genericTemplate(rows []domain.Row) string {
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	answer := fmt.Sprintf("Found %d records matching your question.", len(rows))
	if len(cols) > 5 {
		return answer + fmt.Sprintf(" Data includes: %s and %d more fields.", strings.Join(cols[:5], ", "), len(cols)-5)
	}
	return answer + " Data includes: " + strings.Join(cols, ", ") + "."
}
