package shopify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"shopify-analytics-agent/internal/domain"
)

// fact is one flattened source record keyed by analytics field name. Orders
// yield one fact per line item; products yield one per variant.
type fact map[string]any

type accumulator struct {
	agg      domain.Aggregate
	sum      float64
	n        int
	min, max float64
	distinct map[string]struct{}
}

func newAccumulator(agg domain.Aggregate) *accumulator {
	a := &accumulator{agg: agg}
	if agg == domain.AggCount {
		a.distinct = map[string]struct{}{}
	}
	return a
}

func (a *accumulator) add(v any) {
	if v == nil {
		return
	}
	if a.agg == domain.AggCount {
		a.distinct[fmt.Sprint(v)] = struct{}{}
		return
	}
	f, ok := v.(float64)
	if !ok {
		return
	}
	if a.n == 0 || f < a.min {
		a.min = f
	}
	if a.n == 0 || f > a.max {
		a.max = f
	}
	a.sum += f
	a.n++
}

func (a *accumulator) value() any {
	switch a.agg {
	case domain.AggCount:
		return float64(len(a.distinct))
	case domain.AggAvg:
		if a.n == 0 {
			return 0.0
		}
		return a.sum / float64(a.n)
	case domain.AggMin:
		return a.min
	case domain.AggMax:
		return a.max
	}
	return a.sum
}

type group struct {
	key  string
	dims []any
	accs []*accumulator
}

// aggregate applies plan's filters, grouping, aggregates, sort and limit to
// facts. Counts are distinct counts, so count(order_id) over line items
// counts orders.
func aggregate(plan domain.QueryPlan, facts []fact) domain.ResultSet {
	rs := domain.ResultSet{Columns: make([]string, len(plan.Projections))}
	for i, p := range plan.Projections {
		rs.Columns[i] = p.Name()
	}
	dims, metrics := plan.Dimensions(), plan.Metrics()

	var groups []*group
	index := map[string]*group{}
	for _, f := range facts {
		if !keep(plan, f) {
			continue
		}
		if len(metrics) == 0 {
			row := make(domain.Row, len(plan.Projections))
			for _, p := range plan.Projections {
				row[p.Name()] = f[p.Field]
			}
			rs.Rows = append(rs.Rows, row)
			continue
		}
		vals := make([]any, len(dims))
		parts := make([]string, len(dims))
		for i, d := range dims {
			vals[i] = f[d.Field]
			parts[i] = fmt.Sprint(vals[i])
		}
		key := strings.Join(parts, "\x1f")
		g, ok := index[key]
		if !ok {
			g = &group{key: key, dims: vals, accs: make([]*accumulator, len(metrics))}
			for i, m := range metrics {
				g.accs[i] = newAccumulator(m.Aggregate)
			}
			index[key] = g
			groups = append(groups, g)
		}
		for i, m := range metrics {
			g.accs[i].add(f[m.Field])
		}
	}

	if len(metrics) > 0 {
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].key < groups[j].key })
		for _, g := range groups {
			row := make(domain.Row, len(plan.Projections))
			for i, d := range dims {
				row[d.Name()] = g.dims[i]
			}
			for i, m := range metrics {
				row[m.Name()] = g.accs[i].value()
			}
			rs.Rows = append(rs.Rows, row)
		}
	}

	if plan.Sort != nil {
		col, desc := plan.Sort.Column, plan.Sort.Descending
		sort.SliceStable(rs.Rows, func(i, j int) bool {
			c := compare(rs.Rows[i][col], rs.Rows[j][col])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if plan.Limit > 0 && len(rs.Rows) > plan.Limit {
		rs.Rows = rs.Rows[:plan.Limit]
	}
	return rs
}

func keep(plan domain.QueryPlan, f fact) bool {
	if !plan.TimeRange.IsZero() {
		if at, ok := f["at"].(time.Time); ok && !plan.TimeRange.Contains(at.UTC()) {
			return false
		}
	}
	for _, flt := range plan.Filters {
		s, ok := f[flt.Field].(string)
		if !ok || !strings.EqualFold(s, flt.Value) {
			return false
		}
	}
	return true
}

func compare(a, b any) int {
	fa, aok := a.(float64)
	fb, bok := b.(float64)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
