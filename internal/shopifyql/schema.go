// Package shopifyql renders, parses and statically validates queries in the
// store analytics query language.
package shopifyql

import (
	"sort"

	"shopify-analytics-agent/internal/domain"
)

// FieldKind distinguishes groupable dimensions from aggregatable metrics.
type FieldKind int

const (
	Dimension FieldKind = iota
	Metric
)

var (
	metricAggregates    = []domain.Aggregate{domain.AggSum, domain.AggCount, domain.AggAvg, domain.AggMin, domain.AggMax}
	dimensionAggregates = []domain.Aggregate{domain.AggCount}
)

// Table describes one queryable table.
type Table struct {
	Name   string
	Fields map[string]FieldKind
	// TimeSeries tables require a SINCE/UNTIL range; the others are snapshots.
	TimeSeries bool
}

// Field looks up a field's kind.
func (t Table) Field(name string) (FieldKind, bool) {
	k, ok := t.Fields[name]
	return k, ok
}

// AllowedAggregates lists the aggregate functions applicable to field.
func (t Table) AllowedAggregates(field string) []domain.Aggregate {
	k, ok := t.Fields[field]
	if !ok {
		return nil
	}
	if k == Metric {
		return metricAggregates
	}
	return dimensionAggregates
}

// AllowsAggregate reports whether agg can be applied to field.
func (t Table) AllowsAggregate(field string, agg domain.Aggregate) bool {
	if agg == domain.AggNone {
		_, ok := t.Fields[field]
		return ok
	}
	for _, a := range t.AllowedAggregates(field) {
		if a == agg {
			return true
		}
	}
	return false
}

// Registry is the static schema the validator checks queries against.
type Registry struct {
	tables map[string]Table
}

// NewRegistry builds a registry from tables.
func NewRegistry(tables ...Table) *Registry {
	r := &Registry{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		r.tables[t.Name] = t
	}
	return r
}

// Table returns the named table.
func (r *Registry) Table(name string) (Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// TableNames returns the known table names in sorted order.
func (r *Registry) TableNames() []string {
	names := make([]string, 0, len(r.tables))
	for n := range r.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func fields(kind FieldKind, names ...string) map[string]FieldKind {
	m := make(map[string]FieldKind, len(names))
	for _, n := range names {
		m[n] = kind
	}
	return m
}

func merge(ms ...map[string]FieldKind) map[string]FieldKind {
	out := map[string]FieldKind{}
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// DefaultRegistry returns the commerce analytics schema.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Table{
			Name:       "sales",
			TimeSeries: true,
			Fields: merge(
				fields(Dimension,
					"order_id", "product_id", "product_title", "product_type",
					"variant_id", "variant_title", "billing_city", "billing_country",
					"billing_region", "shipping_city", "shipping_country",
					"day", "hour", "month", "week", "year",
				),
				fields(Metric,
					"net_sales", "gross_sales", "discounts", "returns", "taxes",
					"total_sales", "net_quantity", "ordered_quantity", "returned_quantity",
				),
			),
		},
		Table{
			Name:   "products",
			Fields: fields(Dimension, "product_id", "product_title", "product_type", "vendor", "product_tag"),
		},
		Table{
			Name: "inventory",
			Fields: merge(
				fields(Dimension,
					"product_id", "product_title", "variant_id", "variant_title",
					"location_id", "location_name",
				),
				fields(Metric, "quantity_available", "incoming_quantity", "committed_quantity"),
			),
		},
	)
}
