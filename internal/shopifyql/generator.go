package shopifyql

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"shopify-analytics-agent/internal/domain"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", " ",
	"\r", " ",
	"\t", " ",
)

// QuoteLiteral renders s as a single-quoted string literal.
func QuoteLiteral(s string) string {
	return "'" + literalEscaper.Replace(s) + "'"
}

// Generate renders plan as a query string. Rendering is deterministic: the
// same plan always yields the same text.
func Generate(plan domain.QueryPlan) (domain.GeneratedQuery, error) {
	if err := checkIdentifiers(plan); err != nil {
		return domain.GeneratedQuery{}, err
	}

	var b strings.Builder
	b.WriteString("FROM ")
	b.WriteString(plan.Table)

	b.WriteString(" SHOW ")
	cols := make([]string, 0, len(plan.Projections))
	for _, p := range plan.Projections {
		cols = append(cols, renderProjection(p))
	}
	b.WriteString(strings.Join(cols, ", "))

	if len(plan.Filters) > 0 {
		conds := make([]string, 0, len(plan.Filters))
		for _, f := range plan.Filters {
			conds = append(conds, f.Field+" = "+QuoteLiteral(f.Value))
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	if dims := plan.Dimensions(); len(dims) > 0 && len(plan.Metrics()) > 0 {
		names := make([]string, 0, len(dims))
		for _, d := range dims {
			names = append(names, d.Field)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(names, ", "))
	}

	if !plan.TimeRange.IsZero() {
		b.WriteString(" SINCE ")
		b.WriteString(plan.TimeRange.Start.Format(domain.DateLayout))
		b.WriteString(" UNTIL ")
		b.WriteString(plan.TimeRange.End.Format(domain.DateLayout))
	}

	if plan.Sort != nil {
		b.WriteString(" ORDER BY ")
		b.WriteString(plan.Sort.Column)
		if plan.Sort.Descending {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	if plan.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(plan.Limit))
	}

	return domain.GeneratedQuery{
		Text: b.String(),
		Plan: plan,
		Path: domain.PathPrimary,
	}, nil
}

func renderProjection(p domain.Projection) string {
	expr := p.Field
	if p.Aggregate != domain.AggNone {
		expr = fmt.Sprintf("%s(%s)", p.Aggregate, p.Field)
	}
	if p.Alias != "" && p.Alias != p.Field {
		expr += " AS " + p.Alias
	}
	return expr
}

// checkIdentifiers rejects plans whose identifiers could not be rendered
// without quoting. Identifiers are never quoted, so they must be plain.
func checkIdentifiers(plan domain.QueryPlan) error {
	if !identPattern.MatchString(plan.Table) {
		return fmt.Errorf("shopifyql: invalid table identifier %q", plan.Table)
	}
	if len(plan.Projections) == 0 {
		return errors.New("shopifyql: plan has no projections")
	}
	for _, p := range plan.Projections {
		if !identPattern.MatchString(p.Field) {
			return fmt.Errorf("shopifyql: invalid field identifier %q", p.Field)
		}
		if p.Alias != "" && !identPattern.MatchString(p.Alias) {
			return fmt.Errorf("shopifyql: invalid alias %q", p.Alias)
		}
		if p.Aggregate != domain.AggNone && !identPattern.MatchString(string(p.Aggregate)) {
			return fmt.Errorf("shopifyql: invalid aggregate %q", p.Aggregate)
		}
	}
	for _, f := range plan.Filters {
		if !identPattern.MatchString(f.Field) {
			return fmt.Errorf("shopifyql: invalid filter field %q", f.Field)
		}
	}
	if plan.Sort != nil && !identPattern.MatchString(plan.Sort.Column) {
		return fmt.Errorf("shopifyql: invalid sort column %q", plan.Sort.Column)
	}
	if plan.Limit < 0 {
		return fmt.Errorf("shopifyql: negative limit %d", plan.Limit)
	}
	return nil
}
