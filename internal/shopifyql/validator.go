package shopifyql

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"shopify-analytics-agent/internal/domain"
)

var (
	absoluteDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	relativeTime = regexp.MustCompile(`^(today|yesterday|-\d+[dwmqy]?)$`)
)

// Validator statically checks queries against a schema registry. It performs
// no I/O.
type Validator struct {
	registry *Registry
}

// NewValidator returns a Validator over registry.
func NewValidator(registry *Registry) (*Validator, error) {
	if registry == nil {
		return nil, errors.New("shopifyql: registry must not be nil")
	}
	return &Validator{registry: registry}, nil
}

type findings struct {
	out []domain.Violation
}

func (f *findings) add(code domain.ViolationCode, format string, args ...any) {
	v := domain.Violation{Code: code, Detail: fmt.Sprintf(format, args...)}
	if !slices.Contains(f.out, v) {
		f.out = append(f.out, v)
	}
}

// Validate checks a generated query: the plan itself, the rendered text, and
// that the two agree.
func (v *Validator) Validate(q domain.GeneratedQuery) domain.ValidationResult {
	var f findings
	v.checkPlan(&f, q.Plan)

	st, err := Parse(q.Text)
	if err != nil {
		f.add(domain.ViolationSyntax, "%s", err.Error())
		return domain.ValidationResult{Violations: f.out}
	}
	v.checkStatement(&f, st)
	checkAgreement(&f, q.Plan, st)
	return domain.ValidationResult{Violations: f.out}
}

// ValidateQuery checks a raw query string.
func (v *Validator) ValidateQuery(raw string) domain.ValidationResult {
	var f findings
	st, err := Parse(raw)
	if err != nil {
		f.add(domain.ViolationSyntax, "%s", err.Error())
		return domain.ValidationResult{Violations: f.out}
	}
	v.checkStatement(&f, st)
	return domain.ValidationResult{Violations: f.out}
}

func (v *Validator) checkPlan(f *findings, plan domain.QueryPlan) {
	table, ok := v.registry.Table(plan.Table)
	if !ok {
		f.add(domain.ViolationUnknownTable, "table %q does not exist", plan.Table)
		return
	}
	for _, p := range plan.Projections {
		checkProjection(f, table, p)
	}
	for _, flt := range plan.Filters {
		if _, ok := table.Field(flt.Field); !ok {
			f.add(domain.ViolationUnknownField, "filter field %q does not exist in %s", flt.Field, table.Name)
		}
	}
	if plan.Sort != nil && !sortable(plan.Projections, plan.Sort.Column) {
		f.add(domain.ViolationUnknownField, "sort column %q is not projected", plan.Sort.Column)
	}

	switch {
	case table.TimeSeries && plan.TimeRange.IsZero():
		f.add(domain.ViolationMalformedTimeRange, "table %s requires a time range", table.Name)
	case !table.TimeSeries && !plan.TimeRange.IsZero():
		f.add(domain.ViolationMalformedTimeRange, "table %s does not accept a time range", table.Name)
	case !plan.TimeRange.IsZero() && !plan.TimeRange.WellOrdered():
		f.add(domain.ViolationMalformedTimeRange, "time range start %s is after end %s",
			plan.TimeRange.Start.Format(domain.DateLayout), plan.TimeRange.End.Format(domain.DateLayout))
	}
}

func (v *Validator) checkStatement(f *findings, st Statement) {
	table, ok := v.registry.Table(st.Table)
	if !ok {
		f.add(domain.ViolationUnknownTable, "table %q does not exist; valid tables are %s",
			st.Table, strings.Join(v.registry.TableNames(), ", "))
		return
	}
	for _, p := range st.Show {
		checkProjection(f, table, p)
	}
	for _, flt := range st.Where {
		if _, ok := table.Field(flt.Field); !ok {
			f.add(domain.ViolationUnknownField, "filter field %q does not exist in %s", flt.Field, table.Name)
		}
	}
	for _, g := range st.GroupBy {
		if _, ok := table.Field(g); !ok {
			f.add(domain.ViolationUnknownField, "group field %q does not exist in %s", g, table.Name)
		}
	}
	for _, s := range st.OrderBy {
		if !sortable(st.Show, s.Column) {
			f.add(domain.ViolationUnknownField, "sort column %q is not projected", s.Column)
		}
	}
	checkTimeClauses(f, table, st.Since, st.Until)
}

func checkProjection(f *findings, table Table, p domain.Projection) {
	if _, ok := table.Field(p.Field); !ok {
		f.add(domain.ViolationUnknownField, "field %q does not exist in %s", p.Field, table.Name)
		return
	}
	if !table.AllowsAggregate(p.Field, p.Aggregate) {
		f.add(domain.ViolationIncompatibleAggregate, "%s cannot be applied to %s.%s", p.Aggregate, table.Name, p.Field)
	}
}

func sortable(projections []domain.Projection, column string) bool {
	for _, p := range projections {
		if p.Name() == column || (p.Aggregate == domain.AggNone && p.Field == column) {
			return true
		}
	}
	return false
}

func checkTimeClauses(f *findings, table Table, since, until string) {
	if until != "" && since == "" {
		f.add(domain.ViolationMalformedTimeRange, "UNTIL used without SINCE")
		return
	}
	if since == "" {
		return
	}
	if !table.TimeSeries {
		f.add(domain.ViolationMalformedTimeRange, "table %s does not accept a time range", table.Name)
		return
	}
	for _, val := range []string{since, until} {
		if val != "" && !absoluteDate.MatchString(val) && !relativeTime.MatchString(val) {
			f.add(domain.ViolationMalformedTimeRange, "unrecognized time value %q", val)
			return
		}
	}
	if absoluteDate.MatchString(since) && absoluteDate.MatchString(until) {
		s, errS := time.Parse(domain.DateLayout, since)
		u, errU := time.Parse(domain.DateLayout, until)
		if errS != nil || errU != nil {
			f.add(domain.ViolationMalformedTimeRange, "invalid calendar date in %s..%s", since, until)
			return
		}
		if s.After(u) {
			f.add(domain.ViolationMalformedTimeRange, "time range start %s is after end %s", since, until)
		}
	}
}

// checkAgreement guards against generator/plan drift.
func checkAgreement(f *findings, plan domain.QueryPlan, st Statement) {
	if st.Table != plan.Table {
		f.add(domain.ViolationPlanMismatch, "query table %q differs from plan table %q", st.Table, plan.Table)
	}
	if len(st.Show) != len(plan.Projections) {
		f.add(domain.ViolationPlanMismatch, "query projects %d columns, plan has %d", len(st.Show), len(plan.Projections))
		return
	}
	for i, p := range plan.Projections {
		got := st.Show[i]
		if got.Field != p.Field || got.Aggregate != p.Aggregate || got.Name() != p.Name() {
			f.add(domain.ViolationPlanMismatch, "column %d is %s, plan expects %s", i+1, got.Name(), p.Name())
		}
	}
}
