package planner

import "fmt"

// ErrorKind classifies planning failures.
type ErrorKind string

const (
	KindTimeRange ErrorKind = "time_range"
	KindDomain    ErrorKind = "domain"
)

// Error is returned when a question cannot be turned into a plan. Its message
// is safe to show to the person asking.
type Error struct {
	Kind ErrorKind
	Expr string
	Msg  string
}

func (e *Error) Error() string {
	if e.Expr == "" {
		return "planner: " + e.Msg
	}
	return fmt.Sprintf("planner: %q %s", e.Expr, e.Msg)
}

// UserMessage renders the failure for the caller.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindTimeRange:
		return fmt.Sprintf("I couldn't understand the time range %q: it %s. Try something like \"last 30 days\" or \"this month\".", e.Expr, e.Msg)
	default:
		return e.Msg
	}
}

func timeRangeError(expr, msg string) *Error {
	return &Error{Kind: KindTimeRange, Expr: expr, Msg: msg}
}
