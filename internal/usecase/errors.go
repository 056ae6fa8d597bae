package usecase

import (
	"errors"
	"fmt"

	"shopify-analytics-agent/internal/planner"
)

type ErrorCode string

const (
	ErrorInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrorPlanning              ErrorCode = "PLANNING_ERROR"
	ErrorUnprocessableQuestion ErrorCode = "UNPROCESSABLE_QUESTION"
	ErrorStoreNotAuthorized    ErrorCode = "STORE_NOT_AUTHORIZED"
	ErrorRateLimited           ErrorCode = "RATE_LIMITED"
	ErrorUpstreamUnavailable   ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorRequestCanceled       ErrorCode = "REQUEST_CANCELED"
	ErrorInternal              ErrorCode = "INTERNAL_ERROR"
)

var userMessages = map[ErrorCode]string{
	ErrorInvalidInput:          "The request is missing a store or a question, or the question is too long.",
	ErrorPlanning:              "I couldn't work out which data answers that question. Could you rephrase it?",
	ErrorUnprocessableQuestion: "I couldn't process that question. Please try rephrasing it.",
	ErrorStoreNotAuthorized:    "This store hasn't authorized access to its analytics data.",
	ErrorRateLimited:           "The store is receiving too many requests right now. Please try again in a moment.",
	ErrorUpstreamUnavailable:   "Store data is temporarily unavailable. Please try again shortly.",
	ErrorRequestCanceled:       "The request was canceled before it finished.",
	ErrorInternal:              "Something went wrong while answering your question.",
}

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage is the text shown to the caller. It never carries internal
// detail, except for planning failures whose messages are written for the
// person asking.
func (e *Error) UserMessage() string {
	if e == nil {
		return ""
	}
	var perr *planner.Error
	if e.Code == ErrorPlanning && errors.As(e.Err, &perr) {
		return perr.UserMessage()
	}
	if msg, ok := userMessages[e.Code]; ok {
		return msg
	}
	return userMessages[ErrorInternal]
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
