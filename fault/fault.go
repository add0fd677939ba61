// Package fault classifies run failures into the categories the caller can
// act on: bad input, failed authentication, and broken navigation.
//
// Sentinel errors across audasnap are *Error values. Wrapping them with %w
// keeps errors.Is working and lets Message recover the short text shown to
// the user.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the failure category.
type Kind string

const (
	KindInput      Kind = "input"
	KindAuth       Kind = "auth"
	KindNavigation Kind = "navigation"
	KindInternal   Kind = "internal"
)

// Error is a categorised failure with a human-readable message.
type Error struct {
	Kind    Kind
	Code    string // stable identifier, e.g. "captcha"
	Message string // short text for the end user
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Input, Auth and Navigation are shorthands for New.
func Input(code, message string) *Error      { return New(KindInput, code, message) }
func Auth(code, message string) *Error       { return New(KindAuth, code, message) }
func Navigation(code, message string) *Error { return New(KindNavigation, code, message) }

// KindOf returns the category of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or "internal".
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return "internal"
}

// Message returns the user-facing text for err. Uncategorised errors are
// reported verbatim so nothing is swallowed.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

// Aborts reports whether err stops a run. Only authentication and
// navigation failures do; degraded zones are recorded as data instead.
func Aborts(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindNavigation:
		return true
	}
	return false
}
