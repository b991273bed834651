package errs

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable classification for every failure mode of a run.
type Code string

const (
	// Discovery means a root path is missing or unreadable. Fatal.
	Discovery Code = "DISCOVERY_ERROR"
	// AnalyzerTimeout means one analysis unit hit its deadline.
	AnalyzerTimeout Code = "ANALYZER_TIMEOUT"
	// AnalyzerError means one analysis unit failed for any other reason.
	AnalyzerError Code = "ANALYZER_ERROR"
	// CacheCorrupt means the run cache could not be used and was treated as absent.
	CacheCorrupt Code = "CACHE_CORRUPT"
	// LedgerWrite means a ledger transition could not be persisted.
	LedgerWrite Code = "LEDGER_WRITE_ERROR"
	// GraphBuild means a component could not be read during edge extraction.
	GraphBuild Code = "GRAPH_BUILD_ERROR"
	// Cancelled marks a run that stopped on an external cancellation request.
	Cancelled Code = "CANCELLATION_REQUESTED"
	// Config means configuration could not be loaded or failed validation.
	Config Code = "CONFIG_ERROR"
	// Internal is used for unexpected failures with no better code.
	Internal Code = "INTERNAL_ERROR"
)

// Error carries a Code alongside the usual message and cause.
type Error struct {
	Code      Code
	Message   string
	Component string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Component != "" {
		msg = fmt.Sprintf("%s: %s", e.Component, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, errs.New(errs.CacheCorrupt, ""))
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ForComponent returns a copy of e attributed to component id.
func (e *Error) ForComponent(id string) *Error {
	out := *e
	out.Component = id
	return &out
}

// CodeOf returns the classification of err. Context errors map to Cancelled
// and AnalyzerTimeout; anything unclassified is Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return AnalyzerTimeout
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Internal
}

// Is reports whether err carries code anywhere in its chain.
func Is(err error, code Code) bool {
	var coded *Error
	for err != nil {
		if errors.As(err, &coded) {
			if coded.Code == code {
				return true
			}
			err = coded.Err
			continue
		}
		return false
	}
	return false
}

// IsFatal reports whether a failure with this code must abort the run.
func IsFatal(code Code) bool {
	return code == Discovery || code == Config
}
