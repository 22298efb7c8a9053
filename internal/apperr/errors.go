// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for propagation decisions
type Kind int

const (
	// KindValidation indicates malformed caller input, rejected before any state mutation
	KindValidation Kind = iota

	// KindRecognizer indicates one recognizer failed on one document
	KindRecognizer

	// KindPersistence indicates a cache store read or write failure
	KindPersistence

	// KindReport indicates a report could not be produced from existing data
	KindReport

	// KindConfig indicates a configuration problem such as a missing report template
	KindConfig
)

// String returns the string representation of the error kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRecognizer:
		return "recognizer"
	case KindPersistence:
		return "persistence"
	case KindReport:
		return "report_generation"
	case KindConfig:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by the engine packages
type Error struct {
	Kind Kind

	// Op is the operation that failed, e.g. "store.save"
	Op string

	// App is the application name involved, if any
	App string

	// Document is the source document id involved, if any
	Document string

	Message string

	// Recoverable reports whether the caller may retry the same operation
	Recoverable bool

	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.App != "" {
		msg += fmt.Sprintf(" (app: %s", e.App)
		if e.Document != "" {
			msg += fmt.Sprintf(", document: %s", e.Document)
		}
		msg += ")"
	} else if e.Document != "" {
		msg += fmt.Sprintf(" (document: %s)", e.Document)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping
func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation creates a validation error
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Recognizer creates a recognizer failure scoped to one document
func Recognizer(op, document string, cause error) *Error {
	return &Error{Kind: KindRecognizer, Op: op, Document: document, Cause: cause, Recoverable: true}
}

// Persistence creates a persistence error. In-memory state is kept, so it is recoverable.
func Persistence(op, app string, cause error) *Error {
	return &Error{Kind: KindPersistence, Op: op, App: app, Cause: cause, Recoverable: true}
}

// Report creates a report generation error
func Report(op, app, message string, cause error) *Error {
	return &Error{Kind: KindReport, Op: op, App: app, Message: message, Cause: cause}
}

// Config creates a configuration error
func Config(op, message string, cause error) *Error {
	return &Error{Kind: KindConfig, Op: op, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsRecognizer reports whether err is a recognizer failure
func IsRecognizer(err error) bool { return is(err, KindRecognizer) }

// IsPersistence reports whether err is a persistence error
func IsPersistence(err error) bool { return is(err, KindPersistence) }

// IsReport reports whether err is a report generation error
func IsReport(err error) bool { return is(err, KindReport) }

// IsConfig reports whether err is a configuration error
func IsConfig(err error) bool { return is(err, KindConfig) }
