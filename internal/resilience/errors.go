// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents the retry class of a predictor failure
type ErrorType int

const (
	ErrorTypeUnknown   ErrorType = iota
	ErrorTypeTransient           // model busy, connection reset, rate limited
	ErrorTypePermanent           // bad input, unsupported model
	ErrorTypeTimeout             // per-call deadline exceeded
	ErrorTypeCanceled            // caller went away
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeTransient:
		return "Transient"
	case ErrorTypePermanent:
		return "Permanent"
	case ErrorTypeTimeout:
		return "Timeout"
	case ErrorTypeCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// ClassifiedError wraps an error with type information
type ClassifiedError struct {
	Original  error
	Type      ErrorType
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	if e.Original == nil {
		return e.Type.String() + " error"
	}
	return e.Original.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// ClassifyError categorizes an error for retry decisions. Timeouts and
// cancellations are never retried: the caller's deadline already passed.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ClassifiedError{Original: err, Type: ErrorTypeTimeout}
	case errors.Is(err, context.Canceled):
		return &ClassifiedError{Original: err, Type: ErrorTypeCanceled}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ClassifiedError{Original: err, Type: ErrorTypeTimeout}
		}
		return &ClassifiedError{Original: err, Type: ErrorTypeTransient, Retryable: true}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "unavailable") || strings.Contains(msg, "connection reset"):
		return &ClassifiedError{Original: err, Type: ErrorTypeTransient, Retryable: true}
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "not found"):
		return &ClassifiedError{Original: err, Type: ErrorTypePermanent}
	}

	return &ClassifiedError{Original: err, Type: ErrorTypeUnknown}
}

// IsRetryable reports whether an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Retryable
}

// NewTransientError creates a retryable error
func NewTransientError(message string, cause error) *ClassifiedError {
	return &ClassifiedError{Original: wrap(message, cause), Type: ErrorTypeTransient, Retryable: true}
}

// NewPermanentError creates a non-retryable error
func NewPermanentError(message string, cause error) *ClassifiedError {
	return &ClassifiedError{Original: wrap(message, cause), Type: ErrorTypePermanent}
}

func wrap(message string, cause error) error {
	if cause == nil {
		return errors.New(message)
	}
	return fmt.Errorf("%s: %w", message, cause)
}
