// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package detector

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"docguard/internal/apperr"
	"docguard/internal/observability"

	"go.uber.org/zap"
)

// Failure records one recognizer that could not process one document
type Failure struct {
	Recognizer string `json:"recognizer"`
	Message    string `json:"message"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// Result is the outcome of analyzing one document with every recognizer
type Result struct {
	DocumentID string
	Findings   []Finding
	Truncated  bool
	Failures   []Failure
}

// Partial reports whether the findings may be incomplete
func (r Result) Partial() bool {
	return r.Truncated || len(r.Failures) > 0
}

// Analyzer composes recognizers into one analysis pass per document
type Analyzer struct {
	recognizers   []Recognizer
	maxTextLength int
	timeout       time.Duration
	observer      *observability.Observer
}

// AnalyzerOption configures an Analyzer
type AnalyzerOption func(*Analyzer)

// WithMaxTextLength truncates input past n runes. Zero disables truncation.
func WithMaxTextLength(n int) AnalyzerOption {
	return func(a *Analyzer) { a.maxTextLength = n }
}

// WithTimeout bounds each recognizer call. Zero disables the bound.
func WithTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) { a.timeout = d }
}

// WithObserver sets the observability component
func WithObserver(o *observability.Observer) AnalyzerOption {
	return func(a *Analyzer) { a.observer = o }
}

// NewAnalyzer creates an analyzer over recognizers
func NewAnalyzer(recognizers []Recognizer, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		recognizers: append([]Recognizer(nil), recognizers...),
		observer:    observability.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Recognizers returns the composed recognizer names
func (a *Analyzer) Recognizers() []string {
	names := make([]string, len(a.recognizers))
	for i, r := range a.recognizers {
		names[i] = r.Name()
	}
	return names
}

// AnalyzeDocument runs every recognizer over doc. A failing recognizer is
// recorded in the result and never aborts the others.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, doc Document, kinds KindSet) Result {
	result := Result{DocumentID: doc.ID}

	text, truncated := Truncate(doc.Text, a.maxTextLength)
	result.Truncated = truncated
	if truncated {
		a.observer.Logger().Info("document truncated",
			zap.String("document", doc.ID),
			zap.Int("max_text_length", a.maxTextLength))
	}

	for _, rec := range a.recognizers {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, Failure{Recognizer: rec.Name(), Message: err.Error()})
			continue
		}

		finish := a.observer.StartTiming(rec.Name(), "analyze", doc.ID)
		findings, err := a.call(ctx, rec, doc.ID, text, kinds)
		if err != nil {
			failure := apperr.Recognizer(rec.Name()+".analyze", doc.ID, err)
			result.Failures = append(result.Failures, Failure{
				Recognizer: rec.Name(),
				Message:    failure.Error(),
				TimedOut:   errors.Is(err, context.DeadlineExceeded),
			})
			finish(false, zap.Error(err))
			continue
		}
		finish(true, zap.Int("finding_count", len(findings)))

		for _, f := range findings {
			if !kinds.Has(f.Kind) {
				continue
			}
			f.DocumentID = doc.ID
			if f.Recognizer == "" {
				f.Recognizer = rec.Name()
			}
			result.Findings = append(result.Findings, f)
		}
	}

	SortFindings(result.Findings)
	return result
}

// call runs one recognizer under the per-call timeout. A recognizer that
// ignores its context is abandoned once the deadline passes.
func (a *Analyzer) call(ctx context.Context, rec Recognizer, docID, text string, kinds KindSet) (findings []Finding, err error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	type outcome struct {
		findings []Finding
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("recognizer panicked: %v", r)}
			}
		}()
		f, err := rec.Analyze(ctx, docID, text, kinds)
		done <- outcome{findings: f, err: err}
	}()

	select {
	case out := <-done:
		return out.findings, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Truncate shortens text to at most max runes. max <= 0 disables truncation.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 || len(text) <= max {
		return text, false
	}
	if utf8.RuneCountInString(text) <= max {
		return text, false
	}

	count := 0
	for i := range text {
		if count == max {
			return text[:i], true
		}
		count++
	}
	return text, false
}
