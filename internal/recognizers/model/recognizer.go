// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package model adapts an external classification model to the
// detector.Recognizer contract.
package model

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"docguard/internal/detector"
	"docguard/internal/observability"
	"docguard/internal/registry"
	"docguard/internal/resilience"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Prediction is one labeled span produced by a model
type Prediction struct {
	Label string
	Start int
	End   int
	Score float64
}

// Predictor is any classification model: rule based, remote or local.
// labels lists the model labels the caller is interested in.
type Predictor interface {
	Predict(ctx context.Context, text string, labels []string) ([]Prediction, error)
}

// PredictorFunc adapts a function to Predictor
type PredictorFunc func(ctx context.Context, text string, labels []string) ([]Prediction, error)

// Predict implements Predictor
func (f PredictorFunc) Predict(ctx context.Context, text string, labels []string) ([]Prediction, error) {
	return f(ctx, text, labels)
}

// Recognizer invokes a Predictor once per document and maps its labels
// back to the requested model-matched entity kinds.
type Recognizer struct {
	name       string
	predictor  Predictor
	categories []registry.Category
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	observer   *observability.Observer
}

// Option configures a Recognizer
type Option func(*Recognizer)

// WithCategories restricts the recognizer to kinds in the given categories
func WithCategories(categories ...registry.Category) Option {
	return func(r *Recognizer) { r.categories = categories }
}

// WithRateLimit bounds predictor calls per second. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Recognizer) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithRetries sets how many times a transient predictor error is retried
func WithRetries(n int) Option {
	return func(r *Recognizer) { r.retry = resilience.ModelRetryConfig(n) }
}

// WithRetryConfig replaces the retry policy
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(r *Recognizer) { r.retry = cfg }
}

// WithCircuitBreaker protects predictor calls with a breaker
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Recognizer) { r.breaker = resilience.NewCircuitBreaker(cfg) }
}

// WithObserver sets the observability component
func WithObserver(o *observability.Observer) Option {
	return func(r *Recognizer) { r.observer = o }
}

// NewRecognizer creates a model recognizer named "model:<name>"
func NewRecognizer(name string, predictor Predictor, opts ...Option) (*Recognizer, error) {
	if predictor == nil {
		return nil, fmt.Errorf("model recognizer %q: predictor is required", name)
	}
	r := &Recognizer{
		name:      "model:" + name,
		predictor: predictor,
		retry:     resilience.ModelRetryConfig(0),
		observer:  observability.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name implements detector.Recognizer
func (r *Recognizer) Name() string {
	return r.name
}

// Analyze implements detector.Recognizer
func (r *Recognizer) Analyze(ctx context.Context, documentID, text string, kinds detector.KindSet) ([]detector.Finding, error) {
	byLabel := r.labelIndex(kinds)
	if len(byLabel) == 0 || text == "" {
		return nil, nil
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	predictions, err := r.predict(ctx, text, labels)
	if err != nil {
		return nil, err
	}

	var findings []detector.Finding
	dropped := 0
	for _, p := range predictions {
		kind, ok := byLabel[strings.ToLower(p.Label)]
		if !ok || p.Start < 0 || p.End > len(text) || p.Start > p.End {
			dropped++
			continue
		}
		findings = append(findings, detector.Finding{
			Kind:       kind.Name,
			Category:   kind.Category,
			Start:      p.Start,
			End:        p.End,
			Score:      clamp(p.Score),
			DocumentID: documentID,
			Recognizer: r.name,
		})
	}
	if dropped > 0 {
		r.observer.Logger().Debug("dropped model predictions",
			zap.String("recognizer", r.name),
			zap.String("document", documentID),
			zap.Int("count", dropped))
	}

	detector.SortFindings(findings)
	return findings, nil
}

func (r *Recognizer) predict(ctx context.Context, text string, labels []string) ([]Prediction, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	call := func(ctx context.Context) ([]Prediction, error) {
		return resilience.RetryWithResult(ctx, r.retry, func(ctx context.Context) ([]Prediction, error) {
			return r.predictor.Predict(ctx, text, labels)
		})
	}
	if r.breaker == nil {
		return call(ctx)
	}

	var out []Prediction
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = call(ctx)
		return err
	})
	return out, err
}

// labelIndex maps lowercased model labels to the requested kinds this
// recognizer is responsible for.
func (r *Recognizer) labelIndex(kinds detector.KindSet) map[string]registry.EntityKind {
	index := make(map[string]registry.EntityKind)
	for _, kind := range kinds.ByMatcher(registry.MatcherModel) {
		if len(r.categories) > 0 && !slices.Contains(r.categories, kind.Category) {
			continue
		}
		for _, label := range kind.ModelLabels {
			index[strings.ToLower(label)] = kind
		}
	}
	return index
}

func clamp(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
