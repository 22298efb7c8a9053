// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package aggregator turns per-document findings into run summaries and
// folds finalized runs into cumulative application metadata.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"docguard/internal/apperr"
	"docguard/internal/confidence"
	"docguard/internal/detector"
	"docguard/internal/model"
	"docguard/internal/observability"
	"docguard/internal/paths"
	"docguard/internal/registry"
	"docguard/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence the aggregator needs
type Store interface {
	MergeAndSave(ctx context.Context, app string, merge store.MergeFunc) (*model.AppMetadata, error)
}

// ScaleSource resolves per-kind confidence scales
type ScaleSource interface {
	ConfidenceScale(kind string) (float64, float64)
}

// Aggregator allocates runs and finalizes them into the store
type Aggregator struct {
	store      Store
	bucketizer *confidence.Bucketizer
	scales     ScaleSource
	observer   *observability.Observer
	now        func() time.Time
	newID      func() (uuid.UUID, error)

	mu     sync.Mutex
	lastID map[string]string
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithBucketizer sets the confidence bucketizer
func WithBucketizer(b *confidence.Bucketizer) Option {
	return func(a *Aggregator) { a.bucketizer = b }
}

// WithScales labels findings with per-kind scales instead of the
// bucketizer's per-category ones
func WithScales(s ScaleSource) Option {
	return func(a *Aggregator) { a.scales = s }
}

// WithObserver sets the observability component
func WithObserver(o *observability.Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an aggregator persisting through s
func New(s Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:      s,
		bucketizer: confidence.DefaultBucketizer(),
		observer:   observability.Nop(),
		now:        time.Now,
		newID:      uuid.NewV7,
		lastID:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BeginRun validates the run parameters and allocates a RunContext with a
// time-ordered run id.
func (a *Aggregator) BeginRun(app, owner, description string) (*Run, error) {
	if err := paths.ValidateAppName(app); err != nil {
		return nil, apperr.Validation("aggregator.begin_run", err.Error())
	}

	id, err := a.allocateID(app)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ctx: model.RunContext{
			RunID:       id,
			AppName:     app,
			Owner:       strings.TrimSpace(owner),
			Description: description,
			StartedAt:   a.now().UTC(),
		},
		label:     a.Label,
		state:     StateStarted,
		documents: make(map[string]documentRecord),
	}
	a.observer.Logger().Debug("run started", zap.String("app", app), zap.String("run_id", id))
	return run, nil
}

// allocateID returns a UUIDv7 strictly greater than every id previously
// issued for app by this process. UUIDv7 ids share a millisecond prefix
// within one timer tick, so a colliding or out-of-order id is redrawn.
func (a *Aggregator) allocateID(app string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := 0; attempt < 100; attempt++ {
		u, err := a.newID()
		if err != nil {
			return "", fmt.Errorf("allocating run id: %w", err)
		}
		id := u.String()
		if id > a.lastID[app] {
			a.lastID[app] = id
			return id, nil
		}
	}
	return "", errors.New("could not allocate a unique run id")
}

// Label returns a finding's confidence label and whether it is admitted
func (a *Aggregator) Label(f detector.Finding) (confidence.Label, bool) {
	if !a.bucketizer.Admit(f.Category, f.Score) {
		return "", false
	}
	if a.scales != nil {
		low, high := a.scales.ConfidenceScale(f.Kind)
		return confidence.LabelWithScale(registry.Scale{Low: low, High: high}, f.Score), true
	}
	return a.bucketizer.Label(f.Category, f.Score), true
}

// FinalizeRun merges the run into the application's persisted metadata and
// returns the updated record. On a persistence failure the run stays open
// with its documents intact so that FinalizeRun can be retried.
func (a *Aggregator) FinalizeRun(ctx context.Context, run *Run) (*model.AppMetadata, error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	if run.state == StateFinalized {
		return nil, apperr.Validation("aggregator.finalize_run", "run "+run.ctx.RunID+" is already finalized")
	}

	// a retried finalize reuses the first attempt's timestamp
	if run.finalizedAt.IsZero() {
		run.finalizedAt = a.now().UTC()
	}
	summary := run.summaryLocked(run.finalizedAt)

	finish := a.observer.StartTiming("aggregator", "finalize_run", run.ctx.AppName)
	meta, err := a.store.MergeAndSave(ctx, run.ctx.AppName, func(existing *model.AppMetadata) (*model.AppMetadata, error) {
		return Merge(existing, summary), nil
	})
	if err != nil {
		finish(false, zap.String("run_id", run.ctx.RunID), zap.Error(err))
		return nil, err
	}

	run.state = StateFinalized
	finish(true,
		zap.String("run_id", run.ctx.RunID),
		zap.Int("documents", summary.DocumentsProcessed),
		zap.Int("partial_documents", len(summary.PartialDocuments)))
	return meta, nil
}
