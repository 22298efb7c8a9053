// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package engine is the entry point for loaders, the CLI and the HTTP
// adapter: it analyzes documents, aggregates runs and serves reports.
package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"docguard/internal/aggregator"
	"docguard/internal/apperr"
	"docguard/internal/config"
	"docguard/internal/confidence"
	"docguard/internal/detector"
	"docguard/internal/model"
	"docguard/internal/observability"
	"docguard/internal/paths"
	"docguard/internal/recognizers/keyword"
	modelrec "docguard/internal/recognizers/model"
	"docguard/internal/recognizers/pattern"
	"docguard/internal/registry"
	"docguard/internal/report"
	"docguard/internal/resilience"
	"docguard/internal/store"

	"go.uber.org/zap"
)

// Engine wires the registry, recognizers, aggregator, store and report
// generator from one configuration. It is safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	registry   *registry.Registry
	analyzer   *detector.Analyzer
	aggregator *aggregator.Aggregator
	store      *store.CacheStore
	reports    *report.Generator
	observer   *observability.Observer
	now        func() time.Time

	mu   sync.Mutex
	runs map[string]*RunHandle
}

type options struct {
	observer        *observability.Observer
	cacheRoot       string
	recognizers     []detector.Recognizer
	entityPredictor modelrec.Predictor
	topicPredictor  modelrec.Predictor
	clock           func() time.Time
}

// Option configures an Engine
type Option func(*options)

// WithObserver sets the observability component
func WithObserver(o *observability.Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithCacheRoot overrides the configured cache root with a resolved path
func WithCacheRoot(root string) Option {
	return func(opts *options) { opts.cacheRoot = root }
}

// WithRecognizers replaces the configured recognizer set
func WithRecognizers(recs ...detector.Recognizer) Option {
	return func(opts *options) { opts.recognizers = recs }
}

// WithEntityPredictor replaces the configured named-entity model
func WithEntityPredictor(p modelrec.Predictor) Option {
	return func(opts *options) { opts.entityPredictor = p }
}

// WithTopicPredictor replaces the configured topic model
func WithTopicPredictor(p modelrec.Predictor) Option {
	return func(opts *options) { opts.topicPredictor = p }
}

// WithClock replaces the clock used to expire idle runs
func WithClock(now func() time.Time) Option {
	return func(opts *options) { opts.clock = now }
}

// New builds an engine from cfg
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, apperr.Config("engine.new", "invalid configuration", err)
	}

	o := options{observer: observability.Nop(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	scales, err := Scales(cfg)
	if err != nil {
		return nil, err
	}

	var reg *registry.Registry
	if cfg.CatalogFile != "" {
		reg, err = registry.LoadFile(cfg.CatalogFile, scales)
	} else {
		reg, err = registry.LoadDefault(scales)
	}
	if err != nil {
		return nil, apperr.Config("engine.new", "loading entity catalog", err)
	}

	root := o.cacheRoot
	if root == "" {
		root, err = paths.ResolveCacheRoot(cfg.CacheRoot)
		if err != nil {
			return nil, apperr.Config("engine.new", "resolving cache root", err)
		}
	}

	recs := o.recognizers
	if recs == nil {
		recs, err = buildRecognizers(cfg, o)
		if err != nil {
			return nil, err
		}
	}

	cache := store.New(root,
		store.WithLockTimeout(cfg.LockTimeout),
		store.WithObserver(o.observer.Named("store")))

	e := &Engine{
		cfg:      cfg,
		registry: reg,
		analyzer: detector.NewAnalyzer(recs,
			detector.WithMaxTextLength(cfg.MaxTextLength),
			detector.WithTimeout(cfg.RecognizerTimeout),
			detector.WithObserver(o.observer.Named("detector"))),
		aggregator: aggregator.New(cache,
			aggregator.WithBucketizer(confidence.NewBucketizer(scales, cfg.TopicAdmission)),
			aggregator.WithScales(reg),
			aggregator.WithObserver(o.observer.Named("aggregator"))),
		store: cache,
		reports: report.NewGenerator(cache,
			report.WithRegistry(reg),
			report.WithObserver(o.observer.Named("report"))),
		observer: o.observer,
		now:      o.clock,
		runs:     make(map[string]*RunHandle),
	}
	return e, nil
}

// Scales converts configured thresholds to registry scales
func Scales(cfg *config.Config) (map[registry.Category]registry.Scale, error) {
	scales := make(map[registry.Category]registry.Scale, len(cfg.Thresholds))
	for name, t := range cfg.Thresholds {
		c, err := registry.ParseCategory(name)
		if err != nil {
			return nil, apperr.Config("engine.scales", "unknown threshold category", err)
		}
		scales[c] = registry.Scale{Low: t.Low, High: t.High}
	}
	return scales, nil
}

func buildRecognizers(cfg *config.Config, o options) ([]detector.Recognizer, error) {
	recs := []detector.Recognizer{pattern.NewRecognizer()}

	models := []struct {
		id         string
		override   modelrec.Predictor
		categories []registry.Category
	}{
		{cfg.Model.EntityModel, o.entityPredictor, []registry.Category{registry.CategoryPII, registry.CategoryFinancial, registry.CategorySecret}},
		{cfg.Model.TopicModel, o.topicPredictor, []registry.Category{registry.CategoryTopic}},
	}

	for _, m := range models {
		predictor := m.override
		name := m.id
		if predictor == nil {
			if m.id == "" {
				continue
			}
			p, err := keyword.New(m.id)
			if err != nil {
				return nil, apperr.Config("engine.new", "loading model", err)
			}
			predictor = p
		} else if name == "" {
			name = "custom"
		}

		rec, err := modelrec.NewRecognizer(name, predictor,
			modelrec.WithCategories(m.categories...),
			modelrec.WithRateLimit(cfg.Model.RequestsPerSecond, cfg.Model.Burst),
			modelrec.WithRetries(cfg.Model.MaxRetries),
			modelrec.WithCircuitBreaker(resilience.DefaultCircuitBreakerConfig(name)),
			modelrec.WithObserver(o.observer.Named("model")))
		if err != nil {
			return nil, apperr.Config("engine.new", "building model recognizer", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Registry returns the entity catalog in use
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Recognizers returns the names of the composed recognizers
func (e *Engine) Recognizers() []string {
	return e.analyzer.Recognizers()
}

// CacheRoot returns the resolved cache root
func (e *Engine) CacheRoot() string {
	return e.store.Layout().Root
}

// Metadata returns the stored metadata for app
func (e *Engine) Metadata(app string) (*model.AppMetadata, bool, error) {
	return e.store.Load(app)
}

// Apps lists applications that have metadata
func (e *Engine) Apps() ([]string, error) {
	return e.store.List()
}

// Reset deletes everything stored for app
func (e *Engine) Reset(ctx context.Context, app string) (bool, error) {
	return e.store.Delete(ctx, app)
}

// GetReport returns app's report.json, generating it from the current
// metadata. The same metadata always yields the same bytes.
func (e *Engine) GetReport(ctx context.Context, app string) ([]byte, error) {
	path, err := e.reports.WriteJSONReport(ctx, app)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Report("engine.get_report", app, "reading report", err)
	}
	return data, nil
}

// GetReportPDF returns app's report.pdf rendered with the configured
// template, or with template when it is not empty.
func (e *Engine) GetReportPDF(ctx context.Context, app, template string) ([]byte, error) {
	if template == "" {
		template = e.cfg.Report.Template
	}
	path, err := e.reports.WritePDFReport(ctx, app, template)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Report("engine.get_report_pdf", app, "reading report", err)
	}
	return data, nil
}

// ReportPaths returns where app's report files live
func (e *Engine) ReportPaths(app string) (string, string) {
	l := e.store.Layout()
	return l.ReportJSON(app), l.ReportPDF(app)
}

// OpenRuns lists the ids of runs that have not been finalized, sorted
func (e *Engine) OpenRuns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireIdleLocked()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run returns an open run by id
func (e *Engine) Run(runID string) (*RunHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireIdleLocked()
	h, ok := e.runs[runID]
	return h, ok
}

func (e *Engine) forget(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, runID)
}

func (e *Engine) touch(h *RunHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h.lastActive = e.now()
}

// expireIdleLocked drops open runs idle longer than run_idle_timeout.
// Their documents are discarded as if the run had been aborted.
func (e *Engine) expireIdleLocked() {
	if e.cfg.RunIdleTimeout <= 0 {
		return
	}
	cutoff := e.now().Add(-e.cfg.RunIdleTimeout)
	for id, h := range e.runs {
		if h.lastActive.Before(cutoff) {
			delete(e.runs, id)
			e.observer.Logger().Info("open run expired",
				zap.String("app", h.Context().AppName),
				zap.String("run_id", id),
				zap.Duration("idle_timeout", e.cfg.RunIdleTimeout))
		}
	}
}

func (e *Engine) kindSet(names []string) (detector.KindSet, error) {
	kinds, err := e.registry.Select(names)
	if err != nil {
		return nil, apperr.Validation("engine.kinds", err.Error())
	}
	return detector.NewKindSet(kinds...), nil
}

// String describes the engine configuration for logs
func (e *Engine) String() string {
	return fmt.Sprintf("engine(root=%s, recognizers=%v, workers=%d)", e.CacheRoot(), e.Recognizers(), e.cfg.Workers)
}
