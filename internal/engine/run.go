// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"strings"
	"time"

	"docguard/internal/aggregator"
	"docguard/internal/apperr"
	"docguard/internal/confidence"
	"docguard/internal/detector"
	"docguard/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunRequest describes a run. Kinds selects entity kinds or categories by
// name; empty selects the whole catalog.
type RunRequest struct {
	AppName     string   `json:"app_name"`
	Owner       string   `json:"owner"`
	Description string   `json:"description"`
	Kinds       []string `json:"kinds,omitempty"`
}

// LabeledFinding is a finding with its confidence label
type LabeledFinding struct {
	detector.Finding
	Label confidence.Label `json:"label"`
}

// DocumentOutcome is what happened to one submitted document
type DocumentOutcome struct {
	DocumentID string             `json:"document_id"`
	Findings   []LabeledFinding   `json:"findings"`
	Partial    bool               `json:"partial"`
	Truncated  bool               `json:"truncated,omitempty"`
	Failures   []detector.Failure `json:"failures,omitempty"`
	Duplicate  bool               `json:"duplicate,omitempty"`
}

// RunResult is the outcome of a batch run
type RunResult struct {
	Run       model.RunContext   `json:"run"`
	Documents []DocumentOutcome  `json:"documents"`
	Metadata  *model.AppMetadata `json:"metadata"`
}

// RunHandle is an open run accepting documents one at a time
type RunHandle struct {
	engine *Engine
	run    *aggregator.Run
	kinds  detector.KindSet

	// lastActive is guarded by engine.mu
	lastActive time.Time
}

// OpenRun validates req and starts a run
func (e *Engine) OpenRun(req RunRequest) (*RunHandle, error) {
	kinds, err := e.kindSet(req.Kinds)
	if err != nil {
		return nil, err
	}
	run, err := e.aggregator.BeginRun(req.AppName, req.Owner, req.Description)
	if err != nil {
		return nil, err
	}

	h := &RunHandle{engine: e, run: run, kinds: kinds}
	e.mu.Lock()
	e.expireIdleLocked()
	h.lastActive = e.now()
	e.runs[run.Context().RunID] = h
	e.mu.Unlock()
	return h, nil
}

// Context returns the run's identity
func (h *RunHandle) Context() model.RunContext {
	return h.run.Context()
}

// State returns the run's lifecycle state
func (h *RunHandle) State() aggregator.State {
	return h.run.State()
}

// Submit analyzes one document and records it in the run. Recognizer
// failures only mark the document partial; the returned error is for
// invalid input or a closed run.
func (h *RunHandle) Submit(ctx context.Context, doc detector.Document) (DocumentOutcome, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return DocumentOutcome{}, apperr.Validation("engine.submit", "document id is required")
	}
	if h.run.State() == aggregator.StateFinalized {
		return DocumentOutcome{}, apperr.Validation("engine.submit", "run "+h.Context().RunID+" is already finalized")
	}

	h.engine.touch(h)
	result := h.engine.analyzer.AnalyzeDocument(ctx, doc, h.kinds)
	rc := h.Context()
	for _, f := range result.Failures {
		h.engine.observer.Logger().Warn("recognizer failed",
			zap.String("app", rc.AppName),
			zap.String("run_id", rc.RunID),
			zap.String("document", doc.ID),
			zap.String("recognizer", f.Recognizer),
			zap.Bool("timed_out", f.TimedOut),
			zap.String("error", f.Message))
	}

	added, err := h.run.RecordDocument(result, doc.Identities)
	if err != nil {
		return DocumentOutcome{}, err
	}

	out := DocumentOutcome{
		DocumentID: doc.ID,
		Findings:   []LabeledFinding{},
		Partial:    result.Partial(),
		Truncated:  result.Truncated,
		Failures:   result.Failures,
		Duplicate:  !added,
	}
	for _, f := range result.Findings {
		if label, ok := h.engine.aggregator.Label(f); ok {
			out.Findings = append(out.Findings, LabeledFinding{Finding: f, Label: label})
		}
	}
	return out, nil
}

// AnalyzeDocument submits doc to the open run runID
func (e *Engine) AnalyzeDocument(ctx context.Context, runID string, doc detector.Document) (DocumentOutcome, error) {
	h, ok := e.Run(runID)
	if !ok {
		return DocumentOutcome{}, apperr.Validation("engine.analyze_document", "no open run "+runID)
	}
	return h.Submit(ctx, doc)
}

// Finalize folds the run into the application's metadata. After a
// persistence error the run stays open and Finalize may be retried.
func (h *RunHandle) Finalize(ctx context.Context) (*model.AppMetadata, error) {
	h.engine.touch(h)
	meta, err := h.engine.aggregator.FinalizeRun(ctx, h.run)
	if err != nil {
		return nil, err
	}
	h.engine.forget(h.Context().RunID)
	return meta, nil
}

// Abort discards the run without persisting anything
func (h *RunHandle) Abort() {
	h.engine.forget(h.Context().RunID)
}

// AnalyzeRun runs a batch of documents through one run with bounded
// parallelism and finalizes it. Documents are validated before any
// analysis starts; a repeated document id keeps its first occurrence and
// later ones are reported as duplicates. If ctx is cancelled the run is
// discarded. If only the final write fails the run stays open: the
// returned result carries its context and the error is a persistence error,
// so the caller can retry Finalize on the handle from Run.
func (e *Engine) AnalyzeRun(ctx context.Context, req RunRequest, docs []detector.Document) (*RunResult, error) {
	first := make(map[string]bool, len(docs))
	repeated := make([]bool, len(docs))
	for i, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return nil, apperr.Validation("engine.analyze_run", "document id is required")
		}
		if first[doc.ID] {
			repeated[i] = true
			continue
		}
		first[doc.ID] = true
	}

	h, err := e.OpenRun(req)
	if err != nil {
		return nil, err
	}

	outcomes := make([]DocumentOutcome, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.cfg.Workers, 1))
	for i, doc := range docs {
		if repeated[i] {
			outcomes[i] = DocumentOutcome{DocumentID: doc.ID, Findings: []LabeledFinding{}, Duplicate: true}
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := h.Submit(gctx, doc)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.Abort()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		h.Abort()
		return nil, err
	}

	meta, err := h.Finalize(ctx)
	if err != nil {
		if apperr.IsPersistence(err) {
			rc := h.Context()
			e.observer.Logger().Warn("run kept open after failed finalize",
				zap.String("app", rc.AppName),
				zap.String("run_id", rc.RunID),
				zap.Error(err))
			return &RunResult{Run: rc, Documents: outcomes}, err
		}
		h.Abort()
		return nil, err
	}
	return &RunResult{Run: h.Context(), Documents: outcomes, Metadata: meta}, nil
}
