// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"sync"
	"time"

	"docguard/internal/apperr"
	"docguard/internal/confidence"
	"docguard/internal/detector"
	"docguard/internal/model"
	"docguard/internal/registry"
)

// State is a run's lifecycle position
type State int

const (
	StateStarted State = iota
	StateAccumulating
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "STARTED"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateFinalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// documentRecord is the bucketized contribution of one document
type documentRecord struct {
	identities []string
	entities   []model.LabeledItem
	topics     []model.LabeledItem
	counts     map[string]int
	issue      *model.DocumentIssue
}

// Run accumulates documents for one RunContext. It is safe for concurrent
// use; documents may be recorded in any order.
type Run struct {
	ctx   model.RunContext
	label func(detector.Finding) (confidence.Label, bool)

	mu          sync.Mutex
	state       State
	documents   map[string]documentRecord
	finalizedAt time.Time
}

// Context returns the run's identity
func (r *Run) Context() model.RunContext {
	return r.ctx
}

// State returns the current lifecycle state
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Documents returns how many distinct documents have been recorded
func (r *Run) Documents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.documents)
}

// RecordDocument folds one document's analysis result into the run.
// Re-submitting a document id is a no-op and returns false.
func (r *Run) RecordDocument(result detector.Result, identities []string) (bool, error) {
	if result.DocumentID == "" {
		return false, apperr.Validation("aggregator.record_document", "document id is required")
	}

	rec := r.bucketize(result, identities)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateFinalized {
		return false, apperr.Validation("aggregator.record_document",
			"run "+r.ctx.RunID+" is already finalized")
	}
	if _, seen := r.documents[result.DocumentID]; seen {
		return false, nil
	}
	r.documents[result.DocumentID] = rec
	r.state = StateAccumulating
	return true, nil
}

// bucketize deduplicates findings by (kind, span), keeping the highest
// score, then labels and admits them.
func (r *Run) bucketize(result detector.Result, identities []string) documentRecord {
	best := make(map[detector.Span]detector.Finding)
	for _, f := range result.Findings {
		span := f.Span()
		if cur, ok := best[span]; !ok || f.Score > cur.Score {
			best[span] = f
		}
	}

	rec := documentRecord{
		identities: model.SortedStrings(identities),
		counts:     make(map[string]int),
	}
	for _, f := range best {
		label, admitted := r.label(f)
		if !admitted {
			continue
		}
		item := model.LabeledItem{Name: f.Kind, Label: string(label)}
		if f.Category == registry.CategoryTopic {
			rec.topics = append(rec.topics, item)
		} else {
			rec.entities = append(rec.entities, item)
		}
		rec.counts[f.Kind]++
	}

	if result.Partial() {
		issue := &model.DocumentIssue{DocumentID: result.DocumentID, Truncated: result.Truncated}
		for _, f := range result.Failures {
			issue.Failures = append(issue.Failures, model.RecognizerFailure{
				Recognizer: f.Recognizer,
				Message:    f.Message,
				TimedOut:   f.TimedOut,
			})
		}
		rec.issue = issue
	}
	return rec
}

// Summary folds every recorded document into a RunSummary. The result
// does not depend on recording order.
func (r *Run) Summary(finalizedAt time.Time) model.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked(finalizedAt)
}

func (r *Run) summaryLocked(finalizedAt time.Time) model.RunSummary {
	s := model.RunSummary{
		Run:                r.ctx,
		FinalizedAt:        finalizedAt,
		DocumentsProcessed: len(r.documents),
		EntityCounts:       map[string]int{},
	}

	var identities []string
	var topics, entities []model.LabeledItem
	var issues []model.DocumentIssue
	for _, rec := range r.documents {
		identities = append(identities, rec.identities...)
		topics = append(topics, rec.topics...)
		entities = append(entities, rec.entities...)
		for kind, n := range rec.counts {
			s.EntityCounts[kind] += n
		}
		if rec.issue != nil {
			issues = append(issues, *rec.issue)
		}
	}

	s.Identities = model.SortedStrings(identities)
	s.Topics = model.SortedItems(topics)
	s.Entities = model.SortedItems(entities)
	sortIssues(issues)
	s.PartialDocuments = issues
	return s
}
