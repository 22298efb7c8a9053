// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package model holds the persisted records shared by the aggregator,
// the cache store and the report generator.
package model

import (
	"cmp"
	"slices"
	"time"
)

// RunContext identifies one ingestion invocation
type RunContext struct {
	RunID       string    `json:"run_id"`
	AppName     string    `json:"app_name"`
	Owner       string    `json:"owner"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
}

// LabeledItem is a (name, confidence label) pair. Names are entity kinds
// or topic kinds.
type LabeledItem struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// CompareLabeledItems orders items by name, then label
func CompareLabeledItems(a, b LabeledItem) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Label, b.Label)
}

// RecognizerFailure records one recognizer that failed on one document
type RecognizerFailure struct {
	Recognizer string `json:"recognizer"`
	Message    string `json:"message"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// DocumentIssue describes a document whose findings are partial
type DocumentIssue struct {
	DocumentID string              `json:"document_id"`
	Truncated  bool                `json:"truncated,omitempty"`
	Failures   []RecognizerFailure `json:"failures,omitempty"`
}

// RunSummary is the folded result of one finalized run
type RunSummary struct {
	Run                RunContext      `json:"run"`
	FinalizedAt        time.Time       `json:"finalized_at"`
	DocumentsProcessed int             `json:"documents_processed"`
	Identities         []string        `json:"identities"`
	Topics             []LabeledItem   `json:"topics"`
	Entities           []LabeledItem   `json:"entities"`
	EntityCounts       map[string]int  `json:"entity_counts"`
	PartialDocuments   []DocumentIssue `json:"partial_documents,omitempty"`
}

// AppMetadata is the durable cumulative record for one application.
// Set-valued fields are kept sorted so that serialization is stable.
type AppMetadata struct {
	AppName                 string         `json:"app_name"`
	Owner                   string         `json:"owner"`
	FirstSeenAt             time.Time      `json:"first_seen_at"`
	LastUpdatedAt           time.Time      `json:"last_updated_at"`
	LastRun                 RunContext     `json:"last_run"`
	TotalDocumentsProcessed int            `json:"total_documents_processed"`
	UniqueIdentities        []string       `json:"unique_identities"`
	UniqueTopics            []LabeledItem  `json:"unique_topics"`
	UniqueEntities          []LabeledItem  `json:"unique_entities"`
	PerEntityCounts         map[string]int `json:"per_entity_counts"`
	History                 []RunContext   `json:"history"`
	LastRunSummary          *RunSummary    `json:"last_run_summary,omitempty"`
}

// NewAppMetadata returns an empty record for app
func NewAppMetadata(app string) *AppMetadata {
	return &AppMetadata{
		AppName:          app,
		UniqueIdentities: []string{},
		UniqueTopics:     []LabeledItem{},
		UniqueEntities:   []LabeledItem{},
		PerEntityCounts:  map[string]int{},
		History:          []RunContext{},
	}
}

// HasRun reports whether runID is already folded into the record
func (m *AppMetadata) HasRun(runID string) bool {
	return slices.ContainsFunc(m.History, func(r RunContext) bool { return r.RunID == runID })
}

// Normalize sorts and deduplicates set-valued fields and replaces nil
// collections with empty ones. Records read from disk may have been
// written by older or foreign tools.
func (m *AppMetadata) Normalize() {
	m.UniqueIdentities = SortedStrings(m.UniqueIdentities)
	m.UniqueTopics = SortedItems(m.UniqueTopics)
	m.UniqueEntities = SortedItems(m.UniqueEntities)
	if m.PerEntityCounts == nil {
		m.PerEntityCounts = map[string]int{}
	}
	if m.History == nil {
		m.History = []RunContext{}
	}
	slices.SortStableFunc(m.History, func(a, b RunContext) int { return cmp.Compare(a.RunID, b.RunID) })
	m.History = slices.CompactFunc(m.History, func(a, b RunContext) bool { return a.RunID == b.RunID })
}

// Clone returns a deep copy
func (m *AppMetadata) Clone() *AppMetadata {
	if m == nil {
		return nil
	}
	out := *m
	out.UniqueIdentities = slices.Clone(m.UniqueIdentities)
	out.UniqueTopics = slices.Clone(m.UniqueTopics)
	out.UniqueEntities = slices.Clone(m.UniqueEntities)
	out.History = slices.Clone(m.History)
	out.PerEntityCounts = make(map[string]int, len(m.PerEntityCounts))
	for k, v := range m.PerEntityCounts {
		out.PerEntityCounts[k] = v
	}
	if m.LastRunSummary != nil {
		s := *m.LastRunSummary
		out.LastRunSummary = &s
	}
	return &out
}

// SortedStrings returns a sorted copy of values without duplicates or blanks
func SortedStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SortedItems returns a sorted copy of items without duplicates
func SortedItems(items []LabeledItem) []LabeledItem {
	out := slices.Clone(items)
	if out == nil {
		out = []LabeledItem{}
	}
	slices.SortFunc(out, CompareLabeledItems)
	return slices.Compact(out)
}
