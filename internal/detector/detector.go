// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package detector

import (
	"context"
	"sort"

	"docguard/internal/registry"
)

// Document is one unit of ingested text handed over by a loader
type Document struct {
	ID   string
	Text string

	// SourceMetadata is loader-supplied context (path, page count, bucket, ...)
	SourceMetadata map[string]string

	// Identities are the authorized group identities resolved for the document
	Identities []string
}

// Finding is one detection instance. Start and End are byte offsets into the
// analyzed text. Findings are never mutated after creation.
type Finding struct {
	Kind       string            `json:"entity_kind"`
	Category   registry.Category `json:"category"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Score      float64           `json:"raw_score"`
	DocumentID string            `json:"source_document_id"`
	Recognizer string            `json:"recognizer"`
}

// Span identifies a finding for de-duplication
type Span struct {
	Kind       string
	Start, End int
}

// Span returns the de-duplication key of the finding
func (f Finding) Span() Span {
	return Span{Kind: f.Kind, Start: f.Start, End: f.End}
}

// Recognizer finds spans of requested entity kinds in text
type Recognizer interface {
	// Name identifies the recognizer in logs and failure reports
	Name() string

	// Analyze returns findings for the requested kinds only. Kinds the
	// recognizer cannot produce are ignored, not treated as errors.
	Analyze(ctx context.Context, documentID, text string, kinds KindSet) ([]Finding, error)
}

// KindSet is the set of entity kinds requested for one analysis pass
type KindSet map[string]registry.EntityKind

// NewKindSet builds a set from kinds
func NewKindSet(kinds ...registry.EntityKind) KindSet {
	set := make(KindSet, len(kinds))
	for _, k := range kinds {
		set[k.Name] = k
	}
	return set
}

// Has reports whether name was requested
func (s KindSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// ByMatcher returns the requested kinds of one matcher type, sorted by name
func (s KindSet) ByMatcher(m registry.MatcherType) []registry.EntityKind {
	var out []registry.EntityKind
	for _, k := range s {
		if k.Matcher == m {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SortFindings orders findings by position, then kind
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Kind < b.Kind
	})
}
