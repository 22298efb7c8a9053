// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"context"

	"docguard/internal/detector"
	"docguard/internal/registry"
)

// Name is the recognizer name reported on findings
const Name = "pattern"

// Recognizer applies the regex patterns of every requested regex kind.
// Regex matches are deterministic, so findings carry the pattern's score,
// which is 1.0 unless the catalog encodes a discount.
type Recognizer struct{}

// NewRecognizer creates a pattern recognizer
func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

// Name implements detector.Recognizer
func (r *Recognizer) Name() string {
	return Name
}

// Analyze implements detector.Recognizer
func (r *Recognizer) Analyze(ctx context.Context, documentID, text string, kinds detector.KindSet) ([]detector.Finding, error) {
	var findings []detector.Finding

	for _, kind := range kinds.ByMatcher(registry.MatcherRegex) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		findings = append(findings, r.analyzeKind(documentID, text, kind)...)
	}

	detector.SortFindings(findings)
	return findings, nil
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// analyzeKind tries the kind's patterns in registration order. A span
// already claimed by an earlier pattern is not claimed again.
func (r *Recognizer) analyzeKind(documentID, text string, kind registry.EntityKind) []detector.Finding {
	check := checks[kind.Validate]

	var claimed []span
	var findings []detector.Finding

	for _, p := range kind.Patterns {
		re := p.Compiled()
		if re == nil {
			continue
		}

		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*p.Group], loc[2*p.Group+1]
			if start < 0 || start == end {
				continue
			}

			s := span{start, end}
			taken := false
			for _, c := range claimed {
				if c.overlaps(s) {
					taken = true
					break
				}
			}
			if taken {
				continue
			}

			if check != nil && !check(text[start:end]) {
				continue
			}

			claimed = append(claimed, s)
			findings = append(findings, detector.Finding{
				Kind:       kind.Name,
				Category:   kind.Category,
				Start:      start,
				End:        end,
				Score:      p.Score,
				DocumentID: documentID,
				Recognizer: Name,
			})
		}
	}

	return findings
}
