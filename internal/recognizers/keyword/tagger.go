// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package keyword

import (
	"context"
	"regexp"
	"strings"

	"docguard/internal/recognizers/model"
)

// PersonLabel is the label emitted by the name tagger
const PersonLabel = "PERSON"

var (
	titledName  = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+(\p{Lu}\p{Ll}+(?:\s+\p{Lu}\p{Ll}+)?)`)
	capitalized = regexp.MustCompile(`\b\p{Lu}\p{Ll}+\b`)
)

// NameTagger is a heuristic named-entity predictor for person names. A
// capitalized pair scores by how many of its parts are known names; a
// formal title raises confidence.
type NameTagger struct {
	db *nameDatabases
}

// NewNameTagger creates a name tagger backed by the embedded name lists
func NewNameTagger() (*NameTagger, error) {
	db, err := loadNames()
	if err != nil {
		return nil, err
	}
	return &NameTagger{db: db}, nil
}

// Predict implements model.Predictor
func (t *NameTagger) Predict(ctx context.Context, text string, labels []string) ([]model.Prediction, error) {
	if !wants(labels, PersonLabel) {
		return nil, nil
	}

	var out []model.Prediction
	var claimed [][2]int
	free := func(start, end int) bool {
		for _, c := range claimed {
			if start < c[1] && c[0] < end {
				return false
			}
		}
		return true
	}

	for _, loc := range titledName.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2], loc[3]
		score := 0.85
		if first, _, _ := strings.Cut(text[start:end], " "); t.db.first[strings.ToLower(first)] {
			score = 0.95
		}
		claimed = append(claimed, [2]int{start, end})
		out = append(out, model.Prediction{Label: PersonLabel, Start: start, End: end, Score: score})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// adjacent capitalized words, scanned pairwise so "Contact John Smith"
	// still yields "John Smith"
	words := capitalized.FindAllStringIndex(text, -1)
	for i := 0; i+1 < len(words); i++ {
		a, b := words[i], words[i+1]
		if strings.TrimSpace(text[a[1]:b[0]]) != "" || a[1] == b[0] || !free(a[0], b[1]) {
			continue
		}
		first := t.db.first[strings.ToLower(text[a[0]:a[1]])]
		last := t.db.last[strings.ToLower(text[b[0]:b[1]])]

		var score float64
		switch {
		case first && last:
			score = 0.9
		case first:
			score = 0.7
		case last:
			score = 0.5
		default:
			continue
		}
		claimed = append(claimed, [2]int{a[0], b[1]})
		out = append(out, model.Prediction{Label: PersonLabel, Start: a[0], End: b[1], Score: score})
		i++
	}

	return out, nil
}

func wants(labels []string, label string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
