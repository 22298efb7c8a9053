// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package confidence

import (
	"strings"

	"docguard/internal/registry"
)

// Label is the governance-facing classification of a raw detection score
type Label string

const (
	High   Label = "HIGH"
	Medium Label = "MEDIUM"
	Low    Label = "LOW"
)

// Labels lists every label from most to least confident
var Labels = []Label{High, Medium, Low}

// rank orders labels so that monotonicity can be checked
func (l Label) rank() int {
	switch l {
	case High:
		return 2
	case Medium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is as confident as other
func (l Label) AtLeast(other Label) bool {
	return l.rank() >= other.rank()
}

// DefaultTopicAdmission discards noisy topic classifications
const DefaultTopicAdmission = 0.60

// Bucketizer maps raw scores to labels with per-category thresholds
type Bucketizer struct {
	scales         map[registry.Category]registry.Scale
	topicAdmission float64
}

// NewBucketizer creates a bucketizer. Categories missing from scales use
// registry.DefaultScale.
func NewBucketizer(scales map[registry.Category]registry.Scale, topicAdmission float64) *Bucketizer {
	b := &Bucketizer{
		scales:         make(map[registry.Category]registry.Scale),
		topicAdmission: topicAdmission,
	}
	for c, s := range scales {
		b.scales[c] = s
	}
	return b
}

// DefaultBucketizer uses the canonical 0.40 / 0.80 table and 0.60 topic admission
func DefaultBucketizer() *Bucketizer {
	return NewBucketizer(nil, DefaultTopicAdmission)
}

// Scale returns the thresholds used for a category
func (b *Bucketizer) Scale(category registry.Category) registry.Scale {
	if s, ok := b.scales[category]; ok {
		return s
	}
	return registry.DefaultScale
}

// Label classifies score for category. It is total over every float and
// monotonic: a higher score never yields a lower label.
func (b *Bucketizer) Label(category registry.Category, score float64) Label {
	return LabelWithScale(b.Scale(category), score)
}

// Admit reports whether a finding survives the category's admission rule.
// Only topic findings have one.
func (b *Bucketizer) Admit(category registry.Category, score float64) bool {
	if category != registry.CategoryTopic {
		return true
	}
	return score >= b.topicAdmission
}

// LabelWithScale classifies score against explicit boundaries.
// NaN and negative scores are LOW, anything at or above 1 is HIGH.
func LabelWithScale(s registry.Scale, score float64) Label {
	switch {
	case score != score: // NaN
		return Low
	case score >= s.High:
		return High
	case score >= s.Low:
		return Medium
	default:
		return Low
	}
}

// ParseLevels converts a comma-separated list of labels into a filter set.
// "all" or an empty string enables every label.
func ParseLevels(levels string) map[Label]bool {
	result := map[Label]bool{High: false, Medium: false, Low: false}

	if levels == "" || strings.EqualFold(strings.TrimSpace(levels), "all") {
		for l := range result {
			result[l] = true
		}
		return result
	}

	for _, level := range strings.Split(levels, ",") {
		l := Label(strings.ToUpper(strings.TrimSpace(level)))
		if _, ok := result[l]; ok {
			result[l] = true
		}
	}
	return result
}
