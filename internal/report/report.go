// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package report renders application metadata as report.json and report.pdf.
package report

import (
	"cmp"
	"encoding/json"
	"slices"

	"docguard/internal/model"
	"docguard/internal/registry"
)

// EntityCount is one row of the entity table
type EntityCount struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// FindingsSummary totals findings per category and distinct kinds per label
type FindingsSummary struct {
	ByCategory   map[string]int `json:"by_category"`
	KindsByLabel map[string]int `json:"kinds_by_label"`
}

// Report is the report.json document. The embedded metadata round-trips
// unchanged; the remaining fields are derived from it.
type Report struct {
	model.AppMetadata
	EntityCounts    []EntityCount   `json:"entity_counts"`
	FindingsSummary FindingsSummary `json:"findings_summary"`
}

// Build derives a report from metadata. categories resolves entity kinds
// to categories; kinds it does not know are reported as UNKNOWN.
func Build(meta *model.AppMetadata, categories func(kind string) (registry.Category, bool)) *Report {
	r := &Report{AppMetadata: *meta.Clone()}
	r.Normalize()

	category := func(kind string) string {
		if categories != nil {
			if c, ok := categories(kind); ok {
				return string(c)
			}
		}
		return "UNKNOWN"
	}

	r.EntityCounts = make([]EntityCount, 0, len(r.PerEntityCounts))
	r.FindingsSummary = FindingsSummary{ByCategory: map[string]int{}, KindsByLabel: map[string]int{}}
	for kind, n := range r.PerEntityCounts {
		c := category(kind)
		r.EntityCounts = append(r.EntityCounts, EntityCount{Kind: kind, Category: c, Count: n})
		r.FindingsSummary.ByCategory[c] += n
	}
	slices.SortFunc(r.EntityCounts, func(a, b EntityCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})

	for _, items := range [][]model.LabeledItem{r.UniqueEntities, r.UniqueTopics} {
		for _, item := range items {
			r.FindingsSummary.KindsByLabel[item.Label]++
		}
	}
	return r
}

// Metadata returns the metadata the report was built from
func (r *Report) Metadata() *model.AppMetadata {
	return r.AppMetadata.Clone()
}

// Topics returns unique topics grouped by label, for templates
func (r *Report) Topics() map[string][]string {
	return groupByLabel(r.UniqueTopics)
}

// Entities returns unique entities grouped by label, for templates
func (r *Report) Entities() map[string][]string {
	return groupByLabel(r.UniqueEntities)
}

func groupByLabel(items []model.LabeledItem) map[string][]string {
	out := make(map[string][]string)
	for _, item := range items {
		out[item.Label] = append(out[item.Label], item.Name)
	}
	return out
}

// Decode parses a report.json document
func Decode(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	r.Normalize()
	return &r, nil
}
