// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"cmp"
	"slices"

	"docguard/internal/model"
)

// Merge folds a run summary into existing cumulative metadata and returns
// the new record; existing is not modified and may be nil.
//
// Sets are unioned and counts summed. A summary whose run id is already in
// the history contributes nothing new, so replaying a finalize is safe.
// last_run tracks the greatest run id seen and owner the greatest run id
// that named one, so the result is independent of merge order.
func Merge(existing *model.AppMetadata, summary model.RunSummary) *model.AppMetadata {
	var out *model.AppMetadata
	if existing == nil {
		out = model.NewAppMetadata(summary.Run.AppName)
	} else {
		out = existing.Clone()
	}
	out.Normalize()

	run := summary.Run
	if out.HasRun(run.RunID) {
		return out
	}

	if out.FirstSeenAt.IsZero() || run.StartedAt.Before(out.FirstSeenAt) {
		out.FirstSeenAt = run.StartedAt
	}
	if summary.FinalizedAt.After(out.LastUpdatedAt) {
		out.LastUpdatedAt = summary.FinalizedAt
	}

	out.TotalDocumentsProcessed += summary.DocumentsProcessed
	out.UniqueIdentities = model.SortedStrings(append(out.UniqueIdentities, summary.Identities...))
	out.UniqueTopics = model.SortedItems(append(out.UniqueTopics, summary.Topics...))
	out.UniqueEntities = model.SortedItems(append(out.UniqueEntities, summary.Entities...))
	for kind, n := range summary.EntityCounts {
		out.PerEntityCounts[kind] += n
	}

	out.History = append(out.History, run)
	slices.SortFunc(out.History, func(a, b model.RunContext) int { return cmp.Compare(a.RunID, b.RunID) })

	if out.LastRun.RunID == "" || run.RunID > out.LastRun.RunID {
		out.LastRun = run
		s := summary
		out.LastRunSummary = &s
	}
	out.Owner = latestOwner(out.History, out.Owner)
	return out
}

// latestOwner returns the owner of the greatest run id that named one
func latestOwner(history []model.RunContext, fallback string) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Owner != "" {
			return history[i].Owner
		}
	}
	return fallback
}

func sortIssues(issues []model.DocumentIssue) {
	slices.SortFunc(issues, func(a, b model.DocumentIssue) int { return cmp.Compare(a.DocumentID, b.DocumentID) })
}
