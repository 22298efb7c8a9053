// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"docguard/internal/apperr"
	"docguard/internal/detector"
	"docguard/internal/model"
	"docguard/internal/registry"
	"docguard/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finding(kind string, cat registry.Category, start, end int, score float64) detector.Finding {
	return detector.Finding{Kind: kind, Category: cat, Start: start, End: end, Score: score}
}

func result(id string, findings ...detector.Finding) detector.Result {
	return detector.Result{DocumentID: id, Findings: findings}
}

func newAggregator(t *testing.T) (*Aggregator, *store.CacheStore) {
	t.Helper()
	s := store.New(t.TempDir())
	return New(s), s
}

func TestBeginRun_Validation(t *testing.T) {
	a, _ := newAggregator(t)
	for _, app := range []string{"", "  ", "../etc", "a/b"} {
		_, err := a.BeginRun(app, "owner", "")
		assert.True(t, apperr.IsValidation(err), app)
	}
}

func TestBeginRun_RunIDsAreOrderedAndUnique(t *testing.T) {
	a, _ := newAggregator(t)
	prev := ""
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		run, err := a.BeginRun("demo", "alice", "")
		require.NoError(t, err)
		id := run.Context().RunID
		assert.Greater(t, id, prev)
		assert.False(t, seen[id])
		seen[id] = true
		prev = id
	}
}

func TestBeginRun_RedrawsCollidingIDs(t *testing.T) {
	a, _ := newAggregator(t)
	first := uuid.MustParse("01890000-0000-7000-8000-000000000002")
	older := uuid.MustParse("01890000-0000-7000-8000-000000000001")
	later := uuid.MustParse("01890000-0000-7000-8000-000000000003")
	ids := []uuid.UUID{first, first, older, later}
	a.newID = func() (uuid.UUID, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	r1, err := a.BeginRun("demo", "", "")
	require.NoError(t, err)
	r2, err := a.BeginRun("demo", "", "")
	require.NoError(t, err)
	assert.Equal(t, first.String(), r1.Context().RunID)
	assert.Equal(t, later.String(), r2.Context().RunID)
}

func TestBeginRun_IDFailureIsNotValidation(t *testing.T) {
	a, _ := newAggregator(t)
	a.newID = func() (uuid.UUID, error) { return uuid.Nil, errors.New("entropy exhausted") }

	_, err := a.BeginRun("demo", "", "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "entropy exhausted")
	_, classified := apperr.KindOf(err)
	assert.False(t, classified)
}

func TestRun_StateMachine(t *testing.T) {
	a, _ := newAggregator(t)
	run, err := a.BeginRun("demo", "alice", "nightly")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, run.State())

	_, err = run.RecordDocument(result("d1"), nil)
	require.NoError(t, err)
	assert.Equal(t, StateAccumulating, run.State())

	_, err = a.FinalizeRun(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, run.State())

	_, err = run.RecordDocument(result("d2"), nil)
	assert.True(t, apperr.IsValidation(err))
	_, err = a.FinalizeRun(context.Background(), run)
	assert.True(t, apperr.IsValidation(err))
}

func TestRecordDocument_IdempotentPerDocument(t *testing.T) {
	a, _ := newAggregator(t)
	run, err := a.BeginRun("demo", "alice", "")
	require.NoError(t, err)

	r := result("d1", finding("US-SSN", registry.CategoryPII, 0, 11, 1.0))
	added, err := run.RecordDocument(r, []string{"bob"})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = run.RecordDocument(r, []string{"bob"})
	require.NoError(t, err)
	assert.False(t, added)

	s := run.Summary(time.Time{})
	assert.Equal(t, 1, s.DocumentsProcessed)
	assert.Equal(t, 1, s.EntityCounts["US-SSN"])

	_, err = run.RecordDocument(detector.Result{}, nil)
	assert.True(t, apperr.IsValidation(err))
}

func TestRecordDocument_DeduplicatesSpans(t *testing.T) {
	a, _ := newAggregator(t)
	run, err := a.BeginRun("demo", "", "")
	require.NoError(t, err)

	_, err = run.RecordDocument(result("d1",
		finding("PERSON-NAME", registry.CategoryPII, 4, 12, 0.5),
		finding("PERSON-NAME", registry.CategoryPII, 4, 12, 0.9),
		finding("PERSON-NAME", registry.CategoryPII, 20, 28, 0.5),
	), nil)
	require.NoError(t, err)

	s := run.Summary(time.Time{})
	assert.Equal(t, 2, s.EntityCounts["PERSON-NAME"])
	assert.Equal(t, []model.LabeledItem{
		{Name: "PERSON-NAME", Label: "HIGH"},
		{Name: "PERSON-NAME", Label: "MEDIUM"},
	}, s.Entities)
}

func TestRecordDocument_TopicAdmission(t *testing.T) {
	a, _ := newAggregator(t)
	run, err := a.BeginRun("demo", "", "")
	require.NoError(t, err)

	_, err = run.RecordDocument(result("d1",
		finding("MEDICAL-ADVICE", registry.CategoryTopic, 0, 40, 0.55),
		finding("LEGAL-ADVICE", registry.CategoryTopic, 0, 40, 0.65),
		finding("EMAIL-ADDRESS", registry.CategoryPII, 0, 5, 0.2),
	), nil)
	require.NoError(t, err)

	s := run.Summary(time.Time{})
	assert.Equal(t, []model.LabeledItem{{Name: "LEGAL-ADVICE", Label: "MEDIUM"}}, s.Topics)
	assert.NotContains(t, s.EntityCounts, "MEDICAL-ADVICE")
	assert.Equal(t, []model.LabeledItem{{Name: "EMAIL-ADDRESS", Label: "LOW"}}, s.Entities)
}

func TestRecordDocument_PerKindScales(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	custom := &scaleStub{reg: reg, overrides: map[string]registry.Scale{"PERSON-NAME": {Low: 0.5, High: 0.95}}}

	a := New(store.New(t.TempDir()), WithScales(custom))
	run, err := a.BeginRun("demo", "", "")
	require.NoError(t, err)
	_, err = run.RecordDocument(result("d1", finding("PERSON-NAME", registry.CategoryPII, 0, 8, 0.9)), nil)
	require.NoError(t, err)

	assert.Equal(t, []model.LabeledItem{{Name: "PERSON-NAME", Label: "MEDIUM"}}, run.Summary(time.Time{}).Entities)
}

type scaleStub struct {
	reg       *registry.Registry
	overrides map[string]registry.Scale
}

func (s *scaleStub) ConfidenceScale(kind string) (float64, float64) {
	if o, ok := s.overrides[kind]; ok {
		return o.Low, o.High
	}
	return s.reg.ConfidenceScale(kind)
}

func TestSummary_RecordsPartialDocuments(t *testing.T) {
	a, _ := newAggregator(t)
	run, err := a.BeginRun("demo", "", "")
	require.NoError(t, err)

	_, err = run.RecordDocument(detector.Result{
		DocumentID: "slow",
		Failures:   []detector.Failure{{Recognizer: "model:keyword-topic", Message: "deadline", TimedOut: true}},
	}, nil)
	require.NoError(t, err)
	_, err = run.RecordDocument(detector.Result{DocumentID: "big", Truncated: true}, nil)
	require.NoError(t, err)
	_, err = run.RecordDocument(result("ok"), nil)
	require.NoError(t, err)

	s := run.Summary(time.Time{})
	require.Len(t, s.PartialDocuments, 2)
	assert.Equal(t, "big", s.PartialDocuments[0].DocumentID)
	assert.True(t, s.PartialDocuments[0].Truncated)
	assert.Equal(t, "slow", s.PartialDocuments[1].DocumentID)
	assert.True(t, s.PartialDocuments[1].Failures[0].TimedOut)
}

func TestRecordDocument_OrderIndependent(t *testing.T) {
	a, _ := newAggregator(t)
	docs := []detector.Result{
		result("a", finding("US-SSN", registry.CategoryPII, 0, 11, 1.0)),
		result("b", finding("CREDIT-CARD", registry.CategoryFinancial, 3, 19, 1.0), finding("US-SSN", registry.CategoryPII, 0, 11, 1.0)),
		result("c", finding("FINANCIAL-ADVICE", registry.CategoryTopic, 0, 30, 0.9)),
	}

	summarize := func(order []int) model.RunSummary {
		run, err := a.BeginRun("demo", "", "")
		require.NoError(t, err)
		var wg sync.WaitGroup
		for _, i := range order {
			wg.Add(1)
			go func(r detector.Result) {
				defer wg.Done()
				_, err := run.RecordDocument(r, []string{"id-" + r.DocumentID})
				assert.NoError(t, err)
			}(docs[i])
		}
		wg.Wait()
		s := run.Summary(time.Unix(0, 0))
		s.Run = model.RunContext{}
		return s
	}

	if diff := cmp.Diff(summarize([]int{0, 1, 2}), summarize([]int{2, 1, 0})); diff != "" {
		t.Errorf("summary depends on order (-want +got):\n%s", diff)
	}
}

func summaryFor(id, app string, started time.Time, docs int, identities ...string) model.RunSummary {
	return model.RunSummary{
		Run:                model.RunContext{RunID: id, AppName: app, Owner: "alice", StartedAt: started},
		FinalizedAt:        started.Add(time.Minute),
		DocumentsProcessed: docs,
		Identities:         identities,
		Entities:           []model.LabeledItem{{Name: "US-SSN", Label: "HIGH"}},
		Topics:             []model.LabeledItem{{Name: id + "-topic", Label: "MEDIUM"}},
		EntityCounts:       map[string]int{"US-SSN": docs},
	}
}

func TestMerge_Commutative(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := summaryFor("run-a", "demo", t0, 3, "alice", "bob")
	b := summaryFor("run-b", "demo", t0.Add(time.Hour), 2, "bob", "carol")

	ab := Merge(Merge(nil, a), b)
	ba := Merge(Merge(nil, b), a)

	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Errorf("merge is order dependent (-ab +ba):\n%s", diff)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, ab.UniqueIdentities)
	assert.Equal(t, 5, ab.PerEntityCounts["US-SSN"])
	assert.Equal(t, "run-b", ab.LastRun.RunID)
	assert.Equal(t, t0, ab.FirstSeenAt)
}

func TestMerge_OwnerIndependentOfOrder(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := summaryFor("run-a", "demo", t0, 1)
	a.Run.Owner = "x"
	c := summaryFor("run-c", "demo", t0, 1)
	c.Run.Owner = "z"
	b := summaryFor("run-d", "demo", t0, 1)
	b.Run.Owner = ""

	orders := [][]model.RunSummary{{a, c, b}, {b, a, c}, {c, b, a}}
	for _, order := range orders {
		var meta *model.AppMetadata
		for _, s := range order {
			meta = Merge(meta, s)
		}
		assert.Equal(t, "z", meta.Owner)
		assert.Equal(t, "run-d", meta.LastRun.RunID)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := summaryFor("run-a", "demo", t0, 3, "alice")

	once := Merge(nil, s)
	twice := Merge(once, s)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("replayed merge changed state:\n%s", diff)
	}
	assert.Len(t, twice.History, 1)
}

func TestMerge_DoesNotMutateExisting(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	base := Merge(nil, summaryFor("run-a", "demo", t0, 1, "alice"))
	snapshot := base.Clone()
	_ = Merge(base, summaryFor("run-b", "demo", t0, 1, "bob"))
	assert.Empty(t, cmp.Diff(snapshot, base))
}

func TestFinalizeRun_SequentialRuns(t *testing.T) {
	a, s := newAggregator(t)
	ctx := context.Background()

	for runIdx, docs := range []int{3, 2} {
		run, err := a.BeginRun("demo", "alice", fmt.Sprintf("run %d", runIdx))
		require.NoError(t, err)
		for i := 0; i < docs; i++ {
			_, err := run.RecordDocument(result(fmt.Sprintf("doc-%d", i),
				finding("EMAIL-ADDRESS", registry.CategoryPII, 0, 10, 1.0)), []string{"alice"})
			require.NoError(t, err)
		}
		_, err = a.FinalizeRun(ctx, run)
		require.NoError(t, err)
	}

	meta, found, err := s.Load("demo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5, meta.TotalDocumentsProcessed)
	assert.Len(t, meta.History, 2)
	assert.Equal(t, 5, meta.PerEntityCounts["EMAIL-ADDRESS"])
	assert.Equal(t, "run 1", meta.LastRun.Description)
	assert.Equal(t, []model.LabeledItem{{Name: "EMAIL-ADDRESS", Label: "HIGH"}}, meta.UniqueEntities)
	require.NotNil(t, meta.LastRunSummary)
	assert.Equal(t, 2, meta.LastRunSummary.DocumentsProcessed)
}

type flakyStore struct {
	failures int
	inner    Store
}

func (f *flakyStore) MergeAndSave(ctx context.Context, app string, merge store.MergeFunc) (*model.AppMetadata, error) {
	if f.failures > 0 {
		f.failures--
		return nil, apperr.Persistence("store.merge_and_save", app, errors.New("disk full"))
	}
	return f.inner.MergeAndSave(ctx, app, merge)
}

func TestFinalizeRun_RetryAfterPersistenceError(t *testing.T) {
	fs := &flakyStore{failures: 1, inner: store.New(t.TempDir())}
	a := New(fs)

	run, err := a.BeginRun("demo", "alice", "")
	require.NoError(t, err)
	_, err = run.RecordDocument(result("d1"), nil)
	require.NoError(t, err)

	_, err = a.FinalizeRun(context.Background(), run)
	require.Error(t, err)
	assert.True(t, apperr.IsPersistence(err))
	assert.Equal(t, StateAccumulating, run.State())
	assert.Equal(t, 1, run.Documents())

	meta, err := a.FinalizeRun(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalDocumentsProcessed)
}

func TestFinalizeRun_ConcurrentRunsSameApp(t *testing.T) {
	a, s := newAggregator(t)
	const n = 10

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := a.BeginRun("demo", "alice", "")
			if !assert.NoError(t, err) {
				return
			}
			_, err = run.RecordDocument(result("d"), []string{fmt.Sprintf("user-%d", i)})
			assert.NoError(t, err)
			_, err = a.FinalizeRun(context.Background(), run)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	meta, _, err := s.Load("demo")
	require.NoError(t, err)
	assert.Len(t, meta.UniqueIdentities, n)
	assert.Len(t, meta.History, n)
	assert.Equal(t, n, meta.TotalDocumentsProcessed)
}
