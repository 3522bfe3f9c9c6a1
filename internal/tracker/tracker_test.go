package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrack/internal/quarter"
	"qtrack/internal/store"
	"qtrack/internal/types"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(time.Hour)
		return t
	}
}

func newTestStore(t *testing.T, start time.Time) *store.Store {
	t.Helper()
	st, err := store.New(context.Background(), store.DriverCGO, filepath.Join(t.TempDir(), "test.db"),
		store.WithClock(stepClock(start)), store.WithLogger(quietLogger))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st := newTestStore(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC))
	svc := New(st,
		WithAuditor(st),
		WithLogger(quietLogger),
		WithClock(func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }))
	return svc, st
}

func add(t *testing.T, svc *Service, group, label string, status types.Status) *types.Entry {
	t.Helper()
	e, err := svc.AddEntry(context.Background(), AddRequest{
		Kind:         types.KindProject,
		GroupKey:     group,
		QuarterLabel: label,
		Status:       status,
		Assignees:    []string{"ana"},
		Notes:        group + " notes",
		Actor:        "tester",
	})
	require.NoError(t, err)
	return e
}

func carry(src, dst string) CarryRequest {
	s, _ := quarter.Parse(src)
	d, _ := quarter.Parse(dst)
	return CarryRequest{
		Kind:          types.KindProject,
		SourceQuarter: src,
		SourceYear:    s.Year,
		TargetQuarter: dst,
		TargetYear:    d.Year,
		Actor:         "tester",
	}
}

func TestCarryForwardScenario(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// Acme first seen Jan 2, Beta later
	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	add(t, svc, "Beta", "Q1-2025", types.StatusProgress)
	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)

	res, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.CopiedCount)
	assert.Equal(t, []string{"Acme", "Beta"}, res.CopiedNames)
	assert.Equal(t, "Carried forward 2 project(s): Acme, Beta", res.Message())

	groups, err := svc.Groups(ctx, types.KindProject, "Q2-2025")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Entries, 1)
	assert.Len(t, groups[1].Entries, 1)
	assert.Equal(t, "Acme", groups[0].Key)
	assert.Equal(t, "Beta", groups[1].Key)
	assert.Less(t, groups[0].SequenceNumber, groups[1].SequenceNumber)

	for _, e := range res.Entries {
		assert.Equal(t, "Q2-2025", e.QuarterLabel)
		assert.Equal(t, 2025, e.Year)
	}

	src, err := st.FindEntries(ctx, types.EntryFilter{QuarterLabel: "Q1-2025"})
	require.NoError(t, err)
	assert.Len(t, src, 4, "source entries stay in place")
}

func TestCarryForwardOneEntryPerGroup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	add(t, svc, "Beta", "Q1-2025", types.StatusProgress)

	res, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.CopiedCount)
	assert.Equal(t, []string{"Acme", "Beta"}, res.CopiedNames)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, 1, res.Entries[0].SequenceNumber)
	assert.Equal(t, 2, res.Entries[1].SequenceNumber)
}

func TestCarryForwardExcludesDoneAndResetsStatus(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	progress := add(t, svc, "Acme", "Q4-2024", types.StatusProgress)
	done := add(t, svc, "Beta", "Q4-2024", types.StatusDone)
	hold := add(t, svc, "Gamma", "Q4-2024", types.StatusHold)
	unset := add(t, svc, "Delta", "Q4-2024", types.StatusUnset)

	res, err := svc.CarryForward(ctx, carry("Q4-2024", "Q1-2025"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.CopiedCount)
	assert.Equal(t, []string{"Acme", "Gamma", "Delta"}, res.CopiedNames)

	byOrigin := map[string]*types.Entry{}
	for _, e := range res.Entries {
		byOrigin[e.CarriedFrom] = e
	}
	assert.NotContains(t, byOrigin, done.ID)
	for _, from := range []*types.Entry{progress, hold, unset} {
		clone, ok := byOrigin[from.ID]
		require.True(t, ok, "%s not carried", from.GroupKey)
		assert.Equal(t, from.GroupKey, clone.GroupKey)
		assert.Equal(t, types.StatusUnset, clone.Status)
		assert.NotEqual(t, from.ID, clone.ID)
		assert.True(t, clone.CreatedAt.After(from.CreatedAt))
		assert.Equal(t, from.Assignees, clone.Assignees)
		assert.Equal(t, from.Notes, clone.Notes)
	}

	// sources keep their status
	got, err := st.GetEntry(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusHold, got.Status)
	assert.Equal(t, "Q4-2024", got.QuarterLabel)
}

func TestCarryForwardMergesGroupPayload(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	early := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	requests := []AddRequest{
		{GroupKey: "Acme", Status: types.StatusProgress, Assignees: []string{"ana"}, Notes: "phase 1", StartDate: &late},
		{GroupKey: "Acme", Status: types.StatusDone, Assignees: []string{"zed"}, Notes: "finished part"},
		{GroupKey: "Acme", Status: types.StatusHold, Assignees: []string{"ben", "ana"}, Notes: "phase 2", StartDate: &early, EndDate: &end},
	}
	var latest *types.Entry
	for _, req := range requests {
		req.Kind = types.KindProject
		req.QuarterLabel = "Q1-2025"
		e, err := svc.AddEntry(ctx, req)
		require.NoError(t, err)
		if req.Status != types.StatusDone {
			latest = e
		}
	}

	res, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	require.Equal(t, 1, res.CopiedCount)

	clone := res.Entries[0]
	assert.Equal(t, "Acme", clone.GroupKey)
	assert.Equal(t, types.StatusUnset, clone.Status)
	assert.Equal(t, []string{"ana", "ben"}, clone.Assignees)
	assert.Equal(t, "phase 2", clone.Notes)
	assert.Equal(t, latest.ID, clone.CarriedFrom)
	require.NotNil(t, clone.StartDate)
	assert.True(t, early.Equal(*clone.StartDate))
	assert.Nil(t, clone.EndDate)
}

func TestCarryForwardKeepsSourcePrecedence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	add(t, svc, "Beta", "Q1-2025", types.StatusProgress)
	add(t, svc, "Gamma", "Q1-2025", types.StatusHold)

	// target already holds Beta and an unrelated group
	existingBeta := add(t, svc, "Beta", "Q2-2025", types.StatusProgress)
	add(t, svc, "Omega", "Q2-2025", types.StatusProgress)

	res, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)

	seq := map[string]int{}
	for _, e := range res.Entries {
		seq[e.GroupKey] = e.SequenceNumber
	}
	assert.Equal(t, existingBeta.SequenceNumber, seq["Beta"], "existing group reuses its number")
	assert.Equal(t, 3, seq["Acme"])
	assert.Equal(t, 4, seq["Gamma"])
	assert.Less(t, seq["Acme"], seq["Gamma"])
}

func TestCarryForwardTwiceDoesNotDuplicate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	add(t, svc, "Beta", "Q1-2025", types.StatusHold)

	first, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	assert.Equal(t, 2, first.CopiedCount)

	second, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.CopiedCount)
	assert.Equal(t, 2, second.SkippedCount)
	assert.Empty(t, second.CopiedNames)
	assert.Equal(t, "Nothing to carry forward (2 already carried)", second.Message())

	// a new group added to the source after the first run is still carried,
	// a new entry of an already carried group is not
	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	add(t, svc, "Gamma", "Q1-2025", types.StatusProgress)
	third, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	assert.Equal(t, 1, third.CopiedCount)
	assert.Equal(t, []string{"Gamma"}, third.CopiedNames)

	target, err := st.FindEntries(ctx, types.EntryFilter{QuarterLabel: "Q2-2025"})
	require.NoError(t, err)
	assert.Len(t, target, 3)
}

func TestCarryForwardSkipsGroupWhenCarriedEntryIsDone(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	latest := add(t, svc, "Acme", "Q1-2025", types.StatusProgress)

	first, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	require.Equal(t, 1, first.CopiedCount)
	assert.Equal(t, latest.ID, first.Entries[0].CarriedFrom)

	_, err = svc.ApplyStatus(ctx, []string{latest.ID}, types.StatusDone, "tester")
	require.NoError(t, err)

	second, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.CopiedCount)
	assert.Equal(t, 1, second.SkippedCount)

	target, err := st.FindEntries(ctx, types.EntryFilter{Kind: types.KindProject, QuarterLabel: "Q2-2025", GroupKey: "Acme"})
	require.NoError(t, err)
	assert.Len(t, target, 1)
}

func TestCarryForwardNothingToDo(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	add(t, svc, "Acme", "Q1-2025", types.StatusDone)

	res, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	assert.Zero(t, res.CopiedCount)
	assert.Empty(t, res.CopiedNames)
	assert.Equal(t, "Nothing to carry forward", res.Message())
}

func TestCarryForwardValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := carry("Q1-2025", "Q2-2025")
	req.SourceQuarter = "Q1/2025"
	_, err := svc.CarryForward(ctx, req)
	assert.ErrorIs(t, err, quarter.ErrInvalidLabel)

	req = carry("Q1-2025", "Q2-2025")
	req.TargetYear = 2026
	_, err = svc.CarryForward(ctx, req)
	assert.ErrorIs(t, err, quarter.ErrInvalidLabel)

	_, err = svc.CarryForward(ctx, carry("Q1-2025", "Q1-2025"))
	assert.ErrorIs(t, err, ErrSameQuarter)

	req = carry("Q1-2025", "Q2-2025")
	req.Kind = "invoice"
	_, err = svc.CarryForward(ctx, req)
	assert.ErrorIs(t, err, types.ErrInvalidKind)
}

func TestCarryForwardRecordsAudit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	res, err := svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)

	recs, err := st.ListAudit(ctx, "Q2-2025", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.ActionCarryForward, recs[0].Action)
	assert.Equal(t, "tester", recs[0].Actor)

	recs, err = st.ListAudit(ctx, res.Entries[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Details, "carried from")
}

// failingStore wraps a real store and fails selected operations.
type failingStore struct {
	*store.Store
	insertsBeforeFail int
	inserts           int
	failUpdateID      string
}

var errDiskFull = &store.StorageError{Op: "insert entry", Err: errors.New("disk full")}

func (f *failingStore) InsertEntry(ctx context.Context, e *types.Entry) error {
	if f.insertsBeforeFail >= 0 && f.inserts >= f.insertsBeforeFail {
		return errDiskFull
	}
	f.inserts++
	return f.Store.InsertEntry(ctx, e)
}

func (f *failingStore) UpdateStatus(ctx context.Context, id string, status types.Status) error {
	if id == f.failUpdateID {
		return &store.StorageError{Op: "update status", Err: errors.New("disk full")}
	}
	return f.Store.UpdateStatus(ctx, id, status)
}

func TestCarryForwardStorageErrorReturnsPartialResult(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	add(t, svc, "Beta", "Q1-2025", types.StatusProgress)
	add(t, svc, "Gamma", "Q1-2025", types.StatusProgress)

	failing := New(&failingStore{Store: st, insertsBeforeFail: 1}, WithLogger(quietLogger))
	res, err := failing.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))
	require.NotNil(t, res)
	assert.Equal(t, 1, res.CopiedCount)
	assert.Equal(t, []string{"Acme"}, res.CopiedNames)

	// a later healthy run finishes the job without duplicating Acme
	res, err = svc.CarryForward(ctx, carry("Q1-2025", "Q2-2025"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.CopiedCount)
	assert.Equal(t, 1, res.SkippedCount)
}

func TestApplyStatusPartialSuccess(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	x := add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	z := add(t, svc, "Beta", "Q1-2025", types.StatusHold)

	res, err := svc.ApplyStatus(ctx, []string{x.ID, "missing-y", z.ID}, types.StatusDone, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedCount)
	assert.Equal(t, []string{"missing-y"}, res.FailedIDs())
	assert.Equal(t, ReasonNotFound, res.Failed[0].Reason)
	assert.Equal(t, "Updated 2 entries to Done, 1 failed", res.Message())

	for _, id := range []string{x.ID, z.ID} {
		e, err := st.GetEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDone, e.Status)
	}

	// idempotent
	again, err := svc.ApplyStatus(ctx, []string{x.ID, "missing-y", z.ID}, types.StatusDone, "tester")
	require.NoError(t, err)
	assert.Equal(t, res.UpdatedCount, again.UpdatedCount)
	assert.Equal(t, res.FailedIDs(), again.FailedIDs())
}

func TestApplyStatusDeduplicatesAndValidates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	x := add(t, svc, "Acme", "Q1-2025", types.StatusProgress)

	res, err := svc.ApplyStatus(ctx, []string{x.ID, x.ID}, types.StatusHold, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	assert.Equal(t, "Updated 1 entry to Hold", res.Message())

	_, err = svc.ApplyStatus(ctx, []string{x.ID}, "Archived", "")
	assert.ErrorIs(t, err, types.ErrInvalidStatus)

	res, err = svc.ApplyStatus(ctx, nil, types.StatusDone, "")
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedCount)
	assert.Empty(t, res.Failed)
}

func TestApplyStatusStorageErrorStopsBatch(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	a := add(t, svc, "Acme", "Q1-2025", types.StatusProgress)
	b := add(t, svc, "Beta", "Q1-2025", types.StatusProgress)
	c := add(t, svc, "Gamma", "Q1-2025", types.StatusProgress)

	failing := New(&failingStore{Store: st, insertsBeforeFail: -1, failUpdateID: b.ID}, WithLogger(quietLogger))
	res, err := failing.ApplyStatus(ctx, []string{a.ID, b.ID, c.ID}, types.StatusDone, "")
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))
	assert.Equal(t, 1, res.UpdatedCount)

	got, err := st.GetEntry(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProgress, got.Status)
}

type brokenAuditor struct{ calls int }

func (b *brokenAuditor) Record(context.Context, types.AuditRecord) error {
	b.calls++
	return errors.New("audit backend down")
}

func TestAuditFailureDoesNotFailOperations(t *testing.T) {
	st := newTestStore(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC))
	auditor := &brokenAuditor{}
	svc := New(st, WithAuditor(auditor), WithLogger(quietLogger))
	ctx := context.Background()

	e, err := svc.AddEntry(ctx, AddRequest{Kind: types.KindWorkOrder, GroupKey: "Acme", QuarterLabel: "Q1-2025"})
	require.NoError(t, err)

	res, err := svc.ApplyStatus(ctx, []string{e.ID}, types.StatusHold, "ana")
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	assert.Equal(t, 2, auditor.calls)
}

func TestAddEntryDefaultsToCurrentQuarter(t *testing.T) {
	svc, _ := newTestService(t)

	e, err := svc.AddEntry(context.Background(), AddRequest{Kind: types.KindDailyLog, GroupKey: "  Acme  "})
	require.NoError(t, err)
	assert.Equal(t, "Q1-2025", e.QuarterLabel)
	assert.Equal(t, 2025, e.Year)
	assert.Equal(t, "Acme", e.GroupKey)
	assert.Equal(t, 1, e.SequenceNumber)

	_, err = svc.AddEntry(context.Background(), AddRequest{Kind: types.KindDailyLog, GroupKey: "Acme", QuarterLabel: "Q5-2025"})
	assert.ErrorIs(t, err, quarter.ErrInvalidLabel)
}

func TestAllocateSequenceThroughService(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	add(t, svc, "Acme", "Q3-2025", types.StatusProgress)
	add(t, svc, "Beta", "Q3-2025", types.StatusProgress)

	n, err := svc.AllocateSequence(ctx, types.KindProject, "Q3-2025", "Beta")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.AllocateSequence(ctx, types.KindProject, "Q3-2025", "Gamma")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = svc.AllocateSequence(ctx, types.KindProject, "Q3 2025", "Gamma")
	assert.ErrorIs(t, err, quarter.ErrInvalidLabel)
}
