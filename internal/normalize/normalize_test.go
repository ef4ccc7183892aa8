package normalize_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/i18n"
	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/normalize"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

type fakeSource struct {
	records []model.SourceRecord
	err     error
	from    time.Time
	till    time.Time
}

func (f *fakeSource) ListEntries(_ context.Context, from, till time.Time, _ *int64) ([]model.SourceRecord, error) {
	f.from, f.till = from, till
	return f.records, f.err
}

type fakeItems struct {
	mu    sync.Mutex
	items map[int64]model.WorkItem
	err   error
	calls [][]int64
}

func (f *fakeItems) ListWorkItems(_ context.Context, ids []int64) (map[int64]model.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	out := map[int64]model.WorkItem{}
	for _, id := range ids {
		if it, ok := f.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

type fakeLedger struct {
	published map[int64]bool
	err       error
}

func (f *fakeLedger) IsPublished(_ context.Context, ids []int64) (map[int64]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[int64]bool{}
	for _, id := range ids {
		if f.published[id] {
			out[id] = true
		}
	}
	return out, nil
}

func secs(n int64) *int64 { return &n }

func rec(id int64, desc string, d *int64) model.SourceRecord {
	return model.SourceRecord{ID: id, WorkspaceID: 1, Description: desc, Duration: d}
}

func TestParseDescription(t *testing.T) {
	tests := []struct {
		in      string
		id      int64
		hasID   bool
		comment string
	}{
		{"#100 review PR", 100, true, "review PR"},
		{"fix #42 bug", 42, true, "fix bug"},
		{"deploy #7", 7, true, "deploy"},
		{"#1 first #2 second", 1, true, "first #2 second"},
		{"  no token here ", 0, false, "no token here"},
		{"#abc", 0, false, "#abc"},
		{"", 0, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, comment := normalize.ParseDescription(tt.in)
			if tt.hasID {
				require.NotNil(t, id)
				assert.Equal(t, tt.id, *id)
			} else {
				assert.Nil(t, id)
			}
			assert.Equal(t, tt.comment, comment)
		})
	}
}

func TestMergeSumsDurations(t *testing.T) {
	entries := normalize.Merge([]model.SourceRecord{
		rec(1, "#42 fix bug", secs(1800)),
		rec(2, "#42 fix bug", secs(900)),
	})
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2700), entries[0].Duration.Seconds())
	assert.Equal(t, []int64{1, 2}, entries[0].SourceIDs)
	assert.Equal(t, "42:fix bug", entries[0].Key)
}

func TestMergeKeepsFirstSeenOrder(t *testing.T) {
	entries := normalize.Merge([]model.SourceRecord{
		rec(1, "#2 b", secs(60)),
		rec(2, "no id", secs(60)),
		rec(3, "#1 a", secs(60)),
		rec(4, "#2 b", secs(60)),
	})
	require.Len(t, entries, 3)
	assert.Equal(t, "2:b", entries[0].Key)
	assert.Equal(t, "none:no id", entries[1].Key)
	assert.Equal(t, "1:a", entries[2].Key)
}

func TestMergeRunningPropagates(t *testing.T) {
	tests := []struct {
		name    string
		records []model.SourceRecord
	}{
		{"running first", []model.SourceRecord{rec(1, "#5 x", secs(-1)), rec(2, "#5 x", secs(300))}},
		{"running last", []model.SourceRecord{rec(1, "#5 x", secs(300)), rec(2, "#5 x", nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := normalize.Merge(tt.records)
			require.Len(t, entries, 1)
			assert.Equal(t, model.StatusRunning, entries[0].Status)
			assert.Equal(t, int64(300), entries[0].Duration.Seconds())
		})
	}
}

func TestResolve(t *testing.T) {
	items := map[int64]model.WorkItem{
		100: {ID: 100, Title: "Review PR", Container: model.Container{ID: 5, Name: "Core"}},
	}
	entries := normalize.Merge([]model.SourceRecord{
		rec(1, "no token", secs(60)),
		rec(2, "#999 unknown", secs(60)),
		rec(3, "#100 known", secs(60)),
		rec(77, "imported anyway", secs(60)),
		rec(8, "#100 running", nil),
	})
	msgs := i18n.NewPrinter("en")
	err := normalize.Resolve(entries, items, map[int64]bool{77: true, 8: true}, model.FilterSelection{}, msgs)
	require.NoError(t, err)

	assert.Nil(t, entries[0].WorkItemID)
	assert.Equal(t, []string{i18n.MsgNoWorkItem}, entries[0].Errors)
	assert.Equal(t, model.StatusPending, entries[0].Status)

	assert.Nil(t, entries[1].WorkItem)
	assert.Equal(t, []string{i18n.MsgWorkItemNotFound}, entries[1].Errors)

	require.NotNil(t, entries[2].WorkItem)
	assert.Equal(t, "Core", entries[2].WorkItem.Container.Name)
	assert.Empty(t, entries[2].Errors)
	assert.True(t, entries[2].Publishable())

	assert.Equal(t, model.StatusImported, entries[3].Status)
	assert.Empty(t, entries[3].Errors)

	assert.Equal(t, model.StatusRunning, entries[4].Status, "running wins over imported")
}

func TestResolveRounding(t *testing.T) {
	entries := normalize.Merge([]model.SourceRecord{rec(1, "#1 a", secs(450))})
	items := map[int64]model.WorkItem{1: {ID: 1}}

	require.NoError(t, normalize.Resolve(entries, items, nil, model.FilterSelection{}, i18n.NewPrinter("")))
	assert.Equal(t, "0:08", entries[0].RoundedDuration.HHMM())

	sel := model.FilterSelection{RoundingStep: 15, RoundingPolicy: timecalc.RoundRegular}
	require.NoError(t, normalize.Resolve(entries, items, nil, sel, i18n.NewPrinter("")))
	assert.Equal(t, "0:15", entries[0].RoundedDuration.HHMM())
}

func TestNormalizeEndToEnd(t *testing.T) {
	source := &fakeSource{records: []model.SourceRecord{rec(1, "#100 review PR", secs(610))}}
	items := &fakeItems{items: map[int64]model.WorkItem{
		100: {ID: 100, Title: "Review PR", Container: model.Container{ID: 5, Name: "Core"}},
	}}
	n := normalize.New(source, items, &fakeLedger{}, nil, zerolog.Nop()).WithLocation(time.UTC)

	entries, err := n.Normalize(context.Background(), model.FilterSelection{
		Date:           "2024-02-22",
		RoundingStep:   15,
		RoundingPolicy: timecalc.RoundUp,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	require.NotNil(t, e.WorkItemID)
	assert.Equal(t, int64(100), *e.WorkItemID)
	assert.Equal(t, "review PR", e.Comment)
	assert.Equal(t, "0:10", e.Duration.HHMM())
	assert.Equal(t, "0:15", e.RoundedDuration.HHMM())
	assert.Equal(t, model.StatusPending, e.Status)
	assert.Empty(t, e.Errors)
	assert.Equal(t, "Review PR", e.WorkItem.Title)

	assert.Equal(t, time.Date(2024, 2, 22, 0, 0, 0, 0, time.UTC), source.from)
	assert.Equal(t, time.Date(2024, 2, 22, 23, 59, 59, 0, time.UTC), source.till)
	require.Len(t, items.calls, 1)
	assert.Equal(t, []int64{100}, items.calls[0])
}

func TestNormalizeLedgerHit(t *testing.T) {
	source := &fakeSource{records: []model.SourceRecord{
		rec(76, "no id at all", secs(60)),
		rec(77, "no id at all", secs(60)),
	}}
	n := normalize.New(source, &fakeItems{}, &fakeLedger{published: map[int64]bool{77: true}}, nil, zerolog.Nop())

	entries, err := n.Normalize(context.Background(), model.FilterSelection{Date: "2024-02-22"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StatusImported, entries[0].Status)
	assert.Empty(t, entries[0].Errors)
}

func TestNormalizeWorkItemLookupFailureIsNotFatal(t *testing.T) {
	source := &fakeSource{records: []model.SourceRecord{rec(1, "#100 x", secs(60))}}
	n := normalize.New(source, &fakeItems{err: errors.New("boom")}, &fakeLedger{}, nil, zerolog.Nop())

	entries, err := n.Normalize(context.Background(), model.FilterSelection{Date: "2024-02-22"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{i18n.MsgWorkItemNotFound}, entries[0].Errors)
}

func TestNormalizeErrors(t *testing.T) {
	t.Run("bad date", func(t *testing.T) {
		src := &fakeSource{}
		n := normalize.New(src, &fakeItems{}, &fakeLedger{}, nil, zerolog.Nop())
		_, err := n.Normalize(context.Background(), model.FilterSelection{Date: "not a date"})
		var fe *apperr.FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, "date", fe.Field)
		assert.True(t, src.from.IsZero(), "no source call expected")
	})
	t.Run("bad policy", func(t *testing.T) {
		n := normalize.New(&fakeSource{}, &fakeItems{}, &fakeLedger{}, nil, zerolog.Nop())
		_, err := n.Normalize(context.Background(), model.FilterSelection{Date: "2024-02-22", RoundingStep: 5, RoundingPolicy: "sideways"})
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	})
	t.Run("source failure", func(t *testing.T) {
		n := normalize.New(&fakeSource{err: errors.New("down")}, &fakeItems{}, &fakeLedger{}, nil, zerolog.Nop())
		_, err := n.Normalize(context.Background(), model.FilterSelection{Date: "2024-02-22"})
		assert.ErrorContains(t, err, "down")
	})
	t.Run("ledger failure", func(t *testing.T) {
		src := &fakeSource{records: []model.SourceRecord{rec(1, "#1 a", secs(60))}}
		n := normalize.New(src, &fakeItems{}, &fakeLedger{err: errors.New("locked")}, nil, zerolog.Nop())
		_, err := n.Normalize(context.Background(), model.FilterSelection{Date: "2024-02-22"})
		assert.ErrorContains(t, err, "locked")
	})
}

func TestTargets(t *testing.T) {
	items := &fakeItems{items: map[int64]model.WorkItem{
		100: {ID: 100, Title: "Review PR", Container: model.Container{ID: 5, Name: "Core"}},
	}}
	n := normalize.New(&fakeSource{}, items, &fakeLedger{}, nil, zerolog.Nop())

	got := n.Targets(context.Background(), []model.TargetTimeEntry{
		{ID: 1, WorkItem: &model.WorkItem{ID: 100}},
		{ID: 2},
		{ID: 3, WorkItem: &model.WorkItem{ID: 404}},
	})
	assert.Equal(t, "Review PR", got[0].WorkItem.Title)
	assert.Nil(t, got[1].WorkItem)
	assert.Equal(t, int64(404), got[2].WorkItem.ID)
	assert.Empty(t, got[2].WorkItem.Title)
}

func TestSplit(t *testing.T) {
	entries := []model.NormalizedEntry{
		{Key: "a", Status: model.StatusImported},
		{Key: "b", Status: model.StatusPending, Errors: []string{"x"}},
		{Key: "c", Status: model.StatusPending},
		{Key: "d", Status: model.StatusRunning},
	}
	p := normalize.Split(entries)
	var keys []string
	for _, e := range p.Ordered() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"d", "c", "b", "a"}, keys)
	assert.Equal(t, "a", entries[0].Key, "canonical order untouched")
}
