package report_test

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
	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/publish"
	"github.com/Tiliavir/t2r/internal/report"
	"github.com/Tiliavir/t2r/internal/storage"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

type fakeNormalizer struct {
	mu      sync.Mutex
	calls   []model.FilterSelection
	entries map[string][]model.NormalizedEntry
	block   map[string]chan struct{}
	started chan string
}

func (f *fakeNormalizer) Normalize(ctx context.Context, sel model.FilterSelection) ([]model.NormalizedEntry, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sel)
	block := f.block[sel.Date]
	entries := f.entries[sel.Date]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- sel.Date
	}
	if block != nil {
		<-block
	}
	return entries, nil
}

func (f *fakeNormalizer) Targets(_ context.Context, entries []model.TargetTimeEntry) []model.TargetTimeEntry {
	return entries
}

func (f *fakeNormalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTarget struct {
	mu   sync.Mutex
	days []time.Time
}

func (f *fakeTarget) GetTimeEntries(_ context.Context, from, _ time.Time) ([]model.TargetTimeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, from)
	return []model.TargetTimeEntry{{ID: 1, Duration: timecalc.FromSeconds(1800)}}, nil
}

type fakeGate struct {
	mu     sync.Mutex
	locked bool
}

func (g *fakeGate) Lock()   { g.mu.Lock(); g.locked = true; g.mu.Unlock() }
func (g *fakeGate) Unlock() { g.mu.Lock(); g.locked = false; g.mu.Unlock() }
func (g *fakeGate) isLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

var today = time.Date(2024, 2, 22, 15, 4, 5, 0, time.UTC)

func pending(key string) model.NormalizedEntry {
	id := int64(100)
	return model.NormalizedEntry{Key: key, WorkItemID: &id, Status: model.StatusPending, Errors: []string{}, RoundedDuration: timecalc.FromSeconds(900)}
}

type fixture struct {
	durable *storage.Session
	session *storage.Session
	norm    *fakeNormalizer
	target  *fakeTarget
	gate    *fakeGate
	ctrl    *report.Controller
}

func newFixture(debounce time.Duration) *fixture {
	f := &fixture{
		durable: storage.NewSession("t2r"),
		session: storage.NewSession("t2r"),
		norm: &fakeNormalizer{entries: map[string][]model.NormalizedEntry{
			"2024-02-22": {pending("a")},
		}},
		target: &fakeTarget{},
		gate:   &fakeGate{},
	}
	f.ctrl = report.New(f.durable, f.session, f.norm, f.target, f.gate, zerolog.Nop(),
		report.WithDebounce(debounce),
		report.WithLocation(time.UTC),
		report.WithClock(func() time.Time { return today }),
	)
	return f
}

func wait(t *testing.T, c *report.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestResetDefaults(t *testing.T) {
	f := newFixture(0)
	require.NoError(t, f.ctrl.Reset(context.Background(), report.Overrides{}))
	wait(t, f.ctrl)

	sel := f.ctrl.Selection()
	assert.Equal(t, "2024-02-22", sel.Date)
	assert.Nil(t, sel.WorkspaceID)
	assert.Nil(t, sel.ActivityID)
	assert.Equal(t, 0, sel.RoundingStep)
	assert.Equal(t, "date=2024-02-22", f.ctrl.Fragment())

	src := f.ctrl.Source()
	assert.Equal(t, report.StatePopulated, src.State)
	require.Len(t, src.Entries, 1)
	require.Len(t, src.Rows, 1)
	assert.Equal(t, "0:15", src.Total.HHMM())

	tgt := f.ctrl.Target()
	assert.Equal(t, report.StatePopulated, tgt.State)
	assert.Equal(t, "0:30", tgt.Total.HHMM())
	require.Len(t, f.target.days, 1)
	assert.Equal(t, time.Date(2024, 2, 22, 0, 0, 0, 0, time.UTC), f.target.days[0])

	date, _, _ := f.session.Get(report.KeyDate)
	assert.Equal(t, "2024-02-22", date)
	_, found, _ := f.durable.Get(report.KeyDate)
	assert.False(t, found, "date is session scoped")
}

func TestResetMergesStoredAndOverrides(t *testing.T) {
	f := newFixture(0)
	require.NoError(t, f.durable.Set(report.KeyWorkspace, "7"))
	require.NoError(t, f.durable.Set(report.KeyActivity, "9"))
	require.NoError(t, f.durable.Set(report.KeyRoundingValue, "15"))
	require.NoError(t, f.durable.Set(report.KeyRoundingDirection, "up"))
	require.NoError(t, f.session.Set(report.KeyDate, "2024-02-20"))

	step := 30
	date := "2024-02-22"
	require.NoError(t, f.ctrl.Reset(context.Background(), report.Overrides{Date: &date, RoundingStep: &step}))
	wait(t, f.ctrl)

	sel := f.ctrl.Selection()
	assert.Equal(t, "2024-02-22", sel.Date)
	require.NotNil(t, sel.WorkspaceID)
	assert.Equal(t, int64(7), *sel.WorkspaceID)
	require.NotNil(t, sel.ActivityID)
	assert.Equal(t, int64(9), *sel.ActivityID)
	assert.Equal(t, 30, sel.RoundingStep)
	assert.Equal(t, timecalc.RoundUp, sel.RoundingPolicy)

	stored, _, _ := f.durable.Get(report.KeyRoundingValue)
	assert.Equal(t, "30", stored)
}

func TestApplyRejectsInvalidSelection(t *testing.T) {
	tests := []struct {
		name  string
		sel   model.FilterSelection
		field string
	}{
		{"empty date", model.FilterSelection{}, report.KeyDate},
		{"bad date", model.FilterSelection{Date: "someday"}, report.KeyDate},
		{"negative step", model.FilterSelection{Date: "2024-02-22", RoundingStep: -5}, report.KeyRoundingValue},
		{"bad policy", model.FilterSelection{Date: "2024-02-22", RoundingStep: 5, RoundingPolicy: "sideways"}, report.KeyRoundingDirection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			err := f.ctrl.Apply(context.Background(), tt.sel)
			var fe *apperr.FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
			wait(t, f.ctrl)
			assert.Zero(t, f.norm.callCount())
			assert.Empty(t, f.target.days)
		})
	}
}

func TestApplyNormalizesDateNotation(t *testing.T) {
	f := newFixture(0)
	require.NoError(t, f.ctrl.Apply(context.Background(), model.FilterSelection{Date: "02/22/2024"}))
	wait(t, f.ctrl)
	assert.Equal(t, "2024-02-22", f.ctrl.Selection().Date)
}

func TestDebounceCoalescesRefreshes(t *testing.T) {
	f := newFixture(50 * time.Millisecond)
	for _, d := range []string{"2024-02-20", "2024-02-21", "2024-02-22"} {
		require.NoError(t, f.ctrl.Apply(context.Background(), model.FilterSelection{Date: d}))
	}
	wait(t, f.ctrl)

	require.Equal(t, 1, f.norm.callCount())
	assert.Equal(t, "2024-02-22", f.norm.calls[0].Date)
}

func TestStaleRefreshIsDropped(t *testing.T) {
	f := newFixture(0)
	release := make(chan struct{})
	f.norm.block = map[string]chan struct{}{"2024-02-21": release}
	f.norm.entries["2024-02-21"] = []model.NormalizedEntry{pending("stale")}
	f.norm.started = make(chan string, 2)

	require.NoError(t, f.ctrl.Apply(context.Background(), model.FilterSelection{Date: "2024-02-21"}))
	assert.Equal(t, "2024-02-21", <-f.norm.started)

	require.NoError(t, f.ctrl.Apply(context.Background(), model.FilterSelection{Date: "2024-02-22"}))
	assert.Equal(t, "2024-02-22", <-f.norm.started)
	close(release)
	wait(t, f.ctrl)

	src := f.ctrl.Source()
	assert.Equal(t, uint64(2), src.Generation)
	require.Len(t, src.Entries, 1)
	assert.Equal(t, "a", src.Entries[0].Key)
}

func TestNothingEligibleLocksPublishing(t *testing.T) {
	f := newFixture(0)
	require.NoError(t, f.ctrl.Apply(context.Background(), model.FilterSelection{Date: "2024-02-23"}))
	wait(t, f.ctrl)
	assert.True(t, f.gate.isLocked())

	require.NoError(t, f.ctrl.Apply(context.Background(), model.FilterSelection{Date: "2024-02-22"}))
	wait(t, f.ctrl)
	assert.False(t, f.gate.isLocked())
}

func TestParseFragment(t *testing.T) {
	tests := []struct {
		in   string
		date string
		ok   bool
	}{
		{"#date=2024-02-22", "2024-02-22", true},
		{"date=2024-02-22", "2024-02-22", true},
		{"#other=1", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			date, ok := report.ParseFragment(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.date, date)
		})
	}
	assert.Equal(t, "date=2024-02-22", report.Fragment("2024-02-22"))
}

func TestStoredClearsZeroIDs(t *testing.T) {
	f := newFixture(0)
	require.NoError(t, f.durable.Set(report.KeyActivity, "9"))

	zero := int64(0)
	sel := f.ctrl.Stored(report.Overrides{ActivityID: &zero})
	assert.Nil(t, sel.ActivityID)
	assert.Equal(t, "2024-02-22", sel.Date)
	assert.Zero(t, f.norm.callCount(), "Stored does not refresh")
}

func TestSaveValidatesWithoutRefresh(t *testing.T) {
	f := newFixture(0)

	_, err := f.ctrl.Save(model.FilterSelection{Date: "2024-02-22", RoundingPolicy: "sideways"})
	var fe *apperr.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, report.KeyRoundingDirection, fe.Field)

	activity := int64(4)
	saved, err := f.ctrl.Save(model.FilterSelection{Date: "Feb 23, 2024", ActivityID: &activity, RoundingStep: 10})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-23", saved.Date)
	assert.Equal(t, timecalc.RoundRegular, saved.RoundingPolicy)

	stored, _, _ := f.durable.Get(report.KeyActivity)
	assert.Equal(t, "4", stored)
	assert.Zero(t, f.norm.callCount())
	assert.Equal(t, model.FilterSelection{}, f.ctrl.Selection())
}

func TestSourceRowsAreCopies(t *testing.T) {
	f := newFixture(0)
	require.NoError(t, f.ctrl.Reset(context.Background(), report.Overrides{}))
	wait(t, f.ctrl)

	rows := f.ctrl.Source().Rows
	require.Len(t, rows, 1)
	rows[0].State = publish.StateImported
	rows[0].Selected = false

	again := f.ctrl.Source().Rows
	require.Len(t, again, 1)
	assert.Equal(t, publish.StateReady, again[0].State)
	assert.True(t, again[0].Selected)
	assert.NotSame(t, rows[0], again[0])
}
