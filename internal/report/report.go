// Package report owns the active filter selection and keeps the source and
// target reports of the selected day up to date.
package report

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/publish"
	"github.com/Tiliavir/t2r/internal/storage"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

// DefaultDebounce delays a refresh after the filter changed.
const DefaultDebounce = 100 * time.Millisecond

// Storage keys of the filter fields.
const (
	KeyDate              = "date"
	KeyActivity          = "activity"
	KeyWorkspace         = "workspace"
	KeyRoundingValue     = "rounding-value"
	KeyRoundingDirection = "rounding-direction"
)

// State is the lifecycle of one report.
type State string

const (
	StateLoading   State = "loading"
	StatePopulated State = "populated"
)

// Normalizer produces the source report.
type Normalizer interface {
	Normalize(ctx context.Context, sel model.FilterSelection) ([]model.NormalizedEntry, error)
	Targets(ctx context.Context, entries []model.TargetTimeEntry) []model.TargetTimeEntry
}

// TargetReader lists the time entries already in the target system.
type TargetReader interface {
	GetTimeEntries(ctx context.Context, from, till time.Time) ([]model.TargetTimeEntry, error)
}

// Gate enables and disables the publish action.
type Gate interface {
	Lock()
	Unlock()
}

// SourceReport is the reconciled view of the source system.
type SourceReport struct {
	Generation uint64                  `json:"generation"`
	State      State                   `json:"state"`
	Entries    []model.NormalizedEntry `json:"entries"`
	Rows       []*publish.Row          `json:"rows"`
	Total      timecalc.Duration       `json:"-"`
	Err        error                   `json:"-"`
}

// TargetReport lists what is already recorded in the target system.
type TargetReport struct {
	Generation uint64                  `json:"generation"`
	State      State                   `json:"state"`
	Entries    []model.TargetTimeEntry `json:"entries"`
	Total      timecalc.Duration       `json:"-"`
	Err        error                   `json:"-"`
}

// Overrides replace individual stored filter fields in Reset. A zero
// workspace or activity id clears the stored value.
type Overrides struct {
	Date           *string
	WorkspaceID    *int64
	ActivityID     *int64
	RoundingStep   *int
	RoundingPolicy *timecalc.RoundingPolicy
}

// Controller is the filter and report state of one user session.
type Controller struct {
	durable  storage.Store
	session  storage.Store
	norm     Normalizer
	target   TargetReader
	gate     Gate
	log      zerolog.Logger
	debounce time.Duration
	loc      *time.Location
	now      func() time.Time

	mu       sync.Mutex
	sel      model.FilterSelection
	fragment string
	gen      uint64
	timer    *time.Timer
	source   SourceReport
	targets  TargetReport
	done     chan struct{}
	pending  int
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebounce sets the refresh delay.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

// WithLocation sets the time zone of "today" and of the selected day.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) { c.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New returns a Controller. Call Reset to load the stored selection.
func New(durable, session storage.Store, norm Normalizer, target TargetReader, gate Gate, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		durable:  durable,
		session:  session,
		norm:     norm,
		target:   target,
		gate:     gate,
		log:      log,
		debounce: DefaultDebounce,
		loc:      time.Local,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	close(c.done)
	return c
}

// Reset merges o over the stored selection over the defaults and applies
// the result.
func (c *Controller) Reset(ctx context.Context, o Overrides) error {
	return c.Apply(ctx, c.Stored(o))
}

// Stored merges o over the stored selection over the defaults without
// applying it.
func (c *Controller) Stored(o Overrides) model.FilterSelection {
	sel := model.FilterSelection{Date: c.now().In(c.loc).Format(timecalc.DayLayout)}
	c.loadStored(&sel)

	if o.Date != nil {
		sel.Date = *o.Date
	}
	if o.WorkspaceID != nil {
		sel.WorkspaceID = positive(*o.WorkspaceID)
	}
	if o.ActivityID != nil {
		sel.ActivityID = positive(*o.ActivityID)
	}
	if o.RoundingStep != nil {
		sel.RoundingStep = *o.RoundingStep
	}
	if o.RoundingPolicy != nil {
		sel.RoundingPolicy = *o.RoundingPolicy
	}
	return sel
}

func positive(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func (c *Controller) loadStored(sel *model.FilterSelection) {
	if v, ok := c.get(c.session, KeyDate); ok && v != "" {
		sel.Date = v
	}
	if v, ok := c.get(c.durable, KeyWorkspace); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			sel.WorkspaceID = &id
		}
	}
	if v, ok := c.get(c.durable, KeyActivity); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			sel.ActivityID = &id
		}
	}
	if v, ok := c.get(c.durable, KeyRoundingValue); ok {
		if n, err := strconv.Atoi(v); err == nil {
			sel.RoundingStep = n
		}
	}
	if v, ok := c.get(c.durable, KeyRoundingDirection); ok {
		sel.RoundingPolicy = timecalc.RoundingPolicy(v)
	}
}

func (c *Controller) get(s storage.Store, key string) (string, bool) {
	v, ok, err := s.Get(key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("reading stored filter")
		return "", false
	}
	return v, ok
}

// Apply validates sel, stores it and schedules a refresh of both reports.
// An invalid selection is rejected before any remote call.
func (c *Controller) Apply(ctx context.Context, sel model.FilterSelection) error {
	sel, day, err := c.validate(sel)
	if err != nil {
		return err
	}
	if err := c.persist(sel); err != nil {
		return err
	}

	c.mu.Lock()
	c.sel = sel
	c.fragment = Fragment(sel.Date)
	c.gen++
	gen := c.gen
	c.gate.Unlock()
	if c.pending == 0 {
		c.done = make(chan struct{})
	}
	c.pending++
	if c.timer != nil && c.timer.Stop() {
		c.pending--
	}
	refreshCtx := context.WithoutCancel(ctx)
	c.timer = time.AfterFunc(c.debounce, func() { c.refresh(refreshCtx, gen, sel, day) })
	c.mu.Unlock()

	c.log.Debug().Str("date", sel.Date).Uint64("generation", gen).Msg("filter applied")
	return nil
}

// Save validates and stores sel without refreshing the reports. It returns
// the selection as stored.
func (c *Controller) Save(sel model.FilterSelection) (model.FilterSelection, error) {
	sel, _, err := c.validate(sel)
	if err != nil {
		return model.FilterSelection{}, err
	}
	if err := c.persist(sel); err != nil {
		return model.FilterSelection{}, err
	}
	return sel, nil
}

func (c *Controller) validate(sel model.FilterSelection) (model.FilterSelection, time.Time, error) {
	day, err := timecalc.ParseDay(sel.Date, c.loc)
	if err != nil {
		return sel, time.Time{}, &apperr.FieldError{Field: KeyDate, Err: err}
	}
	sel.Date = day.Format(timecalc.DayLayout)
	if sel.RoundingStep < 0 {
		return sel, time.Time{}, &apperr.FieldError{Field: KeyRoundingValue, Err: &apperr.FormatError{Input: strconv.Itoa(sel.RoundingStep), Expect: "a step of zero or more minutes"}}
	}
	if sel.RoundingPolicy == "" {
		sel.RoundingPolicy = timecalc.RoundRegular
	}
	if !sel.RoundingPolicy.Valid() {
		return sel, time.Time{}, &apperr.FieldError{Field: KeyRoundingDirection, Err: &apperr.FormatError{Input: string(sel.RoundingPolicy), Expect: "one of regular, up, down"}}
	}
	return sel, day, nil
}

func (c *Controller) persist(sel model.FilterSelection) error {
	set := func(s storage.Store, key string, v *int64) error {
		if v == nil {
			return s.Delete(key)
		}
		return s.Set(key, strconv.FormatInt(*v, 10))
	}
	err := errors.Join(
		set(c.durable, KeyWorkspace, sel.WorkspaceID),
		set(c.durable, KeyActivity, sel.ActivityID),
		c.durable.Set(KeyRoundingValue, strconv.Itoa(sel.RoundingStep)),
		c.durable.Set(KeyRoundingDirection, string(sel.RoundingPolicy)),
		c.session.Set(KeyDate, sel.Date),
	)
	if err != nil {
		return &apperr.FieldError{Field: "storage", Err: err}
	}
	return nil
}

// refresh reloads both reports for generation gen. Results of a stale
// generation are dropped.
func (c *Controller) refresh(ctx context.Context, gen uint64, sel model.FilterSelection, day time.Time) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.finish()
		return
	}
	c.source = SourceReport{Generation: gen, State: StateLoading}
	c.targets = TargetReport{Generation: gen, State: StateLoading}
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.refreshSource(ctx, gen, sel)
	}()
	go func() {
		defer wg.Done()
		c.refreshTarget(ctx, gen, day)
	}()
	wg.Wait()
	c.finish()
}

func (c *Controller) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	if c.pending == 0 {
		close(c.done)
	}
}

func (c *Controller) refreshSource(ctx context.Context, gen uint64, sel model.FilterSelection) {
	entries, err := c.norm.Normalize(ctx, sel)
	report := SourceReport{Generation: gen, State: StatePopulated, Entries: entries, Err: err}
	eligible := false
	for _, e := range entries {
		report.Total = report.Total.Add(e.RoundedDuration)
		if e.Publishable() {
			eligible = true
		}
	}
	report.Rows = publish.RowsFrom(entries)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.log.Debug().Uint64("generation", gen).Msg("dropping stale source report")
		return
	}
	c.source = report
	if !eligible {
		c.gate.Lock()
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error().Err(err).Str("date", sel.Date).Msg("source report failed")
	}
}

func (c *Controller) refreshTarget(ctx context.Context, gen uint64, day time.Time) {
	entries, err := c.target.GetTimeEntries(ctx, day, day)
	if err == nil {
		entries = c.norm.Targets(ctx, entries)
	}
	report := TargetReport{Generation: gen, State: StatePopulated, Entries: entries, Err: err}
	for _, e := range entries {
		report.Total = report.Total.Add(e.Duration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.log.Debug().Uint64("generation", gen).Msg("dropping stale target report")
		return
	}
	c.targets = report
	if err != nil {
		c.log.Error().Err(err).Msg("target report failed")
	}
}

// RefreshTarget reloads only the target report, keeping the selection.
func (c *Controller) RefreshTarget(ctx context.Context) {
	c.mu.Lock()
	gen, sel := c.gen, c.sel
	c.mu.Unlock()
	day, err := timecalc.ParseDay(sel.Date, c.loc)
	if err != nil {
		return
	}
	c.refreshTarget(ctx, gen, day)
}

// Wait blocks until every scheduled refresh has finished.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Selection returns the applied filter selection.
func (c *Controller) Selection() model.FilterSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel
}

// Source returns the latest source report. The rows are copies the caller
// may edit or publish.
func (c *Controller) Source() SourceReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.source
	src.Rows = publish.CloneRows(src.Rows)
	return src
}

// Target returns the latest target report.
func (c *Controller) Target() TargetReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targets
}

// Fragment returns the deep link of the applied selection.
func (c *Controller) Fragment() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragment
}

// Fragment builds the deep-link fragment for date.
func Fragment(date string) string {
	return "date=" + date
}

// ParseFragment reads the date of a deep-link fragment such as
// "#date=2024-02-22".
func ParseFragment(fragment string) (string, bool) {
	values, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return "", false
	}
	date := values.Get(KeyDate)
	return date, date != ""
}
