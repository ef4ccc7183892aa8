// Package normalize turns raw time-tracking records into reconciled entries
// that can be reviewed and published.
package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/i18n"
	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

// SourceLister lists the raw records of the time-tracking service.
type SourceLister interface {
	ListEntries(ctx context.Context, from, till time.Time, workspaceID *int64) ([]model.SourceRecord, error)
}

// WorkItemLookup resolves work item ids in one batch.
type WorkItemLookup interface {
	ListWorkItems(ctx context.Context, ids []int64) (map[int64]model.WorkItem, error)
}

// PublishedLookup reports which source ids were already published.
type PublishedLookup interface {
	IsPublished(ctx context.Context, ids []int64) (map[int64]bool, error)
}

var workItemToken = regexp.MustCompile(`#(\d+)`)

// ParseDescription extracts the first #<digits> token of text as work item
// id. The rest of the text, trimmed, is the comment.
func ParseDescription(text string) (*int64, string) {
	loc := workItemToken.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, strings.TrimSpace(text)
	}
	id, err := strconv.ParseInt(text[loc[2]:loc[3]], 10, 64)
	if err != nil {
		// Too many digits for an id.
		return nil, strings.TrimSpace(text)
	}
	before := strings.TrimSpace(text[:loc[0]])
	after := strings.TrimSpace(text[loc[1]:])
	comment := before
	if before != "" && after != "" {
		comment += " "
	}
	comment += after
	return &id, comment
}

// Key is the dedup key of an entry.
func Key(workItemID *int64, comment string) string {
	if workItemID == nil {
		return "none:" + comment
	}
	return strconv.FormatInt(*workItemID, 10) + ":" + comment
}

// Merge folds records sharing a dedup key into one entry each, summing their
// durations. Entries keep the order in which their key was first seen. The
// first contributor decides comment and work item id; a running contributor
// makes the whole entry running.
func Merge(records []model.SourceRecord) []model.NormalizedEntry {
	var out []model.NormalizedEntry
	index := map[string]int{}
	for _, r := range records {
		id, comment := ParseDescription(r.Description)
		var secs int64
		if !r.Running() {
			secs = *r.Duration
		}

		key := Key(id, comment)
		if i, ok := index[key]; ok {
			e := &out[i]
			e.SourceIDs = append(e.SourceIDs, r.ID)
			e.Duration = e.Duration.Add(timecalc.FromSeconds(secs))
			if r.Running() {
				e.Status = model.StatusRunning
			}
			continue
		}

		status := model.StatusPending
		if r.Running() {
			status = model.StatusRunning
		}
		index[key] = len(out)
		out = append(out, model.NormalizedEntry{
			Key:        key,
			SourceIDs:  []int64{r.ID},
			WorkItemID: id,
			Comment:    comment,
			Duration:   timecalc.FromSeconds(secs),
			Status:     status,
			Errors:     []string{},
		})
	}
	return out
}

// Resolve attaches work items, validation errors, ledger status and rounded
// durations to merged entries in place.
func Resolve(entries []model.NormalizedEntry, items map[int64]model.WorkItem, published map[int64]bool, sel model.FilterSelection, msgs i18n.Translator) error {
	for i := range entries {
		e := &entries[i]
		e.WorkItem = nil
		e.Errors = []string{}

		switch {
		case e.WorkItemID == nil:
			e.Errors = append(e.Errors, msgs.Sprintf(i18n.MsgNoWorkItem))
		default:
			if item, ok := items[*e.WorkItemID]; ok {
				item := item
				e.WorkItem = &item
			} else {
				e.Errors = append(e.Errors, msgs.Sprintf(i18n.MsgWorkItemNotFound))
			}
		}

		if e.Status != model.StatusRunning {
			e.Status = model.StatusPending
			for _, id := range e.SourceIDs {
				if published[id] {
					e.Status = model.StatusImported
					e.Errors = []string{}
					break
				}
			}
		}

		rounded, err := sel.Round(e.Duration)
		if err != nil {
			return &apperr.FieldError{Field: "rounding", Err: err}
		}
		e.RoundedDuration = rounded
	}
	return nil
}

// WorkItemIDs returns the distinct work item ids of entries, in order.
func WorkItemIDs(entries []model.NormalizedEntry) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, e := range entries {
		if e.WorkItemID == nil || seen[*e.WorkItemID] {
			continue
		}
		seen[*e.WorkItemID] = true
		ids = append(ids, *e.WorkItemID)
	}
	return ids
}

// SourceIDs returns every contributing source id of entries.
func SourceIDs(entries []model.NormalizedEntry) []int64 {
	var ids []int64
	for _, e := range entries {
		ids = append(ids, e.SourceIDs...)
	}
	return ids
}

// Normalizer fetches and reconciles the source records of one day.
type Normalizer struct {
	source    SourceLister
	items     WorkItemLookup
	published PublishedLookup
	msgs      i18n.Translator
	log       zerolog.Logger
	loc       *time.Location
}

// New returns a Normalizer. msgs may be nil for English messages.
func New(source SourceLister, items WorkItemLookup, published PublishedLookup, msgs i18n.Translator, log zerolog.Logger) *Normalizer {
	if msgs == nil {
		msgs = i18n.NewPrinter("")
	}
	return &Normalizer{
		source:    source,
		items:     items,
		published: published,
		msgs:      msgs,
		log:       log,
		loc:       time.Local,
	}
}

// WithLocation sets the time zone days are interpreted in.
func (n *Normalizer) WithLocation(loc *time.Location) *Normalizer {
	n.loc = loc
	return n
}

// Normalize returns the reconciled entries for the selected day in their
// canonical, first-seen order.
func (n *Normalizer) Normalize(ctx context.Context, sel model.FilterSelection) ([]model.NormalizedEntry, error) {
	day, err := sel.Day(n.loc)
	if err != nil {
		return nil, &apperr.FieldError{Field: "date", Err: err}
	}
	if sel.RoundingStep > 0 && !sel.RoundingPolicy.Valid() {
		return nil, &apperr.FieldError{Field: "rounding_direction", Err: &apperr.FormatError{Input: string(sel.RoundingPolicy), Expect: "one of regular, up, down"}}
	}

	from, till := timecalc.DayRange(day)
	records, err := n.source.ListEntries(ctx, from, till, sel.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing source entries: %w", err)
	}
	return n.NormalizeRecords(ctx, records, sel)
}

// NormalizeRecords reconciles records that were already fetched. Only the
// rounding fields of sel are used.
func (n *Normalizer) NormalizeRecords(ctx context.Context, records []model.SourceRecord, sel model.FilterSelection) ([]model.NormalizedEntry, error) {
	entries := Merge(records)
	n.log.Debug().Int("records", len(records)).Int("entries", len(entries)).Msg("merged source records")

	var (
		items     map[int64]model.WorkItem
		published map[int64]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids := WorkItemIDs(entries)
		if len(ids) == 0 {
			return nil
		}
		found, err := n.items.ListWorkItems(gctx, ids)
		if err != nil {
			n.log.Warn().Err(err).Int("ids", len(ids)).Msg("work item lookup failed")
			return nil
		}
		items = found
		return nil
	})
	g.Go(func() error {
		found, err := n.published.IsPublished(gctx, SourceIDs(entries))
		if err != nil {
			return fmt.Errorf("checking ledger: %w", err)
		}
		published = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := Resolve(entries, items, published, sel, n.msgs); err != nil {
		return nil, err
	}
	return entries, nil
}

// Targets fills in the work item details of time entries already recorded in
// the target system. Entries without a work item are returned unchanged.
func (n *Normalizer) Targets(ctx context.Context, entries []model.TargetTimeEntry) []model.TargetTimeEntry {
	var ids []int64
	seen := map[int64]bool{}
	for _, e := range entries {
		if e.WorkItem != nil && !seen[e.WorkItem.ID] {
			seen[e.WorkItem.ID] = true
			ids = append(ids, e.WorkItem.ID)
		}
	}
	if len(ids) == 0 {
		return entries
	}

	items, err := n.items.ListWorkItems(ctx, ids)
	if err != nil {
		n.log.Warn().Err(err).Msg("work item lookup for target entries failed")
		return entries
	}
	for i := range entries {
		if entries[i].WorkItem == nil {
			continue
		}
		if item, ok := items[entries[i].WorkItem.ID]; ok {
			item := item
			entries[i].WorkItem = &item
		}
	}
	return entries
}

// Partition groups entries for display. The canonical slice is not
// reordered.
type Partition struct {
	Running  []model.NormalizedEntry
	Pending  []model.NormalizedEntry
	Invalid  []model.NormalizedEntry
	Imported []model.NormalizedEntry
}

// Split partitions entries into running, valid pending, invalid pending and
// imported.
func Split(entries []model.NormalizedEntry) Partition {
	var p Partition
	for _, e := range entries {
		switch {
		case e.Status == model.StatusRunning:
			p.Running = append(p.Running, e)
		case e.Status == model.StatusImported:
			p.Imported = append(p.Imported, e)
		case e.Valid():
			p.Pending = append(p.Pending, e)
		default:
			p.Invalid = append(p.Invalid, e)
		}
	}
	return p
}

// Ordered returns the partition flattened in display order.
func (p Partition) Ordered() []model.NormalizedEntry {
	out := make([]model.NormalizedEntry, 0, len(p.Running)+len(p.Pending)+len(p.Invalid)+len(p.Imported))
	out = append(out, p.Running...)
	out = append(out, p.Pending...)
	out = append(out, p.Invalid...)
	return append(out, p.Imported...)
}
