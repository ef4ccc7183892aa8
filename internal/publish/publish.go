// Package publish submits reviewed rows to the target system through the
// request queue and tracks the outcome of each row.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/i18n"
	"github.com/Tiliavir/t2r/internal/logging"
	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/queue"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

// minPublishable is the shortest duration worth a time entry.
const minPublishable = 30

// RowState is the publish outcome of a row.
type RowState string

const (
	StateReady    RowState = "ready"
	StateImported RowState = "imported"
	StateFailed   RowState = "failed"
	StateSkipped  RowState = "skipped"
)

// Row is an editable line of the source report. Field values are kept as
// text because they may have been edited by the user.
type Row struct {
	Key        string   `json:"key"`
	Selected   bool     `json:"selected"`
	Locked     bool     `json:"locked"`
	WorkItemID string   `json:"issue_id"`
	Comments   string   `json:"comments"`
	ActivityID string   `json:"activity_id"`
	Hours      string   `json:"hours"`
	SourceIDs  []int64  `json:"ids"`
	State      RowState `json:"state"`
	Messages   []string `json:"messages,omitempty"`
	TargetID   int64    `json:"time_entry_id,omitempty"`
}

// RowsFrom builds rows from normalized entries. Publishable entries are
// selected; all others are locked.
func RowsFrom(entries []model.NormalizedEntry) []*Row {
	rows := make([]*Row, 0, len(entries))
	for _, e := range entries {
		row := &Row{
			Key:       e.Key,
			Comments:  e.Comment,
			Hours:     e.RoundedDuration.HHMM(),
			SourceIDs: e.SourceIDs,
			State:     StateReady,
			Messages:  e.Errors,
		}
		if e.WorkItemID != nil {
			row.WorkItemID = strconv.FormatInt(*e.WorkItemID, 10)
		}
		if e.Publishable() {
			row.Selected = true
		} else {
			row.Locked = true
		}
		if e.Status == model.StatusImported {
			row.State = StateImported
		}
		rows = append(rows, row)
	}
	return rows
}

// Clone returns a copy of r that shares no memory with it.
func (r *Row) Clone() *Row {
	c := *r
	c.SourceIDs = append([]int64(nil), r.SourceIDs...)
	c.Messages = append([]string(nil), r.Messages...)
	return &c
}

// CloneRows returns a deep copy of rows.
func CloneRows(rows []*Row) []*Row {
	if rows == nil {
		return nil
	}
	out := make([]*Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Writer creates time entries in the target system.
type Writer interface {
	CreateTimeEntry(ctx context.Context, req model.PublishRequest) (int64, error)
}

// Recorder remembers which source ids were published.
type Recorder interface {
	RecordPublished(ctx context.Context, ids []int64, timeEntryID int64) error
}

// Options tune a single publish run.
type Options struct {
	// DefaultActivityID is used for rows without an activity.
	DefaultActivityID *int64
	// DryRun validates rows and reports the planned requests without
	// submitting them.
	DryRun bool
}

// Result summarizes a publish run.
type Result struct {
	BatchID  string                 `json:"batch_id"`
	Imported int                    `json:"imported"`
	Failed   int                    `json:"failed"`
	Skipped  int                    `json:"skipped"`
	Planned  []model.PublishRequest `json:"planned,omitempty"`
}

// Publisher drains selected rows through the shared request queue.
type Publisher struct {
	queue    *queue.Queue
	writer   Writer
	recorder Recorder
	msgs     i18n.Translator
	log      zerolog.Logger

	mu sync.Mutex
	// locked is set while the report has nothing eligible; busy while a
	// batch is draining.
	locked  bool
	busy    bool
	refresh func(ctx context.Context)
}

// New returns a Publisher. msgs may be nil for English messages.
func New(q *queue.Queue, w Writer, r Recorder, msgs i18n.Translator, log zerolog.Logger) *Publisher {
	if msgs == nil {
		msgs = i18n.NewPrinter("")
	}
	return &Publisher{queue: q, writer: w, recorder: r, msgs: msgs, log: log}
}

// OnDrained registers fn to run after every completed publish run, once the
// publish action is enabled again.
func (p *Publisher) OnDrained(fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh = fn
}

// Enabled reports whether the publish action is available.
func (p *Publisher) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.locked && !p.busy
}

// Lock disables the publish action until Unlock. A batch in progress keeps
// the action disabled regardless of Unlock.
func (p *Publisher) Lock() {
	p.mu.Lock()
	p.locked = true
	p.mu.Unlock()
}

// Unlock enables the publish action.
func (p *Publisher) Unlock() {
	p.mu.Lock()
	p.locked = false
	p.mu.Unlock()
}

// Publish submits every selected, unlocked row as a time entry spent on
// day. Rows are submitted one at a time in slice order; the call returns
// after the last outcome has been applied to its row. Cancelling ctx does
// not abort the batch: queued rows are still submitted and recorded.
//
// Publish writes the outcome into rows, so callers must not share them with
// concurrent readers. Use CloneRows for rows owned by someone else.
func (p *Publisher) Publish(ctx context.Context, day time.Time, rows []*Row, opts Options) (Result, error) {
	var selected []*Row
	for _, r := range rows {
		if r.Selected && !r.Locked {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return Result{}, apperr.ErrNoSelection
	}

	p.mu.Lock()
	if (p.locked || p.busy) && !opts.DryRun {
		p.mu.Unlock()
		return Result{}, apperr.ErrPublishLocked
	}
	if !opts.DryRun {
		p.busy = true
	}
	refresh := p.refresh
	p.mu.Unlock()

	res := Result{BatchID: uuid.NewString()}
	ctx = logging.WithBatchID(logging.WithLogger(ctx, p.log), res.BatchID)
	log := logging.FromContext(ctx)

	var submitted []*Row
	for _, row := range selected {
		req, ok := p.build(ctx, day, row, opts)
		if !ok {
			continue
		}
		if opts.DryRun {
			res.Planned = append(res.Planned, req)
			continue
		}
		row.State = StateReady
		row.Messages = nil
		submitted = append(submitted, row)
		p.enqueue(ctx, row, req)
	}

	if opts.DryRun {
		tally(&res, selected)
		return res, nil
	}

	log.Info().Int("rows", len(submitted)).Msg("publishing")
	err := p.queue.Wait(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
	if err != nil {
		return res, fmt.Errorf("waiting for publish queue: %w", err)
	}

	tally(&res, selected)
	log.Info().Int("imported", res.Imported).Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("publish finished")
	if ctx.Err() != nil {
		log.Warn().Err(ctx.Err()).Msg("publish run was cancelled after submission")
	}
	if refresh != nil {
		refresh(context.WithoutCancel(ctx))
	}
	return res, nil
}

// build validates a row and turns it into a request. Rows that cannot be
// submitted are marked skipped or failed.
func (p *Publisher) build(ctx context.Context, day time.Time, row *Row, opts Options) (model.PublishRequest, bool) {
	log := logging.FromContext(ctx).With().Str("row", row.Key).Logger()

	d, err := timecalc.ParseHHMM(strings.TrimSpace(row.Hours))
	if err != nil || d.Seconds() < minPublishable {
		log.Info().Str("hours", row.Hours).Msg("skipping row without publishable duration")
		row.State = StateSkipped
		row.Messages = nil
		return model.PublishRequest{}, false
	}

	var messages []string
	workItemID, err := parseID(row.WorkItemID)
	if err != nil {
		log.Warn().Err(&apperr.UnresolvedWorkItemError{}).Str("value", row.WorkItemID).Msg("invalid work item id")
		messages = append(messages, p.msgs.Sprintf(i18n.MsgMissingWorkItem))
	}
	activityText := strings.TrimSpace(row.ActivityID)
	if activityText == "" && opts.DefaultActivityID != nil {
		activityText = strconv.FormatInt(*opts.DefaultActivityID, 10)
	}
	activityID, err := parseID(activityText)
	if err != nil {
		log.Warn().Str("value", row.ActivityID).Msg("invalid activity id")
		messages = append(messages, p.msgs.Sprintf(i18n.MsgMissingActivity))
	}
	if len(messages) > 0 {
		row.State = StateFailed
		row.Messages = messages
		return model.PublishRequest{}, false
	}

	return model.PublishRequest{
		SpentOn:    day,
		WorkItemID: workItemID,
		Comments:   strings.TrimSpace(row.Comments),
		ActivityID: activityID,
		Hours:      d.HoursValue(),
		SourceIDs:  row.SourceIDs,
	}, true
}

// enqueue submits row on a context detached from the caller's. Queued rows
// and their ledger records outlive a cancelled caller.
func (p *Publisher) enqueue(ctx context.Context, row *Row, req model.PublishRequest) {
	ctx = context.WithoutCancel(ctx)
	var id int64
	p.queue.Enqueue(ctx, queue.Item{
		Name: row.Key,
		Call: func(ctx context.Context) error {
			var err error
			id, err = p.writer.CreateTimeEntry(ctx, req)
			return err
		},
		Done: func(err error) {
			log := logging.FromContext(ctx)
			if err != nil {
				row.State = StateFailed
				row.Messages = p.failureMessages(err)
				log.Warn().Err(err).Str("row", row.Key).Msg("publish failed")
				return
			}
			row.State = StateImported
			row.Selected = false
			row.Locked = true
			row.TargetID = id
			row.Messages = []string{p.msgs.Sprintf(i18n.MsgPublished, strconv.FormatInt(id, 10))}
			if err := p.recorder.RecordPublished(ctx, req.SourceIDs, id); err != nil {
				log.Error().Err(err).Int64("time_entry_id", id).Ints64("source_ids", req.SourceIDs).Msg("could not record published entry")
			}
			log.Info().Str("row", row.Key).Int64("time_entry_id", id).Msg("published")
		},
	})
}

func (p *Publisher) failureMessages(err error) []string {
	var rw *apperr.RemoteWriteError
	if errors.As(err, &rw) && len(rw.Messages) > 0 {
		return rw.Messages
	}
	return []string{p.msgs.Sprintf(i18n.MsgUnknownError)}
}

func parseID(text string) (int64, error) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "#")
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, &apperr.FormatError{Input: text, Expect: "a positive id"}
	}
	if id <= 0 {
		return 0, &apperr.FormatError{Input: text, Expect: "a positive id"}
	}
	return id, nil
}

func tally(res *Result, rows []*Row) {
	for _, r := range rows {
		switch r.State {
		case StateImported:
			res.Imported++
		case StateFailed:
			res.Failed++
		case StateSkipped:
			res.Skipped++
		}
	}
}
