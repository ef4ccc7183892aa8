// Package ledger records which source entries were already published to the
// target system, so that they are never written twice.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Tiliavir/t2r/internal/storage"
)

// Mapping links one source record to the target time entry it produced.
type Mapping struct {
	SourceID    int64     `json:"toggl_id"`
	TimeEntryID int64     `json:"time_entry_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger is a bbolt backed publish ledger.
type Ledger struct {
	db  *storage.DB
	now func() time.Time
}

// New returns a Ledger stored in db.
func New(db *storage.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// IsPublished returns the subset of ids that already have a mapping.
func (l *Ledger) IsPublished(ctx context.Context, ids []int64) (map[int64]bool, error) {
	found, err := l.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(found))
	for id := range found {
		out[id] = true
	}
	return out, nil
}

// Lookup returns the stored mappings for ids, keyed by source id.
func (l *Ledger) Lookup(ctx context.Context, ids []int64) (map[int64]Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := map[int64]Mapping{}
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(storage.BucketMappings))
		for _, id := range ids {
			v := b.Get(key(id))
			if v == nil {
				continue
			}
			var m Mapping
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("corrupt mapping for %d: %w", id, err)
			}
			out[id] = m
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	return out, nil
}

// RecordPublished stores a mapping from every id to timeEntryID.
func (l *Ledger) RecordPublished(ctx context.Context, ids []int64, timeEntryID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	created := l.now().UTC()
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(storage.BucketMappings))
		for _, id := range ids {
			value, err := json.Marshal(Mapping{SourceID: id, TimeEntryID: timeEntryID, CreatedAt: created})
			if err != nil {
				return err
			}
			if err := b.Put(key(id), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	return nil
}

func key(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}
