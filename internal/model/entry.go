package model

import (
	"time"

	"github.com/Tiliavir/t2r/internal/timecalc"
)

// Status is the publish state of a normalized entry.
type Status string

const (
	StatusRunning  Status = "running"
	StatusPending  Status = "pending"
	StatusImported Status = "imported"
)

// SourceRecord is a raw time entry as returned by the time-tracking service.
// A nil or negative Duration marks a timer that is still running.
type SourceRecord struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Description string    `json:"description"`
	Duration    *int64    `json:"duration"`
	Start       time.Time `json:"start"`
}

// Running reports whether the record belongs to an active timer.
func (r SourceRecord) Running() bool {
	return r.Duration == nil || *r.Duration < 0
}

// Container is the project that owns a work item.
type Container struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status int    `json:"status,omitempty"`
}

// Tracker is the work item type in the target system.
type Tracker struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// WorkItem is an issue in the target system that time can be logged on.
type WorkItem struct {
	ID        int64     `json:"id"`
	Title     string    `json:"subject"`
	Tracker   Tracker   `json:"tracker"`
	Container Container `json:"project"`
}

// NormalizedEntry is one reconciled unit of tracked time. Several source
// records with the same Key are folded into one entry.
type NormalizedEntry struct {
	Key             string            `json:"key"`
	SourceIDs       []int64           `json:"ids"`
	WorkItemID      *int64            `json:"issue_id"`
	WorkItem        *WorkItem         `json:"issue"`
	Comment         string            `json:"comments"`
	Duration        timecalc.Duration `json:"-"`
	RoundedDuration timecalc.Duration `json:"-"`
	Status          Status            `json:"status"`
	Errors          []string          `json:"errors"`
}

// Valid reports whether the entry carries no validation errors.
func (e NormalizedEntry) Valid() bool { return len(e.Errors) == 0 }

// Publishable reports whether the entry may be selected for publishing.
func (e NormalizedEntry) Publishable() bool {
	return e.Status == StatusPending && e.Valid()
}

// PublishRequest is the payload for one time entry written to the target.
type PublishRequest struct {
	SpentOn    time.Time `json:"spent_on"`
	WorkItemID int64     `json:"issue_id"`
	Comments   string    `json:"comments"`
	ActivityID int64     `json:"activity_id"`
	Hours      float64   `json:"hours"`
	SourceIDs  []int64   `json:"-"`
}

// Activity is a time entry category in the target system.
type Activity struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Workspace is a grouping of time entries in the source system.
type Workspace struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TargetTimeEntry is a time entry already recorded in the target system.
type TargetTimeEntry struct {
	ID        int64             `json:"id"`
	WorkItem  *WorkItem         `json:"issue"`
	Container Container         `json:"project"`
	Comments  string            `json:"comments"`
	Activity  Activity          `json:"activity"`
	Hours     float64           `json:"hours"`
	Duration  timecalc.Duration `json:"-"`
	SpentOn   string            `json:"spent_on"`
}
