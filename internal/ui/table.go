// Package ui renders reports for the terminal.
package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/normalize"
	"github.com/Tiliavir/t2r/internal/publish"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

// Kind is the display group of a normalized entry.
type Kind int

const (
	KindRunning Kind = iota
	KindReady
	KindInvalid
	KindImported
)

// KindOf returns the display group of e.
func KindOf(e model.NormalizedEntry) Kind {
	switch {
	case e.Status == model.StatusRunning:
		return KindRunning
	case e.Status == model.StatusImported:
		return KindImported
	case e.Valid():
		return KindReady
	default:
		return KindInvalid
	}
}

// Renderers renders the status cell per display group.
var Renderers = map[Kind]func(e model.NormalizedEntry) string{
	KindRunning:  func(model.NormalizedEntry) string { return pterm.Yellow("running") },
	KindReady:    func(model.NormalizedEntry) string { return pterm.Green("ready") },
	KindInvalid:  func(e model.NormalizedEntry) string { return pterm.Red(strings.Join(e.Errors, " ")) },
	KindImported: func(model.NormalizedEntry) string { return pterm.Gray("imported") },
}

var rowRenderers = map[publish.RowState]func(r *publish.Row) string{
	publish.StateReady:    func(*publish.Row) string { return "-" },
	publish.StateImported: func(r *publish.Row) string { return pterm.Green(strings.Join(r.Messages, " ")) },
	publish.StateFailed:   func(r *publish.Row) string { return pterm.Red(strings.Join(r.Messages, " ")) },
	publish.StateSkipped:  func(*publish.Row) string { return pterm.Gray("skipped") },
}

// PrintTable writes data as a boxed table with a header row.
func PrintTable(data [][]string, writer io.Writer) {
	table := pterm.DefaultTable
	table.Boxed = true

	str, err := table.WithHasHeader().WithData(data).Srender()
	if err != nil {
		pterm.Error.Printfln("Failed to output table: %s", err.Error())
		return
	}

	fmt.Fprintln(writer, str)
}

// SourceData lays out normalized entries in display order with a total row.
func SourceData(entries []model.NormalizedEntry) [][]string {
	data := [][]string{{"Status", "Issue", "Project", "Comment", "Duration", "Rounded"}}
	var total timecalc.Duration
	for _, e := range normalize.Split(entries).Ordered() {
		data = append(data, []string{
			Renderers[KindOf(e)](e),
			issueCell(e.WorkItemID, e.WorkItem),
			projectCell(e.WorkItem),
			e.Comment,
			e.Duration.HHMM(),
			e.RoundedDuration.HHMM(),
		})
		total = total.Add(e.RoundedDuration)
	}
	return append(data, []string{"", "", "", "Total", "", total.HHMM()})
}

// TargetData lays out the time entries of the target system.
func TargetData(entries []model.TargetTimeEntry) [][]string {
	data := [][]string{{"ID", "Issue", "Project", "Comment", "Activity", "Hours"}}
	var total timecalc.Duration
	for _, e := range entries {
		var id *int64
		if e.WorkItem != nil {
			id = &e.WorkItem.ID
		}
		data = append(data, []string{
			strconv.FormatInt(e.ID, 10),
			issueCell(id, e.WorkItem),
			e.Container.Name,
			e.Comments,
			e.Activity.Name,
			e.Duration.HHMM(),
		})
		total = total.Add(e.Duration)
	}
	return append(data, []string{"", "", "", "Total", "", total.HHMM()})
}

// PublishData lays out the outcome of a publish run.
func PublishData(rows []*publish.Row) [][]string {
	data := [][]string{{"Issue", "Comment", "Hours", "Result"}}
	for _, r := range rows {
		if !r.Selected && r.State == publish.StateReady {
			continue
		}
		render, ok := rowRenderers[r.State]
		if !ok {
			render = rowRenderers[publish.StateReady]
		}
		data = append(data, []string{r.WorkItemID, r.Comments, r.Hours, render(r)})
	}
	return data
}

func issueCell(id *int64, item *model.WorkItem) string {
	if id == nil {
		return "-"
	}
	cell := "#" + strconv.FormatInt(*id, 10)
	if item != nil && item.Title != "" {
		cell += " " + item.Title
	}
	return cell
}

func projectCell(item *model.WorkItem) string {
	if item == nil {
		return ""
	}
	return item.Container.Name
}
