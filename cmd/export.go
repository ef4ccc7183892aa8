package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/t2r/internal/model"
)

var (
	exportFilter filterFlags
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the reconciled Toggl entries of one day to stdout",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportFilter.register(exportCmd)
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv, json, md")
}

func runExport(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close()

	src, _, err := loadReport(cmd.Context(), app, exportFilter.overrides(cmd))
	if err != nil {
		return err
	}
	date := app.Reports.Selection().Date

	switch exportFormat {
	case "json":
		return writeJSON(os.Stdout, date, src.Entries)
	case "md":
		writeMarkdown(os.Stdout, date, src.Entries)
	case "csv":
		writeCSV(os.Stdout, date, src.Entries)
	default:
		return fmt.Errorf("unknown format %q, use csv, json or md", exportFormat)
	}
	return nil
}

type exportEntry struct {
	Date     string   `json:"date"`
	Key      string   `json:"key"`
	IssueID  *int64   `json:"issue_id"`
	Issue    string   `json:"issue"`
	Project  string   `json:"project"`
	Comments string   `json:"comments"`
	Duration string   `json:"duration"`
	Rounded  string   `json:"rounded_duration"`
	Hours    string   `json:"hours"`
	Status   string   `json:"status"`
	TogglIDs []int64  `json:"toggl_ids"`
	Errors   []string `json:"errors"`
}

func exportEntries(date string, entries []model.NormalizedEntry) []exportEntry {
	out := make([]exportEntry, 0, len(entries))
	for _, e := range entries {
		x := exportEntry{
			Date:     date,
			Key:      e.Key,
			IssueID:  e.WorkItemID,
			Comments: e.Comment,
			Duration: e.Duration.HHMM(),
			Rounded:  e.RoundedDuration.HHMM(),
			Hours:    e.RoundedDuration.DecimalHours(),
			Status:   string(e.Status),
			TogglIDs: e.SourceIDs,
			Errors:   e.Errors,
		}
		if e.WorkItem != nil {
			x.Issue = e.WorkItem.Title
			x.Project = e.WorkItem.Container.Name
		}
		out = append(out, x)
	}
	return out
}

func writeJSON(w io.Writer, date string, entries []model.NormalizedEntry) error {
	data, err := json.MarshalIndent(exportEntries(date, entries), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeCSV(w io.Writer, date string, entries []model.NormalizedEntry) {
	fmt.Fprintln(w, "date,issue_id,issue,project,comments,duration,rounded_duration,hours,status,toggl_ids")
	for _, x := range exportEntries(date, entries) {
		issueID := ""
		if x.IssueID != nil {
			issueID = strconv.FormatInt(*x.IssueID, 10)
		}
		ids := make([]string, 0, len(x.TogglIDs))
		for _, id := range x.TogglIDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
			csvEscape(x.Date),
			issueID,
			csvEscape(x.Issue),
			csvEscape(x.Project),
			csvEscape(x.Comments),
			x.Duration,
			x.Rounded,
			x.Hours,
			x.Status,
			csvEscape(strings.Join(ids, " ")),
		)
	}
}

func writeMarkdown(w io.Writer, date string, entries []model.NormalizedEntry) {
	fmt.Fprintf(w, "## Toggl %s\n\n", date)
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return
	}
	fmt.Fprintln(w, "| Issue | Project | Comments | Duration | Rounded | Status |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|")
	for _, x := range exportEntries(date, entries) {
		issue := "-"
		if x.IssueID != nil {
			issue = "#" + strconv.FormatInt(*x.IssueID, 10)
			if x.Issue != "" {
				issue += " " + x.Issue
			}
		}
		status := x.Status
		if len(x.Errors) > 0 {
			status = strings.Join(x.Errors, " ")
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s |\n",
			mdEscape(issue), mdEscape(x.Project), mdEscape(x.Comments), x.Duration, x.Rounded, mdEscape(status))
	}
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
