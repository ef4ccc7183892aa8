package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/t2r/internal/apperr"
	"github.com/Tiliavir/t2r/internal/publish"
	"github.com/Tiliavir/t2r/internal/timecalc"
	"github.com/Tiliavir/t2r/internal/ui"
)

var (
	publishFilter filterFlags
	publishDryRun bool
	publishYes    bool
	publishOnly   []string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the selected Toggl entries of one day to Redmine",
	Long: `Publish creates one Redmine time entry per reconciled Toggl entry. Entries
that are running, already published or invalid are never submitted.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	publishFilter.register(publishCmd)
	publishCmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "Print planned time entries without writing")
	publishCmd.Flags().BoolVarP(&publishYes, "yes", "y", false, "Do not ask for confirmation")
	publishCmd.Flags().StringArrayVar(&publishOnly, "only", nil, "Publish only this entry key, e.g. \"123:Code review\" (repeatable)")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close()

	src, _, err := loadReport(ctx, app, publishFilter.overrides(cmd))
	if err != nil {
		return err
	}
	sel := app.Reports.Selection()
	day, err := timecalc.ParseDay(sel.Date, time.Local)
	if err != nil {
		return err
	}

	rows := src.Rows
	if len(publishOnly) > 0 {
		selectOnly(rows, publishOnly)
	}
	total := countSelected(rows)
	if total == 0 {
		return apperr.ErrNoSelection
	}

	dryTag := ""
	if publishDryRun {
		dryTag = " [dry-run]"
	}
	pterm.DefaultSection.Printfln("Publishing %s%s", sel.Date, dryTag)
	ui.PrintTable(ui.PublishData(rows), os.Stdout)

	if !publishDryRun && !publishYes {
		ok, err := pterm.DefaultInteractiveConfirm.
			WithDefaultText(fmt.Sprintf("Publish %d time entries? This action cannot be undone.", total)).
			Show()
		if err != nil {
			return err
		}
		if !ok {
			pterm.Info.Println("Nothing published.")
			return nil
		}
	}

	result, err := app.Publisher.Publish(ctx, day, rows, publish.Options{
		DefaultActivityID: sel.ActivityID,
		DryRun:            publishDryRun,
	})
	if err != nil {
		return err
	}

	if publishDryRun {
		data, err := json.MarshalIndent(result.Planned, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding planned entries: %w", err)
		}
		fmt.Println(string(data))
	} else {
		ui.PrintTable(ui.PublishData(rows), os.Stdout)
	}

	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  %d imported\n", result.Imported)
	fmt.Printf("  %d skipped\n", result.Skipped)
	if publishDryRun {
		fmt.Printf("  %d planned\n", len(result.Planned))
	}
	if result.Failed > 0 {
		fmt.Printf("  %d failed\n", result.Failed)
		return &exitError{code: 2, err: fmt.Errorf("%d of %d time entries failed (batch %s)", result.Failed, total, result.BatchID)}
	}
	return nil
}

// selectOnly keeps the selection of rows whose key is in keys.
func selectOnly(rows []*publish.Row, keys []string) {
	want := map[string]bool{}
	for _, k := range keys {
		want[k] = true
	}
	for _, r := range rows {
		r.Selected = r.Selected && want[r.Key]
	}
}

func countSelected(rows []*publish.Row) int {
	n := 0
	for _, r := range rows {
		if r.Selected && !r.Locked {
			n++
		}
	}
	return n
}
