package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/normalize"
	"github.com/Tiliavir/t2r/internal/report"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running Toggl timers and what is left to publish",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close()

	src, _, err := loadReport(cmd.Context(), app, report.Overrides{})
	if err != nil {
		return err
	}
	sel := app.Reports.Selection()
	parts := normalize.Split(src.Entries)

	if len(parts.Running) > 0 {
		fmt.Println("Running:")
		for _, e := range parts.Running {
			fmt.Printf("  %s\n", describe(e))
		}
	} else {
		fmt.Println("No running timer.")
	}

	fmt.Printf("%s: %d ready, %d invalid, %d published, %s total.\n",
		sel.Date, len(parts.Pending), len(parts.Invalid), len(parts.Imported), timecalc.FormatDuration(src.Total.Seconds()))
	if !app.Publisher.Enabled() {
		pterm.Info.Println("Nothing left to publish.")
	}
	return nil
}

func describe(e model.NormalizedEntry) string {
	if e.WorkItemID == nil {
		return e.Comment
	}
	return fmt.Sprintf("#%d %s", *e.WorkItemID, e.Comment)
}
