package cmd

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/t2r/internal/i18n"
	"github.com/Tiliavir/t2r/internal/ui"
)

var (
	reportFilter filterFlags
	reportTarget bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the Toggl and Redmine reports of one day",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportFilter.register(reportCmd)
	reportCmd.Flags().BoolVar(&reportTarget, "redmine", true, "Also show the time entries already in Redmine")
}

func runReport(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close()

	src, tgt, err := loadReport(cmd.Context(), app, reportFilter.overrides(cmd))
	if err != nil {
		return err
	}
	sel := app.Reports.Selection()

	pterm.DefaultSection.Printfln("Toggl %s", sel.Date)
	if len(src.Entries) == 0 {
		pterm.Info.Println(app.Messages.Sprintf(i18n.MsgNoEntries))
	} else {
		ui.PrintTable(ui.SourceData(src.Entries), os.Stdout)
	}

	if !reportTarget {
		return nil
	}
	pterm.DefaultSection.Printfln("Redmine %s", sel.Date)
	switch {
	case tgt.Err != nil:
		pterm.Warning.Printfln("Could not load Redmine time entries: %v", tgt.Err)
	case len(tgt.Entries) == 0:
		pterm.Info.Println(app.Messages.Sprintf(i18n.MsgNoTargetEntries))
	default:
		ui.PrintTable(ui.TargetData(tgt.Entries), os.Stdout)
	}
	return nil
}
