package cmd

import (
	"context"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/t2r/internal/appctx"
	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/report"
	"github.com/Tiliavir/t2r/internal/timecalc"
)

// filterFlags are the report filter flags shared by several commands.
type filterFlags struct {
	date      string
	workspace int64
	activity  int64
	round     int
	direction string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Day to report, e.g. 2024-02-22, \"Feb 22\" or a \"#date=2024-02-22\" link (default today)")
	cmd.Flags().Int64Var(&f.workspace, "workspace", 0, "Only entries of this Toggl workspace (0 for all)")
	cmd.Flags().Int64Var(&f.activity, "activity", 0, "Default Redmine activity id (0 to clear)")
	cmd.Flags().IntVar(&f.round, "round", 0, "Round durations to this many minutes (0 for whole minutes)")
	cmd.Flags().StringVar(&f.direction, "direction", "", "Rounding direction: regular, up, down")
}

// overrides returns the flags the user actually set. Zero ids clear the
// stored value.
func (f *filterFlags) overrides(cmd *cobra.Command) report.Overrides {
	var o report.Overrides
	flags := cmd.Flags()
	if flags.Changed("date") {
		date := f.date
		if d, ok := report.ParseFragment(date); ok {
			date = d
		}
		o.Date = &date
	}
	if flags.Changed("workspace") {
		o.WorkspaceID = &f.workspace
	}
	if flags.Changed("activity") {
		o.ActivityID = &f.activity
	}
	if flags.Changed("round") {
		o.RoundingStep = &f.round
	}
	if flags.Changed("direction") {
		policy := timecalc.RoundingPolicy(f.direction)
		o.RoundingPolicy = &policy
	}
	return o
}

// loadReport applies the stored filter with o on top and waits for both
// reports.
func loadReport(ctx context.Context, app *appctx.Context, o report.Overrides) (report.SourceReport, report.TargetReport, error) {
	if err := app.Reports.Reset(ctx, o); err != nil {
		return report.SourceReport{}, report.TargetReport{}, err
	}
	if err := app.Reports.Wait(ctx); err != nil {
		return report.SourceReport{}, report.TargetReport{}, err
	}
	src := app.Reports.Source()
	return src, app.Reports.Target(), src.Err
}

var filterFlagsSet filterFlags

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Show the stored report filter",
	Args:  cobra.NoArgs,
	RunE:  runFilterShow,
}

var filterSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the stored report filter",
	Args:  cobra.NoArgs,
	RunE:  runFilterSet,
}

func init() {
	filterFlagsSet.register(filterSetCmd)
	filterCmd.AddCommand(filterSetCmd)
}

func runFilterShow(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer app.Close()

	sel := app.Reports.Stored(report.Overrides{})
	printSelection(sel, report.Fragment(sel.Date))
	return nil
}

func runFilterSet(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer app.Close()

	sel, err := app.Reports.Save(app.Reports.Stored(filterFlagsSet.overrides(cmd)))
	if err != nil {
		return err
	}
	pterm.Success.Println("Filter saved.")
	printSelection(sel, report.Fragment(sel.Date))
	return nil
}

func printSelection(sel model.FilterSelection, fragment string) {
	optional := func(id *int64) string {
		if id == nil {
			return "-"
		}
		return strconv.FormatInt(*id, 10)
	}
	policy := string(sel.RoundingPolicy)
	if policy == "" {
		policy = string(timecalc.RoundRegular)
	}
	pterm.DefaultSection.Println("Filter")
	_ = pterm.DefaultBulletList.WithItems([]pterm.BulletListItem{
		{Level: 0, Text: "Date: " + sel.Date},
		{Level: 0, Text: "Workspace: " + optional(sel.WorkspaceID)},
		{Level: 0, Text: "Activity: " + optional(sel.ActivityID)},
		{Level: 0, Text: "Rounding: " + strconv.Itoa(sel.RoundingStep) + " min, " + policy},
		{Level: 0, Text: "Link: #" + fragment},
	}).Render()
}
