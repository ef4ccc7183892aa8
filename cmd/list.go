package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/t2r/internal/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List Toggl workspaces or Redmine activities",
}

var listWorkspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "List the Toggl workspaces of the account",
	Args:  cobra.NoArgs,
	RunE:  runListWorkspaces,
}

var listActivitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "List the Redmine time entry activities",
	Args:  cobra.NoArgs,
	RunE:  runListActivities,
}

func init() {
	listCmd.AddCommand(listWorkspacesCmd)
	listCmd.AddCommand(listActivitiesCmd)
}

func runListWorkspaces(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close()

	workspaces, err := app.Toggl.ListWorkspaces(cmd.Context())
	if err != nil {
		return err
	}
	data := [][]string{{"ID", "Name"}}
	for _, w := range workspaces {
		data = append(data, []string{strconv.FormatInt(w.ID, 10), w.Name})
	}
	ui.PrintTable(data, os.Stdout)
	return nil
}

func runListActivities(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close()

	activities, err := app.Redmine.ListActivities(cmd.Context())
	if err != nil {
		return err
	}
	data := [][]string{{"ID", "Name", "Default"}}
	for _, a := range activities {
		def := ""
		if a.IsDefault {
			def = "yes"
		}
		data = append(data, []string{strconv.FormatInt(a.ID, 10), a.Name, def})
	}
	ui.PrintTable(data, os.Stdout)
	return nil
}
