package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/t2r/internal/appctx"
	"github.com/Tiliavir/t2r/internal/config"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "t2r",
	Short: "Toggl to Redmine – review and publish tracked time",
	Long: `t2r reads the time entries of one day from Toggl Track, matches them to
Redmine issues and publishes the ones you select as Redmine time entries.
Published entries are remembered in ~/.local/share/t2r/t2r.db.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError makes Execute exit with a specific status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute is the entry point called from main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		pterm.Error.Println(err)
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/t2r/config.yml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file (default $XDG_DATA_HOME/t2r/t2r.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(serveCmd)
}

// openApp loads the configuration and wires the application. With remote
// set, missing credentials are reported before anything is opened.
func openApp(cmd *cobra.Command, remote bool) (*appctx.Context, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if remote {
		if err := cfg.CheckRemote(); err != nil {
			return nil, fmt.Errorf("incomplete configuration:\n%w", err)
		}
	}
	return appctx.New(cmd.Context(), cfg, appctx.Options{DBPath: dbPath})
}
