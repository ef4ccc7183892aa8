package cmd

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/t2r/internal/report"
	"github.com/Tiliavir/t2r/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reports and the publish action as a JSON API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default server.addr from the config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close()

	addr := serveAddr
	if addr == "" {
		addr = app.Config.Server.Addr
	}
	if app.Config.Log.Level != "debug" && app.Config.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Reports.Reset(ctx, report.Overrides{}); err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Source:     app.Toggl,
		Target:     app.Redmine,
		Normalizer: app.Normalizer,
		Reports:    app.Reports,
		Publisher:  app.Publisher,
		Log:        app.Log.With().Str("component", "server").Logger(),
	})

	pterm.Info.Printfln("Listening on http://%s/api", addr)
	if err := srv.Run(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
