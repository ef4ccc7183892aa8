// Package server exposes the reconciliation engine as a JSON HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Tiliavir/t2r/internal/model"
	"github.com/Tiliavir/t2r/internal/publish"
	"github.com/Tiliavir/t2r/internal/report"
)

// Source is the time-tracking service.
type Source interface {
	ListEntries(ctx context.Context, from, till time.Time, workspaceID *int64) ([]model.SourceRecord, error)
	ListWorkspaces(ctx context.Context) ([]model.Workspace, error)
}

// Target is the read side of the project-management service.
type Target interface {
	GetTimeEntries(ctx context.Context, from, till time.Time) ([]model.TargetTimeEntry, error)
	ListActivities(ctx context.Context) ([]model.Activity, error)
}

// Normalizer reconciles source records and enriches target entries.
type Normalizer interface {
	NormalizeRecords(ctx context.Context, records []model.SourceRecord, sel model.FilterSelection) ([]model.NormalizedEntry, error)
	Targets(ctx context.Context, entries []model.TargetTimeEntry) []model.TargetTimeEntry
}

// Reports is the filter and report state.
type Reports interface {
	Apply(ctx context.Context, sel model.FilterSelection) error
	Selection() model.FilterSelection
	Fragment() string
	Wait(ctx context.Context) error
	Source() report.SourceReport
	Target() report.TargetReport
}

// Publisher submits rows.
type Publisher interface {
	Publish(ctx context.Context, day time.Time, rows []*publish.Row, opts publish.Options) (publish.Result, error)
	Enabled() bool
}

// Deps are the components served by the API.
type Deps struct {
	Source     Source
	Target     Target
	Normalizer Normalizer
	Reports    Reports
	Publisher  Publisher
	Location   *time.Location
	Log        zerolog.Logger
}

// Server is the t2r HTTP API.
type Server struct {
	deps   Deps
	router *gin.Engine
}

// New creates the API server.
func New(deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Log))

	s := &Server{deps: deps, router: router}

	api := router.Group("/api")
	{
		api.GET("/toggl/time_entries", s.handleSourceEntries)
		api.GET("/toggl/workspaces", s.handleWorkspaces)
		api.GET("/redmine/time_entries", s.handleTargetEntries)
		api.GET("/redmine/activities", s.handleActivities)
		api.GET("/filter", s.handleGetFilter)
		api.POST("/filter", s.handleSetFilter)
		api.GET("/report", s.handleReport)
		api.POST("/publish", s.handlePublish)
	}

	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
