// Package appctx builds the object graph shared by the CLI commands and the
// HTTP API: configuration, logger, storage, clients and engine components.
package appctx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/message"

	"github.com/Tiliavir/t2r/internal/config"
	"github.com/Tiliavir/t2r/internal/i18n"
	"github.com/Tiliavir/t2r/internal/ledger"
	"github.com/Tiliavir/t2r/internal/logging"
	"github.com/Tiliavir/t2r/internal/normalize"
	"github.com/Tiliavir/t2r/internal/publish"
	"github.com/Tiliavir/t2r/internal/queue"
	"github.com/Tiliavir/t2r/internal/redmine"
	"github.com/Tiliavir/t2r/internal/report"
	"github.com/Tiliavir/t2r/internal/storage"
	"github.com/Tiliavir/t2r/internal/toggl"
)

// Namespace prefixes every stored filter key.
const Namespace = "t2r"

// Context holds one instance of every long-lived component.
type Context struct {
	Config   config.Config
	Log      zerolog.Logger
	Messages *message.Printer

	DB      *storage.DB
	Durable storage.Store
	Session *storage.Session
	Ledger  *ledger.Ledger
	Queue   *queue.Queue

	Toggl   *toggl.Client
	Redmine *redmine.Client

	Normalizer *normalize.Normalizer
	Publisher  *publish.Publisher
	Reports    *report.Controller

	closers []io.Closer
}

// Options control where New puts its side effects.
type Options struct {
	// DBPath overrides the database location.
	DBPath string
	// LogOutput receives console logs, stderr when nil.
	LogOutput io.Writer
	// Location is the time zone of report days, time.Local when nil.
	Location *time.Location
}

// New wires the application from cfg.
func New(ctx context.Context, cfg config.Config, opts Options) (*Context, error) {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Format = cfg.Log.Format
	lc.File = cfg.Log.File
	log, logCloser := logging.New(lc, opts.LogOutput)

	a := &Context{
		Config:   cfg,
		Log:      log,
		Messages: i18n.NewPrinter(cfg.Language),
		closers:  []io.Closer{logCloser},
	}

	path := opts.DBPath
	if path == "" {
		var err error
		if path, err = storage.DefaultPath(); err != nil {
			a.Close()
			return nil, err
		}
	}
	db, err := storage.Open(path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db)
	a.Durable = db.Durable(Namespace)
	a.Session = storage.NewSession(Namespace)
	a.Ledger = ledger.New(db)
	a.Queue = queue.New(log.With().Str("component", "queue").Logger())

	httpClient, err := redmine.NewHTTPClient(ctx, cfg.Redmine.URL, redmine.AuthConfig{
		APIKey:       cfg.Redmine.APIKey,
		ClientID:     cfg.Redmine.OAuth.ClientID,
		ClientSecret: cfg.Redmine.OAuth.ClientSecret,
		TokenURL:     cfg.Redmine.OAuth.TokenURL,
		Scopes:       cfg.Redmine.OAuth.Scopes,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("configuring redmine client: %w", err)
	}
	a.Redmine = redmine.NewClient(httpClient, cfg.Redmine.URL)
	a.Toggl = toggl.NewClient(nil, cfg.Toggl.BaseURL, cfg.Toggl.APIToken)

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	a.Normalizer = normalize.New(a.Toggl, a.Redmine, a.Ledger, a.Messages, log.With().Str("component", "normalize").Logger()).
		WithLocation(loc)
	a.Publisher = publish.New(a.Queue, a.Redmine, a.Ledger, a.Messages, log.With().Str("component", "publish").Logger())

	debounce := cfg.Publish.Debounce
	if debounce <= 0 {
		debounce = report.DefaultDebounce
	}
	a.Reports = report.New(a.Durable, a.Session, a.Normalizer, a.Redmine, a.Publisher,
		log.With().Str("component", "report").Logger(),
		report.WithDebounce(debounce),
		report.WithLocation(loc),
	)
	a.Publisher.OnDrained(a.Reports.RefreshTarget)
	return a, nil
}

// Close ends the session and releases the database and the log file.
func (a *Context) Close() error {
	if a.Session != nil {
		a.Session.Clear()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
