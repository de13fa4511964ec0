package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ldi/casegen/internal/api"
	"github.com/ldi/casegen/internal/config"
	"github.com/ldi/casegen/internal/db"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/httpclient"
	"github.com/ldi/casegen/internal/logging"
	"github.com/ldi/casegen/internal/metrics"
	"github.com/ldi/casegen/internal/session"
	"github.com/ldi/casegen/internal/tracker"
	"github.com/ldi/casegen/internal/wsclient"
)

var errNoProject = errors.New("no project selected: run 'casegen use <id>'")

type appOptions struct {
	openDB bool
	quiet  bool
	stdout io.Writer
	stderr io.Writer
}

// app holds everything a command may touch. Commands receive it explicitly.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	level    zap.AtomicLevel
	metrics  *metrics.Metrics
	errs     *errs.Handler
	db       *db.DB
	http     *httpclient.Client
	svc      *api.Service
	ws       *wsclient.Client
	tracker  *tracker.Tracker
	projects *session.ProjectContext
	guard    *session.Guard
	tasks    *session.TaskContext
	out      io.Writer
	errOut   io.Writer
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	level := zap.NewAtomicLevel()
	logger, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Verbose: verbose,
		Quiet:   opts.quiet,
		Atomic:  &level,
	})
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	handler := errs.NewHandler(logger, errs.NewWriterNotifier(opts.stderr), errs.LogReporter{Logger: logger}, cfg.IsProduction())
	handler.SetVersion(version)

	client := httpclient.New(cfg.APIBaseURL, cfg.Timeout,
		httpclient.WithLogger(logger),
		httpclient.WithMetrics(m),
		httpclient.WithUserAgent("casegen/"+version),
		httpclient.WithRateLimit(cfg.RateLimit, cfg.Workers),
	)
	svc := api.NewService(client)
	svc.SetMaxConcurrency(cfg.Workers)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		level:   level,
		metrics: m,
		errs:    handler,
		http:    client,
		svc:     svc,
		tracker: tracker.New(logger, m),
		out:     opts.stdout,
		errOut:  opts.stderr,
	}

	if opts.openDB {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := database.Init(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = database
		a.projects = session.NewProjectContext(database, svc, logger)
		a.guard = session.NewGuard(a.projects, publicCommands()...)
		a.tasks = session.NewTaskContext(a.tracker, svc, cfg.PollInterval, logger)
		a.tasks.SetRecorder(database)
	}
	return a, nil
}

func (a *app) close() {
	if a.tasks != nil {
		a.tasks.Close()
	}
	if a.ws != nil {
		a.ws.Disconnect()
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}

// snapshotPath sits next to the database.
func (a *app) snapshotPath() string {
	return filepath.Join(filepath.Dir(a.cfg.DBPath), "snapshot.jsonl")
}

// websocket connects the shared socket on first use. A failed dial is logged
// and nil is returned; callers fall back to polling.
func (a *app) websocket(ctx context.Context) *wsclient.Client {
	if a.ws != nil {
		return a.ws
	}
	opts := wsclient.Options{
		BaseURL:              a.cfg.WSBaseURL,
		UserID:               a.cfg.UserID,
		MaxReconnectAttempts: a.cfg.MaxReconnectAttempts,
		ReconnectDelay:       a.cfg.ReconnectDelay,
		HeartbeatInterval:    a.cfg.HeartbeatInterval,
	}
	// A zero in the config file means "never", not "use the default".
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = wsclient.Off
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = wsclient.Off
	}
	c := wsclient.New(opts, a.logger, a.metrics)
	if err := c.Connect(ctx); err != nil {
		a.logger.Warn("websocket unavailable, polling task status", zap.Error(err))
		return nil
	}
	a.ws = c
	return c
}

// requireProject runs the guard for path and, when no project is selected,
// asks the user to pick one.
func (a *app) requireProject(ctx context.Context, path string) error {
	d := a.guard.Resolve(ctx, path)
	switch d.State {
	case session.StateRender:
		return nil
	case session.StateError:
		return fmt.Errorf("failed to load the selected project: %w", d.Err)
	}

	page, err := a.svc.ListProjects(ctx, 1, api.MaxSize)
	if err != nil {
		return err
	}
	project, err := pickProject(page.Items, 0)
	if err != nil {
		return fmt.Errorf("failed to run project picker: %w", err)
	}
	if project == nil {
		return errNoProject
	}
	d = a.guard.Select(ctx, path, project)
	if d.Err != nil {
		return d.Err
	}
	fmt.Fprintf(a.out, "✓ Using project %s (#%d)\n", project.Name, project.ID)
	return nil
}

// projectID is the selected project, loading the stored selection when needed.
func (a *app) projectID(ctx context.Context) int64 {
	if a.projects == nil {
		return 0
	}
	if p, err := a.projects.Load(ctx); err == nil && p != nil {
		return p.ID
	}
	return 0
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func (a *app) retryOptions() errs.RetryOptions {
	return errs.RetryOptions{
		Attempts: a.cfg.RetryAttempts,
		Delay:    a.cfg.RetryDelay,
	}
}
