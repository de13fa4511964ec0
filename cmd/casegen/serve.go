package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ldi/casegen/internal/config"
	"github.com/ldi/casegen/internal/logging"
	"github.com/ldi/casegen/internal/mcp"
	"github.com/ldi/casegen/internal/server"
	"github.com/ldi/casegen/pkg/models"
)

func runServe(ctx context.Context, a *app, args []string) error {
	fs := a.flags("serve")
	addr := fs.String("addr", a.cfg.ServeAddr, "Address to listen on")
	follow := fs.Bool("follow", true, "Track running backend tasks of the current project")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if path := resolvedConfigFile(); path != "" {
		stop := a.watchConfig(path)
		defer stop()
	}

	srv := server.NewServer(a.svc, a.tracker, a.db, a.metrics, a.logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(*addr)
	}()
	fmt.Fprintf(a.out, "✓ Dashboard on http://%s\n", *addr)

	if *follow {
		go a.followTasks(ctx)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve dashboard: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}
	return <-errCh
}

// watchConfig applies log level changes from the config file while serving.
func (a *app) watchConfig(path string) func() {
	w, err := config.NewWatcher(path)
	if err != nil {
		a.logger.Warn("config reload disabled", zap.String("path", path), zap.Error(err))
		return func() {}
	}
	w.OnChange(func(cfg *config.Config) {
		if err := logging.SetLevel(a.level, cfg.LogLevel); err != nil {
			a.logger.Warn("ignoring log level", zap.String("level", cfg.LogLevel), zap.Error(err))
			return
		}
		a.logger.Info("config reloaded", zap.String("log_level", cfg.LogLevel))
	})
	w.OnError(func(err error) {
		a.logger.Warn("config reload failed", zap.Error(err))
	})
	w.Start()
	return w.Stop
}

// followTasks picks up running tasks started elsewhere so the dashboard shows them.
func (a *app) followTasks(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		page, err := a.svc.ListTasks(ctx, models.TaskFilter{
			Status:    models.TaskStatusRunning,
			ProjectID: a.projectID(ctx),
			Size:      50,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Debug("failed to list running tasks", zap.Error(err))
		} else {
			for _, t := range page.Items {
				a.tasks.Track(ctx, t)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resolvedConfigFile mirrors the lookup order of config.Load.
func resolvedConfigFile() string {
	if configPath != "" {
		return configPath
	}
	candidates := []string{filepath.Join(".casegen", "casegen.yaml")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".casegen", "casegen.yaml"))
	}
	candidates = append(candidates, "casegen.yaml")
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func runMCP(ctx context.Context, a *app, args []string) error {
	a.db.EnableAutoSnapshot(a.snapshotPath())
	s := mcp.NewServer(a.db, a.svc, version)
	if err := mcp.Serve(s); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}
