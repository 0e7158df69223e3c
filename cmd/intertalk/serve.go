package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/intertalk/internal/api"
	"github.com/mattjoyce/intertalk/internal/bench"
	"github.com/mattjoyce/intertalk/internal/config"
	"github.com/mattjoyce/intertalk/internal/dispatch"
	"github.com/mattjoyce/intertalk/internal/events"
	"github.com/mattjoyce/intertalk/internal/journal"
	"github.com/mattjoyce/intertalk/internal/lock"
	"github.com/mattjoyce/intertalk/internal/log"
	"github.com/mattjoyce/intertalk/internal/storage"
	"github.com/mattjoyce/intertalk/internal/tui"
)

func printServeHelp() {
	fmt.Println("Usage: intertalk serve [--config PATH]")
	fmt.Println()
	fmt.Println("Runs the dispatcher in the foreground. Every tick_interval the bench")
	fmt.Println("workload is replayed and the journal is pruned to journal.retention.")
	fmt.Println("The read-only API is served when api.enabled is set.")
}

func printWatchHelp() {
	fmt.Println("Usage: intertalk watch [flags]")
	fmt.Println()
	fmt.Println("Live view of conditions and the dispatcher event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    API URL (default: http://127.0.0.1:8090)")
	fmt.Println("  --api-key KEY    Bearer token (default: $INTERTALK_API_KEY)")
}

func getPIDLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Journal.Path), "intertalk.lock")
}

// service is the composition root for serve.
type service struct {
	cfg     *config.Config
	hub     *events.Hub
	journal *journal.Journal
	disp    *dispatch.Dispatcher
	logger  *slog.Logger
}

func newService(ctx context.Context, cfg *config.Config) (*service, func(), error) {
	s := &service{
		cfg:    cfg,
		hub:    events.NewHub(256),
		logger: log.WithComponent("main"),
	}
	cleanup := func() {}

	opts := dispatch.Options{
		Workers: cfg.Dispatch.Workers,
		Events:  s.hub,
	}
	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open journal %s: %w", cfg.Journal.Path, err)
		}
		cleanup = func() { _ = db.Close() }
		s.journal = journal.New(db)
		opts.Recorder = s.journal
		s.logger.Info("journal opened", "path", cfg.Journal.Path)
	}
	s.disp = dispatch.New(opts)
	return s, cleanup, nil
}

func (s *service) apiServer() *api.Server {
	var lister api.InvocationLister
	if s.journal != nil {
		lister = s.journal
	}
	return api.New(api.Config{
		Listen:      s.cfg.API.Listen,
		APIKey:      s.cfg.API.Auth.APIKey,
		CORSOrigins: s.cfg.API.CORSOrigins,
	}, s.disp, lister, s.hub, log.WithComponent("api"))
}

// tick replays the bench workload and prunes the journal.
func (s *service) tick(ctx context.Context) {
	report, err := bench.Run(ctx, s.disp, bench.Options{
		Depth:       s.cfg.Bench.Depth,
		Subscribers: s.cfg.Bench.Subscribers,
		InitialB:    s.cfg.Bench.InitialB,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("bench run failed", "error", err)
		}
		return
	}
	s.logger.Info("bench run complete",
		"subscribers", report.Subscribers,
		"parallel", report.Parallel,
		"sequential", report.Sequential,
	)

	if s.journal != nil && s.cfg.Journal.Retention > 0 {
		n, err := s.journal.Prune(ctx, s.cfg.Journal.Retention)
		if err != nil {
			s.logger.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			s.logger.Debug("journal pruned", "deleted", n)
		}
	}
}

func (s *service) soak(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Service.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("intertalk starting", "version", version, "config", resolved)

	pidLockPath := getPIDLockPath(cfg)
	if err := storage.CheckLocalFilesystem(pidLockPath); err != nil {
		logger.Error("PID lock path rejected", "path", pidLockPath, "error", err)
		return 1
	}
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, cleanup, err := newService(ctx, cfg)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer cleanup()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		if err := svc.soak(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("soak: %w", err)
		}
	}()

	if cfg.API.Enabled {
		srv := svc.apiServer()
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("intertalk running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("intertalk stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8090", "API URL")
	apiKey := fs.String("api-key", os.Getenv("INTERTALK_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or INTERTALK_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(tui.NewMonitor(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
