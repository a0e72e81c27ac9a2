// Package cli wires configuration, persistence, the stress test scope and the monitor into the
// commands of the searchmeter binary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/searchmeter/internal/config"
	"github.com/studiowebux/searchmeter/internal/logging"
	"github.com/studiowebux/searchmeter/internal/monitor"
	"github.com/studiowebux/searchmeter/internal/solr"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/stresstest"
)

// Options are the flags shared by every command
type Options struct {
	ConfigPath string
	LogLevel   string
	NoPersist  bool
	// Quiet routes logs to the log file instead of stderr, for commands that own the terminal
	Quiet bool
}

// App is a loaded configuration with its logger, run store and scope
type App struct {
	Config   *config.File
	Logger   *zap.Logger
	Manager  *stresstest.Manager
	Provider *config.FileProvider
	Scope    *stresstest.Scope
}

// Open loads the configuration and builds everything a command needs. The scope is not
// restarted yet.
func Open(opts Options) (*App, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	path := config.ResolveConfigPath(opts.ConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if opts.LogLevel != "" {
		logCfg.Level = opts.LogLevel
	}
	if opts.Quiet {
		logCfg.OutputPaths = []string{config.LogPath}
		logCfg.ErrorOutputPaths = []string{config.LogPath}
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if path != "" {
		logger.Debug("Configuration loaded", zap.String("path", path))
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Provider: &config.FileProvider{Path: path, Logger: logger},
	}

	scopeOpts := []stresstest.ScopeOption{stresstest.WithScopeLogger(logger)}
	if cfg.Database.Enabled && !opts.NoPersist {
		if app.Manager, err = openManager(cfg); err != nil {
			_ = logger.Sync()
			return nil, err
		}
		scopeOpts = append(scopeOpts, stresstest.WithManager(app.Manager))
	}

	app.Scope = stresstest.NewScope(app.Provider, statistics.NewRegistry(), scopeOpts...)
	return app, nil
}

func openManager(cfg *config.File) (*stresstest.Manager, error) {
	dbPath := config.DatabasePath
	if cfg.Database.Path != "" {
		dbPath = config.ResolveRelative(cfg.Path(), cfg.Database.Path)
	}
	mgr, err := stresstest.NewManager(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return mgr, nil
}

// Close stops the test and releases the store
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.DrainTimeout+5*time.Second)
	defer cancel()

	var errs []error
	if a.Scope != nil {
		errs = append(errs, a.Scope.Close(ctx))
	}
	if a.Manager != nil {
		errs = append(errs, a.Manager.Close())
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

// restart builds the test. Non-fatal component errors are printed and ignored.
func (a *App) restart(ctx context.Context) error {
	err := a.Scope.Restart(ctx)
	if err == nil {
		return nil
	}
	var be *stresstest.BuildError
	if errors.As(err, &be) && !be.Fatal() {
		for _, ce := range be.Errors {
			fmt.Fprintf(os.Stderr, "warning: %s\n", ce.Error())
		}
		return nil
	}
	return err
}

// server builds the HTTP monitor from the configuration
func (a *App) server(readOnly bool) *monitor.Server {
	opts := []monitor.ServerOption{
		monitor.WithServerLogger(a.Logger),
		monitor.WithStreamInterval(a.Config.Monitor.RefreshInterval),
		monitor.WithControlRate(a.Config.Monitor.ControlRate),
	}
	if readOnly {
		opts = append(opts, monitor.WithReadOnly())
	}
	return monitor.NewServer(a.Scope, opts...)
}

const pingTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// warnIfUnreachable checks the search service before a run. A failure only prints a warning.
func warnIfUnreachable(ctx context.Context, w io.Writer, p pinger) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		fmt.Fprintf(w, "warning: search service is not answering: %v\n", err)
		return false
	}
	return true
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// RunOptions are the flags of the run command
type RunOptions struct {
	Options
	// Duration stops the test after this long, 0 runs until the sources are exhausted or a signal
	Duration time.Duration
	// Serve also exposes the read-only monitor while running
	Serve        bool
	OutputFormat string
}

// Run executes the configured test headless and prints a summary
func Run(opts RunOptions) error {
	app, err := Open(opts.Options)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := app.restart(ctx); err != nil {
		return err
	}
	if client, err := solr.NewClient(app.Config.Solr, app.Logger); err == nil {
		warnIfUnreachable(ctx, os.Stderr, client)
	}
	if err := app.Scope.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	if opts.Serve {
		srv := app.server(true)
		g.Go(func() error {
			return srv.ListenAndServe(serveCtx, app.Config.Monitor.Listen)
		})
	}

	g.Go(func() error {
		defer stopServe()
		waitCtx := gctx
		if opts.Duration > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(gctx, opts.Duration)
			defer cancel()
		}
		if err := app.Scope.Wait(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return err
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), app.Config.DrainTimeout+5*time.Second)
		defer cancel()
		return app.Scope.Stop(stopCtx)
	})

	runErr := g.Wait()

	summary := NewSummary(app.Scope.Run(), app.Scope.Status(), app.Scope.Statistics().Snapshots())
	if err := printSummary(os.Stdout, summary, opts.OutputFormat); err != nil {
		return err
	}
	return runErr
}

// Dashboard runs the terminal dashboard, optionally with the HTTP monitor
func Dashboard(opts Options, serve bool) error {
	opts.Quiet = true
	app, err := Open(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := app.restart(ctx); err != nil {
		return err
	}

	if serve {
		srv := app.server(false)
		go func() {
			if err := srv.ListenAndServe(ctx, app.Config.Monitor.Listen); err != nil {
				app.Logger.Error("Monitor failed", zap.Error(err))
			}
		}()
	}

	keys, err := app.Config.KeyBindings()
	if err != nil {
		return err
	}
	return monitor.RunDashboard(app.Scope, app.Config.Monitor.RefreshInterval, keys)
}

// Serve runs the HTTP monitor with control routes until interrupted. With start set the test is
// started right away.
func Serve(opts Options, start bool) error {
	app, err := Open(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := app.restart(ctx); err != nil {
		// the restart route can recover once the configuration is fixed
		app.Logger.Error("Initial build failed", zap.Error(err))
	} else if start {
		if err := app.Scope.Start(ctx); err != nil {
			return err
		}
	}

	return app.server(false).ListenAndServe(ctx, app.Config.Monitor.Listen)
}
