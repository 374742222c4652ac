// Package app wires all Phonotrail subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithContentStore,
// WithAnalyzer, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/fluentkids/phonotrail/internal/analysis"
	"github.com/fluentkids/phonotrail/internal/config"
	"github.com/fluentkids/phonotrail/internal/content"
	"github.com/fluentkids/phonotrail/internal/health"
	"github.com/fluentkids/phonotrail/internal/level"
	"github.com/fluentkids/phonotrail/internal/observe"
	"github.com/fluentkids/phonotrail/internal/progress"
	"github.com/fluentkids/phonotrail/internal/queue"
	"github.com/fluentkids/phonotrail/internal/reconcile"
	"github.com/fluentkids/phonotrail/internal/server"
	"github.com/fluentkids/phonotrail/internal/store/postgres"
)

// DefaultReplayInterval is how often the offline queue is swept.
const DefaultReplayInterval = time.Minute

// shutdownTimeout bounds the HTTP server drain on context cancellation.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfgMu sync.Mutex
	cfg   *config.Config

	content  content.Store
	progress progress.Store
	analyzer analysis.Analyzer
	queue    *queue.Store
	pipeline *reconcile.Pipeline
	metrics  *observe.Metrics
	server   *server.Server
	httpSrv  *http.Server

	replayInterval time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithContentStore injects a content store instead of connecting to Postgres.
func WithContentStore(s content.Store) Option {
	return func(a *App) { a.content = s }
}

// WithProgressStore injects a progress store instead of connecting to Postgres.
func WithProgressStore(s progress.Store) Option {
	return func(a *App) { a.progress = s }
}

// WithAnalyzer injects an analyzer instead of building the HTTP client.
func WithAnalyzer(az analysis.Analyzer) Option {
	return func(a *App) { a.analyzer = az }
}

// WithQueue injects an offline queue instead of opening the configured file.
func WithQueue(q *queue.Store) Option {
	return func(a *App) { a.queue = q }
}

// WithReplayInterval overrides the queue sweep cadence.
func WithReplayInterval(d time.Duration) Option {
	return func(a *App) { a.replayInterval = d }
}

// New creates an App by wiring all subsystems together: telemetry, storage,
// the offline queue, the analysis client, the reconciliation pipeline, and
// the websocket server.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, replayInterval: DefaultReplayInterval}
	for _, o := range opts {
		o(a)
	}

	telShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "phonotrail"})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return telShutdown(ctx)
	})

	a.metrics, err = observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}

	var checkers []health.Checker

	if err := a.initStorage(ctx, &checkers); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	if err := a.initQueue(&checkers); err != nil {
		return nil, fmt.Errorf("app: init queue: %w", err)
	}
	a.initAnalyzer(&checkers)

	resolver := a.buildResolver()
	a.pipeline = reconcile.New(
		reconcile.Config{
			MaxUploadAttempts: cfg.Analysis.MaxUploadAttempts,
			RetryBackoff:      cfg.Analysis.RetryBackoff,
			StrictPhoneme:     cfg.Analysis.StrictPhoneme,
			PhonemePenalty:    cfg.Analysis.PhonemePenalty,
		},
		a.analyzer, a.progress, a.queue,
		reconcile.WithResolver(resolver),
		reconcile.WithMetrics(a.metrics),
	)

	a.server = server.New(server.Config{
		Content:      a.content,
		Pipeline:     a.pipeline,
		Health:       health.New(checkers...),
		Metrics:      a.metrics,
		Tunables:     cfg.Game.Tunables(),
		TickInterval: cfg.Game.TickInterval(),
	})

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStorage connects the Postgres content and progress stores, unless both
// were injected.
func (a *App) initStorage(ctx context.Context, checkers *[]health.Checker) error {
	if a.content != nil && a.progress != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return errors.New("storage.postgres_dsn is required when stores are not injected")
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	if a.content == nil {
		a.content = store.Content()
	}
	if a.progress == nil {
		a.progress = store.Progress()
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	*checkers = append(*checkers, health.Database(store))
	return nil
}

// initQueue opens the SQLite offline queue, unless one was injected.
func (a *App) initQueue(checkers *[]health.Checker) error {
	if a.queue == nil {
		path := a.cfg.Storage.QueuePath
		if path == "" {
			return errors.New("storage.queue_path is required when the queue is not injected")
		}
		q, err := queue.Open(path)
		if err != nil {
			return err
		}
		a.queue = q
		a.closers = append(a.closers, q.Close)
	}
	*checkers = append(*checkers, health.Queue(a.queue))
	return nil
}

// initAnalyzer builds the analysis HTTP client. With no base URL configured
// every attempt settles through the offline queue, so a deliberately failing
// analyzer stands in.
func (a *App) initAnalyzer(checkers *[]health.Checker) {
	if a.analyzer == nil {
		baseURL := a.cfg.Analysis.BaseURL
		if baseURL == "" {
			slog.Warn("no analysis service configured, attempts settle through the offline queue")
			a.analyzer = unconfiguredAnalyzer{}
			return
		}
		var copts []analysis.Option
		if a.cfg.Analysis.Timeout > 0 {
			copts = append(copts, analysis.WithTimeout(a.cfg.Analysis.Timeout))
		}
		client, err := analysis.NewClient(baseURL, copts...)
		if err != nil {
			slog.Warn("analysis client misconfigured, attempts settle through the offline queue",
				"error", err)
			a.analyzer = unconfiguredAnalyzer{}
			return
		}
		a.analyzer = client
	}
	if baseURL := a.cfg.Analysis.BaseURL; baseURL != "" {
		*checkers = append(*checkers, health.AnalysisService(baseURL, nil))
	}
}

func (a *App) buildResolver() *level.Resolver {
	exercise := a.cfg.Progression.Exercise
	if exercise == "" {
		exercise = string(analysis.ExerciseSnake)
	}
	var ropts []level.ResolverOption
	if id := a.cfg.Progression.FallbackLevelID; id != "" {
		ropts = append(ropts, level.WithFallbackLevel(id))
	}
	return level.NewResolver(a.content, exercise, ropts...)
}

// Run serves HTTP and sweeps the offline queue until ctx ends, then drains
// the server. It blocks for the lifetime of the application.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.cfgMu.Lock()
	tlsCfg := a.cfg.Server.TLS
	a.cfgMu.Unlock()

	g.Go(func() error {
		slog.Info("server listening", "addr", a.httpSrv.Addr, "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = a.httpSrv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.replayLoop(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(drainCtx); err != nil {
			slog.Warn("server drain error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// replayLoop periodically replays queued attempts against the analysis
// service. A sweep already in flight is simply skipped.
func (a *App) replayLoop(ctx context.Context) {
	ticker := time.NewTicker(a.replayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := a.pipeline.Replay(ctx)
			switch {
			case errors.Is(err, reconcile.ErrReplayActive):
			case err != nil:
				slog.Warn("queue replay failed", "error", err)
			case stats.Replayed > 0 || stats.Dropped > 0:
				slog.Info("queue replay finished",
					"replayed", stats.Replayed,
					"dropped", stats.Dropped,
					"remaining", stats.Remaining,
				)
			}
		}
	}
}

// ApplyConfig applies a reloadable config change to the running subsystems.
// Changes flagged as requiring a restart are logged and skipped.
func (a *App) ApplyConfig(next *config.Config) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	d := config.Diff(a.cfg, next)
	if !d.Changed() {
		return
	}
	if d.RequiresRestart {
		slog.Warn("config change requires a restart to take effect")
	}
	if d.GameChanged {
		a.server.SetGameConfig(next.Game.Tunables(), next.Game.TickInterval())
		slog.Info("game tuning reloaded")
	}
	if d.AnalysisChanged {
		a.pipeline.SetConfig(reconcile.Config{
			MaxUploadAttempts: next.Analysis.MaxUploadAttempts,
			RetryBackoff:      next.Analysis.RetryBackoff,
			StrictPhoneme:     next.Analysis.StrictPhoneme,
			PhonemePenalty:    next.Analysis.PhonemePenalty,
		})
		slog.Info("analysis retry schedule reloaded")
	}
	a.cfg = next
}

// Handler exposes the root HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Shutdown runs the closers in order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// unconfiguredAnalyzer fails every upload so attempts land in the offline
// queue, matching the queue-only deployment mode.
type unconfiguredAnalyzer struct{}

func (unconfiguredAnalyzer) Analyze(context.Context, analysis.Request) (analysis.Result, error) {
	return analysis.Result{}, errors.New("app: no analysis service configured")
}
