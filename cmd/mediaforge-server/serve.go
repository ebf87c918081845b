package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yunfie-twitter/ytdlp-api/internal/auth"
	"github.com/yunfie-twitter/ytdlp-api/internal/config"
	"github.com/yunfie-twitter/ytdlp-api/internal/coordination"
	cerrors "github.com/yunfie-twitter/ytdlp-api/internal/errors"
	"github.com/yunfie-twitter/ytdlp-api/internal/httpapi"
	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
	"github.com/yunfie-twitter/ytdlp-api/internal/metrics"
	"github.com/yunfie-twitter/ytdlp-api/internal/observability"
	"github.com/yunfie-twitter/ytdlp-api/internal/progress"
	"github.com/yunfie-twitter/ytdlp-api/internal/scheduler"
	"github.com/yunfie-twitter/ytdlp-api/internal/store"
	"github.com/yunfie-twitter/ytdlp-api/internal/store/inmemory"
	"github.com/yunfie-twitter/ytdlp-api/internal/store/postgres"
	"github.com/yunfie-twitter/ytdlp-api/internal/subprocess"
)

func newServeCommand() *cobra.Command {
	var configPath, obsConfigPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the download/transcode scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			obsCfg, err := observability.LoadConfig(obsConfigPath)
			if err != nil {
				return fmt.Errorf("load observability config: %w", err)
			}
			return runServe(cmd.Context(), cfg, obsCfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml")
	cmd.Flags().StringVar(&obsConfigPath, "observability-config", "observability.yaml", "Path to observability.yaml")
	return cmd
}

// runServe wires C1-C6 into a running HTTP server and blocks until the
// process receives SIGINT/SIGTERM.
func runServe(ctx context.Context, cfg config.Config, obsCfg observability.Config) error {
	base := observability.NewLogger(observability.LogConfig{
		Level:  obsCfg.Logging.Level,
		Format: obsCfg.Logging.Format,
	})
	logger := logging.FromObservabilityWithComponent(base, "mediaforge-server")

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	tasks, queue, closeStores, err := buildStores(ctx, cfg, logging.FromObservabilityWithComponent(base, "store"))
	if err != nil {
		return err
	}
	defer closeStores()

	reg := metrics.New()

	// spec.md §4.4 mandates a 60s open-circuit timeout; the package
	// default is tuned for a different caller (30s) so it's overridden
	// here rather than reused.
	breakers := cerrors.NewCircuitBreakerManager(cerrors.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		OnStateChange: func(from, to cerrors.CircuitState, name string) {
			logger.Warn("circuit %s transitioned from %v to %v", name, from, to)
			reg.SetCircuitState(name, float64(to))
		},
	})

	formats := subprocess.DefaultFormatsTable()
	runner := subprocess.NewLocalRunner(logging.FromObservabilityWithComponent(base, "subprocess"))

	resourceMonitor := subprocess.NewResourceMonitor(10*time.Second, logging.FromObservabilityWithComponent(base, "resource-monitor"))
	runner.OnProcessStart = func(taskID string, pid int) {
		resourceMonitor.Watch(taskID, int32(pid), subprocess.ResourceCeiling{
			MaxRSSBytes:   2 << 30,
			MaxCPUPercent: 400,
		})
	}
	runner.OnProcessEnd = resourceMonitor.Unwatch

	const progressTTL = 10 * time.Minute
	tracker := progress.New(queue, progressTTL, logging.FromObservabilityWithComponent(base, "progress"))

	schedCfg := scheduler.Config{
		MaxConcurrent:      cfg.MaxConcurrentDownloads,
		DefaultMaxAttempts: 3,
		DownloadDir:        cfg.DownloadDir,
		ProgressTTL:        progressTTL,
		Progress:           tracker,
	}
	sched := scheduler.New(schedCfg, tasks, queue, runner, formats, breakers, logging.FromObservabilityWithComponent(base, "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	supervisor := scheduler.NewSupervisor(sched, 30*time.Second, logging.FromObservabilityWithComponent(base, "supervisor"))
	supervisor.Start(ctx)
	defer supervisor.Stop()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// bg supervises the cleanup-sweep ticker, the resource-monitor loop,
	// and the queue-depth gauge loop, so shutdown can wait for all three
	// to actually exit instead of leaking them past process shutdown.
	bg, bgCtx := errgroup.WithContext(sigCtx)
	bg.Go(func() error {
		runCleanupLoop(bgCtx, sched, cfg.AutoDeleteAfter)
		return nil
	})
	bg.Go(func() error {
		runResourceMonitorLoop(bgCtx, resourceMonitor, sched, logging.FromObservabilityWithComponent(base, "resource-monitor"))
		return nil
	})
	bg.Go(func() error {
		runGaugeLoop(bgCtx, queue, sched, reg)
		return nil
	})

	authMgr := auth.NewManager(queue, auth.Config{
		Secret:        cfg.SecretKey,
		Issuer:        "mediaforge-server",
		Algorithm:     cfg.JWTAlgorithm,
		TTL:           time.Duration(cfg.JWTExpirationDays) * 24 * time.Hour,
		IssuePassword: cfg.APIKeyIssuePassword,
	})

	srv := httpapi.NewServer(tasks, queue, runner, formats, sched, tracker, authMgr, cfg,
		httpapi.WithLogger(logging.FromObservabilityWithComponent(base, "httpapi")))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv.NewRouter(reg.Handler()),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCtx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	shutdownErr := httpSrv.Shutdown(shutdownCtx)
	_ = bg.Wait() // loops exit on sigCtx cancellation above; they never return an error
	return shutdownErr
}

// buildStores selects the in-memory or Postgres/Redis-backed C1/C2
// implementations depending on whether DatabaseURL/RedisURL are set,
// mirroring the teacher's bootstrap pattern of falling back to an
// in-process store when no DSN is configured.
func buildStores(ctx context.Context, cfg config.Config, logger logging.Logger) (store.TaskStore, coordination.Coordinator, func(), error) {
	noop := func() {}

	var tasks store.TaskStore
	var closePG func()
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		tasks = postgres.New(pool)
		closePG = pool.Close
	} else {
		logger.Warn("no database_url configured, using in-memory task store")
		tasks = inmemory.New()
		closePG = noop
	}

	var queue coordination.Coordinator
	var closeRedis func()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closePG()
			return nil, nil, noop, fmt.Errorf("parse redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		queue = coordination.NewRedisCoordinator(client, coordination.NewFallbackCache(1024))
		closeRedis = func() { _ = client.Close() }
	} else {
		logger.Warn("no redis_url configured, using in-memory coordinator")
		queue = coordination.NewInmemoryCoordinator()
		closeRedis = noop
	}

	return tasks, queue, func() { closePG(); closeRedis() }, nil
}

func runCleanupLoop(ctx context.Context, sched *scheduler.Scheduler, retention time.Duration) {
	ticker := time.NewTicker(scheduler.DefaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sched.RunCleanupSweep(ctx, retention)
		}
	}
}

func runResourceMonitorLoop(ctx context.Context, monitor *subprocess.ResourceMonitor, sched *scheduler.Scheduler, logger logging.Logger) {
	monitor.Run(ctx, func(breach subprocess.ResourceBreach) {
		logger.Warn("task %s exceeded resource ceiling: %s", breach.TaskID, breach.Reason)
		if _, err := sched.Cancel(ctx, breach.TaskID); err != nil {
			logger.Warn("cancel breached task %s: %v", breach.TaskID, err)
		}
	})
}

func runGaugeLoop(ctx context.Context, queue coordination.Coordinator, sched *scheduler.Scheduler, reg *metrics.ServiceMetrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := queue.QueueLen(ctx); err == nil {
				reg.SetQueueDepth(float64(n))
			}
			reg.SetActiveDownloads(float64(sched.ActiveCount()))
		}
	}
}
