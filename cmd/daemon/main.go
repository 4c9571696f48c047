package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/amaeclinic/televisit/internal/availability"
	"github.com/amaeclinic/televisit/internal/config"
	"github.com/amaeclinic/televisit/internal/conflict"
	"github.com/amaeclinic/televisit/internal/hub"
	"github.com/amaeclinic/televisit/internal/lifecycle"
	"github.com/amaeclinic/televisit/internal/locks"
	tvlog "github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/match"
	"github.com/amaeclinic/televisit/internal/queue"
	"github.com/amaeclinic/televisit/internal/rowstore"
	"github.com/amaeclinic/televisit/internal/scheduler"
	"github.com/amaeclinic/televisit/internal/video"
	"github.com/amaeclinic/televisit/internal/worker"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const sweepInterval = time.Minute

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	tvlog.Configure(tvlog.Config{
		Level:   cfg.LogLevel,
		Service: "televisit",
		Version: version,
	})
	logger := tvlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Msg("configuration invalid")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Listen).
		Msg("starting televisit booking core")

	store := rowstore.New(cfg.RowStore.BaseURL, cfg.RowStore.ServiceKey, cfg.RowStore.Timeout)
	if err := store.Ping(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("row store unreachable")
	}

	progressHub := hub.New()
	defer progressHub.Close()

	jobQueue, err := queue.New(cfg.Redis, cfg.Worker.MaxRetries, progressHub)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("redis unreachable")
	}
	defer func() { _ = jobQueue.Close() }()

	slotEngine := availability.New(store)
	detector := conflict.New(store)
	matcher := match.New(store, slotEngine)

	lockMgr := locks.New(store, "", locks.DefaultTTL)
	booker := scheduler.New(store, lockMgr, detector, cfg.Booking)

	var rtcClient video.SessionProvider
	var rtcHealth healthChecker
	if cfg.VideoEnabled() {
		client := video.NewClient(cfg.Video)
		rtcClient = client
		rtcHealth = client
		logger.Info().Msg("video sessions enabled")
	} else {
		logger.Warn().Msg("video sessions disabled (RTC credentials not configured)")
	}
	coordinator := video.NewCoordinator(store, rtcClient, cfg.Video.PublicBaseURL)
	lifecycleSvc := lifecycle.NewService(store, lifecycle.DefaultRules(), coordinator)

	pipeline := worker.NewPipeline(jobQueue, matcher, slotEngine, booker, detector)
	pool := worker.NewPool(jobQueue, progressHub, pipeline, cfg.Worker)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := lockMgr.Sweep(gctx); err != nil {
					logger.Warn().Err(err).Msg("lock sweep failed")
				}
			}
		}
	})

	if cfg.VideoEnabled() {
		g.Go(func() error {
			coordinator.RunSweeper(gctx, cfg.Video.SweepInterval)
			return nil
		})
	}

	g.Go(func() error {
		lifecycleSvc.RunSweeper(gctx, sweepInterval)
		return nil
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           opsRouter(store, jobQueue, rtcHealth),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Listen).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}
	logger.Info().Msg("daemon exiting")
}

// pinger is the readiness contract for backing stores.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthChecker is the readiness contract for the RTC provider. Nil when
// video is disabled.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// opsRouter serves liveness, readiness, and metrics.
func opsRouter(store, jobQueue pinger, rtc healthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(60, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, "row store unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := jobQueue.Ping(ctx); err != nil {
			http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
			return
		}
		if rtc != nil {
			if err := rtc.HealthCheck(ctx); err != nil {
				http.Error(w, "video service unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
