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

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/batch-rewriter/internal/config"
	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/internal/httpapi"
	"github.com/MimeLyc/batch-rewriter/internal/jobs"
	"github.com/MimeLyc/batch-rewriter/internal/llm"
	"github.com/MimeLyc/batch-rewriter/internal/persistence"
	"github.com/MimeLyc/batch-rewriter/internal/queue"
	"github.com/MimeLyc/batch-rewriter/internal/rewrite"
	"github.com/MimeLyc/batch-rewriter/internal/service"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
)

const (
	localContinuationWorkers = 4
	shutdownTimeout          = 10 * time.Second
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// appStore is satisfied by both SQL backends.
type appStore interface {
	jobs.Store
	content.Store
	rewrite.HistoryStore
	Close() error
}

type app struct {
	cfg           *config.Config
	store         appStore
	settings      *config.RuntimeSettingsStore
	continuations jobs.Continuations
	runner        *jobs.Runner
	manager       *jobs.Manager
	recovery      *service.RecoveryService
	cron          *cron.Cron
	server        *httpapi.Server
}

func main() {
	config.LoadDotEnv()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.SetLevel(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to start: %v", err)
	}
	defer a.Close()

	a.continuations.Start(a.runner.Execute)
	if err := runWithComponents(ctx, cfg, a.recovery, a.cron, a.server); err != nil {
		log.Error("Exited with error: %v", err)
		os.Exit(1)
	}
}

// loadConfig parses the environment and overlays the runtime settings file
// when one exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadRuntimeSettingsFile(cfg.System.SettingsFile)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings file: %w", err)
	}
	return config.NewFromEnv(config.WithRuntimeSettings(settings))
}

func openStore(ctx context.Context, cfg *config.Config) (appStore, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return persistence.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
	default:
		return persistence.NewSQLiteStore(cfg.DBPath())
	}
}

func openContinuations(ctx context.Context, cfg *config.Config) (jobs.Continuations, error) {
	if !cfg.Redis.Enabled() {
		log.Info("Continuations kept in process")
		return jobs.NewLocalContinuations(localContinuationWorkers), nil
	}
	client := queue.NewClient(cfg.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("Continuations kept in redis at %s", cfg.Redis.Addr)
	return queue.NewRedisContinuations(client, cfg.Redis), nil
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	settings, err := config.NewRuntimeSettingsStore(cfg.System.SettingsFile, cfg.RuntimeSettings())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("runtime settings: %w", err)
	}

	continuations, err := openContinuations(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	gateway := llm.NewGateway(llm.NewDefaultRegistry(cfg.Providers.LLMConfigs()), settings)
	rewriter := rewrite.NewService(gateway, store, rewrite.WithHistorySwitch(settings))
	runner := jobs.NewRunner(store, store, rewriter, continuations, jobs.RunnerOptions{
		ChunkSize:         cfg.Batch.ChunkSize,
		Chunks:            settings,
		ContinuationDelay: cfg.Batch.ContinuationDelay,
	})
	manager := jobs.NewManager(store, store, gateway, continuations)
	query := jobs.NewQuery(store, store, content.Links{SiteURL: cfg.System.SiteURL})

	cronEngine := cron.New()
	recovery := service.NewRecoveryService(manager, cronEngine, cfg.Batch.RecoveryCron)

	server := httpapi.NewServer(manager, query, rewriter,
		httpapi.WithContentStore(store),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRecoveryReporter(recovery),
	)

	return &app{
		cfg:           cfg,
		store:         store,
		settings:      settings,
		continuations: continuations,
		runner:        runner,
		manager:       manager,
		recovery:      recovery,
		cron:          cronEngine,
		server:        server,
	}, nil
}

func (a *app) Close() {
	a.continuations.Stop()
	if err := a.store.Close(); err != nil {
		log.Warn("Failed to close store: %v", err)
	}
}

// runWithComponents schedules recovery, starts cron and serves HTTP until ctx
// is cancelled or the server fails.
func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	recovery scheduler,
	cronEngine cronEngine,
	httpSrv httpServer,
) error {
	if err := recovery.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule recovery: %w", err)
	}
	cronEngine.Start()
	defer func() {
		select {
		case <-cronEngine.Stop().Done():
		case <-time.After(shutdownTimeout):
			log.Warn("Cron jobs still running after %s", shutdownTimeout)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
