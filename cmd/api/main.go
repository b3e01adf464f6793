package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	aiapp "github.com/bryanwahyu/vendor-compliance/internal/application/ai"
	analysisapp "github.com/bryanwahyu/vendor-compliance/internal/application/analysis"
	chatapp "github.com/bryanwahyu/vendor-compliance/internal/application/chat"
	"github.com/bryanwahyu/vendor-compliance/internal/config"
	domainai "github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/progress"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/ai/local"
	openaiclient "github.com/bryanwahyu/vendor-compliance/internal/infra/ai/openai"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/vendor-compliance/internal/infra/db/mysql"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/db/postgres"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/filestore"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/httpserver"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/realtime"
	minioStore "github.com/bryanwahyu/vendor-compliance/internal/infra/storage"
	"github.com/bryanwahyu/vendor-compliance/internal/middleware"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewMetrics()
	health := map[string]middleware.HealthChecker{}

	// init repo
	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("repository init error: %v", err)
	}
	if db != nil {
		defer db.Close()
		health["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	// init file store
	files, err := filestore.New(cfg.Uploads.Dir, filestore.Options{
		MaxFileBytes:     cfg.Uploads.MaxFileSizeMB << 20,
		MaxSessionBytes:  cfg.Uploads.MaxTotalSizeMB << 20,
		Extensions:       cfg.Uploads.AllowedExtensions,
		MaxDocumentChars: cfg.Analysis.MaxDocumentChars,
	})
	if err != nil {
		log.Fatalf("file store init error: %v", err)
	}

	// init AI, with the keyword analyzer when no API key is configured
	analyzer, summarizer, streamer := aiBackends(cfg)
	invoker := aiapp.NewInvoker(cfg.Analysis.Retry.BaseDelay, cfg.Analysis.Retry.MaxDelay, cfg.Analysis.Retry.MaxAttempts)
	invoker.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.Retry(attempt, delay, err)
		log.Printf("msg=ai call retry attempt=%d delay=%s err=%v", attempt, delay, err)
	}
	ai := aiapp.NewService(analyzer, summarizer, invoker)

	trust, err := analysisapp.NewTrustClassifier(cfg.Analysis.TrustedPatterns)
	if err != nil {
		log.Fatalf("trusted patterns: %v", err)
	}
	defaults, err := domain.NormalizeFrameworks(cfg.Analysis.DefaultFrameworks)
	if err != nil {
		log.Fatalf("default frameworks: %v", err)
	}

	hub := realtime.NewHub(nil, metrics.WebsocketGauge())
	orch := &analysisapp.Orchestrator{
		Repo:          repo,
		Files:         files,
		Analyzer:      ai,
		Summarizer:    ai,
		Publisher:     hub,
		Trust:         trust,
		Metrics:       metrics,
		Bands:         analysisapp.Bands(cfg.Analysis.Bands),
		DocumentPause: cfg.Analysis.DocumentPause,
	}

	// init minio (optional report archive)
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		orch.Archive = store
		health["archive"] = middleware.CheckerFunc(store.Ping)
	}

	supervisor := analysisapp.NewSupervisor(nil)
	svc := &analysisapp.Service{
		Repo:              repo,
		Files:             files,
		Runner:            orch,
		Supervisor:        supervisor,
		DefaultFrameworks: defaults,
	}
	chat := chatapp.NewService(streamer, svc, nil, nil)

	handler := httpserver.NewRouter(httpserver.Options{
		Analyses:          svc,
		Uploads:           files,
		Chat:              chat,
		Control:           &realtime.Control{Hub: hub, Jobs: svc, Chat: chat},
		Metrics:           metrics,
		Health:            health,
		CORSOrigins:       cfg.Server.CORSOrigins,
		APIKeys:           cfg.Server.APIKeys,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxUploadBytes:    cfg.Uploads.MaxFileSizeMB << 20,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// run server
	g.Go(func() error {
		log.Printf("server listening on %s driver=%s ai=%s", addr, cfg.Database.Driver, aiMode(cfg))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// sweep expired upload sessions
	g.Go(func() error {
		sweepUploads(gctx, files, cfg.Uploads.SweepInterval, cfg.Uploads.SessionTTL)
		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down server...")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// websocket clients are hijacked, srv.Shutdown does not reach them
		hub.Broadcast(sctx, progress.New(progress.ConnectionStatus, "Server shutting down", nil))
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := supervisor.Shutdown(sctx); err != nil {
			log.Printf("analysis shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("%v", err)
	}
}

// openRepository returns the job store for the configured driver; db is nil for memory.
func openRepository(ctx context.Context, cfg *config.Config) (domain.Repository, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		repo := mysqlp.NewJobRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("mysql migrate: %w", err)
		}
		return repo, db, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewJobRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return repo, db, nil
	case "memory":
		return memory.NewJobRepo(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func aiBackends(cfg *config.Config) (domain.DocumentAnalyzer, domain.Summarizer, domainai.ChatStreamer) {
	if cfg.OpenAI.APIKey == "" {
		return local.NewAnalyzer(), local.Summarizer{}, local.Chat{}
	}
	client := openaiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	if cfg.OpenAI.MaxTokens > 0 {
		client.MaxTokens = cfg.OpenAI.MaxTokens
	}
	return client, client, client
}

func aiMode(cfg *config.Config) string {
	if cfg.OpenAI.APIKey == "" {
		return "local"
	}
	return "openai:" + cfg.OpenAI.Model
}

func sweepUploads(ctx context.Context, files *filestore.Local, every, ttl time.Duration) {
	if every <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := files.CleanupExpired(ctx, ttl)
			if err != nil {
				log.Printf("msg=upload sweep failed err=%v", err)
				continue
			}
			if n > 0 {
				log.Printf("msg=expired upload sessions removed count=%d", n)
			}
		}
	}
}
