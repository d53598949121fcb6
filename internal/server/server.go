// Package server wires the HTTP API process: the Submission Store, Job
// Queue, wait-mode rendezvous, Submission Service, and an embedded Worker
// Pool, exposed over net/http's ServeMux. Running workers in this same
// process is what lets the wait-mode rendezvous actually wake HTTP waiters
// (it is a process-local map); cmd/worker remains available as a separate,
// horizontally-scalable pool for additional throughput, at the cost of its
// completions never waking a waiter blocked in this process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/itstheanurag/executioner/internal/api"
	"github.com/itstheanurag/executioner/internal/config"
	"github.com/itstheanurag/executioner/internal/database"
	"github.com/itstheanurag/executioner/internal/executor"
	"github.com/itstheanurag/executioner/internal/health"
	"github.com/itstheanurag/executioner/internal/languages"
	"github.com/itstheanurag/executioner/internal/limiter"
	"github.com/itstheanurag/executioner/internal/queue"
	"github.com/itstheanurag/executioner/internal/rendezvous"
	"github.com/itstheanurag/executioner/internal/sandbox"
	"github.com/itstheanurag/executioner/internal/service"
	"github.com/itstheanurag/executioner/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Server struct {
	conf          *config.Config
	logger        *zerolog.Logger
	httpServer    *http.Server
	db            *database.Database
	redisClient   *redis.Client
	rateLimiter   *limiter.RateLimiter
	registry      *languages.Registry
	sandbox       sandbox.Sandbox
	workers       []*worker.Worker
	cancelWorkers context.CancelFunc
	cancelCleanup context.CancelFunc
}

func New(conf *config.Config, logger *zerolog.Logger) (*Server, error) {
	db, err := database.New(conf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	redisClient, err := queue.NewRedisClient(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	repo := database.NewSubmissionRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure submissions schema: %w", err)
	}

	registry := languages.NewRegistry()
	sb, err := sandbox.NewDockerSandbox(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	exec := executor.NewExecutor(registry, sb)

	queueManager := queue.NewManager(redisClient, conf.Redis.Prefix)
	rendezvousRegistry := rendezvous.NewRegistry()
	submissionService := service.New(repo, registry, queueManager, rendezvousRegistry, conf.Sandbox)
	checker := health.NewChecker(db, redisClient, queueManager)

	concurrency := conf.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	workers := make([]*worker.Worker, concurrency)
	for i := range workers {
		name := "worker-" + strconv.Itoa(i+1)
		workers[i] = worker.New(name, registry, exec, repo, queueManager, rendezvousRegistry, logger)
	}

	rl := limiter.NewFromConfig(conf.RateLimit, conf.WorkerConcurrency*4)
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	rl.StartCleanup(cleanupCtx, 5*time.Minute)

	handler := api.NewHandler(submissionService, registry, checker, conf, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ping", handler.Ping)
	mux.HandleFunc("GET /health/", handler.HealthOverall)
	mux.HandleFunc("GET /health/database", handler.HealthDatabase)
	mux.HandleFunc("GET /health/redis", handler.HealthRedis)
	mux.HandleFunc("GET /health/workers", handler.HealthWorkers)

	mux.HandleFunc("GET /languages/", handler.ListLanguages)
	mux.HandleFunc("GET /languages/{id}", handler.GetLanguage)

	mux.HandleFunc("POST /submissions/", rl.Middleware(handler.CreateSubmission))
	mux.HandleFunc("POST /submissions/batch", rl.Middleware(handler.CreateBatch))
	mux.HandleFunc("GET /submissions/", handler.ListSubmissions)
	mux.HandleFunc("GET /submissions/batch", handler.GetBatchSubmissions)
	mux.HandleFunc("GET /submissions/{id}", handler.GetSubmission)
	mux.HandleFunc("DELETE /submissions/{id}", handler.DeleteSubmission)

	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      mux,
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	s := &Server{
		conf:          conf,
		logger:        logger,
		httpServer:    httpServer,
		db:            db,
		redisClient:   redisClient,
		rateLimiter:   rl,
		registry:      registry,
		sandbox:       sb,
		workers:       workers,
		cancelCleanup: cancelCleanup,
	}

	return s, nil
}

func (s *Server) Start() error {
	if err := s.ensureImages(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure docker images: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWorkers = cancel
	for _, w := range s.workers {
		go w.Start(ctx)
	}

	s.logger.Info().Str("port", s.conf.Server.Port).Int("workers", len(s.workers)).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) ensureImages(ctx context.Context) error {
	images := make(map[string]bool)
	for _, l := range s.registry.List() {
		images[l.Image] = true
	}
	for img := range images {
		if err := s.sandbox.EnsureImage(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if s.cancelWorkers != nil {
		s.cancelWorkers()
	}
	if s.cancelCleanup != nil {
		s.cancelCleanup()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.db != nil {
		s.db.Close()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}

	return nil
}
