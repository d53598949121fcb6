package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/itstheanurag/executioner/internal/config"
	"github.com/itstheanurag/executioner/internal/database"
	"github.com/itstheanurag/executioner/internal/executor"
	"github.com/itstheanurag/executioner/internal/languages"
	"github.com/itstheanurag/executioner/internal/queue"
	"github.com/itstheanurag/executioner/internal/rendezvous"
	"github.com/itstheanurag/executioner/internal/sandbox"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Pool is a standalone Worker Pool process: it dequeues and processes
// submissions against the shared Postgres/Redis backing stores, but has no
// local HTTP waiters, so completions it processes cannot wake a wait-mode
// caller blocked in a different process's rendezvous map (they still
// observe the terminal result via polling GET, per the at-most-once commit
// guarantee in the Submission Store).
type Pool struct {
	conf        *config.Config
	logger      *zerolog.Logger
	db          *database.Database
	redisClient *redis.Client
	workers     []*Worker
	cancel      context.CancelFunc
}

func NewPool(conf *config.Config, logger *zerolog.Logger) (*Pool, error) {
	db, err := database.New(conf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	redisClient, err := queue.NewRedisClient(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	repo := database.NewSubmissionRepository(db)
	registry := languages.NewRegistry()

	sb, err := sandbox.NewDockerSandbox(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	exec := executor.NewExecutor(registry, sb)

	queueManager := queue.NewManager(redisClient, conf.Redis.Prefix)
	rv := rendezvous.NewRegistry()

	concurrency := conf.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	workers := make([]*Worker, concurrency)
	for i := range workers {
		name := "standalone-worker-" + strconv.Itoa(i+1)
		workers[i] = New(name, registry, exec, repo, queueManager, rv, logger)
	}

	return &Pool{conf: conf, logger: logger, db: db, redisClient: redisClient, workers: workers}, nil
}

func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info().Int("workers", len(p.workers)).Msg("starting standalone worker pool")
	done := make(chan struct{}, len(p.workers))
	for _, w := range p.workers {
		go func(w *Worker) {
			w.Start(runCtx)
			done <- struct{}{}
		}(w)
	}
	for range p.workers {
		<-done
	}
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.db != nil {
		p.db.Close()
	}
	if p.redisClient != nil {
		_ = p.redisClient.Close()
	}
}
