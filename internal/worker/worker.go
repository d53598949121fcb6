// Package worker implements one member of the Worker Pool: a loop that
// dequeues submission ids from the Job Queue, resolves and runs them through
// the Sandbox Runner, commits the terminal result to the Submission Store,
// and wakes anyone blocked on it in wait mode.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/itstheanurag/executioner/internal/apperr"
	"github.com/itstheanurag/executioner/internal/database"
	"github.com/itstheanurag/executioner/internal/domain"
	"github.com/itstheanurag/executioner/internal/executor"
	"github.com/itstheanurag/executioner/internal/languages"
	"github.com/itstheanurag/executioner/internal/queue"
	"github.com/itstheanurag/executioner/internal/rendezvous"
	"github.com/rs/zerolog"
)

// dequeueTimeout bounds each BLPOP call so the worker can still observe
// ctx cancellation (and refresh its heartbeat) between empty polls.
const dequeueTimeout = 5 * time.Second

type Worker struct {
	name       string
	registry   *languages.Registry
	executor   *executor.Executor
	repo       *database.SubmissionRepository
	queue      *queue.Manager
	rendezvous *rendezvous.Registry
	logger     *zerolog.Logger
}

func New(name string, registry *languages.Registry, exec *executor.Executor, repo *database.SubmissionRepository, q *queue.Manager, rv *rendezvous.Registry, logger *zerolog.Logger) *Worker {
	return &Worker{
		name:       name,
		registry:   registry,
		executor:   exec,
		repo:       repo,
		queue:      q,
		rendezvous: rv,
		logger:     logger,
	}
}

// Start registers the worker and runs its dequeue loop until ctx is
// cancelled, unregistering itself on the way out.
func (w *Worker) Start(ctx context.Context) {
	if err := w.queue.RegisterWorker(ctx, w.name); err != nil {
		w.logger.Error().Err(err).Str("worker", w.name).Msg("failed to register worker")
		return
	}
	defer func() {
		unregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.queue.UnregisterWorker(unregCtx, w.name); err != nil {
			w.logger.Warn().Err(err).Str("worker", w.name).Msg("failed to unregister worker")
		}
	}()

	w.logger.Info().Str("worker", w.name).Msg("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str("worker", w.name).Msg("worker stopping")
			return
		default:
		}

		id, ok, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Str("worker", w.name).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			_ = w.queue.SetWorkerState(ctx, w.name, queue.WorkerIdle)
			continue
		}

		w.processSubmission(ctx, id)
	}
}

func (w *Worker) processSubmission(ctx context.Context, id uuid.UUID) {
	logger := w.logger.With().Str("worker", w.name).Str("submission_id", id.String()).Logger()

	_ = w.queue.SetWorkerState(ctx, w.name, queue.WorkerBusy)
	defer func() {
		_ = w.queue.SetWorkerState(ctx, w.name, queue.WorkerIdle)
	}()
	defer w.rendezvous.Publish(id)

	if err := w.repo.MarkProcessing(ctx, id); err != nil {
		if apperr.IsNotFound(err) {
			logger.Info().Msg("submission was deleted before processing started")
			return
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindConflict {
			logger.Info().Msg("submission is no longer pending, skipping")
			return
		}
		logger.Error().Err(err).Msg("failed to mark submission processing")
		_ = w.queue.MarkFailed(ctx, id)
		return
	}

	sub, err := w.repo.Get(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("failed to reload submission after claiming it")
		_ = w.queue.MarkFailed(ctx, id)
		return
	}

	lang, ok := w.registry.Get(sub.LanguageID)
	if !ok {
		logger.Error().Int("language_id", sub.LanguageID).Msg("submission references unknown language")
		w.commit(ctx, id, domain.StatusError, nil, []byte("Unknown language"), nil, nil, logger)
		return
	}

	result, err := w.executor.Execute(ctx, sub, lang)
	if err != nil {
		logger.Error().Err(err).Msg("sandbox execution failed")
		w.commit(ctx, id, domain.StatusError, nil, []byte(err.Error()), nil, nil, logger)
		_ = w.queue.MarkFailed(ctx, id)
		return
	}

	w.commit(ctx, id, result.Status, result.Stdout, result.Stderr, result.CompileOutput, result.Meta, logger)
}

func (w *Worker) commit(ctx context.Context, id uuid.UUID, status domain.Status, stdout, stderr, compileOutput []byte, meta *domain.Meta, logger zerolog.Logger) {
	if err := w.repo.UpdateResult(ctx, id, status, stdout, stderr, compileOutput, meta); err != nil {
		if apperr.IsNotFound(err) {
			logger.Info().Msg("submission was deleted before result could be committed")
			return
		}
		logger.Error().Err(err).Msg("failed to commit submission result")
		_ = w.queue.MarkFailed(ctx, id)
		return
	}
	logger.Info().Str("status", string(status)).Msg("submission processed")
}
