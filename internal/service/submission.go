// Package service implements the Submission Service: request validation,
// default-filling from sandbox config, persistence, enqueue, and the
// wait-mode rendezvous, sitting between the HTTP surface and the durable
// store/job queue.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itstheanurag/executioner/internal/apperr"
	"github.com/itstheanurag/executioner/internal/config"
	"github.com/itstheanurag/executioner/internal/database"
	"github.com/itstheanurag/executioner/internal/domain"
	"github.com/itstheanurag/executioner/internal/languages"
	"github.com/itstheanurag/executioner/internal/queue"
	"github.com/itstheanurag/executioner/internal/rendezvous"
)

// CreateInput is the decoded, not-yet-validated request to create one
// submission. Decoding (including any base64 boundary handling) is the
// HTTP layer's job; this input is already plain bytes.
type CreateInput struct {
	SourceCode      []byte
	LanguageID      int
	Stdin           []byte
	ExpectedOutput  []byte
	HasExpectedOut  bool
	AdditionalFiles []domain.AdditionalFile

	// Zero-valued fields below fall back to the sandbox config defaults.
	CPUTimeLimit                float64
	CPUExtraTime                float64
	WallTimeLimit               float64
	MemoryLimitKB               int64
	MaxProcessesAndOrThreads    int
	MaxFileSizeKB               int64
	NumberOfRuns                int
	EnablePerProcessTimeLimit   bool
	EnablePerProcessMemoryLimit bool
	RedirectStderrToStdout      bool
	EnableNetwork               bool
}

type Service struct {
	repo       *database.SubmissionRepository
	registry   *languages.Registry
	queue      *queue.Manager
	rendezvous *rendezvous.Registry
	sandboxCfg config.SandboxConfig
}

func New(repo *database.SubmissionRepository, registry *languages.Registry, q *queue.Manager, rv *rendezvous.Registry, sandboxCfg config.SandboxConfig) *Service {
	return &Service{repo: repo, registry: registry, queue: q, rendezvous: rv, sandboxCfg: sandboxCfg}
}

// Create validates, persists, and enqueues one submission, returning it in
// its freshly-created PENDING state. The caller (HTTP handler) decides
// whether to wait for a terminal result afterward via Await.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Submission, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}
	return s.persist(ctx, in)
}

// CreateBatch validates every element first and persists none of them if any
// element is invalid — matching the distilled service's
// `create_batch_submissions`, which resolves the full set of language ids up
// front before calling its repository's `create_many`. Only once the whole
// batch passes validation does it get persisted to the Submission Store and
// enqueued to the Job Queue, so a rejected batch never leaves partial rows
// behind or partial jobs sitting in the queue for a worker to pick up.
func (s *Service) CreateBatch(ctx context.Context, inputs []CreateInput) ([]domain.Submission, error) {
	for i, in := range inputs {
		if err := s.validate(in); err != nil {
			if appErr, ok := apperr.As(err); ok {
				appErr.Field = fmt.Sprintf("[%d].%s", i, appErr.Field)
			}
			return nil, err
		}
	}

	subs := make([]domain.Submission, 0, len(inputs))
	for _, in := range inputs {
		sub, err := s.persist(ctx, in)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, nil
}

// validate runs every check that must pass before a submission touches the
// store or queue, with no side effects of its own.
func (s *Service) validate(in CreateInput) error {
	if err := s.validateLanguage(in.LanguageID); err != nil {
		return err
	}
	if err := validateAdditionalFiles(in.AdditionalFiles, s.sandboxCfg); err != nil {
		return err
	}
	if err := validateLimitOverrides(in); err != nil {
		return err
	}
	return nil
}

// persist writes an already-validated input to the Submission Store,
// registers its wait-mode rendezvous, and enqueues it to the Job Queue.
func (s *Service) persist(ctx context.Context, in CreateInput) (*domain.Submission, error) {
	sub := &domain.Submission{
		LanguageID:      in.LanguageID,
		SourceCode:      in.SourceCode,
		Stdin:           in.Stdin,
		ExpectedOutput:  in.ExpectedOutput,
		HasExpectedOut:  in.HasExpectedOut,
		AdditionalFiles: in.AdditionalFiles,
		Limits:          s.fillLimits(in),
	}
	if sub.SourceCode == nil {
		// source_code may be empty but the column is NOT NULL.
		sub.SourceCode = []byte{}
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	s.rendezvous.Register(sub.ID)
	if err := s.queue.Enqueue(ctx, sub.ID); err != nil {
		s.rendezvous.Forget(sub.ID)

		// The enqueue failure may itself be ctx being done; use a fresh
		// context so the compensating delete still gets a chance to run.
		delCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if delErr := s.repo.Delete(delCtx, sub.ID); delErr != nil {
			return nil, fmt.Errorf("failed to enqueue submission: %w (compensating delete also failed: %v)", err, delErr)
		}
		return nil, fmt.Errorf("failed to enqueue submission: %w", err)
	}

	return sub, nil
}

// Await blocks until the submission reaches a terminal status or ctx is
// done, then returns its current row. Used for wait=true requests.
func (s *Service) Await(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	s.rendezvous.AwaitTerminal(ctx, id)

	// ctx may already be done (the wait deadline elapsed); re-read the row
	// on a fresh, short-timeout context so the timeout can still be reported.
	readCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	sub, err := s.repo.Get(readCtx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Status.Terminal() {
		// The worker may still be running; give up waiting and leave the
		// job to finish on its own. Forget is a no-op if Publish already
		// fired (and removed the entry) in the race against this timeout.
		s.rendezvous.Forget(id)
		return sub, apperr.WaitTimeout("request timed out while waiting for submission to complete")
	}
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.Submission, error) {
	return s.repo.GetMany(ctx, ids)
}

func (s *Service) List(ctx context.Context, page, pageSize int) (*domain.Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return s.repo.List(ctx, page, pageSize)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) validateLanguage(id int) error {
	if _, ok := s.registry.Get(id); !ok {
		return apperr.Validation("language_id", fmt.Sprintf("language with id %d is not supported", id))
	}
	return nil
}

// validateLimitOverrides rejects negative sandbox-limit overrides before
// fillLimits decides whether to apply the config default in their place —
// a negative value is never a "use the default" sentinel, it is a
// malformed request.
func validateLimitOverrides(in CreateInput) error {
	if in.CPUTimeLimit < 0 {
		return apperr.Unprocessable("cpu_time_limit", "cpu_time_limit must not be negative")
	}
	if in.CPUExtraTime < 0 {
		return apperr.Unprocessable("cpu_extra_time", "cpu_extra_time must not be negative")
	}
	if in.WallTimeLimit < 0 {
		return apperr.Unprocessable("wall_time_limit", "wall_time_limit must not be negative")
	}
	if in.MemoryLimitKB < 0 {
		return apperr.Unprocessable("memory_limit", "memory_limit must not be negative")
	}
	if in.MaxProcessesAndOrThreads < 0 {
		return apperr.Unprocessable("max_processes_and_or_threads", "max_processes_and_or_threads must not be negative")
	}
	if in.MaxFileSizeKB < 0 {
		return apperr.Unprocessable("max_file_size", "max_file_size must not be negative")
	}
	if in.NumberOfRuns < 0 {
		return apperr.Unprocessable("number_of_runs", "number_of_runs must not be negative")
	}
	return nil
}

func validateAdditionalFiles(files []domain.AdditionalFile, cfg config.SandboxConfig) error {
	if len(files) > cfg.MaxAdditionalFiles {
		return apperr.Validation("additional_files", fmt.Sprintf("at most %d additional files are allowed", cfg.MaxAdditionalFiles))
	}
	var totalBytes int64
	for _, f := range files {
		if err := validateFilename(f.Name); err != nil {
			return err
		}
		totalBytes += int64(len(f.Content))
	}
	if totalBytes > cfg.MaxAdditionalFilesSizeKB*1024 {
		return apperr.Validation("additional_files", "additional files exceed the total size limit")
	}
	return nil
}

// validateFilename rejects path separators and parent-directory references,
// the same guard the worker's sandbox materialization step depends on: every
// additional file must land directly in the sandbox scratch directory.
func validateFilename(name string) error {
	if name == "" {
		return apperr.Validation("additional_files", "file name must not be empty")
	}
	for _, r := range name {
		if r == '/' || r == '\\' {
			return apperr.Validation("additional_files", fmt.Sprintf("file name %q must not contain path separators", name))
		}
	}
	if name == "." || name == ".." {
		return apperr.Validation("additional_files", fmt.Sprintf("file name %q is not allowed", name))
	}
	return nil
}

func (s *Service) fillLimits(in CreateInput) domain.Limits {
	l := domain.Limits{
		CPUTimeLimit:                in.CPUTimeLimit,
		CPUExtraTime:                in.CPUExtraTime,
		WallTimeLimit:               in.WallTimeLimit,
		MemoryLimitKB:               in.MemoryLimitKB,
		MaxProcessesAndOrThreads:    in.MaxProcessesAndOrThreads,
		MaxFileSizeKB:               in.MaxFileSizeKB,
		NumberOfRuns:                in.NumberOfRuns,
		EnablePerProcessTimeLimit:   in.EnablePerProcessTimeLimit,
		EnablePerProcessMemoryLimit: in.EnablePerProcessMemoryLimit,
		RedirectStderrToStdout:      in.RedirectStderrToStdout,
		EnableNetwork:               in.EnableNetwork,
	}
	if l.CPUTimeLimit == 0 {
		l.CPUTimeLimit = s.sandboxCfg.CPUTimeLimit
	}
	if l.CPUExtraTime == 0 {
		l.CPUExtraTime = s.sandboxCfg.CPUExtraTime
	}
	if l.WallTimeLimit == 0 {
		l.WallTimeLimit = s.sandboxCfg.WallTimeLimit
	}
	if l.MemoryLimitKB == 0 {
		l.MemoryLimitKB = s.sandboxCfg.MemoryLimit
	}
	if l.MaxProcessesAndOrThreads == 0 {
		l.MaxProcessesAndOrThreads = s.sandboxCfg.MaxProcesses
	}
	if l.MaxFileSizeKB == 0 {
		l.MaxFileSizeKB = s.sandboxCfg.MaxFileSize
	}
	if l.NumberOfRuns == 0 {
		l.NumberOfRuns = s.sandboxCfg.NumberOfRuns
	}
	return l
}
