// Package executor resolves a submission's language, invokes the Sandbox
// Runner for the compile (if any) and run steps, and classifies the
// resulting terminal status for the worker to commit.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/itstheanurag/executioner/internal/domain"
	"github.com/itstheanurag/executioner/internal/languages"
	"github.com/itstheanurag/executioner/internal/metrics"
	"github.com/itstheanurag/executioner/internal/sandbox"
)

// Result is what the worker commits back to the Submission Store.
type Result struct {
	Status        domain.Status
	Stdout        []byte
	Stderr        []byte
	CompileOutput []byte
	Meta          *domain.Meta
}

type Executor struct {
	registry *languages.Registry
	sandbox  sandbox.Sandbox
}

func NewExecutor(registry *languages.Registry, sb sandbox.Sandbox) *Executor {
	return &Executor{registry: registry, sandbox: sb}
}

// Execute runs the compile (if present) and run steps for one submission
// against its already-resolved language.
func (e *Executor) Execute(ctx context.Context, sub *domain.Submission, lang domain.Language) (*Result, error) {
	limits := toSandboxLimits(sub.Limits)
	langLabel := strconv.Itoa(lang.ID)

	if len(lang.CompileCmd) > 0 {
		compileRes, err := e.sandbox.Run(ctx, sandbox.RunConfig{
			Image:      lang.Image,
			SourceFile: lang.SourceFilename,
			Source:     sub.SourceCode,
			Additional: toSandboxFiles(sub.AdditionalFiles),
			Argv:       lang.CompileCmd,
			Limits:     limits,
			Repeat:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("sandbox compile step failed: %w", err)
		}
		if compileRes.ExitCode != nil && *compileRes.ExitCode != 0 {
			metrics.ExecutionsTotal.WithLabelValues(langLabel, "compile_error").Inc()
			return &Result{
				Status:        domain.StatusError,
				CompileOutput: compileRes.Stderr,
			}, nil
		}
	}

	start := time.Now()
	runRes, err := e.sandbox.Run(ctx, sandbox.RunConfig{
		Image:      lang.Image,
		SourceFile: lang.SourceFilename,
		Source:     sub.SourceCode,
		Additional: toSandboxFiles(sub.AdditionalFiles),
		Argv:       lang.RunCmd,
		Stdin:      sub.Stdin,
		Limits:     limits,
		Repeat:     maxInt(sub.Limits.NumberOfRuns, 1),
	})
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("sandbox run step failed: %w", err)
	}

	meta := &domain.Meta{
		Time:     runRes.TimeSec,
		MemoryKB: runRes.MemoryKB,
		ExitCode: runRes.ExitCode,
		Signal:   runRes.Signal,
		Message:  runRes.Message,
	}

	if sub.HasExpectedOut {
		matches := bytes.Equal(runRes.Stdout, sub.ExpectedOutput)
		meta.OutputMatches = &matches
	}

	label := "success"
	if runRes.Message != "OK" {
		label = runRes.Message
	}
	metrics.ExecutionsTotal.WithLabelValues(langLabel, label).Inc()
	metrics.ExecutionDuration.WithLabelValues(langLabel, "total").Observe(float64(duration))
	if meta.MemoryKB > 0 {
		metrics.MemoryUsage.WithLabelValues(langLabel).Observe(float64(meta.MemoryKB))
	}

	return &Result{
		Status: domain.StatusFinished,
		Stdout: runRes.Stdout,
		Stderr: runRes.Stderr,
		Meta:   meta,
	}, nil
}

func toSandboxLimits(l domain.Limits) sandbox.Limits {
	return sandbox.Limits{
		CPUTimeLimit:                l.CPUTimeLimit,
		CPUExtraTime:                l.CPUExtraTime,
		WallTimeLimit:               l.WallTimeLimit,
		MemoryLimitKB:               l.MemoryLimitKB,
		MaxProcessesAndOrThreads:    l.MaxProcessesAndOrThreads,
		MaxFileSizeKB:               l.MaxFileSizeKB,
		NumberOfRuns:                l.NumberOfRuns,
		EnablePerProcessTimeLimit:   l.EnablePerProcessTimeLimit,
		EnablePerProcessMemoryLimit: l.EnablePerProcessMemoryLimit,
		RedirectStderrToStdout:      l.RedirectStderrToStdout,
		EnableNetwork:               l.EnableNetwork,
	}
}

func toSandboxFiles(files []domain.AdditionalFile) []sandbox.File {
	out := make([]sandbox.File, len(files))
	for i, f := range files {
		out[i] = sandbox.File{Name: f.Name, Content: f.Content}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
