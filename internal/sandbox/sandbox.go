// Package sandbox executes one command per invocation under strict resource
// isolation, returning captured output plus a telemetry record.
package sandbox

import "context"

// File is a named byte blob materialized into the sandbox scratch directory
// alongside the source file.
type File struct {
	Name    string
	Content []byte
}

// Limits mirrors the sandbox-limit subset of a submission.
type Limits struct {
	CPUTimeLimit                float64 // seconds
	CPUExtraTime                float64 // seconds, grace beyond CPUTimeLimit
	WallTimeLimit               float64 // seconds
	MemoryLimitKB               int64
	MaxProcessesAndOrThreads    int
	MaxFileSizeKB               int64
	NumberOfRuns                int
	EnablePerProcessTimeLimit   bool
	EnablePerProcessMemoryLimit bool
	RedirectStderrToStdout      bool
	EnableNetwork               bool
}

// RunConfig is everything the sandbox needs to execute one command once
// (compile step, or the final run step).
type RunConfig struct {
	Image      string
	SourceFile string
	Source     []byte
	Additional []File
	Argv       []string
	Stdin      []byte
	Limits     Limits
	// Repeat is the number of sequential invocations of Argv to run. Used
	// only for the execute step (Limits.NumberOfRuns); the compile step
	// always passes 1 regardless of the submission's NumberOfRuns.
	Repeat int
}

// Result is the telemetry record a sandbox run produces. ExitCode is set iff
// the process exited normally; Signal is set iff it was killed by a signal;
// Message is a short human-readable classification.
type Result struct {
	Stdout    []byte
	Stderr    []byte
	TimeSec   float64
	MemoryKB  int64
	ExitCode  *int
	Signal    *string
	Message   string
	Internal  bool // true when the sandbox itself failed to start the process
}

// Sandbox runs one command under resource isolation. It never returns a
// recoverable error upward for failures of the program under test — those
// are reported via Result.Message/Result.Internal. A non-nil error means the
// sandbox infrastructure itself could not be reached at all.
type Sandbox interface {
	Run(ctx context.Context, cfg RunConfig) (*Result, error)
	EnsureImage(ctx context.Context, image string) error
}
