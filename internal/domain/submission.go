// Package domain holds the core data types of the judge: languages,
// submissions, and the telemetry a sandbox run produces.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusFinished   Status = "FINISHED"
	StatusError      Status = "ERROR"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// AdditionalFile is a named byte blob materialized alongside the source file
// in the sandbox scratch directory.
type AdditionalFile struct {
	Name    string
	Content []byte
}

// Meta is the telemetry record produced by a sandbox run.
type Meta struct {
	Time          float64 `json:"time"`
	MemoryKB      int64   `json:"memory"`
	ExitCode      *int    `json:"exit_code,omitempty"`
	Signal        *string `json:"signal,omitempty"`
	Message       string  `json:"message,omitempty"`
	OutputMatches *bool   `json:"output_matches,omitempty"`
}

// Limits is the sandbox-limit subset of a Submission, with per-submission
// overrides of the configured defaults.
type Limits struct {
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

// Submission is the central entity of the judge.
type Submission struct {
	ID              uuid.UUID
	LanguageID      int
	SourceCode      []byte
	Stdin           []byte
	ExpectedOutput  []byte
	HasExpectedOut  bool
	AdditionalFiles []AdditionalFile

	Limits Limits

	Status        Status
	Stdout        []byte
	Stderr        []byte
	CompileOutput []byte
	Meta          *Meta

	CreatedAt time.Time
}

// Page is a paginated slice of submissions.
type Page struct {
	Items       []Submission
	TotalItems  int
	TotalPages  int
	CurrentPage int
	PageSize    int
}
