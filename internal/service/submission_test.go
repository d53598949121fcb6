package service

import (
	"testing"

	"github.com/itstheanurag/executioner/internal/config"
	"github.com/itstheanurag/executioner/internal/domain"
)

func TestValidateFilenameRejectsPathSeparators(t *testing.T) {
	cases := []string{"../etc/passwd", "a/b.txt", `a\b.txt`, "", ".", ".."}
	for _, name := range cases {
		if err := validateFilename(name); err == nil {
			t.Fatalf("expected validateFilename(%q) to fail", name)
		}
	}
}

func TestValidateFilenameAcceptsPlainName(t *testing.T) {
	if err := validateFilename("helper.py"); err != nil {
		t.Fatalf("unexpected error for a plain filename: %v", err)
	}
}

func TestValidateAdditionalFilesRejectsTooMany(t *testing.T) {
	cfg := config.SandboxConfig{MaxAdditionalFiles: 1, MaxAdditionalFilesSizeKB: 1000}
	files := []domain.AdditionalFile{{Name: "a.txt"}, {Name: "b.txt"}}
	if err := validateAdditionalFiles(files, cfg); err == nil {
		t.Fatal("expected an error when exceeding MaxAdditionalFiles")
	}
}

func TestValidateAdditionalFilesRejectsTooLarge(t *testing.T) {
	cfg := config.SandboxConfig{MaxAdditionalFiles: 5, MaxAdditionalFilesSizeKB: 1}
	files := []domain.AdditionalFile{{Name: "a.txt", Content: make([]byte, 4096)}}
	if err := validateAdditionalFiles(files, cfg); err == nil {
		t.Fatal("expected an error when exceeding MaxAdditionalFilesSizeKB")
	}
}

func TestFillLimitsAppliesSandboxDefaults(t *testing.T) {
	s := &Service{sandboxCfg: config.SandboxConfig{
		CPUTimeLimit:  2.0,
		CPUExtraTime:  0.5,
		WallTimeLimit: 5.0,
		MemoryLimit:   128000,
		MaxProcesses:  128,
		MaxFileSize:   10240,
		NumberOfRuns:  1,
	}}

	limits := s.fillLimits(CreateInput{})
	if limits.CPUTimeLimit != 2.0 || limits.MemoryLimitKB != 128000 || limits.NumberOfRuns != 1 {
		t.Fatalf("expected defaults to be filled in, got %+v", limits)
	}
}

func TestFillLimitsPreservesExplicitValues(t *testing.T) {
	s := &Service{sandboxCfg: config.SandboxConfig{CPUTimeLimit: 2.0, NumberOfRuns: 1}}

	limits := s.fillLimits(CreateInput{CPUTimeLimit: 9.0, NumberOfRuns: 3})
	if limits.CPUTimeLimit != 9.0 {
		t.Fatalf("expected explicit CPUTimeLimit to be preserved, got %v", limits.CPUTimeLimit)
	}
	if limits.NumberOfRuns != 3 {
		t.Fatalf("expected explicit NumberOfRuns to be preserved, got %v", limits.NumberOfRuns)
	}
}

func TestValidateLimitOverridesRejectsNegativeValues(t *testing.T) {
	cases := []CreateInput{
		{CPUTimeLimit: -1},
		{CPUExtraTime: -1},
		{WallTimeLimit: -1},
		{MemoryLimitKB: -1},
		{MaxProcessesAndOrThreads: -1},
		{MaxFileSizeKB: -1},
		{NumberOfRuns: -1},
	}
	for _, in := range cases {
		if err := validateLimitOverrides(in); err == nil {
			t.Fatalf("expected an error for negative override in %+v", in)
		}
	}
}

func TestValidateLimitOverridesAcceptsZeroAndPositiveValues(t *testing.T) {
	in := CreateInput{CPUTimeLimit: 2, CPUExtraTime: 0, WallTimeLimit: 5, MemoryLimitKB: 0, NumberOfRuns: 1}
	if err := validateLimitOverrides(in); err != nil {
		t.Fatalf("unexpected error for non-negative overrides: %v", err)
	}
}
