// Package engine orchestrates bootstrap runs: it resolves the manifest,
// walks both phases in order, and drives fetch and install for each package
// while recording progress in the status store.
package engine

import (
	"context"
	"time"

	"github.com/openboots/openboots/pkg/facts"
	"github.com/openboots/openboots/pkg/installer"
	"github.com/openboots/openboots/pkg/manifest"
)

// RunContext carries the immutable parameters of one bootstrap run. It is
// built once at run start and passed down explicitly; nothing in the engine
// reads process-wide state.
type RunContext struct {
	// RunID uniquely identifies this run in logs and status records.
	RunID string

	// BootstrapURL is where the manifest was resolved from.
	BootstrapURL string

	// Version is the engine version recorded into status rows.
	Version string

	// Facts are the machine facts detected at run start.
	Facts facts.MachineFacts

	// DryRun evaluates conditions and logs decisions without fetching,
	// installing, or mutating statuses.
	DryRun bool

	// Force purges the download cache before the first fetch.
	Force bool

	// ContinueOnError keeps a phase going after a required package fails.
	// When disabled, a required failure aborts the phase.
	ContinueOnError bool

	// GateUserland blocks the userland phase when setupassistant failed.
	GateUserland bool

	// DefaultTimeout bounds each package install when the manifest does not
	// declare its own timeout. Zero leaves installs unbounded.
	DefaultTimeout time.Duration

	// StatusMaxAge bounds how long terminal status records are retained.
	// Expired records are removed at run start; zero disables the cleanup.
	StatusMaxAge time.Duration
}

// PackageOutcome is the terminal result of one package.
type PackageOutcome string

const (
	OutcomeInstalled PackageOutcome = "installed"
	OutcomeSkipped   PackageOutcome = "skipped"
	OutcomeFailed    PackageOutcome = "failed"
)

// PackageResult records what happened to one package.
type PackageResult struct {
	Name     string         `json:"name"`
	Outcome  PackageOutcome `json:"outcome"`
	Reason   string         `json:"reason,omitempty"`
	ExitCode int            `json:"exit_code,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// PhaseResult records the terminal stage of one phase and its packages.
type PhaseResult struct {
	Phase    manifest.Phase  `json:"phase"`
	Stage    string          `json:"stage"`
	Packages []PackageResult `json:"packages"`
	Duration time.Duration   `json:"duration"`
	Err      error           `json:"-"`
}

// RunResult aggregates both phases.
type RunResult struct {
	RunID    string        `json:"run_id"`
	Phases   []PhaseResult `json:"phases"`
	Duration time.Duration `json:"duration"`

	// ExitCode is 0 unless a structural failure occurred. Tolerated
	// per-package failures do not change it.
	ExitCode int `json:"exit_code"`
}

// Fetcher resolves a package to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, pkg *manifest.Package, forceRefresh bool) (string, error)
	Purge() error
}

// Installer executes a cached package payload.
type Installer interface {
	Install(ctx context.Context, localPath string, pkg *manifest.Package) (installer.Result, error)
}
