// Package status persists per-phase bootstrap progress so detection scripts
// and operators can observe a run from outside the process.
package status

import (
	"context"
	"time"

	"github.com/openboots/openboots/pkg/manifest"
)

// Stage is the lifecycle position of one phase.
type Stage string

const (
	StageNotStarted Stage = "NotStarted"
	StageStarting   Stage = "Starting"
	StageRunning    Stage = "Running"
	StageCompleted  Stage = "Completed"
	StageFailed     Stage = "Failed"
	StageSkipped    Stage = "Skipped"
)

// Terminal reports whether the stage is an end state.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// InstallationStatus is the full status record for one phase. Every write
// carries the complete record; the store never patches individual fields.
type InstallationStatus struct {
	Phase          manifest.Phase `json:"phase"`
	Stage          Stage          `json:"stage"`
	StartTime      time.Time      `json:"start_time"`
	CompletionTime *time.Time     `json:"completion_time,omitempty"`
	ExitCode       int            `json:"exit_code"`
	LastError      string         `json:"last_error,omitempty"`
	RunID          string         `json:"run_id"`
	Architecture   string         `json:"architecture"`
	BootstrapURL   string         `json:"bootstrap_url"`
	Version        string         `json:"version"`
}

// Store persists phase status records.
type Store interface {
	// SetPhaseStatus upserts the record for status.Phase.
	SetPhaseStatus(ctx context.Context, status InstallationStatus) error

	// GetPhaseStatus returns the record for phase. A missing or unreadable
	// record yields a default Starting status, never an error.
	GetPhaseStatus(ctx context.Context, phase manifest.Phase) (InstallationStatus, error)

	// CleanupOldStatuses deletes terminal records whose completion time is
	// older than maxAge and returns how many were removed.
	CleanupOldStatuses(ctx context.Context, maxAge time.Duration) (int64, error)

	// Clear removes all records.
	Clear(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// defaultStatus is what reads fall back to when no usable record exists.
func defaultStatus(phase manifest.Phase) InstallationStatus {
	return InstallationStatus{
		Phase:     phase,
		Stage:     StageStarting,
		StartTime: time.Now().UTC(),
	}
}
