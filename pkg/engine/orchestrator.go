package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openboots/openboots/pkg/condition"
	"github.com/openboots/openboots/pkg/manifest"
	"github.com/openboots/openboots/pkg/status"
	"github.com/openboots/openboots/pkg/telemetry"
)

// Orchestrator drives bootstrap runs against explicit collaborators.
type Orchestrator struct {
	fetcher   Fetcher
	installer Installer
	store     status.Store
	prober    condition.Prober
	log       *telemetry.Logger
	tracer    *telemetry.Tracer
	metrics   *telemetry.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProber supplies the platform prober for structured conditions.
func WithProber(p condition.Prober) Option {
	return func(o *Orchestrator) { o.prober = p }
}

// WithTracer enables span emission.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMetrics enables metric emission.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. Fetcher, installer, store, and logger are
// required; the prober, tracer, and metrics are optional.
func New(fetcher Fetcher, installer Installer, store status.Store, log *telemetry.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:   fetcher,
		installer: installer,
		store:     store,
		log:       log,
		metrics:   telemetry.NewMetrics(telemetry.MetricsConfig{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes both phases in order. Setupassistant always resolves fully
// before userland starts; a failed setupassistant blocks userland only when
// rc.GateUserland is set. The returned result carries exit code 0 unless a
// structural failure occurred.
func (o *Orchestrator) Run(ctx context.Context, m *manifest.Manifest, rc RunContext) RunResult {
	log := o.log.WithRunID(rc.RunID)
	started := time.Now()

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartRunSpan(ctx, rc.RunID)
		defer span.End()
	}
	o.metrics.RecordRunStarted()

	log.Info().
		Str("url", rc.BootstrapURL).
		Str("architecture", rc.Facts.Architecture).
		Bool("dry_run", rc.DryRun).
		Int("packages", m.Total()).
		Msg("starting bootstrap run")

	if !rc.DryRun && o.store != nil && rc.StatusMaxAge > 0 {
		if removed, err := o.store.CleanupOldStatuses(ctx, rc.StatusMaxAge); err != nil {
			log.Warn().Err(err).Msg("status cleanup failed, continuing")
		} else if removed > 0 {
			log.Debug().Int64("removed", removed).Msg("expired status records removed")
		}
	}

	if rc.Force && !rc.DryRun {
		if err := o.fetcher.Purge(); err != nil {
			log.Warn().Err(err).Msg("cache purge failed, continuing with stale cache")
		}
	}

	result := RunResult{RunID: rc.RunID}
	setupFailed := false

	for _, phase := range manifest.Phases() {
		if phase == manifest.PhaseUserland && setupFailed && rc.GateUserland {
			log.Warn().Msg("userland gated off by failed setupassistant phase")
			pr := PhaseResult{Phase: phase, Stage: string(status.StageSkipped)}
			o.writeStatus(ctx, rc, phaseStatus(rc, phase, status.StageSkipped, "gated by failed setupassistant", 0, time.Now()))
			result.Phases = append(result.Phases, pr)
			continue
		}

		pr := o.runPhase(ctx, m, phase, rc, log)
		result.Phases = append(result.Phases, pr)

		if pr.Stage == string(status.StageFailed) {
			if phase == manifest.PhaseSetupAssistant {
				setupFailed = true
			}
			result.ExitCode = 1
		}
	}

	result.Duration = time.Since(started)

	runStatus := "completed"
	if result.ExitCode != 0 {
		runStatus = "failed"
	}
	o.metrics.RecordRunCompleted(runStatus, result.Duration)
	log.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("bootstrap run finished")
	return result
}

// runPhase walks one phase's package list sequentially. The phase reaches
// exactly one terminal stage: Skipped for an empty list, Failed when a
// structural error escapes the loop, Completed otherwise. Per-package
// failures are recorded and do not fail the phase unless the package is
// required and ContinueOnError is disabled.
func (o *Orchestrator) runPhase(ctx context.Context, m *manifest.Manifest, phase manifest.Phase, rc RunContext, log *telemetry.Logger) PhaseResult {
	plog := log.Component(string(phase))
	started := time.Now()
	pr := PhaseResult{Phase: phase}

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.StartPhaseSpan(ctx, string(phase))
		defer span.End()
	}

	pkgs := m.Packages(phase)
	if len(pkgs) == 0 {
		// Running is never written for an empty phase.
		plog.Info().Msg("no packages for phase, skipping")
		pr.Stage = string(status.StageSkipped)
		o.writeStatus(ctx, rc, phaseStatus(rc, phase, status.StageSkipped, "", 0, started))
		o.metrics.RecordPhase(string(phase), pr.Stage, time.Since(started))
		return pr
	}

	plog.Info().Int("packages", len(pkgs)).Msg("starting phase")
	o.writeStatus(ctx, rc, phaseStatus(rc, phase, status.StageStarting, "", 0, started))
	o.writeStatus(ctx, rc, phaseStatus(rc, phase, status.StageRunning, "", 0, started))

	installed := make(map[string]bool)
	var abort *EngineError

	for i := range pkgs {
		pkg := &pkgs[i]
		res := o.runTracedPackage(ctx, pkg, phase, rc, installed, plog)
		pr.Packages = append(pr.Packages, res)

		switch res.Outcome {
		case OutcomeInstalled:
			installed[pkg.Name] = true
			o.metrics.RecordPackageInstalled(string(phase), string(pkg.InstallerType()), res.Duration)
		case OutcomeSkipped:
			o.metrics.RecordPackageSkipped(string(phase))
		case OutcomeFailed:
			o.metrics.RecordPackageFailed(string(phase), string(pkg.InstallerType()))
			if pkg.IsRequired() && !rc.ContinueOnError {
				abort = NewInstallError(pkg.Name, phase, res.ExitCode,
					fmt.Errorf("required package failed: %s", res.Reason))
				plog.Error().
					Str("package", pkg.Name).
					Msg("required package failed, aborting phase")
			}
		}
		if abort != nil {
			break
		}
		if ctx.Err() != nil {
			abort = NewInstallError("", phase, -1, ctx.Err())
			break
		}
	}

	pr.Duration = time.Since(started)

	if abort != nil {
		pr.Stage = string(status.StageFailed)
		pr.Err = abort
		o.metrics.RecordError(string(abort.Class))
		o.writeStatus(ctx, rc, phaseStatus(rc, phase, status.StageFailed, abort.Error(), abort.ExitCode, started))
		if span != nil {
			telemetry.RecordError(span, abort)
		}
	} else {
		pr.Stage = string(status.StageCompleted)
		o.writeStatus(ctx, rc, phaseStatus(rc, phase, status.StageCompleted, "", 0, started))
		if span != nil {
			telemetry.RecordSuccess(span)
		}
	}

	o.metrics.RecordPhase(string(phase), pr.Stage, pr.Duration)
	plog.Info().
		Str("stage", pr.Stage).
		Dur("duration", pr.Duration).
		Msg("phase finished")
	return pr
}

// runTracedPackage wraps runPackage in a per-package span carrying the
// outcome and exit code.
func (o *Orchestrator) runTracedPackage(ctx context.Context, pkg *manifest.Package, phase manifest.Phase, rc RunContext, installed map[string]bool, log *telemetry.Logger) PackageResult {
	if o.tracer == nil {
		return o.runPackage(ctx, pkg, phase, rc, installed, log)
	}

	ctx, span := o.tracer.StartPackageSpan(ctx, pkg.Name, string(pkg.InstallerType()))
	defer span.End()

	res := o.runPackage(ctx, pkg, phase, rc, installed, log)
	span.SetAttributes(telemetry.AttrExitCode.Int(res.ExitCode))
	if res.Outcome == OutcomeFailed {
		telemetry.RecordError(span, errors.New(res.Reason))
	} else {
		telemetry.RecordSuccess(span)
	}
	return res
}

// runPackage resolves one package to a terminal outcome. Failures here are
// per-package: they are logged as failures, never as success, and the
// caller decides whether the phase continues.
func (o *Orchestrator) runPackage(ctx context.Context, pkg *manifest.Package, phase manifest.Phase, rc RunContext, installed map[string]bool, log *telemetry.Logger) PackageResult {
	started := time.Now()
	res := PackageResult{Name: pkg.Name}

	for _, dep := range pkg.Dependencies {
		if !installed[dep] {
			log.Warn().
				Str("package", pkg.Name).
				Str("dependency", dep).
				Msg("dependency not installed in this run, skipping package")
			res.Outcome = OutcomeSkipped
			res.Reason = fmt.Sprintf("dependency %s not installed", dep)
			res.Duration = time.Since(started)
			return res
		}
	}

	if !condition.Evaluate(pkg.Condition, rc.Facts) ||
		!condition.EvaluateConditions(pkg.Conditions, rc.Facts, o.prober) {
		log.Info().
			Str("package", pkg.Name).
			Str("condition", pkg.Condition).
			Msg("condition not met, skipping package")
		res.Outcome = OutcomeSkipped
		res.Reason = "condition not met"
		res.Duration = time.Since(started)
		return res
	}

	if rc.DryRun {
		log.Info().
			Str("package", pkg.Name).
			Str("type", string(pkg.InstallerType())).
			Msg("dry run, would install package")
		res.Outcome = OutcomeSkipped
		res.Reason = "dry run"
		res.Duration = time.Since(started)
		return res
	}

	// A zero resolved timeout means unbounded; wrapping it in WithTimeout
	// would expire the context immediately.
	pctx := ctx
	if timeout := pkg.TimeoutOr(rc.DefaultTimeout); timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	localPath, err := o.fetcher.Fetch(pctx, pkg, rc.Force)
	if err != nil {
		ferr := NewFetchError(pkg.Name, phase, err)
		log.Error().Str("package", pkg.Name).Err(ferr).Msg("package fetch failed")
		res.Outcome = OutcomeFailed
		res.Reason = ferr.Error()
		res.Duration = time.Since(started)
		return res
	}

	ires, err := o.installer.Install(pctx, localPath, pkg)
	res.ExitCode = ires.ExitCode
	res.Duration = time.Since(started)

	if err != nil {
		ierr := NewInstallError(pkg.Name, phase, ires.ExitCode, err)
		log.Error().
			Str("package", pkg.Name).
			Int("exit_code", ires.ExitCode).
			Err(ierr).
			Msg("package install failed")
		res.Outcome = OutcomeFailed
		res.Reason = ierr.Error()
		return res
	}
	if ires.Skipped {
		res.Outcome = OutcomeSkipped
		res.Reason = "unknown installer type"
		return res
	}

	log.Info().
		Str("package", pkg.Name).
		Dur("duration", res.Duration).
		Msg("package installed")
	res.Outcome = OutcomeInstalled
	return res
}

// writeStatus records a phase status. Store failures are logged and
// swallowed; the status channel is best effort and never fails a run.
// Dry runs never mutate statuses.
func (o *Orchestrator) writeStatus(ctx context.Context, rc RunContext, st status.InstallationStatus) {
	if rc.DryRun || o.store == nil {
		return
	}
	if err := o.store.SetPhaseStatus(ctx, st); err != nil {
		o.log.Warn().
			Str("phase", string(st.Phase)).
			Err(NewStatusError("failed to persist phase status", err)).
			Msg("status write failed")
	}
}

// phaseStatus builds the full record for one write. startTime is captured
// once when the phase begins so the terminal write preserves it.
func phaseStatus(rc RunContext, phase manifest.Phase, stage status.Stage, lastError string, exitCode int, startTime time.Time) status.InstallationStatus {
	st := status.InstallationStatus{
		Phase:        phase,
		Stage:        stage,
		StartTime:    startTime.UTC(),
		ExitCode:     exitCode,
		LastError:    lastError,
		RunID:        rc.RunID,
		Architecture: rc.Facts.Architecture,
		BootstrapURL: rc.BootstrapURL,
		Version:      rc.Version,
	}
	if stage.Terminal() {
		now := time.Now().UTC()
		st.CompletionTime = &now
	}
	return st
}
