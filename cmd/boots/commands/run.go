package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openboots/openboots/pkg/config"
	"github.com/openboots/openboots/pkg/engine"
	"github.com/openboots/openboots/pkg/facts"
	"github.com/openboots/openboots/pkg/fetcher"
	"github.com/openboots/openboots/pkg/installer"
	"github.com/openboots/openboots/pkg/manifest"
	"github.com/openboots/openboots/pkg/status"
	"github.com/openboots/openboots/pkg/telemetry"
)

type runOptions struct {
	// phase narrows the run to one phase when non-empty.
	phase string

	dryRun          bool
	forceRefresh    bool
	continueOnError *bool
	gateUserland    *bool

	// metrics shares a collector across runs in service mode; nil builds a
	// fresh one from configuration.
	metrics *telemetry.Metrics
}

// executeRun assembles the engine from configuration and performs one full
// bootstrap run. The returned result's ExitCode is 0 unless a structural
// failure occurred; manifest resolution problems are returned as errors.
func executeRun(ctx context.Context, cfg *config.Config, log *telemetry.Logger, opts runOptions) (engine.RunResult, error) {
	if cfg.RepoURL == "" {
		return engine.RunResult{}, engine.NewManifestError("no bootstrap URL configured", nil)
	}

	m, err := manifest.NewClient().Fetch(ctx, cfg.RepoURL)
	if err != nil {
		return engine.RunResult{}, engine.NewManifestError("failed to resolve bootstrap manifest", err)
	}
	if err := narrowPhase(m, opts.phase); err != nil {
		return engine.RunResult{}, err
	}

	machineFacts := facts.Detect()

	var store status.Store
	if !opts.dryRun {
		sqlStore, err := status.NewSQLiteStore(cfg.DatabasePath(), cfg.MirrorPath(), log)
		if err != nil {
			// Status is a best-effort side channel; run without it rather
			// than refusing to install software.
			log.Warn().Err(err).Msg("status store unavailable, continuing without status")
		} else {
			store = sqlStore
			defer sqlStore.Close()
		}
	}

	metrics := opts.metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(cfg.Metrics)
	}

	f, err := fetcher.New(cfg.CacheDir, log.Component("fetcher"),
		fetcher.WithGraceDelay(cfg.GraceDelay),
		fetcher.WithMetrics(metrics),
	)
	if err != nil {
		return engine.RunResult{}, err
	}

	runner := installer.NewExecRunner()
	inst := installer.New(runner, log.Component("installer"))

	tracer, err := telemetry.NewTracer(cfg.Tracing, engineVersion)
	if err != nil {
		return engine.RunResult{}, err
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	orch := engine.New(f, inst, store, log,
		engine.WithProber(installer.NewCommandProber(runner)),
		engine.WithTracer(tracer),
		engine.WithMetrics(metrics),
	)

	rc := engine.RunContext{
		RunID:           uuid.NewString(),
		BootstrapURL:    cfg.RepoURL,
		Version:         engineVersion,
		Facts:           machineFacts,
		DryRun:          opts.dryRun,
		Force:           force || opts.forceRefresh,
		ContinueOnError: cfg.ContinueOnError,
		GateUserland:    cfg.GateUserland,
		DefaultTimeout:  cfg.DefaultTimeout,
		StatusMaxAge:    cfg.StatusMaxAge,
	}
	if opts.continueOnError != nil {
		rc.ContinueOnError = *opts.continueOnError
	}
	if opts.gateUserland != nil {
		rc.GateUserland = *opts.gateUserland
	}

	return orch.Run(ctx, m, rc), nil
}

// narrowPhase blanks out the phases a --phase flag excludes.
func narrowPhase(m *manifest.Manifest, phase string) error {
	switch manifest.Phase(phase) {
	case "":
		return nil
	case manifest.PhaseSetupAssistant:
		m.Userland = nil
	case manifest.PhaseUserland:
		m.SetupAssistant = nil
	default:
		return fmt.Errorf("unknown phase %q (want setupassistant or userland)", phase)
	}
	return nil
}
