package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openboots/openboots/pkg/facts"
	"github.com/openboots/openboots/pkg/installer"
	"github.com/openboots/openboots/pkg/manifest"
	"github.com/openboots/openboots/pkg/status"
	"github.com/openboots/openboots/pkg/telemetry"
)

type fakeFetcher struct {
	fetched    []string
	failFor    map[string]bool
	purgeCalls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, pkg *manifest.Package, forceRefresh bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.fetched = append(f.fetched, pkg.Name)
	if f.failFor[pkg.Name] {
		return "", errors.New("download refused")
	}
	return "/cache/" + pkg.File, nil
}

func (f *fakeFetcher) Purge() error {
	f.purgeCalls++
	return nil
}

type fakeInstaller struct {
	installed []string
	failFor   map[string]int
}

func (f *fakeInstaller) Install(ctx context.Context, localPath string, pkg *manifest.Package) (installer.Result, error) {
	f.installed = append(f.installed, pkg.Name)
	if code, ok := f.failFor[pkg.Name]; ok {
		return installer.Result{ExitCode: code}, errors.New("installer exited non-zero")
	}
	if pkg.InstallerType() == manifest.TypeUnknown {
		return installer.Result{Skipped: true}, nil
	}
	return installer.Result{}, nil
}

type fakeStore struct {
	writes      map[manifest.Phase][]status.InstallationStatus
	cleanupAges []time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{writes: make(map[manifest.Phase][]status.InstallationStatus)}
}

func (s *fakeStore) SetPhaseStatus(ctx context.Context, st status.InstallationStatus) error {
	s.writes[st.Phase] = append(s.writes[st.Phase], st)
	return nil
}

func (s *fakeStore) GetPhaseStatus(ctx context.Context, phase manifest.Phase) (status.InstallationStatus, error) {
	return status.InstallationStatus{Phase: phase, Stage: status.StageStarting}, nil
}

func (s *fakeStore) CleanupOldStatuses(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.cleanupAges = append(s.cleanupAges, maxAge)
	return 0, nil
}

func (s *fakeStore) Clear(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                    { return nil }

func (s *fakeStore) lastStage(phase manifest.Phase) status.Stage {
	w := s.writes[phase]
	if len(w) == 0 {
		return status.StageNotStarted
	}
	return w[len(w)-1].Stage
}

func pkg(name string, typ manifest.PackageType) manifest.Package {
	return manifest.Package{
		Name: name,
		URL:  "https://deploy.example.com/" + name,
		File: name + ".msi",
		Type: string(typ),
	}
}

func testRunContext() RunContext {
	return RunContext{
		RunID:           "test-run",
		BootstrapURL:    "https://deploy.example.com/bootstrap.json",
		Version:         "1.0.0",
		Facts:           facts.MachineFacts{Architecture: facts.ArchX64, OSVersion: "10.0.19045"},
		ContinueOnError: true,
		DefaultTimeout:  time.Minute,
	}
}

func newTestOrchestrator(f *fakeFetcher, in *fakeInstaller, s *fakeStore) *Orchestrator {
	return New(f, in, s, telemetry.Nop())
}

// A failing package must not stop the phase, and the failure must be
// recorded as a failure even though later packages succeed.
func TestRunContinuesAfterPackageFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	inst := &fakeInstaller{failFor: map[string]int{"a": 1603}}
	store := newFakeStore()

	m := &manifest.Manifest{SetupAssistant: []manifest.Package{
		pkg("a", manifest.TypeMSI),
		pkg("b", manifest.TypeMSI),
	}}

	res := newTestOrchestrator(fetcher, inst, store).Run(context.Background(), m, testRunContext())

	if res.ExitCode != 0 {
		t.Errorf("tolerated failure must keep exit code 0, got %d", res.ExitCode)
	}
	setup := res.Phases[0]
	if setup.Stage != string(status.StageCompleted) {
		t.Errorf("phase stage = %s, want Completed", setup.Stage)
	}
	if setup.Packages[0].Outcome != OutcomeFailed || setup.Packages[0].ExitCode != 1603 {
		t.Errorf("package a result = %+v, want failed with 1603", setup.Packages[0])
	}
	if setup.Packages[1].Outcome != OutcomeInstalled {
		t.Errorf("package b result = %+v, want installed", setup.Packages[1])
	}
}

// An empty phase goes straight to Skipped; Running must never be written.
func TestEmptyPhaseSkippedWithoutRunning(t *testing.T) {
	store := newFakeStore()
	m := &manifest.Manifest{SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)}}

	res := newTestOrchestrator(&fakeFetcher{}, &fakeInstaller{}, store).Run(context.Background(), m, testRunContext())

	userland := res.Phases[1]
	if userland.Stage != string(status.StageSkipped) {
		t.Errorf("empty userland stage = %s, want Skipped", userland.Stage)
	}
	for _, st := range store.writes[manifest.PhaseUserland] {
		if st.Stage == status.StageRunning {
			t.Error("Running must never be written for an empty phase")
		}
	}
	if store.lastStage(manifest.PhaseUserland) != status.StageSkipped {
		t.Errorf("last store write = %s, want Skipped", store.lastStage(manifest.PhaseUserland))
	}
}

func TestRequiredFailureAbortsWhenContinueDisabled(t *testing.T) {
	inst := &fakeInstaller{failFor: map[string]int{"a": 1}}
	store := newFakeStore()

	m := &manifest.Manifest{SetupAssistant: []manifest.Package{
		pkg("a", manifest.TypeMSI),
		pkg("b", manifest.TypeMSI),
	}}

	rc := testRunContext()
	rc.ContinueOnError = false
	res := newTestOrchestrator(&fakeFetcher{}, inst, store).Run(context.Background(), m, rc)

	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1 for structural failure", res.ExitCode)
	}
	setup := res.Phases[0]
	if setup.Stage != string(status.StageFailed) {
		t.Errorf("phase stage = %s, want Failed", setup.Stage)
	}
	if len(setup.Packages) != 1 {
		t.Errorf("loop continued past required failure: %+v", setup.Packages)
	}
	if !IsInstallError(setup.Err) {
		t.Errorf("phase error = %v, want install class", setup.Err)
	}
	if store.lastStage(manifest.PhaseSetupAssistant) != status.StageFailed {
		t.Errorf("store stage = %s, want Failed", store.lastStage(manifest.PhaseSetupAssistant))
	}
}

func TestOptionalFailureNeverAborts(t *testing.T) {
	inst := &fakeInstaller{failFor: map[string]int{"a": 1}}
	optional := false

	a := pkg("a", manifest.TypeMSI)
	a.Required = &optional
	m := &manifest.Manifest{SetupAssistant: []manifest.Package{a, pkg("b", manifest.TypeMSI)}}

	rc := testRunContext()
	rc.ContinueOnError = false
	res := newTestOrchestrator(&fakeFetcher{}, inst, newFakeStore()).Run(context.Background(), m, rc)

	if res.Phases[0].Stage != string(status.StageCompleted) {
		t.Errorf("optional failure must not abort, stage = %s", res.Phases[0].Stage)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestGateUserlandBlocksAfterSetupFailure(t *testing.T) {
	inst := &fakeInstaller{failFor: map[string]int{"a": 1}}
	store := newFakeStore()

	m := &manifest.Manifest{
		SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)},
		Userland:       []manifest.Package{pkg("b", manifest.TypeMSI)},
	}

	rc := testRunContext()
	rc.ContinueOnError = false
	rc.GateUserland = true
	res := newTestOrchestrator(&fakeFetcher{}, inst, store).Run(context.Background(), m, rc)

	userland := res.Phases[1]
	if userland.Stage != string(status.StageSkipped) {
		t.Errorf("gated userland stage = %s, want Skipped", userland.Stage)
	}
	for _, name := range inst.installed {
		if name == "b" {
			t.Error("gated userland package must not be installed")
		}
	}
}

func TestUngatedUserlandRunsAfterSetupFailure(t *testing.T) {
	inst := &fakeInstaller{failFor: map[string]int{"a": 1}}

	m := &manifest.Manifest{
		SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)},
		Userland:       []manifest.Package{pkg("b", manifest.TypeMSI)},
	}

	rc := testRunContext()
	rc.ContinueOnError = false
	res := newTestOrchestrator(&fakeFetcher{}, inst, newFakeStore()).Run(context.Background(), m, rc)

	if res.Phases[1].Stage != string(status.StageCompleted) {
		t.Errorf("ungated userland stage = %s, want Completed", res.Phases[1].Stage)
	}
	if res.ExitCode != 1 {
		t.Errorf("setup failure must still produce exit 1, got %d", res.ExitCode)
	}
}

func TestDependencySkip(t *testing.T) {
	inst := &fakeInstaller{failFor: map[string]int{"base": 1}}

	dependent := pkg("addon", manifest.TypeMSI)
	dependent.Dependencies = []string{"base"}
	m := &manifest.Manifest{SetupAssistant: []manifest.Package{pkg("base", manifest.TypeMSI), dependent}}

	res := newTestOrchestrator(&fakeFetcher{}, inst, newFakeStore()).Run(context.Background(), m, testRunContext())

	addon := res.Phases[0].Packages[1]
	if addon.Outcome != OutcomeSkipped {
		t.Errorf("addon outcome = %s, want skipped when dependency failed", addon.Outcome)
	}
}

func TestConditionSkip(t *testing.T) {
	fetcher := &fakeFetcher{}

	armOnly := pkg("armpkg", manifest.TypeMSI)
	armOnly.Condition = "architecture_arm64"
	m := &manifest.Manifest{SetupAssistant: []manifest.Package{armOnly}}

	res := newTestOrchestrator(fetcher, &fakeInstaller{}, newFakeStore()).Run(context.Background(), m, testRunContext())

	if got := res.Phases[0].Packages[0].Outcome; got != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped on wrong architecture", got)
	}
	if len(fetcher.fetched) != 0 {
		t.Error("condition-skipped package must not be fetched")
	}
	if res.Phases[0].Stage != string(status.StageCompleted) {
		t.Errorf("phase with only skips must complete, got %s", res.Phases[0].Stage)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	fetcher := &fakeFetcher{}
	inst := &fakeInstaller{}
	store := newFakeStore()

	m := &manifest.Manifest{SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)}}

	rc := testRunContext()
	rc.DryRun = true
	rc.Force = true
	res := newTestOrchestrator(fetcher, inst, store).Run(context.Background(), m, rc)

	if res.ExitCode != 0 {
		t.Errorf("dry run exit code = %d, want 0", res.ExitCode)
	}
	if len(fetcher.fetched) != 0 || len(inst.installed) != 0 {
		t.Error("dry run must not fetch or install")
	}
	if fetcher.purgeCalls != 0 {
		t.Error("dry run must not purge the cache")
	}
	if len(store.writes) != 0 {
		t.Errorf("dry run must not mutate statuses, wrote %v", store.writes)
	}
}

func TestForcePurgesCacheOnce(t *testing.T) {
	fetcher := &fakeFetcher{}
	m := &manifest.Manifest{SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)}}

	rc := testRunContext()
	rc.Force = true
	newTestOrchestrator(fetcher, &fakeInstaller{}, newFakeStore()).Run(context.Background(), m, rc)

	if fetcher.purgeCalls != 1 {
		t.Errorf("purge calls = %d, want 1", fetcher.purgeCalls)
	}
}

// The terminal status write must carry the StartTime captured when the
// phase began, not a fresh timestamp, so detection scripts can tell how
// long a phase actually ran.
func TestTerminalWriteKeepsPhaseStartTime(t *testing.T) {
	store := newFakeStore()
	m := &manifest.Manifest{SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)}}

	newTestOrchestrator(&fakeFetcher{}, &fakeInstaller{}, store).Run(context.Background(), m, testRunContext())

	writes := store.writes[manifest.PhaseSetupAssistant]
	if len(writes) < 3 {
		t.Fatalf("got %d writes, want Starting, Running, Completed", len(writes))
	}
	first, last := writes[0], writes[len(writes)-1]
	if last.Stage != status.StageCompleted {
		t.Fatalf("last stage = %s, want Completed", last.Stage)
	}
	if !last.StartTime.Equal(first.StartTime) {
		t.Errorf("terminal StartTime = %v, want the Starting write's %v", last.StartTime, first.StartTime)
	}
	if last.CompletionTime == nil {
		t.Fatal("terminal write missing CompletionTime")
	}
	if last.CompletionTime.Before(last.StartTime) {
		t.Error("CompletionTime precedes StartTime")
	}
}

func TestRunRemovesExpiredStatuses(t *testing.T) {
	store := newFakeStore()
	m := &manifest.Manifest{SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)}}

	rc := testRunContext()
	rc.StatusMaxAge = 30 * 24 * time.Hour
	newTestOrchestrator(&fakeFetcher{}, &fakeInstaller{}, store).Run(context.Background(), m, rc)

	if len(store.cleanupAges) != 1 || store.cleanupAges[0] != rc.StatusMaxAge {
		t.Errorf("cleanup calls = %v, want exactly one with %v", store.cleanupAges, rc.StatusMaxAge)
	}

	rc.DryRun = true
	dry := newFakeStore()
	newTestOrchestrator(&fakeFetcher{}, &fakeInstaller{}, dry).Run(context.Background(), m, rc)
	if len(dry.cleanupAges) != 0 {
		t.Error("dry run must not remove status records")
	}
}

// With no timeout configured anywhere the package context must not expire
// immediately; installs run unbounded.
func TestZeroTimeoutDoesNotExpirePackages(t *testing.T) {
	rc := testRunContext()
	rc.DefaultTimeout = 0

	m := &manifest.Manifest{SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)}}
	res := newTestOrchestrator(&fakeFetcher{}, &fakeInstaller{}, newFakeStore()).Run(context.Background(), m, rc)

	if got := res.Phases[0].Packages[0].Outcome; got != OutcomeInstalled {
		t.Errorf("outcome = %s, want installed with no timeout configured", got)
	}
}

func TestPackageSpanRecordsOutcome(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := telemetry.NewTracerFromProvider(tp)

	inst := &fakeInstaller{failFor: map[string]int{"a": 1603}}
	m := &manifest.Manifest{SetupAssistant: []manifest.Package{
		pkg("a", manifest.TypeMSI),
		pkg("b", manifest.TypeMSI),
	}}

	orch := New(&fakeFetcher{}, inst, newFakeStore(), telemetry.Nop(), WithTracer(tracer))
	orch.Run(context.Background(), m, testRunContext())

	var packageSpans []tracetest.SpanStub
	for _, s := range exporter.GetSpans() {
		if s.Name == "package.install" {
			packageSpans = append(packageSpans, s)
		}
	}
	if len(packageSpans) != 2 {
		t.Fatalf("package spans = %d, want one per package", len(packageSpans))
	}

	sawExitCode := false
	for _, s := range packageSpans {
		for _, attr := range s.Attributes {
			if attr.Key == telemetry.AttrExitCode && attr.Value.AsInt64() == 1603 {
				sawExitCode = true
			}
		}
	}
	if !sawExitCode {
		t.Error("failed package span missing its exit code attribute")
	}
}

func TestFetchFailureIsPackageFailure(t *testing.T) {
	fetcher := &fakeFetcher{failFor: map[string]bool{"a": true}}
	inst := &fakeInstaller{}

	m := &manifest.Manifest{SetupAssistant: []manifest.Package{pkg("a", manifest.TypeMSI)}}
	res := newTestOrchestrator(fetcher, inst, newFakeStore()).Run(context.Background(), m, testRunContext())

	got := res.Phases[0].Packages[0]
	if got.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", got.Outcome)
	}
	if len(inst.installed) != 0 {
		t.Error("failed fetch must not reach the installer")
	}
}
