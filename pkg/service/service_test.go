package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openboots/openboots/pkg/telemetry"
)

func TestServiceRunsImmediatelyAndOnTicks(t *testing.T) {
	var runs atomic.Int32
	run := func(ctx context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}

	svc := New(20*time.Millisecond, run, telemetry.NewMetrics(telemetry.MetricsConfig{}), "", telemetry.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()
	err := svc.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v, want deadline exceeded", err)
	}

	if n := runs.Load(); n < 2 {
		t.Errorf("runs = %d, want immediate run plus at least one tick", n)
	}
}

func TestServiceSurvivesFailingRuns(t *testing.T) {
	var runs atomic.Int32
	run := func(ctx context.Context) (int, error) {
		runs.Add(1)
		return 1, errors.New("boom")
	}

	svc := New(15*time.Millisecond, run, telemetry.NewMetrics(telemetry.MetricsConfig{}), "", telemetry.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = svc.Run(ctx)

	if n := runs.Load(); n < 2 {
		t.Errorf("runs = %d, failing runs must not stop the loop", n)
	}
}

type fakeRunner struct {
	calls    [][]string
	output   string
	exitCode int
}

func (f *fakeRunner) Run(ctx context.Context, command string, args ...string) (string, int, error) {
	f.calls = append(f.calls, append([]string{command}, args...))
	return f.output, f.exitCode, nil
}

func TestControllerInstall(t *testing.T) {
	runner := &fakeRunner{}
	c := NewController(runner)

	if err := c.Install(context.Background(), `C:\Program Files\openboots\boots.exe`, "service", "--run"); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	call := strings.Join(runner.calls[0], " ")
	for _, want := range []string{"sc.exe", "create", Name, "binPath=", "start= auto"} {
		if !strings.Contains(call, want) {
			t.Errorf("install call %q missing %q", call, want)
		}
	}
}

func TestControllerNonZeroExit(t *testing.T) {
	runner := &fakeRunner{exitCode: 1060, output: "The specified service does not exist."}
	c := NewController(runner)

	if err := c.Stop(context.Background()); err == nil {
		t.Fatal("expected error for non-zero sc.exe exit")
	}
	if _, err := c.Status(context.Background()); err == nil {
		t.Fatal("expected error querying missing service")
	}
}
