// Package installer executes cached package payloads with the strategy
// matching their declared type.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openboots/openboots/pkg/manifest"
	"github.com/openboots/openboots/pkg/telemetry"
)

// Result reports the outcome of one install attempt.
type Result struct {
	// ExitCode is the installer process exit code, 0 on success.
	ExitCode int

	// Output is the combined stdout+stderr of the installer process.
	Output string

	// Skipped is set when the package type is unrecognized and the package
	// was deliberately not executed.
	Skipped bool
}

// Installer dispatches packages to type-specific install strategies.
type Installer struct {
	runner Runner
	log    *telemetry.Logger
}

// New creates an Installer using the given runner.
func New(runner Runner, log *telemetry.Logger) *Installer {
	return &Installer{runner: runner, log: log}
}

// Install runs the strategy for pkg against the cached file at localPath.
// An unknown package type is logged and reported as skipped rather than
// failing the package; a process exit code other than zero is returned as
// an error with the Result still populated.
func (in *Installer) Install(ctx context.Context, localPath string, pkg *manifest.Package) (Result, error) {
	switch pkg.InstallerType() {
	case manifest.TypeMSI:
		return in.runProcess(ctx, pkg, msiexecPath(),
			append([]string{"/i", localPath, "/quiet", "/norestart"}, pkg.Arguments...)...)

	case manifest.TypeEXE:
		return in.runProcess(ctx, pkg, localPath, pkg.Arguments...)

	case manifest.TypePowerShell:
		args := append([]string{
			"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
			"-File", localPath,
		}, pkg.Arguments...)
		return in.runProcess(ctx, pkg, powershellPath(), args...)

	case manifest.TypeNupkg:
		return in.installNupkg(ctx, localPath, pkg)

	default:
		in.log.Warn().
			Str("package", pkg.Name).
			Str("type", pkg.Type).
			Msg("unknown installer type, skipping package")
		return Result{Skipped: true}, nil
	}
}

func (in *Installer) runProcess(ctx context.Context, pkg *manifest.Package, command string, args ...string) (Result, error) {
	in.log.Info().
		Str("package", pkg.Name).
		Str("command", command).
		Strs("args", args).
		Msg("running installer")

	output, exitCode, err := in.runner.Run(ctx, command, args...)
	res := Result{ExitCode: exitCode, Output: output}
	if err != nil {
		return res, fmt.Errorf("installer for %s failed to run: %w", pkg.Name, err)
	}

	in.log.Debug().
		Str("package", pkg.Name).
		Int("exit_code", exitCode).
		Str("output", strings.TrimSpace(output)).
		Msg("installer finished")

	if exitCode != 0 {
		return res, fmt.Errorf("installer for %s exited with code %d", pkg.Name, exitCode)
	}
	return res, nil
}

// msiexecPath locates msiexec, preferring the system directory so the
// install works before PATH is fully populated during OOBE.
func msiexecPath() string {
	if windir := os.Getenv("WINDIR"); windir != "" {
		return filepath.Join(windir, "system32", "msiexec.exe")
	}
	return "msiexec.exe"
}

// powershellPath locates Windows PowerShell the same way.
func powershellPath() string {
	if windir := os.Getenv("WINDIR"); windir != "" {
		return filepath.Join(windir, "system32", "WindowsPowerShell", "v1.0", "powershell.exe")
	}
	return "powershell.exe"
}
