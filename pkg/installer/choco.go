package installer

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/openboots/openboots/pkg/manifest"
)

// chocoBootstrapScript is the official Chocolatey install one-liner, run
// through powershell when choco.exe is not yet on the machine.
const chocoBootstrapScript = `Set-ExecutionPolicy Bypass -Scope Process -Force; ` +
	`[System.Net.ServicePointManager]::SecurityProtocol = [System.Net.ServicePointManager]::SecurityProtocol -bor 3072; ` +
	`iex ((New-Object System.Net.WebClient).DownloadString('https://community.chocolatey.org/install.ps1'))`

// installNupkg installs a .nupkg through Chocolatey: bootstrap choco when
// absent, resolve the package id and version, then install or upgrade
// depending on whether the id is already present locally.
func (in *Installer) installNupkg(ctx context.Context, localPath string, pkg *manifest.Package) (Result, error) {
	chocoExe, err := in.ensureChoco(ctx)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	pkgID, pkgVersion, err := extractNupkgMetadata(localPath)
	if err != nil {
		in.log.Warn().
			Str("package", pkg.Name).
			Err(err).
			Msg("failed to parse nuspec metadata, falling back to filename")
		pkgID, pkgVersion = parseNupkgFilename(localPath, pkg.Name)
	}
	in.log.Debug().
		Str("package", pkg.Name).
		Str("id", pkgID).
		Str("version", pkgVersion).
		Msg("resolved nupkg identity")

	verb := "install"
	if installed, err := in.chocoInstalled(ctx, chocoExe, pkgID); err == nil && installed {
		verb = "upgrade"
	}

	args := []string{verb, localPath, "-y", "--force"}
	return in.runProcess(ctx, pkg, chocoExe, args...)
}

// ensureChoco returns the path to choco.exe, installing Chocolatey first if
// needed. After a bootstrap the process PATH is refreshed from the machine
// and user environment so choco resolves without a new shell.
func (in *Installer) ensureChoco(ctx context.Context) (string, error) {
	if path, ok := findChoco(); ok {
		return path, nil
	}

	in.log.Info().Msg("chocolatey not found, bootstrapping")
	output, exitCode, err := in.runner.Run(ctx, powershellPath(),
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-Command", chocoBootstrapScript)
	if err != nil {
		return "", fmt.Errorf("failed to run chocolatey bootstrap: %w", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("chocolatey bootstrap exited with code %d: %s", exitCode, strings.TrimSpace(output))
	}

	in.refreshPath(ctx)

	if path, ok := findChoco(); ok {
		return path, nil
	}
	return "", fmt.Errorf("choco.exe not found after bootstrap")
}

// refreshPath rebuilds the process PATH from the persisted machine and user
// environment. Best effort; a failed probe leaves PATH untouched.
func (in *Installer) refreshPath(ctx context.Context) {
	const script = `[Environment]::GetEnvironmentVariable('Path','Machine') + ';' + [Environment]::GetEnvironmentVariable('Path','User')`
	output, exitCode, err := in.runner.Run(ctx, powershellPath(),
		"-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil || exitCode != 0 {
		in.log.Debug().Err(err).Int("exit_code", exitCode).Msg("PATH refresh probe failed")
		return
	}
	if path := strings.TrimSpace(output); path != "" {
		os.Setenv("PATH", path)
	}
}

// chocoInstalled reports whether pkgID is already installed locally.
func (in *Installer) chocoInstalled(ctx context.Context, chocoExe, pkgID string) (bool, error) {
	output, exitCode, err := in.runner.Run(ctx, chocoExe,
		"list", "--local-only", "--limit-output", "--exact", pkgID)
	if err != nil {
		return false, err
	}
	if exitCode != 0 {
		return false, fmt.Errorf("choco list exited with code %d", exitCode)
	}
	prefix := strings.ToLower(pkgID) + "|"
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), prefix) {
			return true, nil
		}
	}
	return false, nil
}

func findChoco() (string, bool) {
	if programData := os.Getenv("ProgramData"); programData != "" {
		candidate := filepath.Join(programData, "chocolatey", "bin", "choco.exe")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	// LookPath is not used here so the fake-runner tests stay hermetic; an
	// explicit PATH walk keeps behavior identical across platforms.
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, "choco.exe")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// extractNupkgMetadata opens the nupkg archive and reads the package id and
// version from the embedded .nuspec.
func extractNupkgMetadata(nupkgPath string) (string, string, error) {
	r, err := zip.OpenReader(nupkgPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to open nupkg: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".nuspec") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", "", fmt.Errorf("failed to open nuspec: %w", err)
		}
		defer rc.Close()

		var meta struct {
			Metadata struct {
				ID      string `xml:"id"`
				Version string `xml:"version"`
			} `xml:"metadata"`
		}
		if err := xml.NewDecoder(rc).Decode(&meta); err != nil {
			return "", "", fmt.Errorf("failed to parse nuspec: %w", err)
		}
		return meta.Metadata.ID, meta.Metadata.Version, nil
	}
	return "", "", fmt.Errorf("nuspec file not found in %s", filepath.Base(nupkgPath))
}

// parseNupkgFilename recovers id and version from a name-version.nupkg
// filename. The segment after the last dash must parse as a version;
// otherwise the whole stem is the id and the version is unknown.
func parseNupkgFilename(nupkgPath, fallbackID string) (string, string) {
	stem := strings.TrimSuffix(filepath.Base(nupkgPath), filepath.Ext(nupkgPath))
	if idx := strings.LastIndex(stem, "-"); idx > 0 {
		id, ver := stem[:idx], stem[idx+1:]
		if _, err := goversion.NewVersion(ver); err == nil {
			return id, ver
		}
	}
	if stem != "" {
		return stem, ""
	}
	return fallbackID, ""
}
