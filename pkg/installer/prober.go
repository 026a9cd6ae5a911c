package installer

import (
	"context"
	"time"
)

// probeTimeout bounds each registry or service probe so a hung tool cannot
// stall condition evaluation.
const probeTimeout = 15 * time.Second

// CommandProber answers condition probes by shelling out to reg.exe and
// sc.exe, which keeps the probes testable through the same Runner fake as
// the installers.
type CommandProber struct {
	runner Runner
}

// NewCommandProber creates a prober backed by the given runner.
func NewCommandProber(runner Runner) *CommandProber {
	return &CommandProber{runner: runner}
}

// RegistryKeyExists reports whether the registry key exists.
func (p *CommandProber) RegistryKeyExists(key string) (bool, error) {
	return p.probe("reg.exe", "query", key)
}

// RegistryValueExists reports whether the named value exists under key.
func (p *CommandProber) RegistryValueExists(key, value string) (bool, error) {
	return p.probe("reg.exe", "query", key, "/v", value)
}

// ServiceExists reports whether the named service is registered.
func (p *CommandProber) ServiceExists(name string) (bool, error) {
	return p.probe("sc.exe", "query", name)
}

// probe treats exit code zero as present and any other exit as absent.
func (p *CommandProber) probe(command string, args ...string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	_, exitCode, err := p.runner.Run(ctx, command, args...)
	if err != nil {
		return false, err
	}
	return exitCode == 0, nil
}
