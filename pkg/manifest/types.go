package manifest

import (
	"strings"
	"time"
)

// Phase identifies one of the two fixed installation stages.
type Phase string

const (
	// PhaseSetupAssistant is the pre-login OOBE phase.
	PhaseSetupAssistant Phase = "setupassistant"

	// PhaseUserland is the post-login phase.
	PhaseUserland Phase = "userland"
)

// Phases returns both phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseSetupAssistant, PhaseUserland}
}

// PackageType is the declared installer type of a package.
type PackageType string

const (
	TypeMSI        PackageType = "msi"
	TypeEXE        PackageType = "exe"
	TypePowerShell PackageType = "powershell"
	TypeNupkg      PackageType = "nupkg"
	TypeUnknown    PackageType = "unknown"
)

// ParsePackageType normalizes a manifest type string. Unrecognized values
// map to TypeUnknown; the engine skips those rather than failing.
func ParsePackageType(s string) PackageType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "msi":
		return TypeMSI
	case "exe":
		return TypeEXE
	case "powershell", "ps1":
		return TypePowerShell
	case "nupkg", "package-manager", "choco":
		return TypeNupkg
	default:
		return TypeUnknown
	}
}

// Conditions is the structured applicability block of the richer manifest
// variant. All populated clauses must hold for the package to apply.
type Conditions struct {
	// OSVersion is the minimum OS version (e.g. "10.0.19041").
	OSVersion string `json:"os_version,omitempty" yaml:"os_version,omitempty"`

	// Architecture restricts the package to one architecture (x64, arm64).
	Architecture string `json:"architecture,omitempty" yaml:"architecture,omitempty"`

	// DomainJoined, when set, requires the machine's domain membership to match.
	DomainJoined *bool `json:"domain_joined,omitempty" yaml:"domain_joined,omitempty"`

	// RegistryKey requires the named registry key to exist.
	RegistryKey string `json:"registry_key,omitempty" yaml:"registry_key,omitempty"`

	// RegistryValue requires the named value under RegistryKey to exist.
	RegistryValue string `json:"registry_value,omitempty" yaml:"registry_value,omitempty"`

	// FileExists requires the given path to exist on disk.
	FileExists string `json:"file_exists,omitempty" yaml:"file_exists,omitempty"`

	// ServiceExists requires the named Windows service to be registered.
	ServiceExists string `json:"service_exists,omitempty" yaml:"service_exists,omitempty"`
}

// Package is one entry in the manifest. Constructed once during parse and
// never mutated during a run.
type Package struct {
	// Name is the human-readable package name, used in logs and status.
	Name string `json:"name" yaml:"name" validate:"required"`

	// URL is the download source for the installer payload.
	URL string `json:"url" yaml:"url" validate:"required,url"`

	// File is the destination filename in the download cache.
	File string `json:"file" yaml:"file" validate:"required"`

	// Type is the declared installer type (msi, exe, powershell, nupkg).
	Type string `json:"type" yaml:"type" validate:"required"`

	// Arguments are extra installer arguments, passed in order.
	Arguments []string `json:"arguments,omitempty" yaml:"arguments,omitempty"`

	// Condition is the legacy substring-matched applicability token
	// (e.g. "architecture_x64"). Empty means always applicable.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Hash is an optional SHA-256 of the payload, verified after download.
	Hash string `json:"hash,omitempty" yaml:"hash,omitempty"`

	// Phase optionally names the phase this entry belongs to. The top-level
	// manifest partitioning is authoritative; this field is informational.
	Phase string `json:"phase,omitempty" yaml:"phase,omitempty"`

	// Required marks whether a failure of this package may abort its phase.
	// Defaults to true when absent.
	Required *bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Dependencies lists package names that must have installed successfully
	// earlier in the same run.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Conditions is the structured applicability block (rich variant).
	Conditions *Conditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Order is an explicit priority; lower runs first. Entries with equal
	// order keep their manifest position (stable sort).
	Order int `json:"order,omitempty" yaml:"order,omitempty"`

	// Timeout is the per-package install budget in seconds. Zero means the
	// engine default applies.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Retries is reserved for external re-invocation policy; the engine
	// never retries internally.
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// InstallerType returns the normalized installer type.
func (p *Package) InstallerType() PackageType {
	return ParsePackageType(p.Type)
}

// IsRequired reports whether the package is required (default true).
func (p *Package) IsRequired() bool {
	if p.Required == nil {
		return true
	}
	return *p.Required
}

// TimeoutOr returns the package timeout, or def when none is declared.
func (p *Package) TimeoutOr(def time.Duration) time.Duration {
	if p.Timeout > 0 {
		return time.Duration(p.Timeout) * time.Second
	}
	return def
}

// Manifest is the remotely-fetched document describing all packages,
// partitioned into the two phases.
type Manifest struct {
	// SetupAssistant lists packages for the pre-login phase.
	SetupAssistant []Package `json:"setupassistant" yaml:"setupassistant" validate:"dive"`

	// Userland lists packages for the post-login phase.
	Userland []Package `json:"userland" yaml:"userland" validate:"dive"`
}

// Packages returns the package list for a phase, in execution order.
func (m *Manifest) Packages(phase Phase) []Package {
	switch phase {
	case PhaseSetupAssistant:
		return m.SetupAssistant
	case PhaseUserland:
		return m.Userland
	default:
		return nil
	}
}

// Total returns the number of packages across both phases.
func (m *Manifest) Total() int {
	return len(m.SetupAssistant) + len(m.Userland)
}
