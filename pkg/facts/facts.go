// Package facts detects machine facts used for package applicability
// decisions: processor architecture, OS version, hostname, and domain
// membership. Detection is best-effort and never fails a run.
package facts

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Architecture values are normalized to the manifest vocabulary.
const (
	ArchX64   = "x64"
	ArchX86   = "x86"
	ArchARM64 = "arm64"
)

// MachineFacts is the detected machine state handed to the condition
// evaluator and recorded in phase status.
type MachineFacts struct {
	// Architecture is the normalized system architecture (x64, arm64, x86).
	Architecture string `json:"architecture"`

	// OSVersion is the OS version string (e.g. "10.0.19045", "11.0.22631").
	OSVersion string `json:"os_version"`

	// Hostname is the local machine name.
	Hostname string `json:"hostname"`

	// DomainJoined reports AD domain membership, false when undeterminable.
	DomainJoined bool `json:"domain_joined"`
}

// Detect collects machine facts. Individual probes that fail leave their
// field at a zero value rather than returning an error.
func Detect() MachineFacts {
	f := MachineFacts{
		Architecture: SystemArchitecture(),
		DomainJoined: domainJoined(),
	}

	if info, err := host.Info(); err == nil {
		f.Hostname = info.Hostname
		f.OSVersion = normalizeWindowsVersion(info.KernelVersion)
	}
	if f.Hostname == "" {
		f.Hostname, _ = os.Hostname()
	}
	return f
}

// SystemArchitecture returns the normalized system architecture. The
// PROCESSOR_ARCHITECTURE environment variable is preferred over
// runtime.GOARCH because an emulated x86/arm binary still needs the real
// machine architecture for applicability decisions.
func SystemArchitecture() string {
	if arch := os.Getenv("PROCESSOR_ARCHITECTURE"); arch != "" {
		return NormalizeArch(arch)
	}
	return NormalizeArch(runtime.GOARCH)
}

// NormalizeArch maps architecture synonyms onto the manifest vocabulary.
func NormalizeArch(arch string) string {
	switch strings.ToLower(strings.TrimSpace(arch)) {
	case "amd64", "x86_64", "x64":
		return ArchX64
	case "386", "x86", "i386":
		return ArchX86
	case "arm64", "aarch64":
		return ArchARM64
	default:
		return strings.ToLower(strings.TrimSpace(arch))
	}
}

// normalizeWindowsVersion maps kernel versions onto logical Windows
// versions. Windows 11 still reports kernel 10.0.x; builds at or above
// 22000 are reported as 11.0.x.
func normalizeWindowsVersion(kernel string) string {
	parts := strings.Split(kernel, ".")
	if len(parts) >= 3 && parts[0] == "10" && parts[1] == "0" {
		if build, err := strconv.Atoi(parts[2]); err == nil && build >= 22000 {
			return fmt.Sprintf("11.0.%s", parts[2])
		}
	}
	return kernel
}

// domainJoined reports AD membership from the logon environment. A machine
// without USERDNSDOMAIN during OOBE is treated as not joined.
func domainJoined() bool {
	if d := os.Getenv("USERDNSDOMAIN"); d != "" {
		return true
	}
	userDomain := os.Getenv("USERDOMAIN")
	computerName := os.Getenv("COMPUTERNAME")
	return userDomain != "" && computerName != "" &&
		!strings.EqualFold(userDomain, computerName)
}
