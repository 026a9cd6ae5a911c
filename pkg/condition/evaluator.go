// Package condition evaluates per-package applicability predicates against
// detected machine facts.
//
// The evaluator is deliberately fail-open: an unrecognized token or an
// unevaluable probe makes the package applicable rather than silently
// skipping it over a manifest typo. It has no side effects and never
// returns an error.
package condition

import (
	"os"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/openboots/openboots/pkg/facts"
	"github.com/openboots/openboots/pkg/manifest"
)

// Recognized legacy condition tokens, matched by substring.
const (
	tokenArchX64   = "architecture_x64"
	tokenArchARM64 = "architecture_arm64"
)

// Prober answers platform probes for the structured condition variant.
// Implementations shell out to reg.exe / sc.exe; a nil prober fails open.
type Prober interface {
	// RegistryKeyExists reports whether the registry key exists.
	RegistryKeyExists(key string) (bool, error)

	// RegistryValueExists reports whether the named value exists under key.
	RegistryValueExists(key, value string) (bool, error)

	// ServiceExists reports whether the named service is registered.
	ServiceExists(name string) (bool, error)
}

// Evaluate resolves a legacy condition string against machine facts.
// An empty condition is always applicable. Recognized tokens are matched by
// substring; anything else defaults to applicable.
func Evaluate(cond string, f facts.MachineFacts) bool {
	cond = strings.ToLower(strings.TrimSpace(cond))
	if cond == "" {
		return true
	}

	// arm64 is checked first: "architecture_x64" is not a substring of it,
	// but both tokens may legitimately appear in a compound expression, in
	// which case each must hold.
	if strings.Contains(cond, tokenArchARM64) && f.Architecture != facts.ArchARM64 {
		return false
	}
	if strings.Contains(cond, tokenArchX64) && f.Architecture != facts.ArchX64 {
		return false
	}
	return true
}

// EvaluateConditions resolves the structured condition block. All populated
// clauses must hold (logical AND). Probe failures and unparseable versions
// fail open. A nil block is always applicable.
func EvaluateConditions(c *manifest.Conditions, f facts.MachineFacts, p Prober) bool {
	if c == nil {
		return true
	}

	if c.Architecture != "" &&
		facts.NormalizeArch(c.Architecture) != f.Architecture {
		return false
	}

	if c.OSVersion != "" && !osVersionAtLeast(f.OSVersion, c.OSVersion) {
		return false
	}

	if c.DomainJoined != nil && *c.DomainJoined != f.DomainJoined {
		return false
	}

	if c.FileExists != "" {
		if _, err := os.Stat(c.FileExists); err != nil {
			if os.IsNotExist(err) {
				return false
			}
			// Stat errors other than not-exist are inconclusive: fail open.
		}
	}

	if c.RegistryKey != "" {
		if ok, err := probeRegistry(p, c.RegistryKey, c.RegistryValue); err == nil && !ok {
			return false
		}
	}

	if c.ServiceExists != "" && p != nil {
		if ok, err := p.ServiceExists(c.ServiceExists); err == nil && !ok {
			return false
		}
	}

	return true
}

func probeRegistry(p Prober, key, value string) (bool, error) {
	if p == nil {
		return true, nil
	}
	if value != "" {
		return p.RegistryValueExists(key, value)
	}
	return p.RegistryKeyExists(key)
}

// osVersionAtLeast reports whether current >= minimum. Either side failing
// to parse makes the check inconclusive, which counts as satisfied.
func osVersionAtLeast(current, minimum string) bool {
	cur, err := goversion.NewVersion(current)
	if err != nil {
		return true
	}
	floor, err := goversion.NewVersion(minimum)
	if err != nil {
		return true
	}
	return !cur.LessThan(floor)
}
