package condition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openboots/openboots/pkg/facts"
	"github.com/openboots/openboots/pkg/manifest"
)

func x64Facts() facts.MachineFacts {
	return facts.MachineFacts{Architecture: facts.ArchX64, OSVersion: "10.0.19045"}
}

func arm64Facts() facts.MachineFacts {
	return facts.MachineFacts{Architecture: facts.ArchARM64, OSVersion: "11.0.22631"}
}

func TestEvaluateArchitectureTokens(t *testing.T) {
	cases := []struct {
		name string
		cond string
		f    facts.MachineFacts
		want bool
	}{
		{"x64 token on x64", "architecture_x64", x64Facts(), true},
		{"x64 token on arm64", "architecture_x64", arm64Facts(), false},
		{"arm64 token on arm64", "architecture_arm64", arm64Facts(), true},
		{"arm64 token on x64", "architecture_arm64", x64Facts(), false},
		{"token embedded in longer expression", "only_if architecture_arm64", x64Facts(), false},
		{"uppercase token", "ARCHITECTURE_X64", x64Facts(), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.cond, tc.f); got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

// Unrecognized tokens must evaluate applicable so a manifest typo never
// silently skips a package.
func TestEvaluateFailsOpen(t *testing.T) {
	for _, cond := range []string{"", "architecture_mips", "when_phase_of_moon", "x64"} {
		if !Evaluate(cond, arm64Facts()) {
			t.Errorf("Evaluate(%q) = false, want fail-open true", cond)
		}
	}
}

func TestEvaluateConditionsNilBlock(t *testing.T) {
	if !EvaluateConditions(nil, x64Facts(), nil) {
		t.Error("nil conditions block must be applicable")
	}
}

func TestEvaluateConditionsArchitecture(t *testing.T) {
	c := &manifest.Conditions{Architecture: "amd64"}
	if !EvaluateConditions(c, x64Facts(), nil) {
		t.Error("amd64 should normalize to x64 and match")
	}
	if EvaluateConditions(c, arm64Facts(), nil) {
		t.Error("amd64 condition must not match arm64 machine")
	}
}

func TestEvaluateConditionsOSVersion(t *testing.T) {
	c := &manifest.Conditions{OSVersion: "10.0.19041"}
	if !EvaluateConditions(c, x64Facts(), nil) {
		t.Error("10.0.19045 satisfies minimum 10.0.19041")
	}

	c = &manifest.Conditions{OSVersion: "11.0"}
	if EvaluateConditions(c, x64Facts(), nil) {
		t.Error("10.0.19045 must not satisfy minimum 11.0")
	}

	// Unparseable versions are inconclusive and fail open.
	c = &manifest.Conditions{OSVersion: "not-a-version"}
	if !EvaluateConditions(c, x64Facts(), nil) {
		t.Error("unparseable minimum version must fail open")
	}
}

func TestEvaluateConditionsDomainJoined(t *testing.T) {
	joined := true
	c := &manifest.Conditions{DomainJoined: &joined}

	f := x64Facts()
	if EvaluateConditions(c, f, nil) {
		t.Error("domain_joined=true must not match an unjoined machine")
	}
	f.DomainJoined = true
	if !EvaluateConditions(c, f, nil) {
		t.Error("domain_joined=true must match a joined machine")
	}
}

func TestEvaluateConditionsFileExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if !EvaluateConditions(&manifest.Conditions{FileExists: present}, x64Facts(), nil) {
		t.Error("existing file must satisfy file_exists")
	}
	if EvaluateConditions(&manifest.Conditions{FileExists: filepath.Join(dir, "absent.txt")}, x64Facts(), nil) {
		t.Error("missing file must not satisfy file_exists")
	}
}

type fakeProber struct {
	keys     map[string]bool
	services map[string]bool
	err      error
}

func (f *fakeProber) RegistryKeyExists(key string) (bool, error) {
	return f.keys[key], f.err
}

func (f *fakeProber) RegistryValueExists(key, value string) (bool, error) {
	return f.keys[key+"\\"+value], f.err
}

func (f *fakeProber) ServiceExists(name string) (bool, error) {
	return f.services[name], f.err
}

func TestEvaluateConditionsProber(t *testing.T) {
	p := &fakeProber{
		keys:     map[string]bool{`HKLM\Software\Vendor`: true},
		services: map[string]bool{"Spooler": true},
	}

	if !EvaluateConditions(&manifest.Conditions{RegistryKey: `HKLM\Software\Vendor`}, x64Facts(), p) {
		t.Error("present registry key must satisfy registry_key")
	}
	if EvaluateConditions(&manifest.Conditions{RegistryKey: `HKLM\Software\Missing`}, x64Facts(), p) {
		t.Error("absent registry key must not satisfy registry_key")
	}
	if EvaluateConditions(&manifest.Conditions{ServiceExists: "NotAService"}, x64Facts(), p) {
		t.Error("absent service must not satisfy service_exists")
	}
	if !EvaluateConditions(&manifest.Conditions{ServiceExists: "Spooler"}, x64Facts(), p) {
		t.Error("present service must satisfy service_exists")
	}

	// Without a prober, platform probes are inconclusive and fail open.
	if !EvaluateConditions(&manifest.Conditions{RegistryKey: `HKLM\Software\Missing`}, x64Facts(), nil) {
		t.Error("nil prober must fail open")
	}

	// A failing prober is inconclusive too.
	p.err = os.ErrPermission
	if !EvaluateConditions(&manifest.Conditions{ServiceExists: "NotAService"}, x64Facts(), p) {
		t.Error("probe errors must fail open")
	}
}
