package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openboots/openboots/pkg/manifest"
)

// Mirror maintains a JSON snapshot of all phase statuses. Detection scripts
// that cannot speak SQLite poll this file instead.
type Mirror struct {
	path string
}

// NewMirror creates a mirror writing to path.
func NewMirror(path string) *Mirror {
	return &Mirror{path: path}
}

// Path returns the mirror file location.
func (m *Mirror) Path() string {
	return m.path
}

// Write replaces the mirror content atomically. The snapshot lands in a
// temp file first and is renamed over the target, so a reader never sees a
// torn file.
func (m *Mirror) Write(statuses map[manifest.Phase]InstallationStatus) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}

	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status mirror: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write status mirror: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace status mirror: %w", err)
	}
	return nil
}

// Read loads the current snapshot. A missing file returns an empty map.
func (m *Mirror) Read() (map[manifest.Phase]InstallationStatus, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[manifest.Phase]InstallationStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read status mirror: %w", err)
	}

	var out map[manifest.Phase]InstallationStatus
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode status mirror: %w", err)
	}
	return out, nil
}
