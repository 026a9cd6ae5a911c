package status

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/openboots/openboots/pkg/manifest"
)

// Watch streams status snapshots as the JSON mirror changes. The returned
// channel carries the initial snapshot immediately and then one snapshot per
// observed change, and closes when ctx is cancelled. The watch is placed on
// the mirror's directory because atomic rename replaces the file inode on
// every write.
func (m *Mirror) Watch(ctx context.Context) (<-chan map[manifest.Phase]InstallationStatus, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(m.path), err)
	}

	out := make(chan map[manifest.Phase]InstallationStatus, 1)
	if snap, err := m.Read(); err == nil {
		out <- snap
	}

	go func() {
		defer close(out)
		defer watcher.Close()

		target := filepath.Clean(m.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				snap, err := m.Read()
				if err != nil {
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}
