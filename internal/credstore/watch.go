package credstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"tunneldeck/internal/logging"
)

// Snapshot is one observed state of the store: Present reports whether a
// credential existed when the change was read back.
type Snapshot struct {
	Credential Credential
	Present    bool
}

// Watch emits a Snapshot whenever the credentials file changes on disk, so a
// login or logout performed by another process reaches a running console.
// The channel closes when ctx is done.
func (s *Store) Watch(ctx context.Context) (<-chan Snapshot, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors and os.WriteFile replace the
	// file, which drops a direct file watch.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	updates := make(chan Snapshot, 1)
	go func() {
		defer close(updates)
		defer func() {
			_ = watcher.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
					continue
				}
				cred, present, loadErr := s.Load()
				if loadErr != nil {
					s.logger.Warn("credential reload failed", logging.Field("error", loadErr))
					continue
				}
				s.logger.Debug("credential store changed on disk",
					logging.Field("op", event.Op.String()),
					logging.Field("present", present),
				)
				select {
				case updates <- Snapshot{Credential: cred, Present: present}:
				case <-ctx.Done():
					return
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("credential store watcher error", logging.Field("error", watchErr))
			}
		}
	}()
	return updates, nil
}
