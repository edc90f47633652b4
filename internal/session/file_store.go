package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"smart-queue/internal/status"

	"github.com/fsnotify/fsnotify"
)

// Change reports an external modification of a FileStore.
type Change int

const (
	ChangeUpdated Change = iota
	ChangeRemoved
)

func (c Change) String() string {
	if c == ChangeRemoved {
		return "removed"
	}
	return "updated"
}

// FileStore keeps credentials in a single file, sealed when a Sealer is set.
type FileStore struct {
	path   string
	sealer *Sealer
	mu     sync.Mutex
}

func NewFileStore(path string, sealer *Sealer) *FileStore {
	return &FileStore{path: path, sealer: sealer}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, status.ErrNoCredential
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("file store: load: %w", err)
	}
	return decode(data, s.sealer)
}

func (s *FileStore) Save(_ context.Context, creds Credentials) error {
	data, err := encode(creds, s.sealer)
	if err != nil {
		return fmt.Errorf("file store: save: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("file store: save: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("file store: save: temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: save: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: save: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: save: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("file store: save: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: clear: %w", err)
	}
	return nil
}

// Watch reports changes made to the credential file by other processes,
// such as a login or logout from another terminal. The channel is closed
// when ctx is done.
func (s *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file store: watch: mkdir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file store: watch: %w", err)
	}
	// The directory is watched since Save replaces the file by rename.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("file store: watch %s: %w", dir, err)
	}

	changes := make(chan Change, 1)
	go func() {
		defer close(changes)
		defer watcher.Close()

		name := filepath.Base(s.path)
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}

				var change Change
				switch {
				case event.Op&fsnotify.Remove == fsnotify.Remove:
					change = ChangeRemoved
				case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
					change = ChangeUpdated
				default:
					continue
				}
				slog.Debug("session file changed", "file", event.Name, "change", change)

				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("session file watcher error", "error", err)
			}
		}
	}()

	return changes, nil
}
