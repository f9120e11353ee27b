package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/shared"
)

var errCorrupt = errors.New("token file is not valid JSON")

// FileStore keeps all keys in a single JSON object file readable only by the owner.
//
// Every call reads the file again so writes from other processes are visible. Writers serialize
// through a lock file and replace the file atomically via rename. A file that does not parse reads
// as empty and is overwritten by the next write.
type FileStore struct {
	path   string
	logger *log.Logger
}

// NewFileStore creates a [FileStore] at path, creating its directory.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{path: path, logger: shared.NewLogger(nil)}, nil
}

// SetLogger replaces the logger used to report an unreadable token file.
func (f *FileStore) SetLogger(logger *log.Logger) { f.logger = logger }

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	data, err := f.read()
	if errors.Is(err, errCorrupt) {
		f.logger.Warn("ignoring unreadable token file", "path", f.path, "error", err)
		data = map[string]string{}
	} else if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (f *FileStore) Set(ctx context.Context, key, value string) error {
	return f.update(ctx, func(data map[string]string) { data[key] = value })
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	return f.update(ctx, func(data map[string]string) { delete(data, key) })
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) read() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	data := map[string]string{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return data, nil
}

func (f *FileStore) update(ctx context.Context, mutate func(map[string]string)) error {
	lock, err := acquireFileLock(ctx, f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.release()

	data, err := f.read()
	if errors.Is(err, errCorrupt) {
		data = map[string]string{}
	} else if err != nil {
		return err
	}
	mutate(data)

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			return fmt.Errorf("failed to rename temp file: %v; also failed to remove temp file: %w", err, removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
