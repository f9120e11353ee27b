package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

const (
	lockRetryDelay = 50 * time.Millisecond
	lockMaxWait    = 5 * time.Second
	lockStaleAfter = 30 * time.Second
)

// fileLock is an advisory lock held by exclusively creating "<path>.lock".
type fileLock struct {
	file *os.File
	path string
}

// acquireFileLock waits until it can create the lock file for path, removing locks older than
// lockStaleAfter left behind by crashed processes.
func acquireFileLock(ctx context.Context, path string) (*fileLock, error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(lockMaxWait)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{file: f, path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for file lock after %v", lockMaxWait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (l *fileLock) release() error {
	if l.file != nil {
		l.file.Close()
	}
	return os.Remove(l.path)
}
