// Package pidfile records the daemon's pid and lets other processes wait for
// it to go away.
package pidfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
)

const FileMode = 0o644

// ErrNotRunning is returned by Read when the file does not exist.
var ErrNotRunning = errors.New("pidfile: daemon not running")

// Write atomically replaces path with pid. The parent directory is created.
func Write(path string, pid int) error {
	if path == "" {
		return errors.New("pidfile: empty path")
	}
	if pid <= 0 {
		return fmt.Errorf("pidfile: invalid pid %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pidfile: %w", err)
	}
	if err := renameio.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), FileMode); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	return nil
}

// Read returns the pid stored in path.
func Read(path string) (int, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("pidfile: read %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pidfile: %s: malformed content %q", path, strings.TrimSpace(string(b)))
	}
	return pid, nil
}

// Remove deletes path only if it still records pid, so a newer daemon's file
// is left alone. A missing file is not an error.
func Remove(path string, pid int) error {
	cur, err := Read(path)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	if err == nil && cur != pid {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("pidfile: remove %s: %w", path, err)
	}
	return nil
}

// WaitRemoved blocks until path no longer exists, ctx is done or timeout
// elapses. It watches the parent directory so a remove or rename of the file
// is seen without polling.
func WaitRemoved(ctx context.Context, path string, timeout time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("pidfile: watch: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("pidfile: watch %s: %w", dir, err)
	}
	// checked after Add so a removal in between is not missed
	if !exists(path) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			if !exists(path) {
				return nil
			}
			return fmt.Errorf("pidfile: %s still present: %w", path, ctx.Err())
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("pidfile: watcher closed")
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				if !exists(path) {
					return nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("pidfile: watcher closed")
			}
			if err != nil && !exists(path) {
				return nil
			}
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
