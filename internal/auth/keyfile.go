package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

const keyFileDebounce = 200 * time.Millisecond

// KeyFile is a set of API keys read from a JSON array of strings on disk.
// A missing file is an empty set.
type KeyFile struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	keys []string
}

// NewKeyFile loads the keys file at path.
func NewKeyFile(path string, logger *slog.Logger) (*KeyFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &KeyFile{path: path, logger: logger.With("component", "auth.keyfile")}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the watched file path.
func (f *KeyFile) Path() string {
	return f.path
}

// Reload re-reads the file. On error the previous key set is kept.
func (f *KeyFile) Reload() error {
	keys, err := ReadKeys(f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.keys = keys
	f.mu.Unlock()
	return nil
}

// Len returns the number of loaded keys.
func (f *KeyFile) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.keys)
}

// Contains reports whether key is in the set.
func (f *KeyFile) Contains(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	matched := false
	for _, candidate := range f.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			matched = true
		}
	}
	return matched
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file by rename are seen.
func (f *KeyFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go f.watchLoop(ctx, watcher)
	return nil
}

func (f *KeyFile) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target := filepath.Clean(f.path)
	var mu sync.Mutex
	var timer *time.Timer

	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(keyFileDebounce, func() {
			if err := f.Reload(); err != nil {
				f.logger.Warn("failed to reload keys file", "path", f.path, "error", err)
				return
			}
			f.logger.Info("reloaded keys file", "path", f.path, "keys", f.Len())
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("keys file watch error", "error", err)
		}
	}
}

// ReadKeys parses a keys file. A missing file yields no keys.
func ReadKeys(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var raw []string
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse keys file %s: %w", path, err)
	}
	keys := make([]string, 0, len(raw))
	for _, key := range raw {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
