package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/pkg/config/configstore"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

// FileStore keeps a YAML document in a file.
type FileStore struct {
	Path string
}

func New(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}
	bytes, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}
	if len(bytes) == 0 {
		return fmt.Errorf("Load: config file %s is empty", f.Path)
	}
	if err := yaml.Unmarshal(bytes, out); err != nil {
		return fmt.Errorf("Load: failed to parse YAML in %s: %w", f.Path, err)
	}
	return nil
}

// Save writes a temp file next to Path and renames it over Path.
func (f *FileStore) Save(in any) error {
	if in == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}
	bytes, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("Save: failed to marshal YAML: %w", err)
	}
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("Save: failed to create %s: %w", dir, err)
		}
	}
	tmpPath := f.Path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0o600); err != nil {
		return fmt.Errorf("Save: failed to write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		return fmt.Errorf("Save: failed to replace %s with %s: %w", f.Path, tmpPath, err)
	}
	return nil
}

// Watch calls onChange after the file is written or replaced, until ctx is
// done. The parent directory is watched because editors and Save replace
// the file by renaming.
func (f *FileStore) Watch(ctx context.Context, onChange func(), logger lg.Logger) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}
	if logger == nil {
		logger = lg.Discard
	}
	abs, err := filepath.Abs(f.Path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file %s: %w", f.Path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watcher error", lg.String("path", f.Path), lg.Err(err))
			}
		}
	}()
	return nil
}
