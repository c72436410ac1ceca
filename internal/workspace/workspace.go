// Package workspace tracks the host-side working directory of every test
// module for the duration of a run.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/andrej220/boardrun/internal/lg"
)

const StatusReady = "ready"

var ErrEmptyID = errors.New("empty module id")

// Workspace is the state kept for one module.
type Workspace struct {
	ModuleID string    `json:"moduleId"`
	Path     string    `json:"path"`
	EnvFile  string    `json:"envFile,omitempty"`
	Status   string    `json:"status"`
	Created  time.Time `json:"created"`
}

// Registry maps module ids to workspaces. It is owned by whoever
// orchestrates the run and passed to the code that needs it.
type Registry struct {
	root   string
	logger lg.Logger

	mu      sync.Mutex
	entries map[string]*Workspace
}

// NewRegistry keeps workspaces below root.
func NewRegistry(root string, logger lg.Logger) *Registry {
	if logger == nil {
		logger = lg.Discard
	}
	return &Registry{root: root, logger: logger, entries: make(map[string]*Workspace)}
}

// Ensure returns the workspace of moduleID, creating its directory on first
// use. Later calls return the same workspace and ignore envFile.
func (r *Registry) Ensure(moduleID, envFile string) (*Workspace, error) {
	if moduleID == "" {
		return nil, ErrEmptyID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if ws, ok := r.entries[moduleID]; ok {
		return ws, nil
	}
	path := filepath.Join(r.root, dirName(moduleID))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %q: %w", moduleID, err)
	}
	ws := &Workspace{
		ModuleID: moduleID,
		Path:     path,
		EnvFile:  envFile,
		Status:   StatusReady,
		Created:  time.Now(),
	}
	r.entries[moduleID] = ws
	r.logger.Info("workspace created", lg.String("module", moduleID), lg.String("path", path))
	return ws, nil
}

func (r *Registry) Get(moduleID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.entries[moduleID]
	return ws, ok
}

// Release forgets moduleID. With clean set, its directory is removed too.
func (r *Registry) Release(moduleID string, clean bool) error {
	r.mu.Lock()
	ws, ok := r.entries[moduleID]
	delete(r.entries, moduleID)
	r.mu.Unlock()

	if !ok || !clean {
		return nil
	}
	r.logger.Warn("cleaning workspace", lg.String("module", moduleID), lg.String("path", ws.Path))
	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("clean workspace %q: %w", moduleID, err)
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the registered module ids in order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func dirName(id string) string {
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_", ":", "_").Replace(id)
}
