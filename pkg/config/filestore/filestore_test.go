package filestore

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string   `yaml:"name"`
	Ports []string `yaml:"ports"`
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "boardrun.yaml")
	s := New(path)

	in := doc{Name: "lab", Ports: []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}}
	require.NoError(t, s.Save(in))
	assert.NoFileExists(t, path+".tmp")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var out doc
	require.NoError(t, s.Load(&out))
	assert.Equal(t, in, out)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	var out doc
	assert.Error(t, New(filepath.Join(dir, "missing.yaml")).Load(&out))
	assert.Error(t, New(filepath.Join(dir, "x.yaml")).Load(nil))

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	assert.ErrorContains(t, New(empty).Load(&out), "is empty")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: [\n"), 0o600))
	assert.ErrorContains(t, New(bad).Load(&out), "failed to parse YAML")

	assert.Error(t, New(filepath.Join(dir, "y.yaml")).Save(nil))
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.yaml")
	s := New(path)
	require.NoError(t, s.Save(doc{Name: "v1"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var changes atomic.Int32
	require.NoError(t, s.Watch(ctx, func() { changes.Add(1) }, nil))

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0o600))
	require.NoError(t, s.Save(doc{Name: "v2"}))

	require.Eventually(t, func() bool { return changes.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatchNilCallback(t *testing.T) {
	assert.Error(t, New(filepath.Join(t.TempDir(), "a.yaml")).Watch(context.Background(), nil, nil))
}
