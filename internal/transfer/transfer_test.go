package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/andrej220/boardrun/internal/testutil/boardsim"
	"github.com/andrej220/boardrun/internal/transport"
)

func simDialer(sim *boardsim.Server) *transport.Dialer {
	cfg := transport.DefaultSSHConfig()
	cfg.Host = sim.Host
	cfg.Port = sim.Port
	cfg.Password = boardsim.DefaultPassword
	cfg.Backoff = 5 * time.Millisecond
	return transport.NewDialer(cfg, nil)
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sample_vi")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o755))
	return p
}

func TestUpload(t *testing.T) {
	sim := boardsim.Start(t)
	src := writeTemp(t, "\x7fELF binary payload")

	u := NewUploader(simDialer(sim), WithBackoff(time.Millisecond))
	require.NoError(t, u.Upload(context.Background(), src, "/mnt/data/sample vi"))

	got, ok := sim.File("/mnt/data/sample vi")
	require.True(t, ok)
	assert.Equal(t, "\x7fELF binary payload", string(got))
	assert.Equal(t, 1, sim.Uploads())
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	sim := boardsim.Start(t, boardsim.WithUploadFailures(2))
	src := writeTemp(t, "data")

	u := NewUploader(simDialer(sim), WithAttempts(3), WithBackoff(time.Millisecond))
	require.NoError(t, u.Upload(context.Background(), src, "/tmp/data"))
	assert.Equal(t, 3, sim.Uploads())

	_, ok := sim.File("/tmp/data")
	assert.True(t, ok)
}

func TestUploadGivesUpAfterLastAttempt(t *testing.T) {
	sim := boardsim.Start(t, boardsim.WithUploadFailures(10))
	src := writeTemp(t, "data")

	u := NewUploader(simDialer(sim), WithAttempts(2), WithBackoff(time.Millisecond))
	err := u.Upload(context.Background(), src, "/tmp/data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempt(s)")
	assert.Contains(t, err.Error(), "No space left on device")
	assert.Equal(t, 2, sim.Uploads())
}

func TestUploadMissingSource(t *testing.T) {
	var dials atomic.Int32
	u := NewUploader(dialerFunc(func(context.Context) (*ssh.Client, error) {
		dials.Add(1)
		return nil, errors.New("unreachable")
	}))

	err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "/tmp/x")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, dials.Load())
}

func TestUploadStopsOnCancel(t *testing.T) {
	src := writeTemp(t, "data")
	ctx, cancel := context.WithCancel(context.Background())
	var dials atomic.Int32
	u := NewUploader(dialerFunc(func(context.Context) (*ssh.Client, error) {
		dials.Add(1)
		cancel()
		return nil, context.Canceled
	}), WithAttempts(5), WithBackoff(time.Hour))

	err := u.Upload(ctx, src, "/tmp/x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), dials.Load())
}

type dialerFunc func(ctx context.Context) (*ssh.Client, error)

func (f dialerFunc) Dial(ctx context.Context) (*ssh.Client, error) { return f(ctx) }

func TestQuote(t *testing.T) {
	assert.Equal(t, `'/tmp/a b'`, Quote("/tmp/a b"))
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
}
