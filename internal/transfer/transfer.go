// Package transfer copies files from the host to a board over SSH.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"

	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/transport"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

// Dialer opens an authenticated SSH connection.
type Dialer interface {
	Dial(ctx context.Context) (*ssh.Client, error)
}

// Uploader streams local files to "cat > path" on the board. Every attempt
// uses a fresh connection; attempts are bounded.
type Uploader struct {
	dialer   Dialer
	attempts int
	wait     time.Duration
	logger   lg.Logger
}

type Option func(*Uploader)

func WithAttempts(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.attempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(u *Uploader) {
		if d >= 0 {
			u.wait = d
		}
	}
}

func WithLogger(l lg.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

func NewUploader(dialer Dialer, opts ...Option) *Uploader {
	u := &Uploader{
		dialer:   dialer,
		attempts: DefaultAttempts,
		wait:     DefaultBackoff,
		logger:   lg.Discard,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload copies src to dst. The local file is read once; a missing or
// unreadable file fails without retrying.
func (u *Uploader) Upload(ctx context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("upload %s: %w", src, err)
	}
	logger := u.logger.With(lg.String("src", src), lg.String("dst", dst))

	attempt := 0
	op := func() error {
		attempt++
		err := u.put(ctx, data, dst)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		logger.Warn("upload failed", lg.Int("attempt", attempt), lg.Int("max", u.attempts), lg.Err(err))
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(u.wait), uint64(u.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		logger.Error("upload gave up", lg.Int("attempts", attempt), lg.Err(err))
		return fmt.Errorf("upload %s to %s after %d attempt(s): %w", src, dst, attempt, err)
	}
	logger.Info("upload done", lg.Int("bytes", len(data)), lg.Int("attempt", attempt))
	return nil
}

func (u *Uploader) put(ctx context.Context, data []byte, dst string) error {
	client, err := u.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	var stderr bytes.Buffer
	sess.Stdin = bytes.NewReader(data)
	sess.Stderr = &stderr
	if err := sess.Run("cat > " + Quote(dst)); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// Quote makes s a single shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ Dialer = (*transport.Dialer)(nil)
