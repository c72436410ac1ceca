package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"

	"github.com/andrej220/boardrun/internal/lg"
)

const (
	DefaultSSHPort        = 22
	DefaultConnectRetries = 3
	DefaultConnectBackoff = 3 * time.Second
	DefaultKeepalive      = 20 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// SSHConfig describes how to reach and log into a device over SSH.
type SSHConfig struct {
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	User           string        `yaml:"user" json:"user"`
	Password       string        `yaml:"password" json:"-"`
	KeyPath        string        `yaml:"keyPath" json:"keyPath"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" json:"connectTimeout"`
	Retries        int           `yaml:"retries" json:"retries"`
	Backoff        time.Duration `yaml:"backoff" json:"backoff"`
	Keepalive      time.Duration `yaml:"keepalive" json:"keepalive"`
	// DisablePTY starts the shell without a terminal. Boards expect one.
	DisablePTY bool   `yaml:"disablePty" json:"disablePty"`
	Term       string `yaml:"term" json:"term"`
}

// DefaultSSHConfig returns the connection defaults used for boards.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		Port:           DefaultSSHPort,
		User:           "root",
		ConnectTimeout: DefaultConnectTimeout,
		Retries:        DefaultConnectRetries,
		Backoff:        DefaultConnectBackoff,
		Keepalive:      DefaultKeepalive,
		Term:           "vt100",
	}
}

func (c SSHConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyPath != "" {
		signer, err := readSigner(c.KeyPath)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" || c.KeyPath == "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // boards are reflashed, host keys change
		Timeout:         timeout,
		BannerCallback:  func(string) error { return nil },
	}, nil
}

func readSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// Dialer opens SSH client connections to one device. Transient network
// errors are retried with a constant backoff; handshake and authentication
// failures are not. Every attempt goes through a circuit breaker that lives
// as long as the Dialer.
type Dialer struct {
	cfg     SSHConfig
	breaker *gobreaker.CircuitBreaker
	logger  lg.Logger
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialer builds a Dialer for cfg.
func NewDialer(cfg SSHConfig, logger lg.Logger) *Dialer {
	if logger == nil {
		logger = lg.Discard
	}
	settings := gobreaker.Settings{
		Name:        "ssh-" + cfg.addr(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	nd := &net.Dialer{Timeout: timeout}
	return &Dialer{
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger.With(lg.String("target", cfg.addr())),
		dial:    nd.DialContext,
	}
}

// Dial connects and authenticates. On failure the error wraps ErrConnection.
func (d *Dialer) Dial(ctx context.Context) (*ssh.Client, error) {
	clientCfg, err := d.cfg.clientConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, d.cfg.addr(), err)
	}
	retries := d.cfg.Retries
	if retries <= 0 {
		retries = DefaultConnectRetries
	}
	addr := d.cfg.addr()

	var (
		client  *ssh.Client
		attempt int
	)
	op := func() error {
		attempt++
		res, err := d.breaker.Execute(func() (any, error) {
			return d.connect(ctx, addr, clientCfg)
		})
		if err != nil {
			if isPermanentDialError(err) {
				d.logger.Error("ssh connect failed", lg.Int("attempt", attempt), lg.Err(err))
				return backoff.Permanent(err)
			}
			d.logger.Warn("ssh connect failed",
				lg.Int("attempt", attempt), lg.Int("max", retries), lg.Err(err))
			return err
		}
		client = res.(*ssh.Client)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.retryWait()), uint64(retries-1)),
		ctx,
	)
	notify := func(_ error, wait time.Duration) {
		d.logger.Warn("retrying ssh connect", lg.Duration("after", wait))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %v", ErrConnection, addr, attempt, err)
	}
	d.logger.Info("ssh connected", lg.Int("attempt", attempt))
	return client, nil
}

func (c SSHConfig) retryWait() time.Duration {
	if c.Backoff <= 0 {
		return DefaultConnectBackoff
	}
	return c.Backoff
}

func (d *Dialer) connect(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := d.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// isPermanentDialError reports errors that another attempt cannot fix:
// protocol or authentication failures and an open breaker.
func isPermanentDialError(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return strings.Contains(err.Error(), "ssh: handshake failed")
}

// SSH is a session transport: an interactive shell on an SSH connection.
type SSH struct {
	id      string
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	in      *inbox
	logger  lg.Logger

	stop      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*SSH)(nil)

// OpenSSH dials the device and starts an interactive shell.
func OpenSSH(ctx context.Context, dialer *Dialer) (*SSH, error) {
	client, err := dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	t, err := startShell(client, dialer.cfg, dialer.logger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, dialer.cfg.addr(), err)
	}
	return t, nil
}

func startShell(client *ssh.Client, cfg SSHConfig, logger lg.Logger) (*SSH, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if !cfg.DisablePTY {
		term := cfg.Term
		if term == "" {
			term = "vt100"
		}
		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 115200,
			ssh.TTY_OP_OSPEED: 115200,
		}
		if err := session.RequestPty(term, 24, 200, modes); err != nil {
			session.Close()
			return nil, fmt.Errorf("request pty: %w", err)
		}
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	id := cfg.addr() + "/" + uuid.NewString()
	t := &SSH{
		id:      id,
		client:  client,
		session: session,
		stdin:   stdin,
		in:      newInbox(),
		logger:  logger.With(lg.String("session", id)),
		stop:    make(chan struct{}),
	}
	t.in.pump(stdout)
	t.in.pump(stderr)

	keepalive := cfg.Keepalive
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	go t.keepalive(keepalive)

	t.logger.Info("ssh shell started")
	return t, nil
}

func (t *SSH) keepalive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("keepalive failed", lg.Err(err))
			}
		}
	}
}

func (t *SSH) ID() string { return t.id }

func (t *SSH) Write(p []byte) error {
	if err := writeFull(t.stdin, p); err != nil {
		return fmt.Errorf("ssh %s write: %w", t.id, err)
	}
	return nil
}

func (t *SSH) ReadAvailable(max int) []byte { return t.in.take(max) }

func (t *SSH) Pending() int { return t.in.pending() }

func (t *SSH) Err() error { return t.in.failure() }

func (t *SSH) Drain() { t.in.reset() }

func (t *SSH) Interrupt() error {
	return t.Write([]byte{InterruptByte})
}

// Client exposes the underlying connection, e.g. for file transfer.
func (t *SSH) Client() *ssh.Client { return t.client }

func (t *SSH) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		_ = t.stdin.Close()
		_ = t.session.Close()
		err = t.client.Close()
		t.logger.Info("ssh shell closed")
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
