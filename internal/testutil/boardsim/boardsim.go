// Package boardsim runs an in-process SSH server that behaves like a board's
// root shell: it echoes input, answers a few known commands, prints the
// prompt when a command is done and never returns for "./" programs until it
// receives Ctrl+C. It also accepts "cat > path" uploads.
package boardsim

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/ssh"
	gossh "golang.org/x/crypto/ssh"
)

const (
	DefaultPrompt   = "[root@cvitek]~# "
	DefaultUser     = "root"
	DefaultPassword = "cvitek"
	DefaultIP       = "192.168.1.23"
)

// Responder produces the output of one command line. hang=true means the
// command keeps running until interrupted.
type Responder func(line string) (output string, hang bool)

// Server is a simulated board.
type Server struct {
	Addr     string
	Host     string
	Port     int
	Password string
	Prompt   string

	respond Responder
	srv     *ssh.Server

	mu          sync.Mutex
	authTries   int
	interrupts  int
	lines       []string
	files       map[string][]byte
	uploads     int
	failUploads int
}

// Option customises a Server before it starts.
type Option func(*Server)

// WithResponder replaces the default command table.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.respond = r }
}

// WithPrompt replaces the shell prompt.
func WithPrompt(p string) Option {
	return func(s *Server) { s.Prompt = p }
}

// WithUploadFailures makes the first n uploads exit with status 1.
func WithUploadFailures(n int) Option {
	return func(s *Server) { s.failUploads = n }
}

// Start listens on a loopback port and stops the server when t ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		Password: DefaultPassword,
		Prompt:   DefaultPrompt,
		respond:  DefaultResponder,
		files:    make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tcp := ln.Addr().(*net.TCPAddr)
	s.Addr = ln.Addr().String()
	s.Host = tcp.IP.String()
	s.Port = tcp.Port

	s.srv = &ssh.Server{
		Handler: s.handle,
		PasswordHandler: func(ctx ssh.Context, password string) bool {
			s.mu.Lock()
			s.authTries++
			s.mu.Unlock()
			return ctx.User() == DefaultUser && password == s.Password
		},
	}
	s.srv.AddHostKey(signer)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			t.Logf("boardsim serve: %v", err)
		}
	}()
	t.Cleanup(func() { _ = s.srv.Close() })
	return s
}

// AuthAttempts is the number of password checks the server performed.
func (s *Server) AuthAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authTries
}

// Interrupts is the number of Ctrl+C bytes received by shells.
func (s *Server) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// Lines returns every command line the shells received.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Uploads is the number of upload sessions, failed ones included.
func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// File returns an uploaded file.
func (s *Server) File(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	return b, ok
}

func (s *Server) handle(sess ssh.Session) {
	if raw := sess.RawCommand(); raw != "" {
		s.exec(sess, raw)
		return
	}
	s.shell(sess)
}

func (s *Server) exec(sess ssh.Session, raw string) {
	path, ok := strings.CutPrefix(raw, "cat > ")
	if !ok {
		_, _ = io.WriteString(sess.Stderr(), "sh: unsupported\n")
		_ = sess.Exit(127)
		return
	}
	data, err := io.ReadAll(sess)
	if err != nil {
		_ = sess.Exit(1)
		return
	}
	s.mu.Lock()
	s.uploads++
	fail := s.uploads <= s.failUploads
	if !fail {
		s.files[strings.Trim(path, `'"`)] = data
	}
	s.mu.Unlock()
	if fail {
		_, _ = io.WriteString(sess.Stderr(), "sh: can't create "+path+": No space left on device\n")
		_ = sess.Exit(1)
		return
	}
	_ = sess.Exit(0)
}

func (s *Server) shell(sess ssh.Session) {
	_, _ = io.WriteString(sess, s.Prompt)

	var (
		line    []byte
		running bool
		buf     = make([]byte, 1024)
	)
	for {
		n, err := sess.Read(buf)
		for _, c := range buf[:n] {
			switch {
			case c == 0x03:
				s.mu.Lock()
				s.interrupts++
				s.mu.Unlock()
				line = line[:0]
				if running {
					running = false
					_, _ = io.WriteString(sess, "^C\r\n"+s.Prompt)
				}
			case running:
				// input is ignored while a foreground program runs
			case c == '\r' || c == '\n':
				cmd := string(line)
				line = line[:0]
				s.mu.Lock()
				s.lines = append(s.lines, cmd)
				s.mu.Unlock()
				out, hang := s.respond(cmd)
				_, _ = io.WriteString(sess, cmd+"\r\n"+out)
				if hang {
					running = true
					continue
				}
				_, _ = io.WriteString(sess, s.Prompt)
			default:
				line = append(line, c)
			}
		}
		if err != nil {
			return
		}
	}
}

// DefaultResponder answers the commands used by the tests.
func DefaultResponder(line string) (string, bool) {
	cmd := strings.TrimSpace(line)
	switch {
	case cmd == "":
		return "", false
	case strings.HasPrefix(cmd, "./"):
		return "running " + cmd + "\r\n", true
	case strings.HasPrefix(cmd, "echo "):
		return strings.TrimPrefix(cmd, "echo ") + "\r\n", false
	case strings.HasPrefix(cmd, "ifconfig"):
		return "          inet addr:" + DefaultIP + "  Bcast:192.168.1.255  Mask:255.255.255.0\r\n", false
	case cmd == "dmesg":
		return "[    0.000000] Booting Linux on physical CPU 0x0\r\n", false
	case strings.HasPrefix(cmd, "mkdir -p ") || strings.HasPrefix(cmd, "cd "):
		return "/mnt/nfs\r\n", false
	default:
		name, _, _ := strings.Cut(cmd, " ")
		return "-sh: " + name + ": not found\r\n", false
	}
}
