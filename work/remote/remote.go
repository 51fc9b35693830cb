package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
	"golang.org/x/crypto/ssh"

	"vodgate/work/config"
	"vodgate/work/logger"
	"vodgate/work/metrics"
)

// ErrTimeout is returned when a buffered remote command exceeds its
// execution deadline. It is distinct from a non-zero exit, which is
// reported as an *ExitError.
var ErrTimeout = errors.New("remote command timed out")

// ErrUnknownHost is returned when a host id has no configuration entry.
var ErrUnknownHost = errors.New("unknown remote host")

// ExitError reports a remote command that ran to completion with a
// non-zero exit status. Stderr is preserved for diagnostics.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d: %s", e.Code, e.Stderr)
}

// Result holds the captured output of a buffered remote command.
type Result struct {
	Stdout string
	Stderr string
}

// Runner is the remote execution contract consumed by the probe,
// conversion and streaming layers. Run buffers the full output of a
// short-lived command; OpenStream returns a live byte source bound to
// a long-lived command's stdout.
type Runner interface {
	Run(ctx context.Context, hostID string, command string) (Result, error)
	OpenStream(ctx context.Context, hostID string, command string) (io.ReadCloser, error)
}

// hostConn is the pooled connection state for a single remote host:
// one multiplexed SSH client, a session-count semaphore, and a launch
// rate limiter. Sessions are cheap channels over the shared transport,
// so concurrent commands do not serialize behind each other.
type hostConn struct {
	cfg      *config.HostConfig
	mu       sync.Mutex // guards client replacement during reconnect
	client   *ssh.Client
	sessions chan struct{}
	limiter  ratelimit.Limiter
}

// Manager owns all pooled SSH connections, keyed by host id. It is an
// explicit injected service: handlers receive a *Manager, nothing
// reaches it through package-level state.
type Manager struct {
	cfg   *config.Config
	conns *xsync.MapOf[string, *hostConn]
}

// NewManager creates a Manager for the configured hosts. Connections
// are dialed lazily on first use.
func NewManager(cfg *config.Config) *Manager {
	logger.Debug("{remote/remote - NewManager} Initializing remote exec manager for %d hosts", len(cfg.Hosts))
	return &Manager{
		cfg:   cfg,
		conns: xsync.NewMapOf[string, *hostConn](),
	}
}

// conn returns the pooled connection state for a host, creating it on
// first use. The SSH client itself is dialed lazily by ensureClient.
func (m *Manager) conn(hostID string) (*hostConn, error) {
	if hc, ok := m.conns.Load(hostID); ok {
		return hc, nil
	}

	hostCfg := m.cfg.GetHost(hostID)
	if hostCfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHost, hostID)
	}

	hc, _ := m.conns.LoadOrStore(hostID, &hostConn{
		cfg:      hostCfg,
		sessions: make(chan struct{}, hostCfg.MaxSessions),
		limiter:  ratelimit.New(hostCfg.LaunchRate),
	})
	return hc, nil
}

// dial establishes a fresh SSH connection to the host.
func dial(hostCfg *config.HostConfig) (*ssh.Client, error) {
	var methods []ssh.AuthMethod

	if hostCfg.KeyFile != "" {
		pem, err := os.ReadFile(hostCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file for host %s: %w", hostCfg.ID, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key for host %s: %w", hostCfg.ID, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else if hostCfg.Password != "" {
		methods = append(methods, ssh.Password(hostCfg.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no auth method configured for host %s", hostCfg.ID)
	}

	addr := net.JoinHostPort(hostCfg.Address, fmt.Sprintf("%d", hostCfg.Port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            hostCfg.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s failed: %w", addr, err)
	}
	return client, nil
}

// ensureClient returns a live SSH client for the host, dialing on
// first use. When the cached client is dead it is replaced exactly
// once; a second failure surfaces to the caller rather than retrying
// silently.
func (hc *hostConn) ensureClient() (*ssh.Client, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.client != nil {
		return hc.client, nil
	}

	client, err := dial(hc.cfg)
	if err != nil {
		return nil, err
	}
	hc.client = client
	logger.Info("{remote/remote - ensureClient} Connected to host %s (%s)", hc.cfg.ID, hc.cfg.Address)
	return client, nil
}

// invalidate drops a dead client so the next call redials.
func (hc *hostConn) invalidate(dead *ssh.Client) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.client == dead {
		hc.client = nil
		if dead != nil {
			dead.Close()
		}
	}
}

// drop discards whatever client is currently cached, marking the
// connection for reconnect on next use.
func (hc *hostConn) drop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.client != nil {
		hc.client.Close()
		hc.client = nil
	}
}

// newSession opens an exec session, reconnecting at most once when the
// pooled connection turns out to be dead.
func (hc *hostConn) newSession() (*ssh.Session, error) {
	client, err := hc.ensureClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}

	logger.Warn("{remote/remote - newSession} Session open failed on host %s, reconnecting: %v", hc.cfg.ID, err)
	hc.invalidate(client)

	client, err = hc.ensureClient()
	if err != nil {
		return nil, err
	}
	return client.NewSession()
}

// acquire claims a session slot, respecting context cancellation.
func (hc *hostConn) acquire(ctx context.Context) error {
	select {
	case hc.sessions <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release frees a session slot.
func (hc *hostConn) release() {
	<-hc.sessions
}

// Run executes a short-lived command on the host and returns its
// buffered stdout/stderr. A bounded timeout from configuration is
// always applied; timeout is reported as ErrTimeout, a non-zero exit
// as *ExitError with stderr preserved.
func (m *Manager) Run(ctx context.Context, hostID string, command string) (Result, error) {
	hc, err := m.conn(hostID)
	if err != nil {
		return Result{}, err
	}

	if err := hc.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer hc.release()
	hc.limiter.Take()

	session, err := hc.newSession()
	if err != nil {
		metrics.RemoteExecFailures.WithLabelValues(hostID, "session").Inc()
		return Result{}, fmt.Errorf("failed to open session on host %s: %w", hostID, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// Short commands get the configured bound; callers running long
	// work (transcodes) set their own deadline on ctx instead.
	runCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.cfg.RunTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return Result{Stdout: stdout.String(), Stderr: stderr.String()},
					&ExitError{Code: exitErr.ExitStatus(), Stderr: stderr.String()}
			}
			metrics.RemoteExecFailures.WithLabelValues(hostID, "transport").Inc()
			hc.drop()
			return Result{}, fmt.Errorf("remote command failed on host %s: %w", hostID, err)
		}
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil

	case <-runCtx.Done():
		// Kill the remote process and tear down the session so the
		// pooled connection stays reusable.
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		metrics.RemoteExecFailures.WithLabelValues(hostID, "timeout").Inc()
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, ErrTimeout
	}
}

// Stream is a live byte source bound to a remote command's stdout.
// The owner must Close it on every exit path; Close terminates the
// remote process and releases the pooled session slot.
type Stream struct {
	stdout  io.Reader
	session *ssh.Session
	release func()
	closed  sync.Once
	waited  chan struct{}
}

// Read pulls the next chunk of remote stdout.
func (s *Stream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close terminates the remote command and frees the session slot.
// Safe to call multiple times and from a goroutine racing the reader.
func (s *Stream) Close() error {
	s.closed.Do(func() {
		s.session.Signal(ssh.SIGKILL)
		s.session.Close()
		select {
		case <-s.waited:
		case <-time.After(2 * time.Second):
			// Give up waiting for the remote side to unwind.
		}
		s.release()
	})
	return nil
}

// OpenStream starts a long-lived command on the host and returns a
// Stream over its stdout. The stream's own lifetime is governed by
// the caller; ctx only bounds session establishment.
func (m *Manager) OpenStream(ctx context.Context, hostID string, command string) (io.ReadCloser, error) {
	hc, err := m.conn(hostID)
	if err != nil {
		return nil, err
	}

	if err := hc.acquire(ctx); err != nil {
		return nil, err
	}
	hc.limiter.Take()

	session, err := hc.newSession()
	if err != nil {
		hc.release()
		metrics.RemoteExecFailures.WithLabelValues(hostID, "session").Inc()
		return nil, fmt.Errorf("failed to open session on host %s: %w", hostID, err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		hc.release()
		return nil, fmt.Errorf("failed to attach stdout on host %s: %w", hostID, err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		hc.release()
		metrics.RemoteExecFailures.WithLabelValues(hostID, "start").Inc()
		return nil, fmt.Errorf("failed to start remote command on host %s: %w", hostID, err)
	}

	stream := &Stream{
		stdout:  stdout,
		session: session,
		waited:  make(chan struct{}),
	}

	// Reap the remote process in the background so EOF on the reader
	// never strands a zombie session.
	go func() {
		session.Wait()
		close(stream.waited)
	}()

	released := make(chan struct{})
	stream.release = func() {
		select {
		case <-released:
		default:
			close(released)
			hc.release()
		}
	}

	logger.Debug("{remote/remote - OpenStream} Started stream command on host %s", hostID)
	return stream, nil
}

// Close tears down all pooled connections. Called on shutdown.
func (m *Manager) Close() {
	m.conns.Range(func(id string, hc *hostConn) bool {
		hc.mu.Lock()
		if hc.client != nil {
			hc.client.Close()
			hc.client = nil
		}
		hc.mu.Unlock()
		logger.Debug("{remote/remote - Close} Closed connection to host %s", id)
		return true
	})
}
