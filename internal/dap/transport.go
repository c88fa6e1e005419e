package dap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Transport moves framed DAP messages to and from a debug adapter.
// Implementations are safe for one concurrent reader and one writer.
type Transport interface {
	// Connect establishes the connection (spawning a subprocess, dialing
	// a socket, or both depending on the adapter).
	Connect(ctx context.Context) error
	// Send writes one message to the adapter.
	Send(msg *Message) error
	// Recv blocks until the next message arrives from the adapter.
	Recv() (*Message, error)
	// Close tears down the connection and reaps any subprocess.
	Close() error
	// Connected reports whether the transport is usable.
	Connected() bool
}

const processStopGrace = 2 * time.Second

// StdioTransport spawns the adapter as a subprocess and frames messages
// over its stdin/stdout. Used by adapters like debugpy and codelldb that
// speak DAP directly on their standard streams.
type StdioTransport struct {
	command []string
	dir     string
	env     []string

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	reader    *bufio.Reader
	stderr    *bytes.Buffer
	connected bool
}

// NewStdioTransport prepares a stdio transport for the given adapter
// command. env entries are in "KEY=value" form; nil inherits the parent
// environment.
func NewStdioTransport(command []string, dir string, env []string) *StdioTransport {
	return &StdioTransport{command: command, dir: dir, env: env}
}

func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	if len(t.command) == 0 {
		return fmt.Errorf("%w: empty adapter command", ErrConnection)
	}

	cmd := exec.Command(t.command[0], t.command[1:]...)
	cmd.Dir = t.dir
	if t.env != nil {
		cmd.Env = t.env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrConnection, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrConnection, err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to spawn adapter: %v", ErrConnection, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReader(stdout)
	t.stderr = stderr
	t.connected = true
	return nil
}

func (t *StdioTransport) Send(msg *Message) error {
	t.mu.Lock()
	stdin := t.stdin
	connected := t.connected
	t.mu.Unlock()
	if !connected || stdin == nil {
		return ErrNotConnected
	}
	return WriteMessage(stdin, msg)
}

func (t *StdioTransport) Recv() (*Message, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()
	if reader == nil {
		return nil, ErrNotConnected
	}
	return ReadMessage(reader)
}

func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil {
		stopProcess(t.cmd, nil)
		t.cmd = nil
	}
	t.stdin = nil
	t.reader = nil
	t.connected = false
	return nil
}

func (t *StdioTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && t.cmd != nil
}

// Stderr returns whatever the adapter wrote to stderr so far. Useful when
// diagnosing a failed launch.
func (t *StdioTransport) Stderr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stderr == nil {
		return ""
	}
	return t.stderr.String()
}

// SocketTransport dials an adapter already listening on a TCP port, for
// attach-style debugging against a running debug server.
type SocketTransport struct {
	addr string

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
}

// NewSocketTransport prepares a transport that will dial host:port.
func NewSocketTransport(host string, port int) *SocketTransport {
	return &SocketTransport{addr: net.JoinHostPort(host, fmt.Sprint(port))}
}

func (t *SocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to %s: %v", ErrConnection, t.addr, err)
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.connected = true
	return nil
}

func (t *SocketTransport) Send(msg *Message) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return WriteMessage(conn, msg)
}

func (t *SocketTransport) Recv() (*Message, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()
	if reader == nil {
		return nil, ErrNotConnected
	}
	return ReadMessage(reader)
}

func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.reader = nil
	t.connected = false
	return nil
}

func (t *SocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// PortArg renders the command-line argument(s) that tell an adapter which
// address to serve DAP on. Delve wants "--listen=host:port"; js-debug wants
// the bare port.
type PortArg func(host string, port int) []string

// BarePort is the default PortArg: the port number as a single argument.
func BarePort(_ string, port int) []string {
	return []string{fmt.Sprint(port)}
}

// ListenFlag renders "--listen=host:port" (Delve's dlv dap flag).
func ListenFlag(host string, port int) []string {
	return []string{fmt.Sprintf("--listen=%s:%d", host, port)}
}

// SubprocessSocketTransport spawns an adapter that serves DAP on a TCP
// port rather than on stdio (dlv dap, js-debug's dapDebugServer.js), waits
// for it to start listening, then connects.
type SubprocessSocketTransport struct {
	command        []string
	host           string
	port           int
	dir            string
	env            []string
	portArg        PortArg
	startupTimeout time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan error
	stderr *bytes.Buffer
	socket *SocketTransport
}

// SubprocessSocketOption tweaks a SubprocessSocketTransport.
type SubprocessSocketOption func(*SubprocessSocketTransport)

// WithPort pins the port instead of allocating a free one.
func WithPort(port int) SubprocessSocketOption {
	return func(t *SubprocessSocketTransport) { t.port = port }
}

// WithPortArg overrides how the listen address is passed to the adapter.
func WithPortArg(f PortArg) SubprocessSocketOption {
	return func(t *SubprocessSocketTransport) { t.portArg = f }
}

// WithStartupTimeout bounds how long Connect waits for the adapter to
// start accepting connections.
func WithStartupTimeout(d time.Duration) SubprocessSocketOption {
	return func(t *SubprocessSocketTransport) { t.startupTimeout = d }
}

// NewSubprocessSocketTransport prepares a subprocess+socket transport. The
// listen argument is appended to command when the process is spawned.
func NewSubprocessSocketTransport(command []string, dir string, env []string, opts ...SubprocessSocketOption) *SubprocessSocketTransport {
	t := &SubprocessSocketTransport{
		command:        command,
		host:           "127.0.0.1",
		dir:            dir,
		env:            env,
		portArg:        BarePort,
		startupTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Port reports the port the adapter is serving on (0 before Connect).
func (t *SubprocessSocketTransport) Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

func (t *SubprocessSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.socket != nil && t.socket.Connected() {
		return nil
	}

	if t.port == 0 {
		port, err := freePort()
		if err != nil {
			return fmt.Errorf("%w: no free port: %v", ErrConnection, err)
		}
		t.port = port
	}

	args := append(append([]string{}, t.command[1:]...), t.portArg(t.host, t.port)...)
	cmd := exec.Command(t.command[0], args...)
	cmd.Dir = t.dir
	if t.env != nil {
		cmd.Env = t.env
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	cmd.Stdout = stderr // dap traffic goes over the socket; keep streams for diagnostics

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to spawn adapter: %v", ErrConnection, err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	t.cmd = cmd
	t.exited = exited
	t.stderr = stderr

	if err := t.waitForServer(ctx, exited, stderr); err != nil {
		stopProcess(cmd, exited)
		t.cmd = nil
		return err
	}

	socket := NewSocketTransport(t.host, t.port)
	if err := socket.Connect(ctx); err != nil {
		stopProcess(cmd, exited)
		t.cmd = nil
		return err
	}
	t.socket = socket
	return nil
}

// waitForServer polls the listen address until the adapter accepts a
// connection, the process dies, or the startup timeout elapses.
func (t *SubprocessSocketTransport) waitForServer(ctx context.Context, exited chan error, stderr *bytes.Buffer) error {
	addr := net.JoinHostPort(t.host, fmt.Sprint(t.port))
	deadline := time.Now().Add(t.startupTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
		case err := <-exited:
			detail := strings.TrimSpace(stderr.String())
			if detail != "" {
				return fmt.Errorf("%w: adapter process exited early (%v): %s", ErrConnection, err, detail)
			}
			return fmt.Errorf("%w: adapter process exited early: %v", ErrConnection, err)
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("%w: adapter did not start listening on %s within %s", ErrConnection, addr, t.startupTimeout)
}

func (t *SubprocessSocketTransport) Send(msg *Message) error {
	t.mu.Lock()
	socket := t.socket
	t.mu.Unlock()
	if socket == nil {
		return ErrNotConnected
	}
	return socket.Send(msg)
}

func (t *SubprocessSocketTransport) Recv() (*Message, error) {
	t.mu.Lock()
	socket := t.socket
	t.mu.Unlock()
	if socket == nil {
		return nil, ErrNotConnected
	}
	return socket.Recv()
}

func (t *SubprocessSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.socket != nil {
		t.socket.Close()
		t.socket = nil
	}
	if t.cmd != nil {
		stopProcess(t.cmd, t.exited)
		t.cmd = nil
	}
	return nil
}

func (t *SubprocessSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socket != nil && t.socket.Connected()
}

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// stopProcess terminates a subprocess, escalating to kill after a grace
// period. exited, when non-nil, is a channel that receives the result of
// an already-running cmd.Wait; otherwise one is started here to reap the
// process. Safe to call on an already-exited process.
func stopProcess(cmd *exec.Cmd, exited <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(stopSignal)

	if exited == nil {
		ch := make(chan error, 1)
		go func() { ch <- cmd.Wait() }()
		exited = ch
	}
	select {
	case <-exited:
	case <-time.After(processStopGrace):
		_ = cmd.Process.Kill()
	}
}
