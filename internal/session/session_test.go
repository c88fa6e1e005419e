package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mcpdap/internal/adapters"
	"mcpdap/internal/dap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedTransport answers requests like a minimal well-behaved adapter:
// every request succeeds, launch and attach follow the deferred-response
// handshake. Tests push extra events through deliver.
type scriptedTransport struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	sent      []*dap.Message
	incoming  chan *dap.Message
	deferred  *dap.Message
	respond   map[string]map[string]any
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		incoming: make(chan *dap.Message, 32),
		respond:  make(map[string]map[string]any),
	}
}

func (s *scriptedTransport) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *scriptedTransport) Send(msg *dap.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	body := s.respond[msg.Command]
	s.mu.Unlock()

	response := &dap.Message{
		Type:       dap.TypeResponse,
		RequestSeq: msg.Seq,
		Command:    msg.Command,
		Success:    true,
		Body:       body,
	}
	switch msg.Command {
	case "launch", "attach":
		s.mu.Lock()
		s.deferred = response
		s.mu.Unlock()
		s.deliver(&dap.Message{Type: dap.TypeEvent, Event: "initialized"})
	case "configurationDone":
		s.deliver(response)
		s.mu.Lock()
		deferred := s.deferred
		s.deferred = nil
		s.mu.Unlock()
		if deferred != nil {
			s.deliver(deferred)
		}
	case "disconnect":
		s.deliver(response)
	default:
		s.deliver(response)
	}
	return nil
}

func (s *scriptedTransport) Recv() (*dap.Message, error) {
	msg, ok := <-s.incoming
	if !ok {
		return nil, dap.ErrConnection
	}
	return msg, nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.connected = false
		close(s.incoming)
	}
	return nil
}

func (s *scriptedTransport) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *scriptedTransport) deliver(msg *dap.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.incoming <- msg
	}
}

func (s *scriptedTransport) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, msg := range s.sent {
		out = append(out, msg.Command)
	}
	return out
}

// fakeAdapter hands out a pre-built scripted transport.
type fakeAdapter struct {
	transport *scriptedTransport
}

func (f *fakeAdapter) Name() string         { return "fake" }
func (f *fakeAdapter) ID() string           { return "fake" }
func (f *fakeAdapter) Extensions() []string { return []string{".fake"} }
func (f *fakeAdapter) Aliases() []string    { return nil }
func (f *fakeAdapter) Describe() string     { return "test adapter" }
func (f *fakeAdapter) Info() map[string]any { return map[string]any{"name": "fake"} }

func (f *fakeAdapter) CreateTransport(spec adapters.TransportSpec) (dap.Transport, error) {
	return f.transport, nil
}

func (f *fakeAdapter) LaunchArguments(spec adapters.LaunchSpec) (map[string]any, error) {
	return map[string]any{"program": spec.Program, "stopOnEntry": spec.StopOnEntry}, nil
}

func (f *fakeAdapter) AttachArguments(spec adapters.AttachSpec) (map[string]any, error) {
	return map[string]any{"host": spec.Host, "port": spec.Port}, nil
}

func newTestSession(t *testing.T) (*Session, *scriptedTransport) {
	t.Helper()
	transport := newScriptedTransport()
	adapter := &fakeAdapter{transport: transport}
	client := dap.NewClient(transport, adapter.ID())
	sess := New("test-session", adapter, client, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return sess, transport
}

func TestSessionLaunchFlow(t *testing.T) {
	sess, transport := newTestSession(t)
	ctx := context.Background()

	if _, err := sess.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := sess.Launch(ctx, adapters.LaunchSpec{Program: "/src/app.fake"}); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if sess.State() != StateRunning {
		t.Errorf("state = %q, want running", sess.State())
	}
	if sess.Program() != "/src/app.fake" {
		t.Errorf("program = %q", sess.Program())
	}

	want := []string{"initialize", "launch", "configurationDone"}
	got := transport.commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSessionLaunchRequiresProgram(t *testing.T) {
	sess, _ := newTestSession(t)
	err := sess.Launch(context.Background(), adapters.LaunchSpec{})
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("error = %v, want ErrBadRequest", err)
	}
}

func TestSessionCargoArgsRequiresCodeLLDB(t *testing.T) {
	sess, _ := newTestSession(t)
	err := sess.Launch(context.Background(), adapters.LaunchSpec{
		Extra: map[string]any{"cargo_args": []string{"build"}},
	})
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("error = %v, want ErrBadRequest", err)
	}
}

func TestSessionStoppedEvent(t *testing.T) {
	sess, transport := newTestSession(t)

	transport.deliver(&dap.Message{Type: dap.TypeEvent, Event: "stopped", Body: map[string]any{
		"reason":   "breakpoint",
		"threadId": float64(1),
	}})

	waitFor(t, func() bool { return sess.State() == StateStopped })
	if sess.StoppedThreadID() != 1 {
		t.Errorf("stopped thread = %d", sess.StoppedThreadID())
	}
	info := sess.Info()
	if info.StopReason != StopBreakpoint {
		t.Errorf("stop reason = %q", info.StopReason)
	}
}

func TestSessionUnknownStopReasonDefaultsToBreakpoint(t *testing.T) {
	sess, transport := newTestSession(t)
	transport.deliver(&dap.Message{Type: dap.TypeEvent, Event: "stopped", Body: map[string]any{
		"reason":   "some vendor reason",
		"threadId": float64(2),
	}})
	waitFor(t, func() bool { return sess.State() == StateStopped })
	if sess.Info().StopReason != StopBreakpoint {
		t.Errorf("stop reason = %q, want breakpoint fallback", sess.Info().StopReason)
	}
}

func TestSessionContinueWaitsForStop(t *testing.T) {
	sess, transport := newTestSession(t)

	// Stop once so the session has a stopped thread to resume.
	transport.deliver(&dap.Message{Type: dap.TypeEvent, Event: "stopped", Body: map[string]any{
		"reason": "entry", "threadId": float64(1),
	}})
	waitFor(t, func() bool { return sess.State() == StateStopped })

	go func() {
		time.Sleep(20 * time.Millisecond)
		transport.deliver(&dap.Message{Type: dap.TypeEvent, Event: "stopped", Body: map[string]any{
			"reason": "step", "threadId": float64(1),
		}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stop, err := sess.StepOver(ctx, 0, true)
	if err != nil {
		t.Fatalf("StepOver: %v", err)
	}
	if stop == nil || stop.Reason != StopStep || stop.ThreadID != 1 {
		t.Errorf("stop = %+v", stop)
	}
}

func TestSessionContinueNoWait(t *testing.T) {
	sess, _ := newTestSession(t)
	stop, err := sess.Continue(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if stop != nil {
		t.Errorf("stop = %+v, want nil without wait", stop)
	}
	if sess.State() != StateRunning {
		t.Errorf("state = %q", sess.State())
	}
}

func TestSessionOutputBuffer(t *testing.T) {
	sess, transport := newTestSession(t)

	for _, line := range []string{"Hello, Alice!\n", "Hello, Bob!\n", "Hello, Charlie!\n"} {
		transport.deliver(&dap.Message{Type: dap.TypeEvent, Event: "output", Body: map[string]any{
			"category": "stdout",
			"output":   line,
		}})
	}

	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return len(sess.outputBuffer) == 3
	})

	output := sess.DrainOutput()
	if len(output) != 3 {
		t.Fatalf("output events = %d, want 3", len(output))
	}
	if output[0].Category != "stdout" || output[0].Output != "Hello, Alice!\n" {
		t.Errorf("first output = %+v", output[0])
	}
	if again := sess.DrainOutput(); len(again) != 0 {
		t.Errorf("buffer not cleared, %d events left", len(again))
	}
}

func TestSessionBreakpoints(t *testing.T) {
	sess, transport := newTestSession(t)
	transport.mu.Lock()
	transport.respond["setBreakpoints"] = map[string]any{"breakpoints": []any{
		map[string]any{"id": float64(1), "verified": true, "line": float64(10)},
		map[string]any{"id": float64(2), "verified": false, "line": float64(25), "message": "no code at line"},
	}}
	transport.mu.Unlock()

	bps, err := sess.SetBreakpoints(context.Background(), "/src/app.fake", []SourceBreakpoint{
		{Line: 10}, {Line: 25, Condition: "x > 3"},
	})
	if err != nil {
		t.Fatalf("SetBreakpoints: %v", err)
	}
	if len(bps) != 2 || !bps[0].Verified || bps[1].Verified {
		t.Errorf("breakpoints = %+v", bps)
	}
	if bps[1].Message != "no code at line" {
		t.Errorf("message = %q", bps[1].Message)
	}

	stored := sess.Breakpoints()
	if len(stored["/src/app.fake"]) != 2 {
		t.Errorf("stored breakpoints = %v", stored)
	}

	if err := sess.ClearBreakpoints(context.Background(), "/src/app.fake"); err != nil {
		t.Fatalf("ClearBreakpoints: %v", err)
	}
	if len(sess.Breakpoints()) != 0 {
		t.Error("breakpoints not cleared")
	}
}

func TestSessionTerminatedWakesWaiter(t *testing.T) {
	sess, transport := newTestSession(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		transport.deliver(&dap.Message{Type: dap.TypeEvent, Event: "terminated"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stop, err := sess.Continue(ctx, 1, true)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if stop != nil {
		t.Errorf("stop = %+v, want nil on termination", stop)
	}
	if sess.State() != StateTerminated {
		t.Errorf("state = %q", sess.State())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
