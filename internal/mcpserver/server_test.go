package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mcpdap/internal/adapters"
	"mcpdap/internal/config"
	"mcpdap/internal/dap"
	"mcpdap/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoTransport plays the adapter side of the wire: every request
// succeeds, launch and attach follow the deferred-response handshake.
type echoTransport struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	incoming  chan *dap.Message
	deferred  *dap.Message
	respond   map[string]map[string]any
}

func newEchoTransport() *echoTransport {
	return &echoTransport{
		incoming: make(chan *dap.Message, 32),
		respond:  make(map[string]map[string]any),
	}
}

func (e *echoTransport) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = true
	return nil
}

func (e *echoTransport) Send(msg *dap.Message) error {
	e.mu.Lock()
	body := e.respond[msg.Command]
	e.mu.Unlock()

	response := &dap.Message{
		Type:       dap.TypeResponse,
		RequestSeq: msg.Seq,
		Command:    msg.Command,
		Success:    true,
		Body:       body,
	}
	switch msg.Command {
	case "launch", "attach":
		e.mu.Lock()
		e.deferred = response
		e.mu.Unlock()
		e.deliver(&dap.Message{Type: dap.TypeEvent, Event: "initialized"})
	case "configurationDone":
		e.deliver(response)
		e.mu.Lock()
		deferred := e.deferred
		e.deferred = nil
		e.mu.Unlock()
		if deferred != nil {
			e.deliver(deferred)
		}
	default:
		e.deliver(response)
	}
	return nil
}

func (e *echoTransport) Recv() (*dap.Message, error) {
	msg, ok := <-e.incoming
	if !ok {
		return nil, dap.ErrConnection
	}
	return msg, nil
}

func (e *echoTransport) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.connected = false
		close(e.incoming)
	}
	return nil
}

func (e *echoTransport) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *echoTransport) deliver(msg *dap.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.incoming <- msg
	}
}

// echoAdapter backs sessions with a fresh echo transport per create.
type echoAdapter struct{}

func (echoAdapter) Name() string         { return "echo" }
func (echoAdapter) ID() string           { return "echo" }
func (echoAdapter) Extensions() []string { return []string{".echo"} }
func (echoAdapter) Aliases() []string    { return nil }
func (echoAdapter) Describe() string     { return "in-process test adapter" }
func (echoAdapter) Info() map[string]any { return map[string]any{"name": "echo", "available": true} }

func (echoAdapter) CreateTransport(spec adapters.TransportSpec) (dap.Transport, error) {
	return newEchoTransport(), nil
}

func (echoAdapter) LaunchArguments(spec adapters.LaunchSpec) (map[string]any, error) {
	return map[string]any{"program": spec.Program}, nil
}

func (echoAdapter) AttachArguments(spec adapters.AttachSpec) (map[string]any, error) {
	return map[string]any{"host": spec.Host, "port": spec.Port}, nil
}

// rig runs a server over in-memory pipes and exchanges one message at a
// time with it.
type rig struct {
	t       *testing.T
	in      *io.PipeWriter
	scanner *bufio.Scanner
	done    chan error
}

func newRig(t *testing.T) *rig {
	t.Helper()

	registry := adapters.NewRegistry()
	registry.Register(echoAdapter{})
	manager := session.NewManager(registry, nil)

	cfg := config.DefaultConfig()
	cfg.DefaultAdapter = "echo"
	srv := New("mcpdap", "test", manager, cfg, "", nil)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	scanner := bufio.NewScanner(outR)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), inR, outW)
		outW.Close()
	}()

	r := &rig{t: t, in: inW, scanner: scanner, done: done}
	t.Cleanup(func() {
		inW.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
		outR.Close()
	})
	return r
}

func (r *rig) send(line string) {
	r.t.Helper()
	if _, err := io.WriteString(r.in, line+"\n"); err != nil {
		r.t.Fatalf("send: %v", err)
	}
}

func (r *rig) call(id int, method string, params any) {
	r.t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		r.t.Fatal(err)
	}
	r.send(string(data))
}

func (r *rig) recv() map[string]any {
	r.t.Helper()
	if !r.scanner.Scan() {
		r.t.Fatalf("no response: %v", r.scanner.Err())
	}
	var resp map[string]any
	if err := json.Unmarshal(r.scanner.Bytes(), &resp); err != nil {
		r.t.Fatalf("bad response %q: %v", r.scanner.Text(), err)
	}
	return resp
}

func (r *rig) callTool(id int, name string, arguments any) map[string]any {
	r.t.Helper()
	r.call(id, "tools/call", map[string]any{"name": name, "arguments": arguments})
	resp := r.recv()
	result, ok := resp["result"].(map[string]any)
	if !ok {
		r.t.Fatalf("tool %s: no result in %v", name, resp)
	}
	return result
}

// toolPayload decodes the JSON text inside a tool result's content.
func toolPayload(t *testing.T, result map[string]any) map[string]any {
	t.Helper()
	content, _ := result["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content = %v", result["content"])
	}
	item, _ := content[0].(map[string]any)
	text, _ := item["text"].(string)
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("payload %q: %v", text, err)
	}
	return payload
}

func TestServeStopsOnContextCancel(t *testing.T) {
	registry := adapters.NewRegistry()
	registry.Register(echoAdapter{})
	manager := session.NewManager(registry, nil)
	srv := New("mcpdap", "test", manager, config.DefaultConfig(), "", nil)

	// The input stays open: cancellation alone must end Serve, the way a
	// signal stops the process while the client still holds stdin.
	inR, inW := io.Pipe()
	defer inW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, inR, io.Discard)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v after cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve still blocked after context cancellation")
	}
}

func TestInitializeHandshake(t *testing.T) {
	r := newRig(t)

	r.call(1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "test-client", "version": "0.1"},
	})
	resp := r.recv()
	result, _ := resp["result"].(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	info, _ := result["serverInfo"].(map[string]any)
	if info["name"] != "mcpdap" {
		t.Errorf("serverInfo = %v", info)
	}

	// The initialized notification gets no response; ping confirms the
	// server is still reading.
	r.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	r.call(2, "ping", nil)
	resp = r.recv()
	if resp["id"] != float64(2) {
		t.Errorf("ping response id = %v", resp["id"])
	}
}

func TestToolsList(t *testing.T) {
	r := newRig(t)

	r.call(1, "tools/list", nil)
	resp := r.recv()
	result, _ := resp["result"].(map[string]any)
	tools, _ := result["tools"].([]any)
	if len(tools) != 17 {
		t.Fatalf("got %d tools", len(tools))
	}
	first, _ := tools[0].(map[string]any)
	if first["name"] != "debug_launch" {
		t.Errorf("first tool = %v", first["name"])
	}
	for _, raw := range tools {
		tool, _ := raw.(map[string]any)
		if tool["inputSchema"] == nil {
			t.Errorf("tool %v has no schema", tool["name"])
		}
	}
}

func TestUnknownMethod(t *testing.T) {
	r := newRig(t)

	r.call(1, "prompts/list", nil)
	resp := r.recv()
	rpcErr, _ := resp["error"].(map[string]any)
	if rpcErr["code"] != float64(codeMethodNotFound) {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestParseError(t *testing.T) {
	r := newRig(t)

	r.send(`{"jsonrpc":"2.0","id":1,`)
	resp := r.recv()
	if resp["id"] != nil {
		t.Errorf("id = %v", resp["id"])
	}
	rpcErr, _ := resp["error"].(map[string]any)
	if rpcErr["code"] != float64(codeParseError) {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestToolErrorForUnknownSession(t *testing.T) {
	r := newRig(t)

	result := r.callTool(1, "debug_get_threads", map[string]any{"session_id": "nope"})
	if result["isError"] != true {
		t.Fatalf("expected isError, got %v", result)
	}
	payload := toolPayload(t, result)
	if _, ok := payload["error"]; !ok {
		t.Errorf("payload = %v", payload)
	}
}

func TestLaunchRequiresProgramOrCargoArgs(t *testing.T) {
	r := newRig(t)

	result := r.callTool(1, "debug_launch", map[string]any{"adapter": "echo"})
	if result["isError"] != true {
		t.Fatalf("expected isError, got %v", result)
	}
}

func TestLaunchDebugAndDisconnect(t *testing.T) {
	r := newRig(t)

	launch := toolPayload(t, r.callTool(1, "debug_launch", map[string]any{
		"program": "/tmp/app.echo",
	}))
	sid, _ := launch["session_id"].(string)
	if sid == "" {
		t.Fatalf("launch payload = %v", launch)
	}
	if launch["state"] != "running" {
		t.Errorf("state = %v", launch["state"])
	}
	if launch["adapter"] != "echo" {
		t.Errorf("adapter = %v", launch["adapter"])
	}

	threads := toolPayload(t, r.callTool(2, "debug_get_threads", map[string]any{"session_id": sid}))
	if _, ok := threads["threads"]; !ok {
		t.Errorf("threads payload = %v", threads)
	}

	bps := toolPayload(t, r.callTool(3, "debug_set_breakpoints", map[string]any{
		"session_id":  sid,
		"file":        "/tmp/app.echo",
		"breakpoints": []map[string]any{{"line": 3}},
	}))
	if bps["file"] != "/tmp/app.echo" {
		t.Errorf("breakpoints payload = %v", bps)
	}

	done := toolPayload(t, r.callTool(4, "debug_disconnect", map[string]any{"session_id": sid}))
	if done["success"] != true {
		t.Errorf("disconnect payload = %v", done)
	}

	again := r.callTool(5, "debug_get_threads", map[string]any{"session_id": sid})
	if again["isError"] != true {
		t.Error("session should be gone after disconnect")
	}
}

func TestResourcesListAndRead(t *testing.T) {
	r := newRig(t)

	r.call(1, "resources/list", nil)
	result, _ := r.recv()["result"].(map[string]any)
	resources, _ := result["resources"].([]any)
	if len(resources) != 2 {
		t.Fatalf("got %d resources before any session", len(resources))
	}

	launch := toolPayload(t, r.callTool(2, "debug_launch", map[string]any{
		"program": "/tmp/app.echo",
	}))
	sid, _ := launch["session_id"].(string)

	r.call(3, "resources/list", nil)
	result, _ = r.recv()["result"].(map[string]any)
	resources, _ = result["resources"].([]any)
	if len(resources) != 5 {
		t.Fatalf("got %d resources with one session", len(resources))
	}

	r.call(4, "resources/read", map[string]any{"uri": "debug://adapters"})
	text := resourceText(t, r.recv())
	if !strings.Contains(text, `"default_adapter": "echo"`) {
		t.Errorf("adapters resource = %s", text)
	}

	r.call(5, "resources/read", map[string]any{"uri": "debug://sessions"})
	if text := resourceText(t, r.recv()); !strings.Contains(text, sid) {
		t.Errorf("sessions resource = %s", text)
	}

	r.call(6, "resources/read", map[string]any{"uri": fmt.Sprintf("debug://%s/state", sid)})
	if text := resourceText(t, r.recv()); !strings.Contains(text, `"state": "running"`) {
		t.Errorf("state resource = %s", text)
	}

	r.call(7, "resources/read", map[string]any{"uri": "debug://missing/state"})
	if text := resourceText(t, r.recv()); !strings.Contains(text, "session not found") {
		t.Errorf("missing session resource = %s", text)
	}

	r.call(8, "resources/read", map[string]any{"uri": "debug://bogus"})
	if text := resourceText(t, r.recv()); !strings.Contains(text, "unknown resource") {
		t.Errorf("bogus resource = %s", text)
	}

	r.callTool(9, "debug_disconnect", map[string]any{"session_id": sid})
}

func resourceText(t *testing.T, resp map[string]any) string {
	t.Helper()
	result, _ := resp["result"].(map[string]any)
	contents, _ := result["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents = %v", resp)
	}
	item, _ := contents[0].(map[string]any)
	text, _ := item["text"].(string)
	return text
}
