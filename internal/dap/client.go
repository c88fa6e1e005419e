package dap

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds a single request/response round trip when
// the caller's context carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// EventHandler receives adapter events as they arrive on the receive loop.
type EventHandler func(*Message)

// Client drives a debug adapter over a Transport: sequence numbers,
// request/response correlation, and event dispatch. It also implements the
// deferred launch handshake the protocol requires (launch request →
// initialized event → breakpoints → configurationDone → launch response).
type Client struct {
	transport Transport
	adapterID string

	mu       sync.Mutex
	seq      int
	pending  map[int]chan *Message
	handlers []EventHandler

	caps        map[string]any
	initialized bool
	configDone  bool

	initializedCh chan struct{}
	stopCh        chan struct{}
	lastStop      map[string]any

	launchSeq int
	launchCh  chan *Message

	recvDone chan struct{}
}

// NewClient wraps a transport. adapterID is sent in the initialize
// request so the adapter knows who is talking to it.
func NewClient(transport Transport, adapterID string) *Client {
	return &Client{
		transport: transport,
		adapterID: adapterID,
		pending:   make(map[int]chan *Message),
	}
}

// Connect establishes the transport and starts the receive loop.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.recvDone = make(chan struct{})
	c.mu.Unlock()
	go c.receiveLoop()
	return nil
}

// Close tears down the transport, stops the receive loop, and fails any
// in-flight requests.
func (c *Client) Close() error {
	err := c.transport.Close()

	c.mu.Lock()
	done := c.recvDone
	for seq, ch := range c.pending {
		delete(c.pending, seq)
		close(ch)
	}
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	return err
}

// AddEventHandler registers a callback for adapter events. Handlers run
// on the receive loop; a panicking handler does not take down the others.
func (c *Client) AddEventHandler(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Initialize negotiates capabilities with the adapter.
func (c *Client) Initialize(ctx context.Context) (map[string]any, error) {
	args := InitializeArguments{
		AdapterID:                c.adapterID,
		ClientID:                 "mcpdap",
		ClientName:               "MCP-DAP Bridge",
		LinesStartAt1:            true,
		ColumnsStartAt1:          true,
		PathFormat:               "path",
		SupportsVariableType:     true,
		SupportsVariablePaging:   true,
		SupportsInvalidatedEvent: true,
	}
	resp, err := c.Request(ctx, "initialize", asMap(args))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if resp.Body != nil {
		c.caps = resp.Body
	}
	c.initialized = true
	caps := c.caps
	c.mu.Unlock()
	return caps, nil
}

// ConfigurationDone tells the adapter all breakpoints are in place.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	if _, err := c.Request(ctx, "configurationDone", nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.configDone = true
	c.mu.Unlock()
	return nil
}

// Launch sends the launch request. The adapter will not answer it until
// configurationDone, so the response is parked; call CompleteLaunch after
// setting breakpoints. When waitForInitialized is true, Launch blocks
// until the adapter signals it is ready for breakpoint configuration.
func (c *Client) Launch(ctx context.Context, arguments map[string]any, waitForInitialized bool) error {
	return c.deferredRequest(ctx, "launch", arguments, waitForInitialized)
}

// Attach sends the attach request. Same deferred-response handshake as
// Launch.
func (c *Client) Attach(ctx context.Context, arguments map[string]any, waitForInitialized bool) error {
	return c.deferredRequest(ctx, "attach", arguments, waitForInitialized)
}

func (c *Client) deferredRequest(ctx context.Context, command string, arguments map[string]any, waitForInitialized bool) error {
	c.mu.Lock()
	c.initializedCh = make(chan struct{})
	initialized := c.initializedCh
	c.stopCh = nil
	c.configDone = false

	c.seq++
	seq := c.seq
	ch := make(chan *Message, 1)
	c.pending[seq] = ch
	c.launchSeq = seq
	c.launchCh = ch
	c.mu.Unlock()

	if err := c.transport.Send(NewRequest(seq, command, arguments)); err != nil {
		c.dropPending(seq)
		return err
	}

	if waitForInitialized {
		ctx, cancel := withDefaultTimeout(ctx)
		defer cancel()
		select {
		case <-initialized:
		case <-ctx.Done():
			c.dropPending(seq)
			return fmt.Errorf("%w: waiting for initialized event", ErrTimeout)
		}
	}
	return nil
}

// CompleteLaunch waits for the parked launch (or attach) response after
// configurationDone has been sent.
func (c *Client) CompleteLaunch(ctx context.Context) error {
	c.mu.Lock()
	seq := c.launchSeq
	ch := c.launchCh
	c.launchSeq = 0
	c.launchCh = nil
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("%w: no pending launch request", ErrRequestFailed)
	}
	defer c.dropPending(seq)

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return fmt.Errorf("%w: connection closed during launch", ErrConnection)
		}
		if !resp.Success {
			return fmt.Errorf("%w: launch failed: %s", ErrRequestFailed, errText(resp))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for launch response", ErrTimeout)
	}
}

// DisconnectDebuggee asks the adapter to end the debug session.
func (c *Client) DisconnectDebuggee(ctx context.Context, terminate, restart bool) error {
	_, err := c.Request(ctx, "disconnect", map[string]any{
		"terminateDebuggee": terminate,
		"restart":           restart,
	})
	return err
}

// SetBreakpoints replaces all breakpoints in a source file and returns
// the adapter's verified view of them.
func (c *Client) SetBreakpoints(ctx context.Context, sourcePath string, breakpoints []map[string]any) ([]map[string]any, error) {
	if breakpoints == nil {
		breakpoints = []map[string]any{}
	}
	resp, err := c.Request(ctx, "setBreakpoints", map[string]any{
		"source":      map[string]any{"path": sourcePath},
		"breakpoints": breakpoints,
	})
	if err != nil {
		return nil, err
	}
	return bodyList(resp, "breakpoints"), nil
}

// SetExceptionBreakpoints configures exception filters ("raised",
// "uncaught", ...).
func (c *Client) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	_, err := c.Request(ctx, "setExceptionBreakpoints", map[string]any{"filters": filters})
	return err
}

// Continue resumes execution. Reports whether all threads were continued.
func (c *Client) Continue(ctx context.Context, threadID int, singleThread bool) (bool, error) {
	resp, err := c.Request(ctx, "continue", map[string]any{
		"threadId":     threadID,
		"singleThread": singleThread,
	})
	if err != nil {
		return false, err
	}
	if resp.Body == nil {
		return true, nil
	}
	if all, ok := resp.Body["allThreadsContinued"].(bool); ok {
		return all, nil
	}
	return true, nil
}

// Next steps over the current line.
func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := c.Request(ctx, "next", map[string]any{"threadId": threadID})
	return err
}

// StepIn steps into the current call.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := c.Request(ctx, "stepIn", map[string]any{"threadId": threadID})
	return err
}

// StepOut runs until the current function returns.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.Request(ctx, "stepOut", map[string]any{"threadId": threadID})
	return err
}

// Pause interrupts a running thread.
func (c *Client) Pause(ctx context.Context, threadID int) error {
	_, err := c.Request(ctx, "pause", map[string]any{"threadId": threadID})
	return err
}

// Threads lists the debuggee's threads.
func (c *Client) Threads(ctx context.Context) ([]map[string]any, error) {
	resp, err := c.Request(ctx, "threads", nil)
	if err != nil {
		return nil, err
	}
	return bodyList(resp, "threads"), nil
}

// StackTrace fetches stack frames for a thread along with the total
// frame count.
func (c *Client) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]map[string]any, int, error) {
	resp, err := c.Request(ctx, "stackTrace", map[string]any{
		"threadId":   threadID,
		"startFrame": startFrame,
		"levels":     levels,
	})
	if err != nil {
		return nil, 0, err
	}
	total, _ := resp.BodyInt("totalFrames")
	return bodyList(resp, "stackFrames"), total, nil
}

// Scopes lists the variable scopes of a stack frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]map[string]any, error) {
	resp, err := c.Request(ctx, "scopes", map[string]any{"frameId": frameID})
	if err != nil {
		return nil, err
	}
	return bodyList(resp, "scopes"), nil
}

// Variables fetches children of a scope or structured variable. filter is
// "indexed", "named", or empty; start/count page large collections when
// count > 0.
func (c *Client) Variables(ctx context.Context, variablesReference int, filter string, start, count int) ([]map[string]any, error) {
	args := map[string]any{"variablesReference": variablesReference}
	if filter != "" {
		args["filter"] = filter
	}
	if count > 0 {
		args["start"] = start
		args["count"] = count
	}
	resp, err := c.Request(ctx, "variables", args)
	if err != nil {
		return nil, err
	}
	return bodyList(resp, "variables"), nil
}

// Evaluate evaluates an expression, optionally in a frame context.
// evalContext is "repl", "watch", "hover", or "clipboard".
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (map[string]any, error) {
	args := map[string]any{
		"expression": expression,
		"context":    evalContext,
	}
	if frameID != 0 {
		args["frameId"] = frameID
	}
	resp, err := c.Request(ctx, "evaluate", args)
	if err != nil {
		return nil, err
	}
	if resp.Body == nil {
		return map[string]any{}, nil
	}
	return resp.Body, nil
}

// Request sends one request and waits for its response. A response with
// success=false is returned as an ErrRequestFailed error.
func (c *Client) Request(ctx context.Context, command string, arguments map[string]any) (*Message, error) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	ch := make(chan *Message, 1)
	c.pending[seq] = ch
	c.mu.Unlock()
	defer c.dropPending(seq)

	if err := c.transport.Send(NewRequest(seq, command, arguments)); err != nil {
		return nil, err
	}

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, fmt.Errorf("%w: connection closed waiting for %q", ErrConnection, command)
		}
		if !resp.Success {
			return nil, fmt.Errorf("%w: %q: %s", ErrRequestFailed, command, errText(resp))
		}
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for response to %q", ErrTimeout, command)
	}
}

// WaitForStop blocks until the next stopped event and returns its body
// (reason, threadId, ...).
func (c *Client) WaitForStop(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	c.stopCh = make(chan struct{})
	ch := c.stopCh
	c.mu.Unlock()

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	select {
	case <-ch:
		return c.LastStop(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for stop event", ErrTimeout)
	}
}

// LastStop returns a copy of the most recent stopped event body.
func (c *Client) LastStop() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.lastStop))
	for k, v := range c.lastStop {
		out[k] = v
	}
	return out
}

// Capabilities returns the adapter capabilities from initialize.
func (c *Client) Capabilities() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.caps))
	for k, v := range c.caps {
		out[k] = v
	}
	return out
}

// Connected reports whether the underlying transport is up.
func (c *Client) Connected() bool { return c.transport.Connected() }

// Initialized reports whether initialize has completed.
func (c *Client) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// ConfigurationDoneSent reports whether configurationDone has been sent
// for the current launch.
func (c *Client) ConfigurationDoneSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configDone
}

func (c *Client) receiveLoop() {
	defer func() {
		c.mu.Lock()
		for seq, ch := range c.pending {
			delete(c.pending, seq)
			close(ch)
		}
		done := c.recvDone
		c.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	for {
		msg, err := c.transport.Recv()
		if err != nil {
			return
		}
		switch msg.Type {
		case TypeResponse:
			c.handleResponse(msg)
		case TypeEvent:
			c.handleEvent(msg)
		default:
			// Reverse requests (runInTerminal etc.) are not supported; ignore.
		}
	}
}

func (c *Client) handleResponse(msg *Message) {
	c.mu.Lock()
	ch := c.pending[msg.RequestSeq]
	delete(c.pending, msg.RequestSeq)
	c.mu.Unlock()
	if ch != nil {
		ch <- msg
	}
}

func (c *Client) handleEvent(msg *Message) {
	c.mu.Lock()
	switch msg.Event {
	case "initialized":
		if c.initializedCh != nil {
			close(c.initializedCh)
			c.initializedCh = nil
		}
	case "stopped":
		c.lastStop = msg.Body
		if c.stopCh != nil {
			close(c.stopCh)
			c.stopCh = nil
		}
	}
	handlers := append([]EventHandler(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		dispatch(h, msg)
	}
}

// dispatch isolates handler panics so one bad callback cannot kill the
// receive loop.
func dispatch(h EventHandler, msg *Message) {
	defer func() { _ = recover() }()
	h(msg)
}

func (c *Client) dropPending(seq int) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}

func errText(resp *Message) string {
	if resp.ErrMessage != "" {
		return resp.ErrMessage
	}
	return "unknown error"
}

func bodyList(resp *Message, key string) []map[string]any {
	if resp.Body == nil {
		return nil
	}
	raw, ok := resp.Body[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
