package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpdap/internal/adapters"
	"mcpdap/internal/dap"
)

var (
	// ErrNotFound reports an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrExists reports a session id collision.
	ErrExists = errors.New("session already exists")
	// ErrBadRequest reports launch or attach input the session rejects.
	ErrBadRequest = errors.New("invalid session request")
)

// stopTimeout bounds how long execution-control calls wait for the
// debuggee to stop again. Long enough for slow interpreters under load.
const stopTimeout = 5 * time.Minute

// EventCallback observes raw adapter events, tagged with the session id.
type EventCallback func(sessionID string, event *dap.Message)

// Session is one live debug session against a single adapter.
type Session struct {
	id      string
	adapter adapters.Adapter
	client  *dap.Client
	log     *zap.Logger

	mu              sync.Mutex
	state           State
	program         string
	threads         []Thread
	stoppedThreadID int
	stopReason      StopReason
	stopped         chan struct{}

	pendingEvents []*dap.Message
	outputBuffer  []OutputEvent
	breakpoints   map[string][]Breakpoint
	callbacks     []EventCallback
}

// New wires a session around a connected-or-not client. The client's
// events drive the session state from here on.
func New(id string, adapter adapters.Adapter, client *dap.Client, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		id:          id,
		adapter:     adapter,
		client:      client,
		log:         log.With(zap.String("session_id", id), zap.String("adapter", adapter.Name())),
		state:       StateInitializing,
		stopped:     make(chan struct{}),
		breakpoints: make(map[string][]Breakpoint),
	}
	client.AddEventHandler(s.handleEvent)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Adapter returns the adapter driving this session.
func (s *Session) Adapter() adapters.Adapter { return s.adapter }

// Client exposes the underlying DAP client.
func (s *Session) Client() *dap.Client { return s.client }

// Initialize runs the DAP capability negotiation.
func (s *Session) Initialize(ctx context.Context) (map[string]any, error) {
	return s.client.Initialize(ctx)
}

// Launch starts the debuggee. For codelldb sessions a cargo_args option
// builds the project first and debugs the produced binary.
func (s *Session) Launch(ctx context.Context, spec adapters.LaunchSpec) error {
	var (
		arguments map[string]any
		err       error
	)

	if cargoArgs, ok := stringSlice(spec.Extra["cargo_args"]); ok {
		lldb, isLLDB := s.adapter.(*adapters.CodeLLDB)
		if !isLLDB {
			return fmt.Errorf("%w: cargo_args is only supported with the codelldb adapter", ErrBadRequest)
		}
		extra := make(map[string]any, len(spec.Extra))
		for k, v := range spec.Extra {
			if k != "cargo_args" {
				extra[k] = v
			}
		}
		spec.Extra = extra
		arguments, err = lldb.CargoLaunchArguments(ctx, cargoArgs, spec)
	} else {
		if spec.Program == "" {
			return fmt.Errorf("%w: either program or cargo_args must be provided", ErrBadRequest)
		}
		arguments, err = s.adapter.LaunchArguments(spec)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.program, _ = arguments["program"].(string)
	s.mu.Unlock()

	// launch → initialized event → configurationDone → parked launch response
	if err := s.client.Launch(ctx, arguments, true); err != nil {
		return err
	}
	if err := s.client.ConfigurationDone(ctx); err != nil {
		return err
	}
	if err := s.client.CompleteLaunch(ctx); err != nil {
		return err
	}

	s.setState(StateRunning)
	s.log.Info("program launched", zap.String("program", s.Program()))
	return nil
}

// Attach connects to an already-running debuggee.
func (s *Session) Attach(ctx context.Context, spec adapters.AttachSpec) error {
	arguments, err := s.adapter.AttachArguments(spec)
	if err != nil {
		return err
	}

	if err := s.client.Attach(ctx, arguments, true); err != nil {
		return err
	}
	if err := s.client.ConfigurationDone(ctx); err != nil {
		return err
	}
	// The attach response is parked the same way as launch.
	if err := s.client.CompleteLaunch(ctx); err != nil {
		return err
	}

	s.setState(StateRunning)
	s.log.Info("attached to debuggee")
	return nil
}

// Disconnect ends the session, optionally terminating the debuggee.
func (s *Session) Disconnect(ctx context.Context, terminate bool) error {
	s.setState(StateTerminated)
	err := s.client.DisconnectDebuggee(ctx, terminate, false)
	closeErr := s.client.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// SetBreakpoints replaces the breakpoints in one source file.
func (s *Session) SetBreakpoints(ctx context.Context, sourcePath string, requested []SourceBreakpoint) ([]Breakpoint, error) {
	specs := make([]map[string]any, 0, len(requested))
	for _, bp := range requested {
		spec := map[string]any{"line": bp.Line}
		if bp.Column > 0 {
			spec["column"] = bp.Column
		}
		if bp.Condition != "" {
			spec["condition"] = bp.Condition
		}
		if bp.HitCondition != "" {
			spec["hitCondition"] = bp.HitCondition
		}
		if bp.LogMessage != "" {
			spec["logMessage"] = bp.LogMessage
		}
		specs = append(specs, spec)
	}

	result, err := s.client.SetBreakpoints(ctx, sourcePath, specs)
	if err != nil {
		return nil, err
	}

	verified := make([]Breakpoint, 0, len(result))
	for _, raw := range result {
		verified = append(verified, breakpointFromBody(raw, sourcePath))
	}

	s.mu.Lock()
	s.breakpoints[sourcePath] = verified
	s.mu.Unlock()
	return verified, nil
}

// ClearBreakpoints removes all breakpoints from one source file.
func (s *Session) ClearBreakpoints(ctx context.Context, sourcePath string) error {
	if _, err := s.client.SetBreakpoints(ctx, sourcePath, nil); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.breakpoints, sourcePath)
	s.mu.Unlock()
	return nil
}

// SetExceptionBreakpoints configures exception filters.
func (s *Session) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	return s.client.SetExceptionBreakpoints(ctx, filters)
}

// Continue resumes execution. With wait, blocks until the next stop and
// returns it; a nil event means the wait timed out or the debuggee
// terminated.
func (s *Session) Continue(ctx context.Context, threadID int, wait bool) (*StoppedEvent, error) {
	tid := s.resumeFrom(threadID)
	if _, err := s.client.Continue(ctx, tid, false); err != nil {
		return nil, err
	}
	if !wait {
		return nil, nil
	}
	return s.waitForStop(ctx)
}

// StepOver executes the next line without entering calls.
func (s *Session) StepOver(ctx context.Context, threadID int, wait bool) (*StoppedEvent, error) {
	return s.step(ctx, threadID, wait, s.client.Next)
}

// StepInto enters the call on the current line.
func (s *Session) StepInto(ctx context.Context, threadID int, wait bool) (*StoppedEvent, error) {
	return s.step(ctx, threadID, wait, s.client.StepIn)
}

// StepOut runs until the current function returns.
func (s *Session) StepOut(ctx context.Context, threadID int, wait bool) (*StoppedEvent, error) {
	return s.step(ctx, threadID, wait, s.client.StepOut)
}

func (s *Session) step(ctx context.Context, threadID int, wait bool, op func(context.Context, int) error) (*StoppedEvent, error) {
	tid := s.resumeFrom(threadID)
	if err := op(ctx, tid); err != nil {
		return nil, err
	}
	if !wait {
		return nil, nil
	}
	return s.waitForStop(ctx)
}

// Pause interrupts a running thread.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	if threadID == 0 {
		threadID = 1
	}
	return s.client.Pause(ctx, threadID)
}

// Threads fetches and caches the debuggee's threads.
func (s *Session) Threads(ctx context.Context) ([]Thread, error) {
	result, err := s.client.Threads(ctx)
	if err != nil {
		return nil, err
	}
	threads := make([]Thread, 0, len(result))
	for _, raw := range result {
		t := Thread{Name: stringField(raw, "name")}
		t.ID = intField(raw, "id")
		if t.Name == "" {
			t.Name = fmt.Sprintf("Thread %d", t.ID)
		}
		threads = append(threads, t)
	}
	s.mu.Lock()
	s.threads = threads
	s.mu.Unlock()
	return threads, nil
}

// StackTrace fetches stack frames for a thread. threadID 0 means the
// stopped thread.
func (s *Session) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]StackFrame, error) {
	tid := s.resumeTargetLocked(threadID)
	if levels <= 0 {
		levels = 20
	}
	frames, _, err := s.client.StackTrace(ctx, tid, startFrame, levels)
	if err != nil {
		return nil, err
	}
	out := make([]StackFrame, 0, len(frames))
	for _, raw := range frames {
		frame := StackFrame{
			ID:        intField(raw, "id"),
			Name:      stringField(raw, "name"),
			Line:      intField(raw, "line"),
			Column:    intField(raw, "column"),
			EndLine:   intField(raw, "endLine"),
			EndColumn: intField(raw, "endColumn"),
		}
		if src, ok := raw["source"].(map[string]any); ok {
			frame.Source = src
		}
		out = append(out, frame)
	}
	return out, nil
}

// Scopes lists the variable scopes of a frame.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]Scope, error) {
	result, err := s.client.Scopes(ctx, frameID)
	if err != nil {
		return nil, err
	}
	out := make([]Scope, 0, len(result))
	for _, raw := range result {
		expensive, _ := raw["expensive"].(bool)
		out = append(out, Scope{
			Name:               stringField(raw, "name"),
			PresentationHint:   stringField(raw, "presentationHint"),
			VariablesReference: intField(raw, "variablesReference"),
			NamedVariables:     intField(raw, "namedVariables"),
			IndexedVariables:   intField(raw, "indexedVariables"),
			Expensive:          expensive,
		})
	}
	return out, nil
}

// Variables fetches children of a scope or structured variable.
func (s *Session) Variables(ctx context.Context, variablesReference int, filter string) ([]Variable, error) {
	result, err := s.client.Variables(ctx, variablesReference, filter, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Variable, 0, len(result))
	for _, raw := range result {
		out = append(out, Variable{
			Name:               stringField(raw, "name"),
			Value:              stringField(raw, "value"),
			Type:               stringField(raw, "type"),
			EvaluateName:       stringField(raw, "evaluateName"),
			VariablesReference: intField(raw, "variablesReference"),
			NamedVariables:     intField(raw, "namedVariables"),
			IndexedVariables:   intField(raw, "indexedVariables"),
		})
	}
	return out, nil
}

// Evaluate evaluates an expression in an optional frame context.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*EvaluateResult, error) {
	if evalContext == "" {
		evalContext = "repl"
	}
	result, err := s.client.Evaluate(ctx, expression, frameID, evalContext)
	if err != nil {
		return nil, err
	}
	return &EvaluateResult{
		Result:             stringField(result, "result"),
		Type:               stringField(result, "type"),
		VariablesReference: intField(result, "variablesReference"),
		NamedVariables:     intField(result, "namedVariables"),
		IndexedVariables:   intField(result, "indexedVariables"),
	}, nil
}

// DrainEvents returns and clears the raw events buffered since the last
// call.
func (s *Session) DrainEvents() []*dap.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.pendingEvents
	s.pendingEvents = nil
	return events
}

// DrainOutput returns and clears buffered debuggee output.
func (s *Session) DrainOutput() []OutputEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	output := s.outputBuffer
	s.outputBuffer = nil
	return output
}

// Info summarizes the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads := s.threads
	if threads == nil {
		threads = []Thread{}
	}
	return Info{
		SessionID:       s.id,
		Adapter:         s.adapter.Name(),
		State:           s.state,
		Program:         s.program,
		Threads:         threads,
		StoppedThreadID: s.stoppedThreadID,
		StopReason:      s.stopReason,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Program returns the launched program path, if any.
func (s *Session) Program() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.program
}

// StoppedThreadID returns the thread that caused the last stop, or 0.
func (s *Session) StoppedThreadID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedThreadID
}

// Breakpoints returns all verified breakpoints keyed by source path.
func (s *Session) Breakpoints() map[string][]Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Breakpoint, len(s.breakpoints))
	for path, bps := range s.breakpoints {
		out[path] = append([]Breakpoint(nil), bps...)
	}
	return out
}

// AddEventCallback registers an observer for this session's raw events.
func (s *Session) AddEventCallback(cb EventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// resumeFrom picks the thread id for a resume operation and resets stop
// tracking before the adapter reports the program running again.
func (s *Session) resumeFrom(threadID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadID == 0 {
		threadID = s.stoppedThreadID
	}
	if threadID == 0 {
		threadID = 1
	}
	s.state = StateRunning
	s.stoppedThreadID = 0
	s.stopReason = ""
	s.stopped = make(chan struct{})
	return threadID
}

func (s *Session) resumeTargetLocked(threadID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadID == 0 {
		threadID = s.stoppedThreadID
	}
	if threadID == 0 {
		threadID = 1
	}
	return threadID
}

func (s *Session) waitForStop(ctx context.Context) (*StoppedEvent, error) {
	s.mu.Lock()
	ch := s.stopped
	s.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stopTimeout)
		defer cancel()
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stoppedThreadID != 0 && s.stopReason != "" {
		return &StoppedEvent{Reason: s.stopReason, ThreadID: s.stoppedThreadID}, nil
	}
	return nil, nil
}

func (s *Session) handleEvent(event *dap.Message) {
	s.mu.Lock()
	s.pendingEvents = append(s.pendingEvents, event)

	switch event.Event {
	case "stopped":
		s.state = StateStopped
		if tid, ok := event.BodyInt("threadId"); ok {
			s.stoppedThreadID = tid
		}
		s.stopReason = parseStopReason(event.BodyString("reason"))
		s.signalStopLocked()
	case "continued":
		s.state = StateRunning
		s.stoppedThreadID = 0
		s.stopReason = ""
		// Re-arm only a signaled channel; a live waiter keeps its one.
		select {
		case <-s.stopped:
			s.stopped = make(chan struct{})
		default:
		}
	case "terminated":
		s.state = StateTerminated
		s.signalStopLocked()
	case "output":
		out := OutputEvent{
			Category: event.BodyString("category"),
			Output:   event.BodyString("output"),
		}
		if out.Category == "" {
			out.Category = "console"
		}
		out.Line, _ = event.BodyInt("line")
		out.Column, _ = event.BodyInt("column")
		s.outputBuffer = append(s.outputBuffer, out)
	}
	callbacks := append([]EventCallback(nil), s.callbacks...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(s.id, event)
	}
}

// signalStopLocked wakes waiters exactly once per stop. Callers hold mu.
func (s *Session) signalStopLocked() {
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func breakpointFromBody(raw map[string]any, sourcePath string) Breakpoint {
	verified, _ := raw["verified"].(bool)
	return Breakpoint{
		ID:         intField(raw, "id"),
		Verified:   verified,
		Message:    stringField(raw, "message"),
		SourcePath: sourcePath,
		Line:       intField(raw, "line"),
		Column:     intField(raw, "column"),
		EndLine:    intField(raw, "endLine"),
		EndColumn:  intField(raw, "endColumn"),
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringSlice(v any) ([]string, bool) {
	switch vals := v.(type) {
	case nil:
		return nil, false
	case []string:
		return vals, true
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
