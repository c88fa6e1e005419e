// Package session tracks live debug sessions: their adapter, DAP client,
// execution state, breakpoints, and buffered events.
package session

// State is the lifecycle of a debug session.
type State string

const (
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
	StateTerminated   State = "terminated"
)

// StopReason is why the debuggee stopped, from the DAP stopped event.
type StopReason string

const (
	StopBreakpoint         StopReason = "breakpoint"
	StopStep               StopReason = "step"
	StopException          StopReason = "exception"
	StopPause              StopReason = "pause"
	StopEntry              StopReason = "entry"
	StopGoto               StopReason = "goto"
	StopFunctionBreakpoint StopReason = "function breakpoint"
	StopDataBreakpoint     StopReason = "data breakpoint"
)

var knownStopReasons = map[StopReason]bool{
	StopBreakpoint: true, StopStep: true, StopException: true,
	StopPause: true, StopEntry: true, StopGoto: true,
	StopFunctionBreakpoint: true, StopDataBreakpoint: true,
}

// parseStopReason maps an adapter's reason string onto a known value,
// defaulting to breakpoint for reasons this bridge does not model.
func parseStopReason(s string) StopReason {
	r := StopReason(s)
	if knownStopReasons[r] {
		return r
	}
	return StopBreakpoint
}

// SourceBreakpoint is a breakpoint request: a line plus optional
// condition, hit condition, or log message.
type SourceBreakpoint struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hit_condition,omitempty"`
	LogMessage   string `json:"log_message,omitempty"`
}

// Breakpoint is the adapter's verified view of a requested breakpoint.
type Breakpoint struct {
	ID         int    `json:"id,omitempty"`
	Verified   bool   `json:"verified"`
	Message    string `json:"message,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
	Line       int    `json:"line,omitempty"`
	Column     int    `json:"column,omitempty"`
	EndLine    int    `json:"end_line,omitempty"`
	EndColumn  int    `json:"end_column,omitempty"`
}

// Thread is one debuggee thread.
type Thread struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// StackFrame is one frame of a stack trace.
type StackFrame struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Source    map[string]any `json:"source,omitempty"`
	Line      int            `json:"line"`
	Column    int            `json:"column"`
	EndLine   int            `json:"end_line,omitempty"`
	EndColumn int            `json:"end_column,omitempty"`
}

// Scope is a variable scope of a stack frame.
type Scope struct {
	Name               string `json:"name"`
	PresentationHint   string `json:"presentation_hint,omitempty"`
	VariablesReference int    `json:"variables_reference"`
	NamedVariables     int    `json:"named_variables,omitempty"`
	IndexedVariables   int    `json:"indexed_variables,omitempty"`
	Expensive          bool   `json:"expensive"`
}

// Variable is one variable with an optional reference to its children.
type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	EvaluateName       string `json:"evaluate_name,omitempty"`
	VariablesReference int    `json:"variables_reference"`
	NamedVariables     int    `json:"named_variables,omitempty"`
	IndexedVariables   int    `json:"indexed_variables,omitempty"`
}

// StoppedEvent reports an execution stop.
type StoppedEvent struct {
	Reason   StopReason `json:"reason"`
	ThreadID int        `json:"thread_id"`
}

// OutputEvent is buffered debuggee or adapter output.
type OutputEvent struct {
	Category string `json:"category"`
	Output   string `json:"output"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// EvaluateResult is the outcome of an expression evaluation.
type EvaluateResult struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variables_reference"`
	NamedVariables     int    `json:"named_variables,omitempty"`
	IndexedVariables   int    `json:"indexed_variables,omitempty"`
}

// Info is a session summary for listings and resources.
type Info struct {
	SessionID       string     `json:"session_id"`
	Adapter         string     `json:"adapter"`
	State           State      `json:"state"`
	Program         string     `json:"program,omitempty"`
	Threads         []Thread   `json:"threads"`
	StoppedThreadID int        `json:"stopped_thread_id,omitempty"`
	StopReason      StopReason `json:"stop_reason,omitempty"`
}
