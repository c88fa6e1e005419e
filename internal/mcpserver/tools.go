package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"mcpdap/internal/adapters"
	"mcpdap/internal/session"
)

// toolError is reported to the client as a normal tool result carrying
// an error payload, not a JSON-RPC error. Protocol-level failures keep
// using rpcError.
func toolErrorResult(err error) map[string]any {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(payload)}},
		"isError": true,
	}
}

func toolResult(v any) (map[string]any, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(payload)}},
	}, nil
}

func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, errInvalidParams(err)
	}

	s.log.Debug("tool call", zap.String("tool", call.Name))
	result, err := s.runTool(ctx, call.Name, call.Arguments)
	if err != nil {
		s.log.Warn("tool failed", zap.String("tool", call.Name), zap.Error(err))
		return toolErrorResult(err), nil
	}

	out, marshalErr := toolResult(result)
	if marshalErr != nil {
		return nil, &rpcError{Code: codeInternalError, Message: marshalErr.Error()}
	}
	return out, nil
}

type launchInput struct {
	Adapter     string            `json:"adapter"`
	Program     string            `json:"program"`
	Args        []string          `json:"args"`
	Cwd         string            `json:"cwd"`
	Env         map[string]string `json:"env"`
	StopOnEntry bool              `json:"stop_on_entry"`
	CargoArgs   []string          `json:"cargo_args"`
}

type attachInput struct {
	Adapter string `json:"adapter"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type sessionInput struct {
	SessionID string `json:"session_id"`
}

type setBreakpointsInput struct {
	SessionID   string                    `json:"session_id"`
	File        string                    `json:"file"`
	Breakpoints []session.SourceBreakpoint `json:"breakpoints"`
}

type clearBreakpointsInput struct {
	SessionID string `json:"session_id"`
	File      string `json:"file"`
}

type executionInput struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id"`
}

type stackTraceInput struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id"`
	Levels    int    `json:"levels"`
}

type scopesInput struct {
	SessionID string `json:"session_id"`
	FrameID   int    `json:"frame_id"`
}

type variablesInput struct {
	SessionID          string `json:"session_id"`
	VariablesReference int    `json:"variables_reference"`
	Filter             string `json:"filter"`
}

type evaluateInput struct {
	SessionID  string `json:"session_id"`
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id"`
	Context    string `json:"context"`
}

func (s *Server) runTool(ctx context.Context, name string, arguments json.RawMessage) (any, error) {
	switch name {
	case "debug_launch":
		return s.toolLaunch(ctx, arguments)
	case "debug_attach":
		return s.toolAttach(ctx, arguments)
	case "debug_disconnect":
		var in sessionInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		if err := s.manager.Close(ctx, in.SessionID, true); err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "session_id": in.SessionID}, nil

	case "debug_set_breakpoints":
		var in setBreakpointsInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		bps, err := sess.SetBreakpoints(ctx, in.File, in.Breakpoints)
		if err != nil {
			return nil, err
		}
		return map[string]any{"file": in.File, "breakpoints": bps}, nil

	case "debug_clear_breakpoints":
		var in clearBreakpointsInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		if err := sess.ClearBreakpoints(ctx, in.File); err != nil {
			return nil, err
		}
		return map[string]any{"file": in.File, "cleared": true}, nil

	case "debug_continue":
		return s.toolExecution(ctx, arguments, func(sess *session.Session, tid int) (*session.StoppedEvent, error) {
			return sess.Continue(ctx, tid, true)
		})
	case "debug_step_over":
		return s.toolExecution(ctx, arguments, func(sess *session.Session, tid int) (*session.StoppedEvent, error) {
			return sess.StepOver(ctx, tid, true)
		})
	case "debug_step_into":
		return s.toolExecution(ctx, arguments, func(sess *session.Session, tid int) (*session.StoppedEvent, error) {
			return sess.StepInto(ctx, tid, true)
		})
	case "debug_step_out":
		return s.toolExecution(ctx, arguments, func(sess *session.Session, tid int) (*session.StoppedEvent, error) {
			return sess.StepOut(ctx, tid, true)
		})

	case "debug_pause":
		var in executionInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		if err := sess.Pause(ctx, in.ThreadID); err != nil {
			return nil, err
		}
		return map[string]any{"paused": true}, nil

	case "debug_get_threads":
		var in sessionInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		threads, err := sess.Threads(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"threads": threads}, nil

	case "debug_get_stack_trace":
		var in stackTraceInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		frames, err := sess.StackTrace(ctx, in.ThreadID, 0, in.Levels)
		if err != nil {
			return nil, err
		}
		return map[string]any{"frames": frames}, nil

	case "debug_get_scopes":
		var in scopesInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		scopes, err := sess.Scopes(ctx, in.FrameID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"scopes": scopes}, nil

	case "debug_get_variables":
		var in variablesInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		variables, err := sess.Variables(ctx, in.VariablesReference, in.Filter)
		if err != nil {
			return nil, err
		}
		return map[string]any{"variables": variables}, nil

	case "debug_evaluate":
		var in evaluateInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		return sess.Evaluate(ctx, in.Expression, in.FrameID, in.Context)

	case "debug_get_pending_events":
		var in sessionInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		events := sess.DrainEvents()
		out := make([]map[string]any, 0, len(events))
		for _, ev := range events {
			out = append(out, map[string]any{"event": ev.Event, "body": ev.Body})
		}
		return map[string]any{"events": out}, nil

	case "debug_get_output":
		var in sessionInput
		if err := unmarshalArgs(arguments, &in); err != nil {
			return nil, err
		}
		sess, err := s.manager.Get(in.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"output": sess.DrainOutput()}, nil
	}

	return nil, fmt.Errorf("unknown tool: %s", name)
}

func (s *Server) toolLaunch(ctx context.Context, arguments json.RawMessage) (any, error) {
	var in launchInput
	if err := unmarshalArgs(arguments, &in); err != nil {
		return nil, err
	}
	if in.Program == "" && len(in.CargoArgs) == 0 {
		return nil, fmt.Errorf("either 'program' or 'cargo_args' must be provided")
	}
	if in.Adapter == "" {
		in.Adapter = s.config().DefaultAdapter
	}

	extra := extraFields(arguments,
		"adapter", "program", "args", "cwd", "env", "stop_on_entry", "cargo_args")
	if len(in.CargoArgs) > 0 {
		extra["cargo_args"] = in.CargoArgs
	}

	sess, err := s.manager.Create(ctx, session.CreateOptions{
		Adapter: in.Adapter,
		Dir:     in.Cwd,
		Env:     flattenEnv(in.Env),
	})
	if err != nil {
		return nil, err
	}

	err = sess.Launch(ctx, adapters.LaunchSpec{
		Program:     in.Program,
		Args:        in.Args,
		Cwd:         in.Cwd,
		Env:         in.Env,
		StopOnEntry: in.StopOnEntry,
		Extra:       extra,
	})
	if err != nil {
		s.manager.Close(ctx, sess.ID(), true)
		return nil, err
	}

	return map[string]any{
		"session_id": sess.ID(),
		"adapter":    sess.Adapter().Name(),
		"program":    sess.Program(),
		"state":      sess.State(),
	}, nil
}

func (s *Server) toolAttach(ctx context.Context, arguments json.RawMessage) (any, error) {
	var in attachInput
	if err := unmarshalArgs(arguments, &in); err != nil {
		return nil, err
	}
	if in.Adapter == "" {
		in.Adapter = s.config().DefaultAdapter
	}

	// Extra fields (pid, mode, ...) pass through to the adapter.
	extra := extraFields(arguments, "adapter", "host", "port")

	sess, err := s.manager.Create(ctx, session.CreateOptions{
		Adapter: in.Adapter,
		Host:    in.Host,
		Port:    in.Port,
	})
	if err != nil {
		return nil, err
	}

	err = sess.Attach(ctx, adapters.AttachSpec{
		Host:  in.Host,
		Port:  in.Port,
		Extra: extra,
	})
	if err != nil {
		s.manager.Close(ctx, sess.ID(), false)
		return nil, err
	}

	result := map[string]any{
		"session_id": sess.ID(),
		"adapter":    sess.Adapter().Name(),
		"state":      sess.State(),
	}
	if in.Host != "" {
		result["host"] = in.Host
	}
	if in.Port != 0 {
		result["port"] = in.Port
	}
	if pid, ok := extra["pid"]; ok {
		result["pid"] = pid
	}
	return result, nil
}

func (s *Server) toolExecution(ctx context.Context, arguments json.RawMessage, op func(*session.Session, int) (*session.StoppedEvent, error)) (any, error) {
	var in executionInput
	if err := unmarshalArgs(arguments, &in); err != nil {
		return nil, err
	}
	sess, err := s.manager.Get(in.SessionID)
	if err != nil {
		return nil, err
	}
	stopped, err := op(sess, in.ThreadID)
	if err != nil {
		return nil, err
	}
	return stoppedResult(sess, stopped), nil
}

func stoppedResult(sess *session.Session, stopped *session.StoppedEvent) map[string]any {
	result := map[string]any{"state": sess.State()}
	if sess.State() == session.StateTerminated {
		result["terminated"] = true
		return result
	}
	if stopped != nil {
		result["reason"] = stopped.Reason
		result["thread_id"] = stopped.ThreadID
	} else {
		result["timeout"] = true
	}
	return result
}

func unmarshalArgs(arguments json.RawMessage, v any) error {
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}
	if err := json.Unmarshal(arguments, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// extraFields returns argument keys outside the known set, so
// adapter-specific options (delve's mode, codelldb's init_commands)
// reach the adapter without the schema naming every one.
func extraFields(arguments json.RawMessage, known ...string) map[string]any {
	var all map[string]any
	if err := json.Unmarshal(arguments, &all); err != nil {
		return map[string]any{}
	}
	for _, key := range known {
		delete(all, key)
	}
	if all == nil {
		all = map[string]any{}
	}
	return all
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
