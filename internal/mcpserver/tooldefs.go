package mcpserver

// Schema fragments shared by several tools.
func sessionIDProperty() map[string]any {
	return map[string]any{"type": "string", "description": "Debug session ID"}
}

func executionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": sessionIDProperty(),
			"thread_id": map[string]any{
				"type":        "integer",
				"description": "Thread ID (uses stopped thread if not specified)",
			},
		},
		"required": []string{"session_id"},
	}
}

func sessionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": sessionIDProperty(),
		},
		"required": []string{"session_id"},
	}
}

// toolDefinitions lists every tool with its JSON schema, in the order
// clients should see them.
func toolDefinitions() []map[string]any {
	return []map[string]any{
		{
			"name": "debug_launch",
			"description": "Launch a program for debugging. Returns session_id for subsequent operations. " +
				"For Rust: use adapter='rust' with either 'program' (pre-built binary) or " +
				"'cargo_args' (e.g., ['build', '--bin', 'myapp']) to build and debug.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"adapter": map[string]any{
						"type":        "string",
						"description": "Debug adapter to use (debugpy, delve, jsdebug, codelldb, or an alias)",
					},
					"program": map[string]any{
						"type":        "string",
						"description": "Path to the program to debug. Required unless cargo_args is provided.",
					},
					"args": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Command line arguments",
					},
					"cwd": map[string]any{"type": "string", "description": "Working directory"},
					"env": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "string"},
						"description":          "Environment variables",
					},
					"stop_on_entry": map[string]any{
						"type":        "boolean",
						"description": "Stop on entry point",
					},
					"cargo_args": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
						"description": "Cargo build arguments (e.g., ['build', '--bin', 'myapp']). " +
							"If provided, builds with cargo and debugs the result.",
					},
				},
			},
		},
		{
			"name": "debug_attach",
			"description": "Attach to a running debug server or process. Returns session_id for subsequent operations. " +
				"For Python: provide host/port. For Rust: provide pid.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"adapter": map[string]any{
						"type":        "string",
						"description": "Debug adapter to use",
					},
					"host": map[string]any{
						"type":        "string",
						"description": "Host to connect to (remote attach)",
					},
					"port": map[string]any{
						"type":        "integer",
						"description": "Port to connect to (remote attach)",
					},
					"pid": map[string]any{
						"type":        "integer",
						"description": "Process ID to attach to (local attach)",
					},
				},
				"additionalProperties": true,
			},
		},
		{
			"name":        "debug_disconnect",
			"description": "Disconnect from a debug session and optionally terminate the debuggee.",
			"inputSchema": sessionSchema(),
		},
		{
			"name":        "debug_set_breakpoints",
			"description": "Set breakpoints in a source file. Replaces all existing breakpoints in that file.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": sessionIDProperty(),
					"file":       map[string]any{"type": "string", "description": "Path to source file"},
					"breakpoints": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"line":      map[string]any{"type": "integer"},
								"condition": map[string]any{"type": "string"},
								"hit_condition": map[string]any{
									"type":        "string",
									"description": "Break only when hit count matches (e.g., '>= 5')",
								},
								"log_message": map[string]any{
									"type":        "string",
									"description": "Log this message instead of breaking",
								},
							},
							"required": []string{"line"},
						},
						"description": "List of breakpoints: [{line: int, condition?: str}]",
					},
				},
				"required": []string{"session_id", "file", "breakpoints"},
			},
		},
		{
			"name":        "debug_clear_breakpoints",
			"description": "Clear all breakpoints in a source file.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": sessionIDProperty(),
					"file":       map[string]any{"type": "string", "description": "Path to source file"},
				},
				"required": []string{"session_id", "file"},
			},
		},
		{
			"name":        "debug_continue",
			"description": "Continue execution. Blocks until execution stops (breakpoint, exception, etc.).",
			"inputSchema": executionSchema(),
		},
		{
			"name":        "debug_step_over",
			"description": "Step over to the next line. Blocks until step completes.",
			"inputSchema": executionSchema(),
		},
		{
			"name":        "debug_step_into",
			"description": "Step into function call. Blocks until step completes.",
			"inputSchema": executionSchema(),
		},
		{
			"name":        "debug_step_out",
			"description": "Step out of current function. Blocks until step completes.",
			"inputSchema": executionSchema(),
		},
		{
			"name":        "debug_pause",
			"description": "Pause execution.",
			"inputSchema": executionSchema(),
		},
		{
			"name":        "debug_get_threads",
			"description": "Get all threads in the debuggee.",
			"inputSchema": sessionSchema(),
		},
		{
			"name":        "debug_get_stack_trace",
			"description": "Get the call stack for a thread.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": sessionIDProperty(),
					"thread_id":  map[string]any{"type": "integer", "description": "Thread ID"},
					"levels": map[string]any{
						"type":        "integer",
						"description": "Number of frames to retrieve (default 20)",
					},
				},
				"required": []string{"session_id"},
			},
		},
		{
			"name":        "debug_get_scopes",
			"description": "Get variable scopes for a stack frame (locals, globals, etc.).",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": sessionIDProperty(),
					"frame_id":   map[string]any{"type": "integer", "description": "Stack frame ID"},
				},
				"required": []string{"session_id", "frame_id"},
			},
		},
		{
			"name":        "debug_get_variables",
			"description": "Get variables for a scope or expandable variable.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": sessionIDProperty(),
					"variables_reference": map[string]any{
						"type":        "integer",
						"description": "Variables reference from scope or variable",
					},
					"filter": map[string]any{
						"type":        "string",
						"description": "Filter: 'indexed' or 'named'",
					},
				},
				"required": []string{"session_id", "variables_reference"},
			},
		},
		{
			"name":        "debug_evaluate",
			"description": "Evaluate an expression in the debuggee context.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": sessionIDProperty(),
					"expression": map[string]any{"type": "string", "description": "Expression to evaluate"},
					"frame_id":   map[string]any{"type": "integer", "description": "Stack frame context"},
					"context": map[string]any{
						"type":        "string",
						"description": "Context: repl, watch, hover",
					},
				},
				"required": []string{"session_id", "expression"},
			},
		},
		{
			"name":        "debug_get_pending_events",
			"description": "Get pending debug events (stopped, output, etc.) since last call.",
			"inputSchema": sessionSchema(),
		},
		{
			"name":        "debug_get_output",
			"description": "Get debuggee output (stdout/stderr) since last call.",
			"inputSchema": sessionSchema(),
		},
	}
}
