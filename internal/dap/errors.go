package dap

import "errors"

// Sentinel errors for the DAP layer. Callers match with errors.Is; the
// wrapped messages carry the detail.
var (
	// ErrProtocol indicates a malformed DAP message or framing violation.
	ErrProtocol = errors.New("dap protocol error")

	// ErrConnection indicates the adapter could not be reached or died.
	ErrConnection = errors.New("dap connection error")

	// ErrTimeout indicates a request or event wait exceeded its deadline.
	ErrTimeout = errors.New("dap timeout")

	// ErrNotConnected indicates an operation on a closed transport.
	ErrNotConnected = errors.New("transport not connected")

	// ErrRequestFailed indicates the adapter answered with success=false.
	ErrRequestFailed = errors.New("dap request failed")
)
