// Package mcpserver exposes debugging over the Model Context Protocol:
// JSON-RPC 2.0 on stdio, with debug_* tools and debug:// resources.
package mcpserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxLineBytes bounds one newline-delimited JSON-RPC message.
const maxLineBytes = 16 * 1024 * 1024

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request carries no id and so must
// not be answered.
func (r *rpcRequest) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func errInvalidParams(err error) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: "invalid params", Data: err.Error()}
}

func errMethodNotFound(method string) *rpcError {
	return &rpcError{Code: codeMethodNotFound, Message: "method not found: " + method}
}

// rpcWriter serializes newline-delimited responses. Tool handlers run
// concurrently, so writes are locked.
type rpcWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *rpcWriter) write(resp *rpcResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// readRequests scans newline-delimited messages from r and hands each
// parsed request to handle. Unparseable lines produce a parse error
// response with a null id.
func readRequests(r io.Reader, w *rpcWriter, handle func(*rpcRequest)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			w.write(&rpcResponse{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error:   &rpcError{Code: codeParseError, Message: "parse error", Data: err.Error()},
			})
			continue
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			if !req.isNotification() {
				w.write(&rpcResponse{
					JSONRPC: "2.0",
					ID:      req.ID,
					Error:   &rpcError{Code: codeInvalidRequest, Message: "invalid request"},
				})
			}
			continue
		}
		handle(&req)
	}
	return scanner.Err()
}
