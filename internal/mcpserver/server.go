package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"mcpdap/internal/config"
	"mcpdap/internal/dap"
	"mcpdap/internal/session"
)

const protocolVersion = "2024-11-05"

// Server is the MCP endpoint bridging tool calls to debug sessions.
type Server struct {
	name    string
	version string

	manager *session.Manager
	cfg     *config.Config
	cfgPath string
	log     *zap.Logger

	mu          sync.Mutex
	initialized bool
}

// New builds a server over a session manager. cfgPath is reported in the
// adapters resource so clients can see where settings came from.
func New(name, version string, manager *session.Manager, cfg *config.Config, cfgPath string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		name:    name,
		version: version,
		manager: manager,
		cfg:     cfg,
		cfgPath: cfgPath,
		log:     log,
	}
	manager.AddEventCallback(s.onDebugEvent)
	return s
}

// SetConfig swaps the live config, e.g. after a file-watch reload. The
// adapter registry is rebuilt for future sessions; running sessions keep
// their adapters.
func (s *Server) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.manager.SetRegistry(cfg.BuildRegistry())
}

func (s *Server) config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Serve reads requests from in and writes responses to out until in
// closes or ctx is cancelled. All sessions are torn down on exit.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	writer := &rpcWriter{out: out}

	var wg sync.WaitGroup
	readErr := make(chan error, 1)
	go func() {
		readErr <- readRequests(in, writer, func(req *rpcRequest) {
			if req.isNotification() {
				s.handleNotification(req)
				return
			}
			// Execution-control tools block until the debuggee stops, so
			// each request gets its own goroutine.
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleRequest(ctx, writer, req)
			}()
		})
	}()

	// Cancellation (SIGINT/SIGTERM upstream) is a normal shutdown; the
	// read goroutine stays parked on in until the client closes it.
	var err error
	select {
	case err = <-readErr:
	case <-ctx.Done():
		s.log.Info("shutdown requested")
	}
	wg.Wait()

	if closeErr := s.manager.CloseAll(context.Background()); closeErr != nil {
		s.log.Warn("session teardown failed", zap.Error(closeErr))
	}
	return err
}

func (s *Server) handleNotification(req *rpcRequest) {
	switch req.Method {
	case "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		s.log.Debug("client initialized")
	case "notifications/cancelled":
		// Cancellation of in-flight requests is not supported.
	default:
		s.log.Debug("ignoring notification", zap.String("method", req.Method))
	}
}

func (s *Server) handleRequest(ctx context.Context, w *rpcWriter, req *rpcRequest) {
	result, rpcErr := s.dispatch(ctx, req)

	resp := &rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	if err := w.write(resp); err != nil {
		s.log.Error("response write failed", zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, req *rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": toolDefinitions()}, nil
	case "tools/call":
		return s.handleToolCall(ctx, req.Params)
	case "resources/list":
		return map[string]any{"resources": s.listResources()}, nil
	case "resources/read":
		return s.handleResourceRead(ctx, req.Params)
	default:
		return nil, errMethodNotFound(req.Method)
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (any, *rpcError) {
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errInvalidParams(err)
		}
	}
	s.log.Info("client connected",
		zap.String("client", p.ClientInfo.Name),
		zap.String("client_version", p.ClientInfo.Version))

	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
	}, nil
}

// onDebugEvent logs adapter events. Events stay buffered in their
// session for polling through debug_get_pending_events; MCP push
// notifications are not sent.
func (s *Server) onDebugEvent(sessionID string, event *dap.Message) {
	s.log.Debug("debug event",
		zap.String("session_id", sessionID),
		zap.String("event", event.Event))
}
