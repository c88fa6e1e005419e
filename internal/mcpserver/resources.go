package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mcpdap/internal/session"
)

// listResources advertises the fixed adapter/session resources plus one
// state, threads and breakpoints resource per live session.
func (s *Server) listResources() []map[string]any {
	resources := []map[string]any{
		{
			"uri":         "debug://adapters",
			"name":        "Available debug adapters",
			"description": "Adapters that can be used for debugging, with availability status",
			"mimeType":    "application/json",
		},
		{
			"uri":         "debug://sessions",
			"name":        "Active debug sessions",
			"description": "Currently active debug sessions",
			"mimeType":    "application/json",
		},
	}

	for _, info := range s.manager.List() {
		sid := info.SessionID
		short := sid
		if len(short) > 8 {
			short = short[:8]
		}
		resources = append(resources,
			map[string]any{
				"uri":         "debug://" + sid + "/state",
				"name":        fmt.Sprintf("Session %s state", short),
				"description": "Execution state, stop reason and threads for this session",
				"mimeType":    "application/json",
			},
			map[string]any{
				"uri":         "debug://" + sid + "/threads",
				"name":        fmt.Sprintf("Session %s threads", short),
				"description": "Threads in the debuggee",
				"mimeType":    "application/json",
			},
			map[string]any{
				"uri":         "debug://" + sid + "/breakpoints",
				"name":        fmt.Sprintf("Session %s breakpoints", short),
				"description": "Breakpoints set in this session, by source file",
				"mimeType":    "application/json",
			},
		)
	}
	return resources
}

func (s *Server) handleResourceRead(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if p.URI == "" {
		return nil, errInvalidParams(errors.New("uri is required"))
	}

	body, err := s.readResource(ctx, p.URI)
	if err != nil {
		body = map[string]any{"error": err.Error()}
	}
	text, merr := json.MarshalIndent(body, "", "  ")
	if merr != nil {
		return nil, &rpcError{Code: codeInternalError, Message: "encode resource", Data: merr.Error()}
	}
	return map[string]any{
		"contents": []map[string]any{
			{
				"uri":      p.URI,
				"mimeType": "application/json",
				"text":     string(text),
			},
		},
	}, nil
}

func (s *Server) readResource(ctx context.Context, uri string) (any, error) {
	switch uri {
	case "debug://adapters":
		cfg := s.config()
		return map[string]any{
			"default_adapter": cfg.DefaultAdapter,
			"adapters":        s.manager.Registry().Infos(),
			"config_sources":  cfg.Sources(s.cfgPath),
		}, nil
	case "debug://sessions":
		return map[string]any{"sessions": s.manager.List()}, nil
	}

	rest, ok := strings.CutPrefix(uri, "debug://")
	if !ok {
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}
	sid, kind, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}

	sess, err := s.manager.Get(sid)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "state":
		return sess.Info(), nil
	case "threads":
		threads, err := sess.Threads(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"threads": threads}, nil
	case "breakpoints":
		byFile := sess.Breakpoints()
		if byFile == nil {
			byFile = map[string][]session.Breakpoint{}
		}
		return map[string]any{"breakpoints": byFile}, nil
	default:
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}
}
