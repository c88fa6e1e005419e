// Package adapters describes the debug adapters the bridge can drive:
// how to find their binaries, spawn them, and shape launch/attach
// arguments for each one.
package adapters

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"mcpdap/internal/dap"
)

var (
	// ErrNotFound reports that an adapter binary could not be located.
	ErrNotFound = errors.New("adapter not found")
	// ErrUnknownAdapter reports a name that resolves to no registered adapter.
	ErrUnknownAdapter = errors.New("unknown adapter")
	// ErrInvalidArguments reports launch or attach arguments an adapter rejects.
	ErrInvalidArguments = errors.New("invalid adapter arguments")
)

// TransportSpec carries everything an adapter needs to build its transport.
// Host and Port are set only when attaching to an already-running server.
type TransportSpec struct {
	Dir  string
	Env  []string
	Host string
	Port int
}

// LaunchSpec is the adapter-independent part of a launch request. Extra
// holds adapter-specific options; snake_case keys are translated to the
// adapter's native property names.
type LaunchSpec struct {
	Program     string
	Args        []string
	Cwd         string
	Env         map[string]string
	StopOnEntry bool
	Extra       map[string]any
}

// AttachSpec is the adapter-independent part of an attach request.
type AttachSpec struct {
	Host  string
	Port  int
	Extra map[string]any
}

// Adapter is one supported debug adapter.
type Adapter interface {
	// Name is the primary registry key ("debugpy", "delve", ...).
	Name() string
	// ID is the adapterID sent in the DAP initialize request.
	ID() string
	// Extensions lists the source file extensions this adapter handles.
	Extensions() []string
	// Aliases lists alternate names that resolve to this adapter.
	Aliases() []string
	// Describe returns a one-line human description.
	Describe() string
	// Info reports discovery state and option documentation for the
	// adapters resource.
	Info() map[string]any
	// CreateTransport builds the transport for a new session.
	CreateTransport(spec TransportSpec) (dap.Transport, error)
	// LaunchArguments shapes the DAP launch request arguments.
	LaunchArguments(spec LaunchSpec) (map[string]any, error)
	// AttachArguments shapes the DAP attach request arguments.
	AttachArguments(spec AttachSpec) (map[string]any, error)
}

// Registry resolves adapter names, aliases, and file extensions.
type Registry struct {
	adapters map[string]Adapter
	aliases  map[string]string
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		aliases:  make(map[string]string),
	}
}

// Settings selects binaries for adapters whose location is configurable.
// Empty fields mean "discover automatically".
type Settings struct {
	PythonPath   string
	DlvPath      string
	NodePath     string
	JsDebugPath  string
	CodeLLDBPath string
	Disabled     []string
}

// DefaultRegistry builds a registry with every supported adapter, minus
// any the settings disable.
func DefaultRegistry(s Settings) *Registry {
	disabled := make(map[string]bool, len(s.Disabled))
	for _, name := range s.Disabled {
		disabled[name] = true
	}

	r := NewRegistry()
	for _, a := range []Adapter{
		NewDebugpy(s.PythonPath),
		NewDelve(s.DlvPath),
		NewJsDebug(s.JsDebugPath, s.NodePath),
		NewCodeLLDB(s.CodeLLDBPath),
	} {
		if !disabled[a.Name()] {
			r.Register(a)
		}
	}
	return r
}

// Register adds an adapter under its name and aliases. A duplicate name
// replaces the earlier registration.
func (r *Registry) Register(a Adapter) {
	if _, exists := r.adapters[a.Name()]; !exists {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
	for _, alias := range a.Aliases() {
		r.aliases[alias] = a.Name()
	}
}

// Resolve looks up an adapter by name or alias, case-insensitively.
func (r *Registry) Resolve(name string) (Adapter, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if primary, ok := r.aliases[key]; ok {
		key = primary
	}
	a, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownAdapter, name, strings.Join(r.Names(), ", "))
	}
	return a, nil
}

// ForFile picks the adapter that handles a source file's extension.
func (r *Registry) ForFile(path string) (Adapter, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, name := range r.order {
		a := r.adapters[name]
		for _, candidate := range a.Extensions() {
			if candidate == ext {
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no adapter handles %q files", ErrUnknownAdapter, ext)
}

// Names lists registered adapter names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Infos reports every adapter's Info, keyed by name.
func (r *Registry) Infos() map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.Info()
	}
	return out
}

// baseLaunchArguments fills the fields every adapter's launch request
// shares.
func baseLaunchArguments(spec LaunchSpec) map[string]any {
	args := map[string]any{
		"program":     spec.Program,
		"args":        argsOrEmpty(spec.Args),
		"stopOnEntry": spec.StopOnEntry,
	}
	if spec.Cwd != "" {
		args["cwd"] = spec.Cwd
	}
	if spec.Env != nil {
		args["env"] = spec.Env
	}
	return args
}

func argsOrEmpty(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

// applyExtra merges adapter-specific options into arguments. Keys found
// in rename are translated to their native property names; the rest pass
// through untouched, so callers can use an adapter's own casing directly.
func applyExtra(arguments, extra map[string]any, rename map[string]string) {
	for key, value := range extra {
		if native, ok := rename[key]; ok {
			arguments[native] = value
			continue
		}
		arguments[key] = value
	}
}

// popExtra removes and returns one option, honoring both the snake_case
// and native spellings.
func popExtra(extra map[string]any, names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := extra[name]; ok {
			delete(extra, name)
			return v, true
		}
	}
	return nil, false
}

// copyExtra clones the options map so adapters can pop from it freely.
func copyExtra(extra map[string]any) map[string]any {
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// newestMatch returns the lexically greatest directory matching pattern,
// which for versioned extension directories is the newest install.
func newestMatch(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}
