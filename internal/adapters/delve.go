package adapters

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"mcpdap/internal/dap"
)

// Delve drives the Go debugger. It spawns `dlv dap --listen=host:port`
// and connects over TCP. Launch supports debug (build a package), test
// (build a test binary), and exec (debug a pre-built binary) modes.
type Delve struct {
	dlvPath string
}

// NewDelve builds the Go adapter. dlvPath overrides binary discovery.
func NewDelve(dlvPath string) *Delve {
	return &Delve{dlvPath: dlvPath}
}

func (d *Delve) Name() string { return "delve" }
func (d *Delve) ID() string   { return "go" }

func (d *Delve) Extensions() []string { return []string{".go"} }
func (d *Delve) Aliases() []string    { return []string{"go", "godlv", "dlv"} }

func (d *Delve) Describe() string {
	return "Go debugger (Delve). Use for .go files. Supports debug, test, and exec modes."
}

// FindDlv locates the dlv binary: explicit path, then GOBIN and
// GOPATH/bin, then PATH.
func (d *Delve) FindDlv() (string, error) {
	if d.dlvPath != "" {
		if info, err := os.Stat(d.dlvPath); err == nil && !info.IsDir() {
			return d.dlvPath, nil
		}
		return "", fmt.Errorf("%w: dlv not found at %q", ErrNotFound, d.dlvPath)
	}

	if gobin := findGoBin(); gobin != "" {
		candidate := filepath.Join(gobin, "dlv")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath("dlv"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf(
		"%w: dlv not found; install with: go install github.com/go-delve/delve/cmd/dlv@latest",
		ErrNotFound)
}

func findGoBin() string {
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		if info, err := os.Stat(gobin); err == nil && info.IsDir() {
			return gobin
		}
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		candidate := filepath.Join(gopath, "bin")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, "go", "bin")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}

func (d *Delve) Info() map[string]any {
	info := map[string]any{
		"name":            d.Name(),
		"adapter_id":      d.ID(),
		"description":     d.Describe(),
		"file_extensions": d.Extensions(),
		"aliases":         d.Aliases(),
		"supported_modes": map[string][]string{
			"launch": {"debug", "test", "exec"},
			"attach": {"local", "remote"},
		},
		"launch_options": []string{"mode", "build_flags", "substitute_path", "show_global_variables"},
		"attach_options": []string{"mode", "process_id", "substitute_path"},
	}
	dlv, err := d.FindDlv()
	if err != nil {
		info["dlv_path"] = nil
		info["install_instructions"] = "Install Delve: go install github.com/go-delve/delve/cmd/dlv@latest"
		return info
	}
	info["dlv_path"] = dlv
	return info
}

func (d *Delve) CreateTransport(spec TransportSpec) (dap.Transport, error) {
	dlv, err := d.FindDlv()
	if err != nil {
		return nil, err
	}
	return dap.NewSubprocessSocketTransport(
		[]string{dlv, "dap"}, spec.Dir, spec.Env,
		dap.WithPortArg(dap.ListenFlag),
	), nil
}

func (d *Delve) LaunchArguments(spec LaunchSpec) (map[string]any, error) {
	arguments := baseLaunchArguments(spec)
	arguments["request"] = "launch"

	extra := copyExtra(spec.Extra)
	mode := "debug"
	if v, ok := popExtra(extra, "mode"); ok {
		s, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("%w: delve mode must be a string", ErrInvalidArguments)
		}
		switch s {
		case "debug", "test", "exec":
			mode = s
		default:
			return nil, fmt.Errorf("%w: delve launch mode %q (want debug, test, or exec)", ErrInvalidArguments, s)
		}
	}
	arguments["mode"] = mode

	applyExtra(arguments, extra, map[string]string{
		"build_flags":           "buildFlags",
		"substitute_path":       "substitutePath",
		"show_global_variables": "showGlobalVariables",
		"dlv_flags":             "dlvFlags",
	})
	return arguments, nil
}

func (d *Delve) AttachArguments(spec AttachSpec) (map[string]any, error) {
	extra := copyExtra(spec.Extra)
	mode := "local"
	if v, ok := popExtra(extra, "mode"); ok {
		if s, isString := v.(string); isString {
			mode = s
		}
	}

	arguments := map[string]any{
		"request": "attach",
		"mode":    mode,
	}
	switch mode {
	case "local":
		pid, ok := popExtra(extra, "process_id", "pid", "processId")
		if !ok {
			return nil, fmt.Errorf("%w: delve local attach requires process_id", ErrInvalidArguments)
		}
		arguments["processId"] = pid
	case "remote":
		arguments["host"] = spec.Host
		arguments["port"] = spec.Port
	default:
		return nil, fmt.Errorf("%w: delve attach mode %q (want local or remote)", ErrInvalidArguments, mode)
	}

	applyExtra(arguments, extra, map[string]string{
		"substitute_path": "substitutePath",
	})
	return arguments, nil
}
