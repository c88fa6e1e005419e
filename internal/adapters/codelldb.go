package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mcpdap/internal/dap"
)

// CodeLLDB drives the LLDB-based debugger for Rust, C, and C++. The bare
// codelldb binary speaks DAP on stdio. Rust projects can be built through
// cargo first, with the produced binary fed to launch.
type CodeLLDB struct {
	binaryPath string
}

// NewCodeLLDB builds the Rust/C/C++ adapter. binaryPath overrides
// discovery through the VS Code extension directories.
func NewCodeLLDB(binaryPath string) *CodeLLDB {
	return &CodeLLDB{binaryPath: binaryPath}
}

func (c *CodeLLDB) Name() string { return "codelldb" }
func (c *CodeLLDB) ID() string   { return "lldb" }

func (c *CodeLLDB) Extensions() []string {
	return []string{".rs", ".c", ".cpp", ".cc", ".cxx", ".h", ".hpp"}
}

func (c *CodeLLDB) Aliases() []string { return []string{"lldb", "rust"} }

func (c *CodeLLDB) Describe() string {
	return "Rust/C/C++ debugger (LLDB). Use for Rust with cargo_args or pre-built binaries. " +
		"In repl evaluation, prefix Rust expressions with '?'; bare input is treated as an LLDB command."
}

// FindBinary locates codelldb: explicit path, the vadimcn.vscode-lldb
// extension (newest version first), then PATH.
func (c *CodeLLDB) FindBinary() (string, error) {
	if c.binaryPath != "" {
		if info, err := os.Stat(c.binaryPath); err == nil && !info.IsDir() {
			return c.binaryPath, nil
		}
		return "", fmt.Errorf("%w: codelldb not found at %q", ErrNotFound, c.binaryPath)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	extensionDirs := []string{
		filepath.Join(home, ".vscode", "extensions"),
		filepath.Join(home, ".vscode-server", "extensions"),
		filepath.Join(home, ".vscode-oss", "extensions"),
	}
	for _, dir := range extensionDirs {
		for _, match := range newestMatch(filepath.Join(dir, "vadimcn.vscode-lldb-*")) {
			candidate := filepath.Join(match, "adapter", "codelldb")
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}

	if path, err := exec.LookPath("codelldb"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf(
		"%w: codelldb not found; install the vadimcn.vscode-lldb VS Code extension "+
			"or put codelldb on PATH", ErrNotFound)
}

func (c *CodeLLDB) Info() map[string]any {
	info := map[string]any{
		"name":               c.Name(),
		"adapter_id":         c.ID(),
		"description":        c.Describe(),
		"file_extensions":    c.Extensions(),
		"aliases":            c.Aliases(),
		"supports_cargo":     true,
		"cargo_args_example": []string{"build", "--bin", "myapp"},
		"launch_options": []string{
			"cargo_args", "source_languages", "init_commands",
			"pre_run_commands", "post_run_commands", "exit_commands",
		},
		"attach_options": []string{"pid", "program", "stop_on_entry", "wait_for"},
	}
	binary, err := c.FindBinary()
	if err != nil {
		info["codelldb_path"] = nil
		info["install_instructions"] = "Install the CodeLLDB VS Code extension (vadimcn.vscode-lldb)"
		return info
	}
	info["codelldb_path"] = binary
	return info
}

func (c *CodeLLDB) CreateTransport(spec TransportSpec) (dap.Transport, error) {
	binary, err := c.FindBinary()
	if err != nil {
		return nil, err
	}
	// codelldb with no arguments runs in stdio DAP mode.
	return dap.NewStdioTransport([]string{binary}, spec.Dir, spec.Env), nil
}

func (c *CodeLLDB) LaunchArguments(spec LaunchSpec) (map[string]any, error) {
	arguments := baseLaunchArguments(spec)
	arguments["type"] = "lldb"
	arguments["request"] = "launch"
	arguments["sourceLanguages"] = []string{"rust"}

	extra := copyExtra(spec.Extra)
	if v, ok := popExtra(extra, "source_languages", "sourceLanguages"); ok {
		arguments["sourceLanguages"] = v
	}
	applyExtra(arguments, extra, map[string]string{
		"init_commands":     "initCommands",
		"pre_run_commands":  "preRunCommands",
		"post_run_commands": "postRunCommands",
		"exit_commands":     "exitCommands",
	})
	return arguments, nil
}

func (c *CodeLLDB) AttachArguments(spec AttachSpec) (map[string]any, error) {
	extra := copyExtra(spec.Extra)
	pid, ok := popExtra(extra, "pid", "process_id", "processId")
	if !ok {
		return nil, fmt.Errorf("%w: codelldb attach requires pid", ErrInvalidArguments)
	}
	arguments := map[string]any{
		"type":    "lldb",
		"request": "attach",
		"pid":     pid,
	}
	applyExtra(arguments, extra, map[string]string{
		"stop_on_entry": "stopOnEntry",
		"wait_for":      "waitFor",
	})
	return arguments, nil
}

// cargoMessage is the subset of cargo's --message-format=json output
// needed to find built executables.
type cargoMessage struct {
	Reason string `json:"reason"`
	Target struct {
		Kind []string `json:"kind"`
	} `json:"target"`
	Filenames []string `json:"filenames"`
}

// BuildWithCargo runs cargo with JSON message output and returns the path
// of the built executable.
func (c *CodeLLDB) BuildWithCargo(ctx context.Context, cargoArgs []string, dir string, env []string) (string, error) {
	args := append(append([]string{}, cargoArgs...), "--message-format=json")
	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = "unknown error"
			}
			return "", fmt.Errorf("%w: cargo build failed: %s", ErrInvalidArguments, detail)
		}
		return "", fmt.Errorf("%w: cargo not found, is Rust installed?", ErrNotFound)
	}

	executable, err := parseCargoExecutable(&stdout)
	if err != nil {
		return "", err
	}
	return executable, nil
}

// parseCargoExecutable scans compiler-artifact messages for a bin or test
// target's executable, skipping library artifacts.
func parseCargoExecutable(output *bytes.Buffer) (string, error) {
	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	executable := ""
	for scanner.Scan() {
		var msg cargoMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Reason != "compiler-artifact" {
			continue
		}
		if !containsAny(msg.Target.Kind, "bin", "test") {
			continue
		}
		for _, filename := range msg.Filenames {
			if strings.HasSuffix(filename, ".rlib") ||
				strings.HasSuffix(filename, ".rmeta") ||
				strings.HasSuffix(filename, ".d") {
				continue
			}
			executable = filename
			break
		}
	}
	if executable == "" {
		return "", fmt.Errorf(
			"%w: no executable in cargo output; build a binary target, not a library",
			ErrInvalidArguments)
	}
	return executable, nil
}

func containsAny(haystack []string, needles ...string) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if h == n {
				return true
			}
		}
	}
	return false
}

// CargoLaunchArguments builds the project with cargo and returns launch
// arguments for the produced executable.
func (c *CodeLLDB) CargoLaunchArguments(ctx context.Context, cargoArgs []string, spec LaunchSpec) (map[string]any, error) {
	executable, err := c.BuildWithCargo(ctx, cargoArgs, spec.Cwd, flattenEnv(spec.Env))
	if err != nil {
		return nil, err
	}
	spec.Program = executable
	return c.LaunchArguments(spec)
}

func flattenEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
