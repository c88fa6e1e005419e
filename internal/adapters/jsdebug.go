package adapters

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"mcpdap/internal/dap"
)

// JsDebug drives the vscode-js-debug DAP server for Node.js programs.
// It spawns `node dapDebugServer.js <port>` and connects over TCP; attach
// targets a process started with --inspect or --inspect-brk.
type JsDebug struct {
	serverPath string
	nodePath   string
}

// NewJsDebug builds the JavaScript/TypeScript adapter. serverPath points
// at dapDebugServer.js and nodePath at the Node binary; empty fields fall
// back to discovery.
func NewJsDebug(serverPath, nodePath string) *JsDebug {
	return &JsDebug{serverPath: serverPath, nodePath: nodePath}
}

func (j *JsDebug) Name() string { return "jsdebug" }
func (j *JsDebug) ID() string   { return "pwa-node" }

func (j *JsDebug) Extensions() []string {
	return []string{".js", ".ts", ".mjs", ".cjs", ".mts", ".cts"}
}

func (j *JsDebug) Aliases() []string {
	return []string{"node", "javascript", "typescript", "js", "ts"}
}

func (j *JsDebug) Describe() string {
	return "JavaScript/TypeScript debugger (Node.js). Use for .js/.ts files with Node.js runtime."
}

// FindNode locates the Node.js binary.
func (j *JsDebug) FindNode() (string, error) {
	if j.nodePath != "" {
		if info, err := os.Stat(j.nodePath); err == nil && !info.IsDir() {
			return j.nodePath, nil
		}
		return "", fmt.Errorf("%w: node not found at %q", ErrNotFound, j.nodePath)
	}
	if path, err := exec.LookPath("node"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: node not found on PATH", ErrNotFound)
}

// FindServer locates dapDebugServer.js: explicit path, standalone install
// locations, VS Code extension directories (newest version first), then
// the system-level VS Code bundle.
func (j *JsDebug) FindServer() (string, error) {
	if j.serverPath != "" {
		if info, err := os.Stat(j.serverPath); err == nil && !info.IsDir() {
			return j.serverPath, nil
		}
		return "", fmt.Errorf("%w: js-debug not found at %q", ErrNotFound, j.serverPath)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	standalone := []string{
		filepath.Join(home, ".local", "share", "mcpdap", "js-debug", "src", "dapDebugServer.js"),
		filepath.Join(home, ".local", "share", "js-debug-dap", "js-debug", "src", "dapDebugServer.js"),
		filepath.Join(home, "js-debug", "src", "dapDebugServer.js"),
	}
	for _, candidate := range standalone {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	extensionDirs := []string{
		filepath.Join(home, ".vscode", "extensions"),
		filepath.Join(home, ".vscode-server", "extensions"),
		filepath.Join(home, ".vscode-oss", "extensions"),
	}
	for _, dir := range extensionDirs {
		for _, match := range newestMatch(filepath.Join(dir, "ms-vscode.js-debug-*")) {
			server := filepath.Join(match, "src", "dapDebugServer.js")
			if info, err := os.Stat(server); err == nil && !info.IsDir() {
				return server, nil
			}
		}
	}

	system := "/opt/visual-studio-code/resources/app/extensions/ms-vscode.js-debug/src/dapDebugServer.js"
	if info, err := os.Stat(system); err == nil && !info.IsDir() {
		return system, nil
	}

	return "", fmt.Errorf(
		"%w: js-debug (dapDebugServer.js) not found; download js-debug-dap from "+
			"https://github.com/microsoft/vscode-js-debug/releases and extract to "+
			"~/.local/share/mcpdap/js-debug/", ErrNotFound)
}

func (j *JsDebug) Info() map[string]any {
	info := map[string]any{
		"name":            j.Name(),
		"adapter_id":      j.ID(),
		"description":     j.Describe(),
		"file_extensions": j.Extensions(),
		"aliases":         j.Aliases(),
		"launch_options": []string{
			"runtime_executable", "runtime_args", "source_maps",
			"out_files", "skip_files", "resolve_source_map_locations",
		},
		"attach_options": []string{"source_maps", "skip_files", "restart"},
	}
	if node, err := j.FindNode(); err == nil {
		info["node_path"] = node
	} else {
		info["node_path"] = nil
	}
	server, err := j.FindServer()
	if err != nil {
		info["jsdebug_path"] = nil
		info["install_instructions"] = "Download js-debug-dap from " +
			"https://github.com/microsoft/vscode-js-debug/releases and extract to " +
			"~/.local/share/mcpdap/js-debug/"
		return info
	}
	info["jsdebug_path"] = server
	return info
}

func (j *JsDebug) CreateTransport(spec TransportSpec) (dap.Transport, error) {
	node, err := j.FindNode()
	if err != nil {
		return nil, err
	}
	server, err := j.FindServer()
	if err != nil {
		return nil, err
	}
	// dapDebugServer.js takes the listen port as its first argument.
	return dap.NewSubprocessSocketTransport(
		[]string{node, server}, spec.Dir, spec.Env,
		dap.WithPortArg(dap.BarePort),
	), nil
}

func (j *JsDebug) LaunchArguments(spec LaunchSpec) (map[string]any, error) {
	arguments := baseLaunchArguments(spec)
	arguments["type"] = "pwa-node"
	arguments["request"] = "launch"
	arguments["console"] = "internalConsole"
	arguments["sourceMaps"] = true

	extra := copyExtra(spec.Extra)
	if v, ok := popExtra(extra, "source_maps", "sourceMaps"); ok {
		arguments["sourceMaps"] = v
	}
	applyExtra(arguments, extra, map[string]string{
		"runtime_executable":           "runtimeExecutable",
		"runtime_args":                 "runtimeArgs",
		"out_files":                    "outFiles",
		"skip_files":                   "skipFiles",
		"resolve_source_map_locations": "resolveSourceMapLocations",
	})
	return arguments, nil
}

func (j *JsDebug) AttachArguments(spec AttachSpec) (map[string]any, error) {
	arguments := map[string]any{
		"type":       "pwa-node",
		"request":    "attach",
		"address":    spec.Host,
		"port":       spec.Port,
		"sourceMaps": true,
	}
	extra := copyExtra(spec.Extra)
	if v, ok := popExtra(extra, "source_maps", "sourceMaps"); ok {
		arguments["sourceMaps"] = v
	}
	applyExtra(arguments, extra, map[string]string{
		"skip_files": "skipFiles",
	})
	return arguments, nil
}
