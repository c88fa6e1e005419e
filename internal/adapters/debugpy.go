package adapters

import (
	"fmt"
	"os"
	"os/exec"

	"mcpdap/internal/dap"
)

// Debugpy drives the Python debugger. The adapter itself runs as
// `python -m debugpy.adapter` speaking DAP on stdio; attach mode connects
// to a debugpy server the user started with `debugpy --listen`.
type Debugpy struct {
	pythonPath string
}

// NewDebugpy builds the Python adapter. pythonPath overrides interpreter
// discovery; empty means "python3 from PATH".
func NewDebugpy(pythonPath string) *Debugpy {
	return &Debugpy{pythonPath: pythonPath}
}

func (d *Debugpy) Name() string { return "debugpy" }
func (d *Debugpy) ID() string   { return "debugpy" }

func (d *Debugpy) Extensions() []string { return []string{".py", ".pyw"} }
func (d *Debugpy) Aliases() []string    { return []string{"python", "python3"} }

func (d *Debugpy) Describe() string {
	return "Python debugger. Use for .py files."
}

// FindPython resolves the interpreter used to run the adapter module.
func (d *Debugpy) FindPython() (string, error) {
	if d.pythonPath != "" {
		if info, err := os.Stat(d.pythonPath); err == nil && !info.IsDir() {
			return d.pythonPath, nil
		}
		return "", fmt.Errorf("%w: python not found at %q", ErrNotFound, d.pythonPath)
	}
	for _, candidate := range []string{"python3", "python"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no python interpreter on PATH", ErrNotFound)
}

func (d *Debugpy) Info() map[string]any {
	info := map[string]any{
		"name":            d.Name(),
		"adapter_id":      d.ID(),
		"description":     d.Describe(),
		"file_extensions": d.Extensions(),
		"aliases":         d.Aliases(),
		"launch_options":  []string{"module", "just_my_code", "django", "flask"},
		"attach_options":  []string{"just_my_code"},
	}
	python, err := d.FindPython()
	if err != nil {
		info["python_path"] = nil
		info["install_instructions"] = "Install debugpy: pip install debugpy"
		return info
	}
	info["python_path"] = python
	return info
}

func (d *Debugpy) CreateTransport(spec TransportSpec) (dap.Transport, error) {
	if spec.Host != "" && spec.Port != 0 {
		return dap.NewSocketTransport(spec.Host, spec.Port), nil
	}
	python, err := d.FindPython()
	if err != nil {
		return nil, err
	}
	return dap.NewStdioTransport([]string{python, "-m", "debugpy.adapter"}, spec.Dir, spec.Env), nil
}

func (d *Debugpy) LaunchArguments(spec LaunchSpec) (map[string]any, error) {
	arguments := baseLaunchArguments(spec)
	// internalConsole keeps everything headless; redirectOutput routes the
	// debuggee's stdout/stderr through DAP output events.
	arguments["console"] = "internalConsole"
	arguments["redirectOutput"] = true

	extra := copyExtra(spec.Extra)
	if module, ok := popExtra(extra, "module"); ok {
		arguments["module"] = module
		delete(arguments, "program")
	}
	applyExtra(arguments, extra, map[string]string{
		"just_my_code": "justMyCode",
		"python_path":  "python",
	})
	return arguments, nil
}

func (d *Debugpy) AttachArguments(spec AttachSpec) (map[string]any, error) {
	arguments := map[string]any{
		"connect": map[string]any{
			"host": spec.Host,
			"port": spec.Port,
		},
	}
	applyExtra(arguments, copyExtra(spec.Extra), map[string]string{
		"just_my_code": "justMyCode",
	})
	return arguments, nil
}
