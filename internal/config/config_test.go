package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DefaultAdapter != "debugpy" {
		t.Errorf("default adapter = %q", cfg.DefaultAdapter)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultAdapter != "debugpy" {
		t.Errorf("default adapter = %q", cfg.DefaultAdapter)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpdap.yaml")
	content := `
default_adapter: delve
adapters:
  delve:
    path: /opt/go/bin/dlv
  codelldb:
    enabled: false
logging:
  level: debug
  file: /tmp/mcpdap.log
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultAdapter != "delve" {
		t.Errorf("default adapter = %q", cfg.DefaultAdapter)
	}
	if cfg.Adapters["delve"].Path != "/opt/go/bin/dlv" {
		t.Errorf("delve path = %q", cfg.Adapters["delve"].Path)
	}
	if cfg.Adapters["codelldb"].IsEnabled() {
		t.Error("codelldb should be disabled")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.File != "/tmp/mcpdap.log" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("adapters: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MCPDAP_DEFAULT_ADAPTER", "jsdebug")
	t.Setenv("MCPDAP_LOG_LEVEL", "warn")
	t.Setenv("MCPDAP_DELVE_PATH", "/usr/local/bin/dlv")
	t.Setenv("MCPDAP_JSDEBUG_NODE_PATH", "/usr/bin/node")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultAdapter != "jsdebug" {
		t.Errorf("default adapter = %q", cfg.DefaultAdapter)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Adapters["delve"].Path != "/usr/local/bin/dlv" {
		t.Errorf("delve path = %q", cfg.Adapters["delve"].Path)
	}
	if cfg.Adapters["jsdebug"].NodePath != "/usr/bin/node" {
		t.Errorf("node path = %q", cfg.Adapters["jsdebug"].NodePath)
	}
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bad log level")
	}
}

func TestValidateRejectsUnknownAdapter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adapters["gdb"] = AdapterSettings{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown adapter")
	}
}

func TestAdapterSettingsFor(t *testing.T) {
	off := false
	cfg := DefaultConfig()
	cfg.Adapters = map[string]AdapterSettings{
		"debugpy":  {Path: "/usr/bin/python3"},
		"jsdebug":  {Path: "/opt/js-debug/dapDebugServer.js", NodePath: "/usr/bin/node"},
		"codelldb": {Enabled: &off},
	}

	settings := cfg.AdapterSettingsFor()
	if settings.PythonPath != "/usr/bin/python3" {
		t.Errorf("python path = %q", settings.PythonPath)
	}
	if settings.JsDebugPath != "/opt/js-debug/dapDebugServer.js" || settings.NodePath != "/usr/bin/node" {
		t.Errorf("jsdebug paths = %q, %q", settings.JsDebugPath, settings.NodePath)
	}
	if len(settings.Disabled) != 1 || settings.Disabled[0] != "codelldb" {
		t.Errorf("disabled = %v", settings.Disabled)
	}

	registry := cfg.BuildRegistry()
	if _, err := registry.Resolve("codelldb"); err == nil {
		t.Error("disabled adapter still registered")
	}
	if _, err := registry.Resolve("delve"); err != nil {
		t.Errorf("delve missing: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.DefaultAdapter = "codelldb"
	cfg.Adapters = map[string]AdapterSettings{
		"codelldb": {Path: "/opt/codelldb/adapter/codelldb"},
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DefaultAdapter != "codelldb" {
		t.Errorf("default adapter = %q", loaded.DefaultAdapter)
	}
	if loaded.Adapters["codelldb"].Path != "/opt/codelldb/adapter/codelldb" {
		t.Errorf("codelldb path = %q", loaded.Adapters["codelldb"].Path)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpdap.yaml")
	if err := os.WriteFile(path, []byte("default_adapter: debugpy\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, path, nil, func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("default_adapter: delve\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.DefaultAdapter != "delve" {
			t.Errorf("reloaded default adapter = %q", cfg.DefaultAdapter)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change never observed")
	}

	cancel()
	<-done
}

func TestWatchCoalescesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpdap.yaml")
	if err := os.WriteFile(path, []byte("default_adapter: debugpy\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Config, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, path, nil, func(cfg *Config) {
			reloads <- cfg
		})
	}()

	time.Sleep(100 * time.Millisecond)
	for _, adapter := range []string{"delve", "jsdebug", "codelldb"} {
		if err := os.WriteFile(path, []byte("default_adapter: "+adapter+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case cfg := <-reloads:
		if cfg.DefaultAdapter != "codelldb" {
			t.Errorf("reload saw %q, want last write", cfg.DefaultAdapter)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("burst never reloaded")
	}

	// The whole burst fits in one debounce window; no second reload
	// should follow.
	select {
	case cfg := <-reloads:
		t.Errorf("extra reload with default_adapter=%q", cfg.DefaultAdapter)
	case <-time.After(3 * watchDebounce):
	}

	cancel()
	<-done
}
