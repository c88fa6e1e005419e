package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mcpdap/internal/config"
	"mcpdap/internal/logging"
	"mcpdap/internal/mcpserver"
	"mcpdap/internal/session"
)

// version is set via -ldflags at release time.
var version = "dev"

var (
	// Global flags
	configPath  string
	verbose     bool
	logFile     string
	watchConfig bool

	// Loaded in PersistentPreRunE
	cfg      *config.Config
	logger   *zap.Logger
	logLevel zap.AtomicLevel
)

var rootCmd = &cobra.Command{
	Use:   "mcpdap",
	Short: "MCP server bridging AI agents to Debug Adapter Protocol debuggers",
	Long: `mcpdap exposes interactive debugging as MCP tools over stdio.

It speaks the Debug Adapter Protocol to debugpy (Python), delve (Go),
js-debug (Node.js) and CodeLLDB (Rust/C/C++), and presents launch,
breakpoint, stepping, inspection and evaluation operations as debug_*
tools to any MCP client.

Run without arguments to serve MCP on stdin/stdout.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		opts := logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File}
		if verbose {
			opts.Level = "debug"
		}
		if logFile != "" {
			opts.File = logFile
		}
		logger, logLevel, err = logging.New(opts)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "Show supported debug adapters and their availability",
	Long: `Lists every registered adapter with its description, aliases,
file extensions and discovered binary paths. Adapters whose backing
tool is missing include install instructions.`,
	RunE: showAdapters,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mcpdap version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcpdap %s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration and its sources",
	RunE:  showConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./mcpdap.yaml, then ~/.config/mcpdap/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.Flags().BoolVar(&watchConfig, "watch-config", false, "Reload the config file when it changes")

	rootCmd.AddCommand(adaptersCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := session.NewManager(cfg.BuildRegistry(), logger.Named("session"))
	srv := mcpserver.New("mcpdap", version, manager, cfg, configPath, logger.Named("mcp"))

	if watchConfig {
		go config.Watch(ctx, configPath, logger.Named("config"), func(updated *config.Config) {
			srv.SetConfig(updated)
			logging.SetLevel(logLevel, updated.Logging.Level)
		})
	}

	logger.Info("serving MCP on stdio",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.String("default_adapter", cfg.DefaultAdapter))

	return srv.Serve(ctx, os.Stdin, os.Stdout)
}

func showAdapters(cmd *cobra.Command, args []string) error {
	registry := cfg.BuildRegistry()
	report := map[string]any{
		"default_adapter": cfg.DefaultAdapter,
		"adapters":        registry.Infos(),
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func showConfig(cmd *cobra.Command, args []string) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	for _, source := range cfg.Sources(configPath) {
		fmt.Printf("# %s\n", source)
	}
	fmt.Print(string(out))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
