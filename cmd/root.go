// Package cmd implements the relay CLI: a headless chat runner that spawns
// the configured provider, streams its output to the terminal, and answers
// permission requests through an interactive prompt.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/relay/internal/config"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/permission"
	"github.com/zjrosen/relay/internal/session"
	"github.com/zjrosen/relay/internal/tracing"

	// Register providers.
	_ "github.com/zjrosen/relay/internal/client/providers/claude"
	_ "github.com/zjrosen/relay/internal/client/providers/codex"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "relay",
	Short:   "Headless chat with an AI coding agent",
	Long: `Relay coordinates a conversation with an AI agent subprocess (Claude Code
or Codex) and brokers its tool permission requests. Prompts are read from
stdin, one per line; assistant output streams to stdout.`,
	Version: version,
	RunE:    runChat,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/relay/config.yaml)")
	rootCmd.Flags().String("provider", "",
		"agent provider: claude or codex")
	rootCmd.Flags().String("model", "",
		"model override for the provider")
	rootCmd.Flags().String("cwd", "",
		"working directory for the agent (default: current directory)")
	rootCmd.Flags().String("permission-mode", "",
		"permission mode: default, acceptEdits, plan, bypassPermissions")
	rootCmd.Flags().Bool("debug", false,
		"log to stderr instead of the log file")

	_ = viper.BindPFlag("provider.name", rootCmd.Flags().Lookup("provider"))
	_ = viper.BindPFlag("provider.model", rootCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("provider.permission_mode", rootCmd.Flags().Lookup("permission-mode"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("provider.name", defaults.Provider.Name)
	viper.SetDefault("session.launch_timeout_seconds", defaults.Session.LaunchTimeoutSeconds)
	viper.SetDefault("session.coalesce_millis", defaults.Session.CoalesceMillis)
	viper.SetDefault("permission.ipc_dir", defaults.Permission.IPCDir)
	viper.SetDefault("permission.poll_millis", defaults.Permission.PollMillis)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("log_file", defaults.LogFile)

	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	default:
		// Config lookup order:
		// 1. .relay/config.yaml (current directory)
		// 2. ~/.config/relay/config.yaml (user config)
		if _, err := os.Stat(filepath.Join(".relay", "config.yaml")); err == nil {
			viper.SetConfigFile(filepath.Join(".relay", "config.yaml"))
			break
		}
		home, _ := os.UserHomeDir()
		configDir := filepath.Join(home, ".config", "relay")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				defaultPath := filepath.Join(configDir, "config.yaml")
				if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
					viper.SetConfigFile(defaultPath)
				}
			}
		}
	}

	_ = viper.ReadInConfig()
	_ = viper.Unmarshal(&cfg)
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
	}
	cwd, err := filepath.Abs(cwd)
	if err != nil {
		return fmt.Errorf("resolving cwd: %w", err)
	}

	debug, _ := cmd.Flags().GetBool("debug")
	if os.Getenv("RELAY_DEBUG") != "" {
		debug = true
	}
	if debug {
		log.InitWithWriter(os.Stderr)
	} else {
		logPath := cfg.LogFile
		if logPath == "" {
			logPath = config.DefaultLogFilePath()
		}
		closeLog, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing log: %w", err)
		}
		defer closeLog()
	}

	traces, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() { _ = traces.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	con := newConsole(os.Stdin, os.Stdout)
	surface := &consoleSurface{con: con}

	ipcDir := os.Getenv("RELAY_IPC_DIR")
	if ipcDir == "" {
		ipcDir = cfg.Permission.IPCDir
	}
	if ipcDir == "" {
		ipcDir = config.DefaultIPCDir()
	}
	perms := permission.NewService(ipcDir,
		permission.WithFallback(surface),
		permission.WithPollInterval(cfg.Permission.PollInterval()),
		permission.WithIdleTimeout(cfg.Permission.IdleTimeout()),
		permission.WithDirWatch(cfg.Permission.Watch()),
	)
	perms.Surfaces().Register(cwd, surface)
	go perms.Run(ctx)

	registry := session.NewRegistry()
	mgr := session.NewManager(session.Options{
		WorkDir:         cwd,
		Provider:        cfg.Provider.ClientType(),
		Model:           cfg.Provider.Model,
		ReasoningEffort: cfg.Provider.ReasoningEffort,
		IPCDir:          ipcDir,
		LaunchTimeout:   cfg.Session.LaunchTimeout(),
		CoalesceEvery:   cfg.Session.CoalesceInterval(),
		History:         &session.JSONLHistory{Root: cfg.Session.HistoryDir},
		Registry:        registry,
	})
	defer mgr.Close()
	mgr.SetPermissionMode(cfg.Provider.Mode())

	out := newRenderer(os.Stdout)
	mgr.SetListener(out.listen)

	fmt.Fprintf(os.Stdout, "relay %s: provider %s in %s\n", version, cfg.Provider.ClientType(), cwd)

	if err := <-mgr.Launch(); err != nil {
		return fmt.Errorf("launching %s: %w", cfg.Provider.ClientType(), err)
	}
	perms.Open(mgr.ChannelID())

	// First Ctrl-C interrupts the running turn, second exits.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		<-mgr.Interrupt()
		out.signalIdle()
		<-sigs
		cancel()
		os.Exit(130)
	}()

	return chatLoop(ctx, cmd, mgr, con, out, traces)
}

func chatLoop(ctx context.Context, cmd *cobra.Command, mgr *session.Manager, con *console, out *renderer, traces *tracing.Provider) error {
	for {
		fmt.Fprint(cmd.OutOrStdout(), "> ")
		line, ok := con.ReadLine(ctx)
		if !ok {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil
		case "/new":
			if err := <-mgr.NewSession(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "new session: %v\n", err)
			}
			continue
		case "/restart":
			if err := <-mgr.Restart(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "restart: %v\n", err)
			}
			continue
		}

		turnCtx, span := traces.Tracer().Start(ctx, tracing.SpanSessionTurn)
		span.SetAttributes(
			attribute.String(tracing.AttrSessionID, mgr.State().SessionID),
			attribute.String(tracing.AttrClientType, string(mgr.State().Provider)),
		)
		if err := <-mgr.Send(line); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "send: %v\n", err)
			span.End()
			continue
		}
		out.waitIdle(turnCtx)
		if usage := mgr.State().Usage; usage != nil && !usage.IsZero() {
			span.SetAttributes(
				attribute.Int(tracing.AttrInputTokens, usage.InputTokens),
				attribute.Int(tracing.AttrOutputTokens, usage.OutputTokens),
			)
		}
		span.End()
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
