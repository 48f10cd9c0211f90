package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/acp-go-sdk"
	"github.com/spf13/cobra"

	"github.com/suxxes/zed-claude-code-sub000/internal/bridge"
	"github.com/suxxes/zed-claude-code-sub000/internal/config"
	"github.com/suxxes/zed-claude-code-sub000/internal/event"
	"github.com/suxxes/zed-claude-code-sub000/internal/logging"
)

// runBridge serves the editor protocol on stdio until the editor hangs
// up or the process is signalled.
func runBridge(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if claudePath != "" {
		cfg.ClaudePath = claudePath
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		closeLog, err := logging.InitFile(level, cfg.LogFile)
		if err != nil {
			return err
		}
		defer closeLog()
	} else {
		logging.Init(logging.Config{Level: level, Output: os.Stderr})
	}

	unsub := event.SubscribeAll(func(e event.Event) {
		logging.Debug().Str("event", string(e.Type)).Interface("data", e.Data).Msg("bus event")
	})
	defer unsub()

	logging.Info().Str("version", Version).Str("cwd", workDir).Msg("bridge starting")

	agent := bridge.New(cfg)
	conn := acp.NewAgentSideConnection(agent, os.Stdout, os.Stdin)
	agent.SetAgentConnection(conn)
	defer agent.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-conn.Done():
		logging.Info().Msg("editor disconnected")
	case <-ctx.Done():
		logging.Info().Msg("shutting down on signal")
	}
	return nil
}
