// Package commands provides the CLI commands for the bridge.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel   string
	logFile    string
	claudePath string
)

var rootCmd = &cobra.Command{
	Use:   "zed-claude-code",
	Short: "Bridge between ACP editors and the Claude Code CLI",
	Long: `zed-claude-code connects editors speaking the Agent Client Protocol
to the Claude Code CLI. The editor launches it with stdio attached;
the protocol runs on stdout/stdin and logs go to stderr or a file.

File reads, writes and terminal commands requested by the model are
routed back through the editor, so unsaved buffers and editor-side
permissions are respected.`,
	Version: Version,
	RunE:    runBridge,
	// Stdout carries the protocol; cobra must not write to it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log to a file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&claudePath, "claude-path", "", "Path to the claude executable")

	rootCmd.SetVersionTemplate(fmt.Sprintf("zed-claude-code %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
