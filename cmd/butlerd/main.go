// Command butlerd watches git working directories and keeps their virtual
// branches, oplog snapshots and edit history in step with the files on disk.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gitbutler/butlerd/internal/config"
	"github.com/gitbutler/butlerd/internal/logging"
)

var (
	configPath string
	cfg        *config.Config
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

var rootCmd = &cobra.Command{
	Use:   "butlerd",
	Short: "Working-directory reconciliation daemon for git projects",
	Long: `butlerd watches registered git projects and reacts to changes:

- worktree edits are recorded as deltas and periodically snapshotted
- virtual branches are recalculated and streamed to dashboard clients
- HEAD, fetch and reflog activity is reported
- the oplog is pushed to the remote service when sync is enabled`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		logging.Configure(cfg.LoggingOptions())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $BUTLERD_HOME/butlerd.yaml)")
}

// fatalf prints an error and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
