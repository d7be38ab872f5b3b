// Command defaultconfctl is the CLI front-end for defaultconfd: it
// mutates the persisted candidate-gateway set, reads it back for
// display, and asks a running daemon to reload and reconcile.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/config"
	"github.com/kuuji/defaultconfd/internal/control"
)

var (
	flagStatePath  string
	flagPIDPath    string
	flagConfigPath string
	flagSocketPath string
)

var rootCmd = &cobra.Command{
	Use:   "defaultconfctl",
	Short: "Inspect and edit the defaultconfd candidate gateway set",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", config.DefaultPath, "path to daemon config file, used to find the state file")
	rootCmd.PersistentFlags().StringVar(&flagStatePath, "state", "", "path to the state file (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&flagPIDPath, "pid-file", "", "path to the daemon pid file (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&flagSocketPath, "control-socket", control.DefaultSocketPath, "path to the daemon's control socket")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(getDefaultCmd)
	rootCmd.AddCommand(signalDaemonCmd)
}

// resolvedPaths loads the config (if present) and applies any explicit
// --state/--pid-file overrides, giving flags precedence over the
// config file and the config file precedence over built-in defaults.
func resolvedPaths() (statePath, pidPath string, err error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return "", "", fmt.Errorf("loading config: %w", err)
	}
	statePath = cfg.StatePath
	if flagStatePath != "" {
		statePath = flagStatePath
	}
	pidPath = cfg.PIDPath
	if flagPIDPath != "" {
		pidPath = flagPIDPath
	}
	return statePath, pidPath, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "defaultconfctl:", err)
		os.Exit(1)
	}
}
