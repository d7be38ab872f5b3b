package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/statestore"
)

var signalDaemonCmd = &cobra.Command{
	Use:   "signal-daemon",
	Short: "Ask a running defaultconfd to reload state and reconcile",
	Long: `Sends SIGUSR1 to the daemon named by the pid file. defaultconfd's
StateStore.Update calls this automatically after a write that actually
changes the file; this command exists for operators who edited the
state file by hand or want to force a reconciliation pass.`,
	RunE: runSignalDaemon,
}

func runSignalDaemon(cmd *cobra.Command, args []string) error {
	_, pidPath, err := resolvedPaths()
	if err != nil {
		return err
	}
	if err := statestore.SignalDaemon(pidPath); err != nil {
		return fmt.Errorf("signalling daemon: %w", err)
	}
	fmt.Println("signalled")
	return nil
}
