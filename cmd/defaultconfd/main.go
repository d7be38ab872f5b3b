// Command defaultconfd is the long-running daemon that maintains a
// single default gateway per address family in the kernel forwarding
// table, reconciled against an operator-maintained candidate set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/config"
	"github.com/kuuji/defaultconfd/internal/control"
	"github.com/kuuji/defaultconfd/internal/netlinkx"
	"github.com/kuuji/defaultconfd/internal/statestore"
	"github.com/kuuji/defaultconfd/internal/supervisor"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	flagConfigPath string
	flagSocketPath string
	flagVerbose    bool
	logger         *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "defaultconfd",
	Short: "Maintain the kernel default gateway from a policy-ranked candidate set",
	Long: `defaultconfd watches the kernel's link, address, and route tables over
netlink and keeps the default route for each address family pointed at
whichever administrator- or protocol-supplied candidate gateway current
policy and live reachability select.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagSocketPath, "control-socket", control.DefaultSocketPath, "path to the control socket")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the defaultconfd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := statestore.WritePID(cfg.PIDPath); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}

	client, err := netlinkx.NewClient(logger)
	if err != nil {
		return fmt.Errorf("connecting to netlink: %w", err)
	}
	defer client.Close()

	store := statestore.New(cfg.StatePath)
	sup := supervisor.New(client, store, cfg, logger)

	ctrl := control.NewServer(flagSocketPath, sup.Status, sup.ReloadState, logger)
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	defer ctrl.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("defaultconfd starting", "config", flagConfigPath, "state", cfg.StatePath, "fib", cfg.FIB)
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	logger.Info("defaultconfd shutting down")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
