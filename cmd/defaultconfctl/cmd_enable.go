package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/statestore"
)

var (
	enableFamily   string
	enableLink     string
	enableProtocol string
)

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Lift a previously disabled pattern",
	RunE:  runEnable,
}

func init() {
	selectFlags(enableCmd, &enableFamily, &enableLink, &enableProtocol)
}

func runEnable(cmd *cobra.Command, args []string) error {
	sel, err := buildSelect(enableFamily, enableLink, enableProtocol)
	if err != nil {
		return err
	}
	statePath, pidPath, err := resolvedPaths()
	if err != nil {
		return err
	}
	store := statestore.New(statePath)
	_, err = store.Update(pidPath, func(s *gateway.State) error {
		s.Enable(sel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	fmt.Println("enabled")
	return nil
}
