package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/statestore"
)

var (
	disableFamily   string
	disableLink     string
	disableProtocol string
)

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Suppress every candidate gateway matching the given pattern",
	RunE:  runDisable,
}

func init() {
	selectFlags(disableCmd, &disableFamily, &disableLink, &disableProtocol)
}

func runDisable(cmd *cobra.Command, args []string) error {
	sel, err := buildSelect(disableFamily, disableLink, disableProtocol)
	if err != nil {
		return err
	}
	statePath, pidPath, err := resolvedPaths()
	if err != nil {
		return err
	}
	store := statestore.New(statePath)
	_, err = store.Update(pidPath, func(s *gateway.State) error {
		s.Disable(sel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	fmt.Println("disabled")
	return nil
}
