package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/statestore"
)

var (
	removeFamily   string
	removeLink     string
	removeProtocol string
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove every candidate gateway matching the given pattern",
	RunE:  runRemove,
}

func init() {
	selectFlags(removeCmd, &removeFamily, &removeLink, &removeProtocol)
}

func runRemove(cmd *cobra.Command, args []string) error {
	sel, err := buildSelect(removeFamily, removeLink, removeProtocol)
	if err != nil {
		return err
	}
	statePath, pidPath, err := resolvedPaths()
	if err != nil {
		return err
	}
	store := statestore.New(statePath)
	changed, err := store.Update(pidPath, func(s *gateway.State) error {
		s.Remove(sel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	if changed {
		fmt.Println("removed matching candidates")
	} else {
		fmt.Println("no matching candidates")
	}
	return nil
}
