package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/control"
)

var getDefaultCmd = &cobra.Command{
	Use:   "get-default",
	Short: "Show the currently selected and installed default gateway per family",
	Long: `Queries the running defaultconfd over its control socket and prints
the gateway the selector currently picks, and the gateway actually
installed in the kernel, for each address family.`,
	RunE: runGetDefault,
}

func runGetDefault(cmd *cobra.Command, args []string) error {
	status, err := control.FetchStatus(flagSocketPath)
	if err != nil {
		return fmt.Errorf("is defaultconfd running? %w", err)
	}
	for _, f := range status.Families {
		selected := f.Selected
		if selected == "" {
			selected = "(none)"
		}
		installed := f.Installed
		if installed == "" {
			installed = "(none)"
		}
		sync := "out of sync"
		if f.InSync {
			sync = "in sync"
		}
		fmt.Printf("%-6s selected=%s (%s)  installed=%s  [%s]\n", f.Family, selected, linkOrDash(f.LinkName), installed, sync)
	}
	return nil
}

func linkOrDash(link string) string {
	if link == "" {
		return "-"
	}
	return link
}
