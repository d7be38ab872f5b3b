package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/statestore"
)

var (
	addFamily   string
	addLink     string
	addProtocol string
	addAddr     string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a candidate gateway",
	Long: `Add registers a candidate default gateway. Adding a gateway with the
same family, link, and protocol as an existing one replaces it.`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addFamily, "family", "", "address family: INET or INET6 (required)")
	addCmd.Flags().StringVar(&addLink, "link", "", "link name (required)")
	addCmd.Flags().StringVar(&addProtocol, "protocol", "", "protocol: static, dhcp, ppp, or ra (required)")
	addCmd.Flags().StringVar(&addAddr, "addr", "", "candidate gateway address (required)")
	addCmd.MarkFlagRequired("family")
	addCmd.MarkFlagRequired("link")
	addCmd.MarkFlagRequired("protocol")
	addCmd.MarkFlagRequired("addr")
}

func runAdd(cmd *cobra.Command, args []string) error {
	if err := validateProtocol(addProtocol); err != nil {
		return err
	}
	family, err := gateway.ParseAddressFamily(addFamily)
	if err != nil {
		return err
	}
	addr := net.ParseIP(addAddr)
	if addr == nil {
		return fmt.Errorf("invalid address %q", addAddr)
	}
	if err := checkFamilyMatch(family, addr); err != nil {
		return err
	}

	statePath, pidPath, err := resolvedPaths()
	if err != nil {
		return err
	}
	store := statestore.New(statePath)

	g := gateway.Gateway{Family: family, LinkName: addLink, Protocol: addProtocol, Address: addr, Timestamp: time.Now()}
	_, err = store.Update(pidPath, func(s *gateway.State) error {
		s.Add(g)
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	fmt.Printf("added %s %s %s via %s\n", family, addLink, addProtocol, addr)
	return nil
}

func checkFamilyMatch(family gateway.AddressFamily, addr net.IP) error {
	isV4 := addr.To4() != nil
	if family == gateway.INET && !isV4 {
		return fmt.Errorf("address %s is not a valid INET address", addr)
	}
	if family == gateway.INET6 && isV4 {
		return fmt.Errorf("address %s is not a valid INET6 address", addr)
	}
	return nil
}
