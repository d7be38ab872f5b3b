package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuuji/defaultconfd/internal/gateway"
)

// validProtocols are the only protocol spellings defaultconfctl accepts
// on write; the core treats Protocol as a free-form string and never
// validates it itself.
var validProtocols = map[string]bool{"static": true, "dhcp": true, "ppp": true, "ra": true}

func selectFlags(cmd *cobra.Command, family, link, protocol *string) {
	cmd.Flags().StringVar(family, "family", "", "address family: INET or INET6")
	cmd.Flags().StringVar(link, "link", "", "link name")
	cmd.Flags().StringVar(protocol, "protocol", "", "protocol: static, dhcp, ppp, or ra")
}

func buildSelect(family, link, protocol string) (gateway.GatewaySelect, error) {
	sel := gateway.GatewaySelect{LinkName: link, Protocol: protocol}
	if family != "" {
		f, err := gateway.ParseAddressFamily(family)
		if err != nil {
			return gateway.GatewaySelect{}, err
		}
		sel.Family = &f
	}
	return sel, nil
}

func validateProtocol(protocol string) error {
	if protocol == "" {
		return fmt.Errorf("--protocol is required")
	}
	if !validProtocols[protocol] {
		return fmt.Errorf("unknown protocol %q, want one of static, dhcp, ppp, ra", protocol)
	}
	return nil
}
