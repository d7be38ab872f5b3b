// Package gateway defines the core data model shared by the state store,
// the selector, and the reconciler: address families, candidate
// gateways, the select-pattern used for priority and disable rules, and
// the persisted State and Config records.
package gateway

import (
	"fmt"
	"net"
	"sort"
	"time"
)

// AddressFamily distinguishes IPv4 from IPv6 candidates and routes.
type AddressFamily int

const (
	// INET is IPv4.
	INET AddressFamily = iota
	// INET6 is IPv6.
	INET6
)

// String renders the family the way the wire format and CLI expect.
func (f AddressFamily) String() string {
	switch f {
	case INET:
		return "INET"
	case INET6:
		return "INET6"
	default:
		return fmt.Sprintf("AddressFamily(%d)", int(f))
	}
}

// ParseAddressFamily parses the "INET"/"INET6" wire spelling.
func ParseAddressFamily(s string) (AddressFamily, error) {
	switch s {
	case "INET":
		return INET, nil
	case "INET6":
		return INET6, nil
	default:
		return 0, fmt.Errorf("unknown address family %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f AddressFamily) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *AddressFamily) UnmarshalText(b []byte) error {
	parsed, err := ParseAddressFamily(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Gateway is a candidate default gateway. Identity for set semantics is
// the full (Family, LinkName, Protocol) triple; Address and Timestamp
// are not part of identity, so re-adding a gateway with a matching
// triple replaces the prior entry rather than creating a second one.
type Gateway struct {
	Family    AddressFamily
	LinkName  string
	Protocol  string
	Address   net.IP
	Timestamp time.Time
}

// Key returns the identity triple used for uniqueness and replacement.
func (g Gateway) Key() GatewayKey {
	return GatewayKey{Family: g.Family, LinkName: g.LinkName, Protocol: g.Protocol}
}

// GatewayKey is the (family, link, protocol) identity triple.
type GatewayKey struct {
	Family   AddressFamily
	LinkName string
	Protocol string
}

// GatewaySelect is a partial pattern matching a Gateway when every
// non-nil/non-empty field equals the corresponding Gateway field. It is
// used both to address existing candidates for removal and to express
// disable rules and priority buckets.
type GatewaySelect struct {
	Family   *AddressFamily
	LinkName string
	Protocol string
}

// Matches reports whether g satisfies every non-empty field of s.
func (s GatewaySelect) Matches(g Gateway) bool {
	if s.Family != nil && *s.Family != g.Family {
		return false
	}
	if s.LinkName != "" && s.LinkName != g.LinkName {
		return false
	}
	if s.Protocol != "" && s.Protocol != g.Protocol {
		return false
	}
	return true
}

// State is the persisted candidate set and disable set. The zero value
// is a valid, empty State.
type State struct {
	Gateways map[GatewayKey]Gateway
	Disabled []GatewaySelect
}

// NewState returns an empty State ready for use.
func NewState() State {
	return State{Gateways: make(map[GatewayKey]Gateway)}
}

// Add inserts g, replacing any prior Gateway with the same identity
// triple. This is the only mutator that can violate uniqueness if
// misused directly on the map, so callers should always go through Add.
func (s *State) Add(g Gateway) {
	if s.Gateways == nil {
		s.Gateways = make(map[GatewayKey]Gateway)
	}
	s.Gateways[g.Key()] = g
}

// Remove deletes every Gateway matching sel.
func (s *State) Remove(sel GatewaySelect) {
	for k, g := range s.Gateways {
		if sel.Matches(g) {
			delete(s.Gateways, k)
		}
	}
}

// Disable adds sel to the disable set. Disabling the same pattern twice
// is a no-op past the first call in practice, since matching semantics
// only ever check set membership, but duplicates are tolerated rather
// than deduplicated to keep Disable O(1).
func (s *State) Disable(sel GatewaySelect) {
	s.Disabled = append(s.Disabled, sel)
}

// Enable removes every disable-set entry matching sel against the
// candidate gateway pattern sel was originally framed as — in practice
// this means removing disable entries equal to sel.
func (s *State) Enable(sel GatewaySelect) {
	kept := s.Disabled[:0]
	for _, d := range s.Disabled {
		if !selectsEqual(d, sel) {
			kept = append(kept, d)
		}
	}
	s.Disabled = kept
}

// IsDisabled reports whether any disable-set entry matches g.
func (s State) IsDisabled(g Gateway) bool {
	for _, d := range s.Disabled {
		if d.Matches(g) {
			return true
		}
	}
	return false
}

// SortedGateways returns the candidate gateways in a deterministic
// order, used by tests and by diagnostic output.
func (s State) SortedGateways() []Gateway {
	out := make([]Gateway, 0, len(s.Gateways))
	for _, g := range s.Gateways {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return gatewayLess(out[i], out[j])
	})
	return out
}

func gatewayLess(a, b Gateway) bool {
	if a.LinkName != b.LinkName {
		return a.LinkName < b.LinkName
	}
	if a.Protocol != b.Protocol {
		return a.Protocol < b.Protocol
	}
	return string(a.Address.To16()) < string(b.Address.To16())
}

func selectsEqual(a, b GatewaySelect) bool {
	if (a.Family == nil) != (b.Family == nil) {
		return false
	}
	if a.Family != nil && *a.Family != *b.Family {
		return false
	}
	return a.LinkName == b.LinkName && a.Protocol == b.Protocol
}

// Config is the persisted, runtime-read-only daemon configuration.
type Config struct {
	StatePath string
	PIDPath   string
	FIB       int
	Priority  []GatewaySelect
}

// DefaultConfig returns the built-in defaults used when no config file
// is present.
func DefaultConfig() Config {
	return Config{
		StatePath: "/var/db/defaultconf.state",
		PIDPath:   "/var/run/defaultconf.pid",
		FIB:       0,
	}
}
