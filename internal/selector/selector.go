// Package selector implements the pure candidate-selection function:
// given the persisted gateway state, a live mirror of kernel tables,
// and an address family, it picks the one gateway the reconciler
// should install as the default route for that family, or reports
// that none qualifies.
package selector

import (
	"sort"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/nettables"
)

// Select runs the candidate-filter, disable-filter, priority-bucket,
// timestamp-sort, liveness-test pipeline and returns the chosen
// gateway, or ok=false if no candidate qualifies.
func Select(state gateway.State, tables *nettables.Tables, family gateway.AddressFamily, priority []gateway.GatewaySelect) (gateway.Gateway, bool) {
	var candidates []gateway.Gateway
	for _, g := range state.Gateways {
		if g.Family != family {
			continue
		}
		if state.IsDisabled(g) {
			continue
		}
		candidates = append(candidates, g)
	}

	buckets := make([][]gateway.Gateway, len(priority)+1)
	for _, g := range candidates {
		idx := len(priority)
		for i, sel := range priority {
			if sel.Matches(g) {
				idx = i
				break
			}
		}
		buckets[idx] = append(buckets[idx], g)
	}

	var ranked []gateway.Gateway
	for _, bucket := range buckets {
		sort.SliceStable(bucket, func(i, j int) bool { return rankLess(bucket[i], bucket[j]) })
		ranked = append(ranked, bucket...)
	}

	for _, g := range ranked {
		if Liveness(tables, g) {
			return g, true
		}
	}
	return gateway.Gateway{}, false
}

// Liveness reports whether g's link is up and either carries an
// address whose network contains g.Address, or the tables hold a
// route on that link whose destination network contains it.
func Liveness(tables *nettables.Tables, g gateway.Gateway) bool {
	link, ok := tables.LinkByName(g.LinkName)
	if !ok || !link.Up {
		return false
	}

	addrs := tables.FindAddrs(func(a nettables.LinkAddress) bool { return a.LinkIndex == link.Index })
	for _, a := range addrs {
		if a.Address != nil && a.Address.Contains(g.Address) {
			return true
		}
	}

	routes := tables.FindRoutes(func(r nettables.Route) bool { return r.LinkIndex == link.Index })
	for _, r := range routes {
		if r.Destination != nil && r.Destination.Contains(g.Address) {
			return true
		}
	}
	return false
}

// rankLess orders candidates within a bucket: most recent timestamp
// first, with ties broken lexicographically by (link name, protocol,
// address bytes) so the outcome is deterministic.
func rankLess(a, b gateway.Gateway) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.LinkName != b.LinkName {
		return a.LinkName < b.LinkName
	}
	if a.Protocol != b.Protocol {
		return a.Protocol < b.Protocol
	}
	return string(a.Address.To16()) < string(b.Address.To16())
}
