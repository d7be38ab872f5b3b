// Package nettables is the in-memory, thread-safe mirror of the kernel's
// link, address, and route inventory. It is fed by an initial dump and
// kept live by applied netlink notifications; the reconciler and
// selector only ever see consistent, copied-out snapshots.
package nettables

import (
	"net"
	"sort"
	"sync"
)

// Link is a network interface.
type Link struct {
	Index int
	Name  string
	Up    bool
}

// LinkAddress is an address assigned to a link.
type LinkAddress struct {
	LinkIndex int
	Address   *net.IPNet
}

// Route is a kernel routing table entry.
type Route struct {
	Destination *net.IPNet
	Gateway     net.IP // nil when the route has no gateway
	LinkIndex   int    // 0 if unspecified by the kernel
}

// Tables is the coherent mirror. The zero value is ready to use.
type Tables struct {
	mu     sync.RWMutex
	links  map[int]Link
	addrs  []LinkAddress
	routes []Route
}

// New returns an empty, ready-to-use Tables.
func New() *Tables {
	return &Tables{links: make(map[int]Link)}
}

// UpsertLink replaces any existing link with the same index.
func (t *Tables) UpsertLink(l Link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links == nil {
		t.links = make(map[int]Link)
	}
	t.links[l.Index] = l
}

// RemoveLink removes the link and cascades the removal of every route
// whose output link equals index. Addresses keyed to the removed link
// are retained as orphans; readers must tolerate them.
func (t *Tables) RemoveLink(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.links, index)
	kept := t.routes[:0]
	for _, r := range t.routes {
		if r.LinkIndex != index {
			kept = append(kept, r)
		}
	}
	t.routes = kept
}

// UpsertAddr appends addr. Identity for addresses is not tracked beyond
// value equality, so callers must call RemoveAddr with an equal value to
// retract a previous UpsertAddr.
func (t *Tables) UpsertAddr(a LinkAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.addrs {
		if addrEqual(existing, a) {
			t.addrs[i] = a
			return
		}
	}
	t.addrs = append(t.addrs, a)
}

// RemoveAddr removes every address equal to a.
func (t *Tables) RemoveAddr(a LinkAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.addrs[:0]
	for _, existing := range t.addrs {
		if !addrEqual(existing, a) {
			kept = append(kept, existing)
		}
	}
	t.addrs = kept
}

// UpsertRoute appends r, replacing any existing route with an equal
// destination and output link (whatever its gateway).
func (t *Tables) UpsertRoute(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.routes {
		if existing.LinkIndex == r.LinkIndex && ipNetEqual(existing.Destination, r.Destination) {
			t.routes[i] = r
			return
		}
	}
	t.routes = append(t.routes, r)
}

// RemoveRoute removes every route equal to r.
func (t *Tables) RemoveRoute(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.routes[:0]
	for _, existing := range t.routes {
		if !routeEqual(existing, r) {
			kept = append(kept, existing)
		}
	}
	t.routes = kept
}

// FindLinks returns a snapshot copy of every link matching pred.
func (t *Tables) FindLinks(pred func(Link) bool) []Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Link, 0)
	for _, l := range t.links {
		if pred == nil || pred(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// FindAddrs returns a snapshot copy of every address matching pred.
func (t *Tables) FindAddrs(pred func(LinkAddress) bool) []LinkAddress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]LinkAddress, 0)
	for _, a := range t.addrs {
		if pred == nil || pred(a) {
			out = append(out, cloneAddr(a))
		}
	}
	return out
}

// FindRoutes returns a snapshot copy of every route matching pred.
func (t *Tables) FindRoutes(pred func(Route) bool) []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0)
	for _, r := range t.routes {
		if pred == nil || pred(r) {
			out = append(out, cloneRoute(r))
		}
	}
	return out
}

// LinkByName returns the link named name, if any.
func (t *Tables) LinkByName(name string) (Link, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, l := range t.links {
		if l.Name == name {
			return l, true
		}
	}
	return Link{}, false
}

func addrEqual(a, b LinkAddress) bool {
	if a.LinkIndex != b.LinkIndex {
		return false
	}
	return ipNetEqual(a.Address, b.Address)
}

func routeEqual(a, b Route) bool {
	if a.LinkIndex != b.LinkIndex {
		return false
	}
	if !a.Gateway.Equal(b.Gateway) {
		return false
	}
	return ipNetEqual(a.Destination, b.Destination)
}

func ipNetEqual(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Mask.String() == b.Mask.String()
}

func cloneAddr(a LinkAddress) LinkAddress {
	if a.Address == nil {
		return a
	}
	n := *a.Address
	n.IP = append(net.IP(nil), a.Address.IP...)
	n.Mask = append(net.IPMask(nil), a.Address.Mask...)
	a.Address = &n
	return a
}

func cloneRoute(r Route) Route {
	if r.Destination != nil {
		n := *r.Destination
		n.IP = append(net.IP(nil), r.Destination.IP...)
		n.Mask = append(net.IPMask(nil), r.Destination.Mask...)
		r.Destination = &n
	}
	if r.Gateway != nil {
		r.Gateway = append(net.IP(nil), r.Gateway...)
	}
	return r
}
