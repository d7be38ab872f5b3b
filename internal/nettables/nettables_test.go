package nettables

import (
	"net"
	"testing"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

func TestUpsertLinkReplacesByIndex(t *testing.T) {
	tables := New()
	tables.UpsertLink(Link{Index: 1, Name: "em0", Up: false})
	tables.UpsertLink(Link{Index: 1, Name: "em0", Up: true})

	got, ok := tables.LinkByName("em0")
	if !ok {
		t.Fatal("want em0 present")
	}
	if !got.Up {
		t.Fatal("want the later upsert's Up value to win")
	}
}

func TestRemoveLinkCascadesRoutes(t *testing.T) {
	tables := New()
	tables.UpsertLink(Link{Index: 1, Name: "em0", Up: true})
	tables.UpsertRoute(Route{Destination: mustCIDR(t, "0.0.0.0/0"), LinkIndex: 1})
	tables.UpsertRoute(Route{Destination: mustCIDR(t, "192.0.2.0/24"), LinkIndex: 2})

	tables.RemoveLink(1)

	if _, ok := tables.LinkByName("em0"); ok {
		t.Fatal("want em0 gone after RemoveLink")
	}
	routes := tables.FindRoutes(nil)
	if len(routes) != 1 || routes[0].LinkIndex != 2 {
		t.Fatalf("want only the link-2 route to survive, got %+v", routes)
	}
}

func TestUpsertAddrReplacesEqualValue(t *testing.T) {
	tables := New()
	n := mustCIDR(t, "192.0.2.5/24")
	tables.UpsertAddr(LinkAddress{LinkIndex: 1, Address: n})
	tables.UpsertAddr(LinkAddress{LinkIndex: 1, Address: n})

	addrs := tables.FindAddrs(nil)
	if len(addrs) != 1 {
		t.Fatalf("want one address after re-upserting an equal value, got %d", len(addrs))
	}
}

func TestRemoveAddrRemovesEqualValue(t *testing.T) {
	tables := New()
	n := mustCIDR(t, "192.0.2.5/24")
	tables.UpsertAddr(LinkAddress{LinkIndex: 1, Address: n})
	tables.RemoveAddr(LinkAddress{LinkIndex: 1, Address: n})

	if addrs := tables.FindAddrs(nil); len(addrs) != 0 {
		t.Fatalf("want no addresses left, got %+v", addrs)
	}
}

func TestFindRoutesReturnsIndependentCopies(t *testing.T) {
	tables := New()
	dst := mustCIDR(t, "192.0.2.0/24")
	tables.UpsertRoute(Route{Destination: dst, Gateway: net.ParseIP("192.0.2.1"), LinkIndex: 1})

	routes := tables.FindRoutes(nil)
	routes[0].Destination.IP[0] = 0xff

	again := tables.FindRoutes(nil)
	if again[0].Destination.IP[0] == 0xff {
		t.Fatal("want FindRoutes to return copies that don't alias internal state")
	}
}

func TestUpsertRouteReplacesMatchingKey(t *testing.T) {
	tables := New()
	dst := mustCIDR(t, "0.0.0.0/0")
	tables.UpsertRoute(Route{Destination: dst, Gateway: net.ParseIP("192.0.2.1"), LinkIndex: 1})
	tables.UpsertRoute(Route{Destination: dst, Gateway: net.ParseIP("192.0.2.9"), LinkIndex: 1})

	routes := tables.FindRoutes(nil)
	if len(routes) != 1 {
		t.Fatalf("want one route after replace, got %d", len(routes))
	}
	if !routes[0].Gateway.Equal(net.ParseIP("192.0.2.9")) {
		t.Fatalf("want the later gateway to win, got %s", routes[0].Gateway)
	}
}

func TestFindLinksFiltersAndSortsByIndex(t *testing.T) {
	tables := New()
	tables.UpsertLink(Link{Index: 3, Name: "em2", Up: true})
	tables.UpsertLink(Link{Index: 1, Name: "em0", Up: false})
	tables.UpsertLink(Link{Index: 2, Name: "em1", Up: true})

	up := tables.FindLinks(func(l Link) bool { return l.Up })
	if len(up) != 2 {
		t.Fatalf("want 2 up links, got %d", len(up))
	}
	if up[0].Index != 2 || up[1].Index != 3 {
		t.Fatalf("want ascending index order, got %+v", up)
	}
}
