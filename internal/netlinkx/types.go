// Package netlinkx is a thin, synchronous request/reply façade over a
// kernel netlink-style route control socket. It exposes dumps of links,
// addresses, and routes, a multicast event stream, and route
// add/delete — everything the reconciler and the table maintainer need
// and nothing more. One Client owns one socket; the event-stream socket
// and the command socket are always distinct instances so a blocking
// command never stalls event reception.
package netlinkx

import (
	"context"
	"net"
	"time"
)

// Group identifies a multicast group a Client can subscribe to.
type Group int

const (
	GroupLink Group = iota
	GroupIPv4IfAddr
	GroupIPv4Route
	GroupIPv6IfAddr
	GroupIPv6Route
)

// EventKind identifies the kind of an asynchronous notification.
type EventKind int

const (
	EventNewLink EventKind = iota
	EventDelLink
	EventNewAddr
	EventDelAddr
	EventNewRoute
	EventDelRoute
)

func (k EventKind) String() string {
	switch k {
	case EventNewLink:
		return "NEWLINK"
	case EventDelLink:
		return "DELLINK"
	case EventNewAddr:
		return "NEWADDR"
	case EventDelAddr:
		return "DELADDR"
	case EventNewRoute:
		return "NEWROUTE"
	case EventDelRoute:
		return "DELROUTE"
	default:
		return "UNKNOWN"
	}
}

// LinkRecord is an owned, self-contained copy of a parsed link message.
type LinkRecord struct {
	Index int
	Name  string
	Up    bool
}

// AddrRecord is an owned, self-contained copy of a parsed address message.
type AddrRecord struct {
	LinkIndex int
	Address   *net.IPNet
}

// RouteRecord is an owned, self-contained copy of a parsed route message.
type RouteRecord struct {
	Destination *net.IPNet
	Gateway     net.IP
	LinkIndex   int
}

// Event is one parsed asynchronous notification. Exactly one of Link,
// Addr, and Route is set: the one matching Kind.
type Event struct {
	Kind   EventKind
	Link   *LinkRecord
	Addr   *AddrRecord
	Route  *RouteRecord
}

// EventStream yields parsed notifications from a subscribed socket.
type EventStream interface {
	// Next blocks until an event arrives, ctx is done, or the stream's
	// per-call read timeout (DefaultReadTimeout for the real backends)
	// elapses. A *gwerr.Timeout is returned on
	// an elapsed wait so callers can re-check their shutdown condition.
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Client is the façade described in the package doc. Implementations
// are confined to one goroutine at a time; callers needing concurrent
// access must synchronize externally.
type Client interface {
	DumpLinks(ctx context.Context) ([]LinkRecord, error)
	DumpAddrs(ctx context.Context) ([]AddrRecord, error)
	DumpRoutes(ctx context.Context, fib int) ([]RouteRecord, error)

	// Subscribe attaches a fresh socket to groups and returns a stream
	// of notifications from it. The returned stream is independent of
	// any dump call made on the same Client.
	Subscribe(ctx context.Context, groups ...Group) (EventStream, error)

	AddRoute(ctx context.Context, fib int, dst *net.IPNet, gw net.IP, outLink int) error
	DeleteRoute(ctx context.Context, fib int, dst *net.IPNet, gw net.IP, outLink int) error

	LinkNameToIndex(ctx context.Context, name string) (int, error)

	Close() error
}

// DefaultReadTimeout bounds a single EventStream.Next call when the
// caller does not otherwise cancel ctx, so a blocked read still wakes
// up periodically to observe shutdown.
const DefaultReadTimeout = time.Second
