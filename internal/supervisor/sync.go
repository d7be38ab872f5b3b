package supervisor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kuuji/defaultconfd/internal/gwerr"
	"github.com/kuuji/defaultconfd/internal/netlinkx"
	"github.com/kuuji/defaultconfd/internal/nettables"
)

// bufferThenReplay closes the gap between an initial dump and the
// first live event: subscribe and start buffering before issuing the
// dump calls, apply the dump as the baseline, then replay whatever
// arrived before and during the dumps (the stream is drained once
// before and once after them). An event the dump also captured may be
// applied a second time — applyEvent's upsert/remove operations are
// idempotent, so a replayed duplicate is harmless.
//
// stream is closed by the caller once replay completes; it is not
// used afterward (the event monitor opens its own long-lived stream).
//
// fib is threaded through to DumpRoutes so the route dump agrees with
// the FIB the reconciler mutates; the configured FIB is used
// consistently for both dumps and mutations.
func bufferThenReplay(ctx context.Context, client netlinkx.Client, tables *nettables.Tables, fib int, log *slog.Logger) error {
	stream, err := client.Subscribe(ctx,
		netlinkx.GroupLink,
		netlinkx.GroupIPv4IfAddr,
		netlinkx.GroupIPv4Route,
		netlinkx.GroupIPv6IfAddr,
		netlinkx.GroupIPv6Route,
	)
	if err != nil {
		return err
	}
	defer stream.Close()

	buffered := drainAvailable(ctx, stream, log)

	links, err := client.DumpLinks(ctx)
	if err != nil {
		return err
	}
	addrs, err := client.DumpAddrs(ctx)
	if err != nil {
		return err
	}
	routes, err := client.DumpRoutes(ctx, fib)
	if err != nil {
		return err
	}
	buffered = append(buffered, drainAvailable(ctx, stream, log)...)

	for _, l := range links {
		tables.UpsertLink(nettables.Link{Index: l.Index, Name: l.Name, Up: l.Up})
	}
	for _, a := range addrs {
		tables.UpsertAddr(nettables.LinkAddress{LinkIndex: a.LinkIndex, Address: a.Address})
	}
	for _, r := range routes {
		tables.UpsertRoute(nettables.Route{Destination: r.Destination, Gateway: r.Gateway, LinkIndex: r.LinkIndex})
	}

	for _, ev := range buffered {
		applyEvent(tables, ev)
	}
	return nil
}

// drainAvailable reads every event already queued on stream without
// blocking past a single short timeout, so the dump that follows it
// is not held up waiting for a lull in event traffic.
func drainAvailable(ctx context.Context, stream netlinkx.EventStream, log *slog.Logger) []netlinkx.Event {
	var out []netlinkx.Event
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			var timeout *gwerr.Timeout
			if errors.As(err, &timeout) {
				return out
			}
			log.Warn("buffer-then-replay: event read failed, stopping buffering early", "error", err)
			return out
		}
		out = append(out, ev)
	}
}

// applyEvent mutates tables to reflect one parsed netlink notification.
func applyEvent(tables *nettables.Tables, ev netlinkx.Event) {
	switch ev.Kind {
	case netlinkx.EventNewLink:
		if ev.Link != nil {
			tables.UpsertLink(nettables.Link{Index: ev.Link.Index, Name: ev.Link.Name, Up: ev.Link.Up})
		}
	case netlinkx.EventDelLink:
		if ev.Link != nil {
			tables.RemoveLink(ev.Link.Index)
		}
	case netlinkx.EventNewAddr:
		if ev.Addr != nil {
			tables.UpsertAddr(nettables.LinkAddress{LinkIndex: ev.Addr.LinkIndex, Address: ev.Addr.Address})
		}
	case netlinkx.EventDelAddr:
		if ev.Addr != nil {
			tables.RemoveAddr(nettables.LinkAddress{LinkIndex: ev.Addr.LinkIndex, Address: ev.Addr.Address})
		}
	case netlinkx.EventNewRoute:
		if ev.Route != nil {
			tables.UpsertRoute(nettables.Route{Destination: ev.Route.Destination, Gateway: ev.Route.Gateway, LinkIndex: ev.Route.LinkIndex})
		}
	case netlinkx.EventDelRoute:
		if ev.Route != nil {
			tables.RemoveRoute(nettables.Route{Destination: ev.Route.Destination, Gateway: ev.Route.Gateway, LinkIndex: ev.Route.LinkIndex})
		}
	}
}
