// Package reconciler drives the kernel toward the selector's chosen
// gateway for each address family: it compares the desired gateway
// against the currently installed default route and applies the
// minimal add/delete sequence to converge, tolerating the kernel
// errors that mean another agent already agrees with it.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/gwerr"
	"github.com/kuuji/defaultconfd/internal/netlinkx"
	"github.com/kuuji/defaultconfd/internal/nettables"
	"github.com/kuuji/defaultconfd/internal/selector"
)

// Reconciler drives route convergence. Client, Tables, and Config are
// shared read-only from the supervisor's perspective; Reconcile is
// meant to be called from a single goroutine at a time, matching
// netlinkx.Client's single-owner contract.
type Reconciler struct {
	Client netlinkx.Client
	Tables *nettables.Tables
	Config gateway.Config
	Log    *slog.Logger
}

var (
	defaultDestV4 = mustCIDR("0.0.0.0/0")
	defaultDestV6 = mustCIDR("::/0")
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func defaultDest(family gateway.AddressFamily) *net.IPNet {
	if family == gateway.INET6 {
		return defaultDestV6
	}
	return defaultDestV4
}

// Reconcile runs the decision table for INET then INET6 in that fixed
// order. A non-swallowable error aborts the remaining actions for its
// own family only; the other family is still attempted. The returned
// error, if any, joins every family's non-swallowed error.
func (r *Reconciler) Reconcile(ctx context.Context, state gateway.State) error {
	var errs []error
	for _, family := range []gateway.AddressFamily{gateway.INET, gateway.INET6} {
		if err := r.reconcileFamily(ctx, state, family); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) reconcileFamily(ctx context.Context, state gateway.State, family gateway.AddressFamily) error {
	dest := defaultDest(family)
	desired := r.resolveDesired(ctx, state, family)
	current := r.currentRoute(dest)

	for _, act := range plan(dest, desired, current) {
		var err error
		switch act.kind {
		case actionAdd:
			err = r.Client.AddRoute(ctx, r.Config.FIB, act.dest, act.gateway, act.linkIndex)
		case actionDelete:
			err = r.Client.DeleteRoute(ctx, r.Config.FIB, act.dest, act.gateway, act.linkIndex)
		}
		if err == nil {
			continue
		}
		if swallowable(err) {
			r.Log.Warn("route mutation tolerated", "family", family, "action", act.kind, "error", err)
			continue
		}
		return err
	}
	return nil
}

// resolveDesired turns the selector's chosen gateway into a routable
// destination, resolving its link name to a kernel index. A link that
// has disappeared since the selector ran (NotFound/KernelError) is
// treated the same as "no candidate selectable" rather than aborting
// the family.
func (r *Reconciler) resolveDesired(ctx context.Context, state gateway.State, family gateway.AddressFamily) *desiredRoute {
	g, ok := selector.Select(state, r.Tables, family, r.Config.Priority)
	if !ok {
		return nil
	}
	idx, err := r.Client.LinkNameToIndex(ctx, g.LinkName)
	if err != nil {
		r.Log.Warn("desired gateway link no longer resolvable", "link", g.LinkName, "error", err)
		return nil
	}
	return &desiredRoute{address: g.Address, linkIndex: idx}
}

// currentRoute finds the unique kernel route to dest. More than one
// match is logged and the lexicographically first (by gateway address
// then link index) is used, to keep the outcome deterministic when the
// mirror holds an ambiguous set of routes.
func (r *Reconciler) currentRoute(dest *net.IPNet) *currentRoute {
	matches := r.Tables.FindRoutes(func(rt nettables.Route) bool {
		return ipNetEqual(rt.Destination, dest)
	})
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		sort.Slice(matches, func(i, j int) bool {
			ki, kj := routeKey(matches[i]), routeKey(matches[j])
			if ki != kj {
				return ki < kj
			}
			return matches[i].LinkIndex < matches[j].LinkIndex
		})
		r.Log.Warn("multiple kernel routes to default destination, using lexicographically first", "dest", dest, "count", len(matches))
	}
	m := matches[0]
	return &currentRoute{destination: m.Destination, gateway: m.Gateway, linkIndex: m.LinkIndex}
}

func routeKey(r nettables.Route) string {
	gw := ""
	if r.Gateway != nil {
		gw = r.Gateway.String()
	}
	return gw
}

func ipNetEqual(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

func swallowable(err error) bool {
	var kerr *gwerr.KernelError
	if errors.As(err, &kerr) {
		return true
	}
	var nferr *gwerr.NotFound
	return errors.As(err, &nferr)
}
