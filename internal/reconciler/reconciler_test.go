package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/gwerr"
	"github.com/kuuji/defaultconfd/internal/netlinkx"
	"github.com/kuuji/defaultconfd/internal/nettables"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTables(link string, idx int, cidrStr string) *nettables.Tables {
	tables := nettables.New()
	tables.UpsertLink(nettables.Link{Index: idx, Name: link, Up: true})
	_, n, _ := net.ParseCIDR(cidrStr)
	tables.UpsertAddr(nettables.LinkAddress{LinkIndex: idx, Address: n})
	return tables
}

func TestReconcileAddsRouteWhenNoneExists(t *testing.T) {
	tables := newTables("em0", 2, "192.0.2.0/24")
	fake := netlinkx.NewFake()
	fake.LinkIndex["em0"] = 2

	state := gateway.NewState()
	state.Add(gateway.Gateway{Family: gateway.INET, LinkName: "em0", Protocol: "static", Address: net.ParseIP("192.0.2.1"), Timestamp: time.Unix(1, 0)})

	r := &Reconciler{Client: fake, Tables: tables, Config: gateway.Config{FIB: 0}, Log: discardLogger()}
	if err := r.Reconcile(context.Background(), state); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(fake.Added) != 1 {
		t.Fatalf("want 1 add (INET only, no INET6 candidate), got %+v", fake.Added)
	}
	if !fake.Added[0].Gateway.Equal(net.ParseIP("192.0.2.1")) {
		t.Fatalf("unexpected added gateway: %+v", fake.Added[0])
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	tables := newTables("em0", 2, "192.0.2.0/24")
	fake := netlinkx.NewFake()
	fake.LinkIndex["em0"] = 2

	state := gateway.NewState()
	state.Add(gateway.Gateway{Family: gateway.INET, LinkName: "em0", Protocol: "static", Address: net.ParseIP("192.0.2.1"), Timestamp: time.Unix(1, 0)})

	r := &Reconciler{Client: fake, Tables: tables, Config: gateway.Config{FIB: 0}, Log: discardLogger()}
	if err := r.Reconcile(context.Background(), state); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	// Mirror the kernel's NEWROUTE feedback into the tables, as the
	// supervisor's event monitor would between passes.
	for _, op := range fake.Added {
		tables.UpsertRoute(nettables.Route{Destination: op.Dest, Gateway: op.Gateway, LinkIndex: op.OutLink})
	}
	if err := r.Reconcile(context.Background(), state); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if len(fake.Added) != 1 {
		t.Fatalf("want exactly 1 add across two reconciliations, got %d", len(fake.Added))
	}
}

func TestReconcileReplacesMismatchedGateway(t *testing.T) {
	tables := newTables("em0", 2, "192.0.2.0/24")
	fake := netlinkx.NewFake()
	fake.LinkIndex["em0"] = 2
	_, dest, _ := net.ParseCIDR("0.0.0.0/0")
	fake.Routes = []netlinkx.RouteRecord{{Destination: dest, Gateway: net.ParseIP("192.0.2.9"), LinkIndex: 2}}
	tables.UpsertRoute(nettables.Route{Destination: dest, Gateway: net.ParseIP("192.0.2.9"), LinkIndex: 2})

	state := gateway.NewState()
	state.Add(gateway.Gateway{Family: gateway.INET, LinkName: "em0", Protocol: "static", Address: net.ParseIP("192.0.2.1"), Timestamp: time.Unix(1, 0)})

	r := &Reconciler{Client: fake, Tables: tables, Config: gateway.Config{FIB: 0}, Log: discardLogger()}
	if err := r.Reconcile(context.Background(), state); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(fake.Deleted) != 1 || len(fake.Added) != 1 {
		t.Fatalf("want one delete and one add, got deleted=%+v added=%+v", fake.Deleted, fake.Added)
	}
}

func TestReconcileSwallowsKernelErrorOnAdd(t *testing.T) {
	tables := newTables("em0", 2, "192.0.2.0/24")
	fake := netlinkx.NewFake()
	fake.LinkIndex["em0"] = 2
	fake.AddErr = &gwerr.KernelError{Errno: 17}

	state := gateway.NewState()
	state.Add(gateway.Gateway{Family: gateway.INET, LinkName: "em0", Protocol: "static", Address: net.ParseIP("192.0.2.1"), Timestamp: time.Unix(1, 0)})

	r := &Reconciler{Client: fake, Tables: tables, Config: gateway.Config{FIB: 0}, Log: discardLogger()}
	if err := r.Reconcile(context.Background(), state); err != nil {
		t.Fatalf("want KernelError swallowed, got %v", err)
	}
}

func TestReconcilePropagatesOtherErrors(t *testing.T) {
	tables := newTables("em0", 2, "192.0.2.0/24")
	fake := netlinkx.NewFake()
	fake.LinkIndex["em0"] = 2
	fake.AddErr = errors.New("transport exploded")

	state := gateway.NewState()
	state.Add(gateway.Gateway{Family: gateway.INET, LinkName: "em0", Protocol: "static", Address: net.ParseIP("192.0.2.1"), Timestamp: time.Unix(1, 0)})

	r := &Reconciler{Client: fake, Tables: tables, Config: gateway.Config{FIB: 0}, Log: discardLogger()}
	if err := r.Reconcile(context.Background(), state); err == nil {
		t.Fatal("want non-kernel error to propagate")
	}
}
