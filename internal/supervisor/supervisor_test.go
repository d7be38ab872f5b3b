package supervisor

import (
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/netlinkx"
	"github.com/kuuji/defaultconfd/internal/statestore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// TestRun_FreshInstallSingleCandidate covers a fresh install: one
// INET candidate on an up link with a covering address, no existing
// default route. One add_route should be issued before the run context
// expires.
func TestRun_FreshInstallSingleCandidate(t *testing.T) {
	fake := netlinkx.NewFake()
	_, addr, _ := net.ParseCIDR("10.0.0.5/24")
	fake.Links = []netlinkx.LinkRecord{{Index: 1, Name: "em0", Up: true}}
	fake.Addrs = []netlinkx.AddrRecord{{LinkIndex: 1, Address: addr}}
	fake.LinkIndex = map[string]int{"em0": 1}

	statePath := filepath.Join(t.TempDir(), "state.json")
	store := statestore.New(statePath)
	if _, err := store.Update("", func(s *gateway.State) error {
		s.Add(gateway.Gateway{
			Family:    gateway.INET,
			LinkName:  "em0",
			Protocol:  "dhcp",
			Address:   net.ParseIP("10.0.0.1"),
			Timestamp: time.Unix(100, 0),
		})
		return nil
	}); err != nil {
		t.Fatalf("seeding state: %v", err)
	}

	sup := New(fake, store, gateway.Config{FIB: 0}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fake.Added) != 1 {
		t.Fatalf("want exactly one add_route, got %+v", fake.Added)
	}
	got := fake.Added[0]
	if !got.Gateway.Equal(net.ParseIP("10.0.0.1")) || got.OutLink != 1 {
		t.Fatalf("unexpected route added: %+v", got)
	}
	if len(fake.Deleted) != 0 {
		t.Fatalf("want no deletes, got %+v", fake.Deleted)
	}

	status := sup.Status()
	var inet FakeFamilyLookup
	for _, f := range status.Families {
		if f.Family == "INET" {
			inet = FakeFamilyLookup{Selected: f.Selected, Installed: f.Installed, InSync: f.InSync}
		}
	}
	if inet.Selected != "10.0.0.1" || inet.Installed != "10.0.0.1" || !inet.InSync {
		t.Fatalf("unexpected INET status: %+v", inet)
	}
}

// FakeFamilyLookup is a test-local projection of control.FamilyStatus
// avoiding a second import just for field access in assertions.
type FakeFamilyLookup struct {
	Selected  string
	Installed string
	InSync    bool
}

func TestReloadStateAppliesNewCandidate(t *testing.T) {
	fake := netlinkx.NewFake()
	statePath := filepath.Join(t.TempDir(), "state.json")
	store := statestore.New(statePath)

	sup := New(fake, store, gateway.Config{FIB: 0}, discardLogger())

	if _, err := store.Update("", func(s *gateway.State) error {
		s.Add(gateway.Gateway{Family: gateway.INET, LinkName: "em0", Protocol: "static", Address: net.ParseIP("192.0.2.1"), Timestamp: time.Unix(1, 0)})
		return nil
	}); err != nil {
		t.Fatalf("seeding state: %v", err)
	}

	if err := sup.ReloadState(); err != nil {
		t.Fatalf("ReloadState: %v", err)
	}
	state := sup.currentState()
	if len(state.Gateways) != 1 {
		t.Fatalf("want 1 gateway after reload, got %d", len(state.Gateways))
	}
}
