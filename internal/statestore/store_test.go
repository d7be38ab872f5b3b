package statestore

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuuji/defaultconfd/internal/gateway"
)

func TestLoadMissingFileIsEmptyState(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.Gateways) != 0 || len(state.Disabled) != 0 {
		t.Fatalf("want empty state, got %+v", state)
	}
}

func TestUpdateWritesOnlyOnChange(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))

	changed, err := s.Update("", func(st *gateway.State) error {
		st.Add(gateway.Gateway{
			Family:    gateway.INET,
			LinkName:  "em0",
			Protocol:  "static",
			Address:   net.ParseIP("192.0.2.1"),
			Timestamp: time.Unix(1, 0),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !changed {
		t.Fatal("want changed=true for a state-altering mutation")
	}

	changed, err = s.Update("", func(st *gateway.State) error { return nil })
	if err != nil {
		t.Fatalf("Update (noop): %v", err)
	}
	if changed {
		t.Fatal("want changed=false for a no-op mutation")
	}

	reloaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load after update: %v", err)
	}
	if len(reloaded.Gateways) != 1 {
		t.Fatalf("want 1 persisted gateway, got %d", len(reloaded.Gateways))
	}
}

func TestUpdatePropagatesMutatorError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	wantErr := gatewayMutatorErr{}
	_, err := s.Update("", func(st *gateway.State) error { return wantErr })
	if err != wantErr {
		t.Fatalf("got err %v, want %v", err, wantErr)
	}
}

type gatewayMutatorErr struct{}

func (gatewayMutatorErr) Error() string { return "mutator failed" }
