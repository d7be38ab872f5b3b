package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kuuji/defaultconfd/internal/gateway"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := gateway.DefaultConfig()
	if cfg.StatePath != want.StatePath || cfg.PIDPath != want.PIDPath || cfg.FIB != want.FIB {
		t.Fatalf("want defaults %+v, got %+v", want, cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "defaultconf.yaml")
	inet := gateway.INET
	cfg := gateway.Config{
		StatePath: "/var/db/defaultconf.state",
		PIDPath:   "/var/run/defaultconf.pid",
		FIB:       1,
		Priority: []gateway.GatewaySelect{
			{Family: &inet, LinkName: "em0"},
			{Protocol: "static"},
		},
	}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StatePath != cfg.StatePath || got.PIDPath != cfg.PIDPath || got.FIB != cfg.FIB {
		t.Fatalf("round trip mismatch: want %+v got %+v", cfg, got)
	}
	if len(got.Priority) != 2 {
		t.Fatalf("want 2 priority entries, got %d", len(got.Priority))
	}
	if got.Priority[0].Family == nil || *got.Priority[0].Family != gateway.INET || got.Priority[0].LinkName != "em0" {
		t.Fatalf("unexpected priority[0]: %+v", got.Priority[0])
	}
	if got.Priority[1].Family != nil || got.Priority[1].Protocol != "static" {
		t.Fatalf("unexpected priority[1]: %+v", got.Priority[1])
	}
}

func TestLoadRejectsNegativeFIB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaultconf.yaml")
	if err := Save(path, gateway.Config{FIB: 0}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Overwrite with an explicit negative FIB, which Save can never
	// produce from a valid gateway.Config but a hand-edited file can.
	if err := writeRaw(path, "fib: -1\n"); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("want error for negative fib")
	}
}

func TestLoadRejectsUnknownFamily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaultconf.yaml")
	if err := writeRaw(path, "priority:\n  - family: BOGUS\n"); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("want error for unknown family")
	}
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
