package control

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestServer_StartStopFetchStatus(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "test.sock")

	provider := func() Status {
		return Status{
			Families: []FamilyStatus{
				{Family: "INET", Selected: "10.0.0.1", LinkName: "em0", Installed: "10.0.0.1", InSync: true},
				{Family: "INET6", InSync: true},
			},
			UptimeSeconds: 42.5,
		}
	}

	reloaded := false
	srv := NewServer(socketPath, provider, func() error { reloaded = true; return nil }, nil)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Stop()

	status, err := FetchStatus(socketPath)
	if err != nil {
		t.Fatalf("FetchStatus() error: %v", err)
	}
	if len(status.Families) != 2 {
		t.Fatalf("len(Families) = %d, want 2", len(status.Families))
	}
	if status.Families[0].Selected != "10.0.0.1" {
		t.Errorf("Families[0].Selected = %q, want %q", status.Families[0].Selected, "10.0.0.1")
	}
	if !status.Families[1].InSync {
		t.Errorf("Families[1].InSync = false, want true")
	}

	if err := SendReload(socketPath); err != nil {
		t.Fatalf("SendReload() error: %v", err)
	}
	if !reloaded {
		t.Error("reload func was not invoked")
	}
}

func TestServer_ReloadError(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "test.sock")
	srv := NewServer(socketPath, func() Status { return Status{} }, func() error { return errors.New("boom") }, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Stop()

	if err := SendReload(socketPath); err == nil {
		t.Fatal("expected error from failing reload func, got nil")
	}
}

func TestFetchStatus_NoServer(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "nonexistent.sock")

	_, err := FetchStatus(socketPath)
	if err == nil {
		t.Fatal("expected error when server is not running, got nil")
	}
}
