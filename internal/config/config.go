// Package config loads and saves the daemon's on-disk configuration:
// state file path, PID file path, routing table (FIB), and the
// priority list the selector buckets candidates by. It reads YAML into
// a typed struct with a default-path helper and a load-or-default
// constructor, via gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kuuji/defaultconfd/internal/gateway"
)

// DefaultPath is where the daemon looks for its configuration absent
// an explicit --config flag.
const DefaultPath = "/usr/local/etc/defaultconf.yaml"

// selectSpec is the YAML shape of a GatewaySelect: family is optional
// and, when present, spelled "INET"/"INET6".
type selectSpec struct {
	Family   string `yaml:"family,omitempty"`
	Link     string `yaml:"link,omitempty"`
	Protocol string `yaml:"protocol,omitempty"`
}

// file is the on-disk YAML shape. Unknown keys are ignored by
// gopkg.in/yaml.v3's default decoding behavior.
type file struct {
	StatePath string       `yaml:"state_path"`
	PIDPath   string       `yaml:"pid_path"`
	FIB       int          `yaml:"fib"`
	Priority  []selectSpec `yaml:"priority"`
}

// DefaultConfigPath returns DefaultPath; a named helper even though
// there is no per-install override today.
func DefaultConfigPath() string {
	return DefaultPath
}

// Load reads path and decodes it into a gateway.Config. A missing
// file is not an error: it yields gateway.DefaultConfig().
func Load(path string) (gateway.Config, error) {
	cfg := gateway.DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return gateway.Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return gateway.Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if f.StatePath != "" {
		cfg.StatePath = f.StatePath
	}
	if f.PIDPath != "" {
		cfg.PIDPath = f.PIDPath
	}
	if f.FIB < 0 {
		return gateway.Config{}, fmt.Errorf("config file %s: fib must be non-negative, got %d", path, f.FIB)
	}
	cfg.FIB = f.FIB

	priority := make([]gateway.GatewaySelect, 0, len(f.Priority))
	for i, s := range f.Priority {
		sel, err := toGatewaySelect(s)
		if err != nil {
			return gateway.Config{}, fmt.Errorf("config file %s: priority[%d]: %w", path, i, err)
		}
		priority = append(priority, sel)
	}
	cfg.Priority = priority

	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as
// needed.
func Save(path string, cfg gateway.Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	f := file{StatePath: cfg.StatePath, PIDPath: cfg.PIDPath, FIB: cfg.FIB}
	for _, sel := range cfg.Priority {
		f.Priority = append(f.Priority, fromGatewaySelect(sel))
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

func toGatewaySelect(s selectSpec) (gateway.GatewaySelect, error) {
	sel := gateway.GatewaySelect{LinkName: s.Link, Protocol: s.Protocol}
	if s.Family != "" {
		family, err := gateway.ParseAddressFamily(s.Family)
		if err != nil {
			return gateway.GatewaySelect{}, err
		}
		sel.Family = &family
	}
	return sel, nil
}

func fromGatewaySelect(sel gateway.GatewaySelect) selectSpec {
	s := selectSpec{Link: sel.LinkName, Protocol: sel.Protocol}
	if sel.Family != nil {
		s.Family = sel.Family.String()
	}
	return s
}
