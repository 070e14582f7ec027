package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netscanner.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	v, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Scan.ProbeTimeout != 100*time.Millisecond {
		t.Fatalf("unexpected probe timeout %s", cfg.Scan.ProbeTimeout)
	}
	if cfg.Scan.DiscoveryTimeout != 10*time.Second {
		t.Fatalf("unexpected discovery timeout %s", cfg.Scan.DiscoveryTimeout)
	}
	if len(cfg.Scan.ServiceTypes) == 0 {
		t.Fatal("expected default service catalog")
	}
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Fatalf("unexpected server addr %q", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
scan:
  subnet: 10.20.30.0/24
  discovery_timeout: 3s
  concurrency: 32
  service_types:
    - _http._tcp
    - _ssh._tcp
logging:
  level: debug
  format: json
`)
	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Scan.Subnet != "10.20.30.0/24" || cfg.Scan.Concurrency != 32 {
		t.Fatalf("unexpected scan config %#v", cfg.Scan)
	}
	if cfg.Scan.DiscoveryTimeout != 3*time.Second {
		t.Fatalf("unexpected discovery timeout %s", cfg.Scan.DiscoveryTimeout)
	}
	if len(cfg.Scan.ServiceTypes) != 2 {
		t.Fatalf("expected 2 service types, got %v", cfg.Scan.ServiceTypes)
	}
	if cfg.Scan.ResolveTimeout != 3*time.Second {
		t.Fatalf("expected unset keys to keep defaults, got %s", cfg.Scan.ResolveTimeout)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NETSCANNER_SCAN_SUBNET", "192.168.9")
	t.Setenv("NETSCANNER_SCAN_PROBE_TIMEOUT", "250ms")
	t.Setenv("NETSCANNER_SERVER_ADDR", ":9999")

	v, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Scan.Subnet != "192.168.9" {
		t.Fatalf("unexpected subnet %q", cfg.Scan.Subnet)
	}
	if cfg.Scan.ProbeTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected probe timeout %s", cfg.Scan.ProbeTimeout)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("unexpected server addr %q", cfg.Server.Addr)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestDecodeRejectsInvalidScanConfig(t *testing.T) {
	path := writeConfig(t, "scan:\n  subnet: 10.0.0.0/8\n")
	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Decode(v); err == nil {
		t.Fatal("expected validation error for /8 subnet")
	}
}
