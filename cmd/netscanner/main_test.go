package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunWithoutArgsShowsUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(nil, &out); err != nil {
		t.Fatalf("run returned error without args: %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Fatalf("expected usage text, got %q", out.String())
	}
}

func TestRunVersionCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"version"}, &out); err != nil {
		t.Fatalf("run returned error for version command: %v", err)
	}
	if got := out.String(); got != "netscanner dev\n" {
		t.Fatalf("unexpected version output %q", got)
	}
}

func TestRunVendorCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"vendor", "b8-27-eb-12-34-56", "zz"}, &out); err != nil {
		t.Fatalf("run returned error for vendor command: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", out.String())
	}
	if !strings.Contains(lines[0], "Raspberry Pi") {
		t.Fatalf("expected Raspberry Pi vendor, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "unknown") {
		t.Fatalf("expected unknown vendor for invalid mac, got %q", lines[1])
	}
}

func TestRunVendorRequiresArgument(t *testing.T) {
	if err := run([]string{"vendor"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error when no mac is given")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := run([]string{"unknown"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestScanRejectsInvalidSubnet(t *testing.T) {
	err := run([]string{"scan", "--subnet", "10.0.0.0/8"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for invalid subnet")
	}
}
