package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type fakeHostProbe struct {
	mu      sync.Mutex
	calls   map[string]int
	alive   map[string]string // ip -> hostname
	delay   time.Duration
	running int32
	peak    int32
}

func (f *fakeHostProbe) Probe(ctx context.Context, ip string) ProbeResult {
	n := atomic.AddInt32(&f.running, 1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	defer atomic.AddInt32(&f.running, -1)

	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[ip]++
	hostname, ok := f.alive[ip]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return ProbeResult{IP: ip, Hostname: hostname, Reachable: ok}
}

type mapVendors map[string]string

func (m mapVendors) Lookup(mac string) string { return m[mac[:8]] }

func TestSubnetProberProbesEveryHost(t *testing.T) {
	probe := &fakeHostProbe{alive: map[string]string{
		"10.1.2.200": "",
		"10.1.2.3":   "router",
		"10.1.2.40":  "",
	}}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	p := NewSubnetProber(DefaultConfig(), probe, zap.NewNop(), metrics, WithARPTable(nil))

	results := p.Scan(context.Background(), "10.1.2")

	if len(probe.calls) != 254 {
		t.Fatalf("expected 254 probed addresses, got %d", len(probe.calls))
	}
	for ip, n := range probe.calls {
		if n != 1 {
			t.Fatalf("expected %s to be probed once, got %d", ip, n)
		}
	}
	if _, ok := probe.calls["10.1.2.0"]; ok {
		t.Fatal("network address must not be probed")
	}
	if _, ok := probe.calls["10.1.2.255"]; ok {
		t.Fatal("broadcast address must not be probed")
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 reachable hosts, got %d", len(results))
	}
	order := []string{results[0].IP, results[1].IP, results[2].IP}
	if strings.Join(order, ",") != "10.1.2.3,10.1.2.40,10.1.2.200" {
		t.Fatalf("unexpected order %v", order)
	}
	if results[0].Hostname != "router" {
		t.Fatalf("expected hostname router, got %q", results[0].Hostname)
	}

	if got := testutil.ToFloat64(metrics.probes.WithLabelValues("alive")); got != 3 {
		t.Fatalf("expected 3 alive probes recorded, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.probes.WithLabelValues("dead")); got != 251 {
		t.Fatalf("expected 251 dead probes recorded, got %v", got)
	}
}

func TestSubnetProberConcurrencyBound(t *testing.T) {
	probe := &fakeHostProbe{delay: time.Millisecond}
	cfg := DefaultConfig()
	cfg.Concurrency = 8
	p := NewSubnetProber(cfg, probe, zap.NewNop(), nil, WithARPTable(nil))

	p.Scan(context.Background(), "10.1.2")

	if peak := atomic.LoadInt32(&probe.peak); peak > 8 {
		t.Fatalf("expected at most 8 probes in flight, saw %d", peak)
	}
}

func TestSubnetProberEnrichesFromARP(t *testing.T) {
	probe := &fakeHostProbe{alive: map[string]string{"10.1.2.7": ""}}
	arp := func(context.Context) map[string]string {
		return map[string]string{"10.1.2.7": "B8:27:EB:AA:BB:CC", "10.1.2.8": "00:03:93:00:00:01"}
	}
	p := NewSubnetProber(DefaultConfig(), probe, zap.NewNop(), nil,
		WithARPTable(arp),
		WithVendorResolver(mapVendors{"B8:27:EB": "Raspberry Pi Foundation"}),
	)

	results := p.Scan(context.Background(), "10.1.2")
	if len(results) != 1 {
		t.Fatalf("expected one result, got %#v", results)
	}
	if results[0].MACAddress != "B8:27:EB:AA:BB:CC" || results[0].Vendor != "Raspberry Pi Foundation" {
		t.Fatalf("expected ARP enrichment, got %#v", results[0])
	}
}

func TestSubnetProberLocalPrefix(t *testing.T) {
	p := NewSubnetProber(DefaultConfig(), &fakeHostProbe{}, zap.NewNop(), nil,
		WithInterfaceAddrs(addrsOf("127.0.0.1/8", "192.168.7.33/24")))
	prefix, err := p.LocalPrefix()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prefix != "192.168.7" {
		t.Fatalf("expected 192.168.7, got %s", prefix)
	}

	cfg := DefaultConfig()
	cfg.Subnet = "10.9.8.0/24"
	p = NewSubnetProber(cfg, &fakeHostProbe{}, zap.NewNop(), nil,
		WithInterfaceAddrs(addrsOf("192.168.7.33/24")))
	if prefix, _ := p.LocalPrefix(); prefix != "10.9.8" {
		t.Fatalf("expected override prefix, got %s", prefix)
	}
}

func TestSubnetProberNoLocalAddress(t *testing.T) {
	p := NewSubnetProber(DefaultConfig(), &fakeHostProbe{}, zap.NewNop(), nil,
		WithInterfaceAddrs(addrsOf("127.0.0.1/8")))
	if _, err := p.LocalPrefix(); !errors.Is(err, ErrNoLocalAddress) {
		t.Fatalf("expected ErrNoLocalAddress, got %v", err)
	}
}

func TestSubnetProberCancelledContext(t *testing.T) {
	probe := &fakeHostProbe{alive: map[string]string{"10.1.2.1": ""}, delay: time.Second}
	cfg := DefaultConfig()
	cfg.ProbeRate = 1000
	p := NewSubnetProber(cfg, probe, zap.NewNop(), nil, WithARPTable(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	p.Scan(ctx, "10.1.2")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected cancelled scan to return promptly, took %s", elapsed)
	}
}
