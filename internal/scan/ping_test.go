package scan

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeResolver struct {
	names map[string][]string
	err   error
}

func (f fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.names[addr], nil
}

func newTestProbe(reach reachFunc, resolver HostnameResolver) *PingProbe {
	cfg := DefaultConfig()
	p := NewPingProbe(cfg, resolver, zap.NewNop())
	p.reach = reach
	return p
}

func TestPingProbeReachableWithHostname(t *testing.T) {
	p := newTestProbe(
		func(context.Context, string) (bool, time.Duration, error) { return true, 3 * time.Millisecond, nil },
		fakeResolver{names: map[string][]string{"10.0.0.5": {"nas.lan."}}},
	)
	res := p.Probe(context.Background(), "10.0.0.5")
	if !res.Reachable {
		t.Fatal("expected reachable result")
	}
	if res.Hostname != "nas.lan" {
		t.Fatalf("expected hostname nas.lan, got %q", res.Hostname)
	}
	if res.RTT != 3*time.Millisecond {
		t.Fatalf("unexpected rtt %s", res.RTT)
	}
}

func TestPingProbeHostnameEqualToIP(t *testing.T) {
	p := newTestProbe(
		func(context.Context, string) (bool, time.Duration, error) { return true, 0, nil },
		fakeResolver{names: map[string][]string{"10.0.0.5": {"10.0.0.5."}}},
	)
	if res := p.Probe(context.Background(), "10.0.0.5"); res.Hostname != "" {
		t.Fatalf("expected no hostname, got %q", res.Hostname)
	}
}

func TestPingProbeResolverFailure(t *testing.T) {
	p := newTestProbe(
		func(context.Context, string) (bool, time.Duration, error) { return true, 0, nil },
		fakeResolver{err: errors.New("no PTR")},
	)
	res := p.Probe(context.Background(), "10.0.0.5")
	if !res.Reachable || res.Hostname != "" {
		t.Fatalf("expected reachable host without hostname, got %#v", res)
	}
}

func TestPingProbeFailureIsUnreachable(t *testing.T) {
	p := newTestProbe(
		func(context.Context, string) (bool, time.Duration, error) { return false, 0, errors.New("network down") },
		fakeResolver{},
	)
	if res := p.Probe(context.Background(), "10.0.0.5"); res.Reachable {
		t.Fatal("expected probe error to mean unreachable")
	}
}

func TestTCPReachableAcceptedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	alive, _, err := tcpReachable(context.Background(), "127.0.0.1", []int{port}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !alive {
		t.Fatal("expected listening host to be reachable")
	}
}

func TestTCPReachableRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	alive, _, err := tcpReachable(context.Background(), "127.0.0.1", []int{port}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !alive {
		t.Fatal("expected a refused connection to count as alive")
	}
}
