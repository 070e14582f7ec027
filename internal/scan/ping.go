package scan

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"syscall"
	"time"

	ping "github.com/go-ping/ping"
	"go.uber.org/zap"
)

// HostProbe determines reachability and hostname for a single address.
// Implementations must be safe for concurrent use.
type HostProbe interface {
	Probe(ctx context.Context, ip string) ProbeResult
}

// defaultFallbackPorts are dialled when ICMP is unavailable. A refused connection
// still proves the host is up.
var defaultFallbackPorts = []int{80, 443, 22, 445, 7}

type reachFunc func(ctx context.Context, ip string) (bool, time.Duration, error)

// PingProbe checks liveness with a single ICMP echo, falling back to TCP connects
// when raw or datagram ICMP sockets are not permitted, then looks up reverse DNS.
type PingProbe struct {
	timeout         time.Duration
	hostnameTimeout time.Duration
	privileged      bool
	resolver        HostnameResolver
	logger          *zap.Logger

	reach reachFunc
}

// NewPingProbe builds a probe from cfg. A nil resolver uses net.DefaultResolver.
func NewPingProbe(cfg Config, resolver HostnameResolver, logger *zap.Logger) *PingProbe {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	p := &PingProbe{
		timeout:         cfg.ProbeTimeout,
		hostnameTimeout: cfg.HostnameTimeout,
		privileged:      cfg.Privileged || runtime.GOOS == "windows",
		resolver:        resolver,
		logger:          logger,
	}
	p.reach = p.icmpOrTCP
	return p
}

// Probe never returns an error: every failure means "not reachable".
func (p *PingProbe) Probe(ctx context.Context, ip string) ProbeResult {
	result := ProbeResult{IP: ip}

	alive, rtt, err := p.reach(ctx, ip)
	if err != nil {
		p.logger.Debug("probe failed", zap.String("ip", ip), zap.Error(err))
		return result
	}
	if !alive {
		return result
	}

	result.Reachable = true
	result.RTT = rtt
	result.Hostname = lookupHostname(ctx, p.resolver, ip, p.hostnameTimeout)
	return result
}

func (p *PingProbe) icmpOrTCP(ctx context.Context, ip string) (bool, time.Duration, error) {
	summary, err := pingHost(ctx, ip, p.timeout, p.privileged)
	if err == nil {
		return summary.Reachable, summary.AvgLatency, nil
	}
	if ctx.Err() != nil {
		return false, 0, ctx.Err()
	}
	p.logger.Debug("icmp unavailable, falling back to tcp", zap.String("ip", ip), zap.Error(err))
	return tcpReachable(ctx, ip, defaultFallbackPorts, p.timeout)
}

type pingSummary struct {
	Reachable  bool
	AvgLatency time.Duration
	TTL        int
}

func pingHost(ctx context.Context, host string, timeout time.Duration, privileged bool) (pingSummary, error) {
	var summary pingSummary

	pinger, err := ping.NewPinger(host)
	if err != nil {
		return summary, err
	}
	pinger.SetPrivileged(privileged)
	pinger.Count = 1
	pinger.Timeout = timeout

	pinger.OnRecv = func(pkt *ping.Packet) {
		if summary.TTL == 0 {
			summary.TTL = pkt.Ttl
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-errCh
		return summary, ctx.Err()
	case err := <-errCh:
		if err != nil {
			return summary, err
		}
	}

	stats := pinger.Statistics()
	if stats == nil {
		return summary, errors.New("no statistics available")
	}
	if stats.PacketsRecv > 0 {
		summary.Reachable = true
		summary.AvgLatency = stats.AvgRtt
	}
	return summary, nil
}

// tcpReachable dials all ports at once and reports the first answer. Both an
// accepted and a refused connection count as alive.
func tcpReachable(ctx context.Context, host string, ports []int, timeout time.Duration) (bool, time.Duration, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	answers := make(chan bool, len(ports))
	dialer := &net.Dialer{}
	for _, port := range ports {
		go func(port int) {
			conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err == nil {
				_ = conn.Close()
				answers <- true
				return
			}
			answers <- errors.Is(err, syscall.ECONNREFUSED)
		}(port)
	}

	for range ports {
		if <-answers {
			return true, time.Since(start), nil
		}
	}
	return false, 0, nil
}
