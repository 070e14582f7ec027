package scan

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SubnetProber sweeps prefix.1 through prefix.254 and returns the reachable hosts
// as a single batch.
type SubnetProber struct {
	probe   HostProbe
	subnet  string
	addrs   InterfaceAddrs
	arp     ARPTable
	vendors VendorResolver
	limiter *rate.Limiter
	workers int
	timeout time.Duration
	logger  *zap.Logger
	metrics *Metrics
}

// ProberOption customises a SubnetProber.
type ProberOption func(*SubnetProber)

// WithInterfaceAddrs overrides how the local address is discovered.
func WithInterfaceAddrs(addrs InterfaceAddrs) ProberOption {
	return func(p *SubnetProber) { p.addrs = addrs }
}

// WithARPTable overrides the MAC address source. Nil disables enrichment.
func WithARPTable(arp ARPTable) ProberOption {
	return func(p *SubnetProber) { p.arp = arp }
}

// WithVendorResolver sets the MAC to vendor lookup used during enrichment.
func WithVendorResolver(v VendorResolver) ProberOption {
	return func(p *SubnetProber) { p.vendors = v }
}

// NewSubnetProber creates a prober that uses probe for each address.
func NewSubnetProber(cfg Config, probe HostProbe, logger *zap.Logger, metrics *Metrics, opts ...ProberOption) *SubnetProber {
	p := &SubnetProber{
		probe:   probe,
		subnet:  cfg.Subnet,
		addrs:   net.InterfaceAddrs,
		arp:     SystemARPTable,
		workers: cfg.Concurrency,
		timeout: cfg.ProbeTimeout + cfg.HostnameTimeout,
		logger:  logger,
		metrics: metrics,
	}
	if cfg.ProbeRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRate), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LocalPrefix returns the configured override or the first three octets of this
// machine's IPv4 address.
func (p *SubnetProber) LocalPrefix() (string, error) {
	if p.subnet != "" {
		return parsePrefix(p.subnet)
	}
	ip, err := localIPv4(p.addrs)
	if err != nil {
		return "", err
	}
	return prefixOf(ip), nil
}

// Scan probes every host address under prefix and returns the reachable ones
// sorted by last octet. It returns only once every probe has finished.
func (p *SubnetProber) Scan(ctx context.Context, prefix string) []ProbeResult {
	targets := hostTargets(prefix)
	workers := p.workers
	if workers <= 0 || workers > len(targets) {
		workers = len(targets)
	}

	p.logger.Info("starting subnet probe",
		zap.String("prefix", prefix),
		zap.Int("hosts", len(targets)),
		zap.Int("concurrency", workers),
	)

	var (
		mu      sync.Mutex
		results []ProbeResult
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, workers)

	for _, target := range targets {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				break
			}
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			defer func() { <-sem }()

			probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
			res := p.probe.Probe(probeCtx, ip)
			cancel()

			p.metrics.probe(res.Reachable)
			if !res.Reachable {
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	p.enrich(ctx, results)
	sort.Slice(results, func(i, j int) bool {
		return lastOctet(results[i].IP) < lastOctet(results[j].IP)
	})

	p.logger.Info("subnet probe finished",
		zap.String("prefix", prefix),
		zap.Int("alive", len(results)),
	)
	return results
}

// enrich attaches MAC and vendor from the ARP cache, which the sweep has just
// populated for every host that answered.
func (p *SubnetProber) enrich(ctx context.Context, results []ProbeResult) {
	if p.arp == nil || len(results) == 0 {
		return
	}
	table := p.arp(ctx)
	for i := range results {
		mac, ok := table[results[i].IP]
		if !ok {
			continue
		}
		results[i].MACAddress = mac
		if p.vendors != nil {
			results[i].Vendor = p.vendors.Lookup(mac)
		}
	}
}
