package scan

import (
	"fmt"

	"go.uber.org/zap"

	"netscanner/internal/vendor"
)

// NewDefault wires a Coordinator to the real network: go-ping probes, the system
// ARP cache, the bundled vendor table and zeroconf service discovery.
func NewDefault(cfg Config, logger *zap.Logger, metrics *Metrics) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	probe := NewPingProbe(cfg, nil, logger.Named("probe"))
	prober := NewSubnetProber(cfg, probe, logger.Named("prober"), metrics,
		WithVendorResolver(vendor.Default()),
	)
	mdns := NewMDNS(cfg.ServiceDomain, logger.Named("mdns"))
	listener := NewListener(cfg, mdns, logger.Named("listener"), metrics)

	return NewCoordinator(cfg, prober, listener, logger.Named("coordinator"), metrics), nil
}
