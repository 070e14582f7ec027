package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DiscoveryCapability is the DNS-SD facility the listener drives.
type DiscoveryCapability interface {
	// Register starts browsing for serviceType and delivers found and lost events
	// on events until the registration is torn down or ctx ends.
	Register(ctx context.Context, serviceType string, events chan<- ServiceEvent) (Registration, error)
	// Resolve turns a found event into a resolved one carrying an IPv4 address and
	// port, or returns an error wrapping ErrResolveFailed.
	Resolve(ctx context.Context, found ServiceEvent) (ServiceEvent, error)
}

// Registration is one live browse query.
type Registration interface {
	// Unregister tears the query down. It returns ErrNotRegistered when the query
	// is already gone.
	Unregister() error
	Active() bool
}

// Listener issues one browse query per catalog entry and forwards resolved and
// lost services. Only one run is live at a time.
type Listener struct {
	capability     DiscoveryCapability
	catalog        []string
	resolveTimeout time.Duration
	logger         *zap.Logger
	metrics        *Metrics

	mu  sync.Mutex
	run *listenerRun
}

type listenerRun struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	out    chan ServiceEvent
	regs   map[string]Registration

	mu        sync.Mutex
	instances map[string]string
}

// NewListener creates a Listener over capability using cfg's catalog.
func NewListener(cfg Config, capability DiscoveryCapability, logger *zap.Logger, metrics *Metrics) *Listener {
	return &Listener{
		capability:     capability,
		catalog:        append([]string(nil), cfg.ServiceTypes...),
		resolveTimeout: cfg.ResolveTimeout,
		logger:         logger,
		metrics:        metrics,
	}
}

// Start registers every catalog query and returns the stream of resolved and lost
// events. The stream is closed by Stop. A previous run is stopped first. Start
// fails with ErrNoDiscovery only when no query could be registered.
func (l *Listener) Start(ctx context.Context) (<-chan ServiceEvent, error) {
	l.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	run := &listenerRun{
		cancel:    cancel,
		out:       make(chan ServiceEvent),
		regs:      make(map[string]Registration, len(l.catalog)),
		instances: make(map[string]string),
	}
	raw := make(chan ServiceEvent, 64)

	for _, serviceType := range l.catalog {
		reg, err := l.capability.Register(runCtx, serviceType, raw)
		if err != nil {
			l.metrics.discoveryFailure("register")
			l.logger.Warn("discovery query failed to start",
				zap.String("type", serviceType), zap.Error(err))
			continue
		}
		run.regs[serviceType] = reg
	}
	if len(run.regs) == 0 {
		cancel()
		return nil, ErrNoDiscovery
	}

	l.logger.Info("service discovery started",
		zap.Int("queries", len(run.regs)),
		zap.Int("failed", len(l.catalog)-len(run.regs)),
	)

	run.wg.Add(1)
	go l.dispatch(runCtx, run, raw)

	l.mu.Lock()
	l.run = run
	l.mu.Unlock()
	return run.out, nil
}

// Stop tears down every query and closes the event stream. It is a no-op when
// discovery is not running, and no event is delivered after it returns.
func (l *Listener) Stop() {
	l.mu.Lock()
	run := l.run
	l.run = nil
	l.mu.Unlock()

	if run == nil {
		l.logger.Debug("discovery not active, nothing to stop")
		return
	}

	for serviceType, reg := range run.regs {
		err := reg.Unregister()
		switch {
		case err == nil:
		case errors.Is(err, ErrNotRegistered):
			l.logger.Warn("discovery query already torn down", zap.String("type", serviceType))
		default:
			l.metrics.discoveryFailure("unregister")
			l.logger.Error("failed to stop discovery query",
				zap.String("type", serviceType), zap.Error(err))
		}
	}
	run.cancel()
	run.wg.Wait()
	close(run.out)
	l.logger.Info("service discovery stopped")
}

// IsActive reports whether any query of the current run is still live.
func (l *Listener) IsActive() bool {
	l.mu.Lock()
	run := l.run
	l.mu.Unlock()
	if run == nil {
		return false
	}
	for _, reg := range run.regs {
		if reg.Active() {
			return true
		}
	}
	return false
}

func (l *Listener) dispatch(ctx context.Context, run *listenerRun, raw <-chan ServiceEvent) {
	defer run.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-raw:
			l.metrics.serviceEvent(ev.Kind)
			switch ev.Kind {
			case EventFound:
				run.wg.Add(1)
				go l.resolve(ctx, run, ev)
			case EventLost:
				l.lost(ctx, run, ev)
			}
		}
	}
}

func (l *Listener) resolve(ctx context.Context, run *listenerRun, found ServiceEvent) {
	defer run.wg.Done()

	resolveCtx, cancel := context.WithTimeout(ctx, l.resolveTimeout)
	defer cancel()

	resolved, err := l.capability.Resolve(resolveCtx, found)
	if err == nil && (resolved.IP == "" || resolved.Port == 0) {
		err = ErrResolveFailed
	}
	if err != nil {
		if ctx.Err() == nil {
			l.metrics.discoveryFailure("resolve")
			l.logger.Debug("service resolution failed",
				zap.String("name", found.Name), zap.String("type", found.Type), zap.Error(err))
		}
		return
	}
	resolved.Kind = EventResolved
	l.metrics.serviceEvent(EventResolved)

	run.mu.Lock()
	run.instances[resolved.Key()] = resolved.IP
	run.mu.Unlock()

	l.logger.Debug("service resolved",
		zap.String("name", resolved.Name),
		zap.String("type", resolved.Type),
		zap.String("ip", resolved.IP),
		zap.Int("port", resolved.Port),
	)
	l.emit(ctx, run, resolved)
}

// lost forwards a removal keyed by the address the instance was resolved to.
func (l *Listener) lost(ctx context.Context, run *listenerRun, ev ServiceEvent) {
	run.mu.Lock()
	if ev.IP == "" {
		ev.IP = run.instances[ev.Key()]
	}
	delete(run.instances, ev.Key())
	run.mu.Unlock()

	if ev.IP == "" {
		l.logger.Debug("lost service was never resolved", zap.String("name", ev.Name))
		return
	}
	l.emit(ctx, run, ev)
}

// emit hands ev to the consumer. out is unbuffered, so nothing is left queued once
// Stop has returned.
func (l *Listener) emit(ctx context.Context, run *listenerRun, ev ServiceEvent) {
	if ctx.Err() != nil {
		return
	}
	select {
	case run.out <- ev:
	case <-ctx.Done():
	}
}
