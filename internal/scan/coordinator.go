package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Prober is the batch discovery source.
type Prober interface {
	LocalPrefix() (string, error)
	Scan(ctx context.Context, prefix string) []ProbeResult
}

// ServiceSource is the streaming discovery source.
type ServiceSource interface {
	Start(ctx context.Context) (<-chan ServiceEvent, error)
	Stop()
	IsActive() bool
}

// Coordinator runs scan sessions. It starts both sources, tracks which of them are
// still in flight and moves the session to completed once neither is.
type Coordinator struct {
	// opMu serialises session start, stop and teardown so that the shared
	// service source is only ever stopped on behalf of the current session.
	opMu sync.Mutex

	mu      sync.Mutex
	state   ScanState
	session *session

	discoveryTimeout time.Duration
	prober           Prober
	source           ServiceSource
	logger           *zap.Logger
	metrics          *Metrics
}

type session struct {
	id         uuid.UUID
	ctx        context.Context
	cancel     context.CancelFunc
	reconciler *Reconciler
	startedAt  time.Time
	update     func(Snapshot)

	// guarded by Coordinator.mu
	active  MethodSet
	timer   *time.Timer
	seq     uint64
	devices []UnifiedDevice

	// notifyMu keeps update callbacks in the order their snapshots were taken.
	notifyMu sync.Mutex
	consumed chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func (s *session) finishDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// NewCoordinator creates an idle Coordinator.
func NewCoordinator(cfg Config, prober Prober, source ServiceSource, logger *zap.Logger, metrics *Metrics) *Coordinator {
	return &Coordinator{
		state:            StateIdle,
		discoveryTimeout: cfg.DiscoveryTimeout,
		prober:           prober,
		source:           source,
		logger:           logger,
		metrics:          metrics,
	}
}

// Start begins a new session and returns its first snapshot. A session already in
// progress is torn down and replaced. Both sources are marked active; a source that
// cannot run is finished straight away, and only when neither can run does the
// session enter the error state and Start return ErrNoNetwork.
//
// ctx bounds the whole session, not just the call. update, if non-nil, receives
// every snapshot of the session in order; it must not call back into Start or
// StopScan.
func (c *Coordinator) Start(ctx context.Context, update func(Snapshot)) (Snapshot, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.teardownLocked()

	s := &session{
		id:        uuid.New(),
		startedAt: time.Now().UTC(),
		update:    update,
		done:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.reconciler = NewReconciler(func(seq uint64, devices []UnifiedDevice) {
		c.onView(s, seq, devices)
	})
	logger := c.logger.With(zap.String("session", s.id.String()))

	prefix, probeErr := c.prober.LocalPrefix()
	if probeErr != nil {
		logger.Warn("subnet probe unavailable", zap.Error(probeErr))
	}
	events, sourceErr := c.source.Start(s.ctx)
	if sourceErr != nil {
		logger.Warn("service discovery unavailable", zap.Error(sourceErr))
	}

	if probeErr != nil && sourceErr != nil {
		s.cancel()
		s.finishDone()
		c.mu.Lock()
		c.session = s
		c.state = StateError
		snapshot := c.snapshotLocked()
		c.mu.Unlock()

		logger.Error("scan could not start")
		c.notify(s, snapshot)
		return snapshot, fmt.Errorf("%w: probe: %v; discovery: %v", ErrNoNetwork, probeErr, sourceErr)
	}

	c.mu.Lock()
	c.session = s
	c.state = StateScanning
	s.active = MethodSet(0).With(MethodProbe).With(MethodService)
	if sourceErr == nil {
		s.consumed = make(chan struct{})
		s.timer = time.AfterFunc(c.discoveryTimeout, func() {
			c.stopService(s.id, "timeout")
		})
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.scanStarted()
	logger.Info("scan started",
		zap.String("prefix", prefix),
		zap.Duration("discovery_timeout", c.discoveryTimeout),
	)
	c.notify(s, snapshot)

	if sourceErr == nil {
		go c.consume(s, events)
	} else {
		c.finish(s.id, MethodService)
	}
	go c.probe(s, prefix, probeErr)

	return snapshot, nil
}

// StopScan ends service discovery for the current session and cancels its pending
// timeout. It is a no-op when discovery is not running.
func (c *Coordinator) StopScan() {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		c.logger.Debug("no scan session to stop")
		return
	}
	c.stopService(s.id, "manual")
}

// Close tears down the current session, if any, and leaves the coordinator idle
// with the last known devices.
func (c *Coordinator) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardownLocked()
}

// Snapshot returns the current observable state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() ScanState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveMethods returns the sources still in flight.
func (c *Coordinator) ActiveMethods() MethodSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.active
}

// Devices returns the latest unified device list.
func (c *Coordinator) Devices() []UnifiedDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return []UnifiedDevice{}
	}
	return copyDevices(c.session.devices)
}

// Wait blocks until the current session is completed, failed or replaced, and
// returns the snapshot at that point.
func (c *Coordinator) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return c.Snapshot(), nil
	}
	select {
	case <-s.done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Export serialises the current snapshot to JSON.
func (c *Coordinator) Export() ([]byte, error) {
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return nil, err
	}
	return data, nil
}

// teardownLocked cancels the current session. opMu must be held.
func (c *Coordinator) teardownLocked() {
	c.mu.Lock()
	s := c.session
	var running bool
	if s != nil {
		running = s.active.Has(MethodService)
		if s.timer != nil {
			s.timer.Stop()
		}
		s.active = 0
		if c.state == StateScanning {
			c.state = StateIdle
		}
	}
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	if running {
		c.source.Stop()
		if s.consumed != nil {
			<-s.consumed
		}
	}
	s.finishDone()
	c.logger.Debug("scan session torn down", zap.String("session", s.id.String()))
}

// stopService finishes SERVICE for session id. Calls for a replaced session or a
// session whose discovery already ended do nothing.
func (c *Coordinator) stopService(id uuid.UUID, reason string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	s := c.session
	if s == nil || s.id != id || !s.active.Has(MethodService) {
		c.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	c.mu.Unlock()

	c.source.Stop()
	if s.consumed != nil {
		<-s.consumed
	}
	c.logger.Info("service discovery finished",
		zap.String("session", id.String()),
		zap.String("reason", reason),
	)
	c.finish(id, MethodService)
}

// finish removes method from the session's active set. The emptiness check runs
// under the same lock as the removal, so exactly one caller completes the session.
func (c *Coordinator) finish(id uuid.UUID, method ScanMethod) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.id != id || !s.active.Has(method) {
		c.mu.Unlock()
		return
	}
	s.active = s.active.Without(method)
	completed := s.active.Empty()
	if completed {
		c.state = StateCompleted
	}
	c.mu.Unlock()

	s.notifyMu.Lock()
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	current := c.session == s
	c.mu.Unlock()
	if current && s.update != nil {
		s.update(snapshot)
	}
	s.notifyMu.Unlock()

	if completed {
		elapsed := time.Since(s.startedAt)
		c.metrics.scanCompleted(elapsed)
		c.logger.Info("scan completed",
			zap.String("session", id.String()),
			zap.Int("devices", len(snapshot.Devices)),
			zap.Duration("elapsed", elapsed),
		)
		s.finishDone()
	}
}

func (c *Coordinator) probe(s *session, prefix string, err error) {
	if err == nil {
		results := c.prober.Scan(s.ctx, prefix)
		if s.ctx.Err() == nil {
			s.reconciler.OnProbeBatch(results)
		}
	}
	c.finish(s.id, MethodProbe)
}

func (c *Coordinator) consume(s *session, events <-chan ServiceEvent) {
	defer close(s.consumed)
	for ev := range events {
		switch ev.Kind {
		case EventResolved:
			s.reconciler.OnServiceResolved(ev.IP, ServiceRecord{Name: ev.Name, Type: ev.Type, Port: ev.Port})
		case EventLost:
			s.reconciler.OnServiceLost(ev.IP)
		}
	}
}

// onView caches a reconciled view for s, keeping only the newest sequence.
func (c *Coordinator) onView(s *session, seq uint64, devices []UnifiedDevice) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	c.mu.Lock()
	if c.session != s || seq <= s.seq {
		c.mu.Unlock()
		return
	}
	s.seq = seq
	s.devices = devices
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.setDevices(len(devices))
	if s.update != nil {
		s.update(snapshot)
	}
}

func (c *Coordinator) notify(s *session, snapshot Snapshot) {
	if s.update == nil {
		return
	}
	s.notifyMu.Lock()
	s.update(snapshot)
	s.notifyMu.Unlock()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		State:   c.state,
		Devices: []UnifiedDevice{},
		Updated: time.Now().UTC(),
	}
	if s := c.session; s != nil {
		snapshot.SessionID = s.id.String()
		snapshot.Seq = s.seq
		snapshot.Active = s.active
		snapshot.Devices = copyDevices(s.devices)
		snapshot.StartedAt = s.startedAt
	}
	return snapshot
}
