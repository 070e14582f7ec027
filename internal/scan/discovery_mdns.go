package scan

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// MDNS implements DiscoveryCapability on top of zeroconf. Each registration owns
// its own resolver because a zeroconf client shuts its sockets down when its browse
// context ends.
type MDNS struct {
	domain string
	logger *zap.Logger
}

// NewMDNS creates an mDNS capability browsing domain (usually "local.").
func NewMDNS(domain string, logger *zap.Logger) *MDNS {
	if domain == "" {
		domain = "local."
	}
	return &MDNS{domain: domain, logger: logger}
}

type mdnsRegistration struct {
	serviceType string
	cancel      context.CancelFunc
	done        chan struct{}

	mu       sync.Mutex
	released bool
}

func (r *mdnsRegistration) Unregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || !r.Active() {
		r.cancel()
		r.released = true
		return fmt.Errorf("%s: %w", r.serviceType, ErrNotRegistered)
	}
	r.released = true
	r.cancel()
	return nil
}

func (r *mdnsRegistration) Active() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Register browses serviceType and translates zeroconf entries into found events,
// or lost events for goodbye records (TTL 0).
func (m *MDNS) Register(ctx context.Context, serviceType string, events chan<- ServiceEvent) (Registration, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	entries := make(chan *zeroconf.ServiceEntry, 16)
	reg := &mdnsRegistration{serviceType: serviceType, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(reg.done)
		for {
			select {
			case <-browseCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				ev := eventFromEntry(entry, m.domain)
				select {
				case events <- ev:
				case <-browseCtx.Done():
					return
				}
			}
		}
	}()

	if err := resolver.Browse(browseCtx, serviceType, m.domain, entries); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to browse for %s: %w", serviceType, err)
	}
	m.logger.Debug("mDNS browse registered", zap.String("type", serviceType))
	return reg, nil
}

// Resolve returns found as resolved when the browse already carried an IPv4
// address, and otherwise performs an instance lookup.
func (m *MDNS) Resolve(ctx context.Context, found ServiceEvent) (ServiceEvent, error) {
	if found.IP != "" && found.Port > 0 {
		return found, nil
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return found, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	domain := found.Domain
	if domain == "" {
		domain = m.domain
	}
	instance := found.instance
	if instance == "" {
		instance = escapeInstance(found.Name)
	}
	if err := resolver.Lookup(lookupCtx, instance, found.Type, domain, entries); err != nil {
		return found, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}

	for {
		select {
		case <-lookupCtx.Done():
			return found, fmt.Errorf("%w: %s: %v", ErrResolveFailed, found.Name, lookupCtx.Err())
		case entry, ok := <-entries:
			if !ok {
				return found, fmt.Errorf("%w: %s: no answer", ErrResolveFailed, found.Name)
			}
			ev := eventFromEntry(entry, domain)
			if ev.IP != "" {
				ev.Name = found.Name
				return ev, nil
			}
		}
	}
}

func eventFromEntry(entry *zeroconf.ServiceEntry, domain string) ServiceEvent {
	ev := ServiceEvent{
		Kind:     EventFound,
		Name:     unescapeInstance(entry.Instance),
		instance: entry.Instance,
		Type:     strings.TrimSuffix(entry.Service, "."),
		Domain:   entry.Domain,
		HostName: strings.TrimSuffix(entry.HostName, "."),
		Port:     entry.Port,
		Text:     entry.Text,
	}
	if ev.Domain == "" {
		ev.Domain = domain
	}
	for _, ip := range entry.AddrIPv4 {
		if ip4 := ip.To4(); ip4 != nil {
			ev.IP = ip4.String()
			break
		}
	}
	if entry.TTL == 0 {
		ev.Kind = EventLost
	}
	return ev
}

// escapeInstance renders a display name in DNS presentation form.
func escapeInstance(name string) string {
	return strings.NewReplacer(`\`, `\\`, ".", `\.`, " ", `\032`).Replace(name)
}
