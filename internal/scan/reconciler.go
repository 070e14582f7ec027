package scan

import "sync"

// Reconciler merges probe results and resolved services into one device list keyed
// by IP address. All methods are safe for concurrent use.
type Reconciler struct {
	mu       sync.Mutex
	probes   map[string]ProbeResult
	services map[string][]ServiceRecord
	seq      uint64
	view     []UnifiedDevice

	onChange func(seq uint64, devices []UnifiedDevice)
}

// NewReconciler creates an empty Reconciler. onChange, if non-nil, receives every
// recomputed view together with its sequence number. It is called without the
// Reconciler's lock held, so callers that cache views should keep the highest seq.
func NewReconciler(onChange func(seq uint64, devices []UnifiedDevice)) *Reconciler {
	return &Reconciler{
		probes:   make(map[string]ProbeResult),
		services: make(map[string][]ServiceRecord),
		onChange: onChange,
	}
}

// OnProbeBatch records the reachable hosts from a subnet sweep.
func (r *Reconciler) OnProbeBatch(batch []ProbeResult) {
	r.mu.Lock()
	for _, res := range batch {
		if !res.Reachable || res.IP == "" {
			continue
		}
		if prev, ok := r.probes[res.IP]; ok {
			if res.Hostname == "" {
				res.Hostname = prev.Hostname
			}
			if res.MACAddress == "" {
				res.MACAddress, res.Vendor = prev.MACAddress, prev.Vendor
			}
		}
		r.probes[res.IP] = res
	}
	r.publishLocked()
}

// OnServiceResolved attaches a resolved service to ip. Repeated records are ignored.
func (r *Reconciler) OnServiceResolved(ip string, record ServiceRecord) {
	if ip == "" {
		return
	}
	r.mu.Lock()
	existing := r.services[ip]
	for _, rec := range existing {
		if rec == record {
			r.mu.Unlock()
			return
		}
	}
	r.services[ip] = append(existing, record)
	r.publishLocked()
}

// OnServiceLost drops every service recorded for ip. All services from the same
// address are cleared together, even ones that are still advertised.
func (r *Reconciler) OnServiceLost(ip string) {
	r.mu.Lock()
	if _, ok := r.services[ip]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.services, ip)
	r.publishLocked()
}

// Reset clears both source collections and the published view.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.probes = make(map[string]ProbeResult)
	r.services = make(map[string][]ServiceRecord)
	r.publishLocked()
}

// CurrentView returns a copy of the latest merged device list.
func (r *Reconciler) CurrentView() []UnifiedDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyDevices(r.view)
}

// publishLocked recomputes the view and releases the lock before notifying.
func (r *Reconciler) publishLocked() {
	r.view = merge(r.probes, r.services)
	r.seq++
	seq := r.seq
	devices := copyDevices(r.view)
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(seq, devices)
	}
}

func merge(probes map[string]ProbeResult, services map[string][]ServiceRecord) []UnifiedDevice {
	merged := make(map[string]*UnifiedDevice, len(probes)+len(services))

	for ip, res := range probes {
		merged[ip] = &UnifiedDevice{
			IPAddress:        ip,
			Hostname:         res.Hostname,
			MACAddress:       res.MACAddress,
			Vendor:           res.Vendor,
			Reachable:        res.Reachable,
			Services:         []ServiceRecord{},
			DiscoveryMethods: MethodSet(0).With(MethodProbe),
		}
	}

	for ip, records := range services {
		if len(records) == 0 {
			continue
		}
		device, ok := merged[ip]
		if !ok {
			device = &UnifiedDevice{
				IPAddress: ip,
				Reachable: true,
				Services:  []ServiceRecord{},
			}
			merged[ip] = device
		}
		for _, rec := range records {
			cleaned := ServiceRecord{Name: cleanServiceName(rec.Name), Type: rec.Type, Port: rec.Port}
			if !containsRecord(device.Services, cleaned) {
				device.Services = append(device.Services, cleaned)
			}
		}
		if device.Hostname == "" {
			device.Hostname = device.Services[0].Name
		}
		device.DiscoveryMethods = device.DiscoveryMethods.With(MethodService)
	}

	out := make([]UnifiedDevice, 0, len(merged))
	for _, device := range merged {
		out = append(out, *device)
	}
	sortDevices(out)
	return out
}

func containsRecord(records []ServiceRecord, record ServiceRecord) bool {
	for _, rec := range records {
		if rec == record {
			return true
		}
	}
	return false
}

func copyDevices(devices []UnifiedDevice) []UnifiedDevice {
	if devices == nil {
		return []UnifiedDevice{}
	}
	out := make([]UnifiedDevice, len(devices))
	for i, d := range devices {
		d.Services = append([]ServiceRecord{}, d.Services...)
		out[i] = d
	}
	return out
}
