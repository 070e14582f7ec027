package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultServiceTypes is the static catalog of DNS-SD queries issued on every scan.
var DefaultServiceTypes = []string{
	"_http._tcp",           // Web servers
	"_https._tcp",          // Secure web servers
	"_ssh._tcp",            // Remote shell
	"_sftp-ssh._tcp",       // SFTP over SSH
	"_ftp._tcp",            // File transfer
	"_smb._tcp",            // SMB/Samba file sharing
	"_afpovertcp._tcp",     // Apple Filing Protocol
	"_raop._tcp",           // AirPlay audio
	"_airplay._tcp",        // AirPlay
	"_googlecast._tcp",     // Google Cast
	"_printer._tcp",        // Printers
	"_ipp._tcp",            // Internet Printing Protocol
	"_workstation._tcp",    // Workstations
	"_device-info._tcp",    // Device info
	"_companion-link._tcp", // Apple devices
}

// Config describes the parameters of a scan run.
type Config struct {
	Subnet           string        `json:"subnet" mapstructure:"subnet"`
	ProbeTimeout     time.Duration `json:"probeTimeout" mapstructure:"probe_timeout"`
	HostnameTimeout  time.Duration `json:"hostnameTimeout" mapstructure:"hostname_timeout"`
	Concurrency      int           `json:"concurrency" mapstructure:"concurrency"`
	ProbeRate        float64       `json:"probeRate" mapstructure:"probe_rate"`
	Privileged       bool          `json:"privileged" mapstructure:"privileged"`
	DiscoveryTimeout time.Duration `json:"discoveryTimeout" mapstructure:"discovery_timeout"`
	ResolveTimeout   time.Duration `json:"resolveTimeout" mapstructure:"resolve_timeout"`
	ServiceDomain    string        `json:"serviceDomain" mapstructure:"service_domain"`
	ServiceTypes     []string      `json:"serviceTypes" mapstructure:"service_types"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:     100 * time.Millisecond,
		HostnameTimeout:  500 * time.Millisecond,
		DiscoveryTimeout: 10 * time.Second,
		ResolveTimeout:   3 * time.Second,
		ServiceDomain:    "local.",
		ServiceTypes:     append([]string(nil), DefaultServiceTypes...),
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.ProbeTimeout <= 0 {
		return errors.New("probe_timeout must be greater than 0")
	}
	if c.HostnameTimeout <= 0 {
		return errors.New("hostname_timeout must be greater than 0")
	}
	if c.DiscoveryTimeout <= 0 {
		return errors.New("discovery_timeout must be greater than 0")
	}
	if c.ResolveTimeout <= 0 {
		return errors.New("resolve_timeout must be greater than 0")
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency cannot be negative")
	}
	if c.ProbeRate < 0 {
		return errors.New("probe_rate cannot be negative")
	}
	if len(c.ServiceTypes) == 0 {
		return errors.New("service_types must list at least one query")
	}
	if c.Subnet != "" {
		if _, err := parsePrefix(c.Subnet); err != nil {
			return err
		}
	}
	return nil
}

// ScanState represents the lifecycle state of a scan session.
type ScanState string

const (
	StateIdle      ScanState = "idle"
	StateScanning  ScanState = "scanning"
	StateCompleted ScanState = "completed"
	StateError     ScanState = "error"
)

// ScanMethod identifies one discovery source.
type ScanMethod uint8

const (
	MethodProbe ScanMethod = 1 << iota
	MethodService
)

func (m ScanMethod) String() string {
	switch m {
	case MethodProbe:
		return "probe"
	case MethodService:
		return "service"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// MethodSet is a set of ScanMethod values.
type MethodSet uint8

// Methods returns the members in a fixed order.
func (s MethodSet) Methods() []ScanMethod {
	var out []ScanMethod
	for _, m := range []ScanMethod{MethodProbe, MethodService} {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

func (s MethodSet) Has(m ScanMethod) bool         { return s&MethodSet(m) != 0 }
func (s MethodSet) With(m ScanMethod) MethodSet    { return s | MethodSet(m) }
func (s MethodSet) Without(m ScanMethod) MethodSet { return s &^ MethodSet(m) }
func (s MethodSet) Empty() bool                    { return s == 0 }

func (s MethodSet) String() string {
	methods := s.Methods()
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

// MarshalJSON encodes the set as an array of method names.
func (s MethodSet) MarshalJSON() ([]byte, error) {
	methods := s.Methods()
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.String()
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes an array of method names.
func (s *MethodSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out MethodSet
	for _, name := range names {
		switch name {
		case "probe":
			out = out.With(MethodProbe)
		case "service":
			out = out.With(MethodService)
		default:
			return fmt.Errorf("unknown scan method %q", name)
		}
	}
	*s = out
	return nil
}

// ProbeResult is the outcome of probing a single address.
type ProbeResult struct {
	IP         string        `json:"ip"`
	Hostname   string        `json:"hostname,omitempty"`
	MACAddress string        `json:"macAddress,omitempty"`
	Vendor     string        `json:"vendor,omitempty"`
	Reachable  bool          `json:"reachable"`
	RTT        time.Duration `json:"rtt,omitempty"`
}

// EventKind tags a ServiceEvent.
type EventKind string

const (
	EventFound    EventKind = "found"
	EventResolved EventKind = "resolved"
	EventLost     EventKind = "lost"
)

// ServiceEvent is emitted by service discovery. Only resolved events carry a usable
// IP and port.
type ServiceEvent struct {
	Kind     EventKind `json:"kind"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Domain   string    `json:"domain,omitempty"`
	HostName string    `json:"hostName,omitempty"`
	IP       string    `json:"ip,omitempty"`
	Port     int       `json:"port,omitempty"`
	Text     []string  `json:"text,omitempty"`

	// instance is the name exactly as it appeared on the wire, escapes included.
	instance string
}

// Key identifies the advertised service instance independent of its address.
func (e ServiceEvent) Key() string {
	return e.Name + "." + e.Type + "." + e.Domain
}

// ServiceRecord describes one advertised service on a device.
type ServiceRecord struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Port int    `json:"port"`
}

// UnifiedDevice is the reconciled view of one address across all sources.
type UnifiedDevice struct {
	IPAddress        string          `json:"ipAddress"`
	Hostname         string          `json:"hostname,omitempty"`
	MACAddress       string          `json:"macAddress,omitempty"`
	Vendor           string          `json:"vendor,omitempty"`
	Reachable        bool            `json:"isReachable"`
	Services         []ServiceRecord `json:"services"`
	DiscoveryMethods MethodSet       `json:"discoveryMethod"`
}

// Snapshot is a point-in-time view of a scan session.
type Snapshot struct {
	SessionID string          `json:"sessionId,omitempty"`
	Seq       uint64          `json:"seq"`
	State     ScanState       `json:"state"`
	Active    MethodSet       `json:"activeMethods"`
	Devices   []UnifiedDevice `json:"devices"`
	StartedAt time.Time       `json:"startedAt,omitempty"`
	Updated   time.Time       `json:"updated"`
}

var (
	// ErrNoLocalAddress indicates the host has no usable IPv4 address.
	ErrNoLocalAddress = errors.New("no local IPv4 address")
	// ErrInvalidSubnet indicates a malformed subnet override.
	ErrInvalidSubnet = errors.New("invalid subnet")
	// ErrNotRegistered indicates a discovery query was already torn down.
	ErrNotRegistered = errors.New("discovery query not registered")
	// ErrResolveFailed indicates a found service could not be resolved to an IPv4 address.
	ErrResolveFailed = errors.New("service resolution failed")
	// ErrNoDiscovery indicates no discovery query could be registered.
	ErrNoDiscovery = errors.New("no discovery query could be registered")
	// ErrNoNetwork indicates neither discovery source can run.
	ErrNoNetwork = errors.New("no network capability available")
)
