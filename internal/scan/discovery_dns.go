package scan

import (
	"context"
	"time"
)

// HostnameResolver performs reverse DNS lookups. *net.Resolver satisfies it.
type HostnameResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// lookupHostname returns the first PTR name for ip, or "" when there is none. A
// name equal to the address itself is treated as no name.
func lookupHostname(ctx context.Context, resolver HostnameResolver, ip string, timeout time.Duration) string {
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names, err := resolver.LookupAddr(lookupCtx, ip)
	if err != nil {
		// PTR records are routinely missing on home networks.
		return ""
	}
	for _, name := range uniqueStrings(names) {
		if name != ip {
			return name
		}
	}
	return ""
}
