package scan

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// hostsPerPrefix is the number of host addresses probed in a /24: .1 through .254.
const hostsPerPrefix = 254

// InterfaceAddrs lists the addresses assigned to this machine.
type InterfaceAddrs func() ([]net.Addr, error)

// localIPv4 returns the first non-loopback IPv4 address reported by addrs.
func localIPv4(addrs InterfaceAddrs) (net.IP, error) {
	list, err := addrs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoLocalAddress, err)
	}
	for _, a := range list {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, ErrNoLocalAddress
}

// prefixOf returns the first three octets of an IPv4 address, e.g. "192.168.1".
func prefixOf(ip net.IP) string {
	ip4 := ip.To4()
	return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2])
}

// parsePrefix accepts "a.b.c", "a.b.c.d" or "a.b.c.d/24" and returns "a.b.c".
func parsePrefix(subnet string) (string, error) {
	subnet = strings.TrimSpace(subnet)
	if ip, ipNet, err := net.ParseCIDR(subnet); err == nil {
		if ip.To4() == nil {
			return "", fmt.Errorf("%w: only IPv4 ranges are supported: %s", ErrInvalidSubnet, subnet)
		}
		if ones, _ := ipNet.Mask.Size(); ones != 24 {
			return "", fmt.Errorf("%w: only /24 ranges are supported: %s", ErrInvalidSubnet, subnet)
		}
		return prefixOf(ipNet.IP), nil
	}
	if ip := net.ParseIP(subnet); ip != nil {
		if ip.To4() == nil {
			return "", fmt.Errorf("%w: only IPv4 addresses are supported: %s", ErrInvalidSubnet, subnet)
		}
		return prefixOf(ip), nil
	}
	parts := strings.Split(subnet, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubnet, subnet)
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("%w: %q", ErrInvalidSubnet, subnet)
		}
	}
	return subnet, nil
}

// hostTargets expands a three-octet prefix into prefix.1 .. prefix.254.
func hostTargets(prefix string) []string {
	targets := make([]string, 0, hostsPerPrefix)
	for i := 1; i <= hostsPerPrefix; i++ {
		targets = append(targets, prefix+"."+strconv.Itoa(i))
	}
	return targets
}

// lastOctet returns the numeric value of the final dotted-quad component, or 0.
func lastOctet(ip string) int {
	idx := strings.LastIndexByte(ip, '.')
	n, err := strconv.Atoi(ip[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
