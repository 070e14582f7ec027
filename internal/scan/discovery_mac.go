package scan

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// ARPTable returns the system's IP to MAC mapping. Entries are optional, so an
// unreadable table yields an empty map.
type ARPTable func(ctx context.Context) map[string]string

// VendorResolver maps a MAC address to a manufacturer name.
type VendorResolver interface {
	Lookup(mac string) string
}

// SystemARPTable reads /proc/net/arp where available and otherwise parses `arp -an`.
func SystemARPTable(ctx context.Context) map[string]string {
	if data, err := os.ReadFile("/proc/net/arp"); err == nil {
		return parseProcARP(string(data))
	}
	return arpCommandTable(ctx)
}

// parseProcARP parses the Linux format:
// IP address  HW type  Flags  HW address  Mask  Device
func parseProcARP(data string) map[string]string {
	table := make(map[string]string)
	lines := strings.Split(data, "\n")
	if len(lines) < 2 {
		return table
	}
	for _, line := range lines[1:] {
		fields := whitespacePattern.Split(strings.TrimSpace(line), -1)
		if len(fields) < 4 {
			continue
		}
		if mac := normaliseMAC(fields[3]); mac != "" {
			table[fields[0]] = mac
		}
	}
	return table
}

func arpCommandTable(ctx context.Context) map[string]string {
	args := []string{"-an"}
	if runtime.GOOS == "windows" {
		args = []string{"-a"}
	}
	output, err := exec.CommandContext(ctx, "arp", args...).Output()
	if err != nil {
		return map[string]string{}
	}
	return parseARPCommand(string(output))
}

// parseARPCommand handles BSD/macOS "? (10.0.0.1) at aa:bb:cc:dd:ee:ff on en0" and
// Windows "  10.0.0.1   aa-bb-cc-dd-ee-ff   dynamic" lines.
func parseARPCommand(output string) map[string]string {
	table := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		mac := normaliseMAC(macLinePattern.FindString(line))
		if mac == "" {
			continue
		}
		for _, field := range strings.Fields(line) {
			ip := strings.Trim(field, "()")
			if strings.Count(ip, ".") == 3 && lastOctet(ip) > 0 {
				table[ip] = mac
				break
			}
		}
	}
	return table
}
