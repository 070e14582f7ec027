package scan

import (
	"regexp"
	"sort"
	"strings"
)

var (
	macLinePattern    = regexp.MustCompile(`(?i)([0-9a-f]{1,2}[:-]){5}([0-9a-f]{1,2})`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		normalized := strings.TrimSpace(v)
		normalized = strings.TrimSuffix(normalized, ".")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	return out
}

func normaliseMAC(raw string) string {
	if raw == "" {
		return ""
	}
	raw = strings.ToUpper(strings.ReplaceAll(raw, "-", ":"))
	match := macLinePattern.FindString(raw)
	if match == "" {
		return ""
	}
	parts := strings.Split(match, ":")
	if len(parts) != 6 {
		return ""
	}
	for i := range parts {
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	mac := strings.Join(parts, ":")
	if mac == "00:00:00:00:00:00" {
		return ""
	}
	return mac
}

// sortDevices orders by numeric last octet, then by address for a stable result.
func sortDevices(devices []UnifiedDevice) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := lastOctet(devices[i].IPAddress), lastOctet(devices[j].IPAddress)
		if a != b {
			return a < b
		}
		return devices[i].IPAddress < devices[j].IPAddress
	})
}
