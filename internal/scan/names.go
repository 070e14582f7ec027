package scan

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	bracketedMACPattern = regexp.MustCompile(`\[([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}\]`)
	leadingLabelPattern = regexp.MustCompile(`^\._.*`)
	trailingTypePattern = regexp.MustCompile(`\.?_\S*\.local\.?$`)
)

// cleanServiceName turns an advertised instance name into a display name.
// "MyPrinter [b8:27:eb:11:22:33]" becomes "MyPrinter". When nothing is left the raw
// name is returned unchanged.
func cleanServiceName(name string) string {
	cleaned := bracketedMACPattern.ReplaceAllString(name, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = leadingLabelPattern.ReplaceAllString(cleaned, "")
	cleaned = trailingTypePattern.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return name
	}
	return cleaned
}

// unescapeInstance decodes DNS-SD label escapes such as `\032` and `\ `.
func unescapeInstance(label string) string {
	if !strings.Contains(label, `\`) {
		return label
	}
	var b strings.Builder
	b.Grow(len(label))
	for i := 0; i < len(label); i++ {
		c := label[i]
		if c != '\\' || i == len(label)-1 {
			b.WriteByte(c)
			continue
		}
		if i+3 < len(label) && isDigits(label[i+1:i+4]) {
			if n, err := strconv.Atoi(label[i+1 : i+4]); err == nil && n < 256 {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(label[i+1])
		i++
	}
	return b.String()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
