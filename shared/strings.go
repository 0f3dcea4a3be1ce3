package shared

import "strings"

// SplitCSV parses a comma-separated column into trimmed parts.
func SplitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func JoinCSV(parts []string) string {
	return strings.Join(parts, ",")
}
