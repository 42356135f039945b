package generation

import "strings"

const fence = "```"

// StripFences removes a leading ```json (or bare ```) marker and a trailing
// ``` marker, each only when present at the very start or end after trimming.
// Nothing else is repaired.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, fence+"json"):
		s = strings.TrimSpace(s[len(fence+"json"):])
	case strings.HasPrefix(s, fence):
		s = strings.TrimSpace(s[len(fence):])
	}
	if strings.HasSuffix(s, fence) {
		s = strings.TrimSpace(s[:len(s)-len(fence)])
	}
	return s
}
