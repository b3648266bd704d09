// Package session lays out per-session log directories and maintains each
// session's metadata document.
package session

import (
	"fmt"
	"strings"
)

// DateLayout names the per-day partition directories.
const DateLayout = "2006-01-02"

// SafeName makes s usable as a single path element. Separators, NUL and the
// escape byte itself are percent-encoded, so distinct inputs never share a
// name. The empty string becomes a lone "%", which no other input produces.
func SafeName(s string) string {
	switch s {
	case "":
		return "%"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '%', '/', '\\', 0:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
