package observability

import (
	"strings"
	"unicode"
)

// Log field caps. Firebase uids are 28 chars; anything longer is not an id.
const (
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUIDLen    = 64
	maxIPLen     = 64
)

// logSafe drops control characters, so a crafted path cannot forge log lines, and truncates to limit
// runes.
func logSafe(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func logRoute(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, maxRouteLen)
}
