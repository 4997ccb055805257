// Package textutil holds string helpers shared by the payment and messaging adapters.
package textutil

import "strings"

// CompactStringMap trims keys and values and drops pairs where either side is blank. Stripe
// metadata and Pub/Sub attributes both reject empty entries. Returns nil when nothing is left.
func CompactStringMap(values map[string]string) map[string]string {
	var out map[string]string
	for k, v := range values {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(values))
		}
		out[k] = v
	}
	return out
}
