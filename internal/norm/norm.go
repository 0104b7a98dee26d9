// Package norm normalizes payer and payee identifiers for bucketing and
// EDI envelope use.
package norm

import (
	"fmt"
	"strings"
	"time"
)

// ID upper-cases the input, replaces every character outside [A-Z0-9_] with
// '_', collapses runs of '_', and trims leading/trailing '_'.
func ID(raw string) string {
	upper := strings.ToUpper(raw)
	var b strings.Builder
	b.Grow(len(upper))
	lastUnderscore := false
	for _, r := range upper {
		ok := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "_")
}

// ISASender normalizes an identifier for the ISA sender field: the ID
// normalization plus underscore stripping and truncation to 15 characters.
// An empty result is substituted with "PAYER" + last 4 digits of epoch ms.
func ISASender(raw string) string {
	s := strings.ReplaceAll(ID(raw), "_", "")
	if len(s) > 15 {
		s = s[:15]
	}
	if s == "" {
		ms := time.Now().UnixMilli() % 10000
		s = fmt.Sprintf("PAYER%04d", ms)
	}
	return s
}
