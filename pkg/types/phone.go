package types

import "strings"

// DigitsOnly strips everything but ASCII digits, the form phone numbers take
// on the wire.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
