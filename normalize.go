package portalauth

import "strings"

// NormalizeToken trims s, strips leading "Bearer" schemes in any casing
// followed by whitespace, and collapses inner whitespace runs to one space.
// NormalizeToken(NormalizeToken(s)) == NormalizeToken(s).
func NormalizeToken(s string) string {
	fields := strings.Fields(s)
	for len(fields) > 1 && strings.EqualFold(fields[0], "bearer") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}
