package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
)

// StripAccents removes combining marks after canonical decomposition, so
// "É" becomes "E" and "ç" becomes "c".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold case-folds, strips accents and reduces every run of non-alphanumeric
// characters to a single space. Fold("  Rue de l'Église ") == "rue de l eglise".
func Fold(s string) string {
	s = strings.ToLower(StripAccents(s))
	s = strings.ReplaceAll(s, "œ", "oe")
	s = strings.ReplaceAll(s, "æ", "ae")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Slug is Fold with spaces replaced by dashes.
func Slug(s string) string {
	return strings.ReplaceAll(Fold(s), " ", "-")
}

// CollapseSpace trims s and collapses internal whitespace.
func CollapseSpace(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// FirstAddressLine returns the part of an address before the first comma or
// line break, which is normally "<number> <street>".
func FirstAddressLine(addr string) string {
	if i := strings.IndexAny(addr, ",\n"); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimSpace(addr)
}

// IdentityKey is the composite identity of a repairer when no provider id is
// available: folded name, city and first address line joined by "|".
func IdentityKey(name, city, address string) string {
	return Fold(name) + "|" + Fold(city) + "|" + Fold(FirstAddressLine(address))
}
