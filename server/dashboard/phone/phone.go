// Package phone canonicalizes contact phone identifiers so that messages and
// contacts keyed by different spellings of the same number match.
package phone

import "strings"

// CountryCode is prefixed to numbers stored without one.
const CountryCode = "55"

// Normalizer holds the normalization options. The zero value is the
// canonical rule used across the dashboard.
type Normalizer struct {
	// CollapseMobileNine turns 55+AA+99XXXXXXXX (13 digits) into 55+AA+9XXXXXXXX.
	CollapseMobileNine bool
}

var defaultNormalizer = Normalizer{}

// Normalize returns the digits of raw with any JID suffix removed.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// NormalizeForStorage returns Normalize(raw) with the country code prefixed.
func NormalizeForStorage(raw string) string {
	return defaultNormalizer.NormalizeForStorage(raw)
}

func (n Normalizer) Normalize(raw string) string {
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	digits := b.String()
	if n.CollapseMobileNine && len(digits) == 13 && strings.HasPrefix(digits, CountryCode) && digits[4:6] == "99" {
		digits = digits[:4] + digits[5:]
	}
	return digits
}

func (n Normalizer) NormalizeForStorage(raw string) string {
	digits := n.Normalize(raw)
	if digits == "" || strings.HasPrefix(digits, CountryCode) {
		return digits
	}
	return n.Normalize(CountryCode + digits)
}

// Equal reports whether a and b normalize to the same non-empty number.
func (n Normalizer) Equal(a, b string) bool {
	na := n.NormalizeForStorage(a)
	return na != "" && na == n.NormalizeForStorage(b)
}

// Variants lists the digit strings a stored value may hold for the storage
// key: the key, its form without country code and, when mobile nines are
// collapsed, the uncollapsed 13-digit forms.
func (n Normalizer) Variants(key string) []string {
	forms := []string{key}
	if n.CollapseMobileNine && len(key) == 12 && strings.HasPrefix(key, CountryCode) && key[4] == '9' {
		forms = append(forms, key[:4]+"9"+key[4:])
	}
	out := make([]string, 0, 2*len(forms))
	for _, f := range forms {
		out = append(out, f)
		if local := strings.TrimPrefix(f, CountryCode); local != f && local != "" {
			out = append(out, local)
		}
	}
	return out
}
