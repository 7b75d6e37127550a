package scheduling

import "strings"

// NormalizeNationalID canonicalizes a national ID to "body-verifier":
// everything but digits and K is dropped and the result is upper-cased.
func NormalizeNationalID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= '0' && r <= '9') || r == 'K' {
			b.WriteRune(r)
		}
	}

	cleaned := b.String()
	if len(cleaned) <= 1 {
		return "", invalid("national_id", "must contain a body and a verifier digit")
	}

	return cleaned[:len(cleaned)-1] + "-" + cleaned[len(cleaned)-1:], nil
}
