package phone

import "strings"

// Normalize formats a free-form Brazilian phone string into E.164-like form
// (country code 55, no plus sign). Inputs that match none of the known local
// shapes are returned with digits only; nothing is ever rejected here —
// the provider is the authority on deliverability.
func Normalize(raw string) string {
	digits := digitsOnly(raw)

	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "11"):
		// local mobile with area code, e.g. 11987654321
		return "55" + digits
	case len(digits) == 10:
		// local number without area code
		return "5511" + digits
	case len(digits) == 13 && strings.HasPrefix(digits, "55"):
		// already in international form
		return digits
	default:
		return digits
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
