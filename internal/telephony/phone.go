package telephony

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// NormalizeE164 ensures the value begins with + and only contains digits
// afterward. Returns "" when no digits are present.
func NormalizeE164(value string) string {
	digits := sanitizePhone(stripURIWrapping(value))
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// Candidates expands a raw dialed-number value into an ordered, de-duplicated
// set of E.164 forms to try against the phone-number table. Providers disagree
// on formatting: SIP URIs, bare 10-digit US numbers, numbers with or without
// the country code.
func Candidates(value, defaultCountryCode string) []string {
	digits := sanitizePhone(stripURIWrapping(value))
	if digits == "" {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(candidate string) {
		if candidate == "" || seen[candidate] {
			return
		}
		seen[candidate] = true
		out = append(out, candidate)
	}

	add("+" + digits)
	if defaultCountryCode != "" && len(digits) == 10 {
		add("+" + defaultCountryCode + digits)
	}
	return out
}

// stripURIWrapping removes sip:/tel: wrapping, e.g. "sip:+15550100@host:5060".
func stripURIWrapping(value string) string {
	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	for _, scheme := range []string{"sip:", "sips:", "tel:"} {
		if strings.HasPrefix(lower, scheme) {
			value = value[len(scheme):]
			break
		}
	}
	if at := strings.IndexByte(value, '@'); at >= 0 {
		value = value[:at]
	}
	return value
}

func sanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	digits := phoneDigitsRe.FindAllString(value, -1)
	return strings.Join(digits, "")
}
