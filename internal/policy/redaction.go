package policy

import "regexp"

// redactionRules apply in order. The card rule runs before the phone rule
// so a long digit run is masked as a card, not misread as a phone number.
var redactionRules = []struct {
	pattern *regexp.Regexp
	mask    string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns before a turn transcript is
// handed to persistent chat history.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		masked := rule.pattern.ReplaceAllString(out, rule.mask)
		if masked != out {
			changed = true
			out = masked
		}
	}
	return out, changed
}
