package filter

import "regexp"

// Drop span types.
const (
	SpanGreeting        = "greeting"
	SpanClosing         = "closing"
	SpanDeviceSignature = "device-signature"
)

type dropRule struct {
	span      string
	firstOnly bool
	pattern   *regexp.Regexp
}

// dropRules are evaluated in order; the first match decides the span type.
var dropRules = []dropRule{
	{
		span:      SpanGreeting,
		firstOnly: true,
		pattern:   regexp.MustCompile(`(?i)^(hi|hello|hey|dear|greetings|good\s+(morning|afternoon|evening)|hope\s+you(\s+are|'re)\s+well)\b`),
	},
	{
		// A sign-off, optionally after one adjective, followed by at most a
		// short name.
		span: SpanClosing,
		pattern: regexp.MustCompile(`(?i)^((best|kind|warm|warmest|many|with\s+best)\s+)?` +
			`(regards|thanks|thank\s+you|cheers|sincerely|best|yours(\s+truly)?|respectfully|wishes)` +
			`\s*[,.!]?(\s+[\p{L}.'-]+){0,3}\s*$`),
	},
	{
		// The whole sentence is the signature: "Sent from my <device>".
		span:    SpanDeviceSignature,
		pattern: regexp.MustCompile(`(?i)^sent\s+from\s+my\s+\S+(\s+\S+){0,3}$`),
	},
}

// classifySentence returns the drop span type for s at position index, or
// "" when the sentence is kept.
func classifySentence(s string, index int) string {
	for _, r := range dropRules {
		if r.firstOnly && index != 0 {
			continue
		}
		if r.pattern.MatchString(s) {
			return r.span
		}
	}
	return ""
}
