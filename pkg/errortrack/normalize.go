package errortrack

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

type replacement struct {
	re   *regexp.Regexp
	with string
}

// Applied in order: timestamps and UUIDs contain digit runs that the
// number rule would otherwise split.
var messageRules = []replacement{
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`), "<timestamp>"},
	{regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}(?:\.\d+)?\b`), "<timestamp>"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`), "<uuid>"},
	{regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`), "<addr>"},
	{regexp.MustCompile(`"[^"]*"|'[^']*'`), "<str>"},
	{regexp.MustCompile(`\b\d{4,}\b`), "<num>"},
	{regexp.MustCompile(`\s+`), " "},
}

var stackRules = []replacement{
	{regexp.MustCompile(`(?i)\+0x[0-9a-f]+`), ""},
	{regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`), "<addr>"},
	{regexp.MustCompile(`:\d+\b`), ""},
	{regexp.MustCompile(`goroutine \d+`), "goroutine"},
	{regexp.MustCompile(`\s+`), " "},
}

func apply(rules []replacement, s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return strings.TrimSpace(s)
}

// NormalizeMessage strips dynamic tokens (timestamps, UUIDs, hex
// addresses, quoted literals and numbers of four or more digits) from msg.
func NormalizeMessage(msg string) string {
	return apply(messageRules, msg)
}

// NormalizeStack strips addresses, offsets and line numbers from every
// line of stack and drops blank lines.
func NormalizeStack(stack string) string {
	if stack == "" {
		return ""
	}
	var out []string
	for _, line := range strings.Split(stack, "\n") {
		if n := apply(stackRules, line); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, "\n")
}

// Fingerprint returns the group id for a normalized message and stack.
func Fingerprint(normalizedMessage, normalizedStack string) string {
	sum := sha256.Sum256([]byte(normalizedMessage + "\x00" + normalizedStack))
	return hex.EncodeToString(sum[:])
}
