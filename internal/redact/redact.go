// Package redact provides log-safety helpers for the subscription pipeline.
//
// Two complementary layers keep secrets and PII out of log sinks: structured
// log fields never carry raw secret values in the first place (emails go
// through Email, credentials through Secret), and Scrub runs over any
// free-form text (upstream error strings, header values) as a second line of
// defense against token-like material that slipped into a message.
package redact

import (
	"regexp"
	"strings"
)

// Marker replaces matched sensitive substrings in scrubbed text.
const Marker = "[REDACTED]"

// tokenRE matches long alphanumeric/token-like substrings (API keys, bearer
// tokens, hex digests). 24+ characters keeps ordinary words and UUIDs' short
// segments from matching.
var tokenRE = regexp.MustCompile(`[A-Za-z0-9_\-]{24,}`)

// emailRE matches email addresses embedded in free-form text.
var emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)

// Email masks an address for logging, keeping at most the first two
// characters of the local part and the full domain: "ab***@example.com".
// Malformed input collapses to the bare marker.
func Email(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return Marker
	}
	local, dom := email[:at], email[at+1:]
	if len(local) <= 2 {
		return local[:1] + "***@" + dom
	}
	return local[:2] + "***@" + dom
}

// Secret masks a credential for logging, keeping only the first four
// characters so operators can tell configured keys apart. Short values are
// fully masked.
func Secret(v string) string {
	if len(v) <= 8 {
		return Marker
	}
	return v[:4] + "…" + Marker
}

// Scrub replaces emails and token-like substrings in free-form text with
// redaction markers. Order matters: emails first, so their domain segments
// cannot be half-eaten by the token pattern.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	out := emailRE.ReplaceAllStringFunc(s, Email)
	out = tokenRE.ReplaceAllString(out, Marker)
	return out
}

// Err renders an error's text through Scrub, tolerating nil.
func Err(err error) string {
	if err == nil {
		return ""
	}
	return Scrub(err.Error())
}
