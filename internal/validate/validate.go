// Package validate implements input sanitization and validation for the
// subscription intake pipeline. Sanitization always runs before pattern
// matching so whitespace-padded or composed-Unicode payloads cannot slip
// past the suspicious-content checks, and callers only ever use the
// sanitized value downstream.
package validate

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/hackmum/newsletter-service/internal/domain"
)

const (
	minEmailLen     = 5   // a@b.c
	maxEmailLen     = 254 // RFC 5321 path limit
	maxFirstNameLen = 100
)

// emailRE requires local@domain.tld with at least a two-character top-level
// label. Deliberately stricter than RFC 5322; the goal is catching typos and
// junk, not admitting every exotic-but-legal address.
var emailRE = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,}$`)

// suspiciousREs are injection/XSS indicators checked against sanitized input.
var suspiciousREs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*/?\s*script\b`),
	regexp.MustCompile(`(?i)\bjavascript\s*:`),
	regexp.MustCompile(`(?i)\bvbscript\s*:`),
	regexp.MustCompile(`(?i)\bdata\s*:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed|img|svg)\b`),
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// nameRE allows unicode letters, digits, spaces, hyphens, apostrophes, and
// periods ("J. R. D'Souza-Iyer").
var nameRE = regexp.MustCompile(`^[\p{L}\p{N} .'\-]+$`)

// defaultBlockedDomains lists disposable-email providers rejected outright.
var defaultBlockedDomains = []string{
	"10minutemail.com",
	"guerrillamail.com",
	"mailinator.com",
	"tempmail.org",
	"temp-mail.org",
	"throwaway.email",
	"yopmail.com",
	"getnada.com",
	"sharklasers.com",
	"dispostable.com",
}

// Validator checks subscription input against format rules, an injection
// indicator set, and a disposable-domain deny-list. The zero value is not
// usable; construct with New.
type Validator struct {
	blocked map[string]struct{}
}

// New builds a Validator whose deny-list is the built-in disposable-provider
// set merged with extraBlockedDomains (matched case-insensitively on the
// domain part).
func New(extraBlockedDomains []string) *Validator {
	blocked := make(map[string]struct{}, len(defaultBlockedDomains)+len(extraBlockedDomains))
	for _, d := range defaultBlockedDomains {
		blocked[d] = struct{}{}
	}
	for _, d := range extraBlockedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			blocked[d] = struct{}{}
		}
	}
	return &Validator{blocked: blocked}
}

// Sanitize normalizes raw user input: NFKC fold (so full-width or composed
// characters match the ASCII patterns), control-character removal, trim, and
// whitespace collapse. It does not lowercase; email handling does that
// itself.
func Sanitize(raw string) string {
	s := norm.NFKC.String(raw)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// Email validates a raw email address and returns the sanitized, lowercased
// form to be used downstream. Failures are terminal and map to a 422-class
// response.
func (v *Validator) Email(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", domain.NewValidationError("email", domain.CodeEmailRequired,
			"Email address is required")
	}

	email := strings.ToLower(Sanitize(raw))
	// Addresses never legitimately contain spaces; whatever collapsing left
	// behind is junk.
	email = strings.ReplaceAll(email, " ", "")

	if len(email) < minEmailLen {
		return "", domain.NewValidationError("email", domain.CodeTooShort,
			"Email address is too short")
	}
	if len(email) > maxEmailLen {
		return "", domain.NewValidationError("email", domain.CodeTooLong,
			"Email address is too long")
	}
	if suspicious(email) {
		return "", domain.NewValidationError("email", domain.CodeSuspiciousContent,
			"Email address contains invalid content")
	}
	if !emailRE.MatchString(email) {
		return "", domain.NewValidationError("email", domain.CodeInvalidFormat,
			"Please provide a valid email address")
	}
	if v.blockedDomain(email) {
		return "", domain.NewValidationError("email", domain.CodeBlockedDomain,
			"Temporary email addresses are not allowed")
	}
	return email, nil
}

// FirstName validates an optional display name and returns the sanitized
// form. Empty input is valid and yields "".
func (v *Validator) FirstName(raw string) (string, error) {
	name := Sanitize(raw)
	if name == "" {
		return "", nil
	}
	if len(name) > maxFirstNameLen {
		return "", domain.NewValidationError("first_name", domain.CodeTooLong,
			"Name is too long")
	}
	if suspicious(name) {
		return "", domain.NewValidationError("first_name", domain.CodeSuspiciousContent,
			"Name contains invalid content")
	}
	if !nameRE.MatchString(name) {
		return "", domain.NewValidationError("first_name", domain.CodeInvalidCharacters,
			"Name contains unsupported characters")
	}
	return name, nil
}

// blockedDomain reports whether the domain part of a normalized email is on
// the deny-list.
func (v *Validator) blockedDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, ok := v.blocked[email[at+1:]]
	return ok
}

// suspicious reports whether sanitized input matches any injection indicator.
func suspicious(s string) bool {
	for _, re := range suspiciousREs {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
