package domain

// Validation failure codes. Stable, machine-readable strings surfaced in the
// HTTP error envelope alongside a user-safe message.
const (
	CodeEmailRequired     = "email_required"
	CodeTooShort          = "too_short"
	CodeTooLong           = "too_long"
	CodeInvalidFormat     = "invalid_format"
	CodeSuspiciousContent = "suspicious_content"
	CodeBlockedDomain     = "blocked_domain"
	CodeInvalidCharacters = "invalid_characters"
)

// ValidationError describes a terminal, user-correctable input failure.
// Message is drawn from a fixed set of user-safe strings and never contains
// the raw input.
type ValidationError struct {
	Field   string // "email" or "first_name"
	Code    string // one of the Code* constants
	Message string // safe to show to users
}

// Error implements the error interface.
func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// NewValidationError constructs a ValidationError for field with the given
// code and user-safe message.
func NewValidationError(field, code, msg string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: msg}
}
