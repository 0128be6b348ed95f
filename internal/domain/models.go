// Package domain defines the persistence model for locally stored
// subscribers plus the value types shared across the validation, service,
// and HTTP layers. Subscriber rows are mapped with GORM and back the
// fallback store used when the upstream Kit API is unreachable or
// unconfigured.
package domain

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Subscription sources accepted from the website forms. Unknown values are
// coerced to SourceWebsiteNewsletter rather than rejected; the source only
// feeds tagging and analytics.
const (
	SourceWebsiteNewsletter = "website_newsletter"
	SourceBlogSignup        = "blog_signup"
	SourceEventSignup       = "event_signup"
	SourceFooterSignup      = "footer_signup"
)

// Subscriber states. Locally stored subscribers start as pending: they were
// accepted but may not have reached the upstream system of record yet.
const (
	StatePending = "pending"
	StateActive  = "active"
)

// NormalizeSource maps a raw source string to one of the known constants,
// defaulting to SourceWebsiteNewsletter.
func NormalizeSource(s string) string {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case SourceBlogSignup:
		return SourceBlogSignup
	case SourceEventSignup:
		return SourceEventSignup
	case SourceFooterSignup:
		return SourceFooterSignup
	default:
		return SourceWebsiteNewsletter
	}
}

// Subscriber is a locally persisted newsletter subscriber. In normal
// operation the upstream Kit API owns the authoritative record and this row
// only exists when registration degraded to the fallback path.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: normalized (trimmed, lowercased) address; unique.
//   - FirstName: optional sanitized display name.
//   - Source: one of the Source* constants.
//   - Tags: comma-joined tag list applied on upstream sync.
//   - State: pending until synced upstream, then active.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Subscriber struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Email     string         `json:"email"      gorm:"type:varchar(254);not null;uniqueIndex:ux_subscribers_email"`
	FirstName string         `json:"first_name" gorm:"type:varchar(100)"`
	Source    string         `json:"source"     gorm:"type:varchar(32);not null;default:'website_newsletter'"`
	Tags      string         `json:"tags"       gorm:"type:varchar(255)"`
	State     string         `json:"state"      gorm:"type:varchar(16);not null;default:'pending';check:state IN ('pending','active')"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Subscriber.
func (Subscriber) TableName() string { return "subscribers" }

// TagList splits the stored comma-joined tags into a slice.
func (s Subscriber) TagList() []string {
	if s.Tags == "" {
		return nil
	}
	parts := strings.Split(s.Tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// JoinTags renders a tag slice into the stored comma-joined form.
func JoinTags(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, ",")
}
