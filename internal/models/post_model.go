package models

import "time"

type Post struct {
	ID           string            `db:"id" json:"id"`
	UserID       string            `db:"user_id" json:"user_id"`
	Platforms    []string          `db:"platforms" json:"platforms"`
	BodyText     string            `db:"body_text" json:"body_text"`
	FirstComment string            `db:"first_comment" json:"first_comment"`
	MediaID      string            `db:"media_id" json:"media_id,omitempty"`
	ScheduledAt  *time.Time        `db:"scheduled_at" json:"scheduled_at,omitempty"`
	Status       string            `db:"status" json:"status"`
	RemoteIDs    map[string]string `db:"remote_ids" json:"remote_ids,omitempty"`
	Attempts     int               `db:"attempts" json:"attempts"`
	PublishedAt  *time.Time        `db:"published_at" json:"published_at,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusDraft     = "draft"
	PostStatusApproved  = "approved"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// EligibleForPublish reports whether the publish workflow may act on the
// post. Historically "scheduled" and "approved" were written by different
// creation paths and both mean ready; keep the check in one place.
func (p *Post) EligibleForPublish() bool {
	return p.Status == PostStatusScheduled || p.Status == PostStatusApproved
}

const (
	PlatformLinkedin  = "linkedin"
	PlatformTwitter   = "twitter"
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformTiktok    = "tiktok"
)
