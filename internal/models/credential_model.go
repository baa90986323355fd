package models

import "time"

// PlatformCredential holds per-platform OAuth state for one user. The
// Credentials map is opaque to storage; well-known keys include
// "access_token", "refresh_token", "oauth_token", "oauth_token_secret"
// and the cached platform user id. Token values are encrypted at rest.
type PlatformCredential struct {
	ID          int64             `db:"id" json:"id"`
	UserID      string            `db:"user_id" json:"user_id"`
	Platform    string            `db:"platform" json:"platform"`
	Credentials map[string]string `db:"credentials" json:"-"`
	ExpiresAt   *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	RefreshedAt *time.Time        `db:"refreshed_at" json:"refreshed_at,omitempty"`
	Notes       string            `db:"notes" json:"notes"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

const (
	CredAccessToken    = "access_token"
	CredRefreshToken   = "refresh_token"
	CredOAuth1Token    = "oauth_token"
	CredOAuth1Secret   = "oauth_token_secret"
	CredLinkedinUserID = "linkedin_user_id"
	CredTwitterUserID  = "twitter_user_id"
)

// Expired reports whether the stored access token needs a refresh before
// use. A credential without expiry bookkeeping is assumed valid.
func (c *PlatformCredential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}
