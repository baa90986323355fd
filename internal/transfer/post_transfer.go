package transfer

type PostCreation struct {
	Platforms    []string `json:"platforms"`
	BodyText     string   `json:"body_text"`
	FirstComment string   `json:"first_comment"`
	MediaID      string   `json:"media_id"`
	ScheduledAt  string   `json:"scheduled_at"`
}

type MarkPublished struct {
	RemoteIDs map[string]string `json:"remoteIds"`
}

type FollowUpToggle struct {
	Enabled bool `json:"enabled"`
}

type MediaAuth struct {
	OAuthToken       string `json:"oauth_token"`
	OAuthTokenSecret string `json:"oauth_token_secret"`
}
