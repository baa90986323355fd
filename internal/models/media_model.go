package models

import "time"

// MediaAsset is the metadata row for a stored blob. The bytes themselves
// live in object storage under StorageKey.
type MediaAsset struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	StorageKey string    `db:"storage_key" json:"-"`
	FileName   string    `db:"file_name" json:"file_name"`
	MimeType   string    `db:"mime_type" json:"mime_type"`
	FileSize   int64     `db:"file_size" json:"file_size"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
