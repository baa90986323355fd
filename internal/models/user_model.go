package models

import "time"

type User struct {
	ID                    string     `db:"id" json:"id"`
	Email                 string     `db:"email" json:"email"`
	Name                  string     `db:"name" json:"name"`
	AutoFollowUpEnabled   bool       `db:"auto_follow_up_enabled" json:"auto_follow_up_enabled"`
	AutoFollowUpStartDate *time.Time `db:"auto_follow_up_start_date" json:"auto_follow_up_start_date,omitempty"`
	QuietHoursStart       int        `db:"quiet_hours_start" json:"quiet_hours_start"`
	QuietHoursEnd         int        `db:"quiet_hours_end" json:"quiet_hours_end"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}
