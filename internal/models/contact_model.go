package models

import "time"

type Contact struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	Email            string     `db:"email" json:"email"`
	Phone            string     `db:"phone" json:"phone"`
	Company          string     `db:"company" json:"company"`
	Notes            string     `db:"notes" json:"notes"`
	SMSOptIn         bool       `db:"sms_opt_in" json:"sms_opt_in"`
	EmailOptIn       bool       `db:"email_opt_in" json:"email_opt_in"`
	LastFollowUpSent *time.Time `db:"last_followup_sent" json:"last_followup_sent,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
