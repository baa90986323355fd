package models

import (
	"encoding/json"
	"time"
)

// Job is one durable unit of deferred or recurring work. A zero
// RepeatInterval means one-shot; otherwise the job is rescheduled after
// each successful run. LockedUntil is the lease preventing two workers
// from executing the same due job.
type Job struct {
	ID             string          `db:"id"`
	Name           string          `db:"name"`
	Payload        json.RawMessage `db:"payload"`
	UniqueKey      string          `db:"unique_key"`
	RunAt          time.Time       `db:"run_at"`
	RepeatInterval time.Duration   `db:"repeat_ms"`
	LockedUntil    *time.Time      `db:"locked_until"`
	Attempts       int             `db:"attempts"`
	LastError      string          `db:"last_error"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (j *Job) Recurring() bool {
	return j.RepeatInterval > 0
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}
