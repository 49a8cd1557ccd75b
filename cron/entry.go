package cron

import (
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/id"
)

// Entry represents a scheduled recurring event trigger.
type Entry struct {
	flume.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	EventName   string     `json:"event_name"`
	Payload     []byte     `json:"payload,omitempty"`
	Codec       string     `json:"codec,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
}
