// Package stream provides a real-time broker for flume lifecycle events.
// It bridges the ext hook system to connected consumers via topic-based
// pub/sub with credit-based flow control.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Trigger events.
	EventTriggerFired EventType = "trigger.fired"

	// Message events.
	EventMessageEnqueued  EventType = "message.enqueued"
	EventMessageStarted   EventType = "message.started"
	EventMessageCompleted EventType = "message.completed"
	EventMessageRetrying  EventType = "message.retrying"
	EventMessageDead      EventType = "message.dead"

	// Cron events.
	EventCronFired EventType = "cron.fired"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity-specific channel this event belongs to.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// TriggerEventData is the payload for trigger fan-out events.
type TriggerEventData struct {
	TriggerID string   `json:"trigger_id"`
	EventName string   `json:"event_name"`
	Jobs      []string `json:"jobs"`
}

// MessageEventData is the payload for message lifecycle events.
type MessageEventData struct {
	MessageID     string `json:"message_id"`
	TriggerID     string `json:"trigger_id"`
	EventName     string `json:"event_name"`
	JobName       string `json:"job_name"`
	Attempt       int    `json:"attempt,omitempty"`
	ElapsedMs     int64  `json:"elapsed_ms,omitempty"`
	Error         string `json:"error,omitempty"`
	NextVisibleAt string `json:"next_visible_at,omitempty"`
}

// CronEventData is the payload for cron lifecycle events.
type CronEventData struct {
	EntryName string `json:"entry_name"`
	TriggerID string `json:"trigger_id"`
}
