package flume

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("flume: no store configured")
	ErrStoreClosed     = errors.New("flume: store closed")
	ErrMigrationFailed = errors.New("flume: migration failed")

	// Catalogue / registry errors.
	ErrUnknownEvent  = errors.New("flume: unknown event")
	ErrUnknownJob    = errors.New("flume: unknown job")
	ErrDuplicateTask = errors.New("flume: duplicate registration")

	// Not found errors.
	ErrMessageNotFound = errors.New("flume: message not found")
	ErrCronNotFound    = errors.New("flume: cron entry not found")
	ErrDLQNotFound     = errors.New("flume: dlq entry not found")
	ErrWorkerNotFound  = errors.New("flume: worker not found")

	// Conflict errors.
	ErrMessageExists = errors.New("flume: message already exists")
	ErrDuplicateCron = errors.New("flume: duplicate cron entry")

	// State errors.
	ErrInvalidState        = errors.New("flume: invalid state transition")
	ErrAttemptsExhausted   = errors.New("flume: attempt budget exhausted")
	ErrMessageNotReserved  = errors.New("flume: message not reserved")
	ErrReservationConflict = errors.New("flume: reservation held by another consumer")

	// Cluster errors.
	ErrNotLeader = errors.New("flume: not the leader")
)
