package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/cluster"
	"github.com/surehelp/flume/cron"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// ── Message model ─────────────────────────────────────────────────

type messageModel struct {
	bun.BaseModel `bun:"table:flume_messages"`

	ID          string     `bun:"id,pk"`
	TriggerID   string     `bun:"trigger_id,notnull"`
	EventName   string     `bun:"event_name,notnull"`
	JobName     string     `bun:"job_name,notnull"`
	Payload     []byte     `bun:"payload,notnull,type:bytea"`
	Codec       string     `bun:"codec,notnull,default:'json'"`
	Status      string     `bun:"status,notnull,default:'pending'"`
	Attempts    int        `bun:"attempts,notnull,default:0"`
	MaxAttempts int        `bun:"max_attempts,notnull,default:4"`
	LastError   string     `bun:"last_error"`
	EnqueuedAt  time.Time  `bun:"enqueued_at,notnull,default:current_timestamp"`
	VisibleAt   time.Time  `bun:"visible_at,notnull,default:current_timestamp"`
	ReservedBy  string     `bun:"reserved_by"`
	DoneAt      *time.Time `bun:"done_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toMessageModel(msg *queue.Message) *messageModel {
	return &messageModel{
		ID:          msg.ID.String(),
		TriggerID:   msg.TriggerID.String(),
		EventName:   msg.EventName,
		JobName:     msg.JobName,
		Payload:     msg.Payload,
		Codec:       msg.Codec,
		Status:      string(msg.Status),
		Attempts:    msg.Attempts,
		MaxAttempts: msg.MaxAttempts,
		LastError:   msg.LastError,
		EnqueuedAt:  msg.EnqueuedAt,
		VisibleAt:   msg.VisibleAt,
		ReservedBy:  msg.ReservedBy.String(),
		DoneAt:      msg.DoneAt,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}

func fromMessageModel(m *messageModel) (*queue.Message, error) {
	parsedID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: parse message id %q: %w", m.ID, err)
	}

	parsedTrg, err := id.ParseTriggerID(m.TriggerID)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: parse trigger id %q: %w", m.TriggerID, err)
	}

	msg := &queue.Message{
		Entity: flume.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		TriggerID:   parsedTrg,
		EventName:   m.EventName,
		JobName:     m.JobName,
		Payload:     m.Payload,
		Codec:       m.Codec,
		Status:      queue.Status(m.Status),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		LastError:   m.LastError,
		EnqueuedAt:  m.EnqueuedAt,
		VisibleAt:   m.VisibleAt,
		DoneAt:      m.DoneAt,
	}

	if m.ReservedBy != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.ReservedBy)
		if wErr == nil {
			msg.ReservedBy = parsedWorker
		}
	}

	return msg, nil
}

// ── Cron entry model ──────────────────────────────────────────────

type cronEntryModel struct {
	bun.BaseModel `bun:"table:flume_cron_entries"`

	ID          string     `bun:"id,pk"`
	Name        string     `bun:"name,notnull,unique"`
	Schedule    string     `bun:"schedule,notnull"`
	EventName   string     `bun:"event_name,notnull"`
	Payload     []byte     `bun:"payload,type:bytea"`
	Codec       string     `bun:"codec,notnull,default:'json'"`
	LastRunAt   *time.Time `bun:"last_run_at"`
	NextRunAt   *time.Time `bun:"next_run_at"`
	LockedBy    string     `bun:"locked_by"`
	LockedUntil *time.Time `bun:"locked_until"`
	Enabled     bool       `bun:"enabled,notnull,default:true"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toCronModel(e *cron.Entry) *cronEntryModel {
	return &cronEntryModel{
		ID:          e.ID.String(),
		Name:        e.Name,
		Schedule:    e.Schedule,
		EventName:   e.EventName,
		Payload:     e.Payload,
		Codec:       e.Codec,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		Enabled:     e.Enabled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromCronModel(m *cronEntryModel) (*cron.Entry, error) {
	parsedID, err := id.ParseCronID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: parse cron id %q: %w", m.ID, err)
	}

	return &cron.Entry{
		Entity: flume.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Name:        m.Name,
		Schedule:    m.Schedule,
		EventName:   m.EventName,
		Payload:     m.Payload,
		Codec:       m.Codec,
		LastRunAt:   m.LastRunAt,
		NextRunAt:   m.NextRunAt,
		LockedBy:    m.LockedBy,
		LockedUntil: m.LockedUntil,
		Enabled:     m.Enabled,
	}, nil
}

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:flume_dlq"`

	ID          string     `bun:"id,pk"`
	MessageID   string     `bun:"message_id,notnull"`
	TriggerID   string     `bun:"trigger_id,notnull"`
	EventName   string     `bun:"event_name,notnull"`
	JobName     string     `bun:"job_name,notnull"`
	Payload     []byte     `bun:"payload,notnull,type:bytea"`
	Codec       string     `bun:"codec,notnull,default:'json'"`
	Error       string     `bun:"error,notnull"`
	Attempts    int        `bun:"attempts,notnull"`
	MaxAttempts int        `bun:"max_attempts,notnull"`
	FailedAt    time.Time  `bun:"failed_at,notnull,default:current_timestamp"`
	ReplayedAt  *time.Time `bun:"replayed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:          e.ID.String(),
		MessageID:   e.MessageID.String(),
		TriggerID:   e.TriggerID.String(),
		EventName:   e.EventName,
		JobName:     e.JobName,
		Payload:     e.Payload,
		Codec:       e.Codec,
		Error:       e.Error,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		FailedAt:    e.FailedAt,
		ReplayedAt:  e.ReplayedAt,
		CreatedAt:   e.CreatedAt,
	}
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: parse dlq id %q: %w", m.ID, err)
	}

	parsedMsg, err := id.ParseMessageID(m.MessageID)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: parse message id %q: %w", m.MessageID, err)
	}

	parsedTrg, err := id.ParseTriggerID(m.TriggerID)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: parse trigger id %q: %w", m.TriggerID, err)
	}

	return &dlq.Entry{
		ID:          parsedID,
		MessageID:   parsedMsg,
		TriggerID:   parsedTrg,
		EventName:   m.EventName,
		JobName:     m.JobName,
		Payload:     m.Payload,
		Codec:       m.Codec,
		Error:       m.Error,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		FailedAt:    m.FailedAt,
		ReplayedAt:  m.ReplayedAt,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	bun.BaseModel `bun:"table:flume_workers"`

	ID          string            `bun:"id,pk"`
	Hostname    string            `bun:"hostname,notnull"`
	Jobs        []string          `bun:"jobs,array"`
	Concurrency int               `bun:"concurrency,notnull,default:10"`
	State       string            `bun:"state,notnull,default:'active'"`
	IsLeader    bool              `bun:"is_leader,notnull,default:false"`
	LeaderUntil *time.Time        `bun:"leader_until"`
	LastSeen    time.Time         `bun:"last_seen,notnull,default:current_timestamp"`
	Metadata    map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time         `bun:"created_at,notnull,default:current_timestamp"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Jobs:        w.Jobs,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		IsLeader:    w.IsLeader,
		LeaderUntil: w.LeaderUntil,
		LastSeen:    w.LastSeen,
		Metadata:    w.Metadata,
		CreatedAt:   w.CreatedAt,
	}
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	parsedID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("flume/bun: parse worker id %q: %w", m.ID, err)
	}

	return &cluster.Worker{
		ID:          parsedID,
		Hostname:    m.Hostname,
		Jobs:        m.Jobs,
		Concurrency: m.Concurrency,
		State:       cluster.WorkerState(m.State),
		IsLeader:    m.IsLeader,
		LeaderUntil: m.LeaderUntil,
		LastSeen:    m.LastSeen,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}, nil
}
