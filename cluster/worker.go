package cluster

import (
	"time"

	"github.com/surehelp/flume/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and consuming messages.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight messages
	// but not reserving new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker has stopped heartbeating; its reserved
	// messages recover via visibility timeout.
	WorkerDead WorkerState = "dead"
)

// Worker represents one engine instance in a distributed cluster.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Jobs        []string          `json:"jobs"`
	Concurrency int               `json:"concurrency"`
	State       WorkerState       `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
