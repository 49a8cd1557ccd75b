// Package cluster provides distributed consumer coordination: worker
// registration, heartbeats, and TTL-based leader election.
//
// When running multiple engine instances against one shared store, the
// cluster package decides which instance is the leader. The leader is
// the only instance that fires cron schedules, so each tick enqueues
// exactly once cluster-wide.
//
// # Worker Entity
//
// Each running instance registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - its hostname
//   - the list of jobs it can execute
//   - its concurrency limit
//   - a state: [WorkerActive], [WorkerDraining], or [WorkerDead]
//
// Workers send periodic heartbeats. A worker whose heartbeat is older
// than the configured threshold is considered dead; its reserved
// messages recover on their own when their visibility timeouts lapse.
//
// # Leader Election
//
// One worker at a time holds leadership, acquired through
// [Store.AcquireLeadership] and kept alive with
// [Store.RenewLeadership]. Leadership expires after its TTL if not
// renewed, so a crashed leader is replaced within one TTL without any
// explicit failover step.
package cluster
