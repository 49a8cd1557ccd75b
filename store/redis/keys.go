package redis

// Redis key naming conventions for flume data.
// All keys are prefixed with "flume:" to avoid collisions.

const keyPrefix = "flume:"

// ── Queue keys ──

// msgKey returns the key for a message entity: flume:msg:{id}
func msgKey(id string) string { return keyPrefix + "msg:" + id }

// msgIDsKey is the Set tracking all message IDs for enumeration.
const msgIDsKey = keyPrefix + "msg_ids"

// queueKey is the Sorted Set holding live (pending or reserved) message
// IDs scored by their visible_at time in unix milliseconds. A reserved
// message keeps a future score; if its holder crashes, the score lapses
// and the message becomes claimable again.
const queueKey = keyPrefix + "queue"

// ── Cron keys ──

// cronKey returns the key for a cron entry entity: flume:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronIDsKey is the Set tracking all cron IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps cron names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: flume:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Cluster keys ──

// workerKey returns the key for a worker entity: flume:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID.
const leaderKey = keyPrefix + "leader"
