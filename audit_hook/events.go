package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionTriggerFired     = "trigger.fired"
	ActionMessageEnqueued  = "message.enqueued"
	ActionMessageStarted   = "message.started"
	ActionMessageCompleted = "message.completed"
	ActionMessageRetrying  = "message.retrying"
	ActionMessageDead      = "message.dead"
	ActionCronFired        = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryTrigger = "flume.trigger"
	CategoryMessage = "flume.message"
	CategoryCron    = "flume.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceTrigger = "trigger"
	ResourceMessage = "message"
	ResourceCron    = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionTriggerFired,
		ActionMessageEnqueued,
		ActionMessageStarted,
		ActionMessageCompleted,
		ActionMessageRetrying,
		ActionMessageDead,
		ActionCronFired,
	}
}
