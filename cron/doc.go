// Package cron provides distributed cron scheduling with leader
// election.
//
// Cron entries are stored in the database and fired only by the cluster
// leader, so each tick triggers its event exactly once even when many
// engine instances are running. A per-entry lock guards against the
// narrow window where leadership changes mid-tick.
//
// # Entry
//
// An [Entry] represents a recurring event trigger:
//   - Schedule: standard cron expression (e.g., "0 9 * * 1-5") or a
//     descriptor like "@every 30s"
//   - EventName: the catalogue event to trigger when fired
//   - Payload: static payload passed to every trigger
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: distributed lock fields (managed internally)
//
// # Registering a Cron
//
// Use engine.RegisterCron to add a cron entry at startup:
//
//	engine.RegisterCron(ctx, eng, cron.NewDefinition(
//	    "nightly-digest", "0 3 * * *", "digest.requested", DigestInput{Kind: "daily"}))
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, acquires the
// per-entry lock, triggers the entry's event, and updates LastRunAt and
// NextRunAt. The [ext.CronFired] extension hook fires after each trigger.
package cron
