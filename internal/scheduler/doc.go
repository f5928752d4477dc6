// Package scheduler owns the authoritative timer loop for link-refresh jobs.
//
// # Overview
//
// Each tracked folder has at most one live job, keyed by the deterministic id
// "refresh:<folder_id>". Jobs live durably in the job store and in an
// in-memory min-heap ordered by trigger time. A single loop goroutine waits
// until the earliest trigger (or until woken by Schedule/Cancel), transitions
// due jobs to Running, and dispatches each to the refresh executor on its own
// goroutine so a slow refresh never delays other folders.
//
// On completion the job is removed from the store and the planner is asked
// for the folder's next trigger, anchored at "now" rather than the original
// due time so delays do not compound.
//
// # Lifecycle
//
// Start is idempotent and reloads persisted jobs, so a restart resumes where
// the previous process stopped. Jobs found in state Running at load time
// belong to a crashed cycle and are re-armed after a short delay. Stop lets
// in-flight refreshes run to completion; it never cancels them.
//
// # Repair
//
// A failed store write is fatal only to that job's current cycle: the
// periodic reconciliation sweep (registered on an internal cron) realigns the
// store with the tracked-folder set.
package scheduler
