// Package storage persists refresh jobs across process restarts.
//
// The job store is intentionally dumb: it holds plain data only (ids,
// timestamps, a state string), never callbacks or payload objects. The
// executable behavior for a job is always resolved by the scheduler from the
// folder id at fire time, so nothing here needs to survive code changes.
package storage
