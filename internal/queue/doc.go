// Package queue persists download jobs and their lifecycle state in SQLite.
//
// The store is the single source of truth for persisted job fields. All
// mutations flow through Update or the transactional Mutate helper, which
// serializes concurrent writers per job id so accrued seeding time and retry
// state survive process restarts without lost updates.
package queue
