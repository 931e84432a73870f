package queue

import "context"

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    guid TEXT NOT NULL,
    title TEXT,
    status TEXT NOT NULL,
    torrent_hash TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    downloaded_at TEXT,
    seed_started_at TEXT,
    last_poll_at TEXT,
    seed_accrued_seconds INTEGER NOT NULL DEFAULT 0,
    uploaded_bytes INTEGER NOT NULL DEFAULT 0,
    downloaded_bytes INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    next_retry_at TEXT,
    error_message TEXT,
    failure_reason TEXT,
    destination_path TEXT,
    source_json TEXT,
    metadata_json TEXT
)`

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_torrent_hash ON jobs(torrent_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_guid ON jobs(guid)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	if err := s.execWithoutResultRetry(ctx, createJobsTable); err != nil {
		return err
	}
	for _, stmt := range schemaIndexes {
		if err := s.execWithoutResultRetry(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
