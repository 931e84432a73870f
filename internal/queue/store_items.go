package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, guid, title, status, torrent_hash, created_at, updated_at, " +
	"downloaded_at, seed_started_at, last_poll_at, seed_accrued_seconds, " +
	"uploaded_bytes, downloaded_bytes, retry_count, next_retry_at, " +
	"error_message, failure_reason, destination_path, source_json, metadata_json"

// NewJob inserts a queued job for a tracker release.
func (s *Store) NewJob(ctx context.Context, guid, title, sourceJSON string) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	res, err = s.execWithRetry(
		ctx,
		`INSERT INTO jobs (guid, title, status, created_at, updated_at, source_json)
         VALUES (?, ?, ?, ?, ?, ?)`,
		guid,
		title,
		StatusQueued,
		timestamp,
		timestamp,
		nullableString(sourceJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindByGUID returns the most recent job matching a release guid.
func (s *Store) FindByGUID(ctx context.Context, guid string) (*Job, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE guid = ? ORDER BY id DESC LIMIT 1`,
		guid,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by guid: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Active returns non-terminal jobs in creation order.
func (s *Store) Active(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, ActiveStatuses()...)
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET guid = ?, title = ?, status = ?, torrent_hash = ?, updated_at = ?,
             downloaded_at = ?, seed_started_at = ?, last_poll_at = ?,
             seed_accrued_seconds = ?, uploaded_bytes = ?, downloaded_bytes = ?,
             retry_count = ?, next_retry_at = ?, error_message = ?,
             failure_reason = ?, destination_path = ?, source_json = ?, metadata_json = ?
         WHERE id = ?`,
		job.GUID,
		nullableString(job.Title),
		job.Status,
		nullableString(job.TorrentHash),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.DownloadedAt),
		nullableTime(job.SeedStartedAt),
		nullableTime(job.LastPollAt),
		job.SeedAccruedSeconds,
		job.UploadedBytes,
		job.DownloadedBytes,
		job.RetryCount,
		nullableTime(job.NextRetryAt),
		nullableString(job.ErrorMessage),
		nullableString(job.FailureReason),
		nullableString(job.DestinationPath),
		nullableString(job.SourceJSON),
		nullableString(job.MetadataJSON),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ErrAccrualRegression is returned when a mutation would lower the persisted
// accrued seeding time.
var ErrAccrualRegression = errors.New("seed accrual must not decrease")

// ErrTerminalTransition is returned when a mutation tries to move a job out
// of a terminal status. The one sanctioned exception is requeueing a failed
// job; completed and removed are final.
var ErrTerminalTransition = errors.New("job status is terminal")

// Mutate applies an atomic read-modify-write to a single job. Two concurrent
// callers acting on the same job id serialize; callers acting on different
// ids proceed independently. Mutations that would lower the accrued seed time
// or move a job out of a terminal status are rejected. Returns the updated
// job, or nil when the job no longer exists.
func (s *Store) Mutate(ctx context.Context, id int64, fn func(*Job) error) (*Job, error) {
	if fn == nil {
		return nil, errors.New("mutator is nil")
	}
	mu := s.jobLock(id)
	mu.Lock()
	defer mu.Unlock()

	ctx = ensureContext(ctx)
	var result *Job
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			result = nil
			return nil
		}
		if err != nil {
			return err
		}

		beforeAccrued := job.SeedAccruedSeconds
		beforeStatus := job.Status
		if err := fn(job); err != nil {
			return err
		}
		if job.SeedAccruedSeconds < beforeAccrued {
			return ErrAccrualRegression
		}
		if IsTerminal(beforeStatus) && job.Status != beforeStatus {
			if beforeStatus != StatusFailed || job.Status != StatusQueued {
				return ErrTerminalTransition
			}
		}

		job.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET guid = ?, title = ?, status = ?, torrent_hash = ?, updated_at = ?,
                 downloaded_at = ?, seed_started_at = ?, last_poll_at = ?,
                 seed_accrued_seconds = ?, uploaded_bytes = ?, downloaded_bytes = ?,
                 retry_count = ?, next_retry_at = ?, error_message = ?,
                 failure_reason = ?, destination_path = ?, source_json = ?, metadata_json = ?
             WHERE id = ?`,
			job.GUID,
			nullableString(job.Title),
			job.Status,
			nullableString(job.TorrentHash),
			job.UpdatedAt.Format(time.RFC3339Nano),
			nullableTime(job.DownloadedAt),
			nullableTime(job.SeedStartedAt),
			nullableTime(job.LastPollAt),
			job.SeedAccruedSeconds,
			job.UploadedBytes,
			job.DownloadedBytes,
			job.RetryCount,
			nullableTime(job.NextRetryAt),
			nullableString(job.ErrorMessage),
			nullableString(job.FailureReason),
			nullableString(job.DestinationPath),
			nullableString(job.SourceJSON),
			nullableString(job.MetadataJSON),
			job.ID,
		)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mutate job %d: %w", id, err)
	}
	return result, nil
}

// Remove deletes a job row by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		guid            string
		title           sql.NullString
		statusStr       string
		torrentHash     sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		downloadedRaw   sql.NullString
		seedStartedRaw  sql.NullString
		lastPollRaw     sql.NullString
		accruedSeconds  sql.NullInt64
		uploadedBytes   sql.NullInt64
		downloadedBytes sql.NullInt64
		retryCount      sql.NullInt64
		nextRetryRaw    sql.NullString
		errorMessage    sql.NullString
		failureReason   sql.NullString
		destinationPath sql.NullString
		sourceJSON      sql.NullString
		metadataJSON    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&guid,
		&title,
		&statusStr,
		&torrentHash,
		&createdRaw,
		&updatedRaw,
		&downloadedRaw,
		&seedStartedRaw,
		&lastPollRaw,
		&accruedSeconds,
		&uploadedBytes,
		&downloadedBytes,
		&retryCount,
		&nextRetryRaw,
		&errorMessage,
		&failureReason,
		&destinationPath,
		&sourceJSON,
		&metadataJSON,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                 id,
		GUID:               guid,
		Title:              title.String,
		Status:             Status(statusStr),
		TorrentHash:        torrentHash.String,
		SeedAccruedSeconds: accruedSeconds.Int64,
		UploadedBytes:      uploadedBytes.Int64,
		DownloadedBytes:    downloadedBytes.Int64,
		RetryCount:         int(retryCount.Int64),
		ErrorMessage:       errorMessage.String,
		FailureReason:      failureReason.String,
		DestinationPath:    destinationPath.String,
		SourceJSON:         sourceJSON.String,
		MetadataJSON:       metadataJSON.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	job.DownloadedAt = parseNullableTime(downloadedRaw)
	job.SeedStartedAt = parseNullableTime(seedStartedRaw)
	job.LastPollAt = parseNullableTime(lastPollRaw)
	job.NextRetryAt = parseNullableTime(nextRetryRaw)
	return job, nil
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
