package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewJobRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "guid-1", "The Wide Sea", `{"guid":"guid-1"}`)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if job.Status != StatusQueued {
		t.Fatalf("status = %s, want %s", job.Status, StatusQueued)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected job")
	}
	if fetched.GUID != "guid-1" || fetched.Title != "The Wide Sea" {
		t.Fatalf("unexpected job fields: %+v", fetched)
	}
	if fetched.SourceJSON != `{"guid":"guid-1"}` {
		t.Fatalf("source json = %q", fetched.SourceJSON)
	}
}

func TestGetByIDMissing(t *testing.T) {
	store := openTestStore(t)

	job, err := store.GetByID(context.Background(), 999)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestFindByGUIDReturnsNewest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.NewJob(ctx, "guid-dup", "First", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	second, err := store.NewJob(ctx, "guid-dup", "Second", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	found, err := store.FindByGUID(ctx, "guid-dup")
	if err != nil {
		t.Fatalf("find by guid: %v", err)
	}
	if found == nil || found.ID != second.ID {
		t.Fatalf("expected job %d, got %+v", second.ID, found)
	}
	_ = first
}

func TestUpdatePersistsNullableFields(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "guid-2", "Book", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	started := time.Now().UTC().Truncate(time.Millisecond)
	job.Status = StatusSeeding
	job.TorrentHash = "abcdef0123456789abcdef0123456789abcdef01"
	job.SeedStartedAt = &started
	job.SeedAccruedSeconds = 120
	job.UploadedBytes = 4096
	job.DownloadedBytes = 2048
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched.Status != StatusSeeding {
		t.Fatalf("status = %s", fetched.Status)
	}
	if fetched.SeedStartedAt == nil || !fetched.SeedStartedAt.Equal(started) {
		t.Fatalf("seed started = %v, want %v", fetched.SeedStartedAt, started)
	}
	if fetched.SeedAccruedSeconds != 120 {
		t.Fatalf("accrued = %d", fetched.SeedAccruedSeconds)
	}
	if fetched.UploadedBytes != 4096 || fetched.DownloadedBytes != 2048 {
		t.Fatalf("transfer counters = %d/%d", fetched.UploadedBytes, fetched.DownloadedBytes)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	queued, err := store.NewJob(ctx, "guid-q", "Queued", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	seeding, err := store.NewJob(ctx, "guid-s", "Seeding", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	seeding.Status = StatusSeeding
	if err := store.Update(ctx, seeding); err != nil {
		t.Fatalf("update: %v", err)
	}

	onlySeeding, err := store.List(ctx, StatusSeeding)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(onlySeeding) != 1 || onlySeeding[0].ID != seeding.ID {
		t.Fatalf("expected only seeding job, got %d rows", len(onlySeeding))
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
	_ = queued
}

func TestMutateNoLostUpdates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "guid-3", "Concurrent", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := store.Mutate(ctx, job.ID, func(j *Job) error {
					j.SeedAccruedSeconds++
					return nil
				})
				if err != nil {
					t.Errorf("mutate: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched.SeedAccruedSeconds != workers*perWorker {
		t.Fatalf("accrued = %d, want %d", fetched.SeedAccruedSeconds, workers*perWorker)
	}
}

func TestMutateRejectsAccrualRegression(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "guid-4", "Regress", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Mutate(ctx, job.ID, func(j *Job) error {
		j.SeedAccruedSeconds = 500
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	_, err = store.Mutate(ctx, job.ID, func(j *Job) error {
		j.SeedAccruedSeconds = 100
		return nil
	})
	if !errors.Is(err, ErrAccrualRegression) {
		t.Fatalf("expected accrual regression error, got %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched.SeedAccruedSeconds != 500 {
		t.Fatalf("accrued = %d, want 500", fetched.SeedAccruedSeconds)
	}
}

func TestMutateRejectsTerminalTransitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "guid-5", "Final", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Mutate(ctx, job.ID, func(j *Job) error {
		j.Status = StatusRemoved
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	// A removed job cannot come back to life.
	_, err = store.Mutate(ctx, job.ID, func(j *Job) error {
		j.Status = StatusProcessing
		return nil
	})
	if !errors.Is(err, ErrTerminalTransition) {
		t.Fatalf("expected terminal transition error, got %v", err)
	}
	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched.Status != StatusRemoved {
		t.Fatalf("status = %s, want removed", fetched.Status)
	}

	// Mutating other fields of a terminal job stays legal.
	if _, err := store.Mutate(ctx, job.ID, func(j *Job) error {
		j.ErrorMessage = "noted"
		return nil
	}); err != nil {
		t.Fatalf("mutate without status change: %v", err)
	}

	// Requeueing a failed job remains the sanctioned exception.
	retry, err := store.NewJob(ctx, "guid-6", "Retryable", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Mutate(ctx, retry.ID, func(j *Job) error {
		j.SetFailed("backend_unreachable", "down")
		return nil
	}); err != nil {
		t.Fatalf("fail job: %v", err)
	}
	requeued, err := store.Mutate(ctx, retry.ID, func(j *Job) error {
		j.Status = StatusQueued
		return nil
	})
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Status != StatusQueued {
		t.Fatalf("status = %s, want queued", requeued.Status)
	}
}

func TestMutateMissingJobReturnsNil(t *testing.T) {
	store := openTestStore(t)

	job, err := store.Mutate(context.Background(), 4242, func(j *Job) error {
		t.Fatal("mutator should not run for missing job")
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "jobs.db")
	ctx := context.Background()

	store, err := OpenPath(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	job, err := store.NewJob(ctx, "guid-5", "Durable", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Mutate(ctx, job.ID, func(j *Job) error {
		j.Status = StatusSeeding
		j.SeedAccruedSeconds = 3600
		j.RetryCount = 2
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenPath(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	fetched, err := reopened.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected job after reopen")
	}
	if fetched.Status != StatusSeeding || fetched.SeedAccruedSeconds != 3600 || fetched.RetryCount != 2 {
		t.Fatalf("state lost across reopen: %+v", fetched)
	}
}

func TestRetryFailedResetsJob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "guid-6", "Retryable", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Mutate(ctx, job.ID, func(j *Job) error {
		j.SetFailed("backend_unreachable", "connection refused")
		j.RetryCount = 5
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	reset, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if reset.Status != StatusQueued || reset.RetryCount != 0 || reset.FailureReason != "" {
		t.Fatalf("unexpected reset state: %+v", reset)
	}

	if _, err := store.RetryFailed(ctx, job.ID); err == nil {
		t.Fatal("expected error retrying a non-failed job")
	}
}

func TestHealthAndClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, status := range []Status{StatusQueued, StatusSeeding, StatusCompleted, StatusFailed} {
		job, err := store.NewJob(ctx, "guid-h-"+string(rune('a'+i)), "Job", "")
		if err != nil {
			t.Fatalf("new job: %v", err)
		}
		if status != StatusQueued {
			job.Status = status
			if err := store.Update(ctx, job); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Total != 4 || health.Queued != 1 || health.Seeding != 1 || health.Completed != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}

	cleared, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("clear completed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	cleared, err = store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
}

func TestUnsatisfiedCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	satisfied, err := store.NewJob(ctx, "guid-sat", "Done Seeding", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Mutate(ctx, satisfied.ID, func(j *Job) error {
		j.Status = StatusSeeding
		j.SeedAccruedSeconds = 7200
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if _, err := store.NewJob(ctx, "guid-unsat", "Fresh", ""); err != nil {
		t.Fatalf("new job: %v", err)
	}

	count, err := store.UnsatisfiedCount(ctx, 3600)
	if err != nil {
		t.Fatalf("unsatisfied count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus(" Seeding ")
	if !ok || status != StatusSeeding {
		t.Fatalf("parse = %s, %v", status, ok)
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Fatal("expected unknown status to fail")
	}
}
