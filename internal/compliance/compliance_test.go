package compliance

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
	"mamlarr/internal/services"
)

func testPolicy() Policy {
	return Policy{
		TargetSeedSeconds: 3600,
		RatioFloor:        1.0,
		MaxUnsatisfied:    3,
		RatioScope:        config.RatioScopeAccount,
	}
}

func TestPermitStopRequiresBothConditions(t *testing.T) {
	tests := []struct {
		name       string
		accrued    int64
		uploaded   int64
		downloaded int64
		allow      bool
	}{
		{"time met ratio met", 3600, 2000, 1000, true},
		{"time met ratio low", 3600, 500, 1000, false},
		{"time short ratio met", 1800, 2000, 1000, false},
		{"time short ratio low", 1800, 500, 1000, false},
		{"exact boundary", 3600, 1000, 1000, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(testPolicy(), logging.NewNop())
			engine.RecordTransfer(tc.uploaded, tc.downloaded)

			job := &queue.Job{SeedAccruedSeconds: tc.accrued}
			err := engine.PermitStop(job)
			if tc.allow && err != nil {
				t.Fatalf("expected permit, got %v", err)
			}
			if !tc.allow {
				if err == nil {
					t.Fatal("expected denial")
				}
				if !errors.Is(err, services.ErrCompliance) {
					t.Fatalf("expected compliance error, got %v", err)
				}
			}
		})
	}
}

func TestPermitStopJobScopeUsesJobRatio(t *testing.T) {
	policy := testPolicy()
	policy.RatioScope = config.RatioScopeJob
	engine := NewEngine(policy, logging.NewNop())
	// Account totals would fail the floor; the job's own ratio passes.
	engine.RecordTransfer(100, 10000)

	job := &queue.Job{SeedAccruedSeconds: 3600, UploadedBytes: 2000, DownloadedBytes: 1000}
	if err := engine.PermitStop(job); err != nil {
		t.Fatalf("expected permit under job scope, got %v", err)
	}

	job.UploadedBytes = 100
	if err := engine.PermitStop(job); !errors.Is(err, services.ErrCompliance) {
		t.Fatalf("expected denial under job scope, got %v", err)
	}
}

func TestPermitStopProjectsPostStopAccountRatio(t *testing.T) {
	engine := NewEngine(testPolicy(), logging.NewNop())
	// Account ratio is a healthy 2.0 only because of the candidate's upload.
	engine.RecordTransfer(2000, 1000)

	heavy := &queue.Job{SeedAccruedSeconds: 7200, UploadedBytes: 1500, DownloadedBytes: 100}
	// Projected post-stop ratio: 500/900, well under the floor.
	if err := engine.PermitStop(heavy); !errors.Is(err, services.ErrCompliance) {
		t.Fatalf("expected denial for projected ratio below floor, got %v", err)
	}

	light := &queue.Job{SeedAccruedSeconds: 7200, UploadedBytes: 100, DownloadedBytes: 50}
	// Projected post-stop ratio: 1900/950 = 2.0.
	if err := engine.PermitStop(light); err != nil {
		t.Fatalf("expected permit for light contributor, got %v", err)
	}

	// When the candidate is the whole account, the account ratio itself is
	// the projection.
	solo := NewEngine(testPolicy(), logging.NewNop())
	solo.RecordTransfer(2000, 1000)
	whole := &queue.Job{SeedAccruedSeconds: 7200, UploadedBytes: 2000, DownloadedBytes: 1000}
	if err := solo.PermitStop(whole); err != nil {
		t.Fatalf("expected permit for sole contributor at ratio 2.0, got %v", err)
	}
	whole.UploadedBytes = 500
	solo2 := NewEngine(testPolicy(), logging.NewNop())
	solo2.RecordTransfer(500, 1000)
	if err := solo2.PermitStop(whole); !errors.Is(err, services.ErrCompliance) {
		t.Fatalf("expected denial for sole contributor at ratio 0.5, got %v", err)
	}
}

func TestAdmissionCeiling(t *testing.T) {
	engine := NewEngine(testPolicy(), logging.NewNop())

	for i := 0; i < 3; i++ {
		if err := engine.AdmitJob(); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if err := engine.AdmitJob(); !errors.Is(err, services.ErrCompliance) {
		t.Fatalf("expected ceiling denial, got %v", err)
	}

	engine.ReleaseSlot()
	if err := engine.AdmitJob(); err != nil {
		t.Fatalf("admit after release: %v", err)
	}
	if got := engine.Snapshot().Unsatisfied; got != 3 {
		t.Fatalf("unsatisfied = %d, want 3", got)
	}
}

func TestAdmissionUnlimitedWhenCeilingZero(t *testing.T) {
	policy := testPolicy()
	policy.MaxUnsatisfied = 0
	engine := NewEngine(policy, logging.NewNop())
	for i := 0; i < 50; i++ {
		if err := engine.AdmitJob(); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
}

func TestConcurrentAdmissionNeverExceedsCeiling(t *testing.T) {
	engine := NewEngine(testPolicy(), logging.NewNop())

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 64)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.AdmitJob(); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 3 {
		t.Fatalf("admitted = %d, want 3", count)
	}
}

func TestRecordTransferIgnoresNegativeDeltas(t *testing.T) {
	engine := NewEngine(testPolicy(), logging.NewNop())
	engine.RecordTransfer(1000, 500)
	engine.RecordTransfer(-400, -100)

	snap := engine.Snapshot()
	if snap.UploadedBytes != 1000 || snap.DownloadedBytes != 500 {
		t.Fatalf("totals = %d/%d", snap.UploadedBytes, snap.DownloadedBytes)
	}
	if snap.AccountRatio != 2.0 {
		t.Fatalf("ratio = %f", snap.AccountRatio)
	}
}

func TestRebuildFromStore(t *testing.T) {
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	// One satisfied seeding job, one unsatisfied, one completed.
	for _, tc := range []struct {
		guid     string
		status   queue.Status
		accrued  int64
		uploaded int64
	}{
		{"g1", queue.StatusSeeding, 7200, 3000},
		{"g2", queue.StatusSeeding, 60, 100},
		{"g3", queue.StatusCompleted, 7200, 5000},
	} {
		job, err := store.NewJob(ctx, tc.guid, "Job", "")
		if err != nil {
			t.Fatalf("new job: %v", err)
		}
		if _, err := store.Mutate(ctx, job.ID, func(j *queue.Job) error {
			j.Status = tc.status
			j.SeedAccruedSeconds = tc.accrued
			j.UploadedBytes = tc.uploaded
			j.DownloadedBytes = 1000
			return nil
		}); err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}

	engine := NewEngine(testPolicy(), logging.NewNop())
	if err := engine.Rebuild(ctx, store); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	snap := engine.Snapshot()
	if snap.Unsatisfied != 1 {
		t.Fatalf("unsatisfied = %d, want 1", snap.Unsatisfied)
	}
	if snap.UploadedBytes != 8100 || snap.DownloadedBytes != 3000 {
		t.Fatalf("totals = %d/%d", snap.UploadedBytes, snap.DownloadedBytes)
	}
}

func TestAccrualDelta(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-30 * time.Second)

	if got := AccrualDelta(now, &earlier, true, time.Minute); got != 30 {
		t.Fatalf("delta = %d, want 30", got)
	}
	if got := AccrualDelta(now, &earlier, false, time.Minute); got != 0 {
		t.Fatalf("non-seeding delta = %d, want 0", got)
	}
	if got := AccrualDelta(now, nil, true, time.Minute); got != 0 {
		t.Fatalf("first-poll delta = %d, want 0", got)
	}

	stale := now.Add(-2 * time.Hour)
	if got := AccrualDelta(now, &stale, true, time.Minute); got != 60 {
		t.Fatalf("bounded delta = %d, want 60", got)
	}

	future := now.Add(10 * time.Second)
	if got := AccrualDelta(now, &future, true, time.Minute); got != 0 {
		t.Fatalf("clock skew delta = %d, want 0", got)
	}
}

func TestReconcileAccrued(t *testing.T) {
	if got := ReconcileAccrued(100, 250); got != 250 {
		t.Fatalf("reconciled = %d, want 250", got)
	}
	if got := ReconcileAccrued(300, 250); got != 300 {
		t.Fatalf("reconciled = %d, want 300", got)
	}
}
