package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/models"
)

func testAllocation(jobID string, depth, granted int) *models.Allocation {
	return &models.Allocation{
		JobID:     jobID,
		Depth:     depth,
		Requested: granted,
		Granted:   granted,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAllocation_InsertOnce(t *testing.T) {
	db := newTestDB(t)
	storage := NewAllocationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := storage.CreateAllocation(ctx, testAllocation("job_1", 1, 2)); err != nil {
		t.Fatalf("Failed to create allocation: %v", err)
	}

	err := storage.CreateAllocation(ctx, testAllocation("job_1", 1, 1))
	var allocErr *models.AllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("Expected AllocationError for duplicate, got %v", err)
	}

	// Different depth is a separate row
	if err := storage.CreateAllocation(ctx, testAllocation("job_1", 2, 1)); err != nil {
		t.Errorf("Different depth should insert: %v", err)
	}
}

func TestDeleteAllocation(t *testing.T) {
	db := newTestDB(t)
	storage := NewAllocationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := storage.CreateAllocation(ctx, testAllocation("job_1", 0, 3)); err != nil {
		t.Fatalf("Failed to create allocation: %v", err)
	}

	deleted, err := storage.DeleteAllocation(ctx, "job_1", 0)
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if !deleted {
		t.Error("Expected deletion to report true")
	}

	deleted, err = storage.DeleteAllocation(ctx, "job_1", 0)
	if err != nil {
		t.Fatalf("Second delete errored: %v", err)
	}
	if deleted {
		t.Error("Expected second delete to report false")
	}
}

func TestDeleteAllocationsByJob_SumsGrants(t *testing.T) {
	db := newTestDB(t)
	storage := NewAllocationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := storage.CreateAllocation(ctx, testAllocation("job_1", 0, 2)); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if err := storage.CreateAllocation(ctx, testAllocation("job_1", 1, 3)); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if err := storage.CreateAllocation(ctx, testAllocation("job_2", 1, 1)); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	total, err := storage.DeleteAllocationsByJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("Failed to delete by job: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected 5 slots released, got %d", total)
	}

	remaining, err := storage.ListAllocations(ctx)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].JobID != "job_2" {
		t.Errorf("Expected only job_2's allocation to remain, got %d rows", len(remaining))
	}
}

func TestDeleteAllAllocations(t *testing.T) {
	db := newTestDB(t)
	storage := NewAllocationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for i, jobID := range []string{"job_1", "job_2", "job_3"} {
		if err := storage.CreateAllocation(ctx, testAllocation(jobID, i, 1)); err != nil {
			t.Fatalf("Failed to create: %v", err)
		}
	}

	count, err := storage.DeleteAllAllocations(ctx)
	if err != nil {
		t.Fatalf("Failed to wipe: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 rows wiped, got %d", count)
	}

	count, err = storage.DeleteAllAllocations(ctx)
	if err != nil {
		t.Fatalf("Second wipe errored: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty table, got %d", count)
	}
}
