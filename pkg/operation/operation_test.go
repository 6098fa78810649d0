package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	gwerrors "github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/storage"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemory[Operation]())
}

func TestCreatePendingThenMarkRunningAndCompleted(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	op, err := m.CreatePending(ctx, "workflow_run", map[string]any{"input": "x"})
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}
	if op.Status != StatusPending {
		t.Fatalf("Status = %q, want %q", op.Status, StatusPending)
	}
	if !ValidID(op.ID) {
		t.Fatalf("CreatePending() ID = %q, want op-<uuid>", op.ID)
	}

	running, err := m.MarkRunning(ctx, op.ID)
	if err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if running.Status != StatusRunning || running.StartedAt == nil {
		t.Fatalf("MarkRunning() = %+v, want Status=running with StartedAt set", running)
	}

	done, err := m.MarkCompleted(ctx, op.ID, map[string]any{"result": "ok"})
	if err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if done.Status != StatusCompleted || done.FinishedAt == nil {
		t.Fatalf("MarkCompleted() = %+v, want Status=completed with FinishedAt set", done)
	}
	if done.Output["result"] != "ok" {
		t.Errorf("Output = %+v, want result=ok", done.Output)
	}
}

func TestMarkFailedRecordsCause(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	op, _ := m.CreatePending(ctx, "provider_call", nil)
	_, _ = m.MarkRunning(ctx, op.ID)

	failed, err := m.MarkFailed(ctx, op.ID, errors.New("boom"))
	if err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if failed.Status != StatusFailed || failed.Error != "boom" {
		t.Fatalf("MarkFailed() = %+v, want Status=failed Error=boom", failed)
	}
}

func TestCancelFromPending(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	op, _ := m.CreatePending(ctx, "workflow_run", nil)

	cancelled, err := m.Cancel(ctx, op.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("Status = %q, want %q", cancelled.Status, StatusCancelled)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	op, _ := m.CreatePending(ctx, "workflow_run", nil)
	_, _ = m.MarkRunning(ctx, op.ID)
	_, _ = m.MarkCompleted(ctx, op.ID, nil)

	_, err := m.MarkRunning(ctx, op.ID)
	var invalid *gwerrors.InvalidStateTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateTransitionError for completed->running, got %v", err)
	}
}

func TestMarkCompletedRequiresRunning(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	op, _ := m.CreatePending(ctx, "workflow_run", nil)

	_, err := m.MarkCompleted(ctx, op.ID, nil)
	var invalid *gwerrors.InvalidStateTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateTransitionError for pending->completed, got %v", err)
	}
}

func TestGetBatchSkipsMissingIDs(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	op1, _ := m.CreatePending(ctx, "workflow_run", nil)
	op2, _ := m.CreatePending(ctx, "workflow_run", nil)

	got, err := m.GetBatch(ctx, []string{op1.ID, "does-not-exist", op2.ID})
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetBatch() returned %d operations, want 2", len(got))
	}
}

func TestCleanupOldRemovesOnlyTerminalPastCutoff(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	old, _ := m.CreatePending(ctx, "workflow_run", nil)
	_, _ = m.MarkRunning(ctx, old.ID)
	completed, err := m.MarkCompleted(ctx, old.ID, nil)
	if err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	completed.CreatedAt = completed.CreatedAt.Add(-48 * time.Hour)
	if err := m.store.Update(ctx, completed.ID, *completed); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	recent, _ := m.CreatePending(ctx, "workflow_run", nil)
	_, _ = m.MarkRunning(ctx, recent.ID)
	_, _ = m.MarkCompleted(ctx, recent.ID, nil)

	stillPending, _ := m.CreatePending(ctx, "workflow_run", nil)

	removed, err := m.CleanupOld(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOld() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("CleanupOld() removed = %d, want 1", removed)
	}

	if _, err := m.Get(ctx, old.ID); err == nil {
		t.Error("expected old completed operation to be deleted")
	}
	if _, err := m.Get(ctx, recent.ID); err != nil {
		t.Error("expected recently completed operation to survive cleanup")
	}
	if _, err := m.Get(ctx, stillPending.ID); err != nil {
		t.Error("expected pending operation to survive cleanup")
	}
}
