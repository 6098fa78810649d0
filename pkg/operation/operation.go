// Package operation tracks long-running asynchronous work (workflow runs,
// deferred provider calls) as typed state-machine entities backed by the
// shared pkg/storage contract. Every status change is checked against a
// single transition table; an illegal transition is rejected without
// mutating the stored entity.
package operation

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	gwerrors "github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/storage"
)

// idPrefix is prepended to every generated operation ID.
const idPrefix = "op-"

// idPattern validates an operation ID: the "op-" prefix followed by a
// canonical UUID.
var idPattern = regexp.MustCompile(`^op-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidID reports whether id matches the op-<uuid> grammar.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Status is an operation's lifecycle stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// transitions enumerates the legal state machine edges for an operation.
var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func allowed(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Operation is a single unit of asynchronous work tracked end to end.
type Operation struct {
	ID         string
	Kind       string // e.g. "workflow_run", "provider_call"
	Status     Status
	Input      map[string]any
	Output     map[string]any
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Manager creates and transitions Operations, backed by a Storage[Operation].
type Manager struct {
	store storage.Storage[Operation]
	mu    sync.Mutex
}

// NewManager wraps store with operation lifecycle semantics.
func NewManager(store storage.Storage[Operation]) *Manager {
	return &Manager{store: store}
}

// CreatePending creates a new operation in StatusPending and returns it.
func (m *Manager) CreatePending(ctx context.Context, kind string, input map[string]any) (*Operation, error) {
	now := time.Now()
	op := Operation{
		ID:        idPrefix + uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, op.ID, op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Get returns the operation identified by id.
func (m *Manager) Get(ctx context.Context, id string) (*Operation, error) {
	op, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// GetBatch returns every operation whose ID is in ids, skipping IDs that
// don't exist rather than failing the whole batch.
func (m *Manager) GetBatch(ctx context.Context, ids []string) ([]*Operation, error) {
	out := make([]*Operation, 0, len(ids))
	for _, id := range ids {
		op, err := m.store.Get(ctx, id)
		if err != nil {
			if _, isNotFound := err.(*gwerrors.NotFoundError); isNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, &op)
	}
	return out, nil
}

// transition loads id, checks the requested edge against the state
// machine, applies mutate, and persists the result. Centralizing this
// guarantees every status change is checked against the same table.
func (m *Manager) transition(ctx context.Context, id string, to Status, mutate func(*Operation)) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed(op.Status, to) {
		return nil, &gwerrors.InvalidStateTransitionError{ID: id, From: string(op.Status), To: string(to)}
	}
	op.Status = to
	op.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(&op)
	}
	if err := m.store.Update(ctx, id, op); err != nil {
		return nil, err
	}
	return &op, nil
}

// MarkRunning transitions a pending operation to running.
func (m *Manager) MarkRunning(ctx context.Context, id string) (*Operation, error) {
	return m.transition(ctx, id, StatusRunning, func(op *Operation) {
		now := time.Now()
		op.StartedAt = &now
	})
}

// MarkCompleted transitions a running operation to completed with output.
func (m *Manager) MarkCompleted(ctx context.Context, id string, output map[string]any) (*Operation, error) {
	return m.transition(ctx, id, StatusCompleted, func(op *Operation) {
		now := time.Now()
		op.Output = output
		op.FinishedAt = &now
	})
}

// MarkFailed transitions a running operation to failed with a message.
func (m *Manager) MarkFailed(ctx context.Context, id string, cause error) (*Operation, error) {
	return m.transition(ctx, id, StatusFailed, func(op *Operation) {
		now := time.Now()
		if cause != nil {
			op.Error = cause.Error()
		}
		op.FinishedAt = &now
	})
}

// Cancel transitions a pending or running operation to cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) (*Operation, error) {
	return m.transition(ctx, id, StatusCancelled, func(op *Operation) {
		now := time.Now()
		op.FinishedAt = &now
	})
}

// CleanupOld deletes completed, failed, or cancelled operations whose
// CreatedAt is older than olderThan, returning the number removed. Only
// terminal operations are ever removed: a pending or running operation is
// kept regardless of age since deleting it would strand an in-flight
// caller's poll.
func (m *Manager) CleanupOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	terminal, err := m.store.List(ctx, func(op Operation) bool {
		if op.Status != StatusCompleted && op.Status != StatusFailed && op.Status != StatusCancelled {
			return false
		}
		return op.CreatedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, op := range terminal {
		if err := m.store.Delete(ctx, op.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
