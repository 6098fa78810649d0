// Package storage defines the generic persistence contract used by the
// operation manager and other entities that need create/get/update/list
// semantics, plus in-memory and SQLite-backed implementations.
package storage

import (
	"context"
	"sync"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// Storage is a generic CRUD contract for entities identified by a string
// ID. Create fails if the ID already exists; Update fails if it does not.
type Storage[T any] interface {
	Create(ctx context.Context, id string, value T) error
	Get(ctx context.Context, id string) (T, error)
	Update(ctx context.Context, id string, value T) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter func(T) bool) ([]T, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Memory is an in-memory Storage implementation. Safe for concurrent use.
type Memory[T any] struct {
	mu     sync.RWMutex
	values map[string]T
}

// NewMemory creates an empty in-memory store.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{values: make(map[string]T)}
}

func (m *Memory[T]) Create(ctx context.Context, id string, value T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.values[id]; exists {
		return &gwerrors.ConflictError{Resource: "entity", ID: id}
	}
	m.values[id] = value
	return nil
}

func (m *Memory[T]) Get(ctx context.Context, id string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.values[id]
	if !exists {
		var zero T
		return zero, &gwerrors.NotFoundError{Resource: "entity", ID: id}
	}
	return v, nil
}

func (m *Memory[T]) Update(ctx context.Context, id string, value T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.values[id]; !exists {
		return &gwerrors.NotFoundError{Resource: "entity", ID: id}
	}
	m.values[id] = value
	return nil
}

func (m *Memory[T]) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.values[id]; !exists {
		return &gwerrors.NotFoundError{Resource: "entity", ID: id}
	}
	delete(m.values, id)
	return nil
}

func (m *Memory[T]) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.values[id]
	return exists, nil
}

func (m *Memory[T]) List(ctx context.Context, filter func(T) bool) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []T
	for _, v := range m.values {
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	return out, nil
}
