package storage

import (
	"context"
	"errors"
	"testing"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

type record struct {
	Name  string
	Count int
}

func TestMemoryCreateGet(t *testing.T) {
	m := NewMemory[record]()
	ctx := context.Background()

	if err := m.Create(ctx, "a", record{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := m.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "alpha" {
		t.Errorf("Get().Name = %q, want %q", got.Name, "alpha")
	}
}

func TestMemoryCreateDuplicateConflicts(t *testing.T) {
	m := NewMemory[record]()
	ctx := context.Background()

	if err := m.Create(ctx, "a", record{Name: "alpha"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := m.Create(ctx, "a", record{Name: "alpha2"})
	var conflict *gwerrors.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestMemoryGetMissingNotFound(t *testing.T) {
	m := NewMemory[record]()
	_, err := m.Get(context.Background(), "missing")
	var nf *gwerrors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMemoryUpdateMissingNotFound(t *testing.T) {
	m := NewMemory[record]()
	err := m.Update(context.Background(), "missing", record{Name: "x"})
	var nf *gwerrors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMemoryUpdateReplacesValue(t *testing.T) {
	m := NewMemory[record]()
	ctx := context.Background()
	_ = m.Create(ctx, "a", record{Name: "alpha", Count: 1})

	if err := m.Update(ctx, "a", record{Name: "alpha", Count: 2}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := m.Get(ctx, "a")
	if got.Count != 2 {
		t.Errorf("Count = %d, want 2", got.Count)
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory[record]()
	ctx := context.Background()
	_ = m.Create(ctx, "a", record{Name: "alpha"})

	if err := m.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(ctx, "a"); err == nil {
		t.Error("expected Get() after Delete() to fail")
	}
}

func TestMemoryDeleteMissingNotFound(t *testing.T) {
	m := NewMemory[record]()
	err := m.Delete(context.Background(), "missing")
	var nf *gwerrors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMemoryExists(t *testing.T) {
	m := NewMemory[record]()
	ctx := context.Background()

	ok, err := m.Exists(ctx, "a")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Fatal("Exists() = true before Create, want false")
	}

	_ = m.Create(ctx, "a", record{Name: "alpha"})
	ok, err = m.Exists(ctx, "a")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !ok {
		t.Fatal("Exists() = false after Create, want true")
	}

	_ = m.Delete(ctx, "a")
	ok, err = m.Exists(ctx, "a")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Fatal("Exists() = true after Delete, want false")
	}
}

func TestMemoryListFiltered(t *testing.T) {
	m := NewMemory[record]()
	ctx := context.Background()
	_ = m.Create(ctx, "a", record{Name: "alpha", Count: 1})
	_ = m.Create(ctx, "b", record{Name: "beta", Count: 2})
	_ = m.Create(ctx, "c", record{Name: "gamma", Count: 3})

	out, err := m.List(ctx, func(r record) bool { return r.Count >= 2 })
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(out))
	}
}

func TestMemoryListNilFilterReturnsAll(t *testing.T) {
	m := NewMemory[record]()
	ctx := context.Background()
	_ = m.Create(ctx, "a", record{Name: "alpha"})
	_ = m.Create(ctx, "b", record{Name: "beta"})

	out, err := m.List(ctx, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(out))
	}
}
