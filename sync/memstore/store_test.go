package memstore

import (
	"context"
	"testing"

	relaysync "github.com/relaysync/core/sync"
)

func TestInsertConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	if _, err := tx.Insert(ctx, "items", relaysync.Row{"id": "i1"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_ = tx.Commit(ctx)

	tx2, _ := s.Begin(ctx)
	_, err := tx2.Insert(ctx, "items", relaysync.Row{"id": "i1"})
	se, ok := err.(*relaysync.Error)
	if !ok || se.Code != relaysync.CodeConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	_, err := tx.UpdateByPk(ctx, "items", "missing", relaysync.Row{"title": "x"}, relaysync.UpdateOptions{})
	se, ok := err.(*relaysync.Error)
	if !ok || se.Code != relaysync.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateVersionMismatchIsConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	_, _ = tx.Insert(ctx, "items", relaysync.Row{"id": "i1"})
	_ = tx.Commit(ctx)

	tx2, _ := s.Begin(ctx)
	_, err := tx2.UpdateByPk(ctx, "items", "i1", relaysync.Row{"title": "x"}, relaysync.UpdateOptions{IfVersion: 5, HasIfVersion: true})
	se, ok := err.(*relaysync.Error)
	if !ok || se.Code != relaysync.CodeConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if se.Details["expectedVersion"] != int64(5) || se.Details["actualVersion"] != int64(1) {
		t.Fatalf("expected details {expectedVersion:5 actualVersion:1}, got %+v", se.Details)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	err := tx.DeleteByPk(ctx, "items", "missing")
	se, ok := err.(*relaysync.Error)
	if !ok || se.Code != relaysync.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	if _, err := tx.Insert(ctx, "items", relaysync.Row{"id": "i1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	tx2, _ := s.Begin(ctx)
	_, found, err := tx2.SelectByPk(ctx, "items", "i1", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if found {
		t.Fatalf("expected rolled-back insert not to be visible")
	}
}

func TestCommitAppliesStagedWritesAtomically(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	if _, err := tx.Insert(ctx, "items", relaysync.Row{"id": "i1"}); err != nil {
		t.Fatalf("insert i1: %v", err)
	}
	if _, err := tx.Insert(ctx, "items", relaysync.Row{"id": "i2"}); err != nil {
		t.Fatalf("insert i2: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, _ := s.Begin(ctx)
	_, found1, _ := tx2.SelectByPk(ctx, "items", "i1", nil)
	_, found2, _ := tx2.SelectByPk(ctx, "items", "i2", nil)
	if !found1 || !found2 {
		t.Fatalf("expected both rows visible after commit, got %v %v", found1, found2)
	}
}

func TestSelectWindowToleratesCursorFromOtherOrderBy(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := tx.Insert(ctx, "items", relaysync.Row{"id": id, "updatedAt": int64(1)}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	_ = tx.Commit(ctx)

	tx2, _ := s.Begin(ctx)
	firstPage, err := tx2.SelectWindow(ctx, "items", relaysync.WindowQuery{
		OrderBy: relaysync.OrderBy{Column: "updatedAt", Desc: true},
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(firstPage.Data) != 1 || firstPage.NextCursor == "" {
		t.Fatalf("expected 1 row and a cursor, got %+v", firstPage)
	}

	// A cursor minted under one orderBy, replayed against a different one,
	// must not panic or silently misbehave; the engine layer is the one
	// that reconciles the mismatch (§4.3), the adapter here just has to
	// tolerate a cursor whose Keys don't carry the new orderBy's column.
	_, err = tx2.SelectWindow(ctx, "items", relaysync.WindowQuery{
		OrderBy: relaysync.OrderBy{Column: "id", Desc: false},
		Limit:   10,
		Cursor:  firstPage.NextCursor,
	})
	if err != nil {
		t.Fatalf("mismatched orderBy select: %v", err)
	}
}
