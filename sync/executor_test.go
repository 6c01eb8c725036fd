package sync

import (
	"context"
	"testing"

	"github.com/relaysync/core/sync/memstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Options{Store: memstore.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// TestCASConflict is literal scenario S1.
func TestCASConflict(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	insertResp, err := e.Mutate(ctx, MutateRequest{
		Op: OpInsert, Table: "items", Single: true,
		Rows: []Row{{"title": "a"}},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if insertResp.Row["version"].(int64) != 1 {
		t.Fatalf("expected version 1, got %v", insertResp.Row["version"])
	}
	id := insertResp.Row["id"]

	okResp, err := e.Mutate(ctx, MutateRequest{
		Op: OpUpdate, Table: "items", PK: id,
		Set: Row{"title": "b"}, IfVersion: 1, HasIfVersion: true,
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if okResp.Row["version"].(int64) != 2 {
		t.Fatalf("expected version 2, got %v", okResp.Row["version"])
	}

	_, err = e.Mutate(ctx, MutateRequest{
		Op: OpUpdate, Table: "items", PK: id,
		Set: Row{"title": "c"}, IfVersion: 1, HasIfVersion: true,
	})
	se, ok := err.(*Error)
	if !ok || se.Code != CodeConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if se.Details["expectedVersion"] != int64(1) || se.Details["actualVersion"] != int64(2) {
		t.Fatalf("expected details {expectedVersion:1 actualVersion:2}, got %+v", se.Details)
	}
}

// TestIdempotentInsert is literal scenario S2.
func TestIdempotentInsert(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	req := MutateRequest{
		Op: OpInsert, Table: "t", Single: true,
		Rows: []Row{{"title": "x"}}, ClientOpID: "k1",
	}

	first, err := e.Mutate(ctx, req)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if first.Duplicated {
		t.Fatalf("expected first call not to be marked duplicated")
	}

	second, err := e.Mutate(ctx, req)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if !second.Duplicated {
		t.Fatalf("expected second call to be marked duplicated")
	}
	if second.Row["id"] != first.Row["id"] {
		t.Fatalf("expected identical cached row, got %+v vs %+v", second.Row, first.Row)
	}
}

// TestInsertOnlyUpsert is literal scenario S6.
func TestInsertOnlyUpsert(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	req := MutateRequest{
		Op: OpUpsert, Table: "items", Single: true,
		Rows: []Row{{"title": "a"}}, Merge: []string{}, HasMerge: true,
	}

	resp, err := e.Mutate(ctx, req)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if resp.Row["version"].(int64) != 1 {
		t.Fatalf("expected version 1, got %v", resp.Row["version"])
	}

	repeat := MutateRequest{
		Op: OpUpsert, Table: "items", Single: true,
		Rows: []Row{{"id": resp.Row["id"], "title": "a"}}, Merge: []string{}, HasMerge: true,
	}
	_, err = e.Mutate(ctx, repeat)
	se, ok := err.(*Error)
	if !ok || se.Code != CodeConflict {
		t.Fatalf("expected CONFLICT on repeat insert-only upsert, got %v", err)
	}
}

func TestInsertBatchBoundary(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rows := make([]Row, 100)
	for i := range rows {
		rows[i] = Row{"title": "x"}
	}
	if _, err := e.Mutate(ctx, MutateRequest{Op: OpInsert, Table: "t", Rows: rows}); err != nil {
		t.Fatalf("expected batch of exactly 100 to succeed, got %v", err)
	}

	rows = append(rows, Row{"title": "overflow"})
	_, err := e.Mutate(ctx, MutateRequest{Op: OpInsert, Table: "t", Rows: rows})
	se, ok := err.(*Error)
	if !ok || se.Code != CodeBadRequest {
		t.Fatalf("expected BAD_REQUEST for batch of 101, got %v", err)
	}
}

func TestUpdateMissingRowIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Mutate(context.Background(), MutateRequest{
		Op: OpUpdate, Table: "items", PK: "missing", Set: Row{"title": "x"},
	})
	se, ok := err.(*Error)
	if !ok || se.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeleteMissingRowIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Mutate(context.Background(), MutateRequest{
		Op: OpDelete, Table: "items", PK: "missing",
	})
	se, ok := err.(*Error)
	if !ok || se.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestMutationAppendsFrame(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sizeBefore := e.ring.size()

	if _, err := e.Mutate(ctx, MutateRequest{Op: OpInsert, Table: "items", Single: true, Rows: []Row{{"title": "a"}}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := e.ring.size(); got != sizeBefore+1 {
		t.Fatalf("expected exactly one frame appended, ring size %d -> %d", sizeBefore, got)
	}
}

func TestFailedMutationEmitsNoFrame(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sizeBefore := e.ring.size()

	_, _ = e.Mutate(ctx, MutateRequest{Op: OpDelete, Table: "items", PK: "missing"})
	if got := e.ring.size(); got != sizeBefore {
		t.Fatalf("expected no frame on failure, ring size %d -> %d", sizeBefore, got)
	}
}
