package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/relaysync/core/sync/memstore"
)

func TestRunMutatorUnknownNameIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RunMutator(context.Background(), RunMutatorRequest{Name: "noSuchThing"})
	se, ok := err.(*Error)
	if !ok || se.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRunMutatorValidationFailureIsBadRequest(t *testing.T) {
	e, err := New(Options{
		Store: memstore.New(),
		Mutators: MutatorMap{
			"archive": ValidatedMutator{
				ValidateFunc: func(args any) error { return errors.New("missing id") },
				RunFunc: func(ctx context.Context, mc MutatorContext, args any) (any, error) {
					return nil, nil
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, rerr := e.RunMutator(context.Background(), RunMutatorRequest{Name: "archive"})
	se, ok := rerr.(*Error)
	if !ok || se.Code != CodeBadRequest {
		t.Fatalf("expected BAD_REQUEST, got %v", rerr)
	}
}

func TestRunMutatorCommitsAndSkipsRingFrame(t *testing.T) {
	e, err := New(Options{
		Store: memstore.New(),
		Mutators: MutatorMap{
			"seed": MutatorFunc(func(ctx context.Context, mc MutatorContext, args any) (any, error) {
				row, err := mc.Tx.Insert(ctx, "items", Row{"id": "i1", "title": "seeded"})
				if err != nil {
					return nil, err
				}
				return row, nil
			}),
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sizeBefore := e.ring.size()
	resp, err := e.RunMutator(context.Background(), RunMutatorRequest{Name: "seed"})
	if err != nil {
		t.Fatalf("RunMutator: %v", err)
	}
	row, ok := resp.Result.(Row)
	if !ok || row["title"] != "seeded" {
		t.Fatalf("expected mutator result row, got %+v", resp.Result)
	}
	if got := e.ring.size(); got != sizeBefore {
		t.Fatalf("expected mutator writes not to emit a ring frame, size %d -> %d", sizeBefore, got)
	}

	tx, err := e.adapter.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	stored, found, err := tx.SelectByPk(context.Background(), "items", "i1", nil)
	if err != nil || !found {
		t.Fatalf("expected committed row, found=%v err=%v", found, err)
	}
	if stored["title"] != "seeded" {
		t.Fatalf("expected committed title, got %+v", stored)
	}
	_ = tx.Rollback(context.Background())
}

func TestRunMutatorIdempotentReplay(t *testing.T) {
	e, err := New(Options{
		Store: memstore.New(),
		Mutators: MutatorMap{
			"noop": MutatorFunc(func(ctx context.Context, mc MutatorContext, args any) (any, error) {
				return "done", nil
			}),
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := RunMutatorRequest{Name: "noop", ClientOpID: "k1"}
	first, err := e.RunMutator(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Duplicated {
		t.Fatalf("expected first call not duplicated")
	}

	second, err := e.RunMutator(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Duplicated || second.Result != first.Result {
		t.Fatalf("expected duplicated replay of identical result, got %+v vs %+v", second, first)
	}
}
