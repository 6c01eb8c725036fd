package sync

import "testing"

func TestCanonicalPKScalar(t *testing.T) {
	if got := CanonicalPK("i1"); got != "i1" {
		t.Fatalf("expected %q, got %q", "i1", got)
	}
	if got := CanonicalPK(42); got != "42" {
		t.Fatalf("expected %q, got %q", "42", got)
	}
}

func TestCanonicalPKCompositeSortsKeysAscending(t *testing.T) {
	pk := map[string]any{"b": "2", "a": "1"}
	got := CanonicalPK(pk)
	want := "a=1|b=2"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCanonicalPKCompositeDeterministic(t *testing.T) {
	pk1 := map[string]any{"tenant": "t1", "id": "x"}
	pk2 := map[string]any{"id": "x", "tenant": "t1"}
	if CanonicalPK(pk1) != CanonicalPK(pk2) {
		t.Fatalf("expected identical canonical forms regardless of map iteration order")
	}
}
