package sync

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{
		Table:   "items",
		OrderBy: "updatedAt:desc",
		Last:    CursorPosition{Keys: map[string]any{"updatedAt": float64(5)}, ID: "e1"},
	}
	token, err := EncodeCursor(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, ok := DecodeCursor(token)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if got.Table != c.Table || got.OrderBy != c.OrderBy || got.Last.ID != c.Last.ID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestDecodeCursorMalformedIsSoftError(t *testing.T) {
	if _, ok := DecodeCursor("not-valid-base64!!"); ok {
		t.Fatalf("expected malformed cursor to decode as not-ok")
	}
	if _, ok := DecodeCursor(""); ok {
		t.Fatalf("expected empty cursor to decode as not-ok")
	}
}
