package sync

import (
	"encoding/base64"
	"encoding/json"
)

// Cursor is the decoded form of an opaque keyset-pagination token.
type Cursor struct {
	Table   string         `json:"table"`
	OrderBy string         `json:"orderBy"`
	Last    CursorPosition `json:"last"`
}

// CursorPosition records the last row a window ended on: the sort-key
// values for OrderBy (e.g. {"updatedAt": 5}) plus the tie-breaking row id.
type CursorPosition struct {
	Keys map[string]any `json:"keys"`
	ID   string         `json:"id"`
}

// EncodeCursor produces an opaque base64(JSON) token. Marshaling a Cursor
// built from well-formed fields never fails; any error here indicates a
// caller passed a value JSON cannot represent and is surfaced as INTERNAL.
func EncodeCursor(c Cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", wrapInternal(err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// DecodeCursor decodes a token produced by EncodeCursor. Per §4.3, a
// malformed or truncated cursor is a soft error: ok is false and the
// caller should treat the request as having "no cursor" rather than fail.
func DecodeCursor(token string) (c Cursor, ok bool) {
	if token == "" {
		return Cursor{}, false
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, false
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, false
	}
	if c.Last.ID == "" {
		return Cursor{}, false
	}
	return c, true
}
