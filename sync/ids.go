package sync

import (
	"encoding/base32"
	"regexp"
	"sort"
	"strings"
	stdsync "sync"
	"time"
)

// idEncoding is unpadded base32hex: lexicographic byte order matches
// lexicographic string order, which is what makes ids below sortable.
var idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// idGrammar matches strings produced by stamper.next: exactly what the
// stamper emits, nothing a caller could plausibly guess by hand.
var idGrammar = regexp.MustCompile(`^[0-9A-V]{18}$`)

// compositePKGrammar matches the syntactic shape canonicalComposite
// produces: "k=v" pairs separated by "|".
var compositePKGrammar = regexp.MustCompile(`^[^=|]+=[^=|]*(\|[^=|]+=[^=|]*)*$`)

// stamper issues monotonic, lexicographically sortable ids: an 8-byte
// millisecond wall-clock prefix followed by a 3-byte per-millisecond
// counter that breaks ties within the same millisecond.
type stamper struct {
	mu      stdsync.Mutex
	lastMs  int64
	counter uint32
	now     func() time.Time
}

func newStamper(now func() time.Time) *stamper {
	if now == nil {
		now = time.Now
	}
	return &stamper{now: now}
}

// next returns a fresh monotonic id. Safe for concurrent use.
func (s *stamper) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs
		s.counter++
	} else {
		s.lastMs = ms
		s.counter = 0
	}

	var buf [11]byte
	buf[0] = byte(ms >> 56)
	buf[1] = byte(ms >> 48)
	buf[2] = byte(ms >> 40)
	buf[3] = byte(ms >> 32)
	buf[4] = byte(ms >> 24)
	buf[5] = byte(ms >> 16)
	buf[6] = byte(ms >> 8)
	buf[7] = byte(ms)
	buf[8] = byte(s.counter >> 16)
	buf[9] = byte(s.counter >> 8)
	buf[10] = byte(s.counter)

	return idEncoding.EncodeToString(buf[:])
}

// looksLikeMonotonicID reports whether s matches the grammar produced by
// stamper.next.
func looksLikeMonotonicID(s string) bool {
	return idGrammar.MatchString(s)
}

// isCanonicalCompositePK reports whether s has the syntactic shape
// canonicalComposite produces: "k=v" pairs, keys in sorted ascending
// order. Sortedness is checked, not just the "k=v|k=v" shape, since an
// unsorted string could never have come out of canonicalComposite.
func isCanonicalCompositePK(s string) bool {
	if !compositePKGrammar.MatchString(s) {
		return false
	}
	parts := strings.Split(s, "|")
	keys := make([]string, len(parts))
	for i, p := range parts {
		keys[i] = p[:strings.IndexByte(p, '=')]
	}
	return sort.StringsAreSorted(keys)
}

// stampRowID preserves a caller-supplied scalar id only when it matches
// the monotonic-id grammar or a composite-pk canonical form; any other
// string — including an arbitrary guessable id like "i1" — is rejected in
// favor of a freshly minted monotonic id, to avoid collision-by-guess
// (§4.1). An empty id also mints fresh.
func (s *stamper) stampRowID(provided string) string {
	if provided != "" && (looksLikeMonotonicID(provided) || isCanonicalCompositePK(provided)) {
		return provided
	}
	return s.next()
}

// stampPK is stampRowID generalized to the full PK shape (§4.2): a
// composite (map) pk is structurally unambiguous and never guessable, so
// it is always preserved as-is; a scalar string pk is gated through
// stampRowID; anything absent or unrecognized mints a fresh monotonic id.
func (s *stamper) stampPK(provided PK) PK {
	switch v := provided.(type) {
	case nil:
		return s.next()
	case map[string]any:
		return v
	case string:
		return s.stampRowID(v)
	default:
		return s.next()
	}
}
