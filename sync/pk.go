package sync

import (
	"fmt"
	"sort"
	"strings"
)

// PK is the caller-facing primary key shape: either a bare scalar (string,
// number, etc., passed as a single value) or a composite map of column
// name to value. CanonicalPK turns either into the deterministic string
// form used as a map key and persisted in the version side table.
type PK = any

// CanonicalPK computes the canonical string form of a primary key. Scalars
// canonicalize to their string representation; composite keys (maps)
// canonicalize to their keys sorted ascending, joined as "k=v" pairs
// separated by "|". The mapping is one-way: the structured key cannot be
// recovered from the canonical string, and the core never needs to.
func CanonicalPK(pk PK) string {
	switch v := pk.(type) {
	case nil:
		return ""
	case map[string]any:
		return canonicalComposite(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func canonicalComposite(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fmt.Sprint(m[k]))
	}
	return strings.Join(parts, "|")
}
