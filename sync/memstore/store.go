// Package memstore is the reference in-memory implementation of the
// storage-adapter contract (sync.Adapter). It exists to run the executor
// against something real and to document the contract's exact semantics;
// production deployments bring their own adapter over a real engine.
package memstore

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"

	relaysync "github.com/relaysync/core/sync"
)

// Store is a process-local sync.Adapter backed by plain Go maps guarded
// by a single RWMutex. Transactions stage writes and apply them to the
// maps atomically on Commit, which is what gives the executor's
// all-or-nothing batch guarantee (§4.6) without per-pk locking.
type Store struct {
	mu       stdsync.RWMutex
	tables   map[string]map[string]relaysync.Row
	versions map[string]map[string]int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tables:   make(map[string]map[string]relaysync.Row),
		versions: make(map[string]map[string]int64),
	}
}

// EnsureMeta is a no-op: the version side table is just another map,
// created lazily.
func (s *Store) EnsureMeta(ctx context.Context) error { return nil }

// Begin opens a staged transaction over the store.
func (s *Store) Begin(ctx context.Context) (relaysync.Tx, error) {
	return &tx{
		store:           s,
		pendingRows:     make(map[string]map[string]relaysync.Row),
		pendingVersions: make(map[string]map[string]int64),
		pendingDeletes:  make(map[string]map[string]bool),
	}, nil
}

type tx struct {
	store *Store

	pendingRows     map[string]map[string]relaysync.Row
	pendingVersions map[string]map[string]int64
	pendingDeletes  map[string]map[string]bool
}

func (t *tx) isPendingDeleted(table, pk string) bool {
	m, ok := t.pendingDeletes[table]
	return ok && m[pk]
}

func (t *tx) getRow(table, pk string) (relaysync.Row, bool) {
	if t.isPendingDeleted(table, pk) {
		return nil, false
	}
	if rows, ok := t.pendingRows[table]; ok {
		if r, ok := rows[pk]; ok {
			return r.Clone(), true
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if rows, ok := t.store.tables[table]; ok {
		if r, ok := rows[pk]; ok {
			return r.Clone(), true
		}
	}
	return nil, false
}

func (t *tx) getVersion(table, pk string) (int64, bool) {
	if t.isPendingDeleted(table, pk) {
		return 0, false
	}
	if vs, ok := t.pendingVersions[table]; ok {
		if v, ok := vs[pk]; ok {
			return v, true
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if vs, ok := t.store.versions[table]; ok {
		if v, ok := vs[pk]; ok {
			return v, true
		}
	}
	return 0, false
}

func (t *tx) stage(table, pk string, row relaysync.Row, version int64) {
	if t.pendingRows[table] == nil {
		t.pendingRows[table] = make(map[string]relaysync.Row)
	}
	if t.pendingVersions[table] == nil {
		t.pendingVersions[table] = make(map[string]int64)
	}
	t.pendingRows[table][pk] = row
	t.pendingVersions[table][pk] = version
	if del, ok := t.pendingDeletes[table]; ok {
		delete(del, pk)
	}
}

func (t *tx) Insert(ctx context.Context, table string, row relaysync.Row) (relaysync.Row, error) {
	pk := relaysync.CanonicalPK(row["id"])
	if _, found := t.getRow(table, pk); found {
		return nil, relaysync.NewError(relaysync.CodeConflict, "primary key already exists").
			WithDetails(map[string]any{"pk": pk})
	}
	stamped := row.Clone()
	t.stage(table, pk, stamped, 1)
	return stamped, nil
}

func (t *tx) UpdateByPk(ctx context.Context, table string, pk relaysync.PK, set relaysync.Row, opts relaysync.UpdateOptions) (relaysync.Row, error) {
	canon := relaysync.CanonicalPK(pk)
	current, found := t.getRow(table, canon)
	if !found {
		return nil, relaysync.NewError(relaysync.CodeNotFound, "row not found").
			WithDetails(map[string]any{"pk": canon})
	}
	curVersion, _ := t.getVersion(table, canon)
	if opts.HasIfVersion && opts.IfVersion != curVersion {
		return nil, relaysync.NewError(relaysync.CodeConflict, "version mismatch").
			WithDetails(map[string]any{"expectedVersion": opts.IfVersion, "actualVersion": curVersion})
	}

	merged := current.Clone()
	for k, v := range set {
		merged[k] = v
	}
	nextVersion := curVersion + 1
	if v, ok := set["version"].(int64); ok {
		nextVersion = v
	}
	t.stage(table, canon, merged, nextVersion)
	return merged, nil
}

func (t *tx) DeleteByPk(ctx context.Context, table string, pk relaysync.PK) error {
	canon := relaysync.CanonicalPK(pk)
	if _, found := t.getRow(table, canon); !found {
		return relaysync.NewError(relaysync.CodeNotFound, "row not found").
			WithDetails(map[string]any{"pk": canon})
	}
	if t.pendingDeletes[table] == nil {
		t.pendingDeletes[table] = make(map[string]bool)
	}
	t.pendingDeletes[table][canon] = true
	if rows, ok := t.pendingRows[table]; ok {
		delete(rows, canon)
	}
	if vs, ok := t.pendingVersions[table]; ok {
		delete(vs, canon)
	}
	return nil
}

func (t *tx) SelectByPk(ctx context.Context, table string, pk relaysync.PK, fields []string) (relaysync.Row, bool, error) {
	row, found := t.getRow(table, relaysync.CanonicalPK(pk))
	if !found {
		return nil, false, nil
	}
	return project(row, fields), true, nil
}

// SelectWindow reads against the committed store only: it is used by the
// top-level read path (sync.Engine.Select), which never mutates, so
// pending-transaction state is irrelevant here.
func (t *tx) SelectWindow(ctx context.Context, table string, q relaysync.WindowQuery) (relaysync.WindowResult, error) {
	t.store.mu.RLock()
	rows := make([]relaysync.Row, 0, len(t.store.tables[table]))
	for _, r := range t.store.tables[table] {
		rows = append(rows, r.Clone())
	}
	t.store.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return lessRow(rows[i], rows[j], q.OrderBy) })

	start := 0
	if q.Cursor != "" {
		if decoded, ok := relaysync.DecodeCursor(q.Cursor); ok {
			start = firstAfter(rows, q.OrderBy, decoded.Last)
		}
	}
	if start > len(rows) {
		start = len(rows)
	}

	end := start + q.Limit
	hasMore := end < len(rows)
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[start:end]

	out := make([]relaysync.Row, len(page))
	for i, r := range page {
		out[i] = project(r, q.Select)
	}

	var nextCursor string
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		token, err := relaysync.EncodeCursor(relaysync.Cursor{
			Table:   table,
			OrderBy: q.OrderBy.Key(),
			Last: relaysync.CursorPosition{
				Keys: map[string]any{q.OrderBy.Column: last[q.OrderBy.Column]},
				ID:   fmt.Sprint(last["id"]),
			},
		})
		if err != nil {
			return relaysync.WindowResult{}, err
		}
		nextCursor = token
	}

	return relaysync.WindowResult{Data: out, NextCursor: nextCursor}, nil
}

func (t *tx) VersionOf(ctx context.Context, table string, pk relaysync.PK) (int64, bool, error) {
	v, ok := t.getVersion(table, relaysync.CanonicalPK(pk))
	return v, ok, nil
}

func (t *tx) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for table, dels := range t.pendingDeletes {
		for pk := range dels {
			delete(t.store.tables[table], pk)
			delete(t.store.versions[table], pk)
		}
	}
	for table, rows := range t.pendingRows {
		if t.store.tables[table] == nil {
			t.store.tables[table] = make(map[string]relaysync.Row)
		}
		for pk, row := range rows {
			t.store.tables[table][pk] = row
		}
	}
	for table, vs := range t.pendingVersions {
		if t.store.versions[table] == nil {
			t.store.versions[table] = make(map[string]int64)
		}
		for pk, v := range vs {
			t.store.versions[table][pk] = v
		}
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.pendingRows = nil
	t.pendingVersions = nil
	t.pendingDeletes = nil
	return nil
}

func project(row relaysync.Row, fields []string) relaysync.Row {
	if len(fields) == 0 {
		return row.Clone()
	}
	out := make(relaysync.Row, len(fields))
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out
}

func lessRow(a, b relaysync.Row, ob relaysync.OrderBy) bool {
	c := compareAny(a[ob.Column], b[ob.Column])
	if c != 0 {
		if ob.Desc {
			return c > 0
		}
		return c < 0
	}
	// tie-break is always id ASC (§4.4), independent of the primary direction.
	return fmt.Sprint(a["id"]) < fmt.Sprint(b["id"])
}

// firstAfter returns the index of the first row that sorts strictly after
// the cursor position last, under ordering ob.
func firstAfter(rows []relaysync.Row, ob relaysync.OrderBy, last relaysync.CursorPosition) int {
	lastVal := last.Keys[ob.Column]
	for i, r := range rows {
		c := compareAny(r[ob.Column], lastVal)
		strictlyAfter := c != 0 && ((ob.Desc && c < 0) || (!ob.Desc && c > 0))
		if c == 0 {
			strictlyAfter = fmt.Sprint(r["id"]) > last.ID
		}
		if strictlyAfter {
			return i
		}
	}
	return len(rows)
}

// compareAny orders two field values that may be int64, float64, or
// string — the shapes this repo ever stamps or accepts from callers.
func compareAny(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
