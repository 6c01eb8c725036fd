package sync

import "context"

// Row maps column name to value: a statically-typed stand in for
// runtime-typed rows, opaque to the core beyond the stamped fields. It is
// a plain Go map, so it carries no column order.
type Row map[string]any

// Clone returns a shallow copy, safe for callers to mutate without
// affecting the stored row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// OrderBy names the single column a window is sorted by and its
// direction; id ASC is always the tiebreak (§4.4). Column may itself be
// "id", as in Select's id-ascending cursor fallback.
type OrderBy struct {
	Column string
	Desc   bool
}

// DefaultOrderBy is applied when a select omits orderBy.
var DefaultOrderBy = OrderBy{Column: "updatedAt", Desc: true}

// Key returns the string form stored in a Cursor's OrderBy field, used to
// detect whether a presented cursor was issued under the same ordering
// (§4.3).
func (o OrderBy) Key() string {
	dir := "asc"
	if o.Desc {
		dir = "desc"
	}
	return o.Column + ":" + dir
}

// WindowQuery parameterizes SelectWindow.
type WindowQuery struct {
	OrderBy OrderBy
	Limit   int
	Cursor  string
	Select  []string
}

// WindowResult is the keyset page returned by SelectWindow.
type WindowResult struct {
	Data       []Row
	NextCursor string
}

// UpdateOptions carries the optional CAS guard for UpdateByPk.
type UpdateOptions struct {
	IfVersion    int64
	HasIfVersion bool
}

// Tx is one atomic unit of work. The executor opens exactly one per
// dispatched operation (including every row of a batch) and either
// commits it once or rolls it back; nested Begin is never required.
type Tx interface {
	Insert(ctx context.Context, table string, row Row) (Row, error)
	UpdateByPk(ctx context.Context, table string, pk PK, set Row, opts UpdateOptions) (Row, error)
	DeleteByPk(ctx context.Context, table string, pk PK) error
	SelectByPk(ctx context.Context, table string, pk PK, fields []string) (Row, bool, error)
	SelectWindow(ctx context.Context, table string, q WindowQuery) (WindowResult, error)

	// VersionOf returns the current logical version for (table, pk), or
	// (0, false) if the row has never been written. Authoritative for CAS
	// and for the version stamped onto emitted frames.
	VersionOf(ctx context.Context, table string, pk PK) (int64, bool, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Adapter is the storage-adapter contract (C4): the interface the
// executor depends on but never implements. A concrete adapter (file,
// SQL, or — as shipped here — the in-memory reference in sync/memstore)
// persists user rows plus stamped updatedAt/version fields and the
// logical (table, pk) -> version side table.
type Adapter interface {
	// Begin opens one transaction. The executor runs its entire dispatched
	// operation, including every row of a batch, inside it.
	Begin(ctx context.Context) (Tx, error)

	// EnsureMeta performs one-time setup (e.g. the version side table).
	// Called once at engine construction; safe to call more than once.
	EnsureMeta(ctx context.Context) error
}
