package sync

import "context"

const (
	minSelectLimit     = 1
	maxSelectLimit     = 1000
	defaultSelectLimit = 100
)

// SelectRequest is the /select entry point shape (C3+C4 combined: keyset
// pagination over one table). Where is accepted for wire compatibility
// but intentionally never applied server-side (§6: "where is accepted but
// filtered client-side").
type SelectRequest struct {
	Table   string
	OrderBy *OrderBy
	Limit   int
	Cursor  string
	Select  []string
	Where   map[string]any
}

// Select performs one keyset-paginated window read (§4.4). A malformed or
// stale-ordering cursor degrades gracefully per §4.3 rather than erroring.
func (e *Engine) Select(ctx context.Context, req SelectRequest) (WindowResult, error) {
	ob := DefaultOrderBy
	if req.OrderBy != nil {
		ob = *req.OrderBy
	}

	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultSelectLimit
	case limit < minSelectLimit:
		limit = minSelectLimit
	case limit > maxSelectLimit:
		limit = maxSelectLimit
	}

	decoded, hasCursor := DecodeCursor(req.Cursor)
	sameOrdering := hasCursor && decoded.OrderBy == ob.Key()

	cursorToken := ""
	if hasCursor {
		if sameOrdering {
			cursorToken = req.Cursor
		} else {
			// Fallback: cursor was issued under a different orderBy. Resume
			// strictly after last.id by id ascending (§4.3).
			ob = OrderBy{Column: "id", Desc: false}
			synthetic := Cursor{
				Table:   req.Table,
				OrderBy: ob.Key(),
				Last: CursorPosition{
					Keys: map[string]any{ob.Column: decoded.Last.ID},
					ID:   decoded.Last.ID,
				},
			}
			token, err := EncodeCursor(synthetic)
			if err != nil {
				return WindowResult{}, err
			}
			cursorToken = token
		}
	}

	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		return WindowResult{}, asSyncErr(err)
	}

	// A well-formed cursor presented under its original orderBy must still
	// resolve to a real row; one whose anchor has since been deleted can no
	// longer prove continuity and is rejected rather than silently
	// resuming from the wrong position (§11 "CursorTooOld"-style signal).
	if sameOrdering {
		_, found, err := tx.SelectByPk(ctx, req.Table, decoded.Last.ID, nil)
		if err != nil {
			_ = tx.Rollback(ctx)
			return WindowResult{}, asSyncErr(err)
		}
		if !found {
			_ = tx.Rollback(ctx)
			return WindowResult{}, newErr(CodeConflict, ErrCursorEvicted.Message).
				WithDetails(map[string]any{"cursor": req.Cursor})
		}
	}

	result, err := tx.SelectWindow(ctx, req.Table, WindowQuery{
		OrderBy: ob,
		Limit:   limit,
		Cursor:  cursorToken,
		Select:  req.Select,
	})
	if err != nil {
		_ = tx.Rollback(ctx)
		return WindowResult{}, asSyncErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return WindowResult{}, asSyncErr(err)
	}
	return result, nil
}
