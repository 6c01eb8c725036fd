package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// Op is the tagged variant of dispatched mutation kinds (§9 redesign
// note: "a small tagged variant for operations").
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// MutateRequest is the executor's single entry point shape. The
// transport layer is responsible for decoding the wire body into this;
// the core never parses JSON itself.
type MutateRequest struct {
	Op    Op
	Table string

	// insert/upsert
	Rows   []Row
	Single bool // true if the wire body held one row object, not an array

	// update/delete
	PK           PK
	Set          Row
	IfVersion    int64
	HasIfVersion bool

	// upsert
	Merge    []string
	HasMerge bool

	IdempotencyKey string // from the Idempotency-Key header
	ClientOpID     string // from the body; used only if the header is absent

	Caller any
}

func (r MutateRequest) effectiveKey() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return r.ClientOpID
}

// MutateResponse is what Engine.Mutate returns on success.
type MutateResponse struct {
	Row        Row  `json:"row,omitempty"`
	Rows       []Row `json:"rows,omitempty"`
	OK         bool  `json:"ok,omitempty"`
	Duplicated bool  `json:"duplicated,omitempty"`
}

// Mutate dispatches one of insert/update/upsert/delete under a single
// adapter transaction (C6). See §4.6 for the per-op semantics this
// follows step by step.
func (e *Engine) Mutate(ctx context.Context, req MutateRequest) (MutateResponse, error) {
	key := req.effectiveKey()
	if key == "" {
		key = uuid.NewString()
	}

	if cached, ok := e.idemStore.Get(key); ok {
		resp, _ := cached.Response.(MutateResponse)
		resp.Duplicated = true
		return resp, nil
	}

	if req.Op == OpInsert || req.Op == OpUpsert {
		if len(req.Rows) > e.batchMaxCount {
			err := newErrf(CodeBadRequest, "batch of %d rows exceeds max of %d", len(req.Rows), e.batchMaxCount)
			e.reject(req.Op, err)
			return MutateResponse{}, err
		}
	}

	if err := e.validateCaller(ctx, &req); err != nil {
		e.reject(req.Op, err)
		return MutateResponse{}, err
	}

	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		wrapped := asSyncErr(err)
		e.reject(req.Op, wrapped)
		return MutateResponse{}, wrapped
	}

	resp, touch, err := e.dispatch(ctx, tx, req)
	if err != nil {
		_ = tx.Rollback(ctx)
		wrapped := asSyncErr(err)
		e.reject(req.Op, wrapped)
		return MutateResponse{}, wrapped
	}

	if err := tx.Commit(ctx); err != nil {
		wrapped := asSyncErr(err)
		e.reject(req.Op, wrapped)
		return MutateResponse{}, wrapped
	}

	txID := e.stamper.next()
	e.ring.append(txID, []TableTouch{touch})

	e.idemStore.Set(key, IdempotencyEntry{
		Key:       key,
		Payload:   payloadFingerprint(req),
		Response:  resp,
		ExpiresAt: e.now().Add(e.idempotencyTTL),
	})

	if e.metrics != nil {
		e.metrics.MutationCommitted(string(req.Op))
	}
	return resp, nil
}

func (e *Engine) reject(op Op, err error) {
	if e.metrics == nil {
		return
	}
	if se, ok := err.(*Error); ok {
		e.metrics.MutationRejected(string(op), se.Code)
	} else {
		e.metrics.MutationRejected(string(op), CodeInternal)
	}
}

func (e *Engine) validateCaller(ctx context.Context, req *MutateRequest) error {
	if e.callerScope == nil {
		return nil
	}
	scoped, err := e.callerScope(ctx, req.Caller)
	if err != nil {
		return asSyncErr(err)
	}
	req.Caller = scoped
	return nil
}

func (e *Engine) dispatch(ctx context.Context, tx Tx, req MutateRequest) (MutateResponse, TableTouch, error) {
	switch req.Op {
	case OpInsert:
		return e.dispatchInsert(ctx, tx, req)
	case OpUpsert:
		return e.dispatchUpsert(ctx, tx, req)
	case OpUpdate:
		return e.dispatchUpdate(ctx, tx, req)
	case OpDelete:
		return e.dispatchDelete(ctx, tx, req)
	default:
		return MutateResponse{}, TableTouch{}, newErrf(CodeBadRequest, "unknown op %q", req.Op)
	}
}

func (e *Engine) validateFields(table string, fields map[string]any) error {
	v, ok := e.validators[table]
	if !ok || v == nil {
		return nil
	}
	if err := v(table, fields); err != nil {
		if se, ok := err.(*Error); ok {
			return se
		}
		return newErrf(CodeBadRequest, "%v", err)
	}
	return nil
}

func (e *Engine) dispatchInsert(ctx context.Context, tx Tx, req MutateRequest) (MutateResponse, TableTouch, error) {
	touch := TableTouch{
		Name:        req.Table,
		RowVersions: map[string]int64{},
		Diffs:       map[string]TableDiff{},
	}
	out := make([]Row, 0, len(req.Rows))

	for _, row := range req.Rows {
		if err := e.validateFields(req.Table, row); err != nil {
			return MutateResponse{}, TableTouch{}, err
		}
		persisted, err := e.insertOne(ctx, tx, req.Table, row)
		if err != nil {
			return MutateResponse{}, TableTouch{}, err
		}
		pk := CanonicalPK(persisted["id"])
		touch.PKs = append(touch.PKs, pk)
		touch.RowVersions[pk] = 1
		touch.Diffs[pk] = TableDiff{Set: persisted}
		out = append(out, persisted)
	}

	resp := MutateResponse{}
	if req.Single && len(out) == 1 {
		resp.Row = out[0]
	} else {
		resp.Rows = out
	}
	return resp, touch, nil
}

func (e *Engine) insertOne(ctx context.Context, tx Tx, table string, row Row) (Row, error) {
	row = row.Clone()
	row["id"] = e.stamper.stampPK(row["id"])
	row["updatedAt"] = e.now().UnixMilli()
	row["version"] = int64(1)
	return tx.Insert(ctx, table, row)
}

func (e *Engine) dispatchUpdate(ctx context.Context, tx Tx, req MutateRequest) (MutateResponse, TableTouch, error) {
	if err := e.validateFields(req.Table, req.Set); err != nil {
		return MutateResponse{}, TableTouch{}, err
	}

	_, found, err := tx.SelectByPk(ctx, req.Table, req.PK, nil)
	if err != nil {
		return MutateResponse{}, TableTouch{}, err
	}
	if !found {
		return MutateResponse{}, TableTouch{}, newErr(CodeNotFound, "row not found")
	}

	curVersion, _, err := tx.VersionOf(ctx, req.Table, req.PK)
	if err != nil {
		return MutateResponse{}, TableTouch{}, err
	}
	nextVersion := curVersion + 1

	set := req.Set.Clone()
	delete(set, "version")
	set["updatedAt"] = e.now().UnixMilli()
	set["version"] = nextVersion

	opts := UpdateOptions{}
	if req.HasIfVersion {
		opts.IfVersion = req.IfVersion
		opts.HasIfVersion = true
	}

	persisted, err := tx.UpdateByPk(ctx, req.Table, req.PK, set, opts)
	if err != nil {
		return MutateResponse{}, TableTouch{}, err
	}

	pk := CanonicalPK(req.PK)
	touch := TableTouch{
		Name:        req.Table,
		PKs:         []string{pk},
		RowVersions: map[string]int64{pk: nextVersion},
		Diffs:       map[string]TableDiff{pk: {Set: req.Set}},
	}
	return MutateResponse{Row: persisted}, touch, nil
}

func (e *Engine) dispatchUpsert(ctx context.Context, tx Tx, req MutateRequest) (MutateResponse, TableTouch, error) {
	touch := TableTouch{
		Name:        req.Table,
		RowVersions: map[string]int64{},
		Diffs:       map[string]TableDiff{},
	}
	out := make([]Row, 0, len(req.Rows))

	for _, row := range req.Rows {
		if err := e.validateFields(req.Table, row); err != nil {
			return MutateResponse{}, TableTouch{}, err
		}

		pk := row["id"]
		_, found, err := tx.SelectByPk(ctx, req.Table, pk, nil)
		if err != nil {
			return MutateResponse{}, TableTouch{}, err
		}

		if !found {
			persisted, err := e.insertOne(ctx, tx, req.Table, row)
			if err != nil {
				return MutateResponse{}, TableTouch{}, err
			}
			canon := CanonicalPK(persisted["id"])
			touch.PKs = append(touch.PKs, canon)
			touch.RowVersions[canon] = 1
			touch.Diffs[canon] = TableDiff{Set: persisted}
			out = append(out, persisted)
			continue
		}

		if req.HasMerge && len(req.Merge) == 0 {
			return MutateResponse{}, TableTouch{}, withDetails(
				newErr(CodeConflict, "insert-only upsert found an existing row"),
				map[string]any{"pk": CanonicalPK(pk)},
			)
		}

		set := buildUpsertSet(row, req.Merge, req.HasMerge)
		curVersion, _, err := tx.VersionOf(ctx, req.Table, pk)
		if err != nil {
			return MutateResponse{}, TableTouch{}, err
		}
		nextVersion := curVersion + 1
		set["updatedAt"] = e.now().UnixMilli()
		set["version"] = nextVersion

		persisted, err := tx.UpdateByPk(ctx, req.Table, pk, set, UpdateOptions{})
		if err != nil {
			return MutateResponse{}, TableTouch{}, err
		}
		canon := CanonicalPK(pk)
		touch.PKs = append(touch.PKs, canon)
		touch.RowVersions[canon] = nextVersion
		touch.Diffs[canon] = TableDiff{Set: set}
		out = append(out, persisted)
	}

	resp := MutateResponse{}
	if req.Single && len(out) == 1 {
		resp.Row = out[0]
	} else {
		resp.Rows = out
	}
	return resp, touch, nil
}

// buildUpsertSet computes the fields an upsert writes on an existing row.
// An explicit, non-empty merge list restricts the write to those fields;
// an omitted merge writes every field except id/updatedAt/version (§9
// open question: version is always stripped and left to the executor).
func buildUpsertSet(row Row, merge []string, hasMerge bool) Row {
	set := Row{}
	if hasMerge {
		for _, f := range merge {
			if v, ok := row[f]; ok {
				set[f] = v
			}
		}
		return set
	}
	for k, v := range row {
		if k == "id" || k == "updatedAt" || k == "version" {
			continue
		}
		set[k] = v
	}
	return set
}

func (e *Engine) dispatchDelete(ctx context.Context, tx Tx, req MutateRequest) (MutateResponse, TableTouch, error) {
	if err := tx.DeleteByPk(ctx, req.Table, req.PK); err != nil {
		return MutateResponse{}, TableTouch{}, err
	}
	pk := CanonicalPK(req.PK)
	touch := TableTouch{
		Name:  req.Table,
		PKs:   []string{pk},
		Diffs: map[string]TableDiff{pk: {}},
	}
	return MutateResponse{OK: true}, touch, nil
}

func asSyncErr(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*Error); ok {
		return se
	}
	return wrapInternal(err)
}

// payloadFingerprint hashes the request shape so an idempotency entry
// can later be inspected for the "different payload under the same key"
// condition (§4.5); the response returned is identical either way, but
// the fingerprint is kept for observability.
func payloadFingerprint(req MutateRequest) string {
	b, err := json.Marshal(struct {
		Op    Op     `json:"op"`
		Table string `json:"table"`
		Rows  []Row  `json:"rows,omitempty"`
		PK    PK     `json:"pk,omitempty"`
		Set   Row    `json:"set,omitempty"`
	}{req.Op, req.Table, req.Rows, req.PK, req.Set})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
