// Package transport mounts the engine's narrow HTTP surface: /mutate,
// /select, /mutators/{name}, and /events. It deliberately does not
// reimplement a general-purpose routing framework — body decoding,
// error-code mapping, and SSE framing are the whole of its job; request
// routing glue beyond that is out of scope (see SPEC_FULL.md).
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	relaysync "github.com/relaysync/core/sync"
)

// Options configures a Handler.
type Options struct {
	Engine *relaysync.Engine

	// BasePath prefixes every mounted route, e.g. "/api/sync". Empty means
	// routes are mounted at the mux root.
	BasePath string

	// MaxSelectLimit overrides the transport-level clamp applied before
	// Engine.Select is called; the engine enforces its own default clamp
	// regardless, so this only lets a host tighten it further.
	MaxSelectLimit int

	// CallerScope extracts the caller identity from an inbound request,
	// e.g. from a bearer token or session cookie. Policy is the caller's
	// (§1); by default no identity is attached.
	CallerScope func(r *http.Request) any

	Logger *slog.Logger
}

// Handler mounts the engine's HTTP surface on an *http.ServeMux.
type Handler struct {
	engine    *relaysync.Engine
	basePath  string
	maxLimit  int
	callerOf  func(r *http.Request) any
	log       *slog.Logger
}

// New builds a Handler. Call Mount to attach its routes to a mux.
func New(opts Options) *Handler {
	h := &Handler{
		engine:   opts.Engine,
		basePath: opts.BasePath,
		maxLimit: opts.MaxSelectLimit,
		callerOf: opts.CallerScope,
		log:      opts.Logger,
	}
	if h.callerOf == nil {
		h.callerOf = func(*http.Request) any { return nil }
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// Mount registers every route this package serves onto mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST "+h.basePath+"/mutate", h.handleMutate)
	mux.HandleFunc("POST "+h.basePath+"/select", h.handleSelect)
	mux.HandleFunc("POST "+h.basePath+"/mutators/{name}", h.handleMutator)
	mux.HandleFunc("GET "+h.basePath+"/events", h.handleEvents)
}

type wireMutateRequest struct {
	Op         string          `json:"op"`
	Table      string          `json:"table"`
	Rows       json.RawMessage `json:"rows"`
	PK         any             `json:"pk"`
	Set        map[string]any  `json:"set"`
	IfVersion  *int64          `json:"ifVersion"`
	Merge      *[]string       `json:"merge"`
	ClientOpID string          `json:"clientOpId"`
}

func (h *Handler) handleMutate(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	var wire wireMutateRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, relaysync.NewError(relaysync.CodeBadRequest, "invalid JSON body"), reqID)
		return
	}

	req := relaysync.MutateRequest{
		Op:             relaysync.Op(wire.Op),
		Table:          wire.Table,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ClientOpID:     wire.ClientOpID,
		Caller:         h.callerOf(r),
	}

	switch req.Op {
	case relaysync.OpInsert, relaysync.OpUpsert:
		rows, single, err := decodeRows(wire.Rows)
		if err != nil {
			writeError(w, relaysync.NewError(relaysync.CodeBadRequest, "invalid rows"), reqID)
			return
		}
		req.Rows = rows
		req.Single = single
		if wire.Merge != nil {
			req.Merge = *wire.Merge
			req.HasMerge = true
		}
	case relaysync.OpUpdate:
		req.PK = wire.PK
		req.Set = wire.Set
		if wire.IfVersion != nil {
			req.IfVersion = *wire.IfVersion
			req.HasIfVersion = true
		}
	case relaysync.OpDelete:
		req.PK = wire.PK
	default:
		writeError(w, relaysync.NewError(relaysync.CodeBadRequest, fmt.Sprintf("unknown op %q", wire.Op)), reqID)
		return
	}

	resp, err := h.engine.Mutate(r.Context(), req)
	if err != nil {
		writeMutationError(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeRows(raw json.RawMessage) ([]relaysync.Row, bool, error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	var arr []relaysync.Row
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, false, nil
	}
	var single relaysync.Row
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, false, err
	}
	return []relaysync.Row{single}, true, nil
}

type wireOrderBy struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

type wireSelectRequest struct {
	Table   string          `json:"table"`
	Select  []string        `json:"select"`
	OrderBy *wireOrderBy    `json:"orderBy"`
	Limit   int             `json:"limit"`
	Cursor  string          `json:"cursor"`
	Where   map[string]any  `json:"where"`
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	var wire wireSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, relaysync.NewError(relaysync.CodeBadRequest, "invalid JSON body"), reqID)
		return
	}

	req := relaysync.SelectRequest{
		Table:  wire.Table,
		Select: wire.Select,
		Limit:  wire.Limit,
		Cursor: wire.Cursor,
		Where:  wire.Where,
	}
	if h.maxLimit > 0 && req.Limit > h.maxLimit {
		req.Limit = h.maxLimit
	}
	if wire.OrderBy != nil {
		req.OrderBy = &relaysync.OrderBy{Column: wire.OrderBy.Column, Desc: wire.OrderBy.Desc}
	}

	result, err := h.engine.Select(r.Context(), req)
	if err != nil {
		writeMutationError(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type wireMutatorRequest struct {
	Args       any    `json:"args"`
	ClientOpID string `json:"clientOpId"`
}

func (h *Handler) handleMutator(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	name := r.PathValue("name")

	var wire wireMutatorRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, relaysync.NewError(relaysync.CodeBadRequest, "invalid JSON body"), reqID)
		return
	}

	resp, err := h.engine.RunMutator(r.Context(), relaysync.RunMutatorRequest{
		Name:           name,
		Args:           wire.Args,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ClientOpID:     wire.ClientOpID,
		Caller:         h.callerOf(r),
	})
	if err != nil {
		writeMutationError(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, err *relaysync.Error, reqID string) {
	writeJSON(w, err.Code.HTTPStatus(), errorEnvelope{
		Code:      string(err.Code),
		Message:   err.Message,
		Details:   err.Details,
		RequestID: reqID,
	})
}

func writeMutationError(w http.ResponseWriter, err error, reqID string) {
	var se *relaysync.Error
	if !errors.As(err, &se) {
		se = relaysync.NewError(relaysync.CodeInternal, err.Error())
	}
	writeError(w, se, reqID)
}
