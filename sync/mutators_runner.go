package sync

import (
	"context"

	"github.com/google/uuid"
)

// RunMutatorRequest is the runner's entry point shape (C9).
type RunMutatorRequest struct {
	Name           string
	Args           any
	IdempotencyKey string
	ClientOpID     string
	Caller         any
}

func (r RunMutatorRequest) effectiveKey() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return r.ClientOpID
}

// RunMutatorResponse is what RunMutator returns on success.
type RunMutatorResponse struct {
	Result     any  `json:"result"`
	Duplicated bool `json:"duplicated,omitempty"`
}

// RunMutator resolves a named mutator, validates its args, and invokes it
// inside its own transaction (§4.9). Writes the mutator performs directly
// via its Tx are not turned into ring frames — only writes routed through
// Mutate are (§4.9, an explicit design choice).
func (e *Engine) RunMutator(ctx context.Context, req RunMutatorRequest) (RunMutatorResponse, error) {
	key := req.effectiveKey()
	if key == "" {
		key = uuid.NewString()
	}

	if cached, ok := e.idemStore.Get(key); ok {
		resp, _ := cached.Response.(RunMutatorResponse)
		resp.Duplicated = true
		return resp, nil
	}

	mut, ok := e.mutators[req.Name]
	if !ok {
		err := newErrf(CodeNotFound, "unknown mutator %q", req.Name)
		if e.metrics != nil {
			e.metrics.MutationRejected(req.Name, CodeNotFound)
		}
		return RunMutatorResponse{}, err
	}

	if err := mut.Validate(req.Args); err != nil {
		se := newErrf(CodeBadRequest, "%v", err)
		if e.metrics != nil {
			e.metrics.MutationRejected(req.Name, CodeBadRequest)
		}
		return RunMutatorResponse{}, se
	}

	caller := req.Caller
	if e.callerScope != nil {
		scoped, err := e.callerScope(ctx, caller)
		if err != nil {
			wrapped := asSyncErr(err)
			e.reject(Op(req.Name), wrapped)
			return RunMutatorResponse{}, wrapped
		}
		caller = scoped
	}

	tx, err := e.adapter.Begin(ctx)
	if err != nil {
		wrapped := asSyncErr(err)
		e.reject(Op(req.Name), wrapped)
		return RunMutatorResponse{}, wrapped
	}

	result, err := mut.Run(ctx, MutatorContext{Tx: tx, Caller: caller}, req.Args)
	if err != nil {
		_ = tx.Rollback(ctx)
		wrapped := asSyncErr(err)
		e.reject(Op(req.Name), wrapped)
		return RunMutatorResponse{}, wrapped
	}

	if err := tx.Commit(ctx); err != nil {
		wrapped := asSyncErr(err)
		e.reject(Op(req.Name), wrapped)
		return RunMutatorResponse{}, wrapped
	}

	resp := RunMutatorResponse{Result: result}
	e.idemStore.Set(key, IdempotencyEntry{
		Key:       key,
		Response:  resp,
		ExpiresAt: e.now().Add(e.idempotencyTTL),
	})
	if e.metrics != nil {
		e.metrics.MutationCommitted(req.Name)
	}
	return resp, nil
}
