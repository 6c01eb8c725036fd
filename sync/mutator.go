package sync

import "context"

// MutatorContext is what a named mutator receives: the active
// transaction to write through, and the caller-supplied identity/context
// value from Options.CallerScope (policy is the caller's, §1).
type MutatorContext struct {
	Tx     Tx
	Caller any
}

// Mutator is a registered, named transactional procedure (C9). It
// performs writes via Tx; writes routed through the executor's adapter
// path separately from mutators still emit frames, but a mutator's own
// direct Tx calls do not — the runner does not post-process mutator
// output into frames (§4.9, an explicit design choice).
type Mutator interface {
	// Validate checks args before a transaction is opened. Returning nil
	// means "no validator registered" behavior when Validate itself is
	// absent; implementations that have nothing to check should still
	// return nil for any input.
	Validate(args any) error
	Run(ctx context.Context, mc MutatorContext, args any) (result any, err error)
}

// MutatorFunc adapts a plain function to Mutator with no arg validation.
type MutatorFunc func(ctx context.Context, mc MutatorContext, args any) (any, error)

func (f MutatorFunc) Validate(any) error { return nil }

func (f MutatorFunc) Run(ctx context.Context, mc MutatorContext, args any) (any, error) {
	return f(ctx, mc, args)
}

// ValidatedMutator pairs a validation function with a run function,
// matching §9's "Validators provided as an optional per-table capability;
// absence is valid" note generalized to mutator args.
type ValidatedMutator struct {
	ValidateFunc func(args any) error
	RunFunc      func(ctx context.Context, mc MutatorContext, args any) (any, error)
}

func (m ValidatedMutator) Validate(args any) error {
	if m.ValidateFunc == nil {
		return nil
	}
	return m.ValidateFunc(args)
}

func (m ValidatedMutator) Run(ctx context.Context, mc MutatorContext, args any) (any, error) {
	return m.RunFunc(ctx, mc, args)
}

// MutatorMap is a simple name->Mutator registry.
type MutatorMap map[string]Mutator

// Register adds or replaces the mutator bound to name.
func (m MutatorMap) Register(name string, mut Mutator) {
	m[name] = mut
}
