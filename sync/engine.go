package sync

import (
	"context"
	"log/slog"
	"time"
)

// Validator partially validates a table's fields: only fields present in
// the map are checked, plus any presence constraints the validator wants
// to enforce (§4.6). A table with no registered validator always passes.
type Validator func(table string, fields map[string]any) error

// MetricsSink is the seam the engine reports operational counters through.
// The core stays hosting-agnostic (no package import of prometheus); the
// example binary's sync/transport.Metrics implementation is the one that
// actually talks to client_golang.
type MetricsSink interface {
	MutationCommitted(op string)
	MutationRejected(op string, code Code)
	RingSizeSet(n int)
	SubscribersSet(n int)
	RecoverInc()
}

// Options configures a new Engine. Named fields only, matching the
// teacher's functional-options-adjacent constructor style but as a single
// struct since every field here is a top-level concern, not a toggle.
type Options struct {
	Store       Adapter
	Idempotency Idempotency
	Mutators    MutatorMap
	Validators  map[string]Validator

	BufferMs       int64
	BufferCap      int
	KeepaliveMs    int64
	IdempotencyTTL time.Duration
	BatchMaxCount  int

	Logger  *slog.Logger
	Metrics MetricsSink
	Now     func() time.Time

	// CallerScope lets a host remap or authorize the caller-supplied
	// identity before it reaches mutators/executor. Policy is the
	// caller's; the engine only invokes the hook (§1).
	CallerScope func(ctx context.Context, caller any) (any, error)
}

const (
	defaultBufferMs       = 60_000
	defaultBufferCap      = 10_000
	defaultKeepaliveMs    = 15_000
	defaultIdempotencyTTL = 10 * time.Minute
	defaultBatchMaxCount  = 100
)

// Engine ties C4-C9 together: the one object a host constructs and drives
// mutations and subscriptions through.
type Engine struct {
	adapter     Adapter
	idemStore   Idempotency
	mutators    MutatorMap
	validators  map[string]Validator
	stamper     *stamper
	ring        *ring
	now         func() time.Time
	log         *slog.Logger
	metrics     MetricsSink
	callerScope func(ctx context.Context, caller any) (any, error)

	keepalive      time.Duration
	idempotencyTTL time.Duration
	batchMaxCount  int
}

// New constructs an Engine, applying documented defaults for any zero
// field and running the adapter's one-time setup.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, newErr(CodeInternal, "sync.Options.Store is required")
	}
	if opts.BufferMs <= 0 {
		opts.BufferMs = defaultBufferMs
	}
	if opts.BufferCap <= 0 {
		opts.BufferCap = defaultBufferCap
	}
	if opts.KeepaliveMs <= 0 {
		opts.KeepaliveMs = defaultKeepaliveMs
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}
	if opts.BatchMaxCount <= 0 {
		opts.BatchMaxCount = defaultBatchMaxCount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mutators == nil {
		opts.Mutators = make(MutatorMap)
	}
	if opts.Validators == nil {
		opts.Validators = make(map[string]Validator)
	}
	if opts.Idempotency == nil {
		opts.Idempotency = newMemIdempotency(opts.Now)
	}

	if err := opts.Store.EnsureMeta(context.Background()); err != nil {
		return nil, wrapInternal(err)
	}

	stmp := newStamper(opts.Now)
	e := &Engine{
		adapter:        opts.Store,
		idemStore:      opts.Idempotency,
		mutators:       opts.Mutators,
		validators:     opts.Validators,
		stamper:        stmp,
		now:            opts.Now,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		callerScope:    opts.CallerScope,
		keepalive:      time.Duration(opts.KeepaliveMs) * time.Millisecond,
		idempotencyTTL: opts.IdempotencyTTL,
		batchMaxCount:  opts.BatchMaxCount,
	}
	e.ring = newRing(stmp, opts.Now, time.Duration(opts.BufferMs)*time.Millisecond, opts.BufferCap, opts.Metrics)

	e.log.Info("sync engine started",
		slog.Int64("bufferMs", opts.BufferMs),
		slog.Int("bufferCap", opts.BufferCap),
		slog.Int64("keepaliveMs", opts.KeepaliveMs),
	)
	return e, nil
}

// Subscribe attaches a new subscriber session. If lastEventID is
// non-empty, the session's backlog is delivered (or a recover marker, if
// lastEventID has been evicted) before the caller starts reading
// Messages(). Subscribe starts the session's heartbeat loop in its own
// goroutine; the caller must Close() the returned Session on disconnect.
func (e *Engine) Subscribe(ctx context.Context, lastEventID string) *Session {
	s := newSession(e.ring, e.keepalive, e.metrics)
	e.ring.attach(s)

	if lastEventID != "" {
		frames, found := e.ring.replaySince(lastEventID)
		if !found {
			select {
			case s.out <- Message{Kind: MessageRecover}:
			default:
			}
			if e.metrics != nil {
				e.metrics.RecoverInc()
			}
		} else {
		replay:
			for _, f := range frames {
				select {
				case s.out <- Message{Kind: MessageMutation, Frame: f}:
					s.setLastEventID(f.EventID)
				default:
					s.sendRecoverAndClose()
					break replay
				}
			}
		}
	}

	go s.run(ctx)
	return s
}

// Shutdown stops accepting new work conceptually (a host should already
// have stopped routing new requests by the time this is called) and
// releases every attached session's heartbeat timer, per §9's shutdown
// sequence steps 3-4: a terminal recover marker followed by cleanup.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.ring.mu.Lock()
	sessions := make([]*Session, 0, len(e.ring.sessions))
	for s := range e.ring.sessions {
		sessions = append(sessions, s)
	}
	e.ring.mu.Unlock()

	for _, s := range sessions {
		select {
		case s.out <- Message{Kind: MessageRecover}:
		default:
		}
		s.Close()
	}
	e.log.Info("sync engine shut down", slog.Int("sessionsDrained", len(sessions)))
	return nil
}
