package idempotency

import (
	"errors"
	"time"

	"wagercore/core/events"
)

// Scope partitions the replay-guard key space by feature so unrelated callers
// can share one engine without colliding on operation hashes.
type Scope string

const (
	ScopeSettlement Scope = "settlement"
	ScopeMint       Scope = "mint"
	ScopeSpin       Scope = "spin"
)

var (
	// ErrDuplicateOperation is returned when a guarded operation is
	// re-submitted while its execution record is still live.
	ErrDuplicateOperation = errors.New("idempotency: duplicate operation")

	errNilState = errors.New("idempotency engine: state not configured")
)

// Record marks the first execution of a guarded operation. A nil TTL makes the
// record permanent; a TTL of zero produces a record that is already expired at
// birth and therefore never blocks a retry.
type Record struct {
	ExecutedAt uint64
	TTL        *uint64
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.TTL != nil {
		ttl := *r.TTL
		clone.TTL = &ttl
	}
	return &clone
}

type engineState interface {
	OperationGet(scope Scope, hash [32]byte) (*Record, bool, error)
	OperationPut(scope Scope, hash [32]byte, record *Record) error
	OperationDelete(scope Scope, hash [32]byte) error
}

// Engine answers "has this operation already run and not yet expired?" for
// every component that must guarantee at-most-once execution of a
// backend-submitted action.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() uint64
}

// NewEngine creates an idempotency engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

// expired evaluates the record against the engine clock using saturating
// subtraction, so a clock that has not advanced past ExecutedAt never reports
// expiry. Records without a TTL are permanent.
func (e *Engine) expired(record *Record) bool {
	if record == nil || record.TTL == nil {
		return false
	}
	now := e.now()
	var elapsed uint64
	if now > record.ExecutedAt {
		elapsed = now - record.ExecutedAt
	}
	return elapsed >= *record.TTL
}

// Check fails with ErrDuplicateOperation if a live execution record exists for
// (scope, hash), emitting a replay-rejected event. It does not write anything:
// callers that want check-and-record semantics in one step use Guard, while
// callers with side effects between the check and the record write (the
// settlement orchestrator) pair Check with Commit.
func (e *Engine) Check(scope Scope, hash [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	record, ok, err := e.state.OperationGet(scope, hash)
	if err != nil {
		return err
	}
	if ok && !e.expired(record) {
		e.emit(events.ReplayRejected{Scope: string(scope), OperationHash: hash, Timestamp: e.now()})
		return ErrDuplicateOperation
	}
	return nil
}

// Commit writes a fresh execution record for (scope, hash), overwriting any
// expired record that may still be present.
func (e *Engine) Commit(scope Scope, hash [32]byte, ttl *uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	record := &Record{ExecutedAt: e.now()}
	if ttl != nil {
		value := *ttl
		record.TTL = &value
	}
	return e.state.OperationPut(scope, hash, record)
}

// Guard enforces at-most-once execution: it succeeds and records the operation
// if no live record exists, and fails with ErrDuplicateOperation otherwise.
func (e *Engine) Guard(scope Scope, hash [32]byte, ttl *uint64) error {
	if err := e.Check(scope, hash); err != nil {
		return err
	}
	return e.Commit(scope, hash, ttl)
}

// IsExecuted reports whether a live (non-expired) execution record exists.
func (e *Engine) IsExecuted(scope Scope, hash [32]byte) bool {
	if e == nil || e.state == nil {
		return false
	}
	record, ok, err := e.state.OperationGet(scope, hash)
	if err != nil || !ok {
		return false
	}
	return !e.expired(record)
}

// Cleanup deletes the record for (scope, hash) if it exists and is expired,
// reclaiming storage. It returns true only when a record was removed; the call
// is an idempotent no-op otherwise. Records without a TTL are never cleanable.
func (e *Engine) Cleanup(scope Scope, hash [32]byte) bool {
	if e == nil || e.state == nil {
		return false
	}
	record, ok, err := e.state.OperationGet(scope, hash)
	if err != nil || !ok {
		return false
	}
	if !e.expired(record) {
		return false
	}
	if err := e.state.OperationDelete(scope, hash); err != nil {
		return false
	}
	return true
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}
