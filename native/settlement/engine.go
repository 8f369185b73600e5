package settlement

import (
	"errors"
	"math/big"
	"time"

	"wagercore/core/events"
	"wagercore/native/idempotency"
	"wagercore/native/ledger"
)

var (
	// ErrUnauthorized is returned when settlement is attempted by a caller
	// other than the configured backend identity.
	ErrUnauthorized = errors.New("settlement: unauthorized")
	// ErrBetAlreadySettled is returned when the wager already carries a
	// settlement record. This guard is permanent and independent of the
	// TTL-bounded operation-hash guard.
	ErrBetAlreadySettled = errors.New("settlement: bet already settled")
	// ErrInvalidBet is returned when a WIN settlement omits the winner.
	ErrInvalidBet = errors.New("settlement: invalid bet")
	// ErrInvalidStatus is returned for an unknown outcome tag.
	ErrInvalidStatus = errors.New("settlement: invalid settlement status")

	errNilState  = errors.New("settlement engine: state not configured")
	errNilLedger = errors.New("settlement engine: ledger not configured")
	errNilGuard  = errors.New("settlement engine: idempotency engine not configured")
)

type engineState interface {
	SettlementBackendSigner() ([20]byte, bool, error)
	SettlementSetBackendSigner(addr [20]byte) error
	SettlementRecordGet(wagerID *big.Int) (*Record, bool, error)
	SettlementRecordPut(record *Record) error
}

// ledgerMutator is the narrow slice of the balance ledger the orchestrator
// drives. The caller identity is forwarded so the ledger performs its own
// backend capability check on every mutation.
type ledgerMutator interface {
	ApplyDelta(caller, user [20]byte, withdrawableDelta, lockedDelta *big.Int) (*ledger.UserBalance, error)
}

// Engine resolves wager outcomes: it reclassifies the bettor's escrowed stake
// into a payout, a platform retention, or a refund, guarded so that each
// settlement request executes at most once.
type Engine struct {
	state   engineState
	ledger  ledgerMutator
	guard   *idempotency.Engine
	emitter events.Emitter
	nowFn   func() uint64
}

// NewEngine creates a settlement engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the balance ledger driven during settlement.
func (e *Engine) SetLedger(mutator ledgerMutator) { e.ledger = mutator }

// SetGuard configures the idempotency engine used for replay protection.
func (e *Engine) SetGuard(guard *idempotency.Engine) { e.guard = guard }

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

// Initialize stores the backend identity authorised to settle wagers.
// Re-initialisation overwrites the stored identity; the entry point carries
// no one-time guard of its own.
func (e *Engine) Initialize(backend [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.SettlementSetBackendSigner(backend)
}

func (e *Engine) requireAuth(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	backend, ok, err := e.state.SettlementBackendSigner()
	if err != nil {
		return err
	}
	if !ok || backend != caller {
		return ErrUnauthorized
	}
	return nil
}

// Settle resolves a wager exactly once. The flow is: backend auth, replay
// pre-check on the caller-supplied operation hash, permanent settled check on
// the wager identity, ledger fund moves per outcome, then record persistence
// and the replay-guard write.
//
// The ledger calls and the guard write are not wrapped in a shared
// transaction. On a WIN the escrow release and the winner credit are two
// separate ledger mutations: if the second fails after the first committed,
// the wager is left unsettled and the operation hash unconsumed so the
// backend can safely retry, but the bettor's escrow has already been
// released. Callers must treat that window as a compensation point.
func (e *Engine) Settle(caller [20]byte, operationHash [32]byte, wagerID *big.Int, bettor [20]byte, winner *[20]byte, stake, payout *big.Int, outcome Outcome, ttl *uint64) (*Record, error) {
	if err := e.requireAuth(caller); err != nil {
		return nil, err
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if e.guard == nil {
		return nil, errNilGuard
	}
	if err := e.guard.Check(idempotency.ScopeSettlement, operationHash); err != nil {
		return nil, err
	}
	settled, err := e.isSettled(wagerID)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, ErrBetAlreadySettled
	}

	stakeAmount := cloneAmount(stake)
	payoutAmount := cloneAmount(payout)
	negStake := new(big.Int).Neg(stakeAmount)

	switch outcome {
	case OutcomeWin:
		if winner == nil {
			return nil, ErrInvalidBet
		}
		// Release the bettor's escrow, then credit the winner's spendable
		// balance. See the partial-failure note above.
		if _, err := e.ledger.ApplyDelta(caller, bettor, big.NewInt(0), negStake); err != nil {
			return nil, err
		}
		if _, err := e.ledger.ApplyDelta(caller, *winner, payoutAmount, big.NewInt(0)); err != nil {
			return nil, err
		}
	case OutcomeLoss:
		// Escrow is released and retained by the platform.
		if _, err := e.ledger.ApplyDelta(caller, bettor, big.NewInt(0), negStake); err != nil {
			return nil, err
		}
	case OutcomeDraw:
		// Escrow returns to the bettor's spendable balance verbatim.
		if _, err := e.ledger.ApplyDelta(caller, bettor, stakeAmount, negStake); err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidStatus
	}

	record := &Record{
		WagerID:   cloneAmount(wagerID),
		Outcome:   outcome,
		Bettor:    bettor,
		Payout:    payoutAmount,
		Timestamp: e.now(),
	}
	if winner != nil {
		w := *winner
		record.Winner = &w
	}
	if err := e.state.SettlementRecordPut(record); err != nil {
		return nil, err
	}
	if err := e.guard.Commit(idempotency.ScopeSettlement, operationHash, ttl); err != nil {
		return nil, err
	}
	e.emit(events.SettlementExecuted{
		WagerID:       cloneAmount(wagerID),
		OperationHash: operationHash,
		Outcome:       string(outcome),
		Bettor:        bettor,
		Winner:        record.Winner,
		Stake:         stakeAmount,
		Payout:        cloneAmount(payoutAmount),
		Timestamp:     record.Timestamp,
	})
	return record.Clone(), nil
}

// IsSettled reports whether the wager already carries a settlement record.
func (e *Engine) IsSettled(wagerID *big.Int) bool {
	settled, err := e.isSettled(wagerID)
	if err != nil {
		return false
	}
	return settled
}

// GetSettlement returns the settlement record for the wager, if any.
func (e *Engine) GetSettlement(wagerID *big.Int) (*Record, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	record, ok, err := e.state.SettlementRecordGet(wagerID)
	if err != nil || !ok {
		return nil, false, err
	}
	return record.Clone(), true, nil
}

// IsOperationExecuted reports whether a live replay-guard record exists for
// the operation hash under the settlement scope.
func (e *Engine) IsOperationExecuted(operationHash [32]byte) bool {
	if e == nil || e.guard == nil {
		return false
	}
	return e.guard.IsExecuted(idempotency.ScopeSettlement, operationHash)
}

// CleanupOperation reclaims the replay-guard record for the operation hash if
// it has expired, returning true when a record was removed.
func (e *Engine) CleanupOperation(operationHash [32]byte) bool {
	if e == nil || e.guard == nil {
		return false
	}
	return e.guard.Cleanup(idempotency.ScopeSettlement, operationHash)
}

func (e *Engine) isSettled(wagerID *big.Int) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	_, ok, err := e.state.SettlementRecordGet(wagerID)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
