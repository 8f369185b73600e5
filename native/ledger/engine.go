package ledger

import (
	"errors"
	"math/big"

	"wagercore/core/events"
)

var (
	// ErrUnauthorized is returned when a mutation is attempted by a caller
	// other than the configured backend identity.
	ErrUnauthorized = errors.New("ledger: unauthorized")
	// ErrAlreadyInitialized is returned by Initialize after the backend
	// identity has been set.
	ErrAlreadyInitialized = errors.New("ledger: already initialized")
	// ErrNotInitialized is returned when the engine is used before its state
	// backend has been configured.
	ErrNotInitialized = errors.New("ledger: not initialized")
	// ErrInvalidAmount is returned for negative balance arguments, negative
	// metric deltas, or non-positive lock/unlock amounts.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientWithdrawable is returned when a mutation would push the
	// withdrawable bucket below zero.
	ErrInsufficientWithdrawable = errors.New("ledger: insufficient withdrawable balance")
	// ErrInsufficientLocked is returned when a mutation would push the locked
	// bucket below zero.
	ErrInsufficientLocked = errors.New("ledger: insufficient locked balance")
	// ErrOverflow is returned when an addition would exceed the signed
	// 128-bit range instead of wrapping.
	ErrOverflow = errors.New("ledger: arithmetic overflow")
)

type engineState interface {
	LedgerBackendSigner() ([20]byte, bool, error)
	LedgerSetBackendSigner(addr [20]byte) error
	BalanceGet(user [20]byte) (*UserBalance, error)
	BalancePut(user [20]byte, balance *UserBalance) error
	MetricsGet(user [20]byte) (*UserMetrics, error)
	MetricsPut(user [20]byte, metrics *UserMetrics) error
}

// Engine owns the per-user (withdrawable, locked) balances and cumulative
// win/loss metrics. All mutations are gated on the single backend identity set
// at initialization; reads are unrestricted and default to zero-valued state
// for unknown users.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates a balance ledger engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
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

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

// Initialize stores the backend identity authorised to mutate ledger state.
// It may be called exactly once.
func (e *Engine) Initialize(backend [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNotInitialized
	}
	if _, ok, err := e.state.LedgerBackendSigner(); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}
	return e.state.LedgerSetBackendSigner(backend)
}

// RequireAuth verifies that the caller presents the configured backend
// identity. It is the capability check injected at the top of every mutating
// entry point.
func (e *Engine) RequireAuth(caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNotInitialized
	}
	backend, ok, err := e.state.LedgerBackendSigner()
	if err != nil {
		return err
	}
	if !ok || backend != caller {
		return ErrUnauthorized
	}
	return nil
}

// SetBalance overwrites both buckets of the user's balance. Both arguments
// must be non-negative.
func (e *Engine) SetBalance(caller, user [20]byte, withdrawable, locked *big.Int) (*UserBalance, error) {
	if err := e.RequireAuth(caller); err != nil {
		return nil, err
	}
	if err := validateNonNegative(withdrawable); err != nil {
		return nil, err
	}
	if err := validateNonNegative(locked); err != nil {
		return nil, err
	}
	if !fitsInt128(withdrawable) || !fitsInt128(locked) {
		return nil, ErrOverflow
	}
	previous, err := e.balance(user)
	if err != nil {
		return nil, err
	}
	updated := &UserBalance{
		Withdrawable: cloneBigInt(withdrawable),
		Locked:       cloneBigInt(locked),
	}
	if err := e.state.BalancePut(user, updated); err != nil {
		return nil, err
	}
	e.emitBalanceUpdated(user, previous, updated)
	return updated.Clone(), nil
}

// ApplyDelta adds the supplied deltas (which may be negative) to both buckets
// in one atomic step. It fails with ErrOverflow if either addition leaves the
// signed 128-bit range and with ErrInsufficientWithdrawable or
// ErrInsufficientLocked if either resulting bucket would go negative.
func (e *Engine) ApplyDelta(caller, user [20]byte, withdrawableDelta, lockedDelta *big.Int) (*UserBalance, error) {
	if err := e.RequireAuth(caller); err != nil {
		return nil, err
	}
	previous, err := e.balance(user)
	if err != nil {
		return nil, err
	}
	updated, err := applyBalanceDelta(previous, withdrawableDelta, lockedDelta)
	if err != nil {
		return nil, err
	}
	if err := e.state.BalancePut(user, updated); err != nil {
		return nil, err
	}
	e.emitBalanceUpdated(user, previous, updated)
	return updated.Clone(), nil
}

// Lock moves amount from the withdrawable bucket into escrow. The amount must
// be strictly positive and fully covered by the withdrawable balance.
func (e *Engine) Lock(caller, user [20]byte, amount *big.Int) (*UserBalance, error) {
	if err := e.RequireAuth(caller); err != nil {
		return nil, err
	}
	if err := validatePositive(amount); err != nil {
		return nil, err
	}
	previous, err := e.balance(user)
	if err != nil {
		return nil, err
	}
	if previous.Withdrawable.Cmp(amount) < 0 {
		return nil, ErrInsufficientWithdrawable
	}
	updated, err := applyBalanceDelta(previous, new(big.Int).Neg(amount), amount)
	if err != nil {
		return nil, err
	}
	if err := e.state.BalancePut(user, updated); err != nil {
		return nil, err
	}
	e.emitBalanceUpdated(user, previous, updated)
	return updated.Clone(), nil
}

// Unlock releases amount from escrow back into the withdrawable bucket. The
// amount must be strictly positive and fully covered by the locked balance.
func (e *Engine) Unlock(caller, user [20]byte, amount *big.Int) (*UserBalance, error) {
	if err := e.RequireAuth(caller); err != nil {
		return nil, err
	}
	if err := validatePositive(amount); err != nil {
		return nil, err
	}
	previous, err := e.balance(user)
	if err != nil {
		return nil, err
	}
	if previous.Locked.Cmp(amount) < 0 {
		return nil, ErrInsufficientLocked
	}
	updated, err := applyBalanceDelta(previous, amount, new(big.Int).Neg(amount))
	if err != nil {
		return nil, err
	}
	if err := e.state.BalancePut(user, updated); err != nil {
		return nil, err
	}
	e.emitBalanceUpdated(user, previous, updated)
	return updated.Clone(), nil
}

// GetBalance returns the user's balance snapshot, zero-valued for unknown
// users. No authorization is required.
func (e *Engine) GetBalance(user [20]byte) (*UserBalance, error) {
	return e.balance(user)
}

// GetWithdrawable returns the spendable portion of the user's balance.
func (e *Engine) GetWithdrawable(user [20]byte) (*big.Int, error) {
	balance, err := e.balance(user)
	if err != nil {
		return nil, err
	}
	return balance.Withdrawable, nil
}

// GetLocked returns the escrowed portion of the user's balance.
func (e *Engine) GetLocked(user [20]byte) (*big.Int, error) {
	balance, err := e.balance(user)
	if err != nil {
		return nil, err
	}
	return balance.Locked, nil
}

// GetTotal returns withdrawable + locked, failing with ErrOverflow rather
// than silently wrapping.
func (e *Engine) GetTotal(user [20]byte) (*big.Int, error) {
	balance, err := e.balance(user)
	if err != nil {
		return nil, err
	}
	return checkedAdd(balance.Withdrawable, balance.Locked)
}

// RecordMetrics adds the supplied non-negative deltas to the user's
// cumulative counters. Each addition is overflow-checked independently and a
// failure leaves all three counters untouched.
func (e *Engine) RecordMetrics(caller, user [20]byte, stakedDelta, wonDelta, lostDelta *big.Int) (*UserMetrics, error) {
	if err := e.RequireAuth(caller); err != nil {
		return nil, err
	}
	for _, delta := range []*big.Int{stakedDelta, wonDelta, lostDelta} {
		if err := validateNonNegative(delta); err != nil {
			return nil, err
		}
	}
	previous, err := e.metrics(user)
	if err != nil {
		return nil, err
	}
	totalStaked, err := checkedAdd(previous.TotalStaked, stakedDelta)
	if err != nil {
		return nil, err
	}
	totalWon, err := checkedAdd(previous.TotalWon, wonDelta)
	if err != nil {
		return nil, err
	}
	totalLost, err := checkedAdd(previous.TotalLost, lostDelta)
	if err != nil {
		return nil, err
	}
	updated := &UserMetrics{TotalStaked: totalStaked, TotalWon: totalWon, TotalLost: totalLost}
	if err := e.state.MetricsPut(user, updated); err != nil {
		return nil, err
	}
	e.emit(events.MetricsUpdated{
		User:        user,
		StakedDelta: cloneBigInt(stakedDelta),
		WonDelta:    cloneBigInt(wonDelta),
		LostDelta:   cloneBigInt(lostDelta),
		TotalStaked: cloneBigInt(updated.TotalStaked),
		TotalWon:    cloneBigInt(updated.TotalWon),
		TotalLost:   cloneBigInt(updated.TotalLost),
	})
	return updated.Clone(), nil
}

// GetMetrics returns the user's cumulative counters, zero-valued for unknown
// users. No authorization is required.
func (e *Engine) GetMetrics(user [20]byte) (*UserMetrics, error) {
	return e.metrics(user)
}

func (e *Engine) balance(user [20]byte) (*UserBalance, error) {
	if e == nil || e.state == nil {
		return nil, ErrNotInitialized
	}
	balance, err := e.state.BalanceGet(user)
	if err != nil {
		return nil, err
	}
	return ensureBalance(balance), nil
}

func (e *Engine) metrics(user [20]byte) (*UserMetrics, error) {
	if e == nil || e.state == nil {
		return nil, ErrNotInitialized
	}
	metrics, err := e.state.MetricsGet(user)
	if err != nil {
		return nil, err
	}
	return ensureMetrics(metrics), nil
}

func (e *Engine) emitBalanceUpdated(user [20]byte, previous, updated *UserBalance) {
	e.emit(events.BalanceUpdated{
		User:             user,
		PrevWithdrawable: cloneBigInt(previous.Withdrawable),
		PrevLocked:       cloneBigInt(previous.Locked),
		Withdrawable:     cloneBigInt(updated.Withdrawable),
		Locked:           cloneBigInt(updated.Locked),
	})
}

func applyBalanceDelta(current *UserBalance, withdrawableDelta, lockedDelta *big.Int) (*UserBalance, error) {
	if withdrawableDelta == nil {
		withdrawableDelta = big.NewInt(0)
	}
	if lockedDelta == nil {
		lockedDelta = big.NewInt(0)
	}
	nextWithdrawable, err := checkedAdd(current.Withdrawable, withdrawableDelta)
	if err != nil {
		return nil, err
	}
	nextLocked, err := checkedAdd(current.Locked, lockedDelta)
	if err != nil {
		return nil, err
	}
	if nextWithdrawable.Sign() < 0 {
		return nil, ErrInsufficientWithdrawable
	}
	if nextLocked.Sign() < 0 {
		return nil, ErrInsufficientLocked
	}
	return &UserBalance{Withdrawable: nextWithdrawable, Locked: nextLocked}, nil
}

func validateNonNegative(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func validatePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
