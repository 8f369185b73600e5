package core

import (
	"log/slog"
	"math/big"
	"sync"

	"wagercore/core/events"
	"wagercore/core/state"
	"wagercore/core/types"
	"wagercore/native/idempotency"
	"wagercore/native/ledger"
	"wagercore/native/settlement"
	"wagercore/observability"
	"wagercore/storage"
)

// Node is the central controller wiring the state manager and the native
// engines together. Every entry point runs under a single mutex so each call
// executes as one serially-ordered transaction against shared state; there is
// no intra-call concurrency and no suspension point inside an entry point.
type Node struct {
	db      storage.Database
	state   *state.Manager
	logger  *slog.Logger
	stateMu sync.Mutex

	idempotency *idempotency.Engine
	ledger      *ledger.Engine
	settlement  *settlement.Engine
}

// NewNode assembles the accounting core on top of the provided database.
func NewNode(db storage.Database, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	manager := state.NewManager(db)
	node := &Node{
		db:          db,
		state:       manager,
		logger:      logger,
		idempotency: idempotency.NewEngine(),
		ledger:      ledger.NewEngine(),
		settlement:  settlement.NewEngine(),
	}
	emitter := &logEmitter{logger: logger}

	node.idempotency.SetState(manager)
	node.idempotency.SetEmitter(emitter)

	node.ledger.SetState(manager)
	node.ledger.SetEmitter(emitter)

	node.settlement.SetState(manager)
	node.settlement.SetLedger(node.ledger)
	node.settlement.SetGuard(node.idempotency)
	node.settlement.SetEmitter(emitter)

	return node
}

// SetNowFunc overrides the logical clock shared by the TTL-bounded components.
// Primarily intended for tests.
func (n *Node) SetNowFunc(now func() uint64) {
	n.idempotency.SetNowFunc(now)
	n.settlement.SetNowFunc(now)
}

// logEmitter forwards engine events to the structured log and the metrics
// registry. Events are pure audit output; nothing consumes them internally.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(event events.Event) {
	if l == nil || event == nil {
		return
	}
	payload, ok := event.(interface{ Event() *types.Event })
	if !ok {
		l.logger.Info("event", slog.String("type", event.EventType()))
		return
	}
	evt := payload.Event()
	attrs := make([]any, 0, 1+len(evt.Attributes))
	attrs = append(attrs, slog.String("type", evt.Type))
	for key, value := range evt.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	l.logger.Info("event", attrs...)

	switch e := event.(type) {
	case events.SettlementExecuted:
		observability.Core().RecordSettlement(e.Outcome)
	case events.ReplayRejected:
		observability.Core().RecordReplayRejected(e.Scope)
	}
}

// --- Balance Ledger surface ---

// LedgerInitialize stores the ledger's backend identity. One-time.
func (n *Node) LedgerInitialize(backend [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.Initialize(backend)
}

// LedgerSetBalance overwrites both buckets of a user's balance.
func (n *Node) LedgerSetBalance(caller, user [20]byte, withdrawable, locked *big.Int) (*ledger.UserBalance, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	balance, err := n.ledger.SetBalance(caller, user, withdrawable, locked)
	if err == nil {
		observability.Core().RecordBalanceMutation("set")
	}
	return balance, err
}

// LedgerApplyDelta adds signed deltas to both buckets atomically.
func (n *Node) LedgerApplyDelta(caller, user [20]byte, withdrawableDelta, lockedDelta *big.Int) (*ledger.UserBalance, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	balance, err := n.ledger.ApplyDelta(caller, user, withdrawableDelta, lockedDelta)
	if err == nil {
		observability.Core().RecordBalanceMutation("delta")
	}
	return balance, err
}

// LedgerLock escrows part of a user's withdrawable balance.
func (n *Node) LedgerLock(caller, user [20]byte, amount *big.Int) (*ledger.UserBalance, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	balance, err := n.ledger.Lock(caller, user, amount)
	if err == nil {
		observability.Core().RecordBalanceMutation("lock")
	}
	return balance, err
}

// LedgerUnlock releases part of a user's escrowed balance.
func (n *Node) LedgerUnlock(caller, user [20]byte, amount *big.Int) (*ledger.UserBalance, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	balance, err := n.ledger.Unlock(caller, user, amount)
	if err == nil {
		observability.Core().RecordBalanceMutation("unlock")
	}
	return balance, err
}

// LedgerGetBalance returns a user's balance snapshot.
func (n *Node) LedgerGetBalance(user [20]byte) (*ledger.UserBalance, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.GetBalance(user)
}

// LedgerGetWithdrawable returns the spendable bucket.
func (n *Node) LedgerGetWithdrawable(user [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.GetWithdrawable(user)
}

// LedgerGetLocked returns the escrowed bucket.
func (n *Node) LedgerGetLocked(user [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.GetLocked(user)
}

// LedgerGetTotal returns withdrawable + locked with overflow checking.
func (n *Node) LedgerGetTotal(user [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.GetTotal(user)
}

// LedgerRecordMetrics accumulates cumulative wagering counters.
func (n *Node) LedgerRecordMetrics(caller, user [20]byte, stakedDelta, wonDelta, lostDelta *big.Int) (*ledger.UserMetrics, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	metrics, err := n.ledger.RecordMetrics(caller, user, stakedDelta, wonDelta, lostDelta)
	if err == nil {
		observability.Core().RecordBalanceMutation("metrics")
	}
	return metrics, err
}

// LedgerGetMetrics returns a user's cumulative counters.
func (n *Node) LedgerGetMetrics(user [20]byte) (*ledger.UserMetrics, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.ledger.GetMetrics(user)
}

// --- Settlement surface ---

// SettlementInitialize stores the settlement backend identity.
func (n *Node) SettlementInitialize(backend [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.settlement.Initialize(backend)
}

// SettlementSettle resolves a wager outcome exactly once.
func (n *Node) SettlementSettle(caller [20]byte, operationHash [32]byte, wagerID *big.Int, bettor [20]byte, winner *[20]byte, stake, payout *big.Int, outcome settlement.Outcome, ttl *uint64) (*settlement.Record, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.settlement.Settle(caller, operationHash, wagerID, bettor, winner, stake, payout, outcome, ttl)
}

// SettlementIsSettled reports whether the wager has a settlement record.
func (n *Node) SettlementIsSettled(wagerID *big.Int) bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.settlement.IsSettled(wagerID)
}

// SettlementGet returns the settlement record for a wager, if any.
func (n *Node) SettlementGet(wagerID *big.Int) (*settlement.Record, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.settlement.GetSettlement(wagerID)
}

// SettlementIsOperationExecuted reports whether the operation hash still has a
// live replay-guard record under the settlement scope.
func (n *Node) SettlementIsOperationExecuted(operationHash [32]byte) bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.settlement.IsOperationExecuted(operationHash)
}

// SettlementCleanupOperation reclaims an expired replay-guard record.
func (n *Node) SettlementCleanupOperation(operationHash [32]byte) bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	cleaned := n.settlement.CleanupOperation(operationHash)
	if cleaned {
		observability.Core().RecordCleanup()
	}
	return cleaned
}
