package settlement

import (
	"errors"
	"math/big"
	"testing"

	"wagercore/core/events"
	"wagercore/native/idempotency"
	"wagercore/native/ledger"
)

type mockState struct {
	signer    [20]byte
	signerSet bool
	records   map[string]*Record
}

func newMockState() *mockState {
	return &mockState{records: make(map[string]*Record)}
}

func (m *mockState) SettlementBackendSigner() ([20]byte, bool, error) {
	return m.signer, m.signerSet, nil
}

func (m *mockState) SettlementSetBackendSigner(addr [20]byte) error {
	m.signer = addr
	m.signerSet = true
	return nil
}

func (m *mockState) SettlementRecordGet(wagerID *big.Int) (*Record, bool, error) {
	record, ok := m.records[wagerID.String()]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (m *mockState) SettlementRecordPut(record *Record) error {
	m.records[record.WagerID.String()] = record.Clone()
	return nil
}

type mockLedgerState struct {
	signer    [20]byte
	signerSet bool
	balances  map[[20]byte]*ledger.UserBalance
	metrics   map[[20]byte]*ledger.UserMetrics
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{
		balances: make(map[[20]byte]*ledger.UserBalance),
		metrics:  make(map[[20]byte]*ledger.UserMetrics),
	}
}

func (m *mockLedgerState) LedgerBackendSigner() ([20]byte, bool, error) {
	return m.signer, m.signerSet, nil
}

func (m *mockLedgerState) LedgerSetBackendSigner(addr [20]byte) error {
	m.signer = addr
	m.signerSet = true
	return nil
}

func (m *mockLedgerState) BalanceGet(user [20]byte) (*ledger.UserBalance, error) {
	return m.balances[user].Clone(), nil
}

func (m *mockLedgerState) BalancePut(user [20]byte, balance *ledger.UserBalance) error {
	m.balances[user] = balance.Clone()
	return nil
}

func (m *mockLedgerState) MetricsGet(user [20]byte) (*ledger.UserMetrics, error) {
	return m.metrics[user].Clone(), nil
}

func (m *mockLedgerState) MetricsPut(user [20]byte, metrics *ledger.UserMetrics) error {
	m.metrics[user] = metrics.Clone()
	return nil
}

type opKey struct {
	scope idempotency.Scope
	hash  [32]byte
}

type mockOpState struct {
	records map[opKey]*idempotency.Record
}

func newMockOpState() *mockOpState {
	return &mockOpState{records: make(map[opKey]*idempotency.Record)}
}

func (m *mockOpState) OperationGet(scope idempotency.Scope, hash [32]byte) (*idempotency.Record, bool, error) {
	record, ok := m.records[opKey{scope, hash}]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (m *mockOpState) OperationPut(scope idempotency.Scope, hash [32]byte, record *idempotency.Record) error {
	m.records[opKey{scope, hash}] = record.Clone()
	return nil
}

func (m *mockOpState) OperationDelete(scope idempotency.Scope, hash [32]byte) error {
	delete(m.records, opKey{scope, hash})
	return nil
}

type eventRecorder struct {
	events []events.Event
}

func (r *eventRecorder) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func hashOf(fill byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = fill
	}
	return h
}

var (
	backend = testAddress(0x01)
	bettor  = testAddress(0xAA)
	winner  = testAddress(0xBB)
)

var maxBalance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

type fixture struct {
	engine   *Engine
	ledger   *ledger.Engine
	guard    *idempotency.Engine
	state    *mockState
	opState  *mockOpState
	recorder *eventRecorder
	now      uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:    newMockState(),
		opState:  newMockOpState(),
		recorder: &eventRecorder{},
		now:      5_000,
	}

	ledgerEngine := ledger.NewEngine()
	ledgerEngine.SetState(newMockLedgerState())
	if err := ledgerEngine.Initialize(backend); err != nil {
		t.Fatalf("ledger initialize failed: %v", err)
	}
	f.ledger = ledgerEngine

	guard := idempotency.NewEngine()
	guard.SetState(f.opState)
	guard.SetNowFunc(func() uint64 { return f.now })
	f.guard = guard

	engine := NewEngine()
	engine.SetState(f.state)
	engine.SetLedger(ledgerEngine)
	engine.SetGuard(guard)
	engine.SetEmitter(f.recorder)
	engine.SetNowFunc(func() uint64 { return f.now })
	if err := engine.Initialize(backend); err != nil {
		t.Fatalf("settlement initialize failed: %v", err)
	}
	f.engine = engine
	return f
}

func (f *fixture) fund(t *testing.T, user [20]byte, withdrawable, locked int64) {
	t.Helper()
	if _, err := f.ledger.SetBalance(backend, user, big.NewInt(withdrawable), big.NewInt(locked)); err != nil {
		t.Fatalf("fund %x failed: %v", user[:2], err)
	}
}

func (f *fixture) requireBalance(t *testing.T, user [20]byte, withdrawable, locked int64) {
	t.Helper()
	balance, err := f.ledger.GetBalance(user)
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	if balance.Withdrawable.Cmp(big.NewInt(withdrawable)) != 0 || balance.Locked.Cmp(big.NewInt(locked)) != 0 {
		t.Fatalf("balance = (%s, %s), want (%d, %d)", balance.Withdrawable, balance.Locked, withdrawable, locked)
	}
}

func TestSettleWinPaysWinnerAndReleasesEscrow(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 900, 100)

	w := winner
	record, err := f.engine.Settle(backend, hashOf(0x01), big.NewInt(42), bettor, &w, big.NewInt(100), big.NewInt(200), OutcomeWin, nil)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	f.requireBalance(t, bettor, 900, 0)
	f.requireBalance(t, winner, 200, 0)
	if record.Outcome != OutcomeWin || record.Winner == nil || *record.Winner != winner {
		t.Fatalf("record mismatch: %+v", record)
	}
	if !f.engine.IsSettled(big.NewInt(42)) {
		t.Fatal("wager not marked settled")
	}
	if !f.engine.IsOperationExecuted(hashOf(0x01)) {
		t.Fatal("operation hash not recorded")
	}
}

func TestSettleLossReleasesEscrowWithoutCredit(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 50)

	if _, err := f.engine.Settle(backend, hashOf(0x02), big.NewInt(7), bettor, nil, big.NewInt(50), big.NewInt(0), OutcomeLoss, nil); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	f.requireBalance(t, bettor, 0, 0)
}

func TestSettleDrawRefundsStake(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 10, 50)

	if _, err := f.engine.Settle(backend, hashOf(0x03), big.NewInt(43), bettor, nil, big.NewInt(50), big.NewInt(0), OutcomeDraw, nil); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	f.requireBalance(t, bettor, 60, 0)
}

func TestSettleRequiresBackendIdentity(t *testing.T) {
	f := newFixture(t)
	intruder := testAddress(0x99)
	_, err := f.engine.Settle(intruder, hashOf(0x04), big.NewInt(1), bettor, nil, big.NewInt(1), big.NewInt(0), OutcomeLoss, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestSettleRejectsReplayedOperationHash(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 20)

	if _, err := f.engine.Settle(backend, hashOf(0x05), big.NewInt(10), bettor, nil, big.NewInt(10), big.NewInt(0), OutcomeLoss, nil); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	_, err := f.engine.Settle(backend, hashOf(0x05), big.NewInt(11), bettor, nil, big.NewInt(10), big.NewInt(0), OutcomeLoss, nil)
	if !errors.Is(err, idempotency.ErrDuplicateOperation) {
		t.Fatalf("expected duplicate operation, got %v", err)
	}
}

func TestSettleSameWagerTwiceFailsEvenWithFreshHash(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 30)

	if _, err := f.engine.Settle(backend, hashOf(0x06), big.NewInt(12), bettor, nil, big.NewInt(15), big.NewInt(0), OutcomeLoss, nil); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	_, err := f.engine.Settle(backend, hashOf(0x07), big.NewInt(12), bettor, nil, big.NewInt(15), big.NewInt(0), OutcomeLoss, nil)
	if !errors.Is(err, ErrBetAlreadySettled) {
		t.Fatalf("expected bet already settled, got %v", err)
	}
	// The second stake release must not have happened.
	f.requireBalance(t, bettor, 0, 15)
}

func TestSettledGuardOutlivesOperationRecordCleanup(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 40)

	ttl := uint64(5)
	if _, err := f.engine.Settle(backend, hashOf(0x08), big.NewInt(13), bettor, nil, big.NewInt(20), big.NewInt(0), OutcomeLoss, &ttl); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	f.now += 6
	if !f.engine.CleanupOperation(hashOf(0x08)) {
		t.Fatal("cleanup did not reclaim the expired record")
	}
	if f.engine.IsOperationExecuted(hashOf(0x08)) {
		t.Fatal("operation still reported executed after cleanup")
	}
	// Even with the operation hash reusable, the wager itself stays settled.
	_, err := f.engine.Settle(backend, hashOf(0x08), big.NewInt(13), bettor, nil, big.NewInt(20), big.NewInt(0), OutcomeLoss, &ttl)
	if !errors.Is(err, ErrBetAlreadySettled) {
		t.Fatalf("expected bet already settled, got %v", err)
	}
}

func TestSettleWinWithoutWinnerIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 10)
	_, err := f.engine.Settle(backend, hashOf(0x09), big.NewInt(14), bettor, nil, big.NewInt(10), big.NewInt(10), OutcomeWin, nil)
	if !errors.Is(err, ErrInvalidBet) {
		t.Fatalf("expected invalid bet, got %v", err)
	}
	f.requireBalance(t, bettor, 0, 10)
}

func TestSettleRejectsUnknownOutcome(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 10)
	_, err := f.engine.Settle(backend, hashOf(0x0A), big.NewInt(15), bettor, nil, big.NewInt(10), big.NewInt(0), Outcome("VOID"), nil)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	f.requireBalance(t, bettor, 0, 10)
	if f.engine.IsOperationExecuted(hashOf(0x0A)) {
		t.Fatal("guard consumed by rejected settlement")
	}
}

func TestSettleInsufficientEscrowFails(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 100, 5)
	_, err := f.engine.Settle(backend, hashOf(0x0B), big.NewInt(16), bettor, nil, big.NewInt(10), big.NewInt(0), OutcomeLoss, nil)
	if !errors.Is(err, ledger.ErrInsufficientLocked) {
		t.Fatalf("expected insufficient locked, got %v", err)
	}
	if f.engine.IsSettled(big.NewInt(16)) {
		t.Fatal("failed settlement marked the wager settled")
	}
}

// TestSettleWinPartialFailureWindow pins the non-atomic WIN flow: when the
// winner credit fails after the escrow release committed, the wager stays
// unsettled and the operation hash unconsumed, so the backend can retry, but
// the bettor's escrow is already gone.
func TestSettleWinPartialFailureWindow(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 100)
	// Saturate the winner's withdrawable bucket so the payout credit
	// overflows.
	if _, err := f.ledger.SetBalance(backend, winner, new(big.Int).Set(maxBalance), big.NewInt(0)); err != nil {
		t.Fatalf("saturate winner failed: %v", err)
	}

	w := winner
	_, err := f.engine.Settle(backend, hashOf(0x0C), big.NewInt(17), bettor, &w, big.NewInt(100), big.NewInt(1), OutcomeWin, nil)
	if !errors.Is(err, ledger.ErrOverflow) {
		t.Fatalf("expected overflow from winner credit, got %v", err)
	}

	// First ledger call committed: escrow released.
	f.requireBalance(t, bettor, 0, 0)
	// But the wager is retryable: unsettled, guard unconsumed.
	if f.engine.IsSettled(big.NewInt(17)) {
		t.Fatal("partially failed settlement marked settled")
	}
	if f.engine.IsOperationExecuted(hashOf(0x0C)) {
		t.Fatal("partially failed settlement consumed the operation hash")
	}
}

func TestSettleEmitsExecutionEvent(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 25)

	if _, err := f.engine.Settle(backend, hashOf(0x0D), big.NewInt(18), bettor, nil, big.NewInt(25), big.NewInt(0), OutcomeLoss, nil); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	var executed *events.SettlementExecuted
	for _, evt := range f.recorder.events {
		if e, ok := evt.(events.SettlementExecuted); ok {
			executed = &e
			break
		}
	}
	if executed == nil {
		t.Fatal("no settlement-executed event emitted")
	}
	if executed.Outcome != string(OutcomeLoss) || executed.WagerID.Cmp(big.NewInt(18)) != 0 {
		t.Fatalf("event payload mismatch: %+v", executed)
	}
	if executed.Stake.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("event stake = %s, want 25", executed.Stake)
	}
}

func TestGetSettlementReturnsStoredRecord(t *testing.T) {
	f := newFixture(t)
	f.fund(t, bettor, 0, 30)

	if _, err := f.engine.Settle(backend, hashOf(0x0E), big.NewInt(19), bettor, nil, big.NewInt(30), big.NewInt(0), OutcomeDraw, nil); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	record, ok, err := f.engine.GetSettlement(big.NewInt(19))
	if err != nil || !ok {
		t.Fatalf("get settlement: ok=%v err=%v", ok, err)
	}
	if record.Outcome != OutcomeDraw || record.Timestamp != f.now {
		t.Fatalf("record mismatch: %+v", record)
	}
	if _, ok, _ := f.engine.GetSettlement(big.NewInt(999)); ok {
		t.Fatal("unknown wager returned a record")
	}
}
