package core

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"wagercore/native/idempotency"
	"wagercore/native/ledger"
	"wagercore/native/settlement"
	"wagercore/storage"
)

func newTestNode(t *testing.T) (*Node, *uint64) {
	t.Helper()
	node := NewNode(storage.NewMemDB(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := uint64(10_000)
	node.SetNowFunc(func() uint64 { return now })
	return node, &now
}

func nodeAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func nodeHash(fill byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = fill
	}
	return h
}

// TestNodeSettlementLifecycle drives the full wager flow through the persisted
// state manager: fund, escrow, settle a WIN, and verify replay protection.
func TestNodeSettlementLifecycle(t *testing.T) {
	node, now := newTestNode(t)

	backend := nodeAddr(0x01)
	alice := nodeAddr(0xAA)
	bob := nodeAddr(0xBB)

	if err := node.LedgerInitialize(backend); err != nil {
		t.Fatalf("ledger initialize failed: %v", err)
	}
	if err := node.SettlementInitialize(backend); err != nil {
		t.Fatalf("settlement initialize failed: %v", err)
	}

	if _, err := node.LedgerSetBalance(backend, alice, big.NewInt(1_000), big.NewInt(0)); err != nil {
		t.Fatalf("set balance failed: %v", err)
	}
	if _, err := node.LedgerLock(backend, alice, big.NewInt(100)); err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	balance, err := node.LedgerGetBalance(alice)
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	if balance.Withdrawable.Cmp(big.NewInt(900)) != 0 || balance.Locked.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("post-lock balance = (%s, %s), want (900, 100)", balance.Withdrawable, balance.Locked)
	}

	winner := bob
	ttl := uint64(3_600)
	record, err := node.SettlementSettle(backend, nodeHash(0x10), big.NewInt(42), alice, &winner, big.NewInt(100), big.NewInt(200), settlement.OutcomeWin, &ttl)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if record.Outcome != settlement.OutcomeWin {
		t.Fatalf("record outcome = %s, want WIN", record.Outcome)
	}

	locked, err := node.LedgerGetLocked(alice)
	if err != nil || locked.Sign() != 0 {
		t.Fatalf("alice locked = %v (err=%v), want 0", locked, err)
	}
	won, err := node.LedgerGetWithdrawable(bob)
	if err != nil || won.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("bob withdrawable = %v (err=%v), want 200", won, err)
	}

	if !node.SettlementIsSettled(big.NewInt(42)) {
		t.Fatal("wager not reported settled")
	}
	if !node.SettlementIsOperationExecuted(nodeHash(0x10)) {
		t.Fatal("operation hash not reported executed")
	}

	// Replaying the same operation hash is rejected.
	if _, err := node.SettlementSettle(backend, nodeHash(0x10), big.NewInt(43), alice, &winner, big.NewInt(1), big.NewInt(2), settlement.OutcomeWin, &ttl); !errors.Is(err, idempotency.ErrDuplicateOperation) {
		t.Fatalf("expected duplicate operation, got %v", err)
	}
	// Re-settling the wager with a fresh hash is rejected permanently.
	if _, err := node.SettlementSettle(backend, nodeHash(0x11), big.NewInt(42), alice, &winner, big.NewInt(100), big.NewInt(200), settlement.OutcomeWin, &ttl); !errors.Is(err, settlement.ErrBetAlreadySettled) {
		t.Fatalf("expected bet already settled, got %v", err)
	}

	// Past the TTL the guard record can be reclaimed, but the wager stays
	// settled.
	*now += ttl + 1
	if !node.SettlementCleanupOperation(nodeHash(0x10)) {
		t.Fatal("cleanup did not reclaim the expired record")
	}
	if node.SettlementIsOperationExecuted(nodeHash(0x10)) {
		t.Fatal("operation still reported executed after cleanup")
	}
	if !node.SettlementIsSettled(big.NewInt(42)) {
		t.Fatal("wager unsettled after guard cleanup")
	}
}

func TestNodeLedgerMetricsAndTotals(t *testing.T) {
	node, _ := newTestNode(t)
	backend := nodeAddr(0x01)
	user := nodeAddr(0xCC)

	if err := node.LedgerInitialize(backend); err != nil {
		t.Fatalf("ledger initialize failed: %v", err)
	}
	if _, err := node.LedgerSetBalance(backend, user, big.NewInt(200), big.NewInt(75)); err != nil {
		t.Fatalf("set balance failed: %v", err)
	}

	total, err := node.LedgerGetTotal(user)
	if err != nil || total.Cmp(big.NewInt(275)) != 0 {
		t.Fatalf("total = %v (err=%v), want 275", total, err)
	}

	if _, err := node.LedgerApplyDelta(backend, user, big.NewInt(-25), big.NewInt(125)); err != nil {
		t.Fatalf("apply delta failed: %v", err)
	}
	balance, err := node.LedgerGetBalance(user)
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	if balance.Withdrawable.Cmp(big.NewInt(175)) != 0 || balance.Locked.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("balance = (%s, %s), want (175, 200)", balance.Withdrawable, balance.Locked)
	}

	if _, err := node.LedgerRecordMetrics(backend, user, big.NewInt(100), big.NewInt(0), big.NewInt(100)); err != nil {
		t.Fatalf("record metrics failed: %v", err)
	}
	if _, err := node.LedgerRecordMetrics(backend, user, big.NewInt(50), big.NewInt(75), big.NewInt(0)); err != nil {
		t.Fatalf("record metrics failed: %v", err)
	}
	metrics, err := node.LedgerGetMetrics(user)
	if err != nil {
		t.Fatalf("get metrics failed: %v", err)
	}
	if metrics.TotalStaked.Cmp(big.NewInt(150)) != 0 || metrics.TotalWon.Cmp(big.NewInt(75)) != 0 || metrics.TotalLost.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("metrics = (%s, %s, %s), want (150, 75, 100)", metrics.TotalStaked, metrics.TotalWon, metrics.TotalLost)
	}
}

func TestNodeRejectsUnauthorizedMutations(t *testing.T) {
	node, _ := newTestNode(t)
	backend := nodeAddr(0x01)
	intruder := nodeAddr(0x99)
	user := nodeAddr(0xDD)

	if err := node.LedgerInitialize(backend); err != nil {
		t.Fatalf("ledger initialize failed: %v", err)
	}
	if err := node.LedgerInitialize(backend); !errors.Is(err, ledger.ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}

	if _, err := node.LedgerSetBalance(intruder, user, big.NewInt(1), big.NewInt(0)); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := node.LedgerLock(intruder, user, big.NewInt(1)); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
