package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"wagercore/native/idempotency"
	"wagercore/native/ledger"
	"wagercore/native/settlement"
	"wagercore/storage"
)

// Manager persists the accounting core's state in a key-value store. Keys are
// keccak256 hashes of human-readable prefixed identifiers; values are
// RLP-encoded records. It implements the state interfaces of all three native
// engines.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	ledgerSignerKey     = ethcrypto.Keccak256([]byte("ledger/backend-signer"))
	settlementSignerKey = ethcrypto.Keccak256([]byte("settlement/backend-signer"))
	balancePrefix       = []byte("ledger/balance:")
	metricsPrefix       = []byte("ledger/metrics:")
	operationPrefix     = []byte("idempotency/op:")
	settlementPrefix    = []byte("settlement/record:")
)

func balanceKey(user [20]byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(user))
	buf = append(buf, balancePrefix...)
	buf = append(buf, user[:]...)
	return ethcrypto.Keccak256(buf)
}

func metricsKey(user [20]byte) []byte {
	buf := make([]byte, 0, len(metricsPrefix)+len(user))
	buf = append(buf, metricsPrefix...)
	buf = append(buf, user[:]...)
	return ethcrypto.Keccak256(buf)
}

func operationKey(scope idempotency.Scope, hash [32]byte) []byte {
	buf := make([]byte, 0, len(operationPrefix)+len(scope)+1+len(hash))
	buf = append(buf, operationPrefix...)
	buf = append(buf, scope...)
	buf = append(buf, ':')
	buf = append(buf, hash[:]...)
	return ethcrypto.Keccak256(buf)
}

func settlementKey(wagerID *big.Int) ([]byte, error) {
	if wagerID == nil || wagerID.Sign() < 0 || wagerID.BitLen() > 256 {
		return nil, fmt.Errorf("state: invalid wager id")
	}
	id := make([]byte, 32)
	wagerID.FillBytes(id)
	buf := make([]byte, 0, len(settlementPrefix)+len(id))
	buf = append(buf, settlementPrefix...)
	buf = append(buf, id...)
	return ethcrypto.Keccak256(buf), nil
}

func (m *Manager) readSigner(key []byte) ([20]byte, bool, error) {
	var addr [20]byte
	data, err := m.db.Get(key)
	if err == storage.ErrNotFound {
		return addr, false, nil
	}
	if err != nil {
		return addr, false, err
	}
	if len(data) != len(addr) {
		return addr, false, fmt.Errorf("state: malformed signer record")
	}
	copy(addr[:], data)
	return addr, true, nil
}

// LedgerBackendSigner returns the backend identity authorised to mutate
// ledger state, if one has been configured.
func (m *Manager) LedgerBackendSigner() ([20]byte, bool, error) {
	return m.readSigner(ledgerSignerKey)
}

// LedgerSetBackendSigner stores the ledger backend identity.
func (m *Manager) LedgerSetBackendSigner(addr [20]byte) error {
	return m.db.Put(ledgerSignerKey, addr[:])
}

// SettlementBackendSigner returns the backend identity authorised to settle
// wagers, if one has been configured.
func (m *Manager) SettlementBackendSigner() ([20]byte, bool, error) {
	return m.readSigner(settlementSignerKey)
}

// SettlementSetBackendSigner stores the settlement backend identity.
func (m *Manager) SettlementSetBackendSigner(addr [20]byte) error {
	return m.db.Put(settlementSignerKey, addr[:])
}

type storedBalance struct {
	Withdrawable *big.Int
	Locked       *big.Int
}

// BalanceGet loads the user's balance. A missing record decodes as nil so the
// ledger engine can default to a zero-valued snapshot.
func (m *Manager) BalanceGet(user [20]byte) (*ledger.UserBalance, error) {
	data, err := m.db.Get(balanceKey(user))
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedBalance)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode balance: %w", err)
	}
	return &ledger.UserBalance{Withdrawable: stored.Withdrawable, Locked: stored.Locked}, nil
}

// BalancePut persists the user's balance snapshot.
func (m *Manager) BalancePut(user [20]byte, balance *ledger.UserBalance) error {
	if balance == nil {
		return fmt.Errorf("state: nil balance")
	}
	encoded, err := rlp.EncodeToBytes(&storedBalance{
		Withdrawable: balance.Withdrawable,
		Locked:       balance.Locked,
	})
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(user), encoded)
}

type storedMetrics struct {
	TotalStaked *big.Int
	TotalWon    *big.Int
	TotalLost   *big.Int
}

// MetricsGet loads the user's cumulative counters, nil when absent.
func (m *Manager) MetricsGet(user [20]byte) (*ledger.UserMetrics, error) {
	data, err := m.db.Get(metricsKey(user))
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedMetrics)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode metrics: %w", err)
	}
	return &ledger.UserMetrics{
		TotalStaked: stored.TotalStaked,
		TotalWon:    stored.TotalWon,
		TotalLost:   stored.TotalLost,
	}, nil
}

// MetricsPut persists the user's cumulative counters.
func (m *Manager) MetricsPut(user [20]byte, metrics *ledger.UserMetrics) error {
	if metrics == nil {
		return fmt.Errorf("state: nil metrics")
	}
	encoded, err := rlp.EncodeToBytes(&storedMetrics{
		TotalStaked: metrics.TotalStaked,
		TotalWon:    metrics.TotalWon,
		TotalLost:   metrics.TotalLost,
	})
	if err != nil {
		return err
	}
	return m.db.Put(metricsKey(user), encoded)
}

type storedOperation struct {
	ExecutedAt uint64
	HasTTL     bool
	TTL        uint64
}

// OperationGet loads the replay-guard record for (scope, hash).
func (m *Manager) OperationGet(scope idempotency.Scope, hash [32]byte) (*idempotency.Record, bool, error) {
	data, err := m.db.Get(operationKey(scope, hash))
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored := new(storedOperation)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode operation record: %w", err)
	}
	record := &idempotency.Record{ExecutedAt: stored.ExecutedAt}
	if stored.HasTTL {
		ttl := stored.TTL
		record.TTL = &ttl
	}
	return record, true, nil
}

// OperationPut persists the replay-guard record for (scope, hash).
func (m *Manager) OperationPut(scope idempotency.Scope, hash [32]byte, record *idempotency.Record) error {
	if record == nil {
		return fmt.Errorf("state: nil operation record")
	}
	stored := &storedOperation{ExecutedAt: record.ExecutedAt}
	if record.TTL != nil {
		stored.HasTTL = true
		stored.TTL = *record.TTL
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(operationKey(scope, hash), encoded)
}

// OperationDelete removes the replay-guard record for (scope, hash).
func (m *Manager) OperationDelete(scope idempotency.Scope, hash [32]byte) error {
	return m.db.Delete(operationKey(scope, hash))
}

type storedSettlement struct {
	WagerID   *big.Int
	Outcome   string
	Bettor    [20]byte
	HasWinner bool
	Winner    [20]byte
	Payout    *big.Int
	Timestamp uint64
}

// SettlementRecordGet loads the settlement record for the wager.
func (m *Manager) SettlementRecordGet(wagerID *big.Int) (*settlement.Record, bool, error) {
	key, err := settlementKey(wagerID)
	if err != nil {
		return nil, false, err
	}
	data, err := m.db.Get(key)
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored := new(storedSettlement)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode settlement record: %w", err)
	}
	record := &settlement.Record{
		WagerID:   stored.WagerID,
		Outcome:   settlement.Outcome(stored.Outcome),
		Bettor:    stored.Bettor,
		Payout:    stored.Payout,
		Timestamp: stored.Timestamp,
	}
	if stored.HasWinner {
		winner := stored.Winner
		record.Winner = &winner
	}
	return record, true, nil
}

// SettlementRecordPut persists the settlement record keyed by wager identity.
func (m *Manager) SettlementRecordPut(record *settlement.Record) error {
	if record == nil {
		return fmt.Errorf("state: nil settlement record")
	}
	key, err := settlementKey(record.WagerID)
	if err != nil {
		return err
	}
	stored := &storedSettlement{
		WagerID:   record.WagerID,
		Outcome:   string(record.Outcome),
		Bettor:    record.Bettor,
		Payout:    record.Payout,
		Timestamp: record.Timestamp,
	}
	if record.Winner != nil {
		stored.HasWinner = true
		stored.Winner = *record.Winner
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}
