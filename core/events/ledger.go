package events

import (
	"math/big"

	"wagercore/core/types"
	"wagercore/crypto"
)

const (
	// TypeBalanceUpdated is emitted after every successful balance mutation
	// and carries the full before/after snapshot.
	TypeBalanceUpdated = "ledger.balanceUpdated"
	// TypeMetricsUpdated is emitted after a cumulative metrics update and
	// carries the applied deltas alongside the resulting totals.
	TypeMetricsUpdated = "ledger.metricsUpdated"
)

// BalanceUpdated captures the before/after state of a user balance mutation.
type BalanceUpdated struct {
	User             [20]byte
	PrevWithdrawable *big.Int
	PrevLocked       *big.Int
	Withdrawable     *big.Int
	Locked           *big.Int
}

// EventType satisfies the Event interface.
func (BalanceUpdated) EventType() string { return TypeBalanceUpdated }

// Event converts the structured payload into a broadcastable event.
func (e BalanceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBalanceUpdated,
		Attributes: map[string]string{
			"user":             crypto.MustNewAddress(crypto.WagerPrefix, e.User[:]).String(),
			"prevWithdrawable": formatAmount(e.PrevWithdrawable),
			"prevLocked":       formatAmount(e.PrevLocked),
			"withdrawable":     formatAmount(e.Withdrawable),
			"locked":           formatAmount(e.Locked),
		},
	}
}

// MetricsUpdated captures a cumulative win/loss/stake metrics update.
type MetricsUpdated struct {
	User        [20]byte
	StakedDelta *big.Int
	WonDelta    *big.Int
	LostDelta   *big.Int
	TotalStaked *big.Int
	TotalWon    *big.Int
	TotalLost   *big.Int
}

// EventType satisfies the Event interface.
func (MetricsUpdated) EventType() string { return TypeMetricsUpdated }

// Event converts the structured payload into a broadcastable event.
func (e MetricsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeMetricsUpdated,
		Attributes: map[string]string{
			"user":        crypto.MustNewAddress(crypto.WagerPrefix, e.User[:]).String(),
			"stakedDelta": formatAmount(e.StakedDelta),
			"wonDelta":    formatAmount(e.WonDelta),
			"lostDelta":   formatAmount(e.LostDelta),
			"totalStaked": formatAmount(e.TotalStaked),
			"totalWon":    formatAmount(e.TotalWon),
			"totalLost":   formatAmount(e.TotalLost),
		},
	}
}
