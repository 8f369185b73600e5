package events

import (
	"encoding/hex"
	"math/big"

	"wagercore/core/types"
	"wagercore/crypto"
)

// TypeSettlementExecuted is emitted once per wager when its outcome has been
// realised and the corresponding funds moved.
const TypeSettlementExecuted = "settlement.executed"

// SettlementExecuted captures the full context of a completed settlement.
type SettlementExecuted struct {
	WagerID       *big.Int
	OperationHash [32]byte
	Outcome       string
	Bettor        [20]byte
	Winner        *[20]byte
	Stake         *big.Int
	Payout        *big.Int
	Timestamp     uint64
}

// EventType satisfies the Event interface.
func (SettlementExecuted) EventType() string { return TypeSettlementExecuted }

// Event converts the structured payload into a broadcastable event.
func (e SettlementExecuted) Event() *types.Event {
	attrs := map[string]string{
		"wagerId":       formatAmount(e.WagerID),
		"operationHash": hex.EncodeToString(e.OperationHash[:]),
		"outcome":       e.Outcome,
		"bettor":        crypto.MustNewAddress(crypto.WagerPrefix, e.Bettor[:]).String(),
		"stake":         formatAmount(e.Stake),
		"payout":        formatAmount(e.Payout),
		"timestamp":     uintToString(e.Timestamp),
	}
	if e.Winner != nil {
		attrs["winner"] = crypto.MustNewAddress(crypto.WagerPrefix, e.Winner[:]).String()
	}
	return &types.Event{Type: TypeSettlementExecuted, Attributes: attrs}
}
