package settlement

import "math/big"

// Outcome names the resolution of a wager.
type Outcome string

const (
	OutcomeWin  Outcome = "WIN"
	OutcomeLoss Outcome = "LOSS"
	OutcomeDraw Outcome = "DRAW"
)

// Valid reports whether the outcome is one of the supported tags.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWin, OutcomeLoss, OutcomeDraw:
		return true
	default:
		return false
	}
}

// Record is the durable settlement record persisted exactly once per wager.
// Its existence doubles as the wager's "settled" flag, which is why it is
// never deleted: a wager must not settle twice even after the operation-hash
// replay guard has expired and been cleaned up.
type Record struct {
	WagerID   *big.Int
	Outcome   Outcome
	Bettor    [20]byte
	Winner    *[20]byte
	Payout    *big.Int
	Timestamp uint64
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.WagerID != nil {
		clone.WagerID = new(big.Int).Set(r.WagerID)
	}
	if r.Payout != nil {
		clone.Payout = new(big.Int).Set(r.Payout)
	}
	if r.Winner != nil {
		winner := *r.Winner
		clone.Winner = &winner
	}
	return &clone
}
