package ledger

import "math/big"

// UserBalance is the two-bucket balance of a single user: spendable funds and
// funds escrowed against open wagers. Both buckets are non-negative at all
// times.
type UserBalance struct {
	Withdrawable *big.Int
	Locked       *big.Int
}

// Clone returns a deep copy of the balance so callers can safely mutate the
// copy without affecting the stored instance.
func (b *UserBalance) Clone() *UserBalance {
	if b == nil {
		return nil
	}
	return &UserBalance{
		Withdrawable: cloneBigInt(b.Withdrawable),
		Locked:       cloneBigInt(b.Locked),
	}
}

func zeroBalance() *UserBalance {
	return &UserBalance{Withdrawable: big.NewInt(0), Locked: big.NewInt(0)}
}

func ensureBalance(b *UserBalance) *UserBalance {
	if b == nil {
		return zeroBalance()
	}
	if b.Withdrawable == nil {
		b.Withdrawable = big.NewInt(0)
	}
	if b.Locked == nil {
		b.Locked = big.NewInt(0)
	}
	return b
}

// UserMetrics tracks cumulative wagering totals for a user. Each counter is
// monotonic and grows only by non-negative deltas.
type UserMetrics struct {
	TotalStaked *big.Int
	TotalWon    *big.Int
	TotalLost   *big.Int
}

// Clone returns a deep copy of the metrics.
func (m *UserMetrics) Clone() *UserMetrics {
	if m == nil {
		return nil
	}
	return &UserMetrics{
		TotalStaked: cloneBigInt(m.TotalStaked),
		TotalWon:    cloneBigInt(m.TotalWon),
		TotalLost:   cloneBigInt(m.TotalLost),
	}
}

func zeroMetrics() *UserMetrics {
	return &UserMetrics{TotalStaked: big.NewInt(0), TotalWon: big.NewInt(0), TotalLost: big.NewInt(0)}
}

func ensureMetrics(m *UserMetrics) *UserMetrics {
	if m == nil {
		return zeroMetrics()
	}
	if m.TotalStaked == nil {
		m.TotalStaked = big.NewInt(0)
	}
	if m.TotalWon == nil {
		m.TotalWon = big.NewInt(0)
	}
	if m.TotalLost == nil {
		m.TotalLost = big.NewInt(0)
	}
	return m
}
