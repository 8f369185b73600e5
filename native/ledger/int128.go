package ledger

import "math/big"

// Balances and metrics are signed 128-bit quantities on the wire. Arithmetic
// is checked against these bounds and fails with ErrOverflow instead of
// wrapping.
var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func fitsInt128(v *big.Int) bool {
	if v == nil {
		return false
	}
	return v.Cmp(minInt128) >= 0 && v.Cmp(maxInt128) <= 0
}

func checkedAdd(a, b *big.Int) (*big.Int, error) {
	if !fitsInt128(a) || !fitsInt128(b) {
		return nil, ErrOverflow
	}
	sum := new(big.Int).Add(a, b)
	if !fitsInt128(sum) {
		return nil, ErrOverflow
	}
	return sum, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
