package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"wagercore/crypto"
)

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func parseAddress(field, value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("%s is required", field)
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid %s: %w", field, err)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// parseAmount accepts a base-10 signed integer string. Amounts travel as
// strings on the wire so 128-bit values survive JSON number precision.
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: not a base-10 integer", field)
	}
	return amount, nil
}

func parseHash32(field, value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid %s: %w", field, err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("invalid %s: expected 32 bytes, got %d", field, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// parseWagerID accepts a non-negative base-10 integer of at most 256 bits.
func parseWagerID(value string) (*big.Int, error) {
	id, err := parseAmount("wagerId", value)
	if err != nil {
		return nil, err
	}
	if id.Sign() < 0 || id.BitLen() > 256 {
		return nil, fmt.Errorf("invalid wagerId: out of range")
	}
	return id, nil
}

func formatAddress(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.WagerPrefix, addr[:]).String()
}
