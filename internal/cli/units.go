package cli

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// toBaseUnits converts a token amount such as "2000.5" to a base-unit
// integer string. With --raw the input is already in base units.
func toBaseUnits(amount string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("amount %q: %w", amount, err)
	}
	if d.Sign() <= 0 {
		return "", fmt.Errorf("amount %q must be positive", amount)
	}
	if rawUnits {
		decimals = 0
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return "", fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt().String(), nil
}

// fromBaseUnits renders a base-unit integer string as a token amount.
func fromBaseUnits(base string, decimals int32) string {
	n, ok := new(big.Int).SetString(base, 10)
	if !ok || rawUnits {
		return base
	}
	return decimal.NewFromBigInt(n, -decimals).String()
}
