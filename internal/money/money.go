// Package money keeps ticket amounts exact. Prices are decimals in the
// event's currency; each payment rail converts at its own boundary.
package money

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// MinorUnitDecimals is the exponent of the minor unit (cents, paise) used by
// card gateways for two-decimal currencies.
const MinorUnitDecimals = 2

var (
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrFractionalAmount = errors.New("amount has more precision than the target unit")
	ErrAmountOverflow   = errors.New("amount does not fit the target unit")
)

// Total returns unit * quantity without any rounding.
func Total(unit decimal.Decimal, quantity int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(quantity)))
}

// ToBaseUnits shifts amount by decimals places and returns it as an integer.
// It refuses to round: an amount that cannot be represented exactly is an
// error, since silently dropping value is never right for a charge.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s with %d decimals", ErrFractionalAmount, amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// ToMinorUnits converts an amount to the gateway's minor currency unit.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	units, err := ToBaseUnits(amount, MinorUnitDecimals)
	if err != nil {
		return 0, err
	}
	if !units.IsInt64() {
		return 0, ErrAmountOverflow
	}
	return units.Int64(), nil
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}

// FromMinorUnits converts a gateway amount back to the event currency.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -MinorUnitDecimals)
}
