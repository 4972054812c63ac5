package order

import "github.com/shopspring/decimal"

// priceSigFigs is the venue's significant figure limit on prices.
const priceSigFigs = 5

// RoundPrice applies the venue's significant-figure rounding. Integer parts
// longer than sigFigs are kept whole.
func RoundPrice(price decimal.Decimal, sigFigs int) decimal.Decimal {
	if sigFigs <= 0 || price.IsZero() {
		return price
	}

	abs := price.Abs()
	integerPart := abs.Truncate(0)

	if integerPart.IsPositive() {
		numIntegerDigits := len(integerPart.String())
		if numIntegerDigits >= sigFigs {
			return copySign(integerPart, price)
		}
		return copySign(abs.Round(int32(sigFigs-numIntegerDigits)), price)
	}

	// leading zeros after the decimal point do not count
	shift := int32(0)
	ten := decimal.NewFromInt(10)
	for abs.LessThan(decimal.NewFromInt(1)) {
		abs = abs.Mul(ten)
		shift++
	}
	return copySign(price.Abs().Round(shift+int32(sigFigs)-1), price)
}

func copySign(v, sign decimal.Decimal) decimal.Decimal {
	if sign.IsNegative() {
		return v.Neg()
	}
	return v
}
