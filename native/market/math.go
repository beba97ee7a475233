package market

import "math/big"

var (
	wad         = mustBigInt("1000000000000000000")
	basisPoints = big.NewInt(10_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// WAD returns the fixed-point scalar (1e18 == 1.0).
func WAD() *big.Int { return new(big.Int).Set(wad) }

func mulWad(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, wad)
}

func divWad(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, wad)
	return numerator.Quo(numerator, b)
}

// bpsToWad converts basis points (10000 == 1.0) into WAD scale.
func bpsToWad(bps uint64) *big.Int {
	scaled := new(big.Int).Mul(new(big.Int).SetUint64(bps), wad)
	return scaled.Quo(scaled, basisPoints)
}

// pow10 returns 10^decimals, the unit scale of a token's native amounts.
func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// valueOf prices an amount of token units: price is WAD-scaled per whole
// token, the result is a WAD-scaled value.
func valueOf(amount, price *big.Int, decimals uint8) *big.Int {
	if amount == nil || price == nil {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, pow10(decimals))
}

// amountOf inverts valueOf: converts a WAD-scaled value into token units.
func amountOf(value, price *big.Int, decimals uint8) *big.Int {
	if value == nil || price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(value, pow10(decimals))
	return amount.Quo(amount, price)
}
