// Package curve implements the linear bonding-curve price integral in
// integer fixed-point arithmetic. All quantities are *big.Int: wei for
// ETH, 1e18 base units for tokens. Every rounding decision floors in the
// protocol's favor so the curve can never overpay a trader.
package curve

import (
	"errors"
	"math/big"

	"github.com/iono-such-things/headless-markets/internal/domain"
)

// Unit is one whole token in base units (1e18).
var Unit = big.NewInt(1_000_000_000_000_000_000)

var (
	// ErrDegenerateCurve is returned when both base price and slope are zero.
	ErrDegenerateCurve = errors.New("curve: base price and slope are both zero")

	// ErrNegativeSupply is returned when a sell delta exceeds current supply.
	ErrNegativeSupply = errors.New("curve: delta exceeds current supply")
)

var two = big.NewInt(2)

// PriceAt returns the spot price at the given supply, in wei per whole
// token: BasePrice + Slope*supply/Unit.
func PriceAt(p domain.CurveParams, supply *big.Int) *big.Int {
	price := new(big.Int).Mul(p.Slope, supply)
	price.Quo(price, Unit)
	return price.Add(price, p.BasePrice)
}

// CostFor returns the wei required to mint delta base units starting at
// the given supply: the price integral over [supply, supply+delta],
// rounded up so a quoted cost always covers the tokens.
func CostFor(p domain.CurveParams, supply, delta *big.Int) *big.Int {
	num := integralNumerator(p, supply, delta, false)
	return ceilDiv(num, denominator())
}

// BuyDelta returns the largest token delta (base units) purchasable with
// deposit wei starting at the given supply. Closed form: the positive
// root of slope*d^2 + 2*(base*Unit + slope*s)*d - 2*deposit*Unit^2 = 0,
// floored.
func BuyDelta(p domain.CurveParams, supply, deposit *big.Int) (*big.Int, error) {
	if p.BasePrice.Sign() == 0 && p.Slope.Sign() == 0 {
		return nil, ErrDegenerateCurve
	}

	if p.Slope.Sign() == 0 {
		// Flat curve: d = deposit*Unit/base.
		d := new(big.Int).Mul(deposit, Unit)
		return d.Quo(d, p.BasePrice), nil
	}

	// b = 2*(base*Unit + slope*supply)
	b := new(big.Int).Mul(p.BasePrice, Unit)
	b.Add(b, new(big.Int).Mul(p.Slope, supply))
	b.Mul(b, two)

	// disc = b^2 + 8*slope*deposit*Unit^2
	disc := new(big.Int).Mul(b, b)
	t := new(big.Int).Mul(p.Slope, deposit)
	t.Mul(t, Unit)
	t.Mul(t, Unit)
	t.Mul(t, big.NewInt(8))
	disc.Add(disc, t)

	// d = (sqrt(disc) - b) / (2*slope), floored. Sqrt floors, so the
	// result never exceeds the exact root.
	d := new(big.Int).Sqrt(disc)
	d.Sub(d, b)
	if d.Sign() < 0 {
		return new(big.Int), nil
	}
	return d.Quo(d, new(big.Int).Mul(two, p.Slope)), nil
}

// SellGross returns the gross wei refund for burning delta base units
// down from the given supply: the price integral over [supply-delta,
// supply], floored.
func SellGross(p domain.CurveParams, supply, delta *big.Int) (*big.Int, error) {
	if delta.Cmp(supply) > 0 {
		return nil, ErrNegativeSupply
	}
	num := integralNumerator(p, supply, delta, true)
	return num.Quo(num, denominator()), nil
}

// integralNumerator computes 2*Unit^2 times the price integral over a
// delta-wide band. For a buy the band is [supply, supply+delta]; for a
// sell it is [supply-delta, supply].
func integralNumerator(p domain.CurveParams, supply, delta *big.Int, downward bool) *big.Int {
	// 2*base*Unit*delta
	num := new(big.Int).Mul(p.BasePrice, Unit)
	num.Mul(num, delta)
	num.Mul(num, two)

	// slope*delta*(2*supply ± delta)
	band := new(big.Int).Mul(two, supply)
	if downward {
		band.Sub(band, delta)
	} else {
		band.Add(band, delta)
	}
	band.Mul(band, delta)
	band.Mul(band, p.Slope)

	return num.Add(num, band)
}

func denominator() *big.Int {
	d := new(big.Int).Mul(Unit, Unit)
	return d.Mul(d, two)
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
