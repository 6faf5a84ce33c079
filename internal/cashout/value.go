// Package cashout values token redemptions against a treasury using the
// two-coefficient bonding curve and rebuilds historical cash-out value series.
//
// All arithmetic on balances and coefficients is integer arithmetic in base
// units. Floating point only appears when callers convert for display.
package cashout

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MaxFee is the denominator of every fee percent.
	MaxFee = 1000
	// ProtocolFeePercent is the protocol fee taken from the treasury balance
	// before the curve is applied. It is not configurable per project.
	ProtocolFeePercent = 25
	// DefaultSecondaryFeePercent is the default fee taken from the reclaimed
	// amount.
	DefaultSecondaryFeePercent = 25
)

var (
	wad  = uint256.NewInt(1_000_000_000_000_000_000)
	wad2 = new(uint256.Int).Mul(wad, wad)

	bigWad  = wad.ToBig()
	bigWad2 = wad2.ToBig()
)

// Fees configures the fee applied to the reclaimed amount. The protocol fee on
// the balance is fixed at ProtocolFeePercent.
type Fees struct {
	SecondaryFeePercent uint64 `json:"secondaryFeePercent"`
}

// DefaultFees returns the fee configuration used when none is supplied.
func DefaultFees() Fees {
	return Fees{SecondaryFeePercent: DefaultSecondaryFeePercent}
}

func (f Fees) secondary() uint64 {
	if f.SecondaryFeePercent > MaxFee {
		return MaxFee
	}
	return f.SecondaryFeePercent
}

// ComputeCashOutValue returns the amount redeemable from balance under the
// curve reclaimable = a*net/1e18 + b*net^2/1e36, where net is the balance
// after the protocol fee, and the secondary fee is then taken from
// reclaimable. Nil or negative inputs count as zero.
func ComputeCashOutValue(balance, cashoutA, cashoutB *big.Int, fees Fees) *big.Int {
	balance, cashoutA, cashoutB = nonNegative(balance), nonNegative(cashoutA), nonNegative(cashoutB)
	if balance.Sign() == 0 || (cashoutA.Sign() == 0 && cashoutB.Sign() == 0) {
		return new(big.Int)
	}

	if v, ok := computeUint256(balance, cashoutA, cashoutB, fees); ok {
		return v.ToBig()
	}
	return computeBig(balance, cashoutA, cashoutB, fees)
}

// computeUint256 mirrors the on-chain maths. ok is false when any operand or
// intermediate does not fit in 256 bits.
func computeUint256(balance, cashoutA, cashoutB *big.Int, fees Fees) (*uint256.Int, bool) {
	bal, overflow := uint256.FromBig(balance)
	if overflow {
		return nil, false
	}
	a, overflow := uint256.FromBig(cashoutA)
	if overflow {
		return nil, false
	}
	b, overflow := uint256.FromBig(cashoutB)
	if overflow {
		return nil, false
	}

	net := applyFee(bal, ProtocolFeePercent)
	if net.IsZero() {
		return new(uint256.Int), true
	}

	linear, overflow := new(uint256.Int).MulDivOverflow(a, net, wad)
	if overflow {
		return nil, false
	}
	squared, overflow := new(uint256.Int).MulOverflow(net, net)
	if overflow {
		return nil, false
	}
	quadratic, overflow := new(uint256.Int).MulDivOverflow(b, squared, wad2)
	if overflow {
		return nil, false
	}
	reclaimable, overflow := new(uint256.Int).AddOverflow(linear, quadratic)
	if overflow {
		return nil, false
	}

	return applyFee(reclaimable, fees.secondary()), true
}

func computeBig(balance, cashoutA, cashoutB *big.Int, fees Fees) *big.Int {
	net := applyFeeBig(balance, ProtocolFeePercent)
	if net.Sign() == 0 {
		return net
	}

	linear := new(big.Int).Mul(cashoutA, net)
	linear.Quo(linear, bigWad)

	quadratic := new(big.Int).Mul(net, net)
	quadratic.Mul(quadratic, cashoutB)
	quadratic.Quo(quadratic, bigWad2)

	reclaimable := linear.Add(linear, quadratic)
	return applyFeeBig(reclaimable, fees.secondary())
}

// applyFee deducts floor(amount*percent/MaxFee) from amount.
func applyFee(amount *uint256.Int, percent uint64) *uint256.Int {
	if percent == 0 {
		return new(uint256.Int).Set(amount)
	}
	fee, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(percent), uint256.NewInt(MaxFee))
	return new(uint256.Int).Sub(amount, fee)
}

func applyFeeBig(amount *big.Int, percent uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(percent))
	fee.Quo(fee, big.NewInt(MaxFee))
	return new(big.Int).Sub(amount, fee)
}

func nonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}
