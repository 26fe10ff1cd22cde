// Package fees computes the platform fee, minimum received amount, network cost and
// price impact band of a raw aggregator quote. All functions are pure.
package fees

import (
	"fmt"
	"math/big"

	"chainswap/pkg/types"
)

// BpsDenominator is the number of basis points in 100%
const BpsDenominator = 10000

// MaxPlatformBps caps the platform fee at 10%
const MaxPlatformBps = 1000

// Impact band edges as ratios
const (
	MediumImpactThreshold = 0.01
	HighImpactThreshold   = 0.03
)

var bpsDenominator = big.NewInt(BpsDenominator)

// PlatformFee returns floor(buy * bps / 10000)
func PlatformFee(buy *big.Int, bps int) *big.Int {
	fee := new(big.Int).Mul(buy, big.NewInt(int64(bps)))
	return fee.Quo(fee, bpsDenominator)
}

// MinimumReceived returns floor((buy - fee) * (10000 - slippageBps) / 10000)
func MinimumReceived(buy, fee *big.Int, slippageBps int) *big.Int {
	net := new(big.Int).Sub(buy, fee)
	if net.Sign() <= 0 {
		return new(big.Int)
	}
	net.Mul(net, big.NewInt(int64(BpsDenominator-slippageBps)))
	return net.Quo(net, bpsDenominator)
}

// ClassifyImpact buckets a price impact ratio. Negative impact counts as low.
func ClassifyImpact(ratio float64) types.ImpactLevel {
	switch {
	case ratio > HighImpactThreshold:
		return types.ImpactHigh
	case ratio >= MediumImpactThreshold:
		return types.ImpactMedium
	default:
		return types.ImpactLow
	}
}

// NetworkFeeUSD estimates the USD cost of gas * gasPrice given the native asset's USD price
func NetworkFeeUSD(gas uint64, gasPrice *big.Int, nativeDecimals uint8, nativeUSD float64) float64 {
	if gas == 0 || gasPrice == nil || gasPrice.Sign() <= 0 || nativeUSD <= 0 {
		return 0
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(nativeDecimals)), nil)

	usd := new(big.Rat).SetFrac(cost, scale)
	usd.Mul(usd, new(big.Rat).SetFloat64(nativeUSD))
	f, _ := usd.Float64()
	return f
}

// Input is everything the calculator needs from one raw quote
type Input struct {
	BuyAmount      *big.Int
	EstimatedGas   uint64
	GasPrice       *big.Int
	SlippageBps    int
	PriceImpact    float64
	NativeDecimals uint8
	NativeUSD      float64 // Zero when no price is known
}

// Breakdown is the derived fee data attached to a published quote
type Breakdown struct {
	PlatformFee     *big.Int
	MinimumReceived *big.Int
	NetworkFeeUSD   float64
	Impact          types.ImpactLevel
}

// Calculator applies a fixed platform fee to raw quotes
type Calculator struct {
	platformBps int
}

// NewCalculator creates a calculator charging platformBps on the buy amount
func NewCalculator(platformBps int) (*Calculator, error) {
	if platformBps < 0 || platformBps > MaxPlatformBps {
		return nil, fmt.Errorf("platform fee must be between 0 and %d bps, got %d", MaxPlatformBps, platformBps)
	}
	return &Calculator{platformBps: platformBps}, nil
}

// PlatformBps returns the configured platform fee
func (c *Calculator) PlatformBps() int {
	return c.platformBps
}

// Apply derives the fee breakdown for one raw quote
func (c *Calculator) Apply(in Input) (Breakdown, error) {
	if in.BuyAmount == nil || in.BuyAmount.Sign() < 0 {
		return Breakdown{}, fmt.Errorf("buy amount must be a non-negative integer")
	}
	if in.SlippageBps < 0 || in.SlippageBps > types.MaxSlippageBps {
		return Breakdown{}, fmt.Errorf("slippage must be between 0 and %d bps, got %d", types.MaxSlippageBps, in.SlippageBps)
	}

	fee := PlatformFee(in.BuyAmount, c.platformBps)
	return Breakdown{
		PlatformFee:     fee,
		MinimumReceived: MinimumReceived(in.BuyAmount, fee, in.SlippageBps),
		NetworkFeeUSD:   NetworkFeeUSD(in.EstimatedGas, in.GasPrice, in.NativeDecimals, in.NativeUSD),
		Impact:          ClassifyImpact(in.PriceImpact),
	}, nil
}
