package fees

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainswap/pkg/types"
)

func TestApplyScenario(t *testing.T) {
	calc, err := NewCalculator(50)
	require.NoError(t, err)

	out, err := calc.Apply(Input{BuyAmount: big.NewInt(1_000_000), SlippageBps: 100})
	require.NoError(t, err)

	assert.Equal(t, "5000", out.PlatformFee.String())
	assert.Equal(t, "985050", out.MinimumReceived.String())
	assert.Equal(t, types.ImpactLow, out.Impact)
	assert.Zero(t, out.NetworkFeeUSD)
}

func TestPlatformFeeFloors(t *testing.T) {
	tests := []struct {
		buy  int64
		bps  int
		want int64
	}{
		{buy: 0, bps: 50, want: 0},
		{buy: 199, bps: 50, want: 0},
		{buy: 200, bps: 50, want: 1},
		{buy: 12345, bps: 30, want: 37},
		{buy: 1_000_000, bps: 0, want: 0},
		{buy: 1_000_000, bps: 1000, want: 100_000},
	}
	for _, tt := range tests {
		got := PlatformFee(big.NewInt(tt.buy), tt.bps)
		assert.Equal(t, tt.want, got.Int64(), "buy=%d bps=%d", tt.buy, tt.bps)
	}
}

func TestMinimumReceivedNeverExceedsNetAmount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		buy := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 96))
		bps := rng.Intn(MaxPlatformBps + 1)
		slip := rng.Intn(types.MaxSlippageBps + 1)

		fee := PlatformFee(buy, bps)
		expected := new(big.Int).Quo(new(big.Int).Mul(buy, big.NewInt(int64(bps))), big.NewInt(BpsDenominator))
		require.Zero(t, fee.Cmp(expected))

		net := new(big.Int).Sub(buy, fee)
		minOut := MinimumReceived(buy, fee, slip)
		require.LessOrEqual(t, minOut.Cmp(net), 0, "buy=%s fee=%s slip=%d", buy, fee, slip)
		require.GreaterOrEqual(t, minOut.Sign(), 0)
	}
}

func TestMinimumReceivedZeroSlippage(t *testing.T) {
	minOut := MinimumReceived(big.NewInt(1000), big.NewInt(5), 0)
	assert.Equal(t, int64(995), minOut.Int64())
}

func TestClassifyImpact(t *testing.T) {
	assert.Equal(t, types.ImpactLow, ClassifyImpact(-0.02))
	assert.Equal(t, types.ImpactLow, ClassifyImpact(0.0099))
	assert.Equal(t, types.ImpactMedium, ClassifyImpact(0.01))
	assert.Equal(t, types.ImpactMedium, ClassifyImpact(0.03))
	assert.Equal(t, types.ImpactHigh, ClassifyImpact(0.0301))
}

func TestNetworkFeeUSD(t *testing.T) {
	// 21000 gas at 20 gwei = 0.00042 ETH; at $2500 that is $1.05
	got := NetworkFeeUSD(21000, big.NewInt(20_000_000_000), 18, 2500)
	assert.InDelta(t, 1.05, got, 1e-9)

	assert.Zero(t, NetworkFeeUSD(21000, nil, 18, 2500))
	assert.Zero(t, NetworkFeeUSD(21000, big.NewInt(1), 18, 0))
}

func TestCalculatorValidation(t *testing.T) {
	_, err := NewCalculator(-1)
	assert.Error(t, err)
	_, err = NewCalculator(MaxPlatformBps + 1)
	assert.Error(t, err)

	calc, err := NewCalculator(50)
	require.NoError(t, err)
	_, err = calc.Apply(Input{BuyAmount: big.NewInt(-1)})
	assert.Error(t, err)
	_, err = calc.Apply(Input{BuyAmount: big.NewInt(1), SlippageBps: 5001})
	assert.Error(t, err)
}

func TestApplyIsDeterministic(t *testing.T) {
	calc, err := NewCalculator(25)
	require.NoError(t, err)
	in := Input{
		BuyAmount:      big.NewInt(987_654_321),
		EstimatedGas:   150_000,
		GasPrice:       big.NewInt(3_000_000_000),
		SlippageBps:    50,
		PriceImpact:    0.02,
		NativeDecimals: 18,
		NativeUSD:      3000,
	}
	a, err := calc.Apply(in)
	require.NoError(t, err)
	b, err := calc.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, types.ImpactMedium, a.Impact)
}
