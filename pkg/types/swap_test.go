package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testUSDC = Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
	testETH  = Token{Address: NativeTokenAddress, Symbol: "ETH", Decimals: 18}
)

func TestQuoteRequestValidate(t *testing.T) {
	valid := QuoteRequest{ChainID: 1, SellToken: testETH, BuyToken: testUSDC, SellAmount: "1000", SlippageBps: 100}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(r *QuoteRequest)
	}{
		{"zero amount", func(r *QuoteRequest) { r.SellAmount = "0" }},
		{"negative amount", func(r *QuoteRequest) { r.SellAmount = "-5" }},
		{"decimal amount", func(r *QuoteRequest) { r.SellAmount = "1.5" }},
		{"empty amount", func(r *QuoteRequest) { r.SellAmount = "" }},
		{"same token", func(r *QuoteRequest) { r.BuyToken = testETH }},
		{"same token different case", func(r *QuoteRequest) {
			r.SellToken = testUSDC
			r.BuyToken = Token{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"}
		}},
		{"slippage too high", func(r *QuoteRequest) { r.SlippageBps = 5001 }},
		{"negative slippage", func(r *QuoteRequest) { r.SlippageBps = -1 }},
		{"missing chain", func(r *QuoteRequest) { r.ChainID = 0 }},
		{"unknown mode", func(r *QuoteRequest) { r.Mode = "turbo" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
			assert.Equal(t, StepQuoting, StepOf(err))
		})
	}
}

func TestNativeSentinelAndEmptyAddressAreSameAsset(t *testing.T) {
	assert.True(t, Token{Symbol: "ETH"}.SameAs(testETH))
	assert.False(t, testETH.SameAs(testUSDC))
}

func TestSameAddress(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"hex ignores case", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", true},
		{"hex differs", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "0xdAC17F958D2ee523a2206206994597C13D831ec7", false},
		{"base58 exact", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", true},
		{"base58 is case sensitive", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "epjfwdd5aufqssqem2qn1xzybapc8g4weggkzwytdt1v", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameAddress(tt.a, tt.b))
		})
	}

	mint := Token{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC"}
	lowered := Token{Address: "epjfwdd5aufqssqem2qn1xzybapc8g4weggkzwytdt1v", Symbol: "USDC"}
	assert.False(t, mint.SameAs(lowered))
}

func TestQuoteExpiryBoundary(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := &Quote{IssuedAt: issued, TTL: 30 * time.Second}

	assert.False(t, q.Expired(issued.Add(29*time.Second)))
	assert.True(t, q.Expired(issued.Add(30*time.Second)))
	assert.True(t, q.Expired(issued.Add(31*time.Second)))
	assert.Equal(t, ModeStandard, q.Mode())
}
