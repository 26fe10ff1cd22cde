package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainswap/pkg/chain"
	"chainswap/pkg/types"
)

func TestParseSwapCommand(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"1 SOL to USDC", Command{Amount: "1", SellToken: "SOL", BuyToken: "USDC"}},
		{"swap 1.5 eth to usdc", Command{Amount: "1.5", SellToken: "ETH", BuyToken: "USDC"}},
		{"quote   100  USDC   TO   pol", Command{Amount: "100", SellToken: "USDC", BuyToken: "POL"}},
		{"2 matic to usdc.e", Command{Amount: "2", SellToken: "POL", BuyToken: "USDC"}},
		{".5 ETH to 0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Command{Amount: ".5", SellToken: "ETH", BuyToken: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSwapCommand(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseSwapCommandInvalid(t *testing.T) {
	for _, input := range []string{"", "ETH to USDC", "1 ETH USDC", "-1 ETH to USDC", "1 ETH to", "1e3 ETH to USDC"} {
		_, err := ParseSwapCommand(input)
		assert.Error(t, err, input)
	}
}

func TestCommandQuoteRequest(t *testing.T) {
	registry := chain.Default()

	c, err := ParseSwapCommand("1.5 USDC to ETH")
	require.NoError(t, err)

	req, err := c.QuoteRequest(registry, 8453, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(8453), req.ChainID)
	assert.Equal(t, "1500000", req.SellAmount)
	assert.Equal(t, "USDC", req.SellToken.Symbol)
	assert.True(t, req.BuyToken.IsNative())
	assert.Equal(t, 100, req.SlippageBps)
	assert.NoError(t, req.Validate())
}

func TestCommandQuoteRequestErrors(t *testing.T) {
	registry := chain.Default()

	_, err := (&Command{Amount: "1", SellToken: "DOGE", BuyToken: "ETH"}).QuoteRequest(registry, 8453, 100)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))
	assert.Equal(t, types.StepQuoting, types.StepOf(err))

	_, err = (&Command{Amount: "1.1234567", SellToken: "USDC", BuyToken: "ETH"}).QuoteRequest(registry, 8453, 100)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	_, err = (&Command{Amount: "1", SellToken: "ETH", BuyToken: "eth"}).QuoteRequest(registry, 8453, 100)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	_, err = (&Command{Amount: "1", SellToken: "USDC", BuyToken: "ETH"}).QuoteRequest(registry, 999, 100)
	assert.True(t, errors.Is(err, types.ErrUnsupportedChain))
}
