package chain

import (
	"strings"

	"chainswap/pkg/types"
)

// Static per-chain lists of commonly traded tokens. The native asset is added by Tokens.
var staticTokens = map[uint64][]types.Token{
	1: {
		{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
		{Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Symbol: "WBTC", Name: "Wrapped BTC", Decimals: 8},
		{Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18},
	},
	10: {
		{Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
		{Address: "0x4200000000000000000000000000000000000042", Symbol: "OP", Name: "Optimism", Decimals: 18},
	},
	56: {
		{Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Symbol: "USDC", Name: "USD Coin", Decimals: 18},
		{Address: "0x55d398326f99059fF775485246999027B3197955", Symbol: "USDT", Name: "Tether USD", Decimals: 18},
		{Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Symbol: "WBNB", Name: "Wrapped BNB", Decimals: 18},
	},
	137: {
		{Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		{Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
	},
	8453: {
		{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
	},
	42161: {
		{Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		{Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
		{Address: "0x912CE59144191C1204E64559FE8253a0e49E6548", Symbol: "ARB", Name: "Arbitrum", Decimals: 18},
	},
	43114: {
		{Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", Symbol: "WAVAX", Name: "Wrapped AVAX", Decimals: 18},
	},
	SolanaChainID: {
		{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		{Address: "So11111111111111111111111111111111111111112", Symbol: "WSOL", Name: "Wrapped SOL", Decimals: 9},
		{Address: "JUPyiwrYJFskUPiHa7hkeR8VAtGYHBTyDPzNjVFh9wo", Symbol: "JUP", Name: "Jupiter", Decimals: 6},
	},
}

// Tokens returns the native asset followed by the static token list of the chain
func (r *Registry) Tokens(chainID uint64) ([]types.Token, error) {
	cfg, err := r.Get(chainID)
	if err != nil {
		return nil, err
	}
	list, ok := r.tokens[chainID]
	if !ok {
		list = staticTokens[chainID]
	}
	out := make([]types.Token, 0, len(list)+1)
	out = append(out, cfg.NativeToken())
	out = append(out, list...)
	return out, nil
}

// FindToken resolves a token on a chain by symbol or address
func (r *Registry) FindToken(chainID uint64, symbolOrAddress string) (types.Token, error) {
	tokens, err := r.Tokens(chainID)
	if err != nil {
		return types.Token{}, err
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, symbolOrAddress) || types.SameAddress(t.Address, symbolOrAddress) {
			return t, nil
		}
	}
	return types.Token{}, types.NewError("", types.CodeInvalidRequest, "token %q not listed on chain %d", symbolOrAddress, chainID)
}

// StableToken returns the USD stablecoin used to price the chain's native asset
func (r *Registry) StableToken(chainID uint64) (types.Token, bool) {
	t, err := r.FindToken(chainID, "USDC")
	if err != nil {
		return types.Token{}, false
	}
	return t, true
}
