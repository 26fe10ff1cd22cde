package chain

var defaultChains = []ChainConfig{
	{
		ChainID:        1,
		Name:           "Ethereum",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		Color:          "#627EEA",
		Ecosystem:      EcosystemEVM,
		Features:       []Feature{FeatureSwap, FeatureGasless},
		RPCURL:         "https://eth.llamarpc.com",
		ExplorerURL:    "https://etherscan.io",
	},
	{
		ChainID:        10,
		Name:           "Optimism",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		Color:          "#FF0420",
		Ecosystem:      EcosystemEVM,
		Features:       []Feature{FeatureSwap, FeatureGasless},
		RPCURL:         "https://mainnet.optimism.io",
		ExplorerURL:    "https://optimistic.etherscan.io",
	},
	{
		ChainID:        56,
		Name:           "BNB Chain",
		NativeSymbol:   "BNB",
		NativeDecimals: 18,
		Color:          "#F3BA2F",
		Ecosystem:      EcosystemEVM,
		Features:       []Feature{FeatureSwap},
		RPCURL:         "https://bsc-dataseed.binance.org",
		ExplorerURL:    "https://bscscan.com",
	},
	{
		ChainID:        137,
		Name:           "Polygon",
		NativeSymbol:   "POL",
		NativeDecimals: 18,
		Color:          "#8247E5",
		Ecosystem:      EcosystemEVM,
		Features:       []Feature{FeatureSwap, FeatureGasless},
		RPCURL:         "https://polygon-rpc.com",
		ExplorerURL:    "https://polygonscan.com",
	},
	{
		ChainID:        8453,
		Name:           "Base",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		Color:          "#0052FF",
		Ecosystem:      EcosystemEVM,
		Features:       []Feature{FeatureSwap, FeatureGasless},
		RPCURL:         "https://mainnet.base.org",
		ExplorerURL:    "https://basescan.org",
	},
	{
		ChainID:        42161,
		Name:           "Arbitrum",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		Color:          "#28A0F0",
		Ecosystem:      EcosystemEVM,
		Features:       []Feature{FeatureSwap, FeatureGasless},
		RPCURL:         "https://arb1.arbitrum.io/rpc",
		ExplorerURL:    "https://arbiscan.io",
	},
	{
		ChainID:        43114,
		Name:           "Avalanche",
		NativeSymbol:   "AVAX",
		NativeDecimals: 18,
		Color:          "#E84142",
		Ecosystem:      EcosystemEVM,
		Features:       []Feature{FeatureSwap},
		RPCURL:         "https://api.avax.network/ext/bc/C/rpc",
		ExplorerURL:    "https://snowtrace.io",
	},
	{
		ChainID:        SolanaChainID,
		Name:           "Solana",
		NativeSymbol:   "SOL",
		NativeDecimals: 9,
		Color:          "#14F195",
		Ecosystem:      EcosystemSolana,
		Features:       []Feature{FeatureSwap},
		RPCURL:         "https://api.mainnet-beta.solana.com",
		ExplorerURL:    "https://solscan.io",
	},
}

// Default returns the built-in chain catalog
func Default() *Registry {
	return MustNewRegistry(defaultChains...)
}
