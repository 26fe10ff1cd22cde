package client

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"chainswap/pkg/chain"
	"chainswap/pkg/logging"
	"chainswap/pkg/types"
)

// Pricer is the aggregator capability the native price source needs
type Pricer interface {
	Price(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error)
}

// NativePriceSource prices a chain's native asset in USD by quoting one whole unit
// against the chain's stablecoin
type NativePriceSource struct {
	pricer   Pricer
	registry *chain.Registry
	prices   *cache.Cache
	logger   *zap.Logger
}

// NewNativePriceSource creates a price source caching results for ttl
func NewNativePriceSource(pricer Pricer, registry *chain.Registry, ttl time.Duration, logger *zap.Logger) *NativePriceSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &NativePriceSource{
		pricer:   pricer,
		registry: registry,
		prices:   cache.New(ttl, 2*ttl),
		logger:   logging.OrNop(logger).Named("native-price"),
	}
}

// NativeUSD returns the USD price of one whole native unit on the chain
func (s *NativePriceSource) NativeUSD(ctx context.Context, chainID uint64) (float64, error) {
	key := strconv.FormatUint(chainID, 10)
	if cached, ok := s.prices.Get(key); ok {
		return cached.(float64), nil
	}

	cfg, err := s.registry.Get(chainID)
	if err != nil {
		return 0, err
	}
	stable, ok := s.registry.StableToken(chainID)
	if !ok {
		return 0, fmt.Errorf("no stablecoin listed for chain %d", chainID)
	}

	oneUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.NativeDecimals)), nil)
	raw, err := s.pricer.Price(ctx, types.QuoteRequest{
		ChainID:    chainID,
		SellToken:  cfg.NativeToken(),
		BuyToken:   stable,
		SellAmount: oneUnit.String(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to price %s: %w", cfg.NativeSymbol, err)
	}

	buy, ok := new(big.Int).SetString(raw.BuyAmount, 10)
	if !ok {
		return 0, fmt.Errorf("invalid buy amount %q", raw.BuyAmount)
	}
	usd, _ := new(big.Rat).SetFrac(buy, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(stable.Decimals)), nil)).Float64()

	s.logger.Debug("Priced native asset", zap.Uint64("chainId", chainID), zap.Float64("usd", usd))
	s.prices.SetDefault(key, usd)
	return usd, nil
}
