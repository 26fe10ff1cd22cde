// Package chain holds the static catalog of chains the swap core can quote and settle on.
package chain

import (
	"fmt"
	"strconv"
	"strings"

	"chainswap/pkg/types"
)

// Feature is a capability a chain may support
type Feature string

const (
	FeatureSwap    Feature = "swap"
	FeatureGasless Feature = "gasless"
)

// Ecosystem groups chains by wallet/provider family
type Ecosystem string

const (
	EcosystemEVM    Ecosystem = "evm"
	EcosystemSolana Ecosystem = "solana"
)

// SolanaChainID is the numeric id aggregators and relays use for Solana mainnet
const SolanaChainID uint64 = 792703809

// ChainConfig describes one supported chain. Values are immutable once registered.
type ChainConfig struct {
	ChainID        uint64    `yaml:"chainId"`
	Name           string    `yaml:"name"`
	NativeSymbol   string    `yaml:"nativeSymbol"`
	NativeDecimals uint8     `yaml:"nativeDecimals"`
	Color          string    `yaml:"color"`
	Ecosystem      Ecosystem `yaml:"ecosystem"`
	Features       []Feature `yaml:"features"`
	RPCURL         string    `yaml:"rpcUrl"`
	ExplorerURL    string    `yaml:"explorerUrl"`
}

// Supports reports whether the chain has the feature
func (c ChainConfig) Supports(f Feature) bool {
	for _, have := range c.Features {
		if have == f {
			return true
		}
	}
	return false
}

// NativeToken returns the chain's native asset as a Token
func (c ChainConfig) NativeToken() types.Token {
	return types.Token{
		Address:  types.NativeTokenAddress,
		Symbol:   c.NativeSymbol,
		Name:     c.NativeSymbol,
		Decimals: c.NativeDecimals,
	}
}

// TxURL links a transaction hash on the chain's explorer
func (c ChainConfig) TxURL(hash string) string {
	if c.ExplorerURL == "" || hash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", c.ExplorerURL, hash)
}

func (c ChainConfig) clone() ChainConfig {
	c.Features = append([]Feature(nil), c.Features...)
	return c
}

// Registry is a read-only catalog of chains, ordered by registration
type Registry struct {
	order  []uint64
	byID   map[uint64]ChainConfig
	tokens map[uint64][]types.Token
}

// NewRegistry builds a registry from chain configs, rejecting duplicates
func NewRegistry(configs ...ChainConfig) (*Registry, error) {
	r := &Registry{
		order: make([]uint64, 0, len(configs)),
		byID:  make(map[uint64]ChainConfig, len(configs)),
	}
	for _, cfg := range configs {
		if cfg.ChainID == 0 {
			return nil, fmt.Errorf("chain %q has no chain id", cfg.Name)
		}
		if _, exists := r.byID[cfg.ChainID]; exists {
			return nil, fmt.Errorf("chain id %d registered twice", cfg.ChainID)
		}
		if cfg.Ecosystem == "" {
			cfg.Ecosystem = EcosystemEVM
		}
		r.order = append(r.order, cfg.ChainID)
		r.byID[cfg.ChainID] = cfg.clone()
	}
	return r, nil
}

// MustNewRegistry is NewRegistry for static catalogs known to be valid
func MustNewRegistry(configs ...ChainConfig) *Registry {
	r, err := NewRegistry(configs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the chain with the given id
func (r *Registry) Get(chainID uint64) (ChainConfig, error) {
	cfg, ok := r.byID[chainID]
	if !ok {
		return ChainConfig{}, types.NewError("", types.CodeUnsupportedChain, "chain %d is not supported", chainID)
	}
	return cfg.clone(), nil
}

// ListWithFeature returns chains supporting f in registration order
func (r *Registry) ListWithFeature(f Feature) []ChainConfig {
	out := make([]ChainConfig, 0, len(r.order))
	for _, id := range r.order {
		if cfg := r.byID[id]; cfg.Supports(f) {
			out = append(out, cfg.clone())
		}
	}
	return out
}

// All returns every registered chain in registration order
func (r *Registry) All() []ChainConfig {
	out := make([]ChainConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// Lookup resolves a chain by id or case-insensitive name
func (r *Registry) Lookup(nameOrID string) (ChainConfig, error) {
	if id, err := strconv.ParseUint(nameOrID, 10, 64); err == nil {
		return r.Get(id)
	}
	for _, cid := range r.order {
		cfg := r.byID[cid]
		if strings.EqualFold(cfg.Name, nameOrID) {
			return cfg.clone(), nil
		}
	}
	return ChainConfig{}, types.NewError("", types.CodeUnsupportedChain, "chain %q is not supported", nameOrID)
}
