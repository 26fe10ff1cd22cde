package types

import (
	"encoding/json"
	"math/big"
	"strings"
	"time"
)

// NativeTokenAddress is the sentinel address aggregators use for a chain's native asset.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// MaxSlippageBps is the largest slippage tolerance a quote request may carry (50%).
const MaxSlippageBps = 5000

// Mode selects how a swap settles
type Mode string

const (
	ModeStandard Mode = "standard" // Wallet signs and broadcasts the transaction
	ModeGasless  Mode = "gasless"  // Wallet signs typed data, relay broadcasts
)

// Token describes an asset tradable on one chain
type Token struct {
	Address  string `json:"address" yaml:"address"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Name     string `json:"name" yaml:"name"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
	LogoURI  string `json:"logoURI,omitempty" yaml:"logoURI,omitempty"`
}

// IsNative reports whether the token is the chain's native asset
func (t Token) IsNative() bool {
	return t.Address == "" || strings.EqualFold(t.Address, NativeTokenAddress)
}

// SameAs reports whether both tokens refer to the same asset
func (t Token) SameAs(other Token) bool {
	if t.IsNative() || other.IsNative() {
		return t.IsNative() && other.IsNative()
	}
	return SameAddress(t.Address, other.Address)
}

// SameAddress compares two account or token addresses. 0x hex addresses ignore case,
// anything else (base58 Solana keys) must match exactly.
func SameAddress(a, b string) bool {
	if isHexAddress(a) && isHexAddress(b) {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func isHexAddress(s string) bool {
	return len(s) > 2 && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"))
}

// QuoteRequest is one user intent to trade, expressed in base units
type QuoteRequest struct {
	ChainID     uint64 `json:"chainId"`
	SellToken   Token  `json:"sellToken"`
	BuyToken    Token  `json:"buyToken"`
	SellAmount  string `json:"sellAmount"` // Integer string in sell token base units
	SlippageBps int    `json:"slippageBps"`
	Taker       string `json:"taker,omitempty"`
	Mode        Mode   `json:"mode"`
}

// SellAmountInt parses SellAmount. ok is false when the amount is not a positive integer.
func (r QuoteRequest) SellAmountInt() (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(r.SellAmount), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

// Validate checks the request without touching the network
func (r QuoteRequest) Validate() error {
	if r.ChainID == 0 {
		return NewError(StepQuoting, CodeInvalidRequest, "chain id is required")
	}
	if _, ok := r.SellAmountInt(); !ok {
		return NewError(StepQuoting, CodeInvalidRequest, "sell amount must be a positive integer, got %q", r.SellAmount)
	}
	if r.SellToken.SameAs(r.BuyToken) {
		return NewError(StepQuoting, CodeInvalidRequest, "sell and buy token must differ")
	}
	if r.SlippageBps < 0 || r.SlippageBps > MaxSlippageBps {
		return NewError(StepQuoting, CodeInvalidRequest, "slippage must be between 0 and %d bps, got %d", MaxSlippageBps, r.SlippageBps)
	}
	switch r.Mode {
	case "", ModeStandard, ModeGasless:
	default:
		return NewError(StepQuoting, CodeInvalidRequest, "unknown mode %q", r.Mode)
	}
	return nil
}

// EffectiveMode returns the request mode, defaulting to standard
func (r QuoteRequest) EffectiveMode() Mode {
	if r.Mode == "" {
		return ModeStandard
	}
	return r.Mode
}

// Source is one liquidity venue contributing to a route
type Source struct {
	Name       string  `json:"name"`
	Proportion float64 `json:"proportion"`
}

// PayloadKind tells a wallet provider how to interpret a TxPayload
type PayloadKind string

const (
	PayloadEVMCall  PayloadKind = "evm_call"  // Contract call built by the aggregator
	PayloadSolanaTx PayloadKind = "solana_tx" // Base64 serialized, unsigned Solana transaction
	PayloadDeposit  PayloadKind = "deposit"   // Plain transfer to a deposit address
)

// TxPayload is the broadcastable part of an execution quote
type TxPayload struct {
	Kind         PayloadKind `json:"kind"`
	To           string      `json:"to,omitempty"`
	Data         string      `json:"data,omitempty"`
	Value        string      `json:"value,omitempty"`
	Gas          uint64      `json:"gas,omitempty"`
	GasPrice     string      `json:"gasPrice,omitempty"`
	SerializedTx string      `json:"serializedTx,omitempty"`

	// Deposit transfers
	Token  Token  `json:"token,omitempty"`
	Amount string `json:"amount,omitempty"`
	Memo   string `json:"memo,omitempty"`
}

// RawQuote is what an aggregator returns before fees are applied
type RawQuote struct {
	BuyAmount    string          `json:"buyAmount"`
	EstimatedGas uint64          `json:"estimatedGas"`
	GasPrice     string          `json:"gasPrice,omitempty"`
	Sources      []Source        `json:"sources"`
	PriceImpact  float64         `json:"priceImpact"`
	Transaction  *TxPayload      `json:"transaction,omitempty"`
	TypedData    json.RawMessage `json:"typedData,omitempty"`
}

// ImpactLevel buckets price impact for warnings. It never blocks execution.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// Quote is the priced, fee-adjusted result of one QuoteRequest. It is never mutated after publication.
type Quote struct {
	Request      QuoteRequest  `json:"request"`
	BuyAmount    *big.Int      `json:"buyAmount"`
	EstimatedGas uint64        `json:"estimatedGas"`
	GasPrice     *big.Int      `json:"gasPrice,omitempty"`
	Sources      []Source      `json:"sources"`
	PriceImpact  float64       `json:"priceImpact"`
	IssuedAt     time.Time     `json:"issuedAt"`
	TTL          time.Duration `json:"ttl"`

	PlatformFee     *big.Int    `json:"platformFee"`
	MinimumReceived *big.Int    `json:"minimumReceived"`
	NetworkFeeUSD   float64     `json:"networkFeeUsd"`
	Impact          ImpactLevel `json:"impact"`

	Transaction *TxPayload      `json:"transaction,omitempty"`
	TypedData   json.RawMessage `json:"typedData,omitempty"`

	// Seq and SessionEpoch tie the quote to the request and wallet session that produced it
	Seq          uint64 `json:"seq"`
	SessionEpoch uint64 `json:"sessionEpoch"`
}

// ExpiresAt returns the instant the quote stops being executable
func (q *Quote) ExpiresAt() time.Time {
	return q.IssuedAt.Add(q.TTL)
}

// Expired reports whether now is at or past the quote's expiry
func (q *Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt())
}

// Mode returns the settlement mode the quote was priced for
func (q *Quote) Mode() Mode {
	return q.Request.EffectiveMode()
}
