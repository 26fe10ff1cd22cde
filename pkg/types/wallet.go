package types

import (
	"math/big"
	"time"
)

// ProviderKind identifies a wallet provider
type ProviderKind string

const (
	ProviderMetaMask      ProviderKind = "metamask"
	ProviderWalletConnect ProviderKind = "walletconnect"
	ProviderCoinbase      ProviderKind = "coinbase"
	ProviderPhantom       ProviderKind = "phantom"
)

// ParseProviderKind converts user input into a ProviderKind
func ParseProviderKind(s string) (ProviderKind, bool) {
	switch ProviderKind(s) {
	case ProviderMetaMask, ProviderWalletConnect, ProviderCoinbase, ProviderPhantom:
		return ProviderKind(s), true
	}
	return "", false
}

// InstallURL is where a user can get the provider when it is missing
func (k ProviderKind) InstallURL() string {
	switch k {
	case ProviderMetaMask:
		return "https://metamask.io/download/"
	case ProviderWalletConnect:
		return "https://walletconnect.com/explorer"
	case ProviderCoinbase:
		return "https://www.coinbase.com/wallet/downloads"
	case ProviderPhantom:
		return "https://phantom.app/download"
	default:
		return ""
	}
}

// WalletAccount is the state of one connected wallet session.
// Address and ChainID are always set together.
type WalletAccount struct {
	Provider         ProviderKind `json:"provider"`
	Address          string       `json:"address"`
	ChainID          uint64       `json:"chainId"`
	NativeBalance    string       `json:"nativeBalance"` // Decimal string in whole native units
	NativeBalanceRaw *big.Int     `json:"-"`
	ConnectedAt      time.Time    `json:"connectedAt"`
}
