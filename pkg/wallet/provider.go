// Package wallet manages the connection to one signing wallet and exposes it to the quote engine
// and swap executor as a single session.
package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"chainswap/pkg/chain"
	"chainswap/pkg/types"
)

// Provider errors adapters return so the session can classify them
var (
	ErrUserRejected = errors.New("user rejected the request")
	ErrUnknownChain = errors.New("chain has not been added to the wallet")
)

// EventKind names a provider notification
type EventKind string

const (
	EventAccountsChanged EventKind = "accounts_changed"
	EventChainChanged    EventKind = "chain_changed"
	EventDisconnect      EventKind = "disconnect"
)

// Event is a notification pushed by a provider
type Event struct {
	Kind     EventKind
	Accounts []string // EventAccountsChanged, empty means the wallet locked
	ChainID  uint64   // EventChainChanged
}

// Provider is the capability set of a signing wallet
type Provider interface {
	Kind() types.ProviderKind
	Ecosystem() chain.Ecosystem

	// Available reports whether the wallet is installed and configured
	Available() bool

	RequestAccounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (uint64, error)

	// Balance returns the native balance of address in base units on the provider's current chain
	Balance(ctx context.Context, address string) (*big.Int, error)

	// SignAndSend signs and broadcasts a payload, returning the transaction hash
	SignAndSend(ctx context.Context, payload *types.TxPayload) (string, error)

	// SignMessage signs typed data (EIP-712 JSON on EVM, raw bytes on Solana)
	SignMessage(ctx context.Context, payload []byte) (string, error)

	// Subscribe registers fn for provider events and returns a function removing it
	Subscribe(fn func(Event)) (unsubscribe func())
}

// NetworkSwitcher is implemented by providers that can change chain on request
type NetworkSwitcher interface {
	SwitchNetwork(ctx context.Context, chainID uint64) error
	AddNetwork(ctx context.Context, cfg chain.ChainConfig) error
}

// TxStatusChecker is implemented by providers that can report a broadcast transaction's settlement
type TxStatusChecker interface {
	TxStatus(ctx context.Context, hash string) (*types.Settlement, error)
}

// SignRequest describes what a provider is about to sign, for approval prompts
type SignRequest struct {
	ChainID uint64
	Payload *types.TxPayload // Nil for message signatures
	Message []byte
}

// ApproveFunc asks the wallet owner to approve a signature. Returning false rejects it.
type ApproveFunc func(ctx context.Context, req SignRequest) bool

// eventHub fans provider events out to subscribers
type eventHub struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func (h *eventHub) subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(Event))
	}
	id := h.next
	h.next++
	h.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *eventHub) emit(ev Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
