package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chainswap/pkg/chain"
	"chainswap/pkg/logging"
	"chainswap/pkg/metrics"
	"chainswap/pkg/types"
)

// ChangeKind names what changed in the session
type ChangeKind string

const (
	ChangeConnected    ChangeKind = "connected"
	ChangeAccount      ChangeKind = "account"
	ChangeChain        ChangeKind = "chain"
	ChangeDisconnected ChangeKind = "disconnected"
	ChangeBalance      ChangeKind = "balance"
)

// Change is delivered to OnChange listeners. Account is nil after a disconnect.
type Change struct {
	Kind    ChangeKind
	Epoch   uint64
	Account *types.WalletAccount
}

// Invalidates reports whether quotes and attempts tied to the previous epoch are void
func (c Change) Invalidates() bool {
	return c.Kind != ChangeBalance
}

// Session owns the connection to at most one provider at a time.
// Every account, chain or connection change bumps Epoch.
type Session struct {
	mu        sync.RWMutex
	registry  *chain.Registry
	providers map[types.ProviderKind]Provider

	provider    Provider
	account     *types.WalletAccount
	epoch       uint64
	unsubscribe func()
	warning     error

	listenersMu sync.Mutex
	listeners   map[int]func(Change)
	nextID      int

	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewSession creates a disconnected session over the given providers
func NewSession(registry *chain.Registry, logger *zap.Logger, recorder *metrics.Recorder, providers ...Provider) *Session {
	s := &Session{
		registry:  registry,
		providers: make(map[types.ProviderKind]Provider),
		listeners: make(map[int]func(Change)),
		logger:    logging.OrNop(logger).Named("wallet"),
		metrics:   recorder,
		now:       time.Now,
	}
	for _, p := range providers {
		s.Register(p)
	}
	return s
}

// Register makes a provider available to Connect, replacing any provider of the same kind
func (s *Session) Register(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.Kind()] = p
}

// Connect connects the wallet of the given kind. A different connected wallet is disconnected first.
func (s *Session) Connect(ctx context.Context, kind types.ProviderKind) (types.WalletAccount, error) {
	s.mu.RLock()
	p, ok := s.providers[kind]
	s.mu.RUnlock()
	if !ok || !p.Available() {
		return types.WalletAccount{}, types.NewError(types.StepConnecting, types.CodeProviderUnavailable,
			"%s wallet is not available, install it from %s", kind, kind.InstallURL())
	}

	s.Disconnect()

	var (
		accounts []string
		chainID  uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = p.RequestAccounts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		chainID, err = p.ChainID(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.WalletAccount{}, ClassifyError(types.StepConnecting, err, fmt.Sprintf("failed to connect %s", kind))
	}
	if len(accounts) == 0 {
		return types.WalletAccount{}, types.NewError(types.StepConnecting, types.CodeNotConnected, "%s returned no accounts", kind)
	}

	s.mu.Lock()
	s.provider = p
	s.account = &types.WalletAccount{
		Provider:    kind,
		Address:     accounts[0],
		ChainID:     chainID,
		ConnectedAt: s.now(),
	}
	s.epoch++
	s.warning = nil
	change := s.changeLocked(ChangeConnected)
	s.mu.Unlock()

	unsubscribe := p.Subscribe(func(ev Event) { s.handleEvent(p, ev) })
	s.mu.Lock()
	if s.provider == p {
		s.unsubscribe = unsubscribe
		unsubscribe = nil
	}
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	s.logger.Info("Wallet connected",
		zap.String("provider", string(kind)),
		zap.String("address", change.Account.Address),
		zap.Uint64("chainId", chainID))
	s.metrics.WalletEvent(string(ChangeConnected))
	s.notify(change)

	if err := s.RefreshBalance(ctx); err != nil {
		s.logger.Warn("Initial balance fetch failed", zap.Error(err))
	}

	acct, _ := s.Account()
	return acct, nil
}

// Disconnect drops the current provider. It is a no-op when nothing is connected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.account == nil {
		s.mu.Unlock()
		return
	}
	unsubscribe := s.clearLocked()
	change := s.changeLocked(ChangeDisconnected)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.logger.Info("Wallet disconnected")
	s.metrics.WalletEvent(string(ChangeDisconnected))
	s.notify(change)
}

func (s *Session) clearLocked() func() {
	unsubscribe := s.unsubscribe
	s.provider = nil
	s.account = nil
	s.unsubscribe = nil
	s.warning = nil
	s.epoch++
	return unsubscribe
}

// SwitchNetwork asks the provider to change chain. Chains the wallet does not know yet are added and
// the switch retried once. Providers that cannot switch succeed without doing anything.
func (s *Session) SwitchNetwork(ctx context.Context, chainID uint64) error {
	cfg, err := s.registry.Get(chainID)
	if err != nil {
		return types.WithStep(err, types.StepConnecting)
	}

	s.mu.RLock()
	p := s.provider
	current := uint64(0)
	if s.account != nil {
		current = s.account.ChainID
	}
	s.mu.RUnlock()
	if p == nil {
		return types.NewError(types.StepConnecting, types.CodeNotConnected, "no wallet connected")
	}
	if current == chainID {
		return nil
	}

	switcher, ok := p.(NetworkSwitcher)
	if !ok {
		s.logger.Debug("Provider cannot switch networks", zap.String("provider", string(p.Kind())))
		return nil
	}

	err = switcher.SwitchNetwork(ctx, chainID)
	if errors.Is(err, ErrUnknownChain) {
		s.logger.Info("Adding network to wallet", zap.Uint64("chainId", chainID), zap.String("name", cfg.Name))
		if addErr := switcher.AddNetwork(ctx, cfg); addErr != nil {
			return ClassifyError(types.StepConnecting, addErr, fmt.Sprintf("failed to add %s to the wallet", cfg.Name))
		}
		err = switcher.SwitchNetwork(ctx, chainID)
	}
	if err != nil {
		msg := fmt.Sprintf("failed to switch to %s", cfg.Name)
		if errors.Is(err, ErrUserRejected) {
			return types.WrapError(types.StepConnecting, types.CodeUserRejected, err, msg)
		}
		return types.WrapError(types.StepConnecting, types.CodeUnsupportedChain, err, msg)
	}

	s.applyChain(p, chainID)
	return nil
}

// RefreshBalance re-reads the native balance. A failure keeps the previous balance, is recorded as the
// session warning and returned, but never disconnects.
func (s *Session) RefreshBalance(ctx context.Context) error {
	s.mu.RLock()
	p := s.provider
	if s.account == nil {
		s.mu.RUnlock()
		return types.NewError(types.StepConnecting, types.CodeNotConnected, "no wallet connected")
	}
	address, chainID, epoch := s.account.Address, s.account.ChainID, s.epoch
	s.mu.RUnlock()

	balance, err := p.Balance(ctx, address)
	if err != nil {
		err = fmt.Errorf("failed to refresh balance: %w", err)
		s.logger.Warn("Balance refresh failed", zap.String("address", address), zap.Error(err))
		s.mu.Lock()
		if s.epoch == epoch {
			s.warning = err
		}
		s.mu.Unlock()
		return err
	}

	decimals := uint8(18)
	if cfg, err := s.registry.Get(chainID); err == nil {
		decimals = cfg.NativeDecimals
	}

	s.mu.Lock()
	if s.epoch != epoch || s.account == nil {
		s.mu.Unlock()
		return nil
	}
	s.account.NativeBalanceRaw = new(big.Int).Set(balance)
	s.account.NativeBalance = types.FormatUnits(balance, decimals)
	s.warning = nil
	change := s.changeLocked(ChangeBalance)
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// Account returns a copy of the connected account
func (s *Session) Account() (types.WalletAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return types.WalletAccount{}, false
	}
	return copyAccount(s.account), true
}

// Provider returns the connected provider
func (s *Session) Provider() (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider, s.provider != nil
}

// Snapshot returns the account, provider and epoch read together
func (s *Session) Snapshot() (types.WalletAccount, Provider, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return types.WalletAccount{}, nil, s.epoch, false
	}
	return copyAccount(s.account), s.provider, s.epoch, true
}

// Epoch returns the session generation
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Warning returns the last soft failure, cleared by the next successful refresh
func (s *Session) Warning() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warning
}

// OnChange registers fn for session changes and returns a function removing it.
// Listeners run on the goroutine that caused the change and must not block.
func (s *Session) OnChange(fn func(Change)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Session) handleEvent(p Provider, ev Event) {
	switch ev.Kind {
	case EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			s.dropProvider(p)
			return
		}
		s.applyAccount(p, ev.Accounts[0])
	case EventChainChanged:
		s.applyChain(p, ev.ChainID)
	case EventDisconnect:
		s.dropProvider(p)
	default:
		s.logger.Debug("Ignoring provider event", zap.String("kind", string(ev.Kind)))
	}
}

func (s *Session) applyAccount(p Provider, address string) {
	s.mu.Lock()
	if s.provider != p || s.account == nil || types.SameAddress(s.account.Address, address) {
		s.mu.Unlock()
		return
	}
	s.account.Address = address
	s.resetBalanceLocked()
	s.epoch++
	change := s.changeLocked(ChangeAccount)
	s.mu.Unlock()

	s.logger.Info("Wallet account changed", zap.String("address", address), zap.Uint64("epoch", change.Epoch))
	s.metrics.WalletEvent(string(ChangeAccount))
	s.notify(change)
}

func (s *Session) applyChain(p Provider, chainID uint64) {
	s.mu.Lock()
	if s.provider != p || s.account == nil || s.account.ChainID == chainID {
		s.mu.Unlock()
		return
	}
	s.account.ChainID = chainID
	s.resetBalanceLocked()
	s.epoch++
	change := s.changeLocked(ChangeChain)
	s.mu.Unlock()

	s.logger.Info("Wallet chain changed", zap.Uint64("chainId", chainID), zap.Uint64("epoch", change.Epoch))
	s.metrics.WalletEvent(string(ChangeChain))
	s.notify(change)
}

func (s *Session) dropProvider(p Provider) {
	s.mu.Lock()
	if s.provider != p || s.account == nil {
		s.mu.Unlock()
		return
	}
	unsubscribe := s.clearLocked()
	change := s.changeLocked(ChangeDisconnected)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.logger.Info("Wallet disconnected by provider", zap.String("provider", string(p.Kind())))
	s.metrics.WalletEvent(string(ChangeDisconnected))
	s.notify(change)
}

func (s *Session) resetBalanceLocked() {
	s.account.NativeBalance = ""
	s.account.NativeBalanceRaw = nil
}

func (s *Session) changeLocked(kind ChangeKind) Change {
	c := Change{Kind: kind, Epoch: s.epoch}
	if s.account != nil {
		acct := copyAccount(s.account)
		c.Account = &acct
	}
	return c
}

func (s *Session) notify(c Change) {
	s.listenersMu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func copyAccount(a *types.WalletAccount) types.WalletAccount {
	cp := *a
	if a.NativeBalanceRaw != nil {
		cp.NativeBalanceRaw = new(big.Int).Set(a.NativeBalanceRaw)
	}
	return cp
}

// ClassifyError maps an error returned by a provider adapter onto the error taxonomy.
// Unclassified failures are ProviderUnavailable while connecting and SubmissionFailed afterwards.
func ClassifyError(step types.Step, err error, message string) error {
	var classified *types.Error
	switch {
	case errors.As(err, &classified):
		return types.WithStep(err, step)
	case errors.Is(err, ErrUserRejected):
		return types.WrapError(step, types.CodeUserRejected, err, message)
	case errors.Is(err, ErrUnknownChain):
		return types.WrapError(step, types.CodeUnsupportedChain, err, message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", message, err)
	case step == types.StepConnecting:
		return types.WrapError(step, types.CodeProviderUnavailable, err, message)
	default:
		return types.WrapError(step, types.CodeSubmissionFailed, err, message)
	}
}
