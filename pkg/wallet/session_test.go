package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainswap/pkg/chain"
	"chainswap/pkg/metrics"
	"chainswap/pkg/types"
)

type fakeProvider struct {
	mu          sync.Mutex
	kind        types.ProviderKind
	ecosystem   chain.Ecosystem
	available   bool
	accounts    []string
	accountsErr error
	chainID     uint64
	balance     *big.Int
	balanceErr  error
	known       map[uint64]bool
	switchErr   error
	switchCalls int
	added       []uint64
	events      eventHub
}

func newFakeProvider(kind types.ProviderKind, address string, chainID uint64) *fakeProvider {
	return &fakeProvider{
		kind:      kind,
		ecosystem: chain.EcosystemEVM,
		available: true,
		accounts:  []string{address},
		chainID:   chainID,
		balance:   big.NewInt(0),
		known:     map[uint64]bool{chainID: true},
	}
}

func (f *fakeProvider) Kind() types.ProviderKind { return f.kind }

func (f *fakeProvider) Ecosystem() chain.Ecosystem { return f.ecosystem }

func (f *fakeProvider) Available() bool { return f.available }

func (f *fakeProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, f.accountsErr
}

func (f *fakeProvider) ChainID(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chainID, nil
}

func (f *fakeProvider) Balance(ctx context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeProvider) SignAndSend(ctx context.Context, payload *types.TxPayload) (string, error) {
	return "0xhash", nil
}

func (f *fakeProvider) SignMessage(ctx context.Context, payload []byte) (string, error) {
	return "0xsig", nil
}

func (f *fakeProvider) Subscribe(fn func(Event)) func() { return f.events.subscribe(fn) }

func (f *fakeProvider) SwitchNetwork(ctx context.Context, chainID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchCalls++
	if f.switchErr != nil {
		return f.switchErr
	}
	if !f.known[chainID] {
		return ErrUnknownChain
	}
	f.chainID = chainID
	return nil
}

func (f *fakeProvider) AddNetwork(ctx context.Context, cfg chain.ChainConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[cfg.ChainID] = true
	f.added = append(f.added, cfg.ChainID)
	return nil
}

// fixedProvider hides the NetworkSwitcher methods of the wrapped provider
type fixedProvider struct {
	Provider
}

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) record(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) kinds() []ChangeKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ChangeKind
	for _, c := range l.changes {
		out = append(out, c.Kind)
	}
	return out
}

const (
	alice = "0x00000000000000000000000000000000000a11ce"
	bob   = "0x0000000000000000000000000000000000000b0b"
)

func newTestSession(providers ...Provider) (*Session, *changeLog) {
	s := NewSession(chain.Default(), nil, metrics.NewRecorder(), providers...)
	log := &changeLog{}
	s.OnChange(log.record)
	return s, log
}

func TestConnectUnavailableProvider(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	p.available = false
	s, _ := newTestSession(p)

	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProviderUnavailable))
	assert.Contains(t, err.Error(), "https://metamask.io/download/")

	_, err = s.Connect(context.Background(), types.ProviderPhantom)
	assert.True(t, errors.Is(err, types.ErrProviderUnavailable))

	_, ok := s.Account()
	assert.False(t, ok)
}

func TestConnect(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 8453)
	p.balance, _ = new(big.Int).SetString("1500000000000000000", 10)
	s, log := newTestSession(p)

	acct, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)
	assert.Equal(t, alice, acct.Address)
	assert.Equal(t, uint64(8453), acct.ChainID)
	assert.Equal(t, "1.5", acct.NativeBalance)
	assert.Equal(t, types.ProviderMetaMask, acct.Provider)
	assert.Equal(t, uint64(1), s.Epoch())
	assert.Equal(t, []ChangeKind{ChangeConnected, ChangeBalance}, log.kinds())
	assert.NoError(t, s.Warning())

	provider, ok := s.Provider()
	require.True(t, ok)
	assert.Equal(t, types.ProviderMetaMask, provider.Kind())
}

func TestConnectUserRejected(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	p.accountsErr = ErrUserRejected
	s, _ := newTestSession(p)

	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUserRejected))
	assert.Equal(t, types.StepConnecting, types.StepOf(err))
}

func TestConnectBalanceFailureIsSoft(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	p.balanceErr = errors.New("rpc down")
	s, _ := newTestSession(p)

	acct, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)
	assert.Equal(t, alice, acct.Address)
	assert.Empty(t, acct.NativeBalance)
	assert.ErrorContains(t, s.Warning(), "rpc down")
}

func TestRefreshBalanceKeepsPreviousValueOnFailure(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	p.balance = big.NewInt(2e18)
	s, _ := newTestSession(p)
	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)

	p.mu.Lock()
	p.balanceErr = errors.New("timeout")
	p.mu.Unlock()

	err = s.RefreshBalance(context.Background())
	require.Error(t, err)
	acct, ok := s.Account()
	require.True(t, ok)
	assert.Equal(t, "2", acct.NativeBalance)
	assert.Error(t, s.Warning())

	p.mu.Lock()
	p.balanceErr = nil
	p.balance = big.NewInt(3e18)
	p.mu.Unlock()

	require.NoError(t, s.RefreshBalance(context.Background()))
	acct, _ = s.Account()
	assert.Equal(t, "3", acct.NativeBalance)
	assert.NoError(t, s.Warning())
}

func TestRefreshBalanceNotConnected(t *testing.T) {
	s, _ := newTestSession()
	err := s.RefreshBalance(context.Background())
	assert.True(t, errors.Is(err, types.ErrNotConnected))
}

func TestAccountChangeBumpsEpoch(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	p.balance = big.NewInt(1e18)
	s, log := newTestSession(p)
	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)
	before := s.Epoch()

	p.events.emit(Event{Kind: EventAccountsChanged, Accounts: []string{alice}})
	assert.Equal(t, before, s.Epoch(), "same account must not bump the epoch")

	p.events.emit(Event{Kind: EventAccountsChanged, Accounts: []string{bob}})
	assert.Equal(t, before+1, s.Epoch())

	acct, ok := s.Account()
	require.True(t, ok)
	assert.Equal(t, bob, acct.Address)
	assert.Empty(t, acct.NativeBalance)
	assert.Equal(t, ChangeAccount, log.kinds()[len(log.kinds())-1])
}

func TestChainChangeBumpsEpoch(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	s, log := newTestSession(p)
	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)
	before := s.Epoch()

	p.events.emit(Event{Kind: EventChainChanged, ChainID: 10})
	assert.Equal(t, before+1, s.Epoch())
	acct, _ := s.Account()
	assert.Equal(t, uint64(10), acct.ChainID)

	kinds := log.kinds()
	assert.Equal(t, ChangeChain, kinds[len(kinds)-1])
	assert.True(t, Change{Kind: ChangeChain}.Invalidates())
	assert.False(t, Change{Kind: ChangeBalance}.Invalidates())
}

func TestProviderDisconnectClearsAccount(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	s, log := newTestSession(p)
	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)

	p.events.emit(Event{Kind: EventDisconnect})
	_, ok := s.Account()
	assert.False(t, ok)
	kinds := log.kinds()
	assert.Equal(t, ChangeDisconnected, kinds[len(kinds)-1])

	// Locked wallet reports no accounts
	_, err = s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)
	p.events.emit(Event{Kind: EventAccountsChanged})
	_, ok = s.Account()
	assert.False(t, ok)
}

func TestSwitchingWalletsDisconnectsPrevious(t *testing.T) {
	evm := newFakeProvider(types.ProviderMetaMask, alice, 1)
	sol := newFakeProvider(types.ProviderPhantom, "So1ana", chain.SolanaChainID)
	sol.ecosystem = chain.EcosystemSolana
	s, log := newTestSession(evm, sol)

	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)
	acct, err := s.Connect(context.Background(), types.ProviderPhantom)
	require.NoError(t, err)
	assert.Equal(t, chain.SolanaChainID, acct.ChainID)
	assert.Contains(t, log.kinds(), ChangeDisconnected)

	// Events from the old provider are ignored
	epoch := s.Epoch()
	evm.events.emit(Event{Kind: EventAccountsChanged, Accounts: []string{bob}})
	assert.Equal(t, epoch, s.Epoch())
	acct, _ = s.Account()
	assert.Equal(t, "So1ana", acct.Address)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	s, log := newTestSession(p)
	s.Disconnect()
	assert.Empty(t, log.kinds())

	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)
	s.Disconnect()
	s.Disconnect()

	n := 0
	for _, k := range log.kinds() {
		if k == ChangeDisconnected {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestSwitchNetwork(t *testing.T) {
	t.Run("unsupported chain", func(t *testing.T) {
		p := newFakeProvider(types.ProviderMetaMask, alice, 1)
		s, _ := newTestSession(p)
		_, err := s.Connect(context.Background(), types.ProviderMetaMask)
		require.NoError(t, err)

		err = s.SwitchNetwork(context.Background(), 999)
		assert.True(t, errors.Is(err, types.ErrUnsupportedChain))
		assert.Equal(t, 0, p.switchCalls)
	})

	t.Run("adds unknown network and retries once", func(t *testing.T) {
		p := newFakeProvider(types.ProviderMetaMask, alice, 1)
		s, _ := newTestSession(p)
		_, err := s.Connect(context.Background(), types.ProviderMetaMask)
		require.NoError(t, err)
		before := s.Epoch()

		require.NoError(t, s.SwitchNetwork(context.Background(), 42161))
		assert.Equal(t, []uint64{42161}, p.added)
		assert.Equal(t, 2, p.switchCalls)

		acct, _ := s.Account()
		assert.Equal(t, uint64(42161), acct.ChainID)
		assert.Equal(t, before+1, s.Epoch())
	})

	t.Run("user rejected", func(t *testing.T) {
		p := newFakeProvider(types.ProviderMetaMask, alice, 1)
		p.switchErr = ErrUserRejected
		s, _ := newTestSession(p)
		_, err := s.Connect(context.Background(), types.ProviderMetaMask)
		require.NoError(t, err)

		err = s.SwitchNetwork(context.Background(), 10)
		assert.True(t, errors.Is(err, types.ErrUserRejected))
		acct, _ := s.Account()
		assert.Equal(t, uint64(1), acct.ChainID)
	})

	t.Run("provider without switching is a no-op", func(t *testing.T) {
		p := newFakeProvider(types.ProviderPhantom, "So1ana", chain.SolanaChainID)
		s, _ := newTestSession(fixedProvider{p})
		_, err := s.Connect(context.Background(), types.ProviderPhantom)
		require.NoError(t, err)

		assert.NoError(t, s.SwitchNetwork(context.Background(), 1))
		acct, _ := s.Account()
		assert.Equal(t, chain.SolanaChainID, acct.ChainID)
	})

	t.Run("not connected", func(t *testing.T) {
		s, _ := newTestSession()
		err := s.SwitchNetwork(context.Background(), 1)
		assert.True(t, errors.Is(err, types.ErrNotConnected))
	})
}

func TestAccountReturnsCopy(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	p.balance = big.NewInt(5)
	s, _ := newTestSession(p)
	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)

	acct, _ := s.Account()
	acct.NativeBalanceRaw.SetInt64(100)
	acct.Address = bob

	again, _ := s.Account()
	assert.Equal(t, int64(5), again.NativeBalanceRaw.Int64())
	assert.Equal(t, alice, again.Address)
}

func TestOnChangeUnsubscribe(t *testing.T) {
	p := newFakeProvider(types.ProviderMetaMask, alice, 1)
	s := NewSession(chain.Default(), nil, nil, p)
	calls := 0
	unsubscribe := s.OnChange(func(Change) { calls++ })
	unsubscribe()

	_, err := s.Connect(context.Background(), types.ProviderMetaMask)
	require.NoError(t, err)
	assert.Zero(t, calls)
}
