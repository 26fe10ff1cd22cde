package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"chainswap/pkg/chain"
	"chainswap/pkg/logging"
	"chainswap/pkg/types"
)

// ERC20 transfer and balanceOf ABI
const erc20ABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

const (
	nativeTransferGas = uint64(21000)
	tokenTransferGas  = uint64(100000)
)

var (
	json        = jsoniter.ConfigCompatibleWithStandardLibrary
	parsedERC20 = mustParseABI(erc20ABI)
)

// EVMBackend is the subset of ethclient.Client the EVM provider needs
type EVMBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// EVMConfig configures a local-key EVM wallet
type EVMConfig struct {
	Kind       types.ProviderKind
	PrivateKey string            // Hex, with or without 0x
	RPCURLs    map[uint64]string // Chains the wallet knows about
	ChainID    uint64            // Chain selected at startup
	GasLimit   *uint64           // Overrides estimation when set
	Approve    ApproveFunc       // Nil approves everything
}

// EVMProvider is a wallet holding one secp256k1 key, signing EIP-1559 (or EIP-155 on chains without a
// base fee) transactions and EIP-712 typed data
type EVMProvider struct {
	kind     types.ProviderKind
	key      *ecdsa.PrivateKey
	address  common.Address
	gasLimit *uint64
	approve  ApproveFunc
	logger   *zap.Logger
	events   eventHub

	mu       sync.Mutex
	chainID  uint64
	rpcURLs  map[uint64]string
	backends map[uint64]EVMBackend
	dial     func(ctx context.Context, url string) (EVMBackend, error)
}

// NewEVMProvider creates an EVM wallet. A provider without a key is created but reports itself unavailable.
func NewEVMProvider(cfg EVMConfig, logger *zap.Logger) (*EVMProvider, error) {
	if cfg.Kind == "" {
		cfg.Kind = types.ProviderMetaMask
	}
	p := &EVMProvider{
		kind:     cfg.Kind,
		gasLimit: cfg.GasLimit,
		approve:  cfg.Approve,
		logger:   logging.OrNop(logger).Named("evm-wallet"),
		chainID:  cfg.ChainID,
		rpcURLs:  make(map[uint64]string, len(cfg.RPCURLs)),
		backends: make(map[uint64]EVMBackend),
		dial: func(ctx context.Context, url string) (EVMBackend, error) {
			return ethclient.DialContext(ctx, url)
		},
	}
	for id, url := range cfg.RPCURLs {
		p.rpcURLs[id] = url
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		p.key = key
		p.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	return p, nil
}

// WithBackend pins the backend used for a chain instead of dialing its RPC URL
func (p *EVMProvider) WithBackend(chainID uint64, backend EVMBackend) *EVMProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends[chainID] = backend
	if _, ok := p.rpcURLs[chainID]; !ok {
		p.rpcURLs[chainID] = ""
	}
	return p
}

func (p *EVMProvider) Kind() types.ProviderKind { return p.kind }

func (p *EVMProvider) Ecosystem() chain.Ecosystem { return chain.EcosystemEVM }

// Address returns the wallet address
func (p *EVMProvider) Address() common.Address { return p.address }

// Subscribe registers fn for chain change events
func (p *EVMProvider) Subscribe(fn func(Event)) func() { return p.events.subscribe(fn) }

// Available reports whether a key and at least one chain are configured
func (p *EVMProvider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key != nil && len(p.rpcURLs) > 0
}

// RequestAccounts returns the wallet address
func (p *EVMProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	if p.key == nil {
		return nil, errors.New("no private key configured")
	}
	return []string{p.address.Hex()}, nil
}

// ChainID returns the id reported by the current chain's RPC
func (p *EVMProvider) ChainID(ctx context.Context) (uint64, error) {
	backend, _, err := p.current(ctx)
	if err != nil {
		return 0, err
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain id: %w", err)
	}
	return id.Uint64(), nil
}

// Balance returns the native balance of address on the current chain
func (p *EVMProvider) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address: %s", address)
	}
	backend, _, err := p.current(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// SwitchNetwork selects a chain the wallet knows about
func (p *EVMProvider) SwitchNetwork(ctx context.Context, chainID uint64) error {
	p.mu.Lock()
	if _, ok := p.rpcURLs[chainID]; !ok {
		p.mu.Unlock()
		return ErrUnknownChain
	}
	changed := p.chainID != chainID
	p.chainID = chainID
	p.mu.Unlock()

	if changed {
		p.logger.Info("Switched network", zap.Uint64("chainId", chainID))
		p.events.emit(Event{Kind: EventChainChanged, ChainID: chainID})
	}
	return nil
}

// AddNetwork makes a chain known to the wallet through its registry RPC URL
func (p *EVMProvider) AddNetwork(ctx context.Context, cfg chain.ChainConfig) error {
	if cfg.Ecosystem != chain.EcosystemEVM {
		return fmt.Errorf("%s is not an EVM chain", cfg.Name)
	}
	if cfg.RPCURL == "" {
		return fmt.Errorf("no RPC URL for %s", cfg.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rpcURLs[cfg.ChainID] = cfg.RPCURL
	return nil
}

// SignAndSend signs and broadcasts an EVM call or deposit transfer on the current chain
func (p *EVMProvider) SignAndSend(ctx context.Context, payload *types.TxPayload) (string, error) {
	if payload == nil {
		return "", errors.New("no transaction payload")
	}
	backend, chainID, err := p.current(ctx)
	if err != nil {
		return "", err
	}
	if p.approve != nil && !p.approve(ctx, SignRequest{ChainID: chainID, Payload: payload}) {
		return "", ErrUserRejected
	}

	var call ethereum.CallMsg
	switch payload.Kind {
	case types.PayloadEVMCall:
		call, err = p.callMsg(payload)
	case types.PayloadDeposit:
		call, err = p.depositMsg(ctx, backend, payload)
	default:
		return "", fmt.Errorf("unsupported payload kind %q for an EVM wallet", payload.Kind)
	}
	if err != nil {
		return "", err
	}

	tx, err := p.buildTx(ctx, backend, chainID, call, payload.Gas)
	if err != nil {
		return "", err
	}
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), p.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	p.logger.Info("Transaction sent",
		zap.Uint64("chainId", chainID),
		zap.String("hash", signedTx.Hash().Hex()),
		zap.String("to", call.To.Hex()))
	return signedTx.Hash().Hex(), nil
}

func (p *EVMProvider) callMsg(payload *types.TxPayload) (ethereum.CallMsg, error) {
	if !common.IsHexAddress(payload.To) {
		return ethereum.CallMsg{}, fmt.Errorf("invalid contract address: %s", payload.To)
	}
	to := common.HexToAddress(payload.To)
	value := new(big.Int)
	if payload.Value != "" {
		if _, ok := value.SetString(payload.Value, 10); !ok {
			return ethereum.CallMsg{}, fmt.Errorf("invalid value: %s", payload.Value)
		}
	}
	data, err := hexutil.Decode(hexOrEmpty(payload.Data))
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("invalid calldata: %w", err)
	}
	return ethereum.CallMsg{From: p.address, To: &to, Value: value, Data: data}, nil
}

// depositMsg builds a native or ERC20 transfer after checking the balance covers it
func (p *EVMProvider) depositMsg(ctx context.Context, backend EVMBackend, payload *types.TxPayload) (ethereum.CallMsg, error) {
	if !common.IsHexAddress(payload.To) {
		return ethereum.CallMsg{}, fmt.Errorf("invalid recipient address: %s", payload.To)
	}
	recipient := common.HexToAddress(payload.To)
	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return ethereum.CallMsg{}, fmt.Errorf("invalid amount: %s", payload.Amount)
	}

	if payload.Token.IsNative() {
		balance, err := backend.BalanceAt(ctx, p.address, nil)
		if err != nil {
			return ethereum.CallMsg{}, fmt.Errorf("failed to get balance: %w", err)
		}
		if balance.Cmp(amount) < 0 {
			return ethereum.CallMsg{}, fmt.Errorf("insufficient balance: have %s wei, need %s wei", balance, amount)
		}
		return ethereum.CallMsg{From: p.address, To: &recipient, Value: amount}, nil
	}

	if !common.IsHexAddress(payload.Token.Address) {
		return ethereum.CallMsg{}, fmt.Errorf("invalid token contract address: %s", payload.Token.Address)
	}
	tokenAddress := common.HexToAddress(payload.Token.Address)
	balance, err := p.tokenBalance(ctx, backend, tokenAddress)
	if err != nil {
		return ethereum.CallMsg{}, err
	}
	if balance.Cmp(amount) < 0 {
		return ethereum.CallMsg{}, fmt.Errorf("insufficient %s balance: have %s, need %s", payload.Token.Symbol, balance, amount)
	}

	data, err := parsedERC20.Pack("transfer", recipient, amount)
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("failed to pack transfer data: %w", err)
	}
	return ethereum.CallMsg{From: p.address, To: &tokenAddress, Value: new(big.Int), Data: data}, nil
}

func (p *EVMProvider) tokenBalance(ctx context.Context, backend EVMBackend, token common.Address) (*big.Int, error) {
	data, err := parsedERC20.Pack("balanceOf", p.address)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf data: %w", err)
	}
	result, err := backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

// buildTx fills nonce, gas and fees. Chains reporting a base fee get a dynamic fee transaction.
func (p *EVMProvider) buildTx(ctx context.Context, backend EVMBackend, chainID uint64, call ethereum.CallMsg, gas uint64) (*ethtypes.Transaction, error) {
	nonce, err := backend.PendingNonceAt(ctx, p.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	switch {
	case p.gasLimit != nil:
		gas = *p.gasLimit
	case gas == 0:
		gas = nativeTransferGas
		if len(call.Data) > 0 {
			gas = tokenTransferGas
		}
		if estimated, err := backend.EstimateGas(ctx, call); err == nil {
			gas = estimated * 120 / 100 // 20% buffer
		}
	}

	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       call.To,
			Value:    call.Value,
			Gas:      gas,
			GasPrice: gasPrice,
			Data:     call.Data,
		}), nil
	}

	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        call.To,
		Value:     call.Value,
		Data:      call.Data,
	}), nil
}

// SignMessage signs EIP-712 typed data, or falls back to a personal_sign over the raw bytes
func (p *EVMProvider) SignMessage(ctx context.Context, payload []byte) (string, error) {
	if p.key == nil {
		return "", errors.New("no private key configured")
	}
	p.mu.Lock()
	chainID := p.chainID
	p.mu.Unlock()
	if p.approve != nil && !p.approve(ctx, SignRequest{ChainID: chainID, Message: payload}) {
		return "", ErrUserRejected
	}

	hash := accounts.TextHash(payload)
	var typedData apitypes.TypedData
	if err := json.Unmarshal(payload, &typedData); err == nil && typedData.PrimaryType != "" {
		h, _, err := apitypes.TypedDataAndHash(typedData)
		if err != nil {
			return "", fmt.Errorf("failed to hash typed data: %w", err)
		}
		hash = h
	}

	sig, err := crypto.Sign(hash, p.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// TxStatus reports a transaction's settlement from its receipt on the current chain
func (p *EVMProvider) TxStatus(ctx context.Context, hash string) (*types.Settlement, error) {
	backend, _, err := p.current(ctx)
	if err != nil {
		return nil, err
	}
	s := &types.Settlement{ID: hash, State: types.SettlementPending, CheckedAt: time.Now()}

	receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	s.TxHashes = []string{receipt.TxHash.Hex()}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		s.State = types.SettlementConfirmed
	} else {
		s.State = types.SettlementFailed
		s.Reason = "transaction reverted"
	}
	return s, nil
}

// current returns the backend for the selected chain, dialing it on first use
func (p *EVMProvider) current(ctx context.Context) (EVMBackend, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chainID := p.chainID
	if backend, ok := p.backends[chainID]; ok {
		return backend, chainID, nil
	}
	url, ok := p.rpcURLs[chainID]
	if !ok || url == "" {
		return nil, chainID, fmt.Errorf("RPC URL not configured for chain %d", chainID)
	}
	backend, err := p.dial(ctx, url)
	if err != nil {
		return nil, chainID, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	p.backends[chainID] = backend
	return backend, chainID, nil
}

// Close closes dialed RPC connections
func (p *EVMProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, backend := range p.backends {
		if c, ok := backend.(interface{ Close() }); ok {
			c.Close()
		}
		delete(p.backends, id)
	}
}

func hexOrEmpty(s string) string {
	if s == "" {
		return "0x"
	}
	if !strings.HasPrefix(s, "0x") {
		return "0x" + s
	}
	return s
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return parsed
}
