package wallet

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"chainswap/pkg/chain"
	"chainswap/pkg/logging"
	"chainswap/pkg/types"
)

// Solana fees are typically 5000 lamports per signature
const lamportsPerSignature = 5000

// SolanaRPC is the subset of rpc.Client the Solana provider needs
type SolanaRPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SolanaConfig configures a local-key Solana wallet
type SolanaConfig struct {
	PrivateKey    string // Base58
	RPCURL        string
	Commitment    string // processed, confirmed or finalized
	SkipPreflight bool
	Approve       ApproveFunc
}

// SolanaProvider is a Phantom-style wallet holding one ed25519 key. It cannot switch networks.
type SolanaProvider struct {
	client        SolanaRPC
	privateKey    solana.PrivateKey
	publicKey     solana.PublicKey
	commitment    rpc.CommitmentType
	skipPreflight bool
	approve       ApproveFunc
	logger        *zap.Logger
	events        eventHub
}

// NewSolanaProvider creates a Solana wallet. A provider without a key is created but reports itself unavailable.
func NewSolanaProvider(cfg SolanaConfig, logger *zap.Logger) (*SolanaProvider, error) {
	p := &SolanaProvider{
		commitment:    parseCommitment(cfg.Commitment),
		skipPreflight: cfg.SkipPreflight,
		approve:       cfg.Approve,
		logger:        logging.OrNop(logger).Named("solana-wallet"),
	}
	if cfg.RPCURL != "" {
		p.client = rpc.New(cfg.RPCURL)
	}
	if cfg.PrivateKey != "" {
		key, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		p.privateKey = key
		p.publicKey = key.PublicKey()
	}
	return p, nil
}

// WithRPC replaces the RPC client
func (p *SolanaProvider) WithRPC(client SolanaRPC) *SolanaProvider {
	p.client = client
	return p
}

func (p *SolanaProvider) Kind() types.ProviderKind { return types.ProviderPhantom }

func (p *SolanaProvider) Ecosystem() chain.Ecosystem { return chain.EcosystemSolana }

// Subscribe registers fn for provider events. A local key never changes, so none are emitted.
func (p *SolanaProvider) Subscribe(fn func(Event)) func() { return p.events.subscribe(fn) }

// Available reports whether a key and RPC endpoint are configured
func (p *SolanaProvider) Available() bool {
	return p.privateKey != nil && p.client != nil
}

// RequestAccounts returns the wallet public key
func (p *SolanaProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	if p.privateKey == nil {
		return nil, errors.New("no private key configured")
	}
	return []string{p.publicKey.String()}, nil
}

// ChainID always returns Solana mainnet
func (p *SolanaProvider) ChainID(ctx context.Context) (uint64, error) {
	return chain.SolanaChainID, nil
}

// Balance returns the SOL balance in lamports
func (p *SolanaProvider) Balance(ctx context.Context, address string) (*big.Int, error) {
	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	balance, err := p.client.GetBalance(ctx, account, p.commitment)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return new(big.Int).SetUint64(balance.Value), nil
}

// SignAndSend signs and sends an aggregator-built transaction or a deposit transfer
func (p *SolanaProvider) SignAndSend(ctx context.Context, payload *types.TxPayload) (string, error) {
	if payload == nil {
		return "", errors.New("no transaction payload")
	}
	if p.approve != nil && !p.approve(ctx, SignRequest{ChainID: chain.SolanaChainID, Payload: payload}) {
		return "", ErrUserRejected
	}

	var (
		tx  *solana.Transaction
		err error
	)
	switch payload.Kind {
	case types.PayloadSolanaTx:
		tx, err = decodeTransaction(payload.SerializedTx)
	case types.PayloadDeposit:
		tx, err = p.depositTx(ctx, payload)
	default:
		return "", fmt.Errorf("unsupported payload kind %q for a Solana wallet", payload.Kind)
	}
	if err != nil {
		return "", err
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.publicKey) {
			return &p.privateKey
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := p.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       p.skipPreflight,
		PreflightCommitment: p.commitment,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	p.logger.Info("Transaction sent", zap.String("signature", sig.String()), zap.String("kind", string(payload.Kind)))
	return sig.String(), nil
}

// decodeTransaction parses a base64 serialized transaction
func decodeTransaction(serialized string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	// Drop placeholder signatures, the wallet is the only signer
	tx.Signatures = nil
	return tx, nil
}

// depositTx builds a SOL or SPL transfer to the deposit address
func (p *SolanaProvider) depositTx(ctx context.Context, payload *types.TxPayload) (*solana.Transaction, error) {
	recipient, err := solana.PublicKeyFromBase58(payload.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	amount, err := strconv.ParseUint(payload.Amount, 10, 64)
	if err != nil || amount == 0 {
		return nil, fmt.Errorf("invalid amount: %s", payload.Amount)
	}

	var instructions []solana.Instruction
	if payload.Token.IsNative() {
		balance, err := p.client.GetBalance(ctx, p.publicKey, p.commitment)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		if need := amount + lamportsPerSignature; balance.Value < need {
			return nil, fmt.Errorf("insufficient balance: have %d lamports, need %d lamports (including fees)", balance.Value, need)
		}
		instructions = append(instructions, system.NewTransferInstruction(amount, p.publicKey, recipient).Build())
	} else {
		instructions, err = p.tokenTransfer(ctx, recipient, payload.Token.Address, amount)
		if err != nil {
			return nil, err
		}
	}

	recent, err := p.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}
	if payload.Memo != "" {
		p.logger.Debug("Deposit memo is ignored on Solana transfers", zap.String("memo", payload.Memo))
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(p.publicKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

// tokenTransfer builds an SPL transfer, creating the recipient's associated token account when missing
func (p *SolanaProvider) tokenTransfer(ctx context.Context, recipient solana.PublicKey, mintAddress string, amount uint64) ([]solana.Instruction, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint address: %w", err)
	}
	source, _, err := solana.FindAssociatedTokenAddress(p.publicKey, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source token account: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination token account: %w", err)
	}

	exists, err := p.accountExists(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to check destination account: %w", err)
	}

	var instructions []solana.Instruction
	if !exists {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(p.publicKey, recipient, mint).Build())
	}
	instructions = append(instructions, token.NewTransferInstruction(
		amount,
		source,
		dest,
		p.publicKey,
		[]solana.PublicKey{},
	).Build())
	return instructions, nil
}

func (p *SolanaProvider) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := p.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info != nil && info.Value != nil, nil
}

// SignMessage signs raw bytes with the wallet key and returns the base58 signature
func (p *SolanaProvider) SignMessage(ctx context.Context, payload []byte) (string, error) {
	if p.privateKey == nil {
		return "", errors.New("no private key configured")
	}
	if p.approve != nil && !p.approve(ctx, SignRequest{ChainID: chain.SolanaChainID, Message: payload}) {
		return "", ErrUserRejected
	}
	sig, err := p.privateKey.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	return sig.String(), nil
}

// TxStatus reports a signature's settlement
func (p *SolanaProvider) TxStatus(ctx context.Context, signature string) (*types.Settlement, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction signature: %w", err)
	}
	out, err := p.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}

	s := &types.Settlement{ID: signature, State: types.SettlementPending, CheckedAt: time.Now()}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return s, nil
	}
	status := out.Value[0]
	switch {
	case status.Err != nil:
		s.State = types.SettlementFailed
		s.Reason = fmt.Sprintf("%v", status.Err)
	case status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed,
		status.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		s.State = types.SettlementConfirmed
		s.TxHashes = []string{signature}
	}
	return s, nil
}

func parseCommitment(s string) rpc.CommitmentType {
	switch strings.ToLower(s) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}
