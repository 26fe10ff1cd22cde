package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chainswap/config"
	"chainswap/pkg/chain"
	"chainswap/pkg/client"
	"chainswap/pkg/fees"
	"chainswap/pkg/logging"
	"chainswap/pkg/metrics"
	"chainswap/pkg/quote"
	"chainswap/pkg/swap"
	"chainswap/pkg/types"
	"chainswap/pkg/wallet"
)

// app holds the components a command works with
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *chain.Registry
	metrics    *metrics.Recorder
	aggregator quote.Aggregator
	intents    *client.IntentsAggregator
	relay      *client.RelayClient
	server     *http.Server
	verbose    bool
	jsonOutput bool
}

// newApp loads configuration and builds the shared components
func newApp(cmd *cobra.Command) (*app, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	configPath, _ := cmd.Flags().GetString("config")

	// Load configuration
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	config.Set(cfg)

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Development || verbose)
	if err != nil {
		return nil, err
	}

	registry := chain.Default()
	if cfg.ChainsFile != "" {
		if registry, err = chain.LoadFile(cfg.ChainsFile); err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		metrics:    metrics.NewRecorder(),
		verbose:    verbose,
		jsonOutput: jsonOutput,
	}

	switch cfg.Aggregator.Backend {
	case "intents":
		if err := cfg.RequireIntents(); err != nil {
			return nil, err
		}
		a.intents = client.NewIntentsAggregator(cfg.Intents.JWTToken, cfg.Intents.BaseURL, logger)
		a.aggregator = a.intents
	default:
		a.aggregator = client.NewAggregatorClient(client.AggregatorConfig{
			BaseURL:       cfg.Aggregator.BaseURL,
			APIKey:        cfg.Aggregator.APIKey,
			Timeout:       cfg.Aggregator.Timeout,
			RatePerSecond: cfg.Aggregator.RatePerSecond,
			FeeRecipient:  cfg.Fees.Recipient,
			PlatformBps:   cfg.Fees.PlatformBps,
		}, logger)
	}
	if cfg.Relay.BaseURL != "" {
		a.relay = client.NewRelayClient(cfg.Relay.BaseURL, cfg.Relay.APIKey, cfg.Relay.Timeout, logger)
	}
	if cfg.MetricsAddr != "" {
		a.server = metrics.Serve(cfg.MetricsAddr, a.metrics)
		logger.Info("Serving metrics", zap.String("addr", cfg.MetricsAddr))
	}
	return a, nil
}

func (a *app) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
	_ = a.logger.Sync()
}

// engine builds a quote engine priced against the configured aggregator
func (a *app) engine() (*quote.Engine, error) {
	calc, err := fees.NewCalculator(a.cfg.Fees.PlatformBps)
	if err != nil {
		return nil, err
	}
	e := quote.NewEngine(quote.Config{
		Debounce:    a.cfg.Quote.Debounce,
		TTL:         a.cfg.Quote.TTL,
		AutoRefresh: a.cfg.Quote.AutoRefresh,
		Firm:        true,
		Retry:       a.cfg.Retry.Policy(),
	}, a.registry, a.aggregator, calc, a.logger, a.metrics)

	if a.intents == nil {
		e.WithPrices(client.NewNativePriceSource(a.aggregator, a.registry, time.Minute, a.logger))
	}
	return e, nil
}

// provider builds the local wallet of the given kind, selected on chainID
func (a *app) provider(kind types.ProviderKind, chainID uint64, approve wallet.ApproveFunc) (wallet.Provider, error) {
	if kind == types.ProviderPhantom {
		return wallet.NewSolanaProvider(wallet.SolanaConfig{
			PrivateKey: a.cfg.Wallets.Solana.PrivateKey,
			RPCURL:     a.cfg.Wallets.Solana.RPCURL,
			Commitment: a.cfg.Wallets.Solana.Commitment,
			Approve:    approve,
		}, a.logger)
	}

	rpc := make(map[uint64]string)
	for _, c := range a.registry.All() {
		if c.Ecosystem == chain.EcosystemEVM && c.RPCURL != "" {
			rpc[c.ChainID] = c.RPCURL
		}
	}
	for id, url := range a.cfg.Wallets.EVM.RPC {
		rpc[id] = url
	}
	return wallet.NewEVMProvider(wallet.EVMConfig{
		Kind:       kind,
		PrivateKey: a.cfg.Wallets.EVM.PrivateKey,
		RPCURLs:    rpc,
		ChainID:    chainID,
		Approve:    approve,
	}, a.logger)
}

// connect opens a wallet session on chainID, switching network when the wallet is elsewhere
func (a *app) connect(ctx context.Context, kind types.ProviderKind, chainID uint64, approve wallet.ApproveFunc) (*wallet.Session, error) {
	p, err := a.provider(kind, chainID, approve)
	if err != nil {
		return nil, err
	}
	session := wallet.NewSession(a.registry, a.logger, a.metrics, p)
	account, err := session.Connect(ctx, kind)
	if err != nil {
		return nil, err
	}
	if account.ChainID != chainID && p.Ecosystem() == chain.EcosystemEVM {
		if err := session.SwitchNetwork(ctx, chainID); err != nil {
			session.Disconnect()
			return nil, err
		}
	}
	return session, nil
}

// tracker builds a settlement tracker over the configured status sources
func (a *app) tracker(interval time.Duration) *swap.Tracker {
	if interval <= 0 {
		interval = a.cfg.Tracking.Interval
	}
	t := swap.NewTracker(interval, a.cfg.Tracking.MaxPolls, a.logger)
	if a.relay != nil {
		t.WithRelay(a.relay)
	}
	if a.intents != nil {
		t.WithDeposits(a.intents)
	}
	return t
}

// resolveChain resolves the --chain flag, which may be a name or an id
func (a *app) resolveChain(nameOrID string) (chain.ChainConfig, error) {
	if nameOrID == "" {
		return chain.ChainConfig{}, fmt.Errorf("--chain is required (see: chainswap chains)")
	}
	return a.registry.Lookup(nameOrID)
}

// promptApprove asks on stdin before the wallet signs anything
func promptApprove(ctx context.Context, req wallet.SignRequest) bool {
	switch {
	case req.Payload != nil && req.Payload.Kind == types.PayloadDeposit:
		fmt.Printf("\nWallet is about to send %s %s to %s on chain %d.\n",
			req.Payload.Amount, req.Payload.Token.Symbol, color.CyanString(req.Payload.To), req.ChainID)
	case req.Payload != nil:
		fmt.Printf("\nWallet is about to sign and broadcast a transaction to %s on chain %d.\n",
			color.CyanString(req.Payload.To), req.ChainID)
	default:
		fmt.Printf("\nWallet is about to sign a gasless trade on chain %d.\n", req.ChainID)
	}
	return confirmPrompt("Sign with your wallet?")
}

func confirmPrompt(question string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("%s (y/N): ", question)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
