package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chainswap/pkg/chain"
	"chainswap/pkg/quote"
	"chainswap/pkg/swap"
	"chainswap/pkg/types"
	"chainswap/pkg/wallet"
)

var (
	swapChain    string
	swapSlippage int
	swapGasless  bool
	walletKind   string
	noConfirm    bool
	trackSwap    bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <sell-token> to <buy-token>",
	Short: "Quote and execute a token swap with a local wallet",
	Long: `Quote a swap, show the fee breakdown and execute it with the configured wallet.

Standard swaps are signed and broadcast by the wallet. Gasless swaps (--gasless) are
signed as typed data and submitted through the relay, so the wallet needs no native
balance for gas.

IMPORTANT:
  - Configure the wallet key first (wallets.evm.private_key or wallets.solana.private_key)
  - The quote expires after quote.ttl; an expired quote is never executed, a fresh one
    is fetched and shown for confirmation instead

Examples:
  # Standard swap on Base
  chainswap swap 100 USDC to ETH --chain base

  # Gasless swap on Arbitrum, waiting for settlement
  chainswap swap 50 USDC to WETH --chain arbitrum --gasless --track

  # Solana with Phantom, skipping all confirmations
  chainswap swap 1 SOL to USDC --chain solana --wallet phantom --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVar(&swapChain, "chain", "", "Chain name or id (REQUIRED)")
	swapCmd.Flags().IntVar(&swapSlippage, "slippage", -1, "Slippage tolerance in basis points (default from config)")
	swapCmd.Flags().BoolVar(&swapGasless, "gasless", false, "Sign typed data and settle through the relay")
	swapCmd.Flags().StringVar(&walletKind, "wallet", "", "Wallet provider: metamask, coinbase, walletconnect or phantom (default by chain)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
	swapCmd.Flags().BoolVar(&trackSwap, "track", false, "Wait for the swap to settle")
}

func runSwap(cmd *cobra.Command, args []string) {
	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	cfg, req, err := a.buildRequest(args, swapChain, swapSlippage, swapGasless)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	kind, err := resolveWallet(walletKind, cfg)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var approve wallet.ApproveFunc
	if !noConfirm && !a.jsonOutput {
		approve = promptApprove
	}

	// Connect the wallet
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !a.jsonOutput {
		s.Suffix = fmt.Sprintf(" Connecting %s...", kind)
		s.Start()
	}
	session, err := a.connect(ctx, kind, cfg.ChainID, approve)
	if !a.jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer session.Disconnect()

	account, _ := session.Account()
	if !a.jsonOutput {
		fmt.Printf("\nConnected %s on %s\n", color.CyanString(account.Address), cfg.Name)
		if account.NativeBalance != "" {
			fmt.Printf("Balance: %s %s\n", account.NativeBalance, cfg.NativeSymbol)
		}
		if warning := session.Warning(); warning != nil {
			color.Yellow("Warning: %v", warning)
		}
	}

	// Quote against the connected account
	engine, err := a.engine()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer engine.Close()
	engine.WithSession(session)

	q, err := a.fetchQuote(ctx, engine, req)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	executor := swap.NewExecutor(session, a.swapRelay(), a.logger, a.metrics).WithQuoteSource(a.aggregator)
	if a.intents != nil {
		executor.WithDepositNotifier(a.intents)
	}
	defer executor.Close()

	if a.verbose && !a.jsonOutput {
		executor.Subscribe(func(at swap.Attempt) {
			fmt.Printf("Debug: attempt %s -> %s\n", at.ID, at.State)
		})
	}

	refetch := func(ctx context.Context) (*types.Quote, error) {
		if !a.jsonOutput {
			color.Yellow("\nQuote expired, fetching a fresh one...")
		}
		return a.fetchQuote(ctx, engine, req)
	}
	approveQuote := func(q *types.Quote) bool {
		if a.jsonOutput {
			printJSON(quoteOutput(cfg, q))
			return true
		}
		displayQuote(cfg, q, a.verbose)
		if q.Impact == types.ImpactHigh {
			color.Red("Warning: price impact is high, you may receive much less than the market price.\n")
		}
		return noConfirm || confirmPrompt("\nProceed with swap?")
	}

	attempt, err := confirmQuote(ctx, executor, q, refetch, approveQuote)
	if errors.Is(err, errSwapCancelled) {
		fmt.Println("\nSwap cancelled.")
		os.Exit(0)
	}
	if err != nil {
		if attempt != nil && a.jsonOutput {
			printJSON(attemptOutput(cfg, attempt, err))
		}
		printError(err)
		os.Exit(1)
	}

	if a.jsonOutput && !trackSwap {
		printJSON(attemptOutput(cfg, attempt, nil))
		return
	}
	if !a.jsonOutput {
		displayAttempt(cfg, attempt)
	}

	if !trackSwap {
		fmt.Println("You can monitor the swap status using:")
		color.Cyan("  chainswap status %s\n", statusCommand(cfg, attempt))
		return
	}

	provider, _ := session.Provider()
	settlement, err := a.trackAttempt(ctx, swap.TargetOf(*attempt), attempt.Reference(), provider, 0)
	if a.jsonOutput {
		output := attemptOutput(cfg, attempt, err)
		output["settlement"] = settlement
		printJSON(output)
	}
	if err != nil {
		if !a.jsonOutput {
			printError(err)
		}
		os.Exit(1)
	}
	if settlement != nil && settlement.State == types.SettlementFailed {
		os.Exit(1)
	}
}

// maxRequotes bounds how many times an expired quote is replaced before giving up
const maxRequotes = 3

var errSwapCancelled = errors.New("swap cancelled")

type quoteConfirmer interface {
	Confirm(ctx context.Context, q *types.Quote) (*swap.Attempt, error)
}

// confirmQuote shows q for approval and executes it. A quote that expired before the executor
// accepted it is replaced by a fresh one, which needs approval again.
func confirmQuote(ctx context.Context, executor quoteConfirmer, q *types.Quote, refetch func(context.Context) (*types.Quote, error), approve func(*types.Quote) bool) (*swap.Attempt, error) {
	for requotes := 0; ; requotes++ {
		if !approve(q) {
			return nil, errSwapCancelled
		}
		attempt, err := executor.Confirm(ctx, q)
		if attempt != nil || !errors.Is(err, types.ErrQuoteExpired) || requotes >= maxRequotes {
			return attempt, err
		}
		if q, err = refetch(ctx); err != nil {
			return nil, err
		}
	}
}

// fetchQuote prices req once behind a spinner
func (a *app) fetchQuote(ctx context.Context, engine *quote.Engine, req types.QuoteRequest) (*types.Quote, error) {
	if a.jsonOutput {
		return engine.Fetch(ctx, req)
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Fetching quote..."
	s.Start()
	defer s.Stop()
	return engine.Fetch(ctx, req)
}

// swapRelay returns the relay as the executor's interface, keeping it nil when unconfigured
func (a *app) swapRelay() swap.Relay {
	if a.relay == nil {
		return nil
	}
	return a.relay
}

// trackAttempt polls a submitted swap until it settles, printing each status change
func (a *app) trackAttempt(ctx context.Context, target swap.Target, reference string, provider wallet.Provider, interval time.Duration) (*types.Settlement, error) {
	tracker := a.tracker(interval)

	var s *spinner.Spinner
	if !a.jsonOutput {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Waiting for settlement..."
		s.Start()
	}

	var lastState types.SettlementState
	settlement, err := tracker.Track(ctx, target, provider, func(st *types.Settlement) {
		if a.jsonOutput || st.State == lastState {
			return
		}
		lastState = st.State
		s.Lock()
		s.Suffix = fmt.Sprintf(" Settlement: %s", st.State)
		s.Unlock()
	})
	if s != nil {
		s.Stop()
	}

	switch {
	case errors.Is(err, swap.ErrStillPending):
		if !a.jsonOutput {
			color.Yellow("\nStill pending after %d checks.", a.cfg.Tracking.MaxPolls)
		}
		return settlement, nil
	case err != nil:
		return settlement, err
	}
	if !a.jsonOutput && settlement != nil {
		displaySettlement(settlement, reference)
	}
	return settlement, nil
}

// resolveWallet picks the wallet kind from the flag, defaulting by the chain's ecosystem
func resolveWallet(flag string, cfg chain.ChainConfig) (types.ProviderKind, error) {
	if flag == "" {
		if cfg.Ecosystem == chain.EcosystemSolana {
			return types.ProviderPhantom, nil
		}
		return types.ProviderMetaMask, nil
	}
	kind, ok := types.ParseProviderKind(strings.ToLower(flag))
	if !ok {
		return "", fmt.Errorf("unknown wallet %q (use metamask, coinbase, walletconnect or phantom)", flag)
	}
	solanaWallet := kind == types.ProviderPhantom
	if solanaWallet != (cfg.Ecosystem == chain.EcosystemSolana) {
		return "", types.NewError(types.StepConnecting, types.CodeUnsupportedChain,
			"%s wallet cannot sign on %s", kind, cfg.Name)
	}
	return kind, nil
}

func attemptOutput(cfg chain.ChainConfig, at *swap.Attempt, err error) map[string]interface{} {
	output := map[string]interface{}{
		"id":         at.ID,
		"state":      at.State,
		"mode":       at.Mode,
		"chain_id":   at.ChainID,
		"account":    at.Account,
		"reference":  at.Reference(),
		"started_at": at.StartedAt,
	}
	if at.TxHash != "" {
		output["tx_hash"] = at.TxHash
		output["explorer_url"] = cfg.TxURL(at.TxHash)
	}
	if at.TrackingID != "" {
		output["tracking_id"] = at.TrackingID
	}
	if at.DepositAddress != "" {
		output["deposit_address"] = at.DepositAddress
	}
	if err != nil {
		output["error"] = err.Error()
		output["code"] = types.CodeOf(err)
		output["step"] = types.StepOf(err)
	}
	return output
}

func displayAttempt(cfg chain.ChainConfig, at *swap.Attempt) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                   SWAP SUBMITTED")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Attempt:           %s\n", at.ID)
	fmt.Printf("  Mode:              %s\n", at.Mode)
	fmt.Printf("  Account:           %s\n", at.Account)
	if at.TxHash != "" {
		fmt.Printf("  Transaction:       %s\n", color.CyanString(at.TxHash))
		if url := cfg.TxURL(at.TxHash); url != "" {
			fmt.Printf("  Explorer:          %s\n", url)
		}
	}
	if at.TrackingID != "" {
		fmt.Printf("  Tracking ID:       %s\n", color.CyanString(at.TrackingID))
	}
	if at.DepositAddress != "" {
		fmt.Printf("  Deposit Address:   %s\n", at.DepositAddress)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

// statusCommand returns the status arguments that look the attempt up again
func statusCommand(cfg chain.ChainConfig, at *swap.Attempt) string {
	switch {
	case at.Mode == types.ModeGasless:
		return fmt.Sprintf("%s --chain %s --gasless", at.TrackingID, cfg.Name)
	case at.DepositAddress != "":
		return fmt.Sprintf("%s --chain %s --deposit", at.DepositAddress, cfg.Name)
	default:
		return fmt.Sprintf("%s --chain %s", at.TxHash, cfg.Name)
	}
}
