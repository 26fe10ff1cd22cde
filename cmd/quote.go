package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chainswap/pkg/chain"
	"chainswap/pkg/parser"
	"chainswap/pkg/quote"
	"chainswap/pkg/types"
)

// quoteRetryDelay is how long watch mode waits before re-requesting after a transient failure
const quoteRetryDelay = 5 * time.Second

var (
	quoteChain    string
	quoteSlippage int
	quoteGasless  bool
	quoteTaker    string
	quoteWatch    bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <sell-token> to <buy-token>",
	Short: "Get a fee-adjusted swap quote",
	Long: `Get a quote for swapping tokens on one chain, with the platform fee, minimum received
after slippage, estimated network fee and price impact.

Without --taker the quote is indicative. With --taker the aggregator returns an
executable quote for that address. With --watch the quote is re-requested every time
it expires until Ctrl+C.

Examples:
  chainswap quote 100 USDC to ETH --chain base
  chainswap quote 0.5 ETH to USDC --chain 42161 --slippage 50
  chainswap quote 100 USDC to WETH --chain polygon --gasless --taker 0x123...
  chainswap quote 1 ETH to USDC --chain base --watch`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteChain, "chain", "", "Chain name or id (REQUIRED)")
	quoteCmd.Flags().IntVar(&quoteSlippage, "slippage", -1, "Slippage tolerance in basis points (default from config)")
	quoteCmd.Flags().BoolVar(&quoteGasless, "gasless", false, "Quote a gasless trade settled through the relay")
	quoteCmd.Flags().StringVar(&quoteTaker, "taker", "", "Address that would execute the swap")
	quoteCmd.Flags().BoolVarP(&quoteWatch, "watch", "w", false, "Keep the quote fresh, re-requesting it on expiry")
}

func runQuote(cmd *cobra.Command, args []string) {
	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	cfg, req, err := a.buildRequest(args, quoteChain, quoteSlippage, quoteGasless)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	req.Taker = quoteTaker

	if quoteWatch {
		if a.jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			os.Exit(1)
		}
		a.cfg.Quote.AutoRefresh = true
	}

	engine, err := a.engine()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer engine.Close()

	if quoteWatch {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("\nWatching quotes, refreshed every %s. Press Ctrl+C to stop.\n", a.cfg.Quote.TTL)
		err := watchQuotes(ctx, engine, req, quoteRetryDelay, func(r quote.Result) {
			switch {
			case r.Err != nil:
				printError(r.Err)
			case r.Quote != nil:
				displayQuote(cfg, r.Quote, a.verbose)
			}
		})
		if err != nil {
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	q, err := a.fetchQuote(ctx, engine, req)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if a.jsonOutput {
		printJSON(quoteOutput(cfg, q))
		return
	}
	displayQuote(cfg, q, a.verbose)
}

// watchQuotes sends req through the engine's debounced path and hands every published result to
// show until ctx ends. The engine re-requests expired quotes itself. A failure the user would answer
// by requesting a new quote is re-requested after retryDelay; any other failure ends the watch.
func watchQuotes(ctx context.Context, engine *quote.Engine, req types.QuoteRequest, retryDelay time.Duration, show func(quote.Result)) error {
	results := make(chan quote.Result, 16)
	unsubscribe := engine.Subscribe(func(r quote.Result) {
		select {
		case results <- r:
		default:
		}
	})
	defer unsubscribe()

	if _, err := engine.RequestQuote(req); err != nil {
		show(quote.Result{Err: err})
		return err
	}

	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retry:
			retry = nil
			if _, err := engine.Refresh(); err != nil {
				return err
			}
		case r := <-results:
			show(r)
			if r.Err == nil {
				continue
			}
			if types.CodeOf(r.Err).Action() != types.ActionRetryQuote {
				return r.Err
			}
			retry = time.After(retryDelay)
		}
	}
}

// buildRequest parses "<amount> <sell> to <buy>" and resolves it on the chain named by chainFlag
func (a *app) buildRequest(args []string, chainFlag string, slippage int, gasless bool) (chain.ChainConfig, types.QuoteRequest, error) {
	command, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return chain.ChainConfig{}, types.QuoteRequest{}, err
	}
	cfg, err := a.resolveChain(chainFlag)
	if err != nil {
		return chain.ChainConfig{}, types.QuoteRequest{}, err
	}
	if slippage < 0 {
		slippage = a.cfg.Quote.SlippageBps
	}

	req, err := command.QuoteRequest(a.registry, cfg.ChainID, slippage)
	if err != nil {
		return chain.ChainConfig{}, types.QuoteRequest{}, err
	}
	if gasless {
		req.Mode = types.ModeGasless
	}
	return cfg, req, nil
}

func quoteOutput(cfg chain.ChainConfig, q *types.Quote) map[string]interface{} {
	req := q.Request
	output := map[string]interface{}{
		"chain":            cfg.Name,
		"chain_id":         cfg.ChainID,
		"mode":             q.Mode(),
		"sell_amount":      sellAmount(req),
		"sell_token":       req.SellToken.Symbol,
		"buy_amount":       types.FormatUnits(q.BuyAmount, req.BuyToken.Decimals),
		"buy_token":        req.BuyToken.Symbol,
		"platform_fee":     types.FormatUnits(q.PlatformFee, req.BuyToken.Decimals),
		"minimum_received": types.FormatUnits(q.MinimumReceived, req.BuyToken.Decimals),
		"slippage_bps":     req.SlippageBps,
		"network_fee_usd":  q.NetworkFeeUSD,
		"price_impact":     q.PriceImpact,
		"impact":           q.Impact,
		"sources":          q.Sources,
		"expires_at":       q.ExpiresAt(),
		"executable":       q.Transaction != nil || len(q.TypedData) > 0,
	}
	if q.Transaction != nil && q.Transaction.Kind == types.PayloadDeposit {
		output["deposit_address"] = q.Transaction.To
	}
	return output
}

func displayQuote(cfg chain.ChainConfig, q *types.Quote, verbose bool) {
	req := q.Request

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Chain:             %s (%d)\n", cfg.Name, cfg.ChainID)
	fmt.Printf("  Mode:              %s\n", q.Mode())
	fmt.Printf("  You Pay:           %s %s\n", sellAmount(req), color.YellowString(req.SellToken.Symbol))
	fmt.Printf("  You Receive:       ~%s %s\n",
		types.FormatUnits(q.BuyAmount, req.BuyToken.Decimals), color.YellowString(req.BuyToken.Symbol))
	fmt.Printf("  Platform Fee:      %s %s\n", types.FormatUnits(q.PlatformFee, req.BuyToken.Decimals), req.BuyToken.Symbol)
	fmt.Printf("  Minimum Received:  %s %s (%.2f%% slippage)\n",
		types.FormatUnits(q.MinimumReceived, req.BuyToken.Decimals), req.BuyToken.Symbol, float64(req.SlippageBps)/100)
	if q.NetworkFeeUSD > 0 {
		fmt.Printf("  Network Fee:       ~$%.2f\n", q.NetworkFeeUSD)
	}
	fmt.Printf("  Price Impact:      %s\n", coloredImpact(q))

	if q.Transaction != nil && q.Transaction.Kind == types.PayloadDeposit {
		fmt.Printf("  Deposit Address:   %s\n", color.CyanString(q.Transaction.To))
	}
	if verbose && len(q.Sources) > 0 {
		fmt.Println("  Route:")
		for _, src := range q.Sources {
			fmt.Printf("    %-16s %5.1f%%\n", src.Name, src.Proportion*100)
		}
	}
	fmt.Printf("  Expires In:        %s\n", time.Until(q.ExpiresAt()).Round(time.Second))

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func coloredImpact(q *types.Quote) string {
	text := fmt.Sprintf("%.2f%% (%s)", q.PriceImpact*100, q.Impact)
	switch q.Impact {
	case types.ImpactHigh:
		return color.RedString(text)
	case types.ImpactMedium:
		return color.YellowString(text)
	default:
		return color.GreenString(text)
	}
}

func sellAmount(req types.QuoteRequest) string {
	amount, _ := req.SellAmountInt()
	return types.FormatUnits(amount, req.SellToken.Decimals)
}
