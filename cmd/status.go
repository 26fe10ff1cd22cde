package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chainswap/pkg/swap"
	"chainswap/pkg/types"
	"chainswap/pkg/wallet"
)

var (
	statusChain   string
	statusGasless bool
	statusDeposit bool
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash | tracking-id | deposit-address>",
	Short: "Check the settlement of a swap",
	Long: `Check the settlement of a submitted swap.

Standard swaps are looked up by transaction hash on the chain's RPC, gasless swaps by
relay tracking id (--gasless) and intents deposits by deposit address (--deposit).

Examples:
  chainswap status 0x1234...abcd --chain base
  chainswap status 0x1234...abcd --chain base --gasless --watch
  chainswap status 0x1234...abcd --chain arbitrum --deposit --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusChain, "chain", "", "Chain name or id (REQUIRED)")
	statusCmd.Flags().BoolVar(&statusGasless, "gasless", false, "Look up a relay tracking id")
	statusCmd.Flags().BoolVar(&statusDeposit, "deposit", false, "Look up an intents deposit address")
	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the swap settles")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) {
	id := args[0]

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	cfg, err := a.resolveChain(statusChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	target := swap.Target{ChainID: cfg.ChainID, Mode: types.ModeStandard}
	switch {
	case statusGasless:
		target.Mode = types.ModeGasless
		target.TrackingID = id
	case statusDeposit:
		if a.intents == nil {
			printError(fmt.Errorf("deposit lookups need the intents backend (set aggregator.backend: intents)"))
			os.Exit(1)
		}
		target.DepositAddress = id
	default:
		target.TxHash = id
	}

	// Transaction hashes are looked up through a read-only wallet on the chain's RPC
	var provider wallet.Provider
	if target.TxHash != "" {
		kind, err := resolveWallet("", cfg)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if provider, err = a.provider(kind, cfg.ChainID, nil); err != nil {
			printError(err)
			os.Exit(1)
		}
		if c, ok := provider.(interface{ Close() }); ok {
			defer c.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchStatus {
		if a.jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			os.Exit(1)
		}
		fmt.Printf("\nWatching swap status (%s)\n", color.CyanString(id))
		fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n", watchInterval)

		settlement, err := a.trackAttempt(ctx, target, id, provider, time.Duration(watchInterval)*time.Second)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if settlement != nil && settlement.State == types.SettlementFailed {
			os.Exit(1)
		}
		return
	}

	checkSwapStatus(ctx, a, target, id, provider)
}

func checkSwapStatus(ctx context.Context, a *app, target swap.Target, id string, provider wallet.Provider) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !a.jsonOutput {
		s.Suffix = " Checking swap status..."
		s.Start()
	}

	settlement, err := a.tracker(0).Check(ctx, target, provider)
	if !a.jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if a.jsonOutput {
		printJSON(settlement)
	} else {
		displaySettlement(settlement, id)
	}
}

func displaySettlement(status *types.Settlement, id string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        SWAP STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Reference:       %s\n", color.CyanString(id))
	fmt.Printf("  Status:          %s\n", getColoredStatus(status.State))
	fmt.Printf("  Last Checked:    %s\n", status.CheckedAt.Format("2006-01-02 15:04:05"))

	for _, hash := range status.TxHashes {
		if hash != "" {
			fmt.Printf("  Transaction:     %s\n", color.HiBlackString(hash))
		}
	}
	if status.Reason != "" {
		fmt.Printf("  Reason:          %s\n", status.Reason)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(state types.SettlementState) string {
	status := strings.ToUpper(string(state))

	switch state {
	case types.SettlementConfirmed:
		return color.GreenString(status)
	case types.SettlementPending:
		return color.YellowString(status)
	case types.SettlementFailed:
		return color.RedString(status)
	default:
		return status
	}
}
