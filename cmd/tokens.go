package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chainswap/pkg/chain"
	"chainswap/pkg/types"
)

var filterSymbol string

var tokensCmd = &cobra.Command{
	Use:     "tokens <chain>",
	Aliases: []string{"list-tokens", "ls"},
	Short:   "List tokens tradable on a chain",
	Long: `List the tokens chainswap knows on a chain. Tokens that are not listed can still be
traded by passing their contract address instead of a symbol.

Examples:
  chainswap tokens base
  chainswap tokens 42161 --symbol USD`,
	Args: cobra.ExactArgs(1),
	Run:  runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) {
	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	cfg, err := a.resolveChain(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	tokens, err := a.registry.Tokens(cfg.ChainID)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	// Apply filters
	filtered := tokens
	if filterSymbol != "" {
		var temp []types.Token
		for _, token := range filtered {
			if strings.Contains(strings.ToUpper(token.Symbol), strings.ToUpper(filterSymbol)) {
				temp = append(temp, token)
			}
		}
		filtered = temp
	}

	// Output
	if a.jsonOutput {
		printJSON(filtered)
	} else {
		displayTokens(cfg, filtered)
	}
}

func displayTokens(cfg chain.ChainConfig, tokens []types.Token) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 90))

	color.Cyan("\n%s (%d)", strings.ToUpper(cfg.Name), cfg.ChainID)
	fmt.Println(strings.Repeat("-", 90))

	for _, token := range tokens {
		address := token.Address
		if token.IsNative() {
			address = "native"
		}

		// Truncate address if too long
		if len(address) > 44 {
			address = address[:41] + "..."
		}

		fmt.Printf("  %-10s  %2d decimals  %s\n",
			color.YellowString(token.Symbol),
			token.Decimals,
			color.HiBlackString(address))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens\n\n", len(tokens))
}
