package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chainswap/pkg/chain"
)

var featureFilter string

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List supported chains",
	Long: `List the chains chainswap can quote and settle on.

Examples:
  chainswap chains
  chainswap chains --feature gasless`,
	Args: cobra.NoArgs,
	Run:  runChains,
}

func init() {
	rootCmd.AddCommand(chainsCmd)

	chainsCmd.Flags().StringVar(&featureFilter, "feature", "", "Only list chains supporting a feature (swap, gasless)")
}

func runChains(cmd *cobra.Command, args []string) {
	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	chains := a.registry.All()
	if featureFilter != "" {
		chains = a.registry.ListWithFeature(chain.Feature(strings.ToLower(featureFilter)))
	}

	if a.jsonOutput {
		printJSON(chains)
		return
	}
	displayChains(chains)
}

func displayChains(chains []chain.ChainConfig) {
	if len(chains) == 0 {
		fmt.Println("\nNo chains found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                       SUPPORTED CHAINS")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println()

	for _, c := range chains {
		gasless := color.HiBlackString("-")
		if c.Supports(chain.FeatureGasless) {
			gasless = color.GreenString("gasless")
		}
		fmt.Printf("  %-12s %10d  %-6s  %-7s  %s\n",
			color.CyanString(c.Name),
			c.ChainID,
			c.NativeSymbol,
			string(c.Ecosystem),
			gasless)
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("\nTotal: %d chains\n\n", len(chains))
}
