package cmd

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"chainswap/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var rootCmd = &cobra.Command{
	Use:   "chainswap",
	Short: "A CLI for quoting and executing token swaps across EVM chains and Solana",
	Long: `chainswap quotes token swaps through a liquidity aggregator, applies the platform
fee and slippage, and executes them with a local EVM or Solana wallet, either as a
signed transaction or as a gasless trade submitted through a relay.

Examples:
  chainswap chains --feature gasless
  chainswap tokens base
  chainswap quote 100 USDC to ETH --chain base
  chainswap swap 100 USDC to ETH --chain base --wallet metamask --gasless
  chainswap status <tracking-id> --chain base --gasless`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: .chainswap.yaml in $HOME or the working directory)")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n", err)

	var classified *types.Error
	if errors.As(err, &classified) {
		if classified.Step != "" {
			fmt.Printf("  Step:    %s\n", classified.Step)
		}
		if hint := actionHint(classified.Code); hint != "" {
			fmt.Printf("  Next:    %s\n", color.YellowString(hint))
		}
	}
	fmt.Println()
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

func printJSON(v interface{}) {
	jsonData, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonData))
}

func actionHint(code types.Code) string {
	switch code.Action() {
	case types.ActionInstall:
		return "configure the wallet's private key and RPC endpoint"
	case types.ActionRetryQuote:
		return "request a fresh quote and try again"
	case types.ActionReconnect:
		return "reconnect the wallet and request a new quote"
	case types.ActionRetry:
		return "try again"
	case types.ActionSwitchManually:
		return "switch the wallet to a supported network"
	case types.ActionWait:
		return "wait for the running swap to finish"
	default:
		return ""
	}
}
