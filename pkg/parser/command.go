package parser

import (
	"fmt"
	"regexp"
	"strings"

	"chainswap/pkg/types"
)

// Pattern: [swap|quote] <amount> <sell_token> to <buy_token>
// Matches: "1 SOL to USDC", "swap 1.5 eth to usdc", "100 0x8335...2913 to ETH"
var commandPattern = regexp.MustCompile(`(?i)^(?:swap\s+|quote\s+)?(\d+(?:\.\d+)?|\.\d+)\s+(\S+)\s+to\s+(\S+)$`)

// Command is a parsed trade in human units
type Command struct {
	Amount    string // Decimal amount of the sell token
	SellToken string // Symbol or address
	BuyToken  string // Symbol or address
}

// TokenFinder resolves a symbol or address on a chain
type TokenFinder interface {
	FindToken(chainID uint64, symbolOrAddress string) (types.Token, error)
}

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1 SOL to USDC"
//   - "1.5 ETH to WETH"
//   - "100 USDC to SOL"
func ParseSwapCommand(command string) (*Command, error) {
	command = strings.Join(strings.Fields(command), " ")

	matches := commandPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: '<amount> <token> to <token>' (e.g., '1 ETH to USDC')")
	}

	return &Command{
		Amount:    matches[1],
		SellToken: NormalizeTokenSymbol(matches[2]),
		BuyToken:  NormalizeTokenSymbol(matches[3]),
	}, nil
}

// ValidateCommand validates that a command has all required fields
func ValidateCommand(c *Command) error {
	if c.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if c.SellToken == "" {
		return fmt.Errorf("sell token is required")
	}
	if c.BuyToken == "" {
		return fmt.Errorf("buy token is required")
	}
	if strings.EqualFold(c.SellToken, c.BuyToken) {
		return fmt.Errorf("sell and buy token must differ")
	}
	return nil
}

// QuoteRequest resolves the command's tokens on chainID and converts the amount to base units
func (c *Command) QuoteRequest(tokens TokenFinder, chainID uint64, slippageBps int) (types.QuoteRequest, error) {
	if err := ValidateCommand(c); err != nil {
		return types.QuoteRequest{}, types.WrapError(types.StepQuoting, types.CodeInvalidRequest, err, "invalid swap command")
	}
	sell, err := tokens.FindToken(chainID, c.SellToken)
	if err != nil {
		return types.QuoteRequest{}, types.WithStep(err, types.StepQuoting)
	}
	buy, err := tokens.FindToken(chainID, c.BuyToken)
	if err != nil {
		return types.QuoteRequest{}, types.WithStep(err, types.StepQuoting)
	}
	amount, err := types.ParseUnits(c.Amount, sell.Decimals)
	if err != nil {
		return types.QuoteRequest{}, types.WrapError(types.StepQuoting, types.CodeInvalidRequest, err, fmt.Sprintf("invalid amount %q", c.Amount))
	}

	return types.QuoteRequest{
		ChainID:     chainID,
		SellToken:   sell,
		BuyToken:    buy,
		SellAmount:  amount.String(),
		SlippageBps: slippageBps,
	}, nil
}

// NormalizeTokenSymbol normalizes token symbols to standard format. Addresses are kept as given.
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if looksLikeAddress(symbol) {
		return symbol
	}
	symbol = strings.ToUpper(symbol)

	// Handle common aliases
	aliases := map[string]string{
		"USDC.E": "USDC",
		"MATIC":  "POL",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}

func looksLikeAddress(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "0x") || len(s) >= 32
}
