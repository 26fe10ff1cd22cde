package client

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"chainswap/pkg/logging"
	"chainswap/pkg/types"
)

// intentsBlockchains maps chain ids onto 1Click blockchain names
var intentsBlockchains = map[uint64]string{
	1:         "eth",
	10:        "op",
	56:        "bsc",
	137:       "pol",
	8453:      "base",
	42161:     "arb",
	43114:     "avax",
	792703809: "sol",
}

const tokensCacheKey = "tokens"

// intentsToken is the subset of a 1Click token the adapter matches on
type intentsToken struct {
	assetID    string
	symbol     string
	blockchain string
	contract   string
	decimals   uint8
}

// IntentsAggregator prices and settles same-chain swaps through the NEAR Intents 1Click API.
// Firm quotes carry a deposit transfer instead of a contract call.
type IntentsAggregator struct {
	client   *oneclick.APIClient
	jwtToken string
	tokens   *cache.Cache
	logger   *zap.Logger
	deadline time.Duration
}

// NewIntentsAggregator creates a new 1Click backed aggregator
func NewIntentsAggregator(jwtToken, baseURL string, logger *zap.Logger) *IntentsAggregator {
	config := oneclick.NewConfiguration()
	if baseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: strings.TrimRight(baseURL, "/")}}
	}

	return &IntentsAggregator{
		client:   oneclick.NewAPIClient(config),
		jwtToken: jwtToken,
		tokens:   cache.New(10*time.Minute, 20*time.Minute),
		logger:   logging.OrNop(logger).Named("intents"),
		deadline: 30 * time.Minute,
	}
}

func (a *IntentsAggregator) authed(ctx context.Context) context.Context {
	return context.WithValue(ctx, oneclick.ContextAccessToken, a.jwtToken)
}

// supportedTokens retrieves all supported tokens, cached
func (a *IntentsAggregator) supportedTokens(ctx context.Context) ([]intentsToken, error) {
	if cached, ok := a.tokens.Get(tokensCacheKey); ok {
		return cached.([]intentsToken), nil
	}

	resp, httpResp, err := a.client.OneClickAPI.GetTokens(a.authed(ctx)).Execute()
	if err != nil {
		return nil, types.WrapError("", types.CodeAggregatorUnavailable, err, "failed to get tokens")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 {
		return nil, types.NewError("", types.CodeAggregatorUnavailable, "intents API returned status code %d", httpResp.StatusCode)
	}

	tokens := make([]intentsToken, 0, len(resp))
	for _, t := range resp {
		tokens = append(tokens, intentsToken{
			assetID:    t.GetAssetId(),
			symbol:     t.GetSymbol(),
			blockchain: t.GetBlockchain(),
			contract:   t.GetContractAddress(),
			decimals:   uint8(t.GetDecimals()),
		})
	}
	a.tokens.SetDefault(tokensCacheKey, tokens)
	return tokens, nil
}

// findToken resolves a token on a chain by contract address, or by symbol for native assets
func findToken(tokens []intentsToken, chainID uint64, want types.Token) (intentsToken, error) {
	blockchain, ok := intentsBlockchains[chainID]
	if !ok {
		return intentsToken{}, types.NewError("", types.CodeUnsupportedChain, "chain %d is not served by intents", chainID)
	}
	for _, t := range tokens {
		if !strings.EqualFold(t.blockchain, blockchain) {
			continue
		}
		if want.IsNative() {
			if t.contract == "" && strings.EqualFold(t.symbol, want.Symbol) {
				return t, nil
			}
			continue
		}
		if types.SameAddress(t.contract, want.Address) {
			return t, nil
		}
	}
	return intentsToken{}, types.NewError("", types.CodeNoLiquidity, "token %s is not tradable through intents on %s", want.Symbol, blockchain)
}

// Price returns a dry quote
func (a *IntentsAggregator) Price(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error) {
	q, _, err := a.quote(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// FirmQuote returns a live quote whose payload transfers the sell amount to the deposit address
func (a *IntentsAggregator) FirmQuote(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error) {
	q, details, err := a.quote(ctx, req, false)
	if err != nil {
		return nil, err
	}
	if details.GetDepositAddress() == "" {
		return nil, types.NewError("", types.CodeAggregatorUnavailable, "intents quote has no deposit address")
	}
	q.Transaction = &types.TxPayload{
		Kind:   types.PayloadDeposit,
		To:     details.GetDepositAddress(),
		Token:  req.SellToken,
		Amount: req.SellAmount,
	}
	if details.HasDepositMemo() {
		q.Transaction.Memo = details.GetDepositMemo()
	}
	return q, nil
}

// GaslessQuote is not offered by intents
func (a *IntentsAggregator) GaslessQuote(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error) {
	return nil, types.NewError("", types.CodeGaslessUnsupported, "intents settles through deposits, gasless is unavailable")
}

func (a *IntentsAggregator) quote(ctx context.Context, req types.QuoteRequest, dry bool) (*types.RawQuote, *oneclick.Quote, error) {
	if req.Taker == "" {
		return nil, nil, types.NewError("", types.CodeInvalidRequest, "intents quotes need a taker address for recipient and refunds")
	}

	tokens, err := a.supportedTokens(ctx)
	if err != nil {
		return nil, nil, err
	}
	sellToken, err := findToken(tokens, req.ChainID, req.SellToken)
	if err != nil {
		return nil, nil, err
	}
	buyToken, err := findToken(tokens, req.ChainID, req.BuyToken)
	if err != nil {
		return nil, nil, err
	}

	deadline := time.Now().Add(a.deadline)
	quoteReq := oneclick.NewQuoteRequest(
		dry,                 // dry - true for a price without a deposit address
		"EXACT_INPUT",       // swapType
		0,                   // slippageTolerance, set below
		sellToken.assetID,   // originAsset
		"ORIGIN_CHAIN",      // depositType
		buyToken.assetID,    // destinationAsset
		req.SellAmount,      // amount in smallest unit
		req.Taker,           // refundTo
		"ORIGIN_CHAIN",      // refundType
		req.Taker,           // recipient
		"DESTINATION_CHAIN", // recipientType
		deadline,            // deadline
	)
	setNumber(&quoteReq.SlippageTolerance, req.SlippageBps)

	resp, httpResp, err := a.client.OneClickAPI.GetQuote(a.authed(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, nil, a.quoteError(httpResp, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, nil, types.NewError("", types.CodeAggregatorUnavailable, "intents API returned status code %d", httpResp.StatusCode)
	}
	if resp == nil {
		return nil, nil, types.NewError("", types.CodeAggregatorUnavailable, "empty quote response")
	}

	details := resp.GetQuote()
	buy, err := baseUnits(details.GetAmountOut())
	if err != nil {
		return nil, nil, err
	}

	return &types.RawQuote{
		BuyAmount: buy,
		Sources:   []types.Source{{Name: "NEAR Intents", Proportion: 1}},
	}, &details, nil
}

// baseUnits validates an amount the API already reports in the token's smallest unit
func baseUnits(amount string) (string, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok || v.Sign() < 0 {
		return "", types.NewError("", types.CodeAggregatorUnavailable, "unparseable intents amount %q", amount)
	}
	return v.String(), nil
}

// quoteError extracts the actual error message from a failed quote response
func (a *IntentsAggregator) quoteError(httpResp *http.Response, err error) error {
	if httpResp == nil {
		return types.WrapError("", types.CodeAggregatorUnavailable, err, "failed to get quote from intents API")
	}
	defer httpResp.Body.Close()

	msg := err.Error()
	if body, readErr := io.ReadAll(httpResp.Body); readErr == nil && len(body) > 0 {
		msg = errorMessage(body)
	}
	a.logger.Warn("Intents quote failed", zap.Int("statusCode", httpResp.StatusCode), zap.String("message", msg))

	status := httpResp.StatusCode
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return types.NewError("", types.CodeAggregatorUnavailable, "intents API error (status %d): %s", status, msg)
	case isNoLiquidityReason(msg) || strings.Contains(strings.ToLower(msg), "too low"):
		return types.NewError("", types.CodeNoLiquidity, "intents API error (status %d): %s", status, msg)
	default:
		return types.NewError("", types.CodeInvalidRequest, "intents API error (status %d): %s", status, msg)
	}
}

// Status checks the execution status of a swap by its deposit address
func (a *IntentsAggregator) Status(ctx context.Context, depositAddress string) (*types.Settlement, error) {
	resp, httpResp, err := a.client.OneClickAPI.GetExecutionStatus(a.authed(ctx)).DepositAddress(depositAddress).Execute()
	if err != nil {
		return nil, types.WrapError("", types.CodeAggregatorUnavailable, err, "failed to get status")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 {
		return nil, types.NewError("", types.CodeAggregatorUnavailable, "intents API returned status code %d", httpResp.StatusCode)
	}

	s := &types.Settlement{
		ID:        depositAddress,
		State:     intentsState(resp.GetStatus()),
		Reason:    resp.GetStatus(),
		CheckedAt: time.Now(),
	}
	details := resp.GetSwapDetails()
	for _, tx := range details.GetDestinationChainTxHashes() {
		if h := tx.GetHash(); h != "" {
			s.TxHashes = append(s.TxHashes, h)
		}
	}
	return s, nil
}

// NotifyDeposit submits the deposit transaction hash so the solver picks it up sooner
func (a *IntentsAggregator) NotifyDeposit(ctx context.Context, depositAddress, txHash string) error {
	req := oneclick.NewSubmitDepositTxRequest(depositAddress, txHash)

	_, httpResp, err := a.client.OneClickAPI.SubmitDepositTx(a.authed(ctx)).SubmitDepositTxRequest(*req).Execute()
	if err != nil {
		return fmt.Errorf("failed to submit deposit: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 && httpResp.StatusCode != 201 {
		return fmt.Errorf("intents API returned status code %d", httpResp.StatusCode)
	}
	return nil
}

func intentsState(status string) types.SettlementState {
	switch strings.ToUpper(status) {
	case "SUCCESS", "COMPLETED":
		return types.SettlementConfirmed
	case "FAILED", "REFUNDED":
		return types.SettlementFailed
	default:
		return types.SettlementPending
	}
}

// setNumber assigns an integer to a generated numeric field whatever its width
func setNumber[T ~int32 | ~int64 | ~float32 | ~float64](dst *T, v int) {
	*dst = T(v)
}
