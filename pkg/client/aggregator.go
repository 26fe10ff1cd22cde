package client

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chainswap/pkg/logging"
	"chainswap/pkg/types"
)

// AggregatorConfig configures the liquidity aggregator HTTP client
type AggregatorConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int

	// Platform fee forwarded to the aggregator so the fee leg is routed on-chain.
	// Quotes still report the buy amount gross of it; fees.Calculator takes it out once.
	FeeRecipient string
	PlatformBps  int
}

// endpoint is one aggregator route and the API version it speaks
type endpoint struct {
	path string
	v2   bool
}

var (
	priceEndpoint   = endpoint{path: "/swap/v1/price"}
	quoteEndpoint   = endpoint{path: "/swap/v1/quote"}
	gaslessEndpoint = endpoint{path: "/gasless/quote", v2: true}
)

// AggregatorClient talks to a 0x-style swap API: indicative prices, firm quotes and gasless quotes
type AggregatorClient struct {
	client  *fasthttp.Client
	cfg     AggregatorConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAggregatorClient creates a new aggregator client
func NewAggregatorClient(cfg AggregatorConfig, logger *zap.Logger) *AggregatorClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &AggregatorClient{
		client:  &fasthttp.Client{Name: "chainswap"},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logging.OrNop(logger).Named("aggregator"),
	}
}

// aggregatorResponse covers the price, quote and gasless response shapes
type aggregatorResponse struct {
	LiquidityAvailable   *bool  `json:"liquidityAvailable"`
	BuyAmount            string `json:"buyAmount"`
	GrossBuyAmount       string `json:"grossBuyAmount"` // v1, before the integrator fee
	EstimatedGas         string `json:"estimatedGas"`
	GasPrice             string `json:"gasPrice"`
	EstimatedPriceImpact string `json:"estimatedPriceImpact"` // Percent
	Sources              []struct {
		Name       string `json:"name"`
		Proportion string `json:"proportion"`
	} `json:"sources"`

	// Firm quotes
	To                    string `json:"to"`
	Data                  string `json:"data"`
	Value                 string `json:"value"`
	Gas                   string `json:"gas"`
	SerializedTransaction string `json:"serializedTransaction"` // Solana routes

	// v2 integrator fee, already deducted from buyAmount
	Fees *struct {
		IntegratorFee *struct {
			Amount string `json:"amount"`
			Token  string `json:"token"`
		} `json:"integratorFee"`
	} `json:"fees"`

	// Gasless quotes
	Trade *struct {
		Type   string             `json:"type"`
		EIP712 jsoniter.RawMessage `json:"eip712"`
	} `json:"trade"`
}

type aggregatorError struct {
	Code             int    `json:"code"`
	Reason           string `json:"reason"`
	Message          string `json:"message"`
	ValidationErrors []struct {
		Field  string `json:"field"`
		Reason string `json:"reason"`
	} `json:"validationErrors"`
}

// Price returns an indicative price for the request
func (c *AggregatorClient) Price(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error) {
	return c.fetch(ctx, priceEndpoint, req, false)
}

// FirmQuote returns an executable quote carrying a transaction payload
func (c *AggregatorClient) FirmQuote(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error) {
	return c.fetch(ctx, quoteEndpoint, req, true)
}

// GaslessQuote returns a quote whose trade is settled by the relay from a signed typed-data message
func (c *AggregatorClient) GaslessQuote(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error) {
	return c.fetch(ctx, gaslessEndpoint, req, true)
}

func (c *AggregatorClient) fetch(ctx context.Context, ep endpoint, req types.QuoteRequest, firm bool) (*types.RawQuote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, types.WrapError("", types.CodeAggregatorUnavailable, err, "rate limiter")
	}

	path := ep.path
	requestURL := c.cfg.BaseURL + path + "?" + c.query(req, ep.v2).Encode()
	headers := map[string]string{}
	if ep.v2 {
		headers["0x-version"] = "v2"
	}
	if c.cfg.APIKey != "" {
		headers["0x-api-key"] = c.cfg.APIKey
	}

	c.logger.Debug("Requesting aggregator quote", zap.String("path", path), zap.Uint64("chainId", req.ChainID))

	resp, err := do(ctx, c.client, c.cfg.Timeout, fasthttp.MethodGet, requestURL, headers, nil)
	if err != nil {
		c.logger.Warn("Aggregator request failed", zap.String("path", path), zap.Error(err))
		return nil, types.WrapError("", types.CodeAggregatorUnavailable, err, "aggregator unreachable")
	}
	if resp.status != fasthttp.StatusOK {
		return nil, c.classify(resp)
	}

	var out aggregatorResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, types.WrapError("", types.CodeAggregatorUnavailable, err, "malformed aggregator response")
	}
	if out.LiquidityAvailable != nil && !*out.LiquidityAvailable {
		return nil, types.NewError("", types.CodeNoLiquidity, "no route found for %s -> %s", req.SellToken.Symbol, req.BuyToken.Symbol)
	}
	return toRawQuote(&out, req, firm)
}

// query builds the request parameters. Fee parameters differ between API versions.
func (c *AggregatorClient) query(req types.QuoteRequest, v2 bool) url.Values {
	q := url.Values{}
	q.Set("chainId", strconv.FormatUint(req.ChainID, 10))
	q.Set("sellToken", tokenParam(req.SellToken))
	q.Set("buyToken", tokenParam(req.BuyToken))
	q.Set("sellAmount", req.SellAmount)
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	if req.Taker != "" {
		q.Set("taker", req.Taker)
	}
	if c.cfg.FeeRecipient == "" || c.cfg.PlatformBps <= 0 {
		return q
	}
	if v2 {
		q.Set("swapFeeRecipient", c.cfg.FeeRecipient)
		q.Set("swapFeeBps", strconv.Itoa(c.cfg.PlatformBps))
		q.Set("swapFeeToken", tokenParam(req.BuyToken))
	} else {
		q.Set("feeRecipient", c.cfg.FeeRecipient)
		q.Set("buyTokenPercentageFee", strconv.FormatFloat(float64(c.cfg.PlatformBps)/10000, 'f', -1, 64))
	}
	return q
}

func tokenParam(t types.Token) string {
	if t.IsNative() {
		return types.NativeTokenAddress
	}
	return t.Address
}

// classify maps a non-200 response onto the error taxonomy
func (c *AggregatorClient) classify(resp *httpResponse) error {
	var body aggregatorError
	_ = json.Unmarshal(resp.body, &body)

	reason := body.Reason
	if body.Message != "" {
		reason = body.Message
	}
	for _, v := range body.ValidationErrors {
		if isNoLiquidityReason(v.Reason) {
			return types.NewError("", types.CodeNoLiquidity, "no route: %s", v.Reason)
		}
	}
	if reason == "" {
		reason = errorMessage(resp.body)
	}

	c.logger.Warn("Aggregator returned an error",
		zap.Int("statusCode", resp.status),
		zap.String("reason", reason))

	switch {
	case resp.status == fasthttp.StatusTooManyRequests || resp.status >= 500:
		return types.NewError("", types.CodeAggregatorUnavailable, "aggregator status %d: %s", resp.status, reason)
	case isNoLiquidityReason(reason):
		return types.NewError("", types.CodeNoLiquidity, "no route: %s", reason)
	default:
		return types.NewError("", types.CodeInvalidRequest, "aggregator rejected request (status %d): %s", resp.status, reason)
	}
}

func isNoLiquidityReason(reason string) bool {
	r := strings.ToUpper(reason)
	return strings.Contains(r, "INSUFFICIENT_ASSET_LIQUIDITY") ||
		strings.Contains(r, "NO ROUTE") ||
		strings.Contains(r, "NO_LIQUIDITY")
}

func toRawQuote(out *aggregatorResponse, req types.QuoteRequest, firm bool) (*types.RawQuote, error) {
	if out.BuyAmount == "" {
		return nil, types.NewError("", types.CodeAggregatorUnavailable, "aggregator response has no buy amount")
	}
	buyAmount, err := grossBuyAmount(out)
	if err != nil {
		return nil, err
	}
	raw := &types.RawQuote{
		BuyAmount:    buyAmount,
		EstimatedGas: parseUint(out.EstimatedGas),
		GasPrice:     out.GasPrice,
	}
	if raw.EstimatedGas == 0 {
		raw.EstimatedGas = parseUint(out.Gas)
	}
	if pct, err := strconv.ParseFloat(out.EstimatedPriceImpact, 64); err == nil && !math.IsNaN(pct) {
		raw.PriceImpact = pct / 100
	}
	for _, s := range out.Sources {
		p, err := strconv.ParseFloat(s.Proportion, 64)
		if err != nil || p <= 0 {
			continue
		}
		raw.Sources = append(raw.Sources, types.Source{Name: s.Name, Proportion: p})
	}

	if !firm {
		return raw, nil
	}

	switch {
	case out.Trade != nil && len(out.Trade.EIP712) > 0:
		raw.TypedData = []byte(out.Trade.EIP712)
	case out.SerializedTransaction != "":
		raw.Transaction = &types.TxPayload{Kind: types.PayloadSolanaTx, SerializedTx: out.SerializedTransaction}
	case out.To != "":
		raw.Transaction = &types.TxPayload{
			Kind:     types.PayloadEVMCall,
			To:       out.To,
			Data:     out.Data,
			Value:    out.Value,
			Gas:      parseUint(out.Gas),
			GasPrice: out.GasPrice,
		}
	default:
		return nil, types.NewError("", types.CodeAggregatorUnavailable, "firm quote for chain %d has no executable payload", req.ChainID)
	}
	return raw, nil
}

// grossBuyAmount returns the buy amount before the integrator fee the aggregator deducted
func grossBuyAmount(out *aggregatorResponse) (string, error) {
	if out.GrossBuyAmount != "" {
		return out.GrossBuyAmount, nil
	}
	if out.Fees == nil || out.Fees.IntegratorFee == nil || out.Fees.IntegratorFee.Amount == "" {
		return out.BuyAmount, nil
	}
	net, ok := new(big.Int).SetString(out.BuyAmount, 10)
	if !ok {
		return "", types.NewError("", types.CodeAggregatorUnavailable, "invalid buy amount %q", out.BuyAmount)
	}
	fee, ok := new(big.Int).SetString(out.Fees.IntegratorFee.Amount, 10)
	if !ok {
		return "", types.NewError("", types.CodeAggregatorUnavailable, "invalid integrator fee %q", out.Fees.IntegratorFee.Amount)
	}
	return net.Add(net, fee).String(), nil
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// String identifies the client in logs
func (c *AggregatorClient) String() string {
	return fmt.Sprintf("aggregator(%s)", c.cfg.BaseURL)
}
