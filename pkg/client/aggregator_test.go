package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainswap/pkg/types"
)

var (
	ethToken  = types.Token{Address: types.NativeTokenAddress, Symbol: "ETH", Decimals: 18}
	usdcToken = types.Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
)

func testRequest() types.QuoteRequest {
	return types.QuoteRequest{
		ChainID:     1,
		SellToken:   ethToken,
		BuyToken:    usdcToken,
		SellAmount:  "1000000000000000000",
		SlippageBps: 100,
		Taker:       "0x1111111111111111111111111111111111111111",
	}
}

func newTestAggregator(t *testing.T, handler http.HandlerFunc) *AggregatorClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAggregatorClient(AggregatorConfig{
		BaseURL:      server.URL,
		APIKey:       "secret",
		Timeout:      2 * time.Second,
		FeeRecipient: "0x2222222222222222222222222222222222222222",
		PlatformBps:  50,
	}, nil)
}

func TestPrice(t *testing.T) {
	client := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v1/price", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("0x-api-key"))
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("chainId"))
		assert.Equal(t, types.NativeTokenAddress, q.Get("sellToken"))
		assert.Equal(t, "100", q.Get("slippageBps"))
		assert.Equal(t, "0x2222222222222222222222222222222222222222", q.Get("feeRecipient"))
		assert.Equal(t, "0.005", q.Get("buyTokenPercentageFee"))
		assert.Empty(t, q.Get("swapFeeBps"))
		assert.Empty(t, r.Header.Get("0x-version"))

		_, _ = w.Write([]byte(`{
			"liquidityAvailable": true,
			"buyAmount": "2487500000",
			"grossBuyAmount": "2500000000",
			"estimatedGas": "150000",
			"gasPrice": "20000000000",
			"estimatedPriceImpact": "0.25",
			"sources": [{"name": "Uniswap_V3", "proportion": "0.7"}, {"name": "Curve", "proportion": "0.3"}, {"name": "Unused", "proportion": "0"}]
		}`))
	})

	raw, err := client.Price(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "2500000000", raw.BuyAmount)
	assert.Equal(t, uint64(150000), raw.EstimatedGas)
	assert.Equal(t, "20000000000", raw.GasPrice)
	assert.InDelta(t, 0.0025, raw.PriceImpact, 1e-12)
	require.Len(t, raw.Sources, 2)
	assert.Equal(t, "Uniswap_V3", raw.Sources[0].Name)
	assert.Nil(t, raw.Transaction)
}

func TestFirmQuoteEVM(t *testing.T) {
	client := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v1/quote", r.URL.Path)
		_, _ = w.Write([]byte(`{"buyAmount":"2500000000","gas":"180000","gasPrice":"1","to":"0xdef1","data":"0xabcdef","value":"1000000000000000000"}`))
	})

	raw, err := client.FirmQuote(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, raw.Transaction)
	assert.Equal(t, types.PayloadEVMCall, raw.Transaction.Kind)
	assert.Equal(t, "0xdef1", raw.Transaction.To)
	assert.Equal(t, uint64(180000), raw.Transaction.Gas)
	assert.Equal(t, uint64(180000), raw.EstimatedGas)
}

func TestFirmQuoteSolana(t *testing.T) {
	client := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buyAmount":"42","serializedTransaction":"AQID"}`))
	})

	raw, err := client.FirmQuote(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, types.PayloadSolanaTx, raw.Transaction.Kind)
	assert.Equal(t, "AQID", raw.Transaction.SerializedTx)
}

func TestGaslessQuote(t *testing.T) {
	client := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gasless/quote", r.URL.Path)
		assert.Equal(t, "v2", r.Header.Get("0x-version"))
		q := r.URL.Query()
		assert.Equal(t, "50", q.Get("swapFeeBps"))
		assert.Equal(t, usdcToken.Address, q.Get("swapFeeToken"))
		assert.Empty(t, q.Get("buyTokenPercentageFee"))
		_, _ = w.Write([]byte(`{"buyAmount":"9950","fees":{"integratorFee":{"amount":"50","token":"0xA0b8"}},"trade":{"type":"settler_metatransaction","eip712":{"primaryType":"Trade"}}}`))
	})

	raw, err := client.GaslessQuote(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "10000", raw.BuyAmount)
	assert.JSONEq(t, `{"primaryType":"Trade"}`, string(raw.TypedData))
}

func TestBuyAmountWithoutFeeIsUnchanged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("feeRecipient"))
		_, _ = w.Write([]byte(`{"buyAmount":"777"}`))
	}))
	defer server.Close()

	client := NewAggregatorClient(AggregatorConfig{BaseURL: server.URL}, nil)
	raw, err := client.Price(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "777", raw.BuyAmount)
}

func TestFirmQuoteWithoutPayloadFails(t *testing.T) {
	client := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buyAmount":"99"}`))
	})

	_, err := client.FirmQuote(context.Background(), testRequest())
	assert.True(t, errors.Is(err, types.ErrAggregatorUnavailable))
}

func TestAggregatorErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   *types.Error
	}{
		{"server error", 503, `{"reason":"maintenance"}`, types.ErrAggregatorUnavailable},
		{"rate limited", 429, `{}`, types.ErrAggregatorUnavailable},
		{"no liquidity validation", 400, `{"code":100,"reason":"Validation Failed","validationErrors":[{"field":"buyAmount","reason":"INSUFFICIENT_ASSET_LIQUIDITY"}]}`, types.ErrNoLiquidity},
		{"no route message", 404, `{"message":"No route found"}`, types.ErrNoLiquidity},
		{"bad request", 400, `{"reason":"sellToken is invalid"}`, types.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Price(context.Background(), testRequest())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLiquidityUnavailable(t *testing.T) {
	client := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"liquidityAvailable": false}`))
	})

	_, err := client.Price(context.Background(), testRequest())
	assert.True(t, errors.Is(err, types.ErrNoLiquidity))
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewAggregatorClient(AggregatorConfig{BaseURL: url, Timeout: time.Second}, nil)
	_, err := client.Price(context.Background(), testRequest())
	assert.True(t, errors.Is(err, types.ErrAggregatorUnavailable))
	assert.True(t, isTransportError(err))
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"buyAmount":"1"}`))
	}))
	defer server.Close()

	client := NewAggregatorClient(AggregatorConfig{BaseURL: server.URL, RatePerSecond: 20, Burst: 1}, nil)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Price(context.Background(), testRequest())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
