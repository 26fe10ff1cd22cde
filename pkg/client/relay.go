package client

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"chainswap/pkg/logging"
	"chainswap/pkg/types"
)

// RelayClient submits signed gasless trades and reports their settlement
type RelayClient struct {
	client  *fasthttp.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRelayClient creates a new relay client
func NewRelayClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *RelayClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RelayClient{
		client:  &fasthttp.Client{Name: "chainswap"},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		logger:  logging.OrNop(logger).Named("relay"),
		now:     time.Now,
	}
}

type submitRequest struct {
	ChainID   uint64              `json:"chainId"`
	Trade     jsoniter.RawMessage `json:"trade"`
	Signature string              `json:"signature"`
}

type submitResponse struct {
	TradeHash string `json:"tradeHash"`
}

type statusResponse struct {
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	Transactions []struct {
		Hash string `json:"hash"`
	} `json:"transactions"`
}

// Submit posts a signed typed-data trade and returns the relay's tracking id.
// 4xx responses are RelayRejected, transport failures and 5xx are SubmissionFailed.
func (r *RelayClient) Submit(ctx context.Context, chainID uint64, typedData []byte, signature string) (string, error) {
	body, err := json.Marshal(submitRequest{ChainID: chainID, Trade: jsoniter.RawMessage(typedData), Signature: signature})
	if err != nil {
		return "", types.WrapError("", types.CodeSubmissionFailed, err, "failed to encode relay request")
	}

	resp, err := do(ctx, r.client, r.timeout, fasthttp.MethodPost, r.baseURL+"/submit", r.headers(), body)
	if err != nil {
		r.logger.Warn("Relay submit failed", zap.Error(err))
		return "", types.WrapError("", types.CodeSubmissionFailed, err, "relay unreachable")
	}
	if resp.status >= 400 && resp.status < 500 {
		return "", types.NewError("", types.CodeRelayRejected, "relay rejected trade (status %d): %s", resp.status, errorMessage(resp.body))
	}
	if resp.status < 200 || resp.status >= 300 {
		return "", types.NewError("", types.CodeSubmissionFailed, "relay status %d: %s", resp.status, errorMessage(resp.body))
	}

	var out submitResponse
	if err := json.Unmarshal(resp.body, &out); err != nil || out.TradeHash == "" {
		return "", types.NewError("", types.CodeSubmissionFailed, "relay acknowledged without a tracking id")
	}

	r.logger.Info("Relay accepted trade", zap.Uint64("chainId", chainID), zap.String("tradeHash", out.TradeHash))
	return out.TradeHash, nil
}

// Status reports the settlement of a relay tracking id
func (r *RelayClient) Status(ctx context.Context, trackingID string) (*types.Settlement, error) {
	resp, err := do(ctx, r.client, r.timeout, fasthttp.MethodGet, r.baseURL+"/status/"+trackingID, r.headers(), nil)
	if err != nil {
		return nil, types.WrapError("", types.CodeSubmissionFailed, err, "relay unreachable")
	}
	if resp.status != fasthttp.StatusOK {
		return nil, types.NewError("", types.CodeSubmissionFailed, "relay status %d: %s", resp.status, errorMessage(resp.body))
	}

	var out statusResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, types.WrapError("", types.CodeSubmissionFailed, err, "malformed relay status")
	}

	s := &types.Settlement{
		ID:        trackingID,
		State:     relayState(out.Status),
		Reason:    out.Reason,
		CheckedAt: r.now(),
	}
	for _, tx := range out.Transactions {
		if tx.Hash != "" {
			s.TxHashes = append(s.TxHashes, tx.Hash)
		}
	}
	return s, nil
}

func relayState(status string) types.SettlementState {
	switch strings.ToLower(status) {
	case "confirmed", "succeeded", "success":
		return types.SettlementConfirmed
	case "failed", "reverted", "cancelled":
		return types.SettlementFailed
	default:
		return types.SettlementPending
	}
}

func (r *RelayClient) headers() map[string]string {
	h := map[string]string{}
	if r.apiKey != "" {
		h["0x-api-key"] = r.apiKey
	}
	return h
}
