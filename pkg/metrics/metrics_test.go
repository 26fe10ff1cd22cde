package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()

	r.QuoteRequest("ok", 120*time.Millisecond)
	r.QuoteRequest("ok", 80*time.Millisecond)
	r.QuoteDiscarded("superseded")
	r.SwapState("gasless", "success")
	r.WalletEvent("accounts_changed")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.quoteRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.quotesDiscarded.WithLabelValues("superseded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.swapAttempts.WithLabelValues("gasless", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.walletEvents.WithLabelValues("accounts_changed")))

	mfs, err := r.Gatherer().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["chainswap_quote_latency_seconds"])
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.QuoteRequest("ok", time.Second)
		r.QuoteDiscarded("superseded")
		r.SwapState("standard", "error")
		r.WalletEvent("disconnect")
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRecorder()
	r.WalletEvent("chain_changed")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chainswap_wallet_events_total{kind="chain_changed"} 1`)
}
