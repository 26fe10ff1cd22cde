package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainswap"

// Recorder owns the swap core's collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	quoteRequests   *prometheus.CounterVec
	quoteLatency    prometheus.Histogram
	quotesDiscarded *prometheus.CounterVec
	swapAttempts    *prometheus.CounterVec
	walletEvents    *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		quoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_requests_total",
			Help:      "Aggregator quote requests by outcome.",
		}, []string{"outcome"}),
		quoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_latency_seconds",
			Help:      "Time from dispatch to aggregator response, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		quotesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_discarded_total",
			Help:      "Quote results dropped before publication.",
		}, []string{"reason"}),
		swapAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swap_attempts_total",
			Help:      "Swap attempt state transitions.",
		}, []string{"mode", "state"}),
		walletEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_events_total",
			Help:      "Wallet provider events handled by the session.",
		}, []string{"kind"}),
	}
	registry.MustRegister(r.quoteRequests, r.quoteLatency, r.quotesDiscarded, r.swapAttempts, r.walletEvents)
	return r
}

// QuoteRequest counts one finished aggregator request
func (r *Recorder) QuoteRequest(outcome string, latency time.Duration) {
	if r == nil {
		return
	}
	r.quoteRequests.WithLabelValues(outcome).Inc()
	r.quoteLatency.Observe(latency.Seconds())
}

// QuoteDiscarded counts a result that was never published
func (r *Recorder) QuoteDiscarded(reason string) {
	if r == nil {
		return
	}
	r.quotesDiscarded.WithLabelValues(reason).Inc()
}

// SwapState counts a swap attempt entering state
func (r *Recorder) SwapState(mode, state string) {
	if r == nil {
		return
	}
	r.swapAttempts.WithLabelValues(mode, state).Inc()
}

// WalletEvent counts a provider event
func (r *Recorder) WalletEvent(kind string) {
	if r == nil {
		return
	}
	r.walletEvents.WithLabelValues(kind).Inc()
}

// Gatherer exposes the underlying registry
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in the background
func Serve(addr string, r *Recorder) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
