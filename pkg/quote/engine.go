// Package quote turns trade requests into priced, fee-adjusted quotes. Only the most recently issued
// request is ever published.
package quote

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"chainswap/pkg/chain"
	"chainswap/pkg/fees"
	"chainswap/pkg/logging"
	"chainswap/pkg/metrics"
	"chainswap/pkg/retry"
	"chainswap/pkg/types"
	"chainswap/pkg/wallet"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	DefaultTTL      = 30 * time.Second
)

var (
	errSuperseded = errors.New("quote request superseded")
	errClosed     = errors.New("quote engine closed")
)

// Aggregator is the liquidity source quotes are priced against
type Aggregator interface {
	Price(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error)
	FirmQuote(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error)
	GaslessQuote(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error)
}

// NativePricer prices a chain's native asset in USD for network fee estimates
type NativePricer interface {
	NativeUSD(ctx context.Context, chainID uint64) (float64, error)
}

// Session is the read-only view of the wallet session the engine needs
type Session interface {
	Snapshot() (types.WalletAccount, wallet.Provider, uint64, bool)
	OnChange(fn func(wallet.Change)) func()
}

// Config tunes the engine
type Config struct {
	Debounce    time.Duration
	TTL         time.Duration
	AutoRefresh bool // Re-request the last trade when its quote expires
	Firm        bool // Request executable quotes when a taker is known
	Retry       retry.Policy
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Debounce:    DefaultDebounce,
		TTL:         DefaultTTL,
		AutoRefresh: true,
		Retry:       retry.Default(),
	}
}

// Result is what observers receive for one sequence number. Exactly one of Quote and Err is set,
// unless Invalidated is true, in which case both are nil.
type Result struct {
	Seq         uint64
	Quote       *types.Quote
	Err         error
	Invalidated bool
}

// Engine debounces quote requests, prices them and publishes only the latest result
type Engine struct {
	cfg        Config
	registry   *chain.Registry
	aggregator Aggregator
	fees       *fees.Calculator
	prices     NativePricer
	session    Session
	logger     *zap.Logger
	metrics    *metrics.Recorder
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	seq          uint64
	last         *types.QuoteRequest
	current      *types.Quote
	debounce     *time.Timer
	refresh      *time.Timer
	observers    map[int]func(Result)
	nextObserver int
	stopWatching func()
	closed       bool
}

// NewEngine creates a quote engine
func NewEngine(cfg Config, registry *chain.Registry, aggregator Aggregator, calculator *fees.Calculator, logger *zap.Logger, recorder *metrics.Recorder) *Engine {
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		registry:   registry,
		aggregator: aggregator,
		fees:       calculator,
		logger:     logging.OrNop(logger).Named("quote-engine"),
		metrics:    recorder,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		observers:  make(map[int]func(Result)),
	}
}

// WithPrices sets the native asset price source used for network fee estimates
func (e *Engine) WithPrices(prices NativePricer) *Engine {
	e.prices = prices
	return e
}

// WithSession follows the wallet session: quotes carry its taker address and epoch, and every
// account, chain or connection change invalidates the pending and published quote.
func (e *Engine) WithSession(s Session) *Engine {
	stop := s.OnChange(func(c wallet.Change) {
		if c.Invalidates() {
			e.Invalidate()
		}
	})

	e.mu.Lock()
	if e.stopWatching != nil {
		e.stopWatching()
	}
	e.session = s
	e.stopWatching = stop
	e.mu.Unlock()
	return e
}

// Subscribe registers fn for published results and returns a function removing it.
// Observers run on engine goroutines and must not block.
func (e *Engine) Subscribe(fn func(Result)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// RequestQuote issues a new sequence number for req. Invalid requests fail immediately without
// network I/O; valid ones are sent once no newer request arrives within the debounce window.
func (e *Engine) RequestQuote(req types.QuoteRequest) (uint64, error) {
	_, checkErr := e.check(req)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, errClosed
	}
	e.seq++
	seq := e.seq
	e.stopTimersLocked()
	e.current = nil

	if checkErr != nil {
		e.last = nil
		e.mu.Unlock()
		e.logger.Debug("Rejected quote request", zap.Uint64("seq", seq), zap.Error(checkErr))
		e.metrics.QuoteRequest("invalid", 0)
		e.publish(Result{Seq: seq, Err: checkErr})
		return seq, checkErr
	}

	r := req
	e.last = &r
	e.debounce = time.AfterFunc(e.cfg.Debounce, func() { e.fire(seq) })
	e.mu.Unlock()
	return seq, nil
}

// Refresh re-issues the last valid request without waiting for the debounce window
func (e *Engine) Refresh() (uint64, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, errClosed
	}
	if e.last == nil {
		e.mu.Unlock()
		return 0, types.NewError(types.StepQuoting, types.CodeInvalidRequest, "no quote has been requested")
	}
	e.seq++
	seq := e.seq
	e.stopTimersLocked()
	e.current = nil
	req := *e.last
	e.mu.Unlock()

	go e.run(seq, req)
	return seq, nil
}

// Invalidate voids the pending and published quote. The last request is kept for Refresh.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.seq++
	seq := e.seq
	e.stopTimersLocked()
	e.current = nil
	e.mu.Unlock()

	e.logger.Debug("Quotes invalidated", zap.Uint64("seq", seq))
	e.publish(Result{Seq: seq, Invalidated: true})
}

// Current returns the published quote for the latest request, or nil
func (e *Engine) Current() *types.Quote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// LatestSeq returns the most recently issued sequence number
func (e *Engine) LatestSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Fetch prices req synchronously, skipping the debounce and sequence bookkeeping.
// The returned quote does not become Current.
func (e *Engine) Fetch(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
	cfg, err := e.check(req)
	if err != nil {
		e.metrics.QuoteRequest("invalid", 0)
		return nil, err
	}
	req, epoch := e.bindSession(req)

	start := e.now()
	q, err := e.fetch(ctx, cfg, req, 0, epoch, nil)
	e.metrics.QuoteRequest(outcome(err), e.now().Sub(start))
	return q, err
}

// Close stops timers and abandons in-flight requests
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopTimersLocked()
	stop := e.stopWatching
	e.stopWatching = nil
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	e.cancel()
}

// check validates a request against the registry without touching the network
func (e *Engine) check(req types.QuoteRequest) (chain.ChainConfig, error) {
	if err := req.Validate(); err != nil {
		return chain.ChainConfig{}, err
	}
	cfg, err := e.registry.Get(req.ChainID)
	if err != nil {
		return chain.ChainConfig{}, types.WithStep(err, types.StepQuoting)
	}
	if !cfg.Supports(chain.FeatureSwap) {
		return chain.ChainConfig{}, types.NewError(types.StepQuoting, types.CodeUnsupportedChain, "swaps are not available on %s", cfg.Name)
	}
	if req.EffectiveMode() == types.ModeGasless && !cfg.Supports(chain.FeatureGasless) {
		return chain.ChainConfig{}, types.NewError(types.StepQuoting, types.CodeGaslessUnsupported, "gasless swaps are not available on %s", cfg.Name)
	}
	return cfg, nil
}

// bindSession fills the taker from the connected account and returns the session epoch
func (e *Engine) bindSession(req types.QuoteRequest) (types.QuoteRequest, uint64) {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return req, 0
	}
	acct, _, epoch, ok := s.Snapshot()
	if ok && req.Taker == "" && acct.ChainID == req.ChainID {
		req.Taker = acct.Address
	}
	return req, epoch
}

func (e *Engine) fire(seq uint64) {
	e.mu.Lock()
	if e.closed || seq != e.seq || e.last == nil {
		e.mu.Unlock()
		return
	}
	req := *e.last
	e.mu.Unlock()

	e.run(seq, req)
}

// run fetches one sequence number and publishes the result if it is still the latest
func (e *Engine) run(seq uint64, req types.QuoteRequest) {
	cfg, err := e.check(req)
	if err != nil {
		e.publish(Result{Seq: seq, Err: err})
		return
	}
	req, epoch := e.bindSession(req)

	start := e.now()
	q, err := e.fetch(e.ctx, cfg, req, seq, epoch, func() bool { return e.isLatest(seq) })

	e.mu.Lock()
	if e.closed || seq != e.seq {
		e.mu.Unlock()
		e.logger.Debug("Discarding superseded quote", zap.Uint64("seq", seq))
		e.metrics.QuoteDiscarded("superseded")
		return
	}
	if err == nil {
		e.current = q
		e.scheduleRefreshLocked(seq, q)
	}
	e.mu.Unlock()

	e.metrics.QuoteRequest(outcome(err), e.now().Sub(start))
	if err != nil {
		e.logger.Info("Quote failed",
			zap.Uint64("seq", seq),
			zap.String("code", string(types.CodeOf(err))),
			zap.Error(err))
	} else {
		e.logger.Debug("Quote published",
			zap.Uint64("seq", seq),
			zap.String("buyAmount", q.BuyAmount.String()),
			zap.String("impact", string(q.Impact)))
	}
	e.publish(Result{Seq: seq, Quote: q, Err: err})
}

func (e *Engine) fetch(ctx context.Context, cfg chain.ChainConfig, req types.QuoteRequest, seq, epoch uint64, latest func() bool) (*types.Quote, error) {
	policy := e.cfg.Retry
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			e.logger.Debug("Retrying quote",
				zap.Uint64("seq", seq),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}

	var raw *types.RawQuote
	err := policy.Do(ctx, func(ctx context.Context) error {
		if latest != nil && !latest() {
			return errSuperseded
		}
		var err error
		raw, err = e.call(ctx, req)
		return classify(err)
	})
	if err != nil {
		return nil, err
	}
	return e.build(ctx, cfg, req, raw, seq, epoch)
}

func (e *Engine) call(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error) {
	switch {
	case req.EffectiveMode() == types.ModeGasless:
		return e.aggregator.GaslessQuote(ctx, req)
	case e.cfg.Firm && req.Taker != "":
		return e.aggregator.FirmQuote(ctx, req)
	default:
		return e.aggregator.Price(ctx, req)
	}
}

// classify labels aggregator errors with the quoting step. Unclassified failures count as unavailability.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if types.CodeOf(err) == "" {
		return types.WrapError(types.StepQuoting, types.CodeAggregatorUnavailable, err, "aggregator request failed")
	}
	return types.WithStep(err, types.StepQuoting)
}

// build applies fees to a raw quote
func (e *Engine) build(ctx context.Context, cfg chain.ChainConfig, req types.QuoteRequest, raw *types.RawQuote, seq, epoch uint64) (*types.Quote, error) {
	buy, ok := new(big.Int).SetString(raw.BuyAmount, 10)
	if !ok || buy.Sign() < 0 {
		return nil, types.NewError(types.StepQuoting, types.CodeAggregatorUnavailable, "malformed buy amount %q", raw.BuyAmount)
	}
	var gasPrice *big.Int
	if raw.GasPrice != "" {
		gasPrice, _ = new(big.Int).SetString(raw.GasPrice, 10)
	}
	if req.EffectiveMode() == types.ModeGasless && len(raw.TypedData) == 0 {
		return nil, types.NewError(types.StepQuoting, types.CodeAggregatorUnavailable, "gasless quote has no typed data to sign")
	}

	var nativeUSD float64
	if e.prices != nil && raw.EstimatedGas > 0 && gasPrice != nil {
		usd, err := e.prices.NativeUSD(ctx, req.ChainID)
		if err != nil {
			e.logger.Debug("Native price unavailable", zap.Uint64("chainId", req.ChainID), zap.Error(err))
		} else {
			nativeUSD = usd
		}
	}

	breakdown, err := e.fees.Apply(fees.Input{
		BuyAmount:      buy,
		EstimatedGas:   raw.EstimatedGas,
		GasPrice:       gasPrice,
		SlippageBps:    req.SlippageBps,
		PriceImpact:    raw.PriceImpact,
		NativeDecimals: cfg.NativeDecimals,
		NativeUSD:      nativeUSD,
	})
	if err != nil {
		return nil, types.WrapError(types.StepQuoting, types.CodeInvalidRequest, err, "failed to apply fees")
	}

	q := &types.Quote{
		Request:         req,
		BuyAmount:       buy,
		EstimatedGas:    raw.EstimatedGas,
		GasPrice:        gasPrice,
		Sources:         append([]types.Source(nil), raw.Sources...),
		PriceImpact:     raw.PriceImpact,
		IssuedAt:        e.now(),
		TTL:             e.cfg.TTL,
		PlatformFee:     breakdown.PlatformFee,
		MinimumReceived: breakdown.MinimumReceived,
		NetworkFeeUSD:   breakdown.NetworkFeeUSD,
		Impact:          breakdown.Impact,
		TypedData:       append([]byte(nil), raw.TypedData...),
		Seq:             seq,
		SessionEpoch:    epoch,
	}
	if raw.Transaction != nil {
		tx := *raw.Transaction
		q.Transaction = &tx
	}
	return q, nil
}

func (e *Engine) scheduleRefreshLocked(seq uint64, q *types.Quote) {
	if !e.cfg.AutoRefresh {
		return
	}
	e.refresh = time.AfterFunc(q.ExpiresAt().Sub(e.now()), func() { e.expire(seq) })
}

// expire re-requests the last trade once its quote is no longer executable
func (e *Engine) expire(seq uint64) {
	e.mu.Lock()
	if e.closed || seq != e.seq || e.last == nil {
		e.mu.Unlock()
		return
	}
	e.seq++
	next := e.seq
	e.current = nil
	req := *e.last
	e.mu.Unlock()

	e.logger.Debug("Quote expired, refreshing", zap.Uint64("seq", next))
	e.run(next, req)
}

func (e *Engine) isLatest(seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && seq == e.seq
}

func (e *Engine) stopTimersLocked() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	if e.refresh != nil {
		e.refresh.Stop()
		e.refresh = nil
	}
}

// publish delivers r to observers when it still belongs to the latest sequence number
func (e *Engine) publish(r Result) {
	e.mu.Lock()
	if r.Seq != e.seq {
		e.mu.Unlock()
		return
	}
	fns := make([]func(Result), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(r)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := types.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
