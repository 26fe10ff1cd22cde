// Package swap drives a confirmed quote through signing and submission, and tracks the result
// until it settles.
package swap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainswap/pkg/logging"
	"chainswap/pkg/metrics"
	"chainswap/pkg/types"
	"chainswap/pkg/wallet"
)

// State is one step of an attempt's lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateConfirming State = "confirming"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Terminal reports whether the attempt is finished
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Attempt is one execution of one quote. A finished attempt is never restarted; retrying needs a
// fresh quote and a new attempt.
type Attempt struct {
	ID    string       `json:"id"`
	Quote *types.Quote `json:"-"`
	Mode  types.Mode   `json:"mode"`
	State State        `json:"state"`

	ChainID        uint64 `json:"chainId"`
	Account        string `json:"account"`
	TxHash         string `json:"txHash,omitempty"`
	TrackingID     string `json:"trackingId,omitempty"`
	DepositAddress string `json:"depositAddress,omitempty"`
	Err            error  `json:"-"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	epoch uint64
	stale bool
}

// Reference returns the identifier a user would look the attempt up by
func (a Attempt) Reference() string {
	switch {
	case a.TrackingID != "":
		return a.TrackingID
	case a.TxHash != "":
		return a.TxHash
	default:
		return a.ID
	}
}

// Session is the part of the wallet session the executor depends on
type Session interface {
	Snapshot() (types.WalletAccount, wallet.Provider, uint64, bool)
	OnChange(fn func(wallet.Change)) func()
	RefreshBalance(ctx context.Context) error
}

// Relay accepts signed gasless trades
type Relay interface {
	Submit(ctx context.Context, chainID uint64, typedData []byte, signature string) (string, error)
}

// QuoteSource re-fetches executable payloads for quotes that were priced without one
type QuoteSource interface {
	FirmQuote(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error)
	GaslessQuote(ctx context.Context, req types.QuoteRequest) (*types.RawQuote, error)
}

// DepositNotifier is told about deposit transfers so the counterparty can settle faster
type DepositNotifier interface {
	NotifyDeposit(ctx context.Context, depositAddress, txHash string) error
}

// Executor runs at most one attempt at a time for its wallet session
type Executor struct {
	session  Session
	relay    Relay
	quotes   QuoteSource
	notifier DepositNotifier
	logger   *zap.Logger
	metrics  *metrics.Recorder
	now      func() time.Time

	mu           sync.Mutex
	active       *Attempt
	last         *Attempt
	observers    map[int]func(Attempt)
	nextObserver int
	stopWatching func()
}

// NewExecutor creates an executor bound to session. relay may be nil when gasless swaps are not used.
func NewExecutor(session Session, relay Relay, logger *zap.Logger, recorder *metrics.Recorder) *Executor {
	e := &Executor{
		session:   session,
		relay:     relay,
		logger:    logging.OrNop(logger).Named("swap-executor"),
		metrics:   recorder,
		now:       time.Now,
		observers: make(map[int]func(Attempt)),
	}
	e.stopWatching = session.OnChange(e.handleChange)
	return e
}

// WithQuoteSource sets where payloads missing from a quote are fetched
func (e *Executor) WithQuoteSource(q QuoteSource) *Executor {
	e.quotes = q
	return e
}

// WithDepositNotifier sets the notifier for deposit-style payloads
func (e *Executor) WithDepositNotifier(n DepositNotifier) *Executor {
	e.notifier = n
	return e
}

// Subscribe registers fn for every attempt state transition and returns a function removing it.
// fn runs synchronously inside the transition and must not call back into the executor.
func (e *Executor) Subscribe(fn func(Attempt)) func() {
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

// State returns the state of the most recent attempt, or idle
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return StateIdle
	}
	return e.last.State
}

// Last returns a copy of the most recent attempt
func (e *Executor) Last() (Attempt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Attempt{}, false
	}
	return *e.last, true
}

// Close stops following the wallet session
func (e *Executor) Close() {
	e.mu.Lock()
	stop := e.stopWatching
	e.stopWatching = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Confirm executes q against the connected wallet. Expired quotes, quotes priced for another
// account, chain or session, and confirmations while another attempt is running are rejected
// without creating an attempt. Once created, the attempt always ends in success or error and
// its final copy is returned with any error.
func (e *Executor) Confirm(ctx context.Context, q *types.Quote) (*Attempt, error) {
	a, provider, err := e.begin(q)
	if err != nil {
		e.logger.Info("Confirmation rejected", zap.String("code", string(types.CodeOf(err))), zap.Error(err))
		return nil, err
	}
	e.logger.Info("Swap attempt started",
		zap.String("attempt", a.ID),
		zap.String("mode", string(a.Mode)),
		zap.Uint64("chainId", a.ChainID))

	switch a.Mode {
	case types.ModeGasless:
		err = e.runGasless(ctx, a, provider)
	default:
		err = e.runStandard(ctx, a, provider)
	}
	if err != nil {
		return e.fail(a, err), err
	}
	return e.succeed(ctx, a), nil
}

// begin runs the pre-flight checks and registers the attempt as active
func (e *Executor) begin(q *types.Quote) (*Attempt, wallet.Provider, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return nil, nil, types.NewError(types.StepConfirming, types.CodeAttemptInProgress, "attempt %s is still %s", e.active.ID, e.active.State)
	}
	if q == nil {
		return nil, nil, types.NewError(types.StepConfirming, types.CodeInvalidRequest, "no quote to confirm")
	}
	now := e.now()
	if q.Expired(now) {
		return nil, nil, types.NewError(types.StepConfirming, types.CodeQuoteExpired, "quote expired at %s", q.ExpiresAt().Format(time.RFC3339))
	}

	acct, provider, epoch, ok := e.session.Snapshot()
	if !ok || provider == nil {
		return nil, nil, types.NewError(types.StepConfirming, types.CodeNotConnected, "no wallet connected")
	}
	if err := matchSession(q, acct, epoch); err != nil {
		return nil, nil, err
	}

	a := &Attempt{
		ID:        uuid.NewString(),
		Quote:     q,
		Mode:      q.Mode(),
		State:     StateConfirming,
		ChainID:   q.Request.ChainID,
		Account:   acct.Address,
		StartedAt: now,
		UpdatedAt: now,
		epoch:     epoch,
	}
	e.active = a
	e.last = a
	e.transitionLocked(a)
	return a, provider, nil
}

// matchSession rejects quotes that were priced for a different wallet state than the current one
func matchSession(q *types.Quote, acct types.WalletAccount, epoch uint64) error {
	if q.SessionEpoch != 0 && q.SessionEpoch != epoch {
		return types.NewError(types.StepConfirming, types.CodeSessionMismatch, "wallet changed since the quote was issued")
	}
	if q.Request.ChainID != acct.ChainID {
		return types.NewError(types.StepConfirming, types.CodeSessionMismatch, "quote is for chain %d, wallet is on chain %d", q.Request.ChainID, acct.ChainID)
	}
	if q.Request.Taker != "" && !types.SameAddress(q.Request.Taker, acct.Address) {
		return types.NewError(types.StepConfirming, types.CodeSessionMismatch, "quote is for account %s, wallet is %s", q.Request.Taker, acct.Address)
	}
	return nil
}

func (e *Executor) runStandard(ctx context.Context, a *Attempt, provider wallet.Provider) error {
	payload, err := e.payload(ctx, a)
	if err != nil {
		return err
	}
	if err := e.enterSubmitting(a); err != nil {
		return err
	}

	hash, err := provider.SignAndSend(ctx, payload)
	if err != nil {
		return wallet.ClassifyError(types.StepSubmitting, err, "wallet failed to sign and send the swap")
	}

	e.mu.Lock()
	a.TxHash = hash
	if payload.Kind == types.PayloadDeposit {
		a.DepositAddress = payload.To
	}
	e.mu.Unlock()

	if payload.Kind == types.PayloadDeposit && e.notifier != nil {
		if err := e.notifier.NotifyDeposit(ctx, payload.To, hash); err != nil {
			e.logger.Warn("Failed to report deposit", zap.String("attempt", a.ID), zap.String("txHash", hash), zap.Error(err))
		}
	}
	return nil
}

func (e *Executor) runGasless(ctx context.Context, a *Attempt, provider wallet.Provider) error {
	if e.relay == nil {
		return types.NewError(types.StepConfirming, types.CodeGaslessUnsupported, "no relay configured")
	}
	typedData, err := e.typedData(ctx, a)
	if err != nil {
		return err
	}
	if err := e.enterSubmitting(a); err != nil {
		return err
	}

	signature, err := provider.SignMessage(ctx, typedData)
	if err != nil {
		return wallet.ClassifyError(types.StepSubmitting, err, "wallet failed to sign the trade")
	}
	// The signature belongs to the account that was active when the prompt opened
	if err := e.checkSession(a, types.StepSubmitting); err != nil {
		return err
	}

	trackingID, err := e.relay.Submit(ctx, a.ChainID, typedData, signature)
	if err != nil {
		if types.CodeOf(err) == "" {
			return types.WrapError(types.StepSubmitting, types.CodeSubmissionFailed, err, "relay submission failed")
		}
		return types.WithStep(err, types.StepSubmitting)
	}

	e.mu.Lock()
	a.TrackingID = trackingID
	e.mu.Unlock()
	return nil
}

// payload returns the quote's transaction, fetching a firm quote when it was only priced
func (e *Executor) payload(ctx context.Context, a *Attempt) (*types.TxPayload, error) {
	if a.Quote.Transaction != nil {
		tx := *a.Quote.Transaction
		return &tx, nil
	}
	if e.quotes == nil {
		return nil, types.NewError(types.StepConfirming, types.CodeSubmissionFailed, "quote has no transaction to sign")
	}
	raw, err := e.quotes.FirmQuote(ctx, e.firmRequest(a))
	if err != nil {
		return nil, classifyQuoteError(err)
	}
	if raw.Transaction == nil {
		return nil, types.NewError(types.StepConfirming, types.CodeAggregatorUnavailable, "aggregator returned no transaction")
	}
	return raw.Transaction, nil
}

// typedData returns the quote's trade to sign, fetching a gasless quote when it was only priced
func (e *Executor) typedData(ctx context.Context, a *Attempt) ([]byte, error) {
	if len(a.Quote.TypedData) > 0 {
		return append([]byte(nil), a.Quote.TypedData...), nil
	}
	if e.quotes == nil {
		return nil, types.NewError(types.StepConfirming, types.CodeSubmissionFailed, "quote has no trade to sign")
	}
	raw, err := e.quotes.GaslessQuote(ctx, e.firmRequest(a))
	if err != nil {
		return nil, classifyQuoteError(err)
	}
	if len(raw.TypedData) == 0 {
		return nil, types.NewError(types.StepConfirming, types.CodeAggregatorUnavailable, "aggregator returned no trade to sign")
	}
	return raw.TypedData, nil
}

func (e *Executor) firmRequest(a *Attempt) types.QuoteRequest {
	req := a.Quote.Request
	req.Taker = a.Account
	return req
}

func classifyQuoteError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if types.CodeOf(err) == "" {
		return types.WrapError(types.StepConfirming, types.CodeAggregatorUnavailable, err, "failed to fetch executable quote")
	}
	return types.WithStep(err, types.StepConfirming)
}

func (e *Executor) enterSubmitting(a *Attempt) error {
	if err := e.checkSession(a, types.StepConfirming); err != nil {
		return err
	}
	e.mu.Lock()
	a.State = StateSubmitting
	a.UpdatedAt = e.now()
	e.transitionLocked(a)
	e.mu.Unlock()
	return nil
}

// checkSession fails the attempt when the wallet changed after it started
func (e *Executor) checkSession(a *Attempt, step types.Step) error {
	acct, _, epoch, ok := e.session.Snapshot()

	e.mu.Lock()
	stale := a.stale
	e.mu.Unlock()

	switch {
	case !ok:
		return types.NewError(step, types.CodeSessionMismatch, "wallet disconnected during the swap")
	case stale || epoch != a.epoch || !types.SameAddress(acct.Address, a.Account) || acct.ChainID != a.ChainID:
		return types.NewError(step, types.CodeSessionMismatch, "wallet changed during the swap")
	}
	return nil
}

func (e *Executor) fail(a *Attempt, err error) *Attempt {
	e.mu.Lock()
	a.State = StateError
	a.Err = err
	a.UpdatedAt = e.now()
	e.active = nil
	e.transitionLocked(a)
	out := *a
	e.mu.Unlock()

	e.logger.Warn("Swap attempt failed",
		zap.String("attempt", a.ID),
		zap.String("step", string(types.StepOf(err))),
		zap.String("code", string(types.CodeOf(err))),
		zap.Error(err))
	return &out
}

func (e *Executor) succeed(ctx context.Context, a *Attempt) *Attempt {
	e.mu.Lock()
	a.State = StateSuccess
	a.UpdatedAt = e.now()
	e.active = nil
	e.transitionLocked(a)
	out := *a
	e.mu.Unlock()

	e.logger.Info("Swap submitted",
		zap.String("attempt", a.ID),
		zap.String("txHash", out.TxHash),
		zap.String("trackingId", out.TrackingID))

	if err := e.session.RefreshBalance(ctx); err != nil {
		e.logger.Warn("Balance refresh after swap failed", zap.String("attempt", a.ID), zap.Error(err))
	}
	return &out
}

func (e *Executor) handleChange(c wallet.Change) {
	if !c.Invalidates() {
		return
	}
	e.mu.Lock()
	a := e.active
	if a != nil {
		a.stale = true
	}
	e.mu.Unlock()

	if a != nil {
		e.logger.Info("Wallet changed during swap attempt", zap.String("attempt", a.ID), zap.String("change", string(c.Kind)))
	}
}

// transitionLocked records the new state and notifies observers. Observers run with the lock held
// and must not call back into the executor.
func (e *Executor) transitionLocked(a *Attempt) {
	e.metrics.SwapState(string(a.Mode), string(a.State))
	snapshot := *a
	for _, fn := range e.observers {
		fn(snapshot)
	}
}
