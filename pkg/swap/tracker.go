package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chainswap/pkg/logging"
	"chainswap/pkg/types"
	"chainswap/pkg/wallet"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultMaxPolls     = 120 // One hour at the default interval
)

// ErrStillPending is returned when polling stops before the settlement is terminal
var ErrStillPending = errors.New("settlement still pending")

// StatusSource reports the settlement of a tracking id, tx hash or deposit address
type StatusSource interface {
	Status(ctx context.Context, id string) (*types.Settlement, error)
}

// Target identifies what to poll for one submitted swap
type Target struct {
	Mode           types.Mode
	ChainID        uint64
	TxHash         string
	TrackingID     string
	DepositAddress string
}

// TargetOf returns the polling target of a submitted attempt
func TargetOf(a Attempt) Target {
	return Target{
		Mode:           a.Mode,
		ChainID:        a.ChainID,
		TxHash:         a.TxHash,
		TrackingID:     a.TrackingID,
		DepositAddress: a.DepositAddress,
	}
}

// Tracker polls settlement status after submission. Gasless trades are polled at the relay,
// deposits at the intents service and everything else through the wallet provider.
type Tracker struct {
	relay    StatusSource
	deposits StatusSource
	interval time.Duration
	maxPolls int
	logger   *zap.Logger
}

// NewTracker creates a tracker. Non-positive values fall back to the defaults.
func NewTracker(interval time.Duration, maxPolls int, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	return &Tracker{
		interval: interval,
		maxPolls: maxPolls,
		logger:   logging.OrNop(logger).Named("tracker"),
	}
}

// WithRelay sets the status source for gasless trades
func (t *Tracker) WithRelay(s StatusSource) *Tracker {
	t.relay = s
	return t
}

// WithDeposits sets the status source for deposit addresses
func (t *Tracker) WithDeposits(s StatusSource) *Tracker {
	t.deposits = s
	return t
}

// Check polls target once
func (t *Tracker) Check(ctx context.Context, target Target, provider wallet.Provider) (*types.Settlement, error) {
	switch {
	case target.Mode == types.ModeGasless:
		if t.relay == nil || target.TrackingID == "" {
			return nil, types.NewError(types.StepTracking, types.CodeInvalidRequest, "gasless tracking needs a relay and a tracking id")
		}
		return t.relay.Status(ctx, target.TrackingID)
	case target.DepositAddress != "" && t.deposits != nil:
		return t.deposits.Status(ctx, target.DepositAddress)
	}

	if target.TxHash == "" {
		return nil, types.NewError(types.StepTracking, types.CodeInvalidRequest, "nothing to track")
	}
	checker, ok := provider.(wallet.TxStatusChecker)
	if !ok {
		return nil, types.NewError(types.StepTracking, types.CodeInvalidRequest, "wallet cannot report transaction status")
	}
	return checker.TxStatus(ctx, target.TxHash)
}

// Track polls target until it settles, ctx is done or the poll budget runs out. onUpdate, when
// set, receives every successful observation. Poll failures are logged and retried at the next tick.
func (t *Tracker) Track(ctx context.Context, target Target, provider wallet.Provider, onUpdate func(*types.Settlement)) (*types.Settlement, error) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var last *types.Settlement
	for polls := 0; polls < t.maxPolls; polls++ {
		if polls > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-ticker.C:
			}
		}

		s, err := t.Check(ctx, target, provider)
		if err != nil {
			if types.CodeOf(err) == types.CodeInvalidRequest {
				return nil, err
			}
			t.logger.Debug("Status check failed", zap.Int("poll", polls+1), zap.Error(err))
			continue
		}
		last = s
		if onUpdate != nil {
			onUpdate(s)
		}
		if s.State.Terminal() {
			t.logger.Info("Swap settled", zap.String("id", s.ID), zap.String("state", string(s.State)))
			return s, nil
		}
	}
	return last, fmt.Errorf("%w after %d checks", ErrStillPending, t.maxPolls)
}
