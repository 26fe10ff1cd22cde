package swap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainswap/pkg/types"
	"chainswap/pkg/wallet"
)

type depositSource map[string]types.SettlementState

func (d depositSource) Status(ctx context.Context, id string) (*types.Settlement, error) {
	state, ok := d[id]
	if !ok {
		return nil, errors.New("unknown deposit")
	}
	return &types.Settlement{ID: id, State: state}, nil
}

// statuslessProvider hides TxStatus from the wrapped provider
type statuslessProvider struct {
	wallet.Provider
}

func TestTrackGaslessPollsRelay(t *testing.T) {
	relay := &fakeRelay{
		statusErr: 1,
		statuses:  []types.SettlementState{types.SettlementPending, types.SettlementPending, types.SettlementConfirmed},
	}
	tracker := NewTracker(time.Millisecond, 10, nil).WithRelay(relay)

	var updates []types.SettlementState
	s, err := tracker.Track(context.Background(), Target{Mode: types.ModeGasless, TrackingID: "trade-1"}, nil,
		func(s *types.Settlement) { updates = append(updates, s.State) })
	require.NoError(t, err)
	assert.Equal(t, types.SettlementConfirmed, s.State)
	assert.Equal(t, "trade-1", s.ID)
	assert.Equal(t, []types.SettlementState{types.SettlementPending, types.SettlementPending, types.SettlementConfirmed}, updates)
}

func TestTrackStandardUsesProvider(t *testing.T) {
	provider := &fakeProvider{statuses: map[string][]types.SettlementState{
		"0xabc": {types.SettlementPending, types.SettlementFailed},
	}}
	tracker := NewTracker(time.Millisecond, 10, nil)

	s, err := tracker.Track(context.Background(), Target{Mode: types.ModeStandard, TxHash: "0xabc"}, provider, nil)
	require.NoError(t, err)
	assert.Equal(t, types.SettlementFailed, s.State)

	_, err = tracker.Check(context.Background(), Target{TxHash: "0xabc"}, statuslessProvider{provider})
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))
	assert.Equal(t, types.StepTracking, types.StepOf(err))
}

func TestTrackDepositPrefersIntents(t *testing.T) {
	provider := &fakeProvider{}
	deposits := depositSource{"0xdeposit": types.SettlementConfirmed}
	tracker := NewTracker(time.Millisecond, 3, nil).WithDeposits(deposits)

	a := Attempt{Mode: types.ModeStandard, ChainID: 1, TxHash: "0xabc", DepositAddress: "0xdeposit"}
	s, err := tracker.Track(context.Background(), TargetOf(a), provider, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xdeposit", s.ID)
	assert.Equal(t, types.SettlementConfirmed, s.State)
}

func TestTrackGivesUpAfterMaxPolls(t *testing.T) {
	relay := &fakeRelay{statuses: []types.SettlementState{types.SettlementPending}}
	tracker := NewTracker(time.Millisecond, 3, nil).WithRelay(relay)

	s, err := tracker.Track(context.Background(), Target{Mode: types.ModeGasless, TrackingID: "trade-1"}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStillPending))
	require.NotNil(t, s)
	assert.Equal(t, types.SettlementPending, s.State)
}

func TestTrackStopsOnContextCancel(t *testing.T) {
	relay := &fakeRelay{statuses: []types.SettlementState{types.SettlementPending}}
	tracker := NewTracker(time.Hour, 3, nil).WithRelay(relay)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s, err := tracker.Track(ctx, Target{Mode: types.ModeGasless, TrackingID: "trade-1"}, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, s)
	assert.Equal(t, types.SettlementPending, s.State)
}

func TestTrackRejectsUntrackableTargets(t *testing.T) {
	tracker := NewTracker(0, 0, nil)
	assert.Equal(t, DefaultPollInterval, tracker.interval)
	assert.Equal(t, DefaultMaxPolls, tracker.maxPolls)

	_, err := tracker.Track(context.Background(), Target{Mode: types.ModeGasless, TrackingID: "trade-1"}, nil, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	_, err = tracker.Track(context.Background(), Target{Mode: types.ModeStandard}, &fakeProvider{}, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))
}
