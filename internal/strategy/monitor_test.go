package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/broker"
	"github.com/eddiefleurent/nifty_basket/internal/models"
	"github.com/eddiefleurent/nifty_basket/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMonitor(mb *MockBroker, clock Clock, th Thresholds) *PositionMonitor {
	reads := retry.NewReader(mb, zap.NewNop().Sugar(), retry.Config{
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Timeout:        time.Second,
	})
	return NewPositionMonitor(reads, zap.NewNop().Sugar(), clock, 15, 0, th)
}

func istTime(hour, min int) time.Time {
	loc := time.FixedZone("IST", 5*3600+1800)
	return time.Date(2026, 2, 2, hour, min, 0, 0, loc) // a Monday
}

func TestComputeThresholds(t *testing.T) {
	th := ComputeThresholds(185000, 2.0, 1.0)
	assert.InDelta(t, 3700.0, th.Target, 1e-9)
	assert.InDelta(t, 1850.0, th.StopLoss, 1e-9)
}

func TestEvaluateBoundaries(t *testing.T) {
	th := ComputeThresholds(100000, 2.0, 1.0) // target 2000, stop 1000
	m := newTestMonitor(new(MockBroker), &fakeClock{}, th)
	during := istTime(11, 0)

	tests := []struct {
		name string
		pnl  float64
		want models.ExitReason
	}{
		{"exactly at target", 2000, models.ExitReasonTarget},
		{"above target", 2500, models.ExitReasonTarget},
		{"just below target", 1999.99, models.ExitReasonNone},
		{"exactly at stop", -1000, models.ExitReasonStopLoss},
		{"below stop", -1500, models.ExitReasonStopLoss},
		{"just above stop", -999.99, models.ExitReasonNone},
		{"between thresholds", 500, models.ExitReasonNone},
		{"zero", 0, models.ExitReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Evaluate(tt.pnl, during))
		})
	}
}

func TestEvaluateExitTime(t *testing.T) {
	th := ComputeThresholds(100000, 2.0, 1.0)
	m := newTestMonitor(new(MockBroker), &fakeClock{}, th)

	// One second before the exit time: no signal
	assert.Equal(t, models.ExitReasonNone, m.Evaluate(0, istTime(14, 59)))
	// Exactly at the exit time: close out
	assert.Equal(t, models.ExitReasonMarketClose, m.Evaluate(0, istTime(15, 0)))
	// A P&L threshold beats the clock when both hold
	assert.Equal(t, models.ExitReasonTarget, m.Evaluate(2000, istTime(15, 0)))
}

func TestEvaluateZeroThresholdsDisabled(t *testing.T) {
	// Deployed capital unknown: only the clock can trigger an exit
	m := newTestMonitor(new(MockBroker), &fakeClock{}, Thresholds{})

	assert.Equal(t, models.ExitReasonNone, m.Evaluate(999999, istTime(11, 0)))
	assert.Equal(t, models.ExitReasonNone, m.Evaluate(-999999, istTime(11, 0)))
	assert.Equal(t, models.ExitReasonMarketClose, m.Evaluate(0, istTime(15, 0)))
}

func TestTargetCheckedBeforeStopLoss(t *testing.T) {
	// Degenerate thresholds where one P&L satisfies both: target wins
	m := newTestMonitor(new(MockBroker), &fakeClock{}, Thresholds{Target: 100, StopLoss: -200})
	assert.Equal(t, models.ExitReasonTarget, m.Evaluate(150, istTime(11, 0)))
}

func TestTotalPnL(t *testing.T) {
	positions := []broker.Position{
		{Symbol: "A", PL: 1250.5},
		{Symbol: "B", PL: -310.0},
		{Symbol: "C", PL: 0},
	}
	assert.InDelta(t, 940.5, TotalPnL(positions), 1e-9)
	assert.InDelta(t, 0.0, TotalPnL(nil), 1e-9)
}

func TestTickSkipsOnReadFailure(t *testing.T) {
	mb := new(MockBroker)
	mb.On("GetPositions", mock.Anything).Return(nil, errors.New("connection reset"))

	clock := &fakeClock{now: istTime(11, 0)}
	m := newTestMonitor(mb, clock, ComputeThresholds(100000, 2, 1))

	reason, _, err := m.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ExitReasonNone, reason)
}

func TestRunExitsOnTarget(t *testing.T) {
	mb := new(MockBroker)
	mb.On("GetPositions", mock.Anything).
		Return([]broker.Position{{Symbol: "A", PL: 2500}}, nil)

	clock := &fakeClock{now: istTime(11, 0)}
	m := newTestMonitor(mb, clock, ComputeThresholds(100000, 2, 1))

	reason, pnl, err := m.Run(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.ExitReasonTarget, reason)
	assert.InDelta(t, 2500.0, pnl, 1e-9)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	mb := new(MockBroker)
	mb.On("GetPositions", mock.Anything).
		Return([]broker.Position{{Symbol: "A", PL: 10}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	clock := &fakeClock{now: istTime(11, 0)}
	m := newTestMonitor(mb, clock, ComputeThresholds(100000, 2, 1))

	_, _, err := m.Run(ctx, time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
