package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/broker"
	"github.com/eddiefleurent/nifty_basket/internal/config"
	"github.com/eddiefleurent/nifty_basket/internal/journal"
	"github.com/eddiefleurent/nifty_basket/internal/models"
	"github.com/eddiefleurent/nifty_basket/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func engineConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper"},
		Broker:      config.BrokerConfig{ClientID: "TEST123"},
		Strategy: config.StrategyConfig{
			Underlying:  "NIFTY",
			IndexSymbol: "NSE:NIFTY50-INDEX",
			Variant:     "ladder",
			LotSize:     75,
			StrikeBase:  50,
			Legs: []config.LegConfig{
				{Role: "BUY_ATM_PLUS_200", OTMOffset: 200, QtyMultiplier: 1, Side: "buy"},
				{Role: "SELL_ATM_PLUS_400", OTMOffset: 400, QtyMultiplier: 3, Side: "sell"},
				{Role: "BUY_ATM_PLUS_600", OTMOffset: 600, QtyMultiplier: 2, Side: "buy"},
			},
			TargetPct:    2.0,
			StopLossPct:  1.0,
			EntryWeekday: "Monday",
			EntryTime:    "09:45",
			ExitTime:     "15:00",
			ProductType:  "INTRADAY",
			PollInterval: "1ms",
			OrderPacing:  "0s",
			Timezone:     "Asia/Kolkata",
			EntryPolicy:  "time",
		},
	}
}

func newTestEngine(cfg *config.Config, mb *MockBroker, clock Clock, jnl *journal.Journal) *Engine {
	logger := zap.NewNop().Sugar()
	reads := retry.NewReader(mb, logger, retry.Config{
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Timeout:        time.Second,
	})
	executor := NewBasketExecutor(mb, logger, cfg.Strategy.ProductType, cfg.OrderPacing())
	executor.sleep = func(context.Context, time.Duration) error { return nil }
	selector := NewLadderSelector(&cfg.Strategy)
	return NewEngine(cfg, reads, selector, AlwaysEnter{}, executor, jnl, logger, clock)
}

func TestEntryGateBoundaries(t *testing.T) {
	e := newTestEngine(engineConfig(), new(MockBroker), &fakeClock{}, nil)
	loc := time.FixedZone("IST", 5*3600+1800)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"exactly at entry time", time.Date(2026, 2, 2, 9, 45, 0, 0, loc), true},
		{"one second before", time.Date(2026, 2, 2, 9, 44, 59, 0, loc), false},
		{"well after entry", time.Date(2026, 2, 2, 13, 0, 0, 0, loc), true},
		{"wrong weekday", time.Date(2026, 2, 3, 10, 0, 0, 0, loc), false},
		{"saturday", time.Date(2026, 2, 7, 10, 0, 0, 0, loc), false},
		{"after market close", time.Date(2026, 2, 2, 15, 30, 0, 0, loc), false},
		{"before market open", time.Date(2026, 2, 2, 9, 0, 0, 0, loc), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.EntryGateOpen(tt.now))
		})
	}
}

func TestIsMarketOpen(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"open boundary inclusive", time.Date(2026, 2, 2, 9, 15, 0, 0, loc), true},
		{"just before open", time.Date(2026, 2, 2, 9, 14, 59, 0, loc), false},
		{"close boundary exclusive", time.Date(2026, 2, 2, 15, 30, 0, 0, loc), false},
		{"just before close", time.Date(2026, 2, 2, 15, 29, 59, 0, loc), true},
		{"sunday", time.Date(2026, 2, 1, 11, 0, 0, 0, loc), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMarketOpen(tt.now))
		})
	}
}

// steppingClock advances by step on every read so gate re-checks see
// time moving.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestWaitForEntryRechecksAtPollInterval(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// Starts before the gate; a few re-checks step it past 09:45. With
	// the 1ms poll interval this must finish well inside the deadline.
	clock := &steppingClock{
		now:  time.Date(2026, 2, 2, 9, 44, 0, 0, loc),
		step: 30 * time.Second,
	}

	e := newTestEngine(engineConfig(), new(MockBroker), clock, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.waitForEntry(ctx))
	assert.Equal(t, models.StateEntering, e.State().Current())
}

func TestRunFullCycleTargetExit(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	clock := &fakeClock{now: time.Date(2026, 2, 2, 11, 0, 0, 0, loc)}
	expiry := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)

	mb := new(MockBroker)
	mb.On("GetQuote", mock.Anything, "NSE:NIFTY50-INDEX").
		Return(&broker.Quote{Symbol: "NSE:NIFTY50-INDEX", LTP: 22050}, nil)
	mb.On("GetNearestExpiry", mock.Anything, "NSE:NIFTY50-INDEX").Return(expiry, nil)
	mb.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(&broker.OrderResponse{S: "ok", ID: "1"}, nil)
	mb.On("GetFunds", mock.Anything).
		Return(&broker.Funds{UtilizedMargin: 185000}, nil)
	mb.On("GetPositions", mock.Anything).
		Return([]broker.Position{
			{Symbol: "NSE:NIFTY05FEB2622250CE", NetQty: 75, PL: 4000},
			{Symbol: "NSE:NIFTY05FEB2622450CE", NetQty: -225, PL: 100},
			{Symbol: "NSE:NIFTY05FEB2622650CE", NetQty: 150, PL: -200},
		}, nil)

	jnl, err := journal.New(t.TempDir() + "/journal.json")
	require.NoError(t, err)

	e := newTestEngine(engineConfig(), mb, clock, jnl)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, models.StateDone, e.State().Current())

	// The live snapshot is cleared once the cycle is journaled
	snap := e.Monitoring()
	assert.False(t, snap.Active)
	assert.Zero(t, snap.DeployedCapital)
	assert.Equal(t, models.ExitReasonNone, snap.ExitReason)

	cycles := jnl.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, "TARGET", cycles[0].ExitReason)
	assert.Equal(t, "done", cycles[0].FinalState)
	assert.InDelta(t, 185000.0, cycles[0].DeployedCapital, 1e-9)
	assert.InDelta(t, 3900.0, cycles[0].PnL, 1e-9)
	assert.Len(t, cycles[0].Legs, 3)
}

func TestRunPartialBasketFails(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	clock := &fakeClock{now: time.Date(2026, 2, 2, 11, 0, 0, 0, loc)}
	expiry := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)

	mb := new(MockBroker)
	mb.On("GetQuote", mock.Anything, "NSE:NIFTY50-INDEX").
		Return(&broker.Quote{LTP: 22050}, nil)
	mb.On("GetNearestExpiry", mock.Anything, "NSE:NIFTY50-INDEX").Return(expiry, nil)
	mb.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(r *broker.OrderRequest) bool {
		return r.Symbol == "NSE:NIFTY05FEB2622250CE"
	})).Return(&broker.OrderResponse{S: "ok", ID: "1"}, nil)
	mb.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(r *broker.OrderRequest) bool {
		return r.Symbol == "NSE:NIFTY05FEB2622450CE"
	})).Return(nil, errors.New("order rejected: insufficient margin"))

	jnl, err := journal.New(t.TempDir() + "/journal.json")
	require.NoError(t, err)

	e := newTestEngine(engineConfig(), mb, clock, jnl)
	err = e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 legs accepted")
	assert.Equal(t, models.StateFailed, e.State().Current())

	// No unwind: positions were never read, no exit orders placed
	mb.AssertNotCalled(t, "GetPositions", mock.Anything)

	cycles := jnl.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, "failed", cycles[0].FinalState)
	require.Len(t, cycles[0].Legs, 2)
	assert.False(t, cycles[0].Legs[1].Accepted)
}

func TestExitFlatBookIsNoOp(t *testing.T) {
	mb := new(MockBroker)
	mb.On("GetPositions", mock.Anything).Return([]broker.Position{}, nil)

	e := newTestEngine(engineConfig(), mb, &fakeClock{now: time.Now()}, nil)
	require.NoError(t, e.Exit(context.Background(), models.ExitReasonManual))
	mb.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestExitPlacesInverseBasket(t *testing.T) {
	mb := new(MockBroker)
	mb.On("GetPositions", mock.Anything).Return([]broker.Position{
		{Symbol: "NSE:NIFTY05FEB2622450CE", NetQty: -225},
	}, nil)

	var placed *broker.OrderRequest
	mb.On("PlaceOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { placed = args.Get(1).(*broker.OrderRequest) }).
		Return(&broker.OrderResponse{S: "ok", ID: "9"}, nil)

	e := newTestEngine(engineConfig(), mb, &fakeClock{now: time.Now()}, nil)
	require.NoError(t, e.Exit(context.Background(), models.ExitReasonManual))

	require.NotNil(t, placed)
	assert.Equal(t, broker.OrderSideBuy, placed.Side)
	assert.Equal(t, 225, placed.Qty)
	assert.Equal(t, "EXIT_MANUAL", placed.OrderTag)
}
