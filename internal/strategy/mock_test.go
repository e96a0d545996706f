package strategy

import (
	"context"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/broker"
	"github.com/stretchr/testify/mock"
)

// MockBroker implements broker.Broker for tests.
type MockBroker struct {
	mock.Mock
}

var _ broker.Broker = (*MockBroker)(nil)

func (m *MockBroker) GetProfile(ctx context.Context) (*broker.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.Profile), args.Error(1)
}

func (m *MockBroker) GetFunds(ctx context.Context) (*broker.Funds, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.Funds), args.Error(1)
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.Position), args.Error(1)
}

func (m *MockBroker) GetQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.Quote), args.Error(1)
}

func (m *MockBroker) GetCandles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]broker.Candle, error) {
	args := m.Called(ctx, symbol, resolution, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.Candle), args.Error(1)
}

func (m *MockBroker) GetNearestExpiry(ctx context.Context, symbol string) (time.Time, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockBroker) PlaceOrder(ctx context.Context, req *broker.OrderRequest) (*broker.OrderResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.OrderResponse), args.Error(1)
}

// fakeClock returns a fixed time for boundary tests.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }
