package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/broker"
	"github.com/eddiefleurent/nifty_basket/internal/models"
	"go.uber.org/zap"
)

// BasketExecutor places multi-leg baskets as sequential market orders.
type BasketExecutor struct {
	broker      broker.Broker
	logger      *zap.SugaredLogger
	productType string
	pacing      time.Duration
	sleep       func(context.Context, time.Duration) error
}

// NewBasketExecutor creates an executor. pacing is the delay inserted
// between consecutive leg placements.
func NewBasketExecutor(b broker.Broker, logger *zap.SugaredLogger, productType string, pacing time.Duration) *BasketExecutor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BasketExecutor{
		broker:      b,
		logger:      logger,
		productType: productType,
		pacing:      pacing,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute places the basket legs in order. The first rejected leg stops
// the sequence: already-placed legs are reported accepted and nothing
// is unwound here. The caller inspects ExecutionResult.Complete.
func (e *BasketExecutor) Execute(ctx context.Context, basket *models.Basket) (*models.ExecutionResult, error) {
	if len(basket.Legs) == 0 {
		return nil, fmt.Errorf("basket %q has no legs", basket.Tag)
	}

	result := &models.ExecutionResult{}
	for i, leg := range basket.Legs {
		if i > 0 {
			if err := e.sleep(ctx, e.pacing); err != nil {
				return result, fmt.Errorf("basket %q interrupted before leg %d: %w", basket.Tag, i+1, err)
			}
		}

		e.logger.Infow("placing leg",
			"tag", basket.Tag,
			"leg", i+1,
			"of", len(basket.Legs),
			"role", leg.Role,
			"symbol", leg.Symbol,
			"side", leg.Side.String(),
			"qty", leg.Quantity,
		)

		resp, err := e.broker.PlaceOrder(ctx, &broker.OrderRequest{
			Symbol:      leg.Symbol,
			Qty:         leg.Quantity,
			Type:        broker.OrderTypeMarket,
			Side:        int(leg.Side),
			ProductType: e.productType,
			Validity:    "DAY",
			OrderTag:    basket.Tag,
		})
		if err != nil {
			e.logger.Errorw("leg rejected, stopping basket",
				"tag", basket.Tag, "leg", i+1, "symbol", leg.Symbol, "error", err)
			result.Legs = append(result.Legs, models.LegResult{
				Symbol:   leg.Symbol,
				Accepted: false,
				Err:      err.Error(),
			})
			return result, nil
		}

		result.Legs = append(result.Legs, models.LegResult{
			Symbol:   leg.Symbol,
			OrderID:  resp.ID,
			Accepted: true,
		})
	}

	return result, nil
}

// BuildExitBasket constructs the basket that flattens the given
// positions. Each leg inverts the net quantity sign; flat rows are
// skipped. An empty book yields a nil basket.
func BuildExitBasket(positions []broker.Position, reason models.ExitReason) *models.Basket {
	basket := &models.Basket{Tag: "EXIT_" + string(reason)}
	for _, p := range positions {
		if p.NetQty == 0 {
			continue
		}
		side := models.SideSell
		qty := p.NetQty
		if qty < 0 {
			side = models.SideBuy
			qty = -qty
		}
		basket.Legs = append(basket.Legs, models.Leg{
			Role:     "EXIT",
			Symbol:   p.Symbol,
			Side:     side,
			Quantity: qty,
		})
	}
	if len(basket.Legs) == 0 {
		return nil
	}
	return basket
}
