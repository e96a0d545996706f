package strategy

import (
	"context"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/broker"
	"github.com/eddiefleurent/nifty_basket/internal/models"
	"github.com/eddiefleurent/nifty_basket/internal/retry"
	"go.uber.org/zap"
)

// Clock abstracts wall time so monitoring boundaries can be tested.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in the configured exchange zone.
type RealClock struct {
	Loc *time.Location
}

// Now returns the current exchange-local time.
func (c *RealClock) Now() time.Time { return time.Now().In(c.Loc) }

// Thresholds are the absolute exit levels derived from deployed capital.
type Thresholds struct {
	Target   float64 // exit at PnL >= Target
	StopLoss float64 // exit at PnL <= -StopLoss
}

// ComputeThresholds converts percentage settings into rupee levels.
func ComputeThresholds(deployedCapital, targetPct, stopLossPct float64) Thresholds {
	return Thresholds{
		Target:   deployedCapital * targetPct / 100,
		StopLoss: deployedCapital * stopLossPct / 100,
	}
}

// PositionMonitor polls the position book and decides when to exit.
type PositionMonitor struct {
	reads     *retry.Reader
	logger    *zap.SugaredLogger
	clock     Clock
	exitHour  int
	exitMin   int
	threshold Thresholds
}

// NewPositionMonitor creates a monitor for one trading cycle.
func NewPositionMonitor(reads *retry.Reader, logger *zap.SugaredLogger, clock Clock,
	exitHour, exitMin int, threshold Thresholds) *PositionMonitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PositionMonitor{
		reads:     reads,
		logger:    logger,
		clock:     clock,
		exitHour:  exitHour,
		exitMin:   exitMin,
		threshold: threshold,
	}
}

// TotalPnL sums the mark-to-market P&L across the position book.
func TotalPnL(positions []broker.Position) float64 {
	var total float64
	for _, p := range positions {
		total += p.PL
	}
	return total
}

// Evaluate maps a P&L figure and the current time onto an exit reason.
// Both boundaries are inclusive; target wins when both trip at once.
func (m *PositionMonitor) Evaluate(pnl float64, now time.Time) models.ExitReason {
	if m.threshold.Target > 0 && pnl >= m.threshold.Target {
		return models.ExitReasonTarget
	}
	if m.threshold.StopLoss > 0 && pnl <= -m.threshold.StopLoss {
		return models.ExitReasonStopLoss
	}
	exitAt := time.Date(now.Year(), now.Month(), now.Day(), m.exitHour, m.exitMin, 0, 0, now.Location())
	if !now.Before(exitAt) {
		return models.ExitReasonMarketClose
	}
	return models.ExitReasonNone
}

// Tick fetches the book once and evaluates it. A read failure after
// retries is reported as ExitReasonNone with the error: the tick is
// skipped, not treated as an exit signal.
func (m *PositionMonitor) Tick(ctx context.Context) (models.ExitReason, float64, error) {
	positions, err := m.reads.GetPositions(ctx)
	if err != nil {
		return models.ExitReasonNone, 0, err
	}
	pnl := TotalPnL(positions)
	reason := m.Evaluate(pnl, m.clock.Now())
	return reason, pnl, nil
}

// Run polls on the given interval until an exit reason fires or the
// context ends. The returned P&L is the figure that triggered the exit.
func (m *PositionMonitor) Run(ctx context.Context, interval time.Duration) (models.ExitReason, float64, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reason, pnl, err := m.Tick(ctx)
		if err != nil {
			m.logger.Warnw("monitor tick skipped", "error", err)
		} else {
			m.logger.Infow("monitor tick",
				"pnl", pnl,
				"target", m.threshold.Target,
				"stop_loss", -m.threshold.StopLoss,
			)
			if reason != models.ExitReasonNone {
				return reason, pnl, nil
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return models.ExitReasonNone, 0, ctx.Err()
		}
	}
}
