package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/config"
	"github.com/eddiefleurent/nifty_basket/internal/journal"
	"github.com/eddiefleurent/nifty_basket/internal/models"
	"github.com/eddiefleurent/nifty_basket/internal/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine drives one trading cycle through its state machine: wait for
// the entry gate, place the basket, monitor, exit.
type Engine struct {
	cfg      *config.Config
	reads    *retry.Reader
	selector StrikeSelector
	policy   EntryPolicy
	executor *BasketExecutor
	journal  *journal.Journal
	logger   *zap.SugaredLogger
	clock    Clock
	machine  *models.EngineStateMachine

	mu      sync.RWMutex
	state   models.MonitoringState
	cycleID string
}

// NewEngine wires an engine from its collaborators. Order placement
// goes through the executor; broker reads go through the retry reader.
func NewEngine(cfg *config.Config, reads *retry.Reader,
	selector StrikeSelector, policy EntryPolicy, executor *BasketExecutor,
	jnl *journal.Journal, logger *zap.SugaredLogger, clock Clock) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:      cfg,
		reads:    reads,
		selector: selector,
		policy:   policy,
		executor: executor,
		journal:  jnl,
		logger:   logger,
		clock:    clock,
		machine:  models.NewEngineStateMachine(),
		state:    models.MonitoringState{ExitReason: models.ExitReasonNone},
		cycleID:  uuid.NewString(),
	}
}

// CycleID identifies this run in logs and the journal.
func (e *Engine) CycleID() string { return e.cycleID }

// State exposes the state machine for the dashboard.
func (e *Engine) State() *models.EngineStateMachine { return e.machine }

// Monitoring returns a snapshot of the live cycle figures, safe to
// read concurrently with the running cycle.
func (e *Engine) Monitoring() models.MonitoringState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setMonitoring(fn func(*models.MonitoringState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
}

// IsMarketOpen reports whether now falls inside the regular session.
// The open is inclusive, the close exclusive.
func IsMarketOpen(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	oh, om := config.MarketOpenClock()
	ch, cm := config.MarketCloseClock()
	open := time.Date(now.Year(), now.Month(), now.Day(), oh, om, 0, 0, now.Location())
	closeT := time.Date(now.Year(), now.Month(), now.Day(), ch, cm, 0, 0, now.Location())
	return !now.Before(open) && now.Before(closeT)
}

// EntryGateOpen reports whether the configured entry conditions hold:
// it is the configured weekday, the clock has reached the entry time
// (inclusive), and the market is open.
func (e *Engine) EntryGateOpen(now time.Time) bool {
	if now.Weekday() != e.cfg.EntryWeekday() {
		return false
	}
	h, m := e.cfg.EntryClock()
	entryAt := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if now.Before(entryAt) {
		return false
	}
	return IsMarketOpen(now)
}

// Run executes one full cycle and returns when it reaches a terminal
// state or the context ends. A partial basket leaves the machine in
// the failed state; nothing is unwound automatically.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Infow("cycle starting",
		"cycle_id", e.cycleID,
		"variant", e.selector.Name(),
		"entry_policy", e.policy.Name(),
	)

	if err := e.waitForEntry(ctx); err != nil {
		return err
	}

	deployed, basket, result, err := e.enter(ctx)
	if err != nil {
		return err
	}
	if e.machine.Current() != models.StateMonitoring {
		// Partial basket: record it and stop.
		e.recordCycle(basket, result, models.ExitReasonNone, 0)
		return fmt.Errorf("basket %q incomplete: %d of %d legs accepted",
			basket.Tag, result.AcceptedCount(), len(basket.Legs))
	}

	reason, pnl, err := e.monitorAndExit(ctx, deployed)
	if err != nil {
		return err
	}
	e.recordCycle(basket, result, reason, pnl)
	e.setMonitoring(func(s *models.MonitoringState) { s.Reset() })
	return nil
}

// waitForEntry blocks until the entry gate and policy both admit, then
// transitions to the entering state. It re-checks every poll interval.
func (e *Engine) waitForEntry(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()

	for {
		now := e.clock.Now()
		if e.EntryGateOpen(now) {
			ok, err := e.policy.ShouldEnter(ctx, now)
			if err != nil {
				e.logger.Warnw("entry policy check failed, retrying", "error", err)
			} else if ok {
				return e.machine.Transition(models.StateEntering, models.ConditionEntryGate)
			} else {
				e.logger.Debugw("entry policy declined", "policy", e.policy.Name())
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// enter resolves the basket and executes it, returning deployed capital
// when the basket completes.
func (e *Engine) enter(ctx context.Context) (float64, *models.Basket, *models.ExecutionResult, error) {
	quote, err := e.reads.GetQuote(ctx, e.cfg.Strategy.IndexSymbol)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("fetching spot: %w", err)
	}

	expiry, err := e.reads.GetNearestExpiry(ctx, e.cfg.Strategy.IndexSymbol)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("resolving expiry: %w", err)
	}

	basket, err := e.selector.Select(quote.LTP, expiry)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("selecting strikes: %w", err)
	}

	e.logger.Infow("entering basket",
		"spot", quote.LTP,
		"expiry", expiry.Format("2006-01-02"),
		"legs", len(basket.Legs),
	)

	result, err := e.executor.Execute(ctx, basket)
	if err != nil {
		_ = e.machine.Transition(models.StateFailed, models.ConditionBasketPartial)
		return 0, basket, result, fmt.Errorf("executing basket: %w", err)
	}

	if !result.Complete(len(basket.Legs)) {
		_ = e.machine.Transition(models.StateFailed, models.ConditionBasketPartial)
		for _, lr := range result.Legs {
			e.logger.Errorw("leg outcome", "symbol", lr.Symbol, "order_id", lr.OrderID,
				"accepted", lr.Accepted, "error", lr.Err)
		}
		e.logger.Errorw("basket incomplete, manual intervention required",
			"accepted", result.AcceptedCount(), "of", len(basket.Legs))
		return 0, basket, result, nil
	}

	if err := e.machine.Transition(models.StateMonitoring, models.ConditionBasketComplete); err != nil {
		return 0, basket, result, err
	}

	funds, err := e.reads.GetFunds(ctx)
	deployed := 0.0
	if err != nil {
		e.logger.Warnw("failed to read deployed capital, thresholds disabled until exit time", "error", err)
	} else {
		deployed = funds.UtilizedMargin
	}

	e.setMonitoring(func(s *models.MonitoringState) {
		*s = models.NewMonitoringState(deployed, e.clock.Now())
	})

	e.logger.Infow("basket complete", "deployed_capital", deployed)
	return deployed, basket, result, nil
}

// monitorAndExit runs the polling monitor and flattens the book when an
// exit reason fires.
func (e *Engine) monitorAndExit(ctx context.Context, deployed float64) (models.ExitReason, float64, error) {
	thresholds := ComputeThresholds(deployed, e.cfg.Strategy.TargetPct, e.cfg.Strategy.StopLossPct)
	exitHour, exitMin := e.cfg.ExitClock()
	monitor := NewPositionMonitor(e.reads, e.logger, e.clock, exitHour, exitMin, thresholds)

	reason, pnl, err := monitor.Run(ctx, e.cfg.PollInterval())
	if err != nil {
		return models.ExitReasonNone, 0, err
	}

	if err := e.machine.Transition(models.StateExiting, models.ConditionExitSignal); err != nil {
		return reason, pnl, err
	}

	e.logger.Infow("exit signal", "reason", reason, "pnl", pnl)
	e.setMonitoring(func(s *models.MonitoringState) { s.ExitReason = reason })

	if err := e.Exit(ctx, reason); err != nil {
		return reason, pnl, err
	}

	if err := e.machine.Transition(models.StateDone, models.ConditionExitConfirmed); err != nil {
		return reason, pnl, err
	}
	e.setMonitoring(func(s *models.MonitoringState) { s.Active = false })
	return reason, pnl, nil
}

// Exit flattens every open position by placing the inverse basket. A
// flat book is a no-op.
func (e *Engine) Exit(ctx context.Context, reason models.ExitReason) error {
	positions, err := e.reads.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reading positions for exit: %w", err)
	}

	exitBasket := BuildExitBasket(positions, reason)
	if exitBasket == nil {
		e.logger.Infow("book already flat, nothing to exit", "reason", reason)
		return nil
	}

	result, err := e.executor.Execute(ctx, exitBasket)
	if err != nil {
		return fmt.Errorf("executing exit basket: %w", err)
	}
	if !result.Complete(len(exitBasket.Legs)) {
		for _, lr := range result.Legs {
			e.logger.Errorw("exit leg outcome", "symbol", lr.Symbol,
				"accepted", lr.Accepted, "error", lr.Err)
		}
		return fmt.Errorf("exit basket incomplete: %d of %d legs accepted",
			result.AcceptedCount(), len(exitBasket.Legs))
	}

	e.logger.Infow("exit basket complete", "reason", reason, "legs", len(exitBasket.Legs))
	return nil
}

// recordCycle appends the finished cycle to the journal if one is wired.
func (e *Engine) recordCycle(basket *models.Basket, result *models.ExecutionResult,
	reason models.ExitReason, pnl float64) {
	if e.journal == nil || basket == nil {
		return
	}
	snap := e.Monitoring()
	rec := journal.CycleRecord{
		ID:              e.cycleID,
		Variant:         e.selector.Name(),
		Tag:             basket.Tag,
		EntryTime:       snap.EntryTime,
		ExitTime:        e.clock.Now(),
		DeployedCapital: snap.DeployedCapital,
		ExitReason:      string(reason),
		PnL:             pnl,
		FinalState:      string(e.machine.Current()),
	}
	if result != nil {
		for _, lr := range result.Legs {
			rec.Legs = append(rec.Legs, journal.LegRecord{
				Symbol:   lr.Symbol,
				OrderID:  lr.OrderID,
				Accepted: lr.Accepted,
				Error:    lr.Err,
			})
		}
	}
	if err := e.journal.Append(rec); err != nil {
		e.logger.Errorw("failed to journal cycle", "error", err)
	}
}
