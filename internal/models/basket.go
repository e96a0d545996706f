// Package models provides data structures and state management for basket
// trading cycles.
package models

import (
	"fmt"
	"time"
)

// Side is the direction of a leg order. Values match the broker wire
// encoding: BUY=+1, SELL=-1.
type Side int

const (
	// SideBuy opens or adds to a long leg.
	SideBuy Side = 1
	// SideSell opens or adds to a short leg.
	SideSell Side = -1
)

// String returns the human-readable side name.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Invert returns the opposite side.
func (s Side) Invert() Side {
	return Side(-int(s))
}

// Leg is one option order within a basket. Legs are immutable once the
// selector has computed them for an entry.
type Leg struct {
	Role     string // selector label, e.g. "BUY_ATM_CE"
	Symbol   string // full broker symbol
	Strike   int
	Side     Side
	Quantity int // multiplier x lot size, always positive
}

// Basket is the ordered sequence of legs for one entry (or exit) cycle.
// Legs are placed in slice order; the order is part of the contract so
// partial-failure diagnosis is reproducible.
type Basket struct {
	Legs []Leg
	Tag  string // order tag applied to every leg
}

// LegResult records the outcome of placing one leg.
type LegResult struct {
	Symbol   string
	OrderID  string // empty when the order was rejected or never sent
	Accepted bool
	Err      string // broker error detail for rejected legs
}

// ExecutionResult is the per-leg outcome of a basket execution. A basket
// is complete only when every leg in the input basket was accepted;
// anything else is partial and must not be monitored as an established
// position.
type ExecutionResult struct {
	Legs []LegResult
}

// Complete reports whether every leg of the basket was accepted.
func (r *ExecutionResult) Complete(basketSize int) bool {
	if len(r.Legs) != basketSize {
		return false
	}
	for _, l := range r.Legs {
		if !l.Accepted {
			return false
		}
	}
	return true
}

// AcceptedCount returns the number of accepted legs.
func (r *ExecutionResult) AcceptedCount() int {
	n := 0
	for _, l := range r.Legs {
		if l.Accepted {
			n++
		}
	}
	return n
}

// FirstRejected returns the first rejected leg, if any.
func (r *ExecutionResult) FirstRejected() (LegResult, bool) {
	for _, l := range r.Legs {
		if !l.Accepted {
			return l, true
		}
	}
	return LegResult{}, false
}

// ExitReason is why the monitor decided to close the basket.
type ExitReason string

const (
	// ExitReasonNone means no exit condition has fired yet.
	ExitReasonNone ExitReason = "NONE"
	// ExitReasonTarget means P&L reached the profit target.
	ExitReasonTarget ExitReason = "TARGET"
	// ExitReasonStopLoss means P&L breached the stop-loss amount.
	ExitReasonStopLoss ExitReason = "STOP_LOSS"
	// ExitReasonMarketClose means the session ended before a P&L threshold fired.
	ExitReasonMarketClose ExitReason = "MARKET_CLOSE"
	// ExitReasonManual means an operator or shutdown forced the exit.
	ExitReasonManual ExitReason = "MANUAL"
)

// MonitoringState tracks one live basket between entry completion and
// exit. It is owned exclusively by the strategy engine for the lifetime
// of one trading day.
type MonitoringState struct {
	Active          bool
	DeployedCapital float64
	EntryTime       time.Time
	ExitReason      ExitReason
}

// NewMonitoringState creates the state for a freshly completed basket.
func NewMonitoringState(deployedCapital float64, entryTime time.Time) MonitoringState {
	return MonitoringState{
		Active:          true,
		DeployedCapital: deployedCapital,
		EntryTime:       entryTime,
		ExitReason:      ExitReasonNone,
	}
}

// Reset clears the state after an exit finishes.
func (m *MonitoringState) Reset() {
	m.Active = false
	m.DeployedCapital = 0
	m.EntryTime = time.Time{}
	m.ExitReason = ExitReasonNone
}
