// Package strategy implements basket construction, execution and
// position monitoring for NSE index option strategies.
package strategy

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/config"
	"github.com/eddiefleurent/nifty_basket/internal/models"
	"github.com/eddiefleurent/nifty_basket/internal/symbols"
)

// StrikeSelector builds an entry basket from the current spot price and
// the chosen expiry.
type StrikeSelector interface {
	Select(spot float64, expiry time.Time) (*models.Basket, error)
	Name() string
}

// LadderSelector builds a call ladder: long legs close to the money
// bracketing a larger short leg further out.
type LadderSelector struct {
	underlying string
	strikeBase int
	lotSize    int
	legs       []config.LegConfig
}

// Ensure selectors implement StrikeSelector at compile time.
var (
	_ StrikeSelector = (*LadderSelector)(nil)
	_ StrikeSelector = (*StrangleSelector)(nil)
)

// NewLadderSelector creates a ladder selector from strategy config.
func NewLadderSelector(cfg *config.StrategyConfig) *LadderSelector {
	return &LadderSelector{
		underlying: cfg.Underlying,
		strikeBase: cfg.StrikeBase,
		lotSize:    cfg.LotSize,
		legs:       cfg.Legs,
	}
}

// Name identifies the selector in logs and the journal.
func (s *LadderSelector) Name() string { return "ladder" }

// Select resolves each configured leg against the ATM strike. Leg order
// is preserved; execution places them in this order.
func (s *LadderSelector) Select(spot float64, expiry time.Time) (*models.Basket, error) {
	if spot <= 0 {
		return nil, fmt.Errorf("invalid spot price %.2f", spot)
	}

	atm := symbols.ATMStrike(spot, s.strikeBase)

	basket := &models.Basket{Tag: "LADDER_ENTRY"}
	for _, leg := range s.legs {
		side := models.SideBuy
		if leg.Side == "sell" {
			side = models.SideSell
		}
		strike := atm + leg.OTMOffset
		basket.Legs = append(basket.Legs, models.Leg{
			Role:     leg.Role,
			Symbol:   symbols.BuildOptionSymbol(s.underlying, expiry, strike, symbols.OptionTypeCE),
			Strike:   strike,
			Side:     side,
			Quantity: leg.QtyMultiplier * s.lotSize,
		})
	}
	return basket, nil
}

// StrangleSelector builds a short strangle: one short call and one
// short put equidistant from the ATM strike.
type StrangleSelector struct {
	underlying string
	strikeBase int
	lotSize    int
	offset     int
}

// NewStrangleSelector creates a strangle selector from strategy config.
func NewStrangleSelector(cfg *config.StrategyConfig) *StrangleSelector {
	return &StrangleSelector{
		underlying: cfg.Underlying,
		strikeBase: cfg.StrikeBase,
		lotSize:    cfg.LotSize,
		offset:     cfg.StrangleOffset,
	}
}

// Name identifies the selector in logs and the journal.
func (s *StrangleSelector) Name() string { return "strangle" }

// Select builds the two short legs, call side first.
func (s *StrangleSelector) Select(spot float64, expiry time.Time) (*models.Basket, error) {
	if spot <= 0 {
		return nil, fmt.Errorf("invalid spot price %.2f", spot)
	}

	atm := symbols.ATMStrike(spot, s.strikeBase)
	callStrike := atm + s.offset
	putStrike := atm - s.offset
	if putStrike <= 0 {
		return nil, fmt.Errorf("put strike %d below zero for spot %.2f", putStrike, spot)
	}

	return &models.Basket{
		Tag: "STRANGLE_ENTRY",
		Legs: []models.Leg{
			{
				Role:     "SELL_CALL",
				Symbol:   symbols.BuildOptionSymbol(s.underlying, expiry, callStrike, symbols.OptionTypeCE),
				Strike:   callStrike,
				Side:     models.SideSell,
				Quantity: s.lotSize,
			},
			{
				Role:     "SELL_PUT",
				Symbol:   symbols.BuildOptionSymbol(s.underlying, expiry, putStrike, symbols.OptionTypePE),
				Strike:   putStrike,
				Side:     models.SideSell,
				Quantity: s.lotSize,
			},
		},
	}, nil
}

// NewSelector returns the selector named by the config variant.
func NewSelector(cfg *config.StrategyConfig) (StrikeSelector, error) {
	switch cfg.Variant {
	case "ladder":
		return NewLadderSelector(cfg), nil
	case "strangle":
		return NewStrangleSelector(cfg), nil
	default:
		return nil, fmt.Errorf("unknown strategy variant %q", cfg.Variant)
	}
}
