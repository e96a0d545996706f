package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/retry"
)

// EntryPolicy is an optional extra gate checked after the time window
// opens. The time gate itself always applies.
type EntryPolicy interface {
	ShouldEnter(ctx context.Context, now time.Time) (bool, error)
	Name() string
}

// AlwaysEnter admits entry as soon as the time gate opens.
type AlwaysEnter struct{}

// ShouldEnter always returns true.
func (AlwaysEnter) ShouldEnter(context.Context, time.Time) (bool, error) { return true, nil }

// Name identifies the policy in logs.
func (AlwaysEnter) Name() string { return "time" }

// RSIEntryPolicy admits entry only while the index RSI is at or below a
// threshold, computed from recent minute candles.
type RSIEntryPolicy struct {
	reads      *retry.Reader
	symbol     string
	period     int
	threshold  float64
	resolution string
}

// NewRSIEntryPolicy creates the RSI gate for the given index symbol.
func NewRSIEntryPolicy(reads *retry.Reader, symbol string, period int, threshold float64) *RSIEntryPolicy {
	return &RSIEntryPolicy{
		reads:      reads,
		symbol:     symbol,
		period:     period,
		threshold:  threshold,
		resolution: "5",
	}
}

// Name identifies the policy in logs.
func (p *RSIEntryPolicy) Name() string { return "rsi" }

// ShouldEnter fetches enough candles to seed the indicator and checks
// the latest value against the threshold.
func (p *RSIEntryPolicy) ShouldEnter(ctx context.Context, now time.Time) (bool, error) {
	// 5-minute bars; fetch three sessions back to survive weekends.
	from := now.Add(-72 * time.Hour)
	candles, err := p.reads.GetCandles(ctx, p.symbol, p.resolution, from, now)
	if err != nil {
		return false, err
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsi, err := RSI(closes, p.period)
	if err != nil {
		return false, err
	}
	return rsi <= p.threshold, nil
}

// RSI computes the Wilder-smoothed relative strength index of the
// final value in the series.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 1 {
		return 0, fmt.Errorf("rsi period must be > 1, got %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("rsi needs %d closes, have %d", period+1, len(closes))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// compile-time interface checks
var (
	_ EntryPolicy = AlwaysEnter{}
	_ EntryPolicy = (*RSIEntryPolicy)(nil)
)
