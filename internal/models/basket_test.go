package models

import "testing"

func TestSideStringAndInvert(t *testing.T) {
	if SideBuy.String() != "BUY" || SideSell.String() != "SELL" {
		t.Errorf("side names wrong: %s, %s", SideBuy, SideSell)
	}
	if SideBuy.Invert() != SideSell || SideSell.Invert() != SideBuy {
		t.Error("Invert must flip the side")
	}
	if int(SideBuy) != 1 || int(SideSell) != -1 {
		t.Error("wire values must be +1/-1")
	}
}

func TestExecutionResultComplete(t *testing.T) {
	tests := []struct {
		name       string
		legs       []LegResult
		basketSize int
		want       bool
	}{
		{"all accepted", []LegResult{{Accepted: true}, {Accepted: true}, {Accepted: true}}, 3, true},
		{"rejection present", []LegResult{{Accepted: true}, {Accepted: false}}, 3, false},
		{"stopped short", []LegResult{{Accepted: true}}, 3, false},
		{"empty result", nil, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ExecutionResult{Legs: tt.legs}
			if got := r.Complete(tt.basketSize); got != tt.want {
				t.Errorf("Complete(%d) = %v, want %v", tt.basketSize, got, tt.want)
			}
		})
	}
}

func TestFirstRejected(t *testing.T) {
	r := &ExecutionResult{Legs: []LegResult{
		{Symbol: "A", Accepted: true},
		{Symbol: "B", Accepted: false, Err: "insufficient margin"},
	}}

	leg, ok := r.FirstRejected()
	if !ok || leg.Symbol != "B" {
		t.Errorf("FirstRejected = %+v, %v", leg, ok)
	}
	if r.AcceptedCount() != 1 {
		t.Errorf("AcceptedCount = %d, want 1", r.AcceptedCount())
	}
}
