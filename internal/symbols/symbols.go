// Package symbols provides build/parse helpers for Fyers-style instrument
// identifiers and strike arithmetic for index options.
package symbols

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OptionType identifies the option side of a contract symbol.
type OptionType string

const (
	// OptionTypeCE represents a call option contract.
	OptionTypeCE OptionType = "CE"
	// OptionTypePE represents a put option contract.
	OptionTypePE OptionType = "PE"
)

// Strike bases per index. NIFTY strikes are listed every 50 points,
// BANKNIFTY every 100.
const (
	NiftyStrikeBase     = 50
	BankNiftyStrikeBase = 100
)

var optionPattern = regexp.MustCompile(`^(NSE|BSE):([A-Z0-9]+?)(\d{2}[A-Z]{3}\d{2})(\d+)(CE|PE)$`)

// ATMStrike rounds spot to the nearest listed strike for the given base.
// A spot exactly between two strikes rounds half away from zero, matching
// the exchange convention.
func ATMStrike(spot float64, base int) int {
	if base <= 0 {
		base = NiftyStrikeBase
	}
	return base * int(math.Round(spot/float64(base)))
}

// FormatExpiry renders an expiry date in the DDMMMYY form used in option
// symbols, e.g. 05FEB26.
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.Format("02Jan06"))
}

// ParseExpiry parses a DDMMMYY expiry as produced by FormatExpiry.
func ParseExpiry(s string) (time.Time, error) {
	if len(s) != 7 {
		return time.Time{}, fmt.Errorf("invalid expiry %q: want DDMMMYY", s)
	}
	// time.Parse wants the month as "Feb", not "FEB"
	normalized := s[:3] + strings.ToLower(s[3:5]) + s[5:]
	t, err := time.Parse("02Jan06", normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: %w", s, err)
	}
	return t, nil
}

// BuildOptionSymbol builds a Fyers option symbol.
// Format: NSE:NIFTY05FEB2622250CE
func BuildOptionSymbol(underlying string, expiry time.Time, strike int, optType OptionType) string {
	return fmt.Sprintf("NSE:%s%s%d%s", underlying, FormatExpiry(expiry), strike, optType)
}

// BuildIndexSymbol builds a Fyers index symbol, e.g. NSE:NIFTY50-INDEX.
func BuildIndexSymbol(index string) string {
	return fmt.Sprintf("NSE:%s-INDEX", index)
}

// OptionContract holds the parsed components of an option symbol.
type OptionContract struct {
	Exchange   string
	Underlying string
	Expiry     time.Time
	Strike     int
	Type       OptionType
}

// ParseOptionSymbol parses a Fyers option symbol into its components.
func ParseOptionSymbol(symbol string) (*OptionContract, error) {
	m := optionPattern.FindStringSubmatch(strings.TrimSpace(symbol))
	if m == nil {
		return nil, fmt.Errorf("invalid option symbol: %q", symbol)
	}
	strike, err := strconv.Atoi(m[4])
	if err != nil {
		return nil, fmt.Errorf("invalid strike in %q: %w", symbol, err)
	}
	expiry, err := ParseExpiry(m[3])
	if err != nil {
		return nil, err
	}
	return &OptionContract{
		Exchange:   m[1],
		Underlying: m[2],
		Expiry:     expiry,
		Strike:     strike,
		Type:       OptionType(m[5]),
	}, nil
}

// IsOptionSymbol reports whether symbol parses as an option identifier.
func IsOptionSymbol(symbol string) bool {
	return optionPattern.MatchString(strings.TrimSpace(symbol))
}
