// Package stream provides the realtime websocket client for market
// data and order updates.
package stream

import (
	"encoding/json"
)

// DataType selects which market data channel a subscription uses.
type DataType string

const (
	// DataTypeSymbolUpdate delivers quote ticks.
	DataTypeSymbolUpdate DataType = "SymbolUpdate"
	// DataTypeDepthUpdate delivers order book levels.
	DataTypeDepthUpdate DataType = "DepthUpdate"
)

// MessageKind classifies an inbound frame for dispatch.
type MessageKind int

const (
	// KindGeneral is everything that matches no other kind.
	KindGeneral MessageKind = iota
	// KindOrder is an order status update from the order feed.
	KindOrder
	// KindTrade is a fill notification from the order feed.
	KindTrade
	// KindPosition is a position change from the order feed.
	KindPosition
	// KindQuote is a symbol quote tick.
	KindQuote
	// KindDepth is an order book update.
	KindDepth
	// KindTradePrint is a market trade print.
	KindTradePrint
)

// String returns the kind name for logs.
func (k MessageKind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindTrade:
		return "trade"
	case KindPosition:
		return "position"
	case KindQuote:
		return "quote"
	case KindDepth:
		return "depth"
	case KindTradePrint:
		return "trade_print"
	default:
		return "general"
	}
}

// Message is one classified inbound frame. Raw always carries the
// original payload; the typed fields are filled per kind.
type Message struct {
	Kind   MessageKind
	Symbol string
	Raw    json.RawMessage
}

// classification probe: only the discriminating fields are decoded
type frameProbe struct {
	Orders     json.RawMessage `json:"orders"`
	Trades     json.RawMessage `json:"trades"`
	Positions  json.RawMessage `json:"positions"`
	LTP        *float64        `json:"ltp"`
	Bid        *float64        `json:"bid_price"`
	Ask        *float64        `json:"ask_price"`
	TradePrice *float64        `json:"trade_price"`
	Symbol     string          `json:"symbol"`
	Type       string          `json:"type"`
}

// Classify maps a raw frame onto a message kind. Precedence is fixed:
// order feed updates, then quotes, then depth, then trade prints, then
// general. A frame carrying several discriminators resolves to the
// highest-precedence kind.
func Classify(raw []byte) Message {
	msg := Message{Kind: KindGeneral, Raw: raw}

	var probe frameProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return msg
	}
	msg.Symbol = probe.Symbol

	switch {
	case probe.Orders != nil:
		msg.Kind = KindOrder
	case probe.Trades != nil:
		msg.Kind = KindTrade
	case probe.Positions != nil:
		msg.Kind = KindPosition
	case probe.LTP != nil:
		msg.Kind = KindQuote
	case probe.Bid != nil || probe.Ask != nil:
		msg.Kind = KindDepth
	case probe.TradePrice != nil:
		msg.Kind = KindTradePrint
	}
	return msg
}

// SymbolUpdate is a decoded quote tick.
type SymbolUpdate struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
	Open   float64 `json:"open_price"`
	High   float64 `json:"high_price"`
	Low    float64 `json:"low_price"`
	Close  float64 `json:"prev_close_price"`
	Volume int64   `json:"vol_traded_today"`
}

// DepthLevel is one price level of the book.
type DepthLevel struct {
	Price float64 `json:"price"`
	Qty   int64   `json:"volume"`
}

// DepthUpdate is a decoded order book frame.
type DepthUpdate struct {
	Symbol   string       `json:"symbol"`
	BidPrice float64      `json:"bid_price"`
	AskPrice float64      `json:"ask_price"`
	Bids     []DepthLevel `json:"bids"`
	Asks     []DepthLevel `json:"asks"`
}

// DecodeSymbolUpdate parses a quote tick frame.
func DecodeSymbolUpdate(raw json.RawMessage) (*SymbolUpdate, error) {
	var u SymbolUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DecodeDepthUpdate parses an order book frame.
func DecodeDepthUpdate(raw json.RawMessage) (*DepthUpdate, error) {
	var u DepthUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
