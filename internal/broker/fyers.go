// Package broker provides the trading API client used to quote, place
// and monitor NSE option orders.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Order sides on the wire.
const (
	OrderSideBuy  = 1
	OrderSideSell = -1
)

// OrderTypeMarket is the only order type the bot places.
const OrderTypeMarket = 2

// statusOK is the success flag carried by every API response envelope.
const statusOK = "ok"

// expiryDateLayout is the date format used by the option chain endpoint.
const expiryDateLayout = "02-01-2006"

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// FyersAPI is the low-level REST client.
type FyersAPI struct {
	client      *http.Client
	clientID    string
	accessToken string
	baseURL     string
	dataURL     string
	logger      *zap.SugaredLogger
	timeout     time.Duration
}

// NewFyersAPI creates a new FyersAPI client with default settings.
func NewFyersAPI(clientID, accessToken string, logger *zap.SugaredLogger) *FyersAPI {
	return NewFyersAPIWithBaseURL(clientID, accessToken, "", "", logger)
}

// NewFyersAPIWithBaseURL creates a client against custom endpoints,
// used by tests to point at a local server.
func NewFyersAPIWithBaseURL(clientID, accessToken, baseURL, dataURL string, logger *zap.SugaredLogger) *FyersAPI {
	if baseURL == "" {
		baseURL = "https://api-t1.fyers.in/api/v3"
	}
	if dataURL == "" {
		dataURL = "https://api-t1.fyers.in/data"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := 30 * time.Second
	return &FyersAPI{
		client:      &http.Client{Timeout: timeout},
		clientID:    clientID,
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		dataURL:     strings.TrimRight(dataURL, "/"),
		logger:      logger,
		timeout:     timeout,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (f *FyersAPI) WithHTTPClient(c *http.Client) *FyersAPI {
	if c != nil {
		f.client = c
	}
	return f
}

// AuthHeader returns the composite authorization value the API and the
// streaming feed both expect.
func (f *FyersAPI) AuthHeader() string {
	return f.clientID + ":" + f.accessToken
}

// Quote is a single symbol quote.
type Quote struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"lp"`
	Open   float64 `json:"open_price"`
	High   float64 `json:"high_price"`
	Low    float64 `json:"low_price"`
	Close  float64 `json:"prev_close_price"`
	Volume int64   `json:"volume"`
}

type quotesResponse struct {
	S string `json:"s"`
	D []struct {
		N string `json:"n"`
		S string `json:"s"`
		V Quote  `json:"v"`
	} `json:"d"`
	Message string `json:"message"`
}

// Candle is one OHLCV bar. Epoch is exchange-local seconds.
type Candle struct {
	Epoch  int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

type historyResponse struct {
	S       string      `json:"s"`
	Candles [][]float64 `json:"candles"`
	Message string      `json:"message"`
}

// Position is one net position row.
type Position struct {
	Symbol      string  `json:"symbol"`
	NetQty      int     `json:"netQty"`
	AvgPrice    float64 `json:"netAvg"`
	LTP         float64 `json:"ltp"`
	PL          float64 `json:"pl"`
	ProductType string  `json:"productType"`
	Side        int     `json:"side"`
}

type positionsResponse struct {
	S            string     `json:"s"`
	NetPositions []Position `json:"netPositions"`
	Message      string     `json:"message"`
}

// Funds summarizes the account margin figures.
type Funds struct {
	TotalBalance    float64
	UtilizedMargin  float64
	AvailableMargin float64
}

type fundLimit struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	EquityAmt   float64 `json:"equityAmount"`
	CommodityAm float64 `json:"commodityAmount"`
}

type fundsResponse struct {
	S         string      `json:"s"`
	FundLimit []fundLimit `json:"fund_limit"`
	Message   string      `json:"message"`
}

// Profile is the authenticated account identity.
type Profile struct {
	Name     string `json:"name"`
	FyID     string `json:"fy_id"`
	Email    string `json:"email_id"`
	MobileNo string `json:"mobile_number"`
}

type profileResponse struct {
	S       string  `json:"s"`
	Data    Profile `json:"data"`
	Message string  `json:"message"`
}

// OrderRequest describes a single market order leg.
type OrderRequest struct {
	Symbol       string `json:"symbol"`
	Qty          int    `json:"qty"`
	Type         int    `json:"type"`
	Side         int    `json:"side"`
	ProductType  string `json:"productType"`
	Validity     string `json:"validity"`
	OfflineOrder bool   `json:"offlineOrder"`
	OrderTag     string `json:"orderTag,omitempty"`
}

// OrderResponse is the placement acknowledgement.
type OrderResponse struct {
	S       string `json:"s"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

type expiryEntry struct {
	Date   string `json:"date"`
	Expiry string `json:"expiry"`
}

type optionChainResponse struct {
	S    string `json:"s"`
	Data struct {
		ExpiryData []expiryEntry `json:"expiryData"`
	} `json:"data"`
	Message string `json:"message"`
}

// GetProfile fetches the account identity. Used at startup to verify
// the access token before any order can be placed.
func (f *FyersAPI) GetProfile(ctx context.Context) (*Profile, error) {
	var resp profileResponse
	if err := f.makeRequestCtx(ctx, http.MethodGet, f.baseURL+"/profile", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.S != statusOK {
		return nil, fmt.Errorf("profile request rejected: %s", resp.Message)
	}
	return &resp.Data, nil
}

// GetQuote fetches the last traded price and OHLC for one symbol.
func (f *FyersAPI) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbols", symbol)

	var resp quotesResponse
	if err := f.makeRequestCtx(ctx, http.MethodGet, f.dataURL+"/quotes", params, nil, &resp); err != nil {
		return nil, err
	}
	if resp.S != statusOK {
		return nil, fmt.Errorf("quote request rejected: %s", resp.Message)
	}
	for _, d := range resp.D {
		if d.S != statusOK {
			continue
		}
		q := d.V
		if q.Symbol == "" {
			q.Symbol = d.N
		}
		return &q, nil
	}
	return nil, fmt.Errorf("no quote returned for %s", symbol)
}

// GetCandles fetches minute bars between from and to. Timestamps on the
// wire are epoch seconds; bars missing fields are skipped.
func (f *FyersAPI) GetCandles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("resolution", resolution)
	params.Set("date_format", "0")
	params.Set("range_from", fmt.Sprintf("%d", from.Unix()))
	params.Set("range_to", fmt.Sprintf("%d", to.Unix()))
	params.Set("cont_flag", "1")

	var resp historyResponse
	if err := f.makeRequestCtx(ctx, http.MethodGet, f.dataURL+"/history", params, nil, &resp); err != nil {
		return nil, err
	}
	if resp.S != statusOK {
		return nil, fmt.Errorf("history request rejected: %s", resp.Message)
	}

	candles := make([]Candle, 0, len(resp.Candles))
	for _, row := range resp.Candles {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, Candle{
			Epoch:  int64(row[0]),
			Open:   row[1],
			High:   row[2],
			Low:    row[3],
			Close:  row[4],
			Volume: row[5],
		})
	}
	return candles, nil
}

// GetNearestExpiry returns the soonest option expiry for the symbol.
func (f *FyersAPI) GetNearestExpiry(ctx context.Context, symbol string) (time.Time, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("strikecount", "1")

	var resp optionChainResponse
	if err := f.makeRequestCtx(ctx, http.MethodGet, f.dataURL+"/options-chain-v3", params, nil, &resp); err != nil {
		return time.Time{}, err
	}
	if resp.S != statusOK {
		return time.Time{}, fmt.Errorf("option chain request rejected: %s", resp.Message)
	}
	if len(resp.Data.ExpiryData) == 0 {
		return time.Time{}, fmt.Errorf("no expiries returned for %s", symbol)
	}

	dates := make([]time.Time, 0, len(resp.Data.ExpiryData))
	for _, e := range resp.Data.ExpiryData {
		d, err := time.Parse(expiryDateLayout, e.Date)
		if err != nil {
			f.logger.Warnw("skipping unparseable expiry", "date", e.Date, "error", err)
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return time.Time{}, fmt.Errorf("no parseable expiries for %s", symbol)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates[0], nil
}

// GetPositions fetches the current net position book.
func (f *FyersAPI) GetPositions(ctx context.Context) ([]Position, error) {
	var resp positionsResponse
	if err := f.makeRequestCtx(ctx, http.MethodGet, f.baseURL+"/positions", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.S != statusOK {
		return nil, fmt.Errorf("positions request rejected: %s", resp.Message)
	}
	return resp.NetPositions, nil
}

// GetFunds fetches account margin figures. Rows are matched by title
// because the numeric ids are not documented as stable.
func (f *FyersAPI) GetFunds(ctx context.Context) (*Funds, error) {
	var resp fundsResponse
	if err := f.makeRequestCtx(ctx, http.MethodGet, f.baseURL+"/funds", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.S != statusOK {
		return nil, fmt.Errorf("funds request rejected: %s", resp.Message)
	}

	funds := &Funds{}
	for _, row := range resp.FundLimit {
		switch strings.ToLower(row.Title) {
		case "total balance":
			funds.TotalBalance = row.EquityAmt
		case "utilized margin":
			funds.UtilizedMargin = row.EquityAmt
		case "available balance", "available margin":
			funds.AvailableMargin = row.EquityAmt
		}
	}
	return funds, nil
}

// PlaceOrder submits one market order leg. A response with s != "ok" is
// returned as an error; placement is never retried by this client.
func (f *FyersAPI) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding order: %w", err)
	}

	var resp OrderResponse
	if err := f.makeRequestCtx(ctx, http.MethodPost, f.baseURL+"/orders/sync", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.S != statusOK {
		return nil, fmt.Errorf("order rejected for %s: %s", req.Symbol, resp.Message)
	}
	return &resp, nil
}

// makeRequestCtx makes an HTTP request with context support. GET
// parameters go in the query string; POST bodies are JSON.
func (f *FyersAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, body []byte, response interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && body != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(string(body)))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/json")
	} else {
		u := endpoint
		if len(params) > 0 {
			u = endpoint + "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, u, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", f.AuthHeader())
	req.Header.Add("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Warnw("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(b))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
