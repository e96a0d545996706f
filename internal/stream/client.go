package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnectionState is the lifecycle state of the streaming client.
type ConnectionState int32

const (
	// StateDisconnected means no transport exists.
	StateDisconnected ConnectionState = iota
	// StateConnecting means the initial dial is in flight.
	StateConnecting
	// StateConnected means the transport is up and subscriptions applied.
	StateConnected
	// StateReconnecting means the transport dropped and redial is in progress.
	StateReconnecting
)

// String returns the state name for logs.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Callbacks are the dispatch hooks. Nil hooks are skipped. All hooks
// run on the dispatcher goroutine, never on the read pump.
type Callbacks struct {
	OnConnect    func()
	OnClose      func()
	OnError      func(error)
	OnQuote      func(*SymbolUpdate)
	OnDepth      func(*DepthUpdate)
	OnTradePrint func(Message)
	OnOrders     func(Message)
	OnTrades     func(Message)
	OnPositions  func(Message)
	OnGeneral    func(Message)
}

// Options configure a Client.
type Options struct {
	URL          string
	AccessToken  string // composite "clientID:accessToken"
	DataType     DataType
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	// InboundBuffer bounds the channel between the read pump and the
	// dispatcher. When full, the oldest pending frame is dropped.
	InboundBuffer int
	// InitialBackoff is the first redial delay. Doubles up to
	// MaxBackoff; redials continue until the context ends.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o *Options) defaults() {
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.InboundBuffer == 0 {
		o.InboundBuffer = 1024
	}
	if o.InitialBackoff == 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.DataType == "" {
		o.DataType = DataTypeSymbolUpdate
	}
}

// Client is a reconnecting websocket client. Subscriptions survive
// reconnects: the full set is reapplied on every dial.
type Client struct {
	opts      Options
	callbacks Callbacks
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	state         ConnectionState
	conn          *websocket.Conn
	subscriptions map[string]struct{}

	// writeMu serializes data-frame writes on the connection. The ping
	// goroutine and Subscribe/Unsubscribe callers write concurrently,
	// and gorilla supports only one writer at a time.
	writeMu sync.Mutex

	inbound   chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	dial func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)
}

// NewClient creates a streaming client. Connect must be called before
// any data flows.
func NewClient(opts Options, callbacks Callbacks, logger *zap.SugaredLogger) *Client {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		opts:          opts,
		callbacks:     callbacks,
		logger:        logger,
		state:         StateDisconnected,
		subscriptions: make(map[string]struct{}),
		inbound:       make(chan []byte, opts.InboundBuffer),
		closed:        make(chan struct{}),
		dial: func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			return conn, err
		},
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Subscribe adds symbols to the subscription set and sends the
// subscription when connected. Duplicates are ignored.
func (c *Client) Subscribe(symbols ...string) error {
	c.mu.Lock()
	fresh := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := c.subscriptions[s]; !ok {
			c.subscriptions[s] = struct{}{}
			fresh = append(fresh, s)
		}
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if len(fresh) == 0 || !connected || conn == nil {
		return nil
	}
	return c.writeSubscription(conn, fresh)
}

// Unsubscribe removes symbols from the set and tells the feed when
// connected.
func (c *Client) Unsubscribe(symbols ...string) error {
	c.mu.Lock()
	removed := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := c.subscriptions[s]; ok {
			delete(c.subscriptions, s)
			removed = append(removed, s)
		}
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if len(removed) == 0 || !connected || conn == nil {
		return nil
	}
	return c.writeControl(conn, "unsubscribe", removed)
}

// Subscriptions returns the current subscription set.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		out = append(out, s)
	}
	return out
}

type controlFrame struct {
	T        string   `json:"T"`
	Symbols  []string `json:"symbols,omitempty"`
	DataType string   `json:"dataType,omitempty"`
}

func (c *Client) writeSubscription(conn *websocket.Conn, symbols []string) error {
	return c.writeControl(conn, "subscribe", symbols)
}

func (c *Client) writeControl(conn *websocket.Conn, op string, symbols []string) error {
	frame := controlFrame{T: op, Symbols: symbols, DataType: string(c.opts.DataType)}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("sending %s: %w", op, err)
	}
	return nil
}

// Run connects and serves until the context ends or Disconnect is
// called. The dispatcher runs for the whole lifetime so callbacks keep
// draining across reconnects.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.dispatcher(ctx)
	}()

	err := c.connectLoop(ctx)

	cancel()
	wg.Wait()
	c.setState(StateDisconnected)
	if c.callbacks.OnClose != nil {
		c.callbacks.OnClose()
	}
	return err
}

// connectLoop dials, serves one connection, and redials with backoff
// until the context ends.
func (c *Client) connectLoop(ctx context.Context) error {
	backoff := c.opts.InitialBackoff
	first := true

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if first {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		header := http.Header{}
		header.Set("Authorization", c.opts.AccessToken)

		conn, err := c.dial(ctx, c.opts.URL, header)
		if err != nil {
			c.emitError(fmt.Errorf("dial %s: %w", c.opts.URL, err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, c.opts.MaxBackoff)
			first = false
			continue
		}
		backoff = c.opts.InitialBackoff

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		resub := make([]string, 0, len(c.subscriptions))
		for s := range c.subscriptions {
			resub = append(resub, s)
		}
		c.mu.Unlock()

		c.logger.Infow("stream connected", "url", c.opts.URL, "resubscribing", len(resub))
		if len(resub) > 0 {
			if err := c.writeSubscription(conn, resub); err != nil {
				c.emitError(err)
			}
		}
		if c.callbacks.OnConnect != nil {
			c.callbacks.OnConnect()
		}

		c.serve(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warnw("stream dropped, reconnecting")
		first = false
	}
}

// serve runs the read pump and ping ticker for one connection; it
// returns when the connection dies or the context ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(5 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.emitError(fmt.Errorf("read: %w", err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		select {
		case c.inbound <- payload:
		default:
			// Buffer full: drop the oldest frame to keep latest data flowing
			select {
			case <-c.inbound:
			default:
			}
			select {
			case c.inbound <- payload:
			default:
			}
			c.logger.Warnw("inbound buffer full, dropped oldest frame")
		}
	}
}

// dispatcher drains the inbound channel and invokes callbacks by
// message kind.
func (c *Client) dispatcher(ctx context.Context) {
	for {
		select {
		case payload := <-c.inbound:
			c.dispatch(Classify(payload))
		case <-ctx.Done():
			// Drain what is already buffered, then stop
			for {
				select {
				case payload := <-c.inbound:
					c.dispatch(Classify(payload))
				default:
					return
				}
			}
		}
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Kind {
	case KindOrder:
		if c.callbacks.OnOrders != nil {
			c.callbacks.OnOrders(msg)
		}
	case KindTrade:
		if c.callbacks.OnTrades != nil {
			c.callbacks.OnTrades(msg)
		}
	case KindPosition:
		if c.callbacks.OnPositions != nil {
			c.callbacks.OnPositions(msg)
		}
	case KindQuote:
		if c.callbacks.OnQuote != nil {
			u, err := DecodeSymbolUpdate(msg.Raw)
			if err != nil {
				c.emitError(fmt.Errorf("decoding quote: %w", err))
				return
			}
			c.callbacks.OnQuote(u)
		}
	case KindDepth:
		if c.callbacks.OnDepth != nil {
			u, err := DecodeDepthUpdate(msg.Raw)
			if err != nil {
				c.emitError(fmt.Errorf("decoding depth: %w", err))
				return
			}
			c.callbacks.OnDepth(u)
		}
	case KindTradePrint:
		if c.callbacks.OnTradePrint != nil {
			c.callbacks.OnTradePrint(msg)
		}
	default:
		if c.callbacks.OnGeneral != nil {
			c.callbacks.OnGeneral(msg)
		}
	}
}

func (c *Client) emitError(err error) {
	c.logger.Warnw("stream error", "error", err)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

// Disconnect shuts the client down. Safe to call from any goroutine
// and more than once: the transport close happens exactly once.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
	})
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}
