package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/broker"
	"github.com/eddiefleurent/nifty_basket/internal/config"
	"github.com/eddiefleurent/nifty_basket/internal/dashboard"
	"github.com/eddiefleurent/nifty_basket/internal/journal"
	"github.com/eddiefleurent/nifty_basket/internal/retry"
	"github.com/eddiefleurent/nifty_basket/internal/strategy"
	"github.com/eddiefleurent/nifty_basket/internal/stream"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Exit codes. Config and auth failures are distinguishable so
// supervisors can avoid restart loops on bad credentials.
const (
	exitOK     = 0
	exitConfig = 1
	exitAuth   = 2
	exitRun    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitConfig
	}

	logger, err := buildLogger(cfg.Environment.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	creds, err := cfg.LoadCredentials()
	if err != nil {
		sugar.Errorw("failed to load credentials", "error", err)
		return exitConfig
	}

	sugar.Infow("starting basket bot",
		"mode", cfg.Environment.Mode,
		"underlying", cfg.Strategy.Underlying,
		"variant", cfg.Strategy.Variant,
	)
	if !cfg.IsPaperTrading() {
		sugar.Warn("LIVE TRADING MODE - real money at risk, waiting 10 seconds to confirm")
		time.Sleep(10 * time.Second)
	}

	api := broker.NewFyersAPIWithBaseURL(cfg.Broker.ClientID, creds.AccessToken,
		cfg.Broker.APIEndpoint, "", sugar)
	brk := broker.NewCircuitBreakerBroker(api, sugar)
	reads := retry.NewReader(brk, sugar)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Verify the token before anything can place an order
	profile, err := brk.GetProfile(ctx)
	if err != nil {
		sugar.Errorw("token verification failed", "error", err)
		return exitAuth
	}
	sugar.Infow("authenticated", "account", profile.FyID, "name", profile.Name)

	jnl, err := journal.New(cfg.Journal.Path)
	if err != nil {
		sugar.Errorw("failed to open journal", "path", cfg.Journal.Path, "error", err)
		return exitConfig
	}

	selector, err := strategy.NewSelector(&cfg.Strategy)
	if err != nil {
		sugar.Errorw("invalid strategy", "error", err)
		return exitConfig
	}

	var policy strategy.EntryPolicy = strategy.AlwaysEnter{}
	if cfg.Strategy.EntryPolicy == "rsi" {
		policy = strategy.NewRSIEntryPolicy(reads, cfg.Strategy.IndexSymbol,
			cfg.Strategy.RSIPeriod, cfg.Strategy.RSIThreshold)
	}

	loc, err := cfg.Location()
	if err != nil {
		sugar.Errorw("invalid timezone", "error", err)
		return exitConfig
	}
	clock := &strategy.RealClock{Loc: loc}

	executor := strategy.NewBasketExecutor(brk, sugar, cfg.Strategy.ProductType, cfg.OrderPacing())
	engine := strategy.NewEngine(cfg, reads, selector, policy, executor, jnl, sugar, clock)

	g, gctx := errgroup.WithContext(ctx)

	streamClient, orderFeedClient := newStreamClients(&cfg.Stream, api.AuthHeader(), sugar)
	if streamClient != nil {
		if err := streamClient.Subscribe(cfg.Stream.Symbols...); err != nil {
			sugar.Errorw("initial subscription failed", "error", err)
			return exitConfig
		}
		g.Go(func() error {
			err := streamClient.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if orderFeedClient != nil {
		g.Go(func() error {
			err := orderFeedClient.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if cfg.Dashboard.Enabled {
		dash := dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, engine, streamSource(streamClient), jnl, newLogrusLogger(cfg.Environment.LogLevel))

		g.Go(func() error {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return dash.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel() // engine finishing for the day stops the rest
		err := engine.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Stream transports close exactly once on shutdown
	for _, sc := range []*stream.Client{streamClient, orderFeedClient} {
		if sc == nil {
			continue
		}
		sc := sc
		g.Go(func() error {
			<-gctx.Done()
			sc.Disconnect()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sugar.Errorw("bot stopped with error", "error", err)
		return exitRun
	}

	sugar.Info("bot stopped")
	return exitOK
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func newLogrusLogger(level string) *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

// newStreamClients builds the data-feed client and, when configured,
// the order-feed client. Either may be nil.
func newStreamClients(cfg *config.StreamConfig, auth string, sugar *zap.SugaredLogger) (data, orders *stream.Client) {
	if !cfg.Enabled {
		return nil, nil
	}
	data = stream.NewClient(stream.Options{
		URL:         cfg.URL,
		AccessToken: auth,
		DataType:    stream.DataType(cfg.DataType),
	}, dataFeedCallbacks(sugar), sugar)
	if cfg.OrderFeed {
		orders = stream.NewClient(stream.Options{
			URL:         cfg.OrderFeedURL,
			AccessToken: auth,
		}, orderFeedCallbacks(sugar), sugar)
	}
	return data, orders
}

func dataFeedCallbacks(sugar *zap.SugaredLogger) stream.Callbacks {
	return stream.Callbacks{
		OnConnect: func() { sugar.Info("data feed connected") },
		OnClose:   func() { sugar.Info("data feed closed") },
		OnError:   func(err error) { sugar.Warnw("data feed error", "error", err) },
		OnQuote: func(u *stream.SymbolUpdate) {
			sugar.Debugw("tick", "symbol", u.Symbol, "ltp", u.LTP)
		},
		OnDepth: func(u *stream.DepthUpdate) {
			sugar.Debugw("depth", "symbol", u.Symbol, "bid", u.BidPrice, "ask", u.AskPrice)
		},
	}
}

func orderFeedCallbacks(sugar *zap.SugaredLogger) stream.Callbacks {
	return stream.Callbacks{
		OnConnect: func() { sugar.Info("order feed connected") },
		OnClose:   func() { sugar.Info("order feed closed") },
		OnError:   func(err error) { sugar.Warnw("order feed error", "error", err) },
		OnOrders: func(m stream.Message) {
			sugar.Infow("order update", "payload", string(m.Raw))
		},
		OnTrades: func(m stream.Message) {
			sugar.Infow("trade update", "payload", string(m.Raw))
		},
		OnPositions: func(m stream.Message) {
			sugar.Infow("position update", "payload", string(m.Raw))
		},
		OnGeneral: func(m stream.Message) {
			sugar.Debugw("order feed message", "payload", string(m.Raw))
		},
	}
}

// streamSource adapts a possibly-nil client to the dashboard interface.
func streamSource(c *stream.Client) dashboard.StreamSource {
	if c == nil {
		return nil
	}
	return c
}
