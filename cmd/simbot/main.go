// simbot is a reference trading bot for the simulation harness. It follows
// a naive momentum rule: buy a symbol after consecutive up ticks, flatten it
// after consecutive down ticks. Its purpose is exercising the harness API,
// not making money.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"marketsim/pkg/botclient"
	"marketsim/pkg/types"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "harness base URL")
		name      = flag.String("name", "momentum-bot", "bot name")
		orderQty  = flag.Int64("qty", 10, "shares per order")
		streak    = flag.Int("streak", 3, "consecutive ticks before acting")
		logLevel  = flag.String("log-level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(*logLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *serverURL, *name, *orderQty, *streak, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL, name string, qty int64, streakLen int, logger *slog.Logger) error {
	client := botclient.New(serverURL, logger)
	creds, err := client.Register(ctx, name, types.ModeClassic)
	if err != nil {
		return err
	}

	stream := botclient.NewStream(serverURL, creds, logger)
	bot := &momentumBot{
		client:    client,
		qty:       qty,
		streakLen: streakLen,
		streaks:   make(map[string]int),
		holding:   make(map[string]bool),
		logger:    logger.With("component", "momentum"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(gctx) })
	g.Go(func() error { return bot.trade(gctx, stream) })
	return g.Wait()
}

type momentumBot struct {
	client    *botclient.Client
	qty       int64
	streakLen int

	// streaks counts consecutive same-direction ticks per symbol; positive
	// runs up, negative runs down.
	streaks map[string]int
	holding map[string]bool

	logger *slog.Logger
}

func (b *momentumBot) trade(ctx context.Context, stream *botclient.Stream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-stream.MarketUpdates():
			for _, delta := range update.Deltas {
				b.observe(ctx, delta)
			}
		case fill := <-stream.OrderUpdates():
			b.logger.Info("fill",
				"kind", fill.Trade.Kind,
				"symbol", fill.Trade.Symbol,
				"qty", fill.Trade.Quantity,
				"price", fill.Trade.Price,
				"cash", fill.Cash,
			)
		case p := <-stream.PortfolioUpdates():
			b.logger.Debug("portfolio", "day", p.Day, "value", p.TotalValue, "unrealized", p.UnrealizedPnL)
		}
	}
}

func (b *momentumBot) observe(ctx context.Context, delta types.MarketDelta) {
	streak := b.streaks[delta.Symbol]
	switch {
	case delta.Change > 0 && streak >= 0:
		streak++
	case delta.Change < 0 && streak <= 0:
		streak--
	case delta.Change > 0:
		streak = 1
	default:
		streak = -1
	}
	b.streaks[delta.Symbol] = streak

	switch {
	case streak >= b.streakLen && !b.holding[delta.Symbol]:
		result, err := b.client.Order(ctx, delta.Symbol, "buy", b.qty)
		if err != nil {
			b.logger.Warn("buy failed", "symbol", delta.Symbol, "error", err)
			return
		}
		if result.Rejected() {
			b.logger.Debug("buy rejected", "symbol", delta.Symbol, "tag", result.Tag)
			return
		}
		b.holding[delta.Symbol] = true
	case streak <= -b.streakLen && b.holding[delta.Symbol]:
		result, err := b.client.Order(ctx, delta.Symbol, "sell", b.qty)
		if err != nil {
			b.logger.Warn("sell failed", "symbol", delta.Symbol, "error", err)
			return
		}
		if result.Rejected() {
			b.logger.Debug("sell rejected", "symbol", delta.Symbol, "tag", result.Tag)
			return
		}
		b.holding[delta.Symbol] = false
	}
}
