// Command ordersync runs the synchronization layer headless: it
// hydrates the order collection, follows the configured delivery
// channel, and logs every collection change and the rolling stats.
// Useful for watching a kitchen's order flow from a terminal and for
// exercising the library against a live backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnthonyL1996/ai-resto/internal/config"
	"github.com/AnthonyL1996/ai-resto/internal/domain"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
	"github.com/AnthonyL1996/ai-resto/internal/ordersync"
	"github.com/AnthonyL1996/ai-resto/internal/source"
	"github.com/AnthonyL1996/ai-resto/internal/store"
	"github.com/AnthonyL1996/ai-resto/internal/transport"
)

func main() {
	cfg := config.New()
	lg := logger.New("ordersync")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	adapter, err := buildAdapter(cfg, lg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	src, cleanup, err := buildSource(ctx, cfg, lg)
	if err != nil {
		lg.Error("source_unavailable", err, nil)
		os.Exit(1)
	}
	defer cleanup()

	mode := store.HydrateMerge
	if cfg.HydrationMode == "authoritative" {
		mode = store.HydrateAuthoritative
	}

	manager := ordersync.New(ordersync.Options{
		Source:         src,
		API:            source.NewClient(source.ClientConfig{BaseURL: cfg.BaseURL, Logger: lg.Named("orders-api")}),
		Adapters:       []transport.Adapter{adapter},
		HydrationMode:  mode,
		DebounceWindow: cfg.DebounceWindow,
		Logger:         lg,
	})

	unsubscribe := manager.Subscribe(func(orders []domain.Order) {
		stats := manager.Stats()
		lg.Info("collection_changed", map[string]any{
			"orders":          len(orders),
			"active":          stats.ActiveOrders,
			"completed_today": stats.CompletedToday,
			"revenue_today":   stats.TotalRevenueToday,
		})
	})
	defer unsubscribe()

	unsubscribeStatus := manager.SubscribeStatus(func(st transport.Status) {
		lg.Info("transport_status", map[string]any{
			"connected":  st.Connected,
			"connecting": st.Connecting,
			"terminal":   st.Terminal,
			"attempts":   st.ReconnectAttempts,
		})
	})
	defer unsubscribeStatus()

	manager.Start(ctx)
	lg.Info("watching", map[string]any{"transport": cfg.Transport, "base_url": cfg.BaseURL})

	<-ctx.Done()
	manager.Stop()
}

func buildAdapter(cfg *config.Config, lg *logger.Logger) (transport.Adapter, error) {
	switch cfg.Transport {
	case "socket":
		return transport.NewSocket(transport.SocketConfig{
			URL:    cfg.SocketURL,
			Logger: lg.Named("socket"),
		}), nil
	case "polling":
		return transport.NewPolling(transport.PollingConfig{
			BaseURL:    cfg.BaseURL,
			ConsumerID: cfg.ConsumerID,
			Interval:   cfg.PollInterval,
			AckEvents:  true,
			Logger:     lg.Named("polling"),
		}), nil
	case "broker":
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("--amqp-url is required for the broker transport")
		}
		return transport.NewBroker(transport.BrokerConfig{
			URL:    cfg.AMQPURL,
			Queue:  cfg.AMQPQueue,
			Logger: lg.Named("broker"),
		}), nil
	}
	return nil, fmt.Errorf("unknown transport %q: want socket | polling | broker", cfg.Transport)
}

func buildSource(ctx context.Context, cfg *config.Config, lg *logger.Logger) (source.Source, func(), error) {
	if cfg.DatabaseURI != "" {
		pg, err := source.ConnectPostgres(ctx, cfg.DatabaseURI, lg.Named("orders-db"))
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	client := source.NewClient(source.ClientConfig{BaseURL: cfg.BaseURL, Logger: lg.Named("orders-api")})
	return client, func() {}, nil
}
