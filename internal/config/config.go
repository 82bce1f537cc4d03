package config

import (
	"flag"
	"os"
	"time"
)

// Config is the surface a composing application provides: where the
// backend lives and which delivery channel to run.
type Config struct {
	// BaseURL of the CRUD/event HTTP API.
	BaseURL string
	// SocketURL of the websocket push endpoint.
	SocketURL string
	// Transport selects the channel: "socket", "polling" or "broker".
	Transport string

	PollInterval   time.Duration
	ConsumerID     string
	DebounceWindow time.Duration

	// HydrationMode: "merge" or "authoritative".
	HydrationMode string

	// AMQPURL and AMQPQueue configure the broker transport.
	AMQPURL   string
	AMQPQueue string

	// DatabaseURI enables hydrating straight from the restaurant
	// database instead of the HTTP API.
	DatabaseURI string
}

func New() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8000", "order API base URL")
	flag.StringVar(&cfg.SocketURL, "socket-url", "ws://localhost:8000/kds/ws", "websocket endpoint")
	flag.StringVar(&cfg.Transport, "transport", "socket", "delivery channel: socket | polling | broker")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", 2*time.Second, "polling transport interval")
	flag.StringVar(&cfg.ConsumerID, "consumer-id", "", "polling consumer ID (random when empty)")
	flag.DurationVar(&cfg.DebounceWindow, "debounce-window", 100*time.Millisecond, "event coalescing window")
	flag.StringVar(&cfg.HydrationMode, "hydration-mode", "merge", "hydration mode: merge | authoritative")
	flag.StringVar(&cfg.AMQPURL, "amqp-url", "", "AMQP URL for the broker transport")
	flag.StringVar(&cfg.AMQPQueue, "amqp-queue", "", "AMQP queue for the broker transport")
	flag.StringVar(&cfg.DatabaseURI, "database-uri", "", "Postgres URI for direct hydration")
	flag.Parse()

	cfg.BaseURL = getEnv("ORDERSYNC_BASE_URL", cfg.BaseURL)
	cfg.SocketURL = getEnv("ORDERSYNC_SOCKET_URL", cfg.SocketURL)
	cfg.Transport = getEnv("ORDERSYNC_TRANSPORT", cfg.Transport)
	cfg.PollInterval = getEnvDuration("ORDERSYNC_POLL_INTERVAL", cfg.PollInterval)
	cfg.ConsumerID = getEnv("ORDERSYNC_CONSUMER_ID", cfg.ConsumerID)
	cfg.DebounceWindow = getEnvDuration("ORDERSYNC_DEBOUNCE_WINDOW", cfg.DebounceWindow)
	cfg.HydrationMode = getEnv("ORDERSYNC_HYDRATION_MODE", cfg.HydrationMode)
	cfg.AMQPURL = getEnv("ORDERSYNC_AMQP_URL", cfg.AMQPURL)
	cfg.AMQPQueue = getEnv("ORDERSYNC_AMQP_QUEUE", cfg.AMQPQueue)
	cfg.DatabaseURI = getEnv("ORDERSYNC_DATABASE_URI", cfg.DatabaseURI)

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
