// Package transport provides the delivery channels that feed the
// synchronization core: a websocket push channel, a cursor-based HTTP
// polling channel, and an AMQP broker channel. All adapters normalize
// their wire payloads into canonical events and share one lifecycle
// contract, so the composing layer treats them interchangeably.
package transport

import "github.com/AnthonyL1996/ai-resto/internal/domain"

// Status describes a channel's connectivity at a point in time.
type Status struct {
	Connected  bool
	Connecting bool
	// Terminal is set when the adapter has exhausted its retry budget
	// and will not schedule further attempts until reconnected
	// manually.
	Terminal          bool
	ReconnectAttempts int
	LastError         error
}

// Handler receives canonical events. Handlers must not block: the
// adapter's receive loop runs them inline.
type Handler func(domain.Event)

// StatusHandler receives connectivity changes.
type StatusHandler func(Status)

// Adapter is the lifecycle contract common to all channels. Connect
// never blocks on I/O; connection establishment and all receiving
// happens on the adapter's own goroutines. Disconnect cancels pending
// reconnect timers and is safe to call at any time.
type Adapter interface {
	Connect()
	Disconnect()
	OnEvent(Handler)
	OnStatus(StatusHandler)
	Status() Status
}
