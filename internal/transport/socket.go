package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnthonyL1996/ai-resto/internal/clock"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
	"github.com/AnthonyL1996/ai-resto/internal/normalize"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectBaseDelay   = time.Second
	defaultReconnectMaxDelay    = 10 * time.Second
	defaultHandshakeTimeout     = 10 * time.Second
)

type SocketConfig struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8000/kds/ws".
	URL string

	// MaxReconnectAttempts bounds consecutive failed reconnects before
	// the adapter reports a terminal disconnect. Default 5.
	MaxReconnectAttempts int
	// ReconnectBaseDelay is doubled per attempt up to
	// ReconnectMaxDelay. Defaults 1s and 10s.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	HandshakeTimeout time.Duration

	Clock  clock.Clock
	Logger *logger.Logger
}

// Socket is the push channel: a persistent websocket whose inbound
// frames are normalized into canonical events. Unexpected closures
// trigger exponential-backoff reconnection; a manual Disconnect does
// not.
type Socket struct {
	cfg    SocketConfig
	clk    clock.Clock
	lg     *logger.Logger
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	handler    Handler
	statusFn   StatusHandler
	status     Status
	manual     bool
	attempts   int
	retryTimer *clock.Timer
}

func NewSocket(cfg SocketConfig) *Socket {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("socket")
	}
	return &Socket{
		cfg:    cfg,
		clk:    cfg.Clock,
		lg:     cfg.Logger,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

func (s *Socket) OnEvent(h Handler)        { s.mu.Lock(); s.handler = h; s.mu.Unlock() }
func (s *Socket) OnStatus(h StatusHandler) { s.mu.Lock(); s.statusFn = h; s.mu.Unlock() }

func (s *Socket) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect starts connecting in the background. Calling Connect on a
// live or terminal adapter restarts with a fresh attempt budget.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.status.Connected || s.status.Connecting {
		s.mu.Unlock()
		return
	}
	s.manual = false
	s.attempts = 0
	notify := s.setStatusLocked(Status{Connecting: true})
	s.mu.Unlock()
	notify()

	go s.dial()
}

// Disconnect closes the connection and cancels any pending reconnect.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.manual = true
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	notify := s.setStatusLocked(Status{})
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	notify()
}

func (s *Socket) dial() {
	s.mu.Lock()
	if s.manual {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	conn, _, err := s.dialer.Dial(s.cfg.URL, nil)

	s.mu.Lock()
	if s.manual {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.lg.Warn("connect_failed", err, map[string]any{"url": s.cfg.URL, "attempt": s.attempts})
		notify := s.scheduleRetryLocked(err)
		s.mu.Unlock()
		notify()
		return
	}
	s.conn = conn
	s.attempts = 0
	notify := s.setStatusLocked(Status{Connected: true})
	s.mu.Unlock()
	notify()

	go s.readLoop(conn)
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.manual || s.conn != conn {
				s.mu.Unlock()
				return
			}
			s.conn = nil
			s.lg.Warn("connection_lost", err, map[string]any{"url": s.cfg.URL})
			notify := s.scheduleRetryLocked(err)
			s.mu.Unlock()
			notify()
			return
		}

		ev := normalize.Message(data, s.clk.Now())
		if ev == nil {
			// Malformed or unknown frame: drop it, keep the channel.
			s.lg.Debug("frame_skipped", map[string]any{"size": len(data)})
			continue
		}
		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler != nil {
			handler(*ev)
		}
	}
}

// scheduleRetryLocked arms the next reconnect attempt, or flips to the
// terminal state once the budget is spent. Caller holds s.mu; the
// returned function delivers the status change and must be called
// after unlocking.
func (s *Socket) scheduleRetryLocked(cause error) func() {
	s.attempts++
	if s.attempts > s.cfg.MaxReconnectAttempts {
		s.lg.Error("reconnect_exhausted", cause, map[string]any{"attempts": s.attempts - 1})
		return s.setStatusLocked(Status{
			Terminal:          true,
			ReconnectAttempts: s.attempts - 1,
			LastError:         cause,
		})
	}
	delay := s.reconnectDelay(s.attempts)
	s.retryTimer = s.clk.AfterFunc(delay, func() { go s.dial() })
	return s.setStatusLocked(Status{
		Connecting:        true,
		ReconnectAttempts: s.attempts,
		LastError:         cause,
	})
}

// reconnectDelay is base * 2^(attempt-1), capped.
func (s *Socket) reconnectDelay(attempt int) time.Duration {
	delay := s.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.ReconnectMaxDelay {
			return s.cfg.ReconnectMaxDelay
		}
	}
	if delay > s.cfg.ReconnectMaxDelay {
		return s.cfg.ReconnectMaxDelay
	}
	return delay
}

func (s *Socket) setStatusLocked(st Status) func() {
	s.status = st
	fn := s.statusFn
	if fn == nil {
		return func() {}
	}
	return func() { fn(st) }
}
