package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/AnthonyL1996/ai-resto/internal/clock"
	"github.com/AnthonyL1996/ai-resto/internal/domain"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
)

// DefaultDebounceWindow bounds how often a bursty order reaches the
// core: within the window only the most recent snapshot per
// (kind, order) key is applied.
const DefaultDebounceWindow = 100 * time.Millisecond

type gateKey struct {
	kind    domain.EventKind
	orderID string
}

type pending struct {
	ev    domain.Event
	timer *clock.Timer
}

// Gate coalesces event bursts before they hit the store. Arrival for a
// key that already has a pending event replaces the event and restarts
// the quiet window; distinct keys are independent. Every application
// runs isolated per key: a panic while applying one order's event is
// logged and does not disturb other in-flight keys.
type Gate struct {
	store  *Store
	clk    clock.Clock
	lg     *logger.Logger
	window time.Duration

	mu      sync.Mutex
	pending map[gateKey]*pending
	closed  bool
}

func NewGate(store *Store, clk clock.Clock, lg *logger.Logger, window time.Duration) *Gate {
	if clk == nil {
		clk = clock.Real()
	}
	if lg == nil {
		lg = logger.New("gate")
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Gate{
		store:   store,
		clk:     clk,
		lg:      lg,
		window:  window,
		pending: make(map[gateKey]*pending),
	}
}

// Offer schedules an event for application once its key has been quiet
// for the debounce window. A newer arrival for the same key supersedes
// the pending one.
func (g *Gate) Offer(ev domain.Event) {
	key := gateKey{kind: ev.Kind, orderID: ev.OrderID}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if p, ok := g.pending[key]; ok {
		p.ev = ev
		p.timer.Reset(g.window)
		return
	}
	p := &pending{ev: ev}
	p.timer = g.clk.AfterFunc(g.window, func() { g.fire(key) })
	g.pending[key] = p
}

func (g *Gate) fire(key gateKey) {
	g.mu.Lock()
	p, ok := g.pending[key]
	if ok {
		delete(g.pending, key)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	g.apply(p.ev)
}

// Flush applies every pending event immediately, oldest server
// timestamp first.
func (g *Gate) Flush() {
	g.mu.Lock()
	events := make([]domain.Event, 0, len(g.pending))
	for key, p := range g.pending {
		p.timer.Stop()
		events = append(events, p.ev)
		delete(g.pending, key)
	}
	g.mu.Unlock()

	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].ServerTimestamp.Before(events[j-1].ServerTimestamp); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
	for _, ev := range events {
		g.apply(ev)
	}
}

// Close drops all pending timers without applying them and rejects
// further offers.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for key, p := range g.pending {
		p.timer.Stop()
		delete(g.pending, key)
	}
}

func (g *Gate) apply(ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			g.lg.Error("apply_panic", fmt.Errorf("%v", r), map[string]any{"order_id": ev.OrderID})
		}
	}()
	g.store.Apply(ev)
}

// PendingCount reports how many keys are waiting out their window.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
