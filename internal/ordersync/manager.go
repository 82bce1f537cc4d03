// Package ordersync composes the synchronization layer: transports
// feed normalized events through the debounce gate into the store,
// hydration establishes and recovers baseline state, and an optional
// CRUD client provides the write path. UIs consume this package only.
package ordersync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnthonyL1996/ai-resto/internal/clock"
	"github.com/AnthonyL1996/ai-resto/internal/domain"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
	"github.com/AnthonyL1996/ai-resto/internal/source"
	"github.com/AnthonyL1996/ai-resto/internal/store"
	"github.com/AnthonyL1996/ai-resto/internal/transport"
)

type Options struct {
	// Source provides full-collection hydration. Nil disables
	// hydration (events only).
	Source source.Source

	// API enables the write path (create/update/delete orders). Nil
	// makes the manager read-only.
	API *source.Client

	// Adapters are the delivery channels to run. The store's version
	// rule makes running several at once safe.
	Adapters []transport.Adapter

	HydrationMode  store.HydrationMode
	DebounceWindow time.Duration

	Clock  clock.Clock
	Logger *logger.Logger
}

// Manager owns the lifecycle of one synchronized order collection.
type Manager struct {
	src      source.Source
	api      *source.Client
	adapters []transport.Adapter
	mode     store.HydrationMode
	clk      clock.Clock
	lg       *logger.Logger

	store *store.Store
	gate  *store.Gate

	mu         sync.Mutex
	started    bool
	refreshing bool
	statusSubs map[int]transport.StatusHandler
	nextSub    int
}

func New(opts Options) *Manager {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.New("ordersync")
	}
	st := store.New(clk, lg.Named("store"))
	return &Manager{
		src:        opts.Source,
		api:        opts.API,
		adapters:   opts.Adapters,
		mode:       opts.HydrationMode,
		clk:        clk,
		lg:         lg,
		store:      st,
		gate:       store.NewGate(st, clk, lg.Named("gate"), opts.DebounceWindow),
		statusSubs: make(map[int]transport.StatusHandler),
	}
}

// Store exposes the underlying collection for queries and
// subscriptions. The manager remains its only writer.
func (m *Manager) Store() *store.Store { return m.store }

// Start hydrates the baseline collection and connects every adapter.
// A failed initial hydration is logged and does not prevent startup:
// the collection fills in from events and later refreshes.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	if err := m.Refresh(ctx); err != nil {
		m.lg.Error("initial_hydration_failed", err, nil)
	}

	for _, a := range m.adapters {
		a.OnEvent(m.gate.Offer)
		a.OnStatus(m.onStatus)
		a.Connect()
	}
	m.lg.Info("started", map[string]any{"adapters": len(m.adapters)})
}

// Stop disconnects all adapters, drops pending debounce timers
// without firing them, and unsubscribes everyone.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.statusSubs = make(map[int]transport.StatusHandler)
	m.mu.Unlock()

	for _, a := range m.adapters {
		a.Disconnect()
	}
	m.gate.Close()
	m.store.Close()
	m.lg.Info("stopped", nil)
}

// Refresh performs one full fetch and merges it into the collection.
// Orders with strictly newer event-driven state are untouched. The
// returned error is a *source.HydrationError; the collection keeps its
// last known good state.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.src == nil {
		return nil
	}
	orders, err := m.src.Orders(ctx)
	if err != nil {
		return &source.HydrationError{Err: err}
	}
	changed := m.store.Hydrate(orders, m.clk.Now(), m.mode)
	m.lg.Info("hydrated", map[string]any{"fetched": len(orders), "changed": changed})
	return nil
}

// onStatus fans a transport status change out to subscribers and, on a
// terminal disconnect, falls back to hydration so the collection
// catches up on whatever the dead channel missed.
func (m *Manager) onStatus(st transport.Status) {
	m.mu.Lock()
	subs := make([]transport.StatusHandler, 0, len(m.statusSubs))
	for _, fn := range m.statusSubs {
		subs = append(subs, fn)
	}
	launchRefresh := st.Terminal && m.src != nil && m.started && !m.refreshing
	if launchRefresh {
		m.refreshing = true
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}

	if launchRefresh {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.Refresh(ctx); err != nil {
				m.lg.Error("recovery_hydration_failed", err, nil)
			}
			m.mu.Lock()
			m.refreshing = false
			m.mu.Unlock()
		}()
	}
}

// Subscribe registers for collection updates. See store.Subscribe.
func (m *Manager) Subscribe(fn store.Subscriber) (unsubscribe func()) {
	return m.store.Subscribe(fn)
}

// SubscribeStatus registers for transport connectivity changes.
func (m *Manager) SubscribeStatus(fn transport.StatusHandler) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.statusSubs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.statusSubs, id)
		m.mu.Unlock()
	}
}

// Flush applies all debounced events immediately.
func (m *Manager) Flush() { m.gate.Flush() }

func (m *Manager) Orders() []domain.Order             { return m.store.Snapshot() }
func (m *Manager) Active() []domain.Order             { return m.store.Active() }
func (m *Manager) Completed() []domain.Order          { return m.store.Completed() }
func (m *Manager) Stats() store.Stats                 { return m.store.Stats() }
func (m *Manager) Get(id string) (domain.Order, bool) { return m.store.Get(id) }

// CreateOrder submits a new order and installs the server's
// authoritative response directly — no refetch needed.
func (m *Manager) CreateOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	if m.api == nil {
		return domain.Order{}, errReadOnly
	}
	if o.ID == "" {
		o.ID = "ORD-" + uuid.NewString()
	}
	if o.Status == "" {
		o.Status = domain.StatusNew
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = m.clk.Now()
	}
	o.Total = domain.CalculateTotal(o.Items)

	created, err := m.api.Create(ctx, o)
	if err != nil {
		return domain.Order{}, err
	}
	m.store.Apply(domain.Event{
		Kind:            domain.EventCreated,
		OrderID:         created.ID,
		Snapshot:        &created,
		ServerTimestamp: m.clk.Now(),
	})
	return created, nil
}

// UpdateOrder replaces an order's editable fields.
func (m *Manager) UpdateOrder(ctx context.Context, id string, o domain.Order) (domain.Order, error) {
	if m.api == nil {
		return domain.Order{}, errReadOnly
	}
	o.Total = domain.CalculateTotal(o.Items)
	updated, err := m.api.Update(ctx, id, o)
	if err != nil {
		return domain.Order{}, err
	}
	m.applyAuthoritative(updated)
	return updated, nil
}

// UpdateOrderStatus sets an explicit status.
func (m *Manager) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	if m.api == nil {
		return domain.Order{}, errReadOnly
	}
	updated, err := m.api.UpdateStatus(ctx, id, status)
	if err != nil {
		return domain.Order{}, err
	}
	m.applyAuthoritative(updated)
	return updated, nil
}

// AdvanceOrder moves an order one step along the kitchen progression.
// Terminal orders are returned unchanged.
func (m *Manager) AdvanceOrder(ctx context.Context, id string) (domain.Order, error) {
	cur, ok := m.store.Get(id)
	if !ok {
		return domain.Order{}, errUnknownOrder
	}
	next, ok := domain.NextStatus(cur.Status)
	if !ok {
		return cur, nil
	}
	return m.UpdateOrderStatus(ctx, id, next)
}

// DeleteOrder removes an order and tombstones it locally so stale
// in-flight events cannot resurrect it.
func (m *Manager) DeleteOrder(ctx context.Context, id string) error {
	if m.api == nil {
		return errReadOnly
	}
	if err := m.api.Delete(ctx, id); err != nil {
		return err
	}
	m.store.Apply(domain.Event{
		Kind:            domain.EventDeleted,
		OrderID:         id,
		ServerTimestamp: m.clk.Now(),
	})
	return nil
}

func (m *Manager) applyAuthoritative(o domain.Order) {
	m.store.Apply(domain.Event{
		Kind:            domain.EventUpdated,
		OrderID:         o.ID,
		Snapshot:        &o,
		ServerTimestamp: m.clk.Now(),
	})
}
