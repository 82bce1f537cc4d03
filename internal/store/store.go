// Package store owns the canonical in-memory order collection and the
// reconciliation rules that keep it consistent when several channels
// deliver overlapping, duplicated, or out-of-order events.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/AnthonyL1996/ai-resto/internal/clock"
	"github.com/AnthonyL1996/ai-resto/internal/domain"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
)

// HydrationMode controls what a full snapshot says about orders that
// are held locally but absent from the snapshot.
type HydrationMode int

const (
	// HydrateMerge treats the snapshot as possibly partial: local
	// orders missing from it survive.
	HydrateMerge HydrationMode = iota
	// HydrateAuthoritative treats the snapshot as complete: local
	// orders missing from it are removed, unless their state is
	// strictly newer than the hydration instant.
	HydrateAuthoritative
)

// Subscriber receives the full updated collection after each
// successful mutation. The slice is a fresh copy; subscribers may keep
// it.
type Subscriber func(orders []domain.Order)

type entry struct {
	order   domain.Order
	version time.Time
}

// Store is the synchronization core. All mutations are serialized
// behind one mutex, the Go rendering of the source system's
// single-threaded event loop: concurrent arrivals from the socket,
// polling, and hydration paths interleave as whole operations, never
// mid-merge. Correctness against out-of-order delivery does not rest
// on that serialization but on the per-order version rule in Apply.
type Store struct {
	clk clock.Clock
	lg  *logger.Logger

	mu      sync.Mutex
	orders  map[string]*entry
	deleted map[string]time.Time // tombstones, keyed by order ID
	subs    map[int]Subscriber
	nextSub int
}

func New(clk clock.Clock, lg *logger.Logger) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	if lg == nil {
		lg = logger.New("store")
	}
	return &Store{
		clk:     clk,
		lg:      lg,
		orders:  make(map[string]*entry),
		deleted: make(map[string]time.Time),
		subs:    make(map[int]Subscriber),
	}
}

// Apply reconciles one event into the collection and reports whether
// it changed anything. Events not strictly newer than the stored
// version are discarded — that single rule makes Apply idempotent and
// safe against out-of-order and duplicate delivery.
//
// Deletions always win over the state they tombstone: a Deleted event
// removes the order regardless of its timestamp, and only a strictly
// newer Created revives the ID (treated as a new entity).
func (s *Store) Apply(ev domain.Event) bool {
	s.mu.Lock()
	applied := s.applyLocked(ev)
	var snapshot []domain.Order
	var subs []Subscriber
	if applied {
		snapshot = s.snapshotLocked()
		subs = s.subscribersLocked()
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot)
	}
	return applied
}

func (s *Store) applyLocked(ev domain.Event) bool {
	switch ev.Kind {
	case domain.EventDeleted:
		tomb := ev.ServerTimestamp
		if prev, ok := s.deleted[ev.OrderID]; ok && prev.After(tomb) {
			tomb = prev
		}
		s.deleted[ev.OrderID] = tomb
		if _, ok := s.orders[ev.OrderID]; !ok {
			return false
		}
		delete(s.orders, ev.OrderID)
		return true

	case domain.EventCreated, domain.EventUpdated:
		if ev.Snapshot == nil {
			s.lg.Debug("event_without_snapshot", map[string]any{"order_id": ev.OrderID, "kind": string(ev.Kind)})
			return false
		}
		if tomb, ok := s.deleted[ev.OrderID]; ok {
			if ev.Kind != domain.EventCreated || !ev.ServerTimestamp.After(tomb) {
				return false
			}
			delete(s.deleted, ev.OrderID)
		}
		cur := s.orders[ev.OrderID]
		if cur != nil && !ev.ServerTimestamp.After(cur.version) {
			// Stale or duplicate. Not an error: overlapping channels
			// replay events all the time.
			return false
		}
		merged := mergeOrder(cur, *ev.Snapshot)
		merged.ID = ev.OrderID
		s.orders[ev.OrderID] = &entry{order: merged, version: ev.ServerTimestamp}
		return true
	}
	return false
}

// mergeOrder overlays an incoming snapshot on the stored order. The
// snapshot may be partial (a status-only update); zero-valued fields
// leave the stored value in place. The merged copy is built in full
// before installation, so readers never observe a half-applied order.
func mergeOrder(cur *entry, in domain.Order) domain.Order {
	if cur == nil {
		if len(in.Items) > 0 {
			in.Total = domain.CalculateTotal(in.Items)
		}
		return in
	}
	out := cur.order
	if in.Status != "" {
		out.Status = in.Status
	}
	if in.CustomerName != "" {
		out.CustomerName = in.CustomerName
	}
	if in.CustomerPhone != "" {
		out.CustomerPhone = in.CustomerPhone
	}
	if in.PaymentMethod != "" {
		out.PaymentMethod = in.PaymentMethod
	}
	if in.Source != "" {
		out.Source = in.Source
	}
	if in.Notes != "" {
		out.Notes = in.Notes
	}
	if in.OrderNumber != 0 {
		out.OrderNumber = in.OrderNumber
	}
	if in.EstimatedTime != 0 {
		out.EstimatedTime = in.EstimatedTime
	}
	if !in.Timestamp.IsZero() {
		out.Timestamp = in.Timestamp
	}
	if in.RequestedReadyTime != nil {
		out.RequestedReadyTime = in.RequestedReadyTime
	}
	if len(in.Items) > 0 {
		out.Items = in.Items
		out.Total = domain.CalculateTotal(in.Items)
	}
	return out
}

// Hydrate merges a full-collection snapshot fetched at instant at.
// Each order is applied under the same version rule as an Updated
// event, so locally-held state that is strictly newer than the fetch
// survives. A fetched order is server-side proof of existence, which
// retires any older tombstone for its ID. This is deliberately looser
// than the incremental-event rule in Apply, where only a strictly
// newer Created revives a deleted ID: a full fetch is authoritative
// about what exists, an Updated event is not.
//
// In HydrateAuthoritative mode, local orders absent from the snapshot
// are removed unless their version is newer than at. Subscribers are
// notified once for the whole batch.
func (s *Store) Hydrate(orders []domain.Order, at time.Time, mode HydrationMode) int {
	s.mu.Lock()
	changed := 0
	present := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if o.ID == "" {
			continue
		}
		present[o.ID] = struct{}{}
		if tomb, ok := s.deleted[o.ID]; ok && at.After(tomb) {
			delete(s.deleted, o.ID)
		}
		ev := domain.Event{
			Kind:            domain.EventUpdated,
			OrderID:         o.ID,
			Snapshot:        &o,
			ServerTimestamp: at,
		}
		if s.applyLocked(ev) {
			changed++
		}
	}
	if mode == HydrateAuthoritative {
		for id, cur := range s.orders {
			if _, ok := present[id]; ok {
				continue
			}
			if cur.version.After(at) {
				continue
			}
			delete(s.orders, id)
			changed++
		}
	}

	var snapshot []domain.Order
	var subs []Subscriber
	if changed > 0 {
		snapshot = s.snapshotLocked()
		subs = s.subscribersLocked()
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot)
	}
	return changed
}

// Subscribe registers a callback invoked after every successful
// mutation with a copy of the full collection. The returned function
// unsubscribes; it is safe to call more than once.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close drops all subscribers. Pending callers finish; no further
// callbacks are invoked.
func (s *Store) Close() {
	s.mu.Lock()
	s.subs = make(map[int]Subscriber)
	s.mu.Unlock()
}

// Get returns the stored order with the given ID.
func (s *Store) Get(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.orders[id]; ok {
		return cur.order, true
	}
	return domain.Order{}, false
}

// Snapshot returns a copy of the collection, newest first.
func (s *Store) Snapshot() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Active returns orders still in the kitchen pipeline, newest first.
func (s *Store) Active() []domain.Order {
	return s.filter(func(o domain.Order) bool { return o.Active() })
}

// Completed returns completed orders, newest first.
func (s *Store) Completed() []domain.Order {
	return s.filter(func(o domain.Order) bool { return o.Status == domain.StatusCompleted })
}

// Stats are derived aggregates over the collection.
type Stats struct {
	TotalOrders       int
	ActiveOrders      int
	CompletedToday    int
	TotalRevenueToday float64
}

// Stats computes aggregates from the live collection on every call;
// nothing here is cached. "Today" is the calendar day of the injected
// clock in its own location.
func (s *Store) Stats() Stats {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	st.TotalOrders = len(s.orders)
	for _, cur := range s.orders {
		o := cur.order
		if o.Active() {
			st.ActiveOrders++
			continue
		}
		if o.Status == domain.StatusCompleted && sameDay(o.Timestamp, now) {
			st.CompletedToday++
			st.TotalRevenueToday += o.Total
		}
	}
	return st
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *Store) filter(keep func(domain.Order) bool) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, cur := range s.orders {
		if keep(cur.order) {
			out = append(out, cur.order)
		}
	}
	sortOrders(out)
	return out
}

func (s *Store) snapshotLocked() []domain.Order {
	out := make([]domain.Order, 0, len(s.orders))
	for _, cur := range s.orders {
		out = append(out, cur.order)
	}
	sortOrders(out)
	return out
}

func (s *Store) subscribersLocked() []Subscriber {
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].Timestamp.Equal(orders[j].Timestamp) {
			return orders[i].Timestamp.After(orders[j].Timestamp)
		}
		return orders[i].ID > orders[j].ID
	})
}
