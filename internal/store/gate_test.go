package store

import (
	"testing"
	"time"

	"github.com/AnthonyL1996/ai-resto/internal/clock"
	"github.com/AnthonyL1996/ai-resto/internal/domain"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
)

func newTestGate(t *testing.T) (*Gate, *Store, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(base)
	lg := logger.NewWriter("gate", discard{})
	s := New(clk, lg)
	return NewGate(s, clk, lg, 100*time.Millisecond), s, clk
}

func quantityEvent(id string, q int, at time.Time) domain.Event {
	o := domain.Order{
		ID:     id,
		Status: domain.StatusNew,
		Items:  []domain.OrderItem{{Name: "Nasi Goreng", Quantity: q, Price: 9.50}},
	}
	return domain.Event{Kind: domain.EventUpdated, OrderID: id, Snapshot: &o, ServerTimestamp: at}
}

func TestGateCoalescesBurst(t *testing.T) {
	g, s, clk := newTestGate(t)

	g.Offer(quantityEvent("A", 1, base))
	clk.Advance(10 * time.Millisecond)
	g.Offer(quantityEvent("A", 2, base.Add(10*time.Millisecond)))
	clk.Advance(10 * time.Millisecond)
	g.Offer(quantityEvent("A", 3, base.Add(20*time.Millisecond)))

	if _, ok := s.Get("A"); ok {
		t.Fatal("event applied before the quiet window elapsed")
	}

	clk.Advance(100 * time.Millisecond)

	got, ok := s.Get("A")
	if !ok {
		t.Fatal("coalesced event never applied")
	}
	if got.Items[0].Quantity != 3 {
		t.Errorf("quantity = %d, want 3 (only the last snapshot)", got.Items[0].Quantity)
	}
	if g.PendingCount() != 0 {
		t.Errorf("pending = %d after quiescence", g.PendingCount())
	}

	// Nothing left behind that could overwrite C later.
	clk.Advance(time.Second)
	got, _ = s.Get("A")
	if got.Items[0].Quantity != 3 {
		t.Errorf("a superseded snapshot resurfaced: quantity %d", got.Items[0].Quantity)
	}
}

func TestGateKeysAreIndependent(t *testing.T) {
	g, s, clk := newTestGate(t)

	g.Offer(quantityEvent("A", 1, base))
	clk.Advance(50 * time.Millisecond)
	g.Offer(quantityEvent("B", 2, base.Add(50*time.Millisecond)))

	// A's window expires first; B is still waiting.
	clk.Advance(50 * time.Millisecond)
	if _, ok := s.Get("A"); !ok {
		t.Error("A should have been applied")
	}
	if _, ok := s.Get("B"); ok {
		t.Error("B applied before its own window elapsed")
	}

	clk.Advance(50 * time.Millisecond)
	if _, ok := s.Get("B"); !ok {
		t.Error("B never applied")
	}
}

func TestGateFlush(t *testing.T) {
	g, s, clk := newTestGate(t)

	g.Offer(quantityEvent("A", 1, base))
	g.Offer(quantityEvent("B", 2, base.Add(time.Millisecond)))
	g.Flush()

	if _, ok := s.Get("A"); !ok {
		t.Error("flush did not apply A")
	}
	if _, ok := s.Get("B"); !ok {
		t.Error("flush did not apply B")
	}
	if g.PendingCount() != 0 {
		t.Errorf("pending = %d after flush", g.PendingCount())
	}

	// The stopped timers must not fire again.
	clk.Advance(time.Second)
}

func TestGateCloseDropsPending(t *testing.T) {
	g, s, clk := newTestGate(t)

	g.Offer(quantityEvent("A", 1, base))
	g.Close()
	clk.Advance(time.Second)

	if _, ok := s.Get("A"); ok {
		t.Error("closed gate applied a dropped event")
	}

	g.Offer(quantityEvent("B", 1, base))
	if g.PendingCount() != 0 {
		t.Error("closed gate accepted a new event")
	}
}

func TestGatePanicIsolation(t *testing.T) {
	clk := clock.Fake(base)
	lg := logger.NewWriter("gate", discard{})
	s := New(clk, lg)
	g := NewGate(s, clk, lg, 100*time.Millisecond)

	// A subscriber that panics on one order must not take down the
	// other keys' in-flight applications.
	s.Subscribe(func(orders []domain.Order) {
		for _, o := range orders {
			if o.ID == "bad" {
				panic("boom")
			}
		}
	})

	g.Offer(quantityEvent("bad", 1, base))
	g.Offer(quantityEvent("good", 1, base.Add(time.Millisecond)))
	clk.Advance(100 * time.Millisecond)

	if _, ok := s.Get("good"); !ok {
		t.Error("a panic on one key disturbed another key's application")
	}
}
