package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AnthonyL1996/ai-resto/internal/clock"
	"github.com/AnthonyL1996/ai-resto/internal/domain"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
)

var pollBase = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

// eventServer is a scripted /events endpoint: each poll pops the next
// batch, and it records the since cursor and ack bodies it receives.
type eventServer struct {
	mu      sync.Mutex
	batches [][]map[string]any
	cursors []string
	acks    [][]string
	fail    bool
}

func (s *eventServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		s.cursors = append(s.cursors, r.URL.Query().Get("since"))
		batch := []map[string]any{}
		if len(s.batches) > 0 {
			batch = s.batches[0]
			s.batches = s.batches[1:]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(batch)
	})
	mux.HandleFunc("/events/consume", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			EventIDs []string `json:"event_ids"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.acks = append(s.acks, body.EventIDs)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestPolling(t *testing.T, srv *eventServer, clk *clock.FakeClock) *Polling {
	t.Helper()
	server := httptest.NewServer(srv.handler())
	t.Cleanup(server.Close)
	return NewPolling(PollingConfig{
		BaseURL:    server.URL,
		ConsumerID: "kds-test",
		Interval:   2 * time.Second,
		AckEvents:  true,
		Clock:      clk,
		Logger:     logger.NewWriter("polling", discardWriter{}),
	})
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPollingCursorAdvancesAndAcks(t *testing.T) {
	clk := clock.Fake(pollBase)
	srv := &eventServer{batches: [][]map[string]any{
		{
			{
				"id":        "ev-1",
				"type":      "new_order",
				"timestamp": "2026-08-29T12:00:01Z",
				"data": map[string]any{
					"order_id":      "A",
					"status":        "new",
					"customer_name": "Marie Dupont",
				},
			},
			{
				"id":        "ev-2",
				"type":      "order_update",
				"timestamp": "2026-08-29T12:00:02Z",
				"data":      map[string]any{"order_id": "A", "status": "preparing"},
			},
		},
		{},
	}}
	p := newTestPolling(t, srv, clk)

	var events []domain.Event
	p.OnEvent(func(ev domain.Event) { events = append(events, ev) })
	p.Connect()
	defer p.Disconnect()

	clk.Advance(2 * time.Second) // first poll
	clk.Advance(2 * time.Second) // second poll, carries the cursor

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != domain.EventCreated || events[0].OrderID != "A" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Kind != domain.EventUpdated {
		t.Errorf("second event kind = %v", events[1].Kind)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.cursors) != 2 {
		t.Fatalf("server saw %d polls, want 2", len(srv.cursors))
	}
	if srv.cursors[0] != "" {
		t.Errorf("first poll should carry no cursor, got %q", srv.cursors[0])
	}
	if srv.cursors[1] != "2026-08-29T12:00:02Z" {
		t.Errorf("second poll cursor = %q, want the newest event timestamp", srv.cursors[1])
	}
	if len(srv.acks) != 1 || len(srv.acks[0]) != 2 || srv.acks[0][0] != "ev-1" {
		t.Errorf("acks = %v, want one batch of [ev-1 ev-2]", srv.acks)
	}
}

func TestPollingSkipsUnknownEventTypes(t *testing.T) {
	clk := clock.Fake(pollBase)
	srv := &eventServer{batches: [][]map[string]any{
		{
			{"id": "ev-1", "type": "menu_update", "timestamp": "2026-08-29T12:00:01Z", "data": map[string]any{}},
			{"id": "ev-2", "type": "order_delete", "timestamp": "2026-08-29T12:00:02Z", "data": map[string]any{"order_id": "A"}},
		},
	}}
	p := newTestPolling(t, srv, clk)

	var events []domain.Event
	p.OnEvent(func(ev domain.Event) { events = append(events, ev) })
	p.Connect()
	defer p.Disconnect()

	clk.Advance(2 * time.Second)

	if len(events) != 1 || events[0].Kind != domain.EventDeleted {
		t.Fatalf("events = %+v, want only the delete", events)
	}
	if st := p.Status(); !st.Connected || st.LastError != nil {
		t.Errorf("an unknown event type must not fail the channel: %+v", st)
	}
}

func TestPollingBackoffDelayBounds(t *testing.T) {
	p := NewPolling(PollingConfig{
		BaseURL:              "http://localhost:0",
		Interval:             2 * time.Second,
		BackoffMultiplier:    1.5,
		MaxBackoff:           30 * time.Second,
		MaxConsecutiveErrors: 100,
		Logger:               logger.NewWriter("polling", discardWriter{}),
	})

	p.errors = 0
	if d := p.nextDelayLocked(); d != 2*time.Second {
		t.Errorf("healthy delay = %v, want the base interval", d)
	}
	p.errors = 1
	if d := p.nextDelayLocked(); d != 3*time.Second {
		t.Errorf("delay after one error = %v, want 3s", d)
	}
	for p.errors = 1; p.errors < 50; p.errors++ {
		if d := p.nextDelayLocked(); d > 30*time.Second {
			t.Fatalf("delay after %d errors = %v, exceeds cap", p.errors, d)
		}
	}
}

func TestPollingStopsAfterConsecutiveErrors(t *testing.T) {
	clk := clock.Fake(pollBase)
	srv := &eventServer{fail: true}
	p := newTestPolling(t, srv, clk)

	var statuses []Status
	p.OnStatus(func(st Status) { statuses = append(statuses, st) })
	p.Connect()

	for i := 0; i < defaultMaxConsecutiveErrors; i++ {
		clk.Advance(time.Minute)
	}

	st := p.Status()
	if !st.Terminal {
		t.Fatalf("status after %d failures = %+v, want terminal", defaultMaxConsecutiveErrors, st)
	}
	if st.ReconnectAttempts != defaultMaxConsecutiveErrors {
		t.Errorf("attempts = %d, want %d", st.ReconnectAttempts, defaultMaxConsecutiveErrors)
	}
	if clk.PendingCount() != 0 {
		t.Errorf("%d timers still scheduled after terminal stop", clk.PendingCount())
	}

	// Stopped means stopped: time passing schedules nothing new.
	clk.Advance(time.Hour)
	srv.mu.Lock()
	polls := len(srv.cursors)
	srv.mu.Unlock()
	if polls != 0 {
		t.Errorf("failed polls should not have recorded cursors, got %d", polls)
	}
}

func TestForcePollKeepsSingleSchedule(t *testing.T) {
	clk := clock.Fake(pollBase)
	srv := &eventServer{}
	p := newTestPolling(t, srv, clk)

	p.Connect()
	defer p.Disconnect()

	if err := p.ForcePoll(context.Background()); err != nil {
		t.Fatalf("ForcePoll: %v", err)
	}
	if clk.PendingCount() != 1 {
		t.Fatalf("pending poll timers after ForcePoll = %d, want 1", clk.PendingCount())
	}

	// The schedule stays a single chain: one poll per interval.
	clk.Advance(2 * time.Second)
	clk.Advance(2 * time.Second)
	srv.mu.Lock()
	polls := len(srv.cursors)
	srv.mu.Unlock()
	if polls != 3 {
		t.Errorf("polls after force + two intervals = %d, want 3", polls)
	}
	if clk.PendingCount() != 1 {
		t.Errorf("pending poll timers = %d, want 1", clk.PendingCount())
	}
}

func TestForcePollRequiresRunning(t *testing.T) {
	clk := clock.Fake(pollBase)
	p := newTestPolling(t, &eventServer{}, clk)
	if err := p.ForcePoll(context.Background()); err == nil {
		t.Fatal("ForcePoll on a stopped channel should error")
	}
}

func TestPollingDisconnectCancelsTimer(t *testing.T) {
	clk := clock.Fake(pollBase)
	srv := &eventServer{}
	p := newTestPolling(t, srv, clk)

	p.Connect()
	if clk.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.PendingCount())
	}
	p.Disconnect()
	if clk.PendingCount() != 0 {
		t.Errorf("disconnect left %d timers armed", clk.PendingCount())
	}
	clk.Advance(time.Hour)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.cursors) != 0 {
		t.Errorf("disconnected channel still polled %d times", len(srv.cursors))
	}
}
