package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnthonyL1996/ai-resto/internal/clock"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
	"github.com/AnthonyL1996/ai-resto/internal/normalize"
)

const (
	defaultPollInterval         = 2 * time.Second
	defaultBackoffMultiplier    = 1.5
	defaultMaxBackoff           = 30 * time.Second
	defaultMaxConsecutiveErrors = 5
	defaultRequestTimeout       = 10 * time.Second
)

type PollingConfig struct {
	// BaseURL of the event endpoint, e.g. "http://localhost:8000".
	// Events are fetched from BaseURL/events and acknowledged at
	// BaseURL/events/consume.
	BaseURL string

	// ConsumerID identifies this client's cursor to the server. A
	// random ID is generated when empty.
	ConsumerID string

	// Interval between polls. On consecutive errors the delay grows by
	// BackoffMultiplier per error, capped at MaxBackoff. After
	// MaxConsecutiveErrors the channel stops and reports a terminal
	// disconnect. Defaults: 2s, 1.5, 30s, 5.
	Interval             time.Duration
	BackoffMultiplier    float64
	MaxBackoff           time.Duration
	MaxConsecutiveErrors int

	// RequestTimeout bounds each HTTP round-trip; exceeding it counts
	// as a poll failure. Default 10s.
	RequestTimeout time.Duration

	// AckEvents enables POST /events/consume after each successful
	// batch. Ack failures are logged and otherwise ignored.
	AckEvents bool

	HTTPClient *http.Client

	Clock  clock.Clock
	Logger *logger.Logger
}

// Polling is the cursor-based pull channel: it fetches "events since
// cursor" on an interval, advances the cursor to the newest event's
// timestamp, and backs off multiplicatively on consecutive failures.
type Polling struct {
	cfg  PollingConfig
	clk  clock.Clock
	lg   *logger.Logger
	http *http.Client

	mu       sync.Mutex
	running  bool
	timer    *clock.Timer
	cursor   string
	errors   int
	handler  Handler
	statusFn StatusHandler
	status   Status
}

func NewPolling(cfg PollingConfig) *Polling {
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = "consumer-" + uuid.NewString()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = defaultBackoffMultiplier
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("polling")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Polling{
		cfg:  cfg,
		clk:  cfg.Clock,
		lg:   cfg.Logger,
		http: httpClient,
	}
}

func (p *Polling) OnEvent(h Handler)        { p.mu.Lock(); p.handler = h; p.mu.Unlock() }
func (p *Polling) OnStatus(h StatusHandler) { p.mu.Lock(); p.statusFn = h; p.mu.Unlock() }

func (p *Polling) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ConsumerID returns the cursor identity used against the server.
func (p *Polling) ConsumerID() string { return p.cfg.ConsumerID }

// Connect starts the poll schedule. The first poll runs one interval
// from now.
func (p *Polling) Connect() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.errors = 0
	p.scheduleLocked()
	notify := p.setStatusLocked(Status{Connected: true})
	p.mu.Unlock()
	notify()
}

// Disconnect stops the schedule and cancels the pending poll timer.
func (p *Polling) Disconnect() {
	p.mu.Lock()
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	notify := p.setStatusLocked(Status{})
	p.mu.Unlock()
	notify()
}

// ForcePoll runs one poll immediately, outside the schedule. Errors
// count toward the consecutive-error budget like scheduled polls.
func (p *Polling) ForcePoll(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("polling: not running")
	}
	p.mu.Unlock()

	err := p.poll(ctx)
	notify := p.recordResult(err)
	notify()
	return err
}

// scheduleLocked arms the next poll, replacing any pending one so an
// out-of-schedule poll cannot leave a second timer chain running.
// Caller holds p.mu.
func (p *Polling) scheduleLocked() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = p.clk.AfterFunc(p.nextDelayLocked(), p.tick)
}

// nextDelayLocked is interval * multiplier^errors, capped.
func (p *Polling) nextDelayLocked() time.Duration {
	if p.errors == 0 {
		return p.cfg.Interval
	}
	backed := float64(p.cfg.Interval) * math.Pow(p.cfg.BackoffMultiplier, float64(p.errors))
	delay := time.Duration(backed)
	if delay > p.cfg.MaxBackoff {
		delay = p.cfg.MaxBackoff
	}
	return delay
}

func (p *Polling) tick() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	err := p.poll(ctx)
	cancel()

	notify := p.recordResult(err)
	notify()
}

// recordResult updates the error counter after a poll, stops the
// channel when the budget is exhausted, and otherwise schedules the
// next attempt.
func (p *Polling) recordResult(err error) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return func() {}
	}

	if err == nil {
		p.errors = 0
		p.scheduleLocked()
		if p.status.Connected && p.status.LastError == nil {
			return func() {}
		}
		return p.setStatusLocked(Status{Connected: true})
	}

	p.errors++
	p.lg.Warn("poll_failed", err, map[string]any{"consecutive_errors": p.errors})
	if p.errors >= p.cfg.MaxConsecutiveErrors {
		p.running = false
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.lg.Error("poll_stopped", err, map[string]any{"consecutive_errors": p.errors})
		return p.setStatusLocked(Status{
			Terminal:          true,
			ReconnectAttempts: p.errors,
			LastError:         err,
		})
	}
	p.scheduleLocked()
	return p.setStatusLocked(Status{
		Connected:         true,
		ReconnectAttempts: p.errors,
		LastError:         err,
	})
}

// pollEvent is the wire envelope of one queued event.
type pollEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func (p *Polling) poll(ctx context.Context) error {
	endpoint, err := p.eventsURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("polling: GET /events: HTTP %d", resp.StatusCode)
	}

	var events []pollEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return fmt.Errorf("polling: decode events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()

	ids := make([]string, 0, len(events))
	for _, raw := range events {
		frame, _ := json.Marshal(raw)
		ev := normalize.Message(frame, p.clk.Now())
		if ev == nil {
			p.lg.Debug("event_skipped", map[string]any{"type": raw.Type, "event_id": raw.ID})
		} else if handler != nil {
			handler(*ev)
		}

		// The cursor advances past every event we saw, recognized or
		// not, so malformed events are not refetched forever.
		if raw.Timestamp != "" {
			p.mu.Lock()
			p.cursor = raw.Timestamp
			p.mu.Unlock()
		}
		if raw.ID != "" {
			ids = append(ids, raw.ID)
		}
	}

	if p.cfg.AckEvents {
		p.acknowledge(ctx, ids)
	}
	return nil
}

func (p *Polling) eventsURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + "/events")
	if err != nil {
		return "", fmt.Errorf("polling: invalid base URL %q: %w", p.cfg.BaseURL, err)
	}
	q := u.Query()
	q.Set("consumer_id", p.cfg.ConsumerID)
	p.mu.Lock()
	if p.cursor != "" {
		q.Set("since", p.cursor)
	}
	p.mu.Unlock()
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// acknowledge marks a batch consumed. Best effort: the cursor already
// moved past these events, so a failed ack costs nothing but server
// bookkeeping.
func (p *Polling) acknowledge(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	body, _ := json.Marshal(map[string]any{
		"event_ids":   ids,
		"consumer_id": p.cfg.ConsumerID,
	})
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/events/consume"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		p.lg.Warn("ack_failed", err, map[string]any{"events": len(ids)})
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		p.lg.Warn("ack_failed", fmt.Errorf("HTTP %d", resp.StatusCode), map[string]any{"events": len(ids)})
	}
}

func (p *Polling) setStatusLocked(st Status) func() {
	p.status = st
	fn := p.statusFn
	if fn == nil {
		return func() {}
	}
	return func() { fn(st) }
}
