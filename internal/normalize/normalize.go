// Package normalize maps raw transport payloads onto the canonical
// event and order types. Payload shapes differ per channel and per
// backend revision: identifiers appear under "id" or "order_id",
// creation instants under "created_at" or "timestamp", and statuses in
// either the current English vocabulary or the legacy Dutch one. All
// functions are total: malformed fields degrade to safe defaults and
// unrecognized messages come back as nil, never as a panic.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/AnthonyL1996/ai-resto/internal/domain"
)

// statusVocab maps every known wire spelling to the canonical status.
var statusVocab = map[string]domain.OrderStatus{
	"new":       domain.StatusNew,
	"preparing": domain.StatusPreparing,
	"ready":     domain.StatusReady,
	"completed": domain.StatusCompleted,
	"cancelled": domain.StatusCancelled,
	"canceled":  domain.StatusCancelled,

	// Legacy vocabulary used by older backend revisions.
	"nieuw":        domain.StatusNew,
	"in bereiding": domain.StatusPreparing,
	"klaar":        domain.StatusReady,
	"voltooid":     domain.StatusCompleted,
	"geannuleerd":  domain.StatusCancelled,
}

// Status maps a wire status to the canonical vocabulary.
func Status(s string) (domain.OrderStatus, bool) {
	st, ok := statusVocab[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// kindForType maps wire message type discriminators to event kinds.
func kindForType(t string) (domain.EventKind, bool) {
	switch t {
	case "new_order", "order_created":
		return domain.EventCreated, true
	case "order_update", "order_updated", "order_status_update":
		return domain.EventUpdated, true
	case "order_delete", "order_deleted":
		return domain.EventDeleted, true
	}
	return "", false
}

// Message converts one raw wire message into a canonical event.
// Returns nil when the message type is unrecognized or carries no
// order ID — callers log and skip, the channel keeps running.
func Message(raw []byte, now time.Time) *domain.Event {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}

	kind, ok := kindForType(str(m, "type"))
	if !ok {
		return nil
	}

	// The order payload sits under "data" (polling channel), "order"
	// (socket new_order frames), or inline at the top level (socket
	// status updates).
	payload := asMap(m["data"])
	if payload == nil {
		payload = asMap(m["order"])
	}
	if payload == nil {
		payload = m
	}

	orderID := str(payload, "order_id", "id")
	if orderID == "" {
		orderID = str(m, "order_id")
	}
	if orderID == "" {
		return nil
	}

	ts, ok := firstTime(m, "timestamp")
	if !ok {
		ts, ok = firstTime(payload, "updated_at", "created_at", "timestamp")
	}
	if !ok {
		ts = now
	}

	notify := boolean(m, "play_sound") || boolean(asMap(payload["_metadata"]), "play_sound")

	ev := &domain.Event{
		Kind:            kind,
		OrderID:         orderID,
		ServerTimestamp: ts,
		Notify:          notify,
	}
	if kind != domain.EventDeleted {
		snap := orderFromMap(payload, now)
		snap.ID = orderID
		ev.Snapshot = &snap
	}
	return ev
}

// Order decodes a single order object (CRUD response or hydration
// element) leniently. ok is false when no identifier is present.
func Order(raw []byte, now time.Time) (domain.Order, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Order{}, false
	}
	o := orderFromMap(m, now)
	return o, o.ID != ""
}

// Orders decodes a full-collection response, skipping undecodable
// elements.
func Orders(raw []byte, now time.Time) ([]domain.Order, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false
	}
	out := make([]domain.Order, 0, len(elems))
	for _, e := range elems {
		if o, ok := Order(e, now); ok {
			out = append(out, o)
		}
	}
	return out, true
}

func orderFromMap(m map[string]any, now time.Time) domain.Order {
	o := domain.Order{
		ID:            str(m, "id", "order_id"),
		CustomerName:  str(m, "customer_name"),
		CustomerPhone: str(m, "customer_phone", "phone"),
		PaymentMethod: domain.PaymentMethod(str(m, "payment_method")),
		Source:        domain.OrderSource(str(m, "source")),
		Notes:         str(m, "notes"),
		Timestamp:     when(m, now, "created_at", "timestamp"),
		EstimatedTime: int(num(m, "estimated_time")),
	}

	if st, ok := Status(str(m, "status")); ok {
		o.Status = st
	}

	o.OrderNumber = int(num(m, "order_number"))
	if o.OrderNumber == 0 {
		o.OrderNumber = trailingDigits(o.ID)
	}

	if t, ok := parseTime(str(m, "requested_ready_time", "time_slot")); ok {
		o.RequestedReadyTime = &t
	}

	o.Items = itemsFromAny(m["items"])
	if len(o.Items) > 0 {
		o.Total = domain.CalculateTotal(o.Items)
	} else {
		o.Total = num(m, "total", "total_amount")
	}
	return o
}

func itemsFromAny(v any) []domain.OrderItem {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(raw))
	for _, e := range raw {
		m := asMap(e)
		if m == nil {
			continue
		}
		item := domain.OrderItem{
			Name:     str(m, "name", "item_id"),
			Quantity: int(num(m, "quantity")),
			Price:    num(m, "price", "unit_price"),
			Category: str(m, "category"),
			PrepTime: int(num(m, "prep_time")),
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		if mods, ok := m["modifications"].([]any); ok {
			for _, mod := range mods {
				if s, ok := mod.(string); ok {
					item.Modifications = append(item.Modifications, s)
				}
			}
		} else if special := str(m, "special_requests"); special != "" {
			item.Modifications = strings.Split(special, ", ")
		}
		items = append(items, item)
	}
	return items
}

// str returns the first present non-empty string among keys.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// num returns the first numeric value among keys, accepting JSON
// numbers and numeric strings. Malformed values yield 0.
func num(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func boolean(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// when parses the first parseable timestamp among keys, falling back
// to now.
func when(m map[string]any, now time.Time, keys ...string) time.Time {
	if t, ok := firstTime(m, keys...); ok {
		return t
	}
	return now
}

func firstTime(m map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if t, ok := parseTime(str(m, k)); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999", // backend isoformat without zone
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// trailingDigits extracts a numeric suffix from an order ID such as
// "ORD007".
func trailingDigits(id string) int {
	n, mult := 0, 1
	for i := len(id) - 1; i >= 0; i-- {
		c := id[i]
		if c < '0' || c > '9' {
			break
		}
		n += int(c-'0') * mult
		mult *= 10
	}
	return n
}
