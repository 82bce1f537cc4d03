package domain

import "time"

// OrderStatus is the canonical status vocabulary. Transports may carry
// other vocabularies on the wire; the normalizer maps them here.
type OrderStatus string

const (
	StatusNew       OrderStatus = "new"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// NextStatus returns the successor along the kitchen progression
// new -> preparing -> ready -> completed. Completed and cancelled are
// terminal: ok is false and the input is returned unchanged.
func NextStatus(s OrderStatus) (next OrderStatus, ok bool) {
	switch s {
	case StatusNew:
		return StatusPreparing, true
	case StatusPreparing:
		return StatusReady, true
	case StatusReady:
		return StatusCompleted, true
	}
	return s, false
}

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "card"
	PaymentCash PaymentMethod = "cash"
)

type OrderSource string

const (
	SourceKiosk   OrderSource = "kiosk"
	SourceWebsite OrderSource = "website"
	SourceManual  OrderSource = "manual"
)

type OrderItem struct {
	Name          string   `json:"name"`
	Quantity      int      `json:"quantity"`
	Price         float64  `json:"price"`
	Modifications []string `json:"modifications,omitempty"`

	// Display metadata carried through from the menu; never consulted
	// by reconciliation.
	Category       string   `json:"category,omitempty"`
	PrepTime       int      `json:"prep_time,omitempty"`
	Allergens      []string `json:"allergens,omitempty"`
	DietaryOptions []string `json:"dietary_options,omitempty"`
	Available      bool     `json:"available,omitempty"`
}

type Order struct {
	ID                 string        `json:"id"`
	OrderNumber        int           `json:"order_number"`
	Status             OrderStatus   `json:"status"`
	CustomerName       string        `json:"customer_name"`
	CustomerPhone      string        `json:"customer_phone,omitempty"`
	Items              []OrderItem   `json:"items"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	Source             OrderSource   `json:"source"`
	Notes              string        `json:"notes,omitempty"`
	Timestamp          time.Time     `json:"timestamp"`
	RequestedReadyTime *time.Time    `json:"requested_ready_time,omitempty"`
	EstimatedTime      int           `json:"estimated_time,omitempty"`
	Total              float64       `json:"total"`
}

// CalculateTotal sums price*quantity over items. Totals on the wire
// are never trusted when items are present.
func CalculateTotal(items []OrderItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}

// Active reports whether the order still needs kitchen attention.
func (o Order) Active() bool {
	return o.Status != StatusCompleted && o.Status != StatusCancelled
}
