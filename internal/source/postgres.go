package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AnthonyL1996/ai-resto/internal/domain"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
	"github.com/AnthonyL1996/ai-resto/internal/normalize"
)

// Postgres reads the order collection straight from the restaurant
// database, for displays deployed next to it. Read-only: the sync core
// never writes here.
type Postgres struct {
	pool *pgxpool.Pool
	lg   *logger.Logger
}

func ConnectPostgres(ctx context.Context, dsn string, lg *logger.Logger) (*Postgres, error) {
	if lg == nil {
		lg = logger.New("orders-db")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("source: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("source: ping postgres: %w", err)
	}
	return &Postgres{pool: pool, lg: lg}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Orders loads the full collection. Item lines are stored as JSON;
// statuses may be in either vocabulary depending on backend revision,
// so both go through the normalizer. Rows that fail to decode are
// logged and skipped rather than failing the hydration.
func (p *Postgres) Orders(ctx context.Context) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, order_number, status, customer_name,
		       COALESCE(customer_phone, ''), payment_method, source,
		       COALESCE(notes, ''), created_at, requested_ready_time,
		       COALESCE(items, '[]'::jsonb)
		FROM orders
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("source: query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var (
			o         domain.Order
			status    string
			payment   string
			src       string
			readyTime *time.Time
			itemsJSON []byte
		)
		if err := rows.Scan(&o.ID, &o.OrderNumber, &status, &o.CustomerName,
			&o.CustomerPhone, &payment, &src, &o.Notes, &o.Timestamp,
			&readyTime, &itemsJSON); err != nil {
			p.lg.Warn("row_skipped", err, nil)
			continue
		}
		if st, ok := normalize.Status(status); ok {
			o.Status = st
		}
		o.PaymentMethod = domain.PaymentMethod(payment)
		o.Source = domain.OrderSource(src)
		o.RequestedReadyTime = readyTime
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			p.lg.Warn("items_skipped", err, map[string]any{"order_id": o.ID})
			o.Items = nil
		}
		o.Total = domain.CalculateTotal(o.Items)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: scan orders: %w", err)
	}
	return orders, nil
}
