package pg

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"delta_bot/internal/models"
	"delta_bot/pkg/db"

	"github.com/bytedance/sonic"
)

const schema = `
CREATE TABLE IF NOT EXISTS order_journal (
	id          TEXT PRIMARY KEY,
	symbol      TEXT        NOT NULL DEFAULT '',
	side        TEXT        NOT NULL DEFAULT '',
	amount      DOUBLE PRECISION NOT NULL DEFAULT 0,
	price       DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT        NOT NULL,
	product_id  INTEGER     NOT NULL DEFAULT 0,
	params      JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertOrder = `
INSERT INTO order_journal (id, symbol, side, amount, price, status, product_id, params, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, now())
ON CONFLICT (id) DO UPDATE SET
	symbol     = EXCLUDED.symbol,
	side       = EXCLUDED.side,
	amount     = EXCLUDED.amount,
	price      = EXCLUDED.price,
	status     = EXCLUDED.status,
	product_id = EXCLUDED.product_id,
	params     = EXCLUDED.params,
	updated_at = now()`

const selectRecent = `
SELECT id, symbol, side, amount, price, status, product_id, params::text, created_at
FROM order_journal
ORDER BY created_at DESC
LIMIT $1`

// Orders — журнал ордеров. Без db работает только в памяти.
type Orders struct {
	db db.TxManager

	mu   sync.RWMutex
	data map[string]models.Order
}

// NewOrders instance
func NewOrders(tx db.TxManager) *Orders {
	return &Orders{
		db:   tx,
		data: make(map[string]models.Order),
	}
}

func (r *Orders) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.Conn().Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg.EnsureSchema: %w", err)
	}
	return nil
}

// Save upsert в db
func (r *Orders) Save(ctx context.Context, o models.Order) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveOrder: %w", err)
		}
	}()

	r.mu.Lock()
	r.data[o.ID] = o.Clone()
	r.mu.Unlock()

	if r.db == nil {
		return nil
	}

	params, err := sonic.MarshalString(o.Params)
	if err != nil {
		return err
	}
	if o.Params == nil {
		params = "{}"
	}

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, upsertOrder,
			o.ID, o.Symbol, string(o.Side), o.Amount, o.Price,
			string(o.Status), o.ProductID, params, o.CreatedAt,
		)
		return err
	})
}

// Get из памяти
func (r *Orders) Get(id string) (models.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.data[id]
	if !ok {
		return models.Order{}, false
	}
	return o.Clone(), true
}

// Recent — последние записи журнала, новые первыми.
func (r *Orders) Recent(ctx context.Context, limit int) (out []models.Order, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.RecentOrders: %w", err)
		}
	}()
	if limit <= 0 {
		limit = 20
	}

	if r.db == nil {
		r.mu.RLock()
		for _, o := range r.data {
			out = append(out, o.Clone())
		}
		r.mu.RUnlock()

		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}

	rows, err := r.db.Conn().Query(ctx, selectRecent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o                 models.Order
			side, status, raw string
			createdAt         time.Time
		)
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &o.Amount, &o.Price, &status, &o.ProductID, &raw, &createdAt); err != nil {
			return nil, err
		}
		o.Side = models.Side(side)
		o.Status = models.OrderStatus(status)
		o.CreatedAt = createdAt
		if err := sonic.UnmarshalString(raw, &o.Params); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
