package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// Orders журнал заказов; позиции хранятся одним JSONB-документом
type Orders struct{ db *DB }

func NewOrders(db *DB) *Orders { return &Orders{db: db} }

var _ repository.OrderRepository = (*Orders)(nil)

const orderColumns = `id, user_id, items, total_amount::text, payment_intent_id, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		items  []byte
		total  string
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &total, &o.PaymentIntentID, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, errors.Wrap(err, "decode order items")
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrap(err, "decode order total")
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (r *Orders) Create(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "encode order items")
	}
	err = r.db.q(ctx).QueryRow(ctx, `
		INSERT INTO orders (id, user_id, items, total_amount, payment_intent_id, status)
		VALUES ($1, $2, $3::jsonb, $4::numeric, $5, $6)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, string(items), o.TotalAmount.String(), o.PaymentIntentID, string(o.Status),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrDuplicate, "order for payment intent %s", o.PaymentIntentID)
	}
	return errors.Wrap(err, "insert order")
}

func (r *Orders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(r.db.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *Orders) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Order, error) {
	return scanOrder(r.db.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, paymentIntentID))
}

func (r *Orders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *Orders) List(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *Orders) list(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()
	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, errors.Wrap(rows.Err(), "list orders")
}

// UpdateStatus compare-and-set по статусу; под READ COMMITTED конкурент
// ждёт блокировку строки и перепроверяет условие, поэтому выигрывает один.
func (r *Orders) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	q := r.db.q(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return false, errors.Wrap(err, "update order status")
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check order")
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}
