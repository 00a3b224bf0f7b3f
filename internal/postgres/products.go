package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

type Products struct{ db *DB }

func NewProducts(db *DB) *Products { return &Products{db: db} }

var _ repository.ProductRepository = (*Products)(nil)

const productColumns = `id, name, description, price::text, stock, image_url, owner_id, created_at, updated_at`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.ImageURL, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan product")
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, errors.Wrap(err, "decode product price")
	}
	return &p, nil
}

func (r *Products) Create(ctx context.Context, p *domain.Product) error {
	err := r.db.q(ctx).QueryRow(ctx, `
		INSERT INTO products (id, name, description, price, stock, image_url, owner_id)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.ImageURL, p.OwnerID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrDuplicate, "product %s", p.ID)
	}
	return errors.Wrap(err, "insert product")
}

// GetByID внутри транзакции блокирует строку до коммита: чтение с последующей
// записью не теряет параллельное списание остатка
func (r *Products) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	return scanProduct(r.db.q(ctx).QueryRow(ctx, query, id))
}

func (r *Products) Update(ctx context.Context, p *domain.Product) error {
	err := r.db.q(ctx).QueryRow(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4::numeric, stock = $5, image_url = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.ImageURL,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return errors.Wrap(err, "update product")
}

func (r *Products) Delete(ctx context.Context, id string) error {
	tag, err := r.db.q(ctx).Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Products) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()
	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, errors.Wrap(rows.Err(), "list products")
}

// DecrementStock условное списание: строка меняется только при достаточном остатке
func (r *Products) DecrementStock(ctx context.Context, id string, qty int64) error {
	if qty <= 0 {
		return domain.ErrInvalidInput
	}
	q := r.db.q(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, id, qty)
	if err != nil {
		return errors.Wrap(err, "decrement stock")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check product")
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInsufficientStock
}
