package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

type Users struct{ db *DB }

func NewUsers(db *DB) *Users { return &Users{db: db} }

var _ repository.UserRepository = (*Users)(nil)

const userColumns = `id, name, email, password_hash, role, address, city, state, postal_code, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		role string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Address, &u.City, &u.State, &u.PostalCode, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan user")
	}
	u.Role = domain.Role(role)
	return &u, nil
}

func (r *Users) Create(ctx context.Context, u *domain.User) error {
	err := r.db.q(ctx).QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, address, city, state, postal_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, strings.TrimSpace(u.Email), u.PasswordHash, string(u.Role), u.Address, u.City, u.State, u.PostalCode,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrEmailTaken
	}
	return errors.Wrap(err, "insert user")
}

func (r *Users) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.db.q(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *Users) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.db.q(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}
