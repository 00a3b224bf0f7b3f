package repository

import (
	"context"

	"storefront/internal/domain"
)

// ErrNotFound возвращается, когда сущность не найдена
var ErrNotFound = domain.ErrNotFound

// ProductRepository интерфейс каталога товаров
type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	Update(ctx context.Context, p *domain.Product) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.Product, error)
	// DecrementStock атомарно уменьшает остаток; ErrInsufficientStock вместо ухода в минус
	DecrementStock(ctx context.Context, id string, qty int64) error
}

// OrderRepository интерфейс журнала заказов
type OrderRepository interface {
	// Create возвращает ErrDuplicate, если ключ платежа уже занят
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	// UpdateStatus условная запись: меняет статус только если текущий равен from.
	// Возвращает false, если статус уже другой.
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
}

// UserRepository интерфейс хранилища пользователей
type UserRepository interface {
	// Create возвращает ErrEmailTaken при повторном email
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// TxManager абстракция транзакции. Для in-memory это глобальная блокировка записи.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
