package service

import (
	"context"
	"io"

	"storefront/internal/auth"
	"storefront/internal/domain"
	"storefront/internal/events"
)

// ImageStore хранилище изображений товаров
type ImageStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

// OrderCache снимки заказов по ключу платежа
type OrderCache interface {
	Get(ctx context.Context, paymentIntentID string) (*domain.Order, bool, error)
	Set(ctx context.Context, o *domain.Order) error
	Invalidate(ctx context.Context, paymentIntentID string) error
}

// EventPublisher публикация событий жизненного цикла заказа
type EventPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// TokenIssuer выпуск и проверка сессионных токенов
type TokenIssuer interface {
	Issue(userID string, role domain.Role) (string, error)
	Verify(token string) (*auth.Claims, error)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*domain.Order, bool, error) { return nil, false, nil }
func (nopCache) Set(context.Context, *domain.Order) error                 { return nil }
func (nopCache) Invalidate(context.Context, string) error                 { return nil }
