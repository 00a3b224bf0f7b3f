package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/repository"
)

// OrderService реализует CRUD-часть журнала заказов: прямое создание, чтение, списки
type OrderService struct {
	products  repository.ProductRepository
	orders    repository.OrderRepository
	tx        repository.TxManager
	publisher EventPublisher
	producer  string
	log       logrus.FieldLogger
}

func NewOrderService(products repository.ProductRepository, orders repository.OrderRepository, tx repository.TxManager, publisher EventPublisher, log logrus.FieldLogger) *OrderService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &OrderService{products: products, orders: orders, tx: tx, publisher: publisher, producer: "storefront", log: log}
}

// DirectOrderInput заказ, оплаченный на стороне клиента
type DirectOrderInput struct {
	PaymentIntentID string
	ProductID       string
	Quantity        int64
}

// CreateOrder фиксирует цену, атомарно списывает запас и создаёт завершённый заказ
func (s *OrderService) CreateOrder(ctx context.Context, user *domain.User, in DirectOrderInput) (*domain.Order, error) {
	if user == nil {
		return nil, domain.ErrUnauthorized
	}
	in.PaymentIntentID = strings.TrimSpace(in.PaymentIntentID)
	if in.PaymentIntentID == "" || in.ProductID == "" || in.Quantity <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "paymentIntentId, productId and a positive quantity are required")
	}

	var created *domain.Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		// one correlation key maps to at most one order
		if _, err := s.orders.GetByPaymentIntent(ctx, in.PaymentIntentID); err == nil {
			return errors.Wrapf(domain.ErrDuplicate, "order for payment intent %s", in.PaymentIntentID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		p, err := s.products.GetByID(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if p.Stock < in.Quantity {
			return domain.ErrInsufficientStock
		}
		if err := s.products.DecrementStock(ctx, p.ID, in.Quantity); err != nil {
			return err
		}
		items := []domain.OrderItem{{ProductID: p.ID, Quantity: in.Quantity, UnitPrice: p.Price}}
		o := domain.Order{
			ID:              uuid.NewString(),
			UserID:          user.ID,
			Items:           items,
			TotalAmount:     domain.SumItems(items),
			PaymentIntentID: in.PaymentIntentID,
			Status:          domain.OrderStatusCompleted,
		}
		if err := s.orders.Create(ctx, &o); err != nil {
			return err
		}
		created = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.publisher, s.log, s.producer, events.EventOrderCompleted, created, "direct")
	return created, nil
}

// GetOrder владелец или администратор
func (s *OrderService) GetOrder(ctx context.Context, actor *domain.User, id string) (*domain.OrderView, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	if id == "" {
		return nil, domain.ErrInvalidInput
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.ID && !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	return orderView(ctx, s.products, o)
}

func (s *OrderService) ListMine(ctx context.Context, actor *domain.User) ([]domain.OrderView, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	orders, err := s.orders.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	return orderViews(ctx, s.products, orders)
}

// ListAll только для администратора
func (s *OrderService) ListAll(ctx context.Context, actor *domain.User) ([]domain.OrderView, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, err
	}
	return orderViews(ctx, s.products, orders)
}

// publish best effort: ошибка публикации не влияет на результат операции
func publish(ctx context.Context, p EventPublisher, log logrus.FieldLogger, producer, eventType string, o *domain.Order, source string) {
	env, err := events.NewEnvelope(eventType, producer, o.ID, events.OrderPayload{
		OrderID:         o.ID,
		UserID:          o.UserID,
		PaymentIntentID: o.PaymentIntentID,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount,
		Source:          source,
	})
	if err == nil {
		err = p.Publish(ctx, env)
	}
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"order_id": o.ID, "event_type": eventType}).Warn("failed to publish order event")
	}
}
