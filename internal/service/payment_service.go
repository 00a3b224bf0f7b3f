package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/payment"
	"storefront/internal/repository"
)

// PaymentConfig явная конфигурация движка сверки платежей
type PaymentConfig struct {
	Currency string
	// GatewayTimeout ограничивает каждый вызов шлюза; повторов нет
	GatewayTimeout time.Duration
	// VerifyIntentOnConfirm: подтверждение клиентом завершает заказ только при succeeded у шлюза
	VerifyIntentOnConfirm bool
	Producer              string
	// ShippingCountry страна доставки в намерении, ISO 3166-1 alpha-2
	ShippingCountry string
}

// PaymentService сверка заказов с платежами: создание намерения, вебхуки шлюза,
// подтверждение клиентом, статус.
type PaymentService struct {
	products  repository.ProductRepository
	orders    repository.OrderRepository
	users     repository.UserRepository
	tx        repository.TxManager
	gateway   payment.Gateway
	cache     OrderCache
	publisher EventPublisher
	cfg       PaymentConfig
	log       logrus.FieldLogger
}

func NewPaymentService(
	products repository.ProductRepository,
	orders repository.OrderRepository,
	users repository.UserRepository,
	tx repository.TxManager,
	gateway payment.Gateway,
	cache OrderCache,
	publisher EventPublisher,
	cfg PaymentConfig,
	log logrus.FieldLogger,
) *PaymentService {
	if cache == nil {
		cache = nopCache{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.Producer == "" {
		cfg.Producer = "storefront"
	}
	if cfg.ShippingCountry == "" {
		cfg.ShippingCountry = "IN"
	}
	return &PaymentService{
		products:  products,
		orders:    orders,
		users:     users,
		tx:        tx,
		gateway:   gateway,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// IntentResult ответ create-intent
type IntentResult struct {
	ClientSecret    string          `json:"clientSecret"`
	OrderID         string          `json:"orderId"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentIntentID string          `json:"paymentIntentId"`
}

// CreateIntent создаёт платёжное намерение и ожидающий заказ под его ключом.
// При ошибке шлюза заказ не сохраняется.
func (s *PaymentService) CreateIntent(ctx context.Context, userID, productID string, quantity int64) (*IntentResult, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	if productID == "" || quantity <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "productId and a positive quantity are required")
	}
	buyer, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errors.Wrap(domain.ErrUnauthorized, "user not found")
	}
	if err != nil {
		return nil, err
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Stock < quantity {
		return nil, domain.ErrInsufficientStock
	}

	items := []domain.OrderItem{{ProductID: p.ID, Quantity: quantity, UnitPrice: p.Price}}
	total := domain.SumItems(items)

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	intent, err := s.gateway.CreateIntent(gctx, payment.IntentParams{
		Amount:      domain.MinorUnits(total),
		Currency:    s.cfg.Currency,
		Description: fmt.Sprintf("Purchase of %s (%d units)", p.Name, quantity),
		Metadata: payment.OrderMetadata{
			ProductID:     p.ID,
			UserID:        userID,
			Quantity:      quantity,
			CustomerName:  buyer.Name,
			CustomerEmail: buyer.Email,
		}.Map(),
		Shipping: s.shippingFor(buyer),
	})
	if err != nil {
		if !errors.Is(err, domain.ErrGateway) {
			err = errors.Wrapf(domain.ErrGateway, "create intent: %v", err)
		}
		return nil, err
	}

	o := domain.Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		Items:           items,
		TotalAmount:     total,
		PaymentIntentID: intent.ID,
		Status:          domain.OrderStatusPending,
	}
	if err := s.orders.Create(ctx, &o); err != nil {
		s.log.WithError(err).WithField("payment_intent_id", intent.ID).Error("intent created but pending order not persisted")
		return nil, errors.Wrap(domain.ErrInternal, err.Error())
	}
	publish(ctx, s.publisher, s.log, s.cfg.Producer, events.EventOrderCreated, &o, "intent")

	return &IntentResult{
		ClientSecret:    intent.ClientSecret,
		OrderID:         o.ID,
		Amount:          total,
		PaymentIntentID: intent.ID,
	}, nil
}

const (
	addressNotProvided = "Not provided"
	postalCodeUnknown  = "000000"
)

// shippingFor адрес доставки из профиля; незаполненные поля получают заглушки,
// так как шлюз требует адрес целиком
func (s *PaymentService) shippingFor(u *domain.User) *payment.Shipping {
	or := func(v, fallback string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return fallback
	}
	return &payment.Shipping{
		Name:       u.Name,
		Line1:      or(u.Address, addressNotProvided),
		City:       or(u.City, addressNotProvided),
		State:      or(u.State, addressNotProvided),
		PostalCode: or(u.PostalCode, postalCodeUnknown),
		Country:    s.cfg.ShippingCountry,
	}
}

// WebhookAction что сделал обработчик с событием шлюза
type WebhookAction string

const (
	ActionCompleted       WebhookAction = "completed"
	ActionFailed          WebhookAction = "failed"
	ActionAlreadyTerminal WebhookAction = "already_terminal"
	ActionUnknownOrder    WebhookAction = "unknown_order"
	ActionIgnored         WebhookAction = "ignored"
	ActionError           WebhookAction = "error"
)

type WebhookOutcome struct {
	EventID         string
	EventType       payment.EventType
	PaymentIntentID string
	OrderID         string
	Action          WebhookAction
}

// HandleGatewayEvent возвращает ошибку только при ErrInvalidSignature. После успешной
// проверки подписи внутренние сбои только логируются, чтобы шлюз не повторял доставку.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (*WebhookOutcome, error) {
	ev, err := s.gateway.VerifyAndParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			return nil, err
		}
		s.log.WithError(err).Error("webhook payload rejected after signature check")
		return &WebhookOutcome{Action: ActionError}, nil
	}
	// finish reconciliation even if the sender hangs up
	ctx = context.WithoutCancel(ctx)

	out := &WebhookOutcome{EventID: ev.ID, EventType: ev.Type, Action: ActionIgnored}
	entry := s.log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type})
	if ev.Intent == nil {
		entry.Info("unhandled gateway event")
		return out, nil
	}
	out.PaymentIntentID = ev.Intent.ID
	entry = entry.WithField("payment_intent_id", ev.Intent.ID)

	switch ev.Type {
	case payment.EventIntentSucceeded, payment.EventIntentFailed:
	default:
		entry.Info("unhandled gateway event")
		return out, nil
	}

	o, err := s.orders.GetByPaymentIntent(ctx, ev.Intent.ID)
	if errors.Is(err, domain.ErrNotFound) {
		entry.Warn("no order for payment intent")
		out.Action = ActionUnknownOrder
		return out, nil
	}
	if err != nil {
		entry.WithError(err).Error("load order for payment intent")
		out.Action = ActionError
		return out, nil
	}
	out.OrderID = o.ID
	entry = entry.WithField("order_id", o.ID)

	if o.Status.Terminal() {
		entry.WithField("status", o.Status).Info("order already terminal")
		out.Action = ActionAlreadyTerminal
		return out, nil
	}

	var applied bool
	if ev.Type == payment.EventIntentSucceeded {
		applied, err = s.completeOrder(ctx, o, s.webhookAdjustments(entry, o, ev.Intent), "webhook")
		out.Action = ActionCompleted
	} else {
		applied, err = s.failOrder(ctx, o)
		out.Action = ActionFailed
	}
	if err != nil {
		entry.WithError(err).Error("reconcile order")
		out.Action = ActionError
		return out, nil
	}
	if !applied {
		// lost the race to a concurrent delivery or confirm
		out.Action = ActionAlreadyTerminal
	}
	entry.WithField("action", out.Action).Info("gateway event reconciled")
	return out, nil
}

// ConfirmAndComplete клиентское подтверждение оплаты, когда вебхук задерживается
func (s *PaymentService) ConfirmAndComplete(ctx context.Context, orderID, paymentIntentID, requesterID string) (domain.OrderStatus, error) {
	if orderID == "" || paymentIntentID == "" {
		return "", errors.Wrap(domain.ErrInvalidInput, "orderId and paymentIntentId are required")
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.UserID != requesterID {
		return "", domain.ErrNotFound
	}
	if o.PaymentIntentID != paymentIntentID {
		return "", domain.ErrMismatch
	}
	if o.Status.Terminal() {
		return o.Status, nil
	}

	if s.cfg.VerifyIntentOnConfirm {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		intent, err := s.gateway.RetrieveIntent(gctx, paymentIntentID)
		cancel()
		if err != nil {
			if !errors.Is(err, domain.ErrGateway) {
				err = errors.Wrapf(domain.ErrGateway, "retrieve intent: %v", err)
			}
			return "", err
		}
		if intent.Status != payment.IntentSucceeded {
			return o.Status, nil
		}
	}

	applied, err := s.completeOrder(ctx, o, orderAdjustments(o), "confirm")
	if err != nil {
		return "", errors.Wrap(domain.ErrInternal, err.Error())
	}
	if applied {
		return domain.OrderStatusCompleted, nil
	}
	current, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	return current.Status, nil
}

// GetStatus заказ по ключу платежа; чужой заказ неотличим от отсутствующего
func (s *PaymentService) GetStatus(ctx context.Context, paymentIntentID, requesterID string) (*domain.OrderView, error) {
	if paymentIntentID == "" {
		return nil, domain.ErrInvalidInput
	}
	o, ok, err := s.cache.Get(ctx, paymentIntentID)
	if err != nil {
		s.log.WithError(err).Warn("order cache read failed")
	}
	if !ok {
		o, err = s.orders.GetByPaymentIntent(ctx, paymentIntentID)
		if err != nil {
			return nil, err
		}
		// terminal snapshots never go stale
		if o.Status.Terminal() {
			if err := s.cache.Set(ctx, o); err != nil {
				s.log.WithError(err).Warn("order cache write failed")
			}
		}
	}
	if o.UserID != requesterID {
		return nil, domain.ErrNotFound
	}
	return orderView(ctx, s.products, o)
}

type stockAdjustment struct {
	ProductID string
	Quantity  int64
}

func orderAdjustments(o *domain.Order) []stockAdjustment {
	out := make([]stockAdjustment, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, stockAdjustment{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

// webhookAdjustments списывает количество из метаданных события; без валидных
// метаданных берутся позиции заказа.
func (s *PaymentService) webhookAdjustments(entry logrus.FieldLogger, o *domain.Order, intent *payment.Intent) []stockAdjustment {
	md, err := payment.ParseOrderMetadata(intent.Metadata)
	if err != nil || len(o.Items) != 1 {
		if err != nil {
			entry.WithError(err).Warn("event metadata unusable, using order items")
		}
		return orderAdjustments(o)
	}
	item := o.Items[0]
	if md.ProductID != item.ProductID || md.Quantity != item.Quantity {
		entry.WithFields(logrus.Fields{
			"meta_product_id": md.ProductID, "meta_quantity": md.Quantity,
			"order_product_id": item.ProductID, "order_quantity": item.Quantity,
		}).Warn("event metadata differs from order")
	}
	return []stockAdjustment{{ProductID: item.ProductID, Quantity: md.Quantity}}
}

// completeOrder переводит pending → completed условной записью; списание запаса
// выполняет только победитель перехода, поэтому оно происходит ровно один раз.
func (s *PaymentService) completeOrder(ctx context.Context, o *domain.Order, adjustments []stockAdjustment, source string) (bool, error) {
	var applied bool
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusCompleted)
		if err != nil || !ok {
			return err
		}
		applied = true
		for _, adj := range adjustments {
			err := s.products.DecrementStock(ctx, adj.ProductID, adj.Quantity)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrNotFound):
				// payment is captured; keep the order completed and leave stock at its floor
				s.log.WithError(err).WithFields(logrus.Fields{
					"order_id": o.ID, "product_id": adj.ProductID, "quantity": adj.Quantity,
				}).Error("order completed without stock decrement")
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.afterTransition(ctx, o, domain.OrderStatusCompleted, events.EventOrderCompleted, source)
	}
	return applied, nil
}

func (s *PaymentService) failOrder(ctx context.Context, o *domain.Order) (bool, error) {
	applied, err := s.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusFailed)
	if err != nil {
		return false, err
	}
	if applied {
		s.afterTransition(ctx, o, domain.OrderStatusFailed, events.EventOrderFailed, "webhook")
	}
	return applied, nil
}

func (s *PaymentService) afterTransition(ctx context.Context, o *domain.Order, status domain.OrderStatus, eventType, source string) {
	if err := s.cache.Invalidate(ctx, o.PaymentIntentID); err != nil {
		s.log.WithError(err).WithField("order_id", o.ID).Warn("order cache invalidate failed")
	}
	snapshot := *o
	snapshot.Status = status
	publish(ctx, s.publisher, s.log, s.cfg.Producer, eventType, &snapshot, source)
}
