package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"storefront/internal/domain"
)

// MemoryStore объединённое in-memory хранилище товаров, заказов и пользователей
type MemoryStore struct {
	mu            sync.RWMutex
	productsByID  map[string]domain.Product
	ordersByID    map[string]domain.Order
	orderByIntent map[string]string
	usersByID     map[string]domain.User
	userIDByEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		productsByID:  make(map[string]domain.Product),
		ordersByID:    make(map[string]domain.Order),
		orderByIntent: make(map[string]string),
		usersByID:     make(map[string]domain.User),
		userIDByEmail: make(map[string]string),
	}
}

// transaction-aware locking helpers
type txKey struct{}

func isTx(ctx context.Context) bool {
	v := ctx.Value(txKey{})
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

// Ensure interfaces
var _ ProductRepository = (*MemoryStore)(nil)

// ProductRepository implementation
func (m *MemoryStore) Create(ctx context.Context, p *domain.Product) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.productsByID[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	p, ok := m.productsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	cp := p
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *domain.Product) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	if _, ok := m.productsByID[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	m.productsByID[p.ID] = *p
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	if _, ok := m.productsByID[id]; !ok {
		return ErrNotFound
	}
	delete(m.productsByID, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	out := make([]domain.Product, 0, len(m.productsByID))
	for _, p := range m.productsByID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DecrementStock(ctx context.Context, id string, qty int64) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	p, ok := m.productsByID[id]
	if !ok {
		return ErrNotFound
	}
	if qty <= 0 {
		return domain.ErrInvalidInput
	}
	if p.Stock < qty {
		return domain.ErrInsufficientStock
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	m.productsByID[id] = p
	return nil
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

var _ OrderRepository = (*MemoryOrders)(nil)

func copyOrder(o domain.Order) *domain.Order {
	cp := o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if o.PaymentIntentID != "" {
		if _, taken := mo.store.orderByIntent[o.PaymentIntentID]; taken {
			return errors.Wrapf(domain.ErrDuplicate, "order for payment intent %s", o.PaymentIntentID)
		}
	}
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	mo.store.ordersByID[o.ID] = *copyOrder(*o)
	if o.PaymentIntentID != "" {
		mo.store.orderByIntent[o.PaymentIntentID] = o.ID
	}
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	o, ok := mo.store.ordersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (mo *MemoryOrders) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	id, ok := mo.store.orderByIntent[paymentIntentID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(mo.store.ordersByID[id]), nil
}

func (mo *MemoryOrders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return mo.list(ctx, func(o domain.Order) bool { return o.UserID == userID })
}

func (mo *MemoryOrders) List(ctx context.Context) ([]domain.Order, error) {
	return mo.list(ctx, func(domain.Order) bool { return true })
}

func (mo *MemoryOrders) list(ctx context.Context, keep func(domain.Order) bool) ([]domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.Order, 0)
	for _, o := range mo.store.ordersByID {
		if keep(o) {
			out = append(out, *copyOrder(o))
		}
	}
	// newest first
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (mo *MemoryOrders) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	o, ok := mo.store.ordersByID[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	mo.store.ordersByID[id] = o
	return true, nil
}

// UserRepository implementation
type MemoryUsers struct{ store *MemoryStore }

func NewMemoryUsers(store *MemoryStore) *MemoryUsers { return &MemoryUsers{store: store} }

var _ UserRepository = (*MemoryUsers)(nil)

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (mu *MemoryUsers) Create(ctx context.Context, u *domain.User) error {
	mu.store.wlock(ctx)
	defer mu.store.wunlock(ctx)
	key := normalizeEmail(u.Email)
	if _, taken := mu.store.userIDByEmail[key]; taken {
		return domain.ErrEmailTaken
	}
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	mu.store.usersByID[u.ID] = *u
	mu.store.userIDByEmail[key] = u.ID
	return nil
}

func (mu *MemoryUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	mu.store.rlock(ctx)
	defer mu.store.runlock(ctx)
	u, ok := mu.store.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (mu *MemoryUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	mu.store.rlock(ctx)
	defer mu.store.runlock(ctx)
	id, ok := mu.store.userIDByEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := mu.store.usersByID[id]
	return &u, nil
}

// Tx manager using write lock to emulate transaction boundary
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// вложенный вызов уже держит блокировку
	if isTx(ctx) {
		return fn(ctx)
	}
	// Для in-memory используем блокировку записи и помечаем контекст, чтобы репозитории пропускали внутренние локи.
	// Откат не поддерживается: fn должна проверять условия до первой записи.
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	ctx = context.WithValue(ctx, txKey{}, true)
	return fn(ctx)
}
