package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/payment"
	"storefront/internal/repository"
)

const validSig = "t=1,v1=ok"

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	createErr error
	created   []payment.IntentParams
	intents   map[string]*payment.Intent
	events    map[string]*payment.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*payment.Intent{}, events: map[string]*payment.Event{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, p payment.IntentParams) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	in := &payment.Intent{
		ID:           fmt.Sprintf("pi_%d", g.seq),
		ClientSecret: fmt.Sprintf("pi_%d_secret", g.seq),
		Amount:       p.Amount,
		Currency:     p.Currency,
		Status:       payment.IntentRequiresPaymentMethod,
		Metadata:     p.Metadata,
	}
	g.created = append(g.created, p)
	g.intents[in.ID] = in
	return in, nil
}

// deliver регистрирует событие и возвращает его тело для вебхука
func (g *fakeGateway) deliver(typ payment.EventType, intentID string) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("evt_%d", g.seq)
	var intent *payment.Intent
	if in, ok := g.intents[intentID]; ok {
		cp := *in
		intent = &cp
	} else {
		intent = &payment.Intent{ID: intentID}
	}
	g.events[id] = &payment.Event{ID: id, Type: typ, Intent: intent}
	return []byte(id)
}

func (g *fakeGateway) setStatus(intentID string, st payment.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intentID].Status = st
}

func (g *fakeGateway) VerifyAndParseEvent(payload []byte, signature string) (*payment.Event, error) {
	if signature != validSig {
		return nil, domain.ErrInvalidSignature
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[string(payload)]
	if !ok {
		return nil, domain.ErrInvalidSignature
	}
	return ev, nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, id string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.envs))
	for _, e := range p.envs {
		out = append(out, e.EventType)
	}
	return out
}

type mapCache struct {
	mu          sync.Mutex
	m           map[string]domain.Order
	invalidated int
}

func newMapCache() *mapCache { return &mapCache{m: map[string]domain.Order{}} }

func (c *mapCache) Get(_ context.Context, id string) (*domain.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.m[id]
	if !ok {
		return nil, false, nil
	}
	return &o, true, nil
}

func (c *mapCache) Set(_ context.Context, o *domain.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[o.PaymentIntentID] = *o
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	c.invalidated++
	return nil
}

type memImages struct {
	mu    sync.Mutex
	seq   int
	saved map[string]string
}

func newMemImages() *memImages { return &memImages{saved: map[string]string{}} }

func (m *memImages) Save(_ context.Context, name string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	url := fmt.Sprintf("/uploads/%d-%s", m.seq, name)
	m.saved[url] = string(b)
	return url, nil
}

func (m *memImages) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, url)
	return nil
}

func (m *memImages) has(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.saved[url]
	return ok
}

type fixture struct {
	store    *repository.MemoryStore
	orders   *repository.MemoryOrders
	users    *repository.MemoryUsers
	tx       *repository.MemoryTx
	gateway  *fakeGateway
	cache    *mapCache
	events   *recordingPublisher
	payments *PaymentService
	log      *logtest.Hook
}

func newFixture(t *testing.T, cfg PaymentConfig) *fixture {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store := repository.NewMemoryStore()
	f := &fixture{
		store:   store,
		orders:  repository.NewMemoryOrders(store),
		users:   repository.NewMemoryUsers(store),
		tx:      repository.NewMemoryTx(store),
		gateway: newFakeGateway(),
		cache:   newMapCache(),
		events:  &recordingPublisher{},
		log:     hook,
	}
	f.payments = NewPaymentService(store, f.orders, f.users, f.tx, f.gateway, f.cache, f.events, cfg, logger)
	f.user(t, &domain.User{ID: "u1", Name: "Ann", Email: "ann@example.com", Address: "12 MG Road", City: "Pune"})
	f.user(t, &domain.User{ID: "u2", Name: "Bob", Email: "bob@example.com"})
	return f
}

func (f *fixture) user(t *testing.T, u *domain.User) {
	t.Helper()
	u.Role = domain.RoleUser
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (f *fixture) product(t *testing.T, id string, price string, stock int64) *domain.Product {
	t.Helper()
	p := &domain.Product{ID: id, Name: "Widget " + id, Price: decimal.RequireFromString(price), Stock: stock, OwnerID: "seller"}
	if err := f.store.Create(context.Background(), p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

func (f *fixture) stock(t *testing.T, id string) int64 {
	t.Helper()
	p, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}
