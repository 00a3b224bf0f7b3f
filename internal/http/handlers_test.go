package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/auth"
	"storefront/internal/domain"
	"storefront/internal/payment"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/storage"
)

const testSig = "t=1,v1=ok"

func init() {
	gin.SetMode(gin.TestMode)
	// как в cmd/storefront: суммы в JSON числами
	decimal.MarshalJSONWithoutQuotes = true
}

// stubGateway принимает подпись testSig и JSON вида {"id","type","intent"}
type stubGateway struct{ seq int }

type stubEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	IntentID string `json:"intent"`
}

func (g *stubGateway) CreateIntent(_ context.Context, p payment.IntentParams) (*payment.Intent, error) {
	g.seq++
	id := "pi_test_" + strconv.Itoa(g.seq)
	return &payment.Intent{ID: id, ClientSecret: id + "_secret", Amount: p.Amount, Currency: p.Currency, Metadata: p.Metadata}, nil
}

func (g *stubGateway) VerifyAndParseEvent(payload []byte, signature string) (*payment.Event, error) {
	if signature != testSig {
		return nil, domain.ErrInvalidSignature
	}
	var ev stubEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, domain.ErrInvalidSignature
	}
	return &payment.Event{ID: ev.ID, Type: payment.EventType(ev.Type), Intent: &payment.Intent{ID: ev.IntentID}}, nil
}

func (g *stubGateway) RetrieveIntent(context.Context, string) (*payment.Intent, error) {
	return nil, domain.ErrGateway
}

type testEnv struct {
	srv      *Server
	store    *repository.MemoryStore
	users    *service.UserService
	logs     *logtest.Hook
	adminTok string
}

func setupServer(t *testing.T) *testEnv { return setupServerWith(t, nil) }

// setupServerWith позволяет поправить Deps перед созданием сервера
func setupServerWith(t *testing.T, tweak func(*Deps)) *testEnv {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store := repository.NewMemoryStore()
	ordersRepo := repository.NewMemoryOrders(store)
	usersRepo := repository.NewMemoryUsers(store)
	tx := repository.NewMemoryTx(store)
	images, err := storage.NewLocalImages(t.TempDir(), "/uploads")
	require.NoError(t, err)

	usersSvc := service.NewUserService(usersRepo, &auth.BcryptHasher{Cost: bcrypt.MinCost}, auth.NewIssuer("test-secret", time.Hour), logger)
	productsSvc := service.NewProductService(store, tx, images, logger)
	ordersSvc := service.NewOrderService(store, ordersRepo, tx, nil, logger)
	paymentsSvc := service.NewPaymentService(store, ordersRepo, usersRepo, tx, &stubGateway{}, nil, nil, service.PaymentConfig{}, logger)

	_, err = usersSvc.EnsureAdmin(context.Background(), "Admin", "admin@example.com", "adminpass")
	require.NoError(t, err)
	_, adminTok, err := usersSvc.Login(context.Background(), "admin@example.com", "adminpass")
	require.NoError(t, err)

	d := Deps{
		Users:      usersSvc,
		Products:   productsSvc,
		Orders:     ordersSvc,
		Payments:   paymentsSvc,
		Log:        logger,
		UploadDir:  images.Dir(),
		SessionTTL: time.Hour,
	}
	if tweak != nil {
		tweak(&d)
	}
	return &testEnv{srv: NewServer(d), store: store, users: usersSvc, logs: hook, adminTok: adminTok}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"name": "Buyer", "email": email, "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		User  domain.User `json:"user"`
		Token string      `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.RoleUser, resp.User.Role)
	return resp.Token
}

func (e *testEnv) createProduct(t *testing.T, token string, fields map[string]string, withImage bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withImage {
		fw, err := mw.CreateFormFile("image", "widget.png")
		require.NoError(t, err)
		_, err = fw.Write([]byte("\x89PNG fake"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/product", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedProduct(t *testing.T, stock string) string {
	t.Helper()
	w := e.createProduct(t, e.adminTok, map[string]string{"name": "Widget", "price": "100", "stock": stock}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p productView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p.ID
}

func TestAuthFlow(t *testing.T) {
	e := setupServer(t)
	tok := e.register(t, "buyer@example.com")
	assert.NotEmpty(t, tok)

	w := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{"name": "Dup", "email": "buyer@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "buyer@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// bcrypt limit is 72 bytes
	long := strings.Repeat("p", 80)
	w = e.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{"name": "Long", "email": "long@example.com", "password": long})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "buyer@example.com", "password": long})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{"name": "Bad", "email": "bad@", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "buyer@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "token=")
	assert.NotContains(t, w.Header().Get("Set-Cookie"), "Secure")

	w = e.do(t, http.MethodPost, "/api/auth/logout", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSecureCookie(t *testing.T) {
	e := setupServerWith(t, func(d *Deps) { d.SecureCookie = true })
	e.register(t, "secure@example.com")

	w := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "secure@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	cookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, cookie, "token=")
	assert.Contains(t, cookie, "Secure")
	assert.Contains(t, cookie, "HttpOnly")
}

func TestRequestID(t *testing.T) {
	e := setupServer(t)

	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	generated := w.Header().Get(requestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "edge-42")
	rec := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, "edge-42", rec.Header().Get(requestIDHeader))

	var ids []string
	for _, entry := range e.logs.AllEntries() {
		if entry.Message == "request" {
			ids = append(ids, entry.Data["request_id"].(string))
		}
	}
	assert.Equal(t, []string{generated, "edge-42"}, ids)
}

func TestCookieAuth(t *testing.T) {
	e := setupServer(t)
	tok := e.register(t, "cookie@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/order/my-orders", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookie, Value: tok})
	w := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProductFlow(t *testing.T) {
	e := setupServer(t)
	buyer := e.register(t, "buyer@example.com")

	w := e.createProduct(t, buyer, map[string]string{"name": "W", "price": "1", "stock": "1"}, true)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.createProduct(t, e.adminTok, map[string]string{"name": "W", "price": "1", "stock": "1"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.createProduct(t, e.adminTok, map[string]string{"name": "W", "price": "abc", "stock": "1"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := e.seedProduct(t, "5")

	w = e.do(t, http.MethodGet, "/api/product/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p productView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.True(t, p.InStock)
	assert.Equal(t, int64(5), p.Stock)

	// image is served from the upload dir
	img := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(img, httptest.NewRequest(http.MethodGet, p.ImageURL, nil))
	assert.Equal(t, http.StatusOK, img.Code)

	w = e.do(t, http.MethodGet, "/api/product", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []productView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = e.do(t, http.MethodDelete, "/api/product/"+id, e.adminTok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/api/product/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentFlow(t *testing.T) {
	e := setupServer(t)
	buyer := e.register(t, "buyer@example.com")
	other := e.register(t, "other@example.com")
	productID := e.seedProduct(t, "5")

	w := e.do(t, http.MethodPost, "/api/payment/create-intent", buyer, map[string]any{"productId": productID, "quantity": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/payment/create-intent", buyer, map[string]any{"productId": productID, "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/payment/create-intent", "", map[string]any{"productId": productID, "quantity": 2})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/payment/create-intent", buyer, map[string]any{"productId": productID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var intent struct {
		ClientSecret    string      `json:"clientSecret"`
		OrderID         string      `json:"orderId"`
		Amount          json.Number `json:"amount"`
		PaymentIntentID string      `json:"paymentIntentId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &intent))
	assert.Equal(t, json.Number("200"), intent.Amount)
	assert.Contains(t, w.Body.String(), `"amount":200`)
	assert.NotEmpty(t, intent.ClientSecret)

	w = e.do(t, http.MethodPost, "/api/payment/confirm", buyer, map[string]any{"orderId": intent.OrderID, "paymentIntentId": "pi_unrelated"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	event := map[string]string{"id": "evt_1", "type": string(payment.EventIntentSucceeded), "intent": intent.PaymentIntentID}
	webhook := func(path, sig string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(event)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(signatureHeader, sig)
		rec := httptest.NewRecorder()
		e.srv.Engine().ServeHTTP(rec, req)
		return rec
	}

	w = webhook("/api/payment/webhook", "t=1,v1=forged")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertStock(t, e, productID, 5)

	w = webhook("/api/payment/webhook", testSig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assertStock(t, e, productID, 3)

	// redelivery on the legacy path
	w = webhook("/api/webhook", testSig)
	require.Equal(t, http.StatusOK, w.Code)
	assertStock(t, e, productID, 3)

	w = e.do(t, http.MethodGet, "/api/payment/status/"+intent.PaymentIntentID, buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var o domain.OrderView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	assert.Equal(t, domain.OrderStatusCompleted, o.Status)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Widget", o.Items[0].Product.Name)

	w = e.do(t, http.MethodGet, "/api/payment/status/"+intent.PaymentIntentID, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/payment/confirm", buyer, map[string]any{"orderId": intent.OrderID, "paymentIntentId": intent.PaymentIntentID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"completed"}`, w.Body.String())
	assertStock(t, e, productID, 3)
}

func TestOrderRoutes(t *testing.T) {
	e := setupServer(t)
	buyer := e.register(t, "buyer@example.com")
	other := e.register(t, "other@example.com")
	productID := e.seedProduct(t, "5")

	w := e.do(t, http.MethodPost, "/api/order", buyer, map[string]any{"paymentIntentId": "pi_direct", "productId": productID, "quantity": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	assert.Equal(t, domain.OrderStatusCompleted, o.Status)

	w = e.do(t, http.MethodPost, "/api/order", buyer, map[string]any{"paymentIntentId": "pi_direct", "productId": productID, "quantity": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/api/order/my-orders", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []domain.OrderView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mine))
	require.Len(t, mine, 1)
	require.Len(t, mine[0].Items, 1)
	item := mine[0].Items[0]
	assert.Equal(t, productID, item.Product.ID)
	assert.Equal(t, "Widget", item.Product.Name)
	assert.True(t, item.Product.Price.Equal(decimal.NewFromInt(100)))
	assert.NotEmpty(t, item.Product.ImageURL)

	w = e.do(t, http.MethodGet, "/api/order/"+o.ID, other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodGet, "/api/order/"+o.ID, e.adminTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/order/all", buyer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodGet, "/api/order/all", e.adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []domain.OrderView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "Widget", all[0].Items[0].Product.Name)

	// a deleted product leaves an empty card in order views
	w = e.do(t, http.MethodDelete, "/api/product/"+productID, e.adminTok, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/api/order/"+o.ID, buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"product":{"id":"","name":"","price":0,"imageUrl":"","description":""}`)
	var detail domain.OrderView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.Len(t, detail.Items, 1)
	assert.Equal(t, productID, detail.Items[0].ProductID)
	assert.True(t, detail.Items[0].UnitPrice.Equal(decimal.NewFromInt(100)))
}

func TestMapErrorToStatus(t *testing.T) {
	cases := map[error]int{
		domain.ErrInvalidInput:                         http.StatusBadRequest,
		errors.Wrap(domain.ErrInsufficientStock, "p1"): http.StatusBadRequest,
		domain.ErrMismatch:                             http.StatusBadRequest,
		domain.ErrInvalidSignature:                     http.StatusBadRequest,
		domain.ErrUnauthorized:                         http.StatusUnauthorized,
		domain.ErrForbidden:                            http.StatusForbidden,
		errors.Wrap(domain.ErrNotFound, "order"):       http.StatusNotFound,
		domain.ErrDuplicate:                            http.StatusConflict,
		domain.ErrGateway:                              http.StatusBadGateway,
		errors.New("boom"):                             http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, mapErrorToStatus(err), err.Error())
	}
}

func assertStock(t *testing.T, e *testEnv, productID string, want int64) {
	t.Helper()
	p, err := e.store.GetByID(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, want, p.Stock)
}
