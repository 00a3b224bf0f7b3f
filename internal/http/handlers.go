package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"storefront/internal/domain"
	"storefront/internal/service"
)

// Deps зависимости HTTP-слоя
type Deps struct {
	Users    *service.UserService
	Products *service.ProductService
	Orders   *service.OrderService
	Payments *service.PaymentService
	Log      logrus.FieldLogger
	// UploadDir раздаётся по /uploads, если задан
	UploadDir    string
	SessionTTL   time.Duration
	SecureCookie bool
}

type Server struct {
	engine       *gin.Engine
	users        *service.UserService
	products     *service.ProductService
	orders       *service.OrderService
	payments     *service.PaymentService
	log          logrus.FieldLogger
	sessionTTL   time.Duration
	secureCookie bool
}

func NewServer(d Deps) *Server {
	r := gin.New()
	r.Use(requestLogger(d.Log), gin.Recovery())
	s := &Server{
		engine:       r,
		users:        d.Users,
		products:     d.Products,
		orders:       d.Orders,
		payments:     d.Payments,
		log:          d.Log,
		sessionTTL:   d.SessionTTL,
		secureCookie: d.SecureCookie,
	}
	if d.UploadDir != "" {
		r.Static("/uploads", d.UploadDir)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := s.engine.Group("/api")
	{
		authg := api.Group("/auth")
		authg.POST("/register", s.register)
		authg.POST("/login", s.login)
		authg.POST("/logout", s.authRequired(), s.logout)

		products := api.Group("/product")
		products.GET("", s.listProducts)
		products.GET("/:id", s.getProduct)
		products.POST("", s.authRequired(), adminOnly(), s.createProduct)
		products.PUT("/:id", s.authRequired(), adminOnly(), s.updateProduct)
		products.DELETE("/:id", s.authRequired(), adminOnly(), s.deleteProduct)

		orders := api.Group("/order", s.authRequired())
		orders.POST("", s.createOrder)
		orders.GET("/my-orders", s.myOrders)
		// до /:orderId, иначе "all" уйдёт в параметр
		orders.GET("/all", adminOnly(), s.allOrders)
		orders.GET("/:orderId", s.getOrder)

		// вебхук без сессии, проверяется только подпись шлюза
		api.POST("/webhook", s.webhook)
		payments := api.Group("/payment")
		payments.POST("/webhook", s.webhook)
		payments.POST("/create-intent", s.authRequired(), s.createIntent)
		payments.POST("/confirm", s.authRequired(), s.confirmPayment)
		payments.GET("/status/:paymentIntentId", s.authRequired(), s.paymentStatus)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrMismatch),
		errors.Is(err, domain.ErrEmailTaken):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError для 5xx отдаёт общий текст, детали пишутся только в лог
func (s *Server) respondError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	if status < http.StatusInternalServerError {
		c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
		return
	}
	s.log.WithError(err).WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"method":     c.Request.Method,
		"path":       c.FullPath(),
	}).Error("request failed")
	msg := "internal server error"
	if status == http.StatusBadGateway {
		msg = "payment provider unavailable"
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg})
}
