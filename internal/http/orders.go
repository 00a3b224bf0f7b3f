package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/service"
)

type createOrderReq struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
	ProductID       string `json:"productId" binding:"required"`
	Quantity        int64  `json:"quantity" binding:"required,gt=0"`
}

// @Summary Record a paid order
// @Tags orders
// @Accept json
// @Produce json
// @Param input body createOrderReq true "Order"
// @Success 201 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /order [post]
func (s *Server) createOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "paymentIntentId, productId and a positive quantity are required")
		return
	}
	o, err := s.orders.CreateOrder(c.Request.Context(), currentUser(c), service.DirectOrderInput{
		PaymentIntentID: req.PaymentIntentID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// @Summary My orders
// @Tags orders
// @Produce json
// @Success 200 {array} domain.OrderView
// @Router /order/my-orders [get]
func (s *Server) myOrders(c *gin.Context) {
	list, err := s.orders.ListMine(c.Request.Context(), currentUser(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary All orders
// @Tags orders
// @Produce json
// @Success 200 {array} domain.OrderView
// @Failure 403 {object} errorResponse
// @Router /order/all [get]
func (s *Server) allOrders(c *gin.Context) {
	list, err := s.orders.ListAll(c.Request.Context(), currentUser(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} domain.OrderView
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /order/{orderId} [get]
func (s *Server) getOrder(c *gin.Context) {
	o, err := s.orders.GetOrder(c.Request.Context(), currentUser(c), c.Param("orderId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
