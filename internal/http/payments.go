package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBody  = 1 << 20
)

type createIntentReq struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
}

type confirmReq struct {
	OrderID         string `json:"orderId" binding:"required"`
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

type confirmResponse struct {
	Status domain.OrderStatus `json:"status"`
}

// @Summary Create payment intent
// @Tags payment
// @Accept json
// @Produce json
// @Param input body createIntentReq true "Purchase"
// @Success 200 {object} service.IntentResult
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 502 {object} errorResponse
// @Router /payment/create-intent [post]
func (s *Server) createIntent(c *gin.Context) {
	var req createIntentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "productId and a positive quantity are required")
		return
	}
	res, err := s.payments.CreateIntent(c.Request.Context(), currentUser(c).ID, req.ProductID, req.Quantity)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Payment gateway webhook
// @Tags payment
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Gateway signature"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} errorResponse
// @Router /payment/webhook [post]
func (s *Server) webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	out, err := s.payments.HandleGatewayEvent(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	if err != nil {
		s.log.WithError(err).Warn("webhook rejected")
		badRequest(c, "invalid signature")
		return
	}
	s.log.WithFields(logrus.Fields{
		"event_id": out.EventID,
		"action":   out.Action,
	}).Debug("webhook acknowledged")
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// @Summary Confirm payment from the client
// @Tags payment
// @Accept json
// @Produce json
// @Param input body confirmReq true "Order and intent"
// @Success 200 {object} confirmResponse
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /payment/confirm [post]
func (s *Server) confirmPayment(c *gin.Context) {
	var req confirmReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "orderId and paymentIntentId are required")
		return
	}
	st, err := s.payments.ConfirmAndComplete(c.Request.Context(), req.OrderID, req.PaymentIntentID, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmResponse{Status: st})
}

// @Summary Payment status
// @Tags payment
// @Produce json
// @Param paymentIntentId path string true "Payment intent ID"
// @Success 200 {object} domain.OrderView
// @Failure 404 {object} errorResponse
// @Router /payment/status/{paymentIntentId} [get]
func (s *Server) paymentStatus(c *gin.Context) {
	o, err := s.payments.GetStatus(c.Request.Context(), c.Param("paymentIntentId"), currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
