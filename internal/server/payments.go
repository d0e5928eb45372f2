package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/credora/internal/payment/domain"
)

type createPaymentRequest struct {
	UserID            string  `json:"user_id" binding:"required"`
	Type              string  `json:"type" binding:"required"`
	Amount            int64   `json:"amount" binding:"required"`
	Currency          string  `json:"currency"`
	Processor         string  `json:"processor" binding:"required"`
	CreditsPurchased  *int64  `json:"credits_purchased"`
	SubscriptionID    *string `json:"subscription_id"`
	ExternalPaymentID string  `json:"external_payment_id"`
	ExternalOrderID   string  `json:"external_order_id"`
}

func (s *Server) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	userID, err := snowflake.ParseString(req.UserID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var subscriptionID *snowflake.ID
	if req.SubscriptionID != nil {
		parsed, err := snowflake.ParseString(*req.SubscriptionID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		subscriptionID = &parsed
	}

	payment, err := s.paymentSvc.CreateIntent(c.Request.Context(), paymentdomain.CreateIntentRequest{
		UserID:            userID,
		Type:              paymentdomain.PaymentType(req.Type),
		Amount:            req.Amount,
		Currency:          req.Currency,
		Processor:         req.Processor,
		CreditsPurchased:  req.CreditsPurchased,
		SubscriptionID:    subscriptionID,
		ExternalPaymentID: req.ExternalPaymentID,
		ExternalOrderID:   req.ExternalOrderID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (s *Server) getPayment(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// handlePaymentWebhook accepts the processor's settlement callback.
// Business rejections other than ambiguity return 2xx-adjacent codes
// through the error mapper; processors retry on 5xx only.
func (s *Server) handlePaymentWebhook(c *gin.Context) {
	var ev paymentdomain.WebhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidEvent)
		return
	}
	ev.Processor = c.Param("processor")

	res, err := s.paymentSvc.Settle(c.Request.Context(), ev)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_id": res.Payment.ID.String(),
		"status":     res.Payment.Status,
		"applied":    res.Applied,
	})
}
