package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/credora/internal/identity"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/credora/internal/payment/domain"
	rewarddomain "github.com/smallbiznis/credora/internal/reward/domain"
	subscriptiondomain "github.com/smallbiznis/credora/internal/subscription/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware converts domain sentinels collected on the
// gin context into the JSON error envelope.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isBadRequest(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient balance",
		}
	case isNotFound(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case isConflict(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isBadRequest(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidType),
		errors.Is(err, ledgerdomain.ErrInvalidSource),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken),
		errors.Is(err, rewarddomain.ErrInvalidUser),
		errors.Is(err, rewarddomain.ErrInvalidReward),
		errors.Is(err, rewarddomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidUser),
		errors.Is(err, paymentdomain.ErrInvalidType),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidProcessor),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, subscriptiondomain.ErrInvalidUser),
		errors.Is(err, subscriptiondomain.ErrInvalidTier),
		errors.Is(err, identity.ErrInvalidEmail):
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, rewarddomain.ErrOfferNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		return true
	default:
		return false
	}
}

func isConflict(err error) bool {
	switch {
	case errors.Is(err, rewarddomain.ErrAlreadyClaimed),
		errors.Is(err, rewarddomain.ErrMaxClaimsReached),
		errors.Is(err, rewarddomain.ErrOfferInactive),
		errors.Is(err, paymentdomain.ErrAmbiguousExternalID),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus),
		errors.Is(err, subscriptiondomain.ErrNotActive),
		errors.Is(err, identity.ErrEmailTaken):
		return true
	default:
		return false
	}
}
