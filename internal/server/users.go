package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerUserRequest struct {
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"display_name"`
}

func (s *Server) registerUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	user, err := s.identitySvc.Register(c.Request.Context(), req.Email, req.DisplayName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// New accounts receive the one-time free credits; a failure here
	// is not fatal, the grant can be replayed via the credits endpoint.
	if _, err := s.rewardSvc.GiveFreeCredits(c.Request.Context(), user.ID, 0, "Signup credits"); err != nil {
		s.log.Warn("signup credit grant failed", zap.Error(err))
	}

	c.JSON(http.StatusCreated, user)
}

func (s *Server) getUser(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	user, err := s.identitySvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
