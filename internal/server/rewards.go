package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	rewarddomain "github.com/smallbiznis/credora/internal/reward/domain"
)

type claimRewardRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	RewardKey   string `json:"reward_key" binding:"required"`
	Credits     int64  `json:"credits"`
	Source      string `json:"source"`
	Description string `json:"description"`
	MaxClaims   int64  `json:"max_claims"`
}

func (s *Server) claimReward(c *gin.Context) {
	var req claimRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	userID, err := snowflake.ParseString(req.UserID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.rewardSvc.Claim(c.Request.Context(), rewarddomain.ClaimRequest{
		UserID:      userID,
		RewardKey:   req.RewardKey,
		Credits:     req.Credits,
		Source:      ledgerdomain.Source(req.Source),
		Description: req.Description,
		MaxClaims:   req.MaxClaims,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
