package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	"github.com/smallbiznis/credora/pkg/db/pagination"
)

func parseUserID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) getBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID.String(),
		"balance": balance,
	})
}

func (s *Server) listTransactions(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		UserID:    userID,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type addCreditsRequest struct {
	Amount      int64          `json:"amount" binding:"required"`
	Type        string         `json:"type" binding:"required"`
	Source      string         `json:"source" binding:"required"`
	Description string         `json:"description"`
	DedupKey    string         `json:"dedup_key"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) addCredits(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req addCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	item, err := s.ledgerSvc.AddCredits(c.Request.Context(), ledgerdomain.AddCreditsRequest{
		UserID:      userID,
		Amount:      req.Amount,
		Type:        ledgerdomain.TransactionType(req.Type),
		Source:      ledgerdomain.Source(req.Source),
		Description: req.Description,
		DedupKey:    req.DedupKey,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type useCreditsRequest struct {
	Amount      int64          `json:"amount" binding:"required"`
	Source      string         `json:"source" binding:"required"`
	Description string         `json:"description"`
	ProjectID   *string        `json:"project_id"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) useCredits(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req useCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var projectID *snowflake.ID
	if req.ProjectID != nil {
		parsed, err := snowflake.ParseString(*req.ProjectID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		projectID = &parsed
	}

	item, err := s.ledgerSvc.UseCredits(c.Request.Context(), ledgerdomain.UseCreditsRequest{
		UserID:           userID,
		Amount:           req.Amount,
		Source:           ledgerdomain.Source(req.Source),
		Description:      req.Description,
		RelatedProjectID: projectID,
		Metadata:         req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type freeCreditsRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (s *Server) giveFreeCredits(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req freeCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.rewardSvc.GiveFreeCredits(c.Request.Context(), userID, req.Amount, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
