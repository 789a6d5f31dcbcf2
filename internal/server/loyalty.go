package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	loyaltydomain "github.com/smallbiznis/perks/internal/loyalty/domain"
	"github.com/smallbiznis/perks/pkg/db/pagination"
)

type earnPointsRequest struct {
	UserID     string `json:"user_id"`
	OrderID    string `json:"order_id"`
	OrderTotal int64  `json:"order_total"`
}

func (s *Server) EarnPoints(c *gin.Context) {
	var req earnPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	points, err := s.loyaltySvc.EarnFromOrder(c.Request.Context(), loyaltydomain.EarnPointsRequest{
		UserID:     strings.TrimSpace(req.UserID),
		OrderID:    strings.TrimSpace(req.OrderID),
		OrderTotal: req.OrderTotal,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"points_earned": points}})
}

type redeemPointsRequest struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
}

func (s *Server) RedeemPoints(c *gin.Context) {
	var req redeemPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.loyaltySvc.Redeem(c.Request.Context(), loyaltydomain.RedeemPointsRequest{
		UserID: strings.TrimSpace(req.UserID),
		Points: req.Points,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetLoyaltyAccount(c *gin.Context) {
	resp, err := s.loyaltySvc.GetBalance(c.Request.Context(), strings.TrimSpace(c.Param("user_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLoyaltyTransactions(c *gin.Context) {
	var query struct {
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.loyaltySvc.ListTransactions(c.Request.Context(), loyaltydomain.ListTransactionsRequest{
		UserID:    strings.TrimSpace(c.Param("user_id")),
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func isLoyaltyValidationError(err error) bool {
	switch err {
	case loyaltydomain.ErrInvalidPointAmount,
		loyaltydomain.ErrInvalidUser,
		loyaltydomain.ErrInvalidOrder,
		loyaltydomain.ErrInvalidAmount:
		return true
	default:
		return false
	}
}
