package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/perks/internal/coupon/domain"
	"github.com/smallbiznis/perks/pkg/db/pagination"
)

type validateCouponRequest struct {
	Code        string `json:"code"`
	TotalAmount int64  `json:"total_amount"`
	UserID      string `json:"user_id"`
}

func (s *Server) ValidateCoupon(c *gin.Context) {
	var req validateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.couponSvc.Validate(c.Request.Context(), coupondomain.ValidateCouponRequest{
		Code:        req.Code,
		TotalAmount: req.TotalAmount,
		UserID:      strings.TrimSpace(req.UserID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type redeemCouponRequest struct {
	UserID         string `json:"user_id"`
	OrderID        string `json:"order_id"`
	DiscountAmount int64  `json:"discount_amount"`
}

func (s *Server) RedeemCoupon(c *gin.Context) {
	var req redeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.couponSvc.Redeem(c.Request.Context(), coupondomain.RedeemCouponRequest{
		CouponID:       strings.TrimSpace(c.Param("id")),
		UserID:         strings.TrimSpace(req.UserID),
		OrderID:        strings.TrimSpace(req.OrderID),
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"redeemed": true}})
}

type createCouponRequest struct {
	Code          string         `json:"code"`
	DiscountKind  string         `json:"discount_kind"`
	DiscountValue int64          `json:"discount_value"`
	MinPurchase   int64          `json:"min_purchase"`
	MaxDiscount   *int64         `json:"max_discount"`
	ValidFrom     *time.Time     `json:"valid_from"`
	ValidUntil    *time.Time     `json:"valid_until"`
	UsageLimit    *int64         `json:"usage_limit"`
	Metadata      map[string]any `json:"metadata"`
}

func (s *Server) CreateCoupon(c *gin.Context) {
	var req createCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	validFrom := time.Now().UTC()
	if req.ValidFrom != nil {
		validFrom = req.ValidFrom.UTC()
	}

	resp, err := s.couponSvc.Create(c.Request.Context(), coupondomain.CreateCouponRequest{
		Code:          req.Code,
		DiscountKind:  coupondomain.DiscountKind(strings.ToLower(strings.TrimSpace(req.DiscountKind))),
		DiscountValue: req.DiscountValue,
		MinPurchase:   req.MinPurchase,
		MaxDiscount:   req.MaxDiscount,
		ValidFrom:     validFrom,
		ValidUntil:    req.ValidUntil,
		UsageLimit:    req.UsageLimit,
		Metadata:      req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCoupons(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Code   string `form:"code"`
		Active string `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var active *bool
	switch strings.ToLower(strings.TrimSpace(query.Active)) {
	case "":
	case "true":
		v := true
		active = &v
	case "false":
		v := false
		active = &v
	default:
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	resp, err := s.couponSvc.List(c.Request.Context(), coupondomain.ListCouponRequest{
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
		Active:    active,
		Code:      strings.TrimSpace(query.Code),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCouponByID(c *gin.Context) {
	resp, err := s.couponSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateCoupon(c *gin.Context) {
	resp, err := s.couponSvc.Deactivate(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func isCouponValidationError(err error) bool {
	switch err {
	case coupondomain.ErrInvalidCode,
		coupondomain.ErrInvalidDiscountKind,
		coupondomain.ErrInvalidDiscountValue,
		coupondomain.ErrInvalidAmount,
		coupondomain.ErrInvalidUser,
		coupondomain.ErrInvalidOrder,
		coupondomain.ErrInvalidID,
		coupondomain.ErrInvalidValidityWindow,
		coupondomain.ErrCouponNotYetActive,
		coupondomain.ErrCouponExpired,
		coupondomain.ErrBelowMinimumPurchase:
		return true
	default:
		return false
	}
}
