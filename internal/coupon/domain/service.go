package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/perks/pkg/db/pagination"
)

var (
	ErrCouponNotFound       = errors.New("coupon_not_found")
	ErrCouponNotYetActive   = errors.New("coupon_not_yet_active")
	ErrCouponExpired        = errors.New("coupon_expired")
	ErrBelowMinimumPurchase = errors.New("below_minimum_purchase")
	ErrUsageLimitReached    = errors.New("usage_limit_reached")

	ErrInvalidCode           = errors.New("invalid_code")
	ErrInvalidDiscountKind   = errors.New("invalid_discount_kind")
	ErrInvalidDiscountValue  = errors.New("invalid_discount_value")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidOrder          = errors.New("invalid_order")
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidValidityWindow = errors.New("invalid_validity_window")
	ErrCouponCodeExists      = errors.New("coupon_code_exists")
	ErrNotFound              = errors.New("not_found")
)

type ValidateCouponRequest struct {
	Code        string
	TotalAmount int64
	UserID      string
}

// ValidationResult is the typed outcome of a validation pass. Rule failures
// land in FailureCode/Message rather than an error; only store failures
// surface as errors.
type ValidationResult struct {
	Valid          bool   `json:"valid"`
	DiscountAmount int64  `json:"discount_amount,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
	Message        string `json:"message,omitempty"`
}

type RedeemCouponRequest struct {
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount int64
}

type CreateCouponRequest struct {
	Code          string
	DiscountKind  DiscountKind
	DiscountValue int64
	MinPurchase   int64
	MaxDiscount   *int64
	ValidFrom     time.Time
	ValidUntil    *time.Time
	UsageLimit    *int64
	Metadata      map[string]any
}

type ListCouponRequest struct {
	PageToken string
	PageSize  int32
	Active    *bool
	Code      string
}

type ListCouponResponse struct {
	pagination.PageInfo
	Coupons []Coupon `json:"coupons"`
}

type Service interface {
	// Validate checks a code against the current cart total. Read-only,
	// callable on every cart change.
	Validate(ctx context.Context, req ValidateCouponRequest) (ValidationResult, error)

	// Redeem consumes one usage slot for an order. Idempotent per
	// (coupon, order); loses the race with ErrUsageLimitReached when
	// concurrent redemptions exhaust the limit first.
	Redeem(ctx context.Context, req RedeemCouponRequest) error

	Create(ctx context.Context, req CreateCouponRequest) (Coupon, error)
	List(ctx context.Context, req ListCouponRequest) (ListCouponResponse, error)
	GetByID(ctx context.Context, id string) (Coupon, error)
	Deactivate(ctx context.Context, id string) (Coupon, error)
}
