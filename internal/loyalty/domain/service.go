package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/perks/pkg/db/pagination"
)

var (
	ErrInsufficientPoints = errors.New("insufficient_points")
	ErrInvalidPointAmount = errors.New("invalid_point_amount")
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidOrder       = errors.New("invalid_order")
	ErrInvalidAmount      = errors.New("invalid_amount")

	// ErrAccountMissing marks an invariant violation: an account that was
	// successfully created is gone. Surfaced as an internal error.
	ErrAccountMissing = errors.New("loyalty_account_missing")
)

type EarnPointsRequest struct {
	UserID     string
	OrderID    string
	OrderTotal int64
}

type RedeemPointsRequest struct {
	UserID string
	Points int64
}

type RedeemPointsResponse struct {
	DiscountAmount int64 `json:"discount_amount"`
	PointsRedeemed int64 `json:"points_redeemed"`
}

type Balance struct {
	UserID           string `json:"user_id"`
	Balance          int64  `json:"balance"`
	LifetimeEarned   int64  `json:"lifetime_earned"`
	LifetimeRedeemed int64  `json:"lifetime_redeemed"`
}

type ListTransactionsRequest struct {
	UserID    string
	PageToken string
	PageSize  int32
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []LoyaltyTransaction `json:"transactions"`
}

type Service interface {
	// GetOrCreateAccount returns the user's account, creating the
	// zero-balance row on first access.
	GetOrCreateAccount(ctx context.Context, userID string) (LoyaltyAccount, error)

	// EarnFromOrder credits points for a finalized order. Idempotent per
	// (user, order): repeat calls return 0 with no further effect.
	EarnFromOrder(ctx context.Context, req EarnPointsRequest) (int64, error)

	// Redeem converts points into a discount, failing with
	// ErrInsufficientPoints when the balance does not cover them. Knows
	// nothing about orders; the caller applies the discount.
	Redeem(ctx context.Context, req RedeemPointsRequest) (RedeemPointsResponse, error)

	GetBalance(ctx context.Context, userID string) (Balance, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
}
