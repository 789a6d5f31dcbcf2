package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Point conversion rates. The storefront these defaults were lifted from
// hard-codes them; they are deliberately not configuration.
const (
	// EarnPointsPerCurrencyUnit is earned per major unit of spend.
	EarnPointsPerCurrencyUnit = 10
	// RedeemPointsPerCurrencyUnit buys back one major unit of discount.
	RedeemPointsPerCurrencyUnit = 100
	// MinorUnitsPerCurrencyUnit fixes the minor-unit scale of all amounts.
	MinorUnitsPerCurrencyUnit = 100
)

type TransactionKind string

const (
	TransactionKindEarned   TransactionKind = "earned"
	TransactionKindRedeemed TransactionKind = "redeemed"
)

// LoyaltyAccount holds one balance per user, created lazily on first use.
// Invariant: balance = lifetime_earned - lifetime_redeemed and never negative.
type LoyaltyAccount struct {
	UserID           string    `gorm:"primaryKey;type:text" json:"user_id"`
	Balance          int64     `gorm:"not null;default:0" json:"balance"`
	LifetimeEarned   int64     `gorm:"not null;default:0" json:"lifetime_earned"`
	LifetimeRedeemed int64     `gorm:"not null;default:0" json:"lifetime_redeemed"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (LoyaltyAccount) TableName() string { return "loyalty_accounts" }

// LoyaltyTransaction is one append-only ledger entry. Earned entries carry
// the order they came from; the (user_id, order_id) unique key makes earning
// idempotent per order (order_id is NULL on redemptions, which never
// conflict).
type LoyaltyTransaction struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID      string          `gorm:"type:text;not null;index;uniqueIndex:ux_loyalty_transactions_user_order,priority:1" json:"user_id"`
	OrderID     *string         `gorm:"type:text;uniqueIndex:ux_loyalty_transactions_user_order,priority:2" json:"order_id,omitempty"`
	Kind        TransactionKind `gorm:"type:text;not null" json:"kind"`
	Delta       int64           `gorm:"not null" json:"delta"`
	Reference   string          `gorm:"type:text;not null" json:"reference"`
	Description string          `gorm:"type:text;not null" json:"description"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LoyaltyTransaction) TableName() string { return "loyalty_transactions" }

// PointsForOrderTotal converts an order total in minor units into points,
// flooring at the major-unit granularity.
func PointsForOrderTotal(orderTotal int64) int64 {
	if orderTotal <= 0 {
		return 0
	}
	return orderTotal * EarnPointsPerCurrencyUnit / MinorUnitsPerCurrencyUnit
}

// DiscountForPoints converts redeemed points into a discount in minor units.
// Points below the redemption granularity contribute no discount.
func DiscountForPoints(points int64) int64 {
	if points <= 0 {
		return 0
	}
	return points / RedeemPointsPerCurrencyUnit * MinorUnitsPerCurrencyUnit
}
