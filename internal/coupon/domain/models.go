package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DiscountKind selects how a coupon's value is interpreted.
type DiscountKind string

const (
	DiscountKindPercentage DiscountKind = "percentage"
	DiscountKindFixed      DiscountKind = "fixed"
)

// Coupon is a promotional code. Amounts are in currency minor units,
// percentage values in whole percent. used_count only moves through
// successful redemptions; coupons are deactivated, never deleted.
type Coupon struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	Code          string            `gorm:"type:text;not null;uniqueIndex:ux_coupons_code" json:"code"`
	DiscountKind  DiscountKind      `gorm:"type:text;not null" json:"discount_kind"`
	DiscountValue int64             `gorm:"not null" json:"discount_value"`
	MinPurchase   int64             `gorm:"not null;default:0" json:"min_purchase"`
	MaxDiscount   *int64            `json:"max_discount,omitempty"`
	ValidFrom     time.Time         `gorm:"not null" json:"valid_from"`
	ValidUntil    *time.Time        `json:"valid_until,omitempty"`
	UsageLimit    *int64            `json:"usage_limit,omitempty"`
	UsedCount     int64             `gorm:"not null;default:0" json:"used_count"`
	Active        bool              `gorm:"not null;default:true" json:"active"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Coupon) TableName() string { return "coupons" }

// CouponUsage records one redemption. The (coupon_id, order_id) unique key
// is the idempotency guard: an order redeems a coupon at most once.
type CouponUsage struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	CouponID       snowflake.ID `gorm:"not null;index;uniqueIndex:ux_coupon_usages_coupon_order,priority:1" json:"coupon_id"`
	UserID         string       `gorm:"type:text;not null;index" json:"user_id"`
	OrderID        string       `gorm:"type:text;not null;uniqueIndex:ux_coupon_usages_coupon_order,priority:2" json:"order_id"`
	DiscountAmount int64        `gorm:"not null" json:"discount_amount"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CouponUsage) TableName() string { return "coupon_usages" }

// NormalizeCode canonicalizes a coupon code for case-insensitive matching.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ComputeDiscount returns the discount for a given order total. Percentage
// discounts round half up on the minor-unit math; the result is clamped to
// the coupon's cap and never exceeds the total being discounted.
func (c *Coupon) ComputeDiscount(totalAmount int64) int64 {
	if totalAmount <= 0 {
		return 0
	}

	var discount int64
	switch c.DiscountKind {
	case DiscountKindPercentage:
		discount = (totalAmount*c.DiscountValue + 50) / 100
	case DiscountKindFixed:
		discount = c.DiscountValue
	default:
		return 0
	}

	if c.MaxDiscount != nil && discount > *c.MaxDiscount {
		discount = *c.MaxDiscount
	}
	if discount > totalAmount {
		discount = totalAmount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
