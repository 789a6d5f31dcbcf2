package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	coupondomain "github.com/smallbiznis/perks/internal/coupon/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EnsureDemoCoupons seeds a handful of well-known coupons for local
// development. Existing codes are left untouched.
func EnsureDemoCoupons(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, coupon := range demoCoupons(node, now) {
			if err := ensureCouponTx(ctx, tx, coupon); err != nil {
				return err
			}
		}
		return nil
	})
}

func demoCoupons(node *snowflake.Node, now time.Time) []coupondomain.Coupon {
	maxDiscount := int64(500)
	usageLimit := int64(1)
	until := now.AddDate(1, 0, 0)
	return []coupondomain.Coupon{
		{
			ID:            node.Generate(),
			Code:          "SAVE10",
			DiscountKind:  coupondomain.DiscountKindPercentage,
			DiscountValue: 10,
			MinPurchase:   2000,
			MaxDiscount:   &maxDiscount,
			ValidFrom:     now,
			ValidUntil:    &until,
			UsageLimit:    &usageLimit,
			Active:        true,
			Metadata:      datatypes.JSONMap{"campaign": "demo"},
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			ID:            node.Generate(),
			Code:          "WELCOME5",
			DiscountKind:  coupondomain.DiscountKindFixed,
			DiscountValue: 500,
			MinPurchase:   1000,
			ValidFrom:     now,
			ValidUntil:    &until,
			Active:        true,
			Metadata:      datatypes.JSONMap{"campaign": "demo"},
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
}

func ensureCouponTx(ctx context.Context, tx *gorm.DB, coupon coupondomain.Coupon) error {
	var existing coupondomain.Coupon
	err := tx.WithContext(ctx).
		Where("code = ?", coupon.Code).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.WithContext(ctx).Create(&coupon).Error
}
