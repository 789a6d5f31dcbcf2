package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/perks/internal/coupon/domain"
	"github.com/smallbiznis/perks/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, coupon *domain.Coupon) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO coupons (
			id, code, discount_kind, discount_value, min_purchase, max_discount,
			valid_from, valid_until, usage_limit, used_count, active, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		coupon.ID,
		coupon.Code,
		coupon.DiscountKind,
		coupon.DiscountValue,
		coupon.MinPurchase,
		coupon.MaxDiscount,
		coupon.ValidFrom,
		coupon.ValidUntil,
		coupon.UsageLimit,
		coupon.UsedCount,
		coupon.Active,
		coupon.Metadata,
		coupon.CreatedAt,
		coupon.UpdatedAt,
	).Error
}

const couponColumns = `id, code, discount_kind, discount_value, min_purchase, max_discount,
	valid_from, valid_until, usage_limit, used_count, active, metadata, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).Raw(
		`SELECT `+couponColumns+` FROM coupons WHERE id = ?`,
		id,
	).Scan(&coupon).Error
	if err != nil {
		return nil, err
	}
	if coupon.ID == 0 {
		return nil, nil
	}
	return &coupon, nil
}

func (r *repo) FindActiveByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).Raw(
		`SELECT `+couponColumns+` FROM coupons WHERE code = ? AND active = ?`,
		domain.NormalizeCode(code),
		true,
	).Scan(&coupon).Error
	if err != nil {
		return nil, err
	}
	if coupon.ID == 0 {
		return nil, nil
	}
	return &coupon, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListCouponFilter, page pagination.Pagination) ([]*domain.Coupon, error) {
	stmt := db.WithContext(ctx).Model(&domain.Coupon{})
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	if filter.Code != "" {
		stmt = stmt.Where("code = ?", domain.NormalizeCode(filter.Code))
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339, cursor.CreatedAt)
		if err != nil {
			return nil, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where(
			"(created_at < ? OR (created_at = ? AND id < ?))",
			createdAt, createdAt, id,
		)
	}
	if page.PageSize > 0 {
		stmt = stmt.Limit(page.PageSize + 1)
	}

	var coupons []*domain.Coupon
	err := stmt.
		Order("created_at desc, id desc").
		Find(&coupons).Error
	if err != nil {
		return nil, err
	}
	return coupons, nil
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE coupons SET active = ?, updated_at = ? WHERE id = ?`,
		active,
		time.Now().UTC(),
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *domain.CouponUsage) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO coupon_usages (
			id, coupon_id, user_id, order_id, discount_amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (coupon_id, order_id) DO NOTHING`,
		usage.ID,
		usage.CouponID,
		usage.UserID,
		usage.OrderID,
		usage.DiscountAmount,
		usage.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE coupons
		 SET used_count = used_count + 1, updated_at = ?
		 WHERE id = ? AND active = ?
		   AND (usage_limit IS NULL OR used_count < usage_limit)`,
		time.Now().UTC(),
		id,
		true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
