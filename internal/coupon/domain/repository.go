package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/perks/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListCouponFilter struct {
	Active *bool
	Code   string
}

// Repository is the coupon store adapter. Mutating methods take the *gorm.DB
// handle explicitly so the service can run them inside one transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Coupon, error)
	FindActiveByCode(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
	List(ctx context.Context, db *gorm.DB, filter ListCouponFilter, page pagination.Pagination) ([]*Coupon, error)
	SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) (bool, error)

	// InsertUsage appends a usage row, returning false without error when the
	// (coupon, order) pair already exists.
	InsertUsage(ctx context.Context, db *gorm.DB, usage *CouponUsage) (bool, error)

	// IncrementUsage bumps used_count by one only while the coupon is active
	// and under its usage limit, reporting whether the update applied.
	IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
}
