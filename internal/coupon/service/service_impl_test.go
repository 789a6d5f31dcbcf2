package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/perks/internal/clock"
	"github.com/smallbiznis/perks/internal/coupon/domain"
	"github.com/smallbiznis/perks/internal/coupon/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// A single connection serializes concurrent transactions the way a
	// server-side database would, instead of failing with lock errors.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, conn.AutoMigrate(&domain.Coupon{}, &domain.CouponUsage{}))
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB, clk clock.Clock) (domain.Service, *snowflake.Node) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, node
}

func createCoupon(t *testing.T, svc domain.Service, req domain.CreateCouponRequest) domain.Coupon {
	t.Helper()
	coupon, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	return coupon
}

func TestValidate(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	svc, _ := newTestService(t, conn, clk)
	ctx := context.Background()

	maxDiscount := int64(500)
	usageLimit := int64(1)
	until := now.Add(30 * 24 * time.Hour)

	createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "SAVE10",
		DiscountKind:  domain.DiscountKindPercentage,
		DiscountValue: 10,
		MinPurchase:   2000,
		MaxDiscount:   &maxDiscount,
		ValidFrom:     now.Add(-time.Hour),
		ValidUntil:    &until,
		UsageLimit:    &usageLimit,
	})

	futureFrom := now.Add(24 * time.Hour)
	createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "NOTYET",
		DiscountKind:  domain.DiscountKindFixed,
		DiscountValue: 100,
		ValidFrom:     futureFrom,
	})

	createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "NOMIN",
		DiscountKind:  domain.DiscountKindFixed,
		DiscountValue: 100,
		ValidFrom:     now.Add(-time.Hour),
	})

	tests := []struct {
		name       string
		req        domain.ValidateCouponRequest
		wantValid  bool
		wantCode   string
		wantAmount int64
	}{
		{
			name:       "valid percentage with cap applied",
			req:        domain.ValidateCouponRequest{Code: "SAVE10", TotalAmount: 60000, UserID: "user-1"},
			wantValid:  true,
			wantAmount: 500,
		},
		{
			name:       "valid percentage below cap",
			req:        domain.ValidateCouponRequest{Code: "save10", TotalAmount: 2500, UserID: "user-1"},
			wantValid:  true,
			wantAmount: 250,
		},
		{
			name:     "unknown code",
			req:      domain.ValidateCouponRequest{Code: "NOPE", TotalAmount: 2500, UserID: "user-1"},
			wantCode: domain.ErrCouponNotFound.Error(),
		},
		{
			name:     "blank code",
			req:      domain.ValidateCouponRequest{Code: "   ", TotalAmount: 2500, UserID: "user-1"},
			wantCode: domain.ErrInvalidCode.Error(),
		},
		{
			name:     "zero total fails the minimum purchase",
			req:      domain.ValidateCouponRequest{Code: "SAVE10", TotalAmount: 0, UserID: "user-1"},
			wantCode: domain.ErrBelowMinimumPurchase.Error(),
		},
		{
			name:      "zero total without a minimum clamps to zero discount",
			req:       domain.ValidateCouponRequest{Code: "NOMIN", TotalAmount: 0, UserID: "user-1"},
			wantValid: true,
		},
		{
			name:     "below minimum purchase",
			req:      domain.ValidateCouponRequest{Code: "SAVE10", TotalAmount: 1500, UserID: "user-1"},
			wantCode: domain.ErrBelowMinimumPurchase.Error(),
		},
		{
			name:     "not yet active",
			req:      domain.ValidateCouponRequest{Code: "NOTYET", TotalAmount: 2500, UserID: "user-1"},
			wantCode: domain.ErrCouponNotYetActive.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.Validate(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)
			assert.Equal(t, tt.wantCode, result.FailureCode)
			assert.Equal(t, tt.wantAmount, result.DiscountAmount)
		})
	}

	// A negative total is malformed input, not a validation outcome.
	_, err := svc.Validate(ctx, domain.ValidateCouponRequest{Code: "SAVE10", TotalAmount: -1, UserID: "user-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestValidate_Expiry(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	svc, _ := newTestService(t, conn, clk)
	ctx := context.Background()

	until := now.Add(time.Hour)
	createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "SHORT",
		DiscountKind:  domain.DiscountKindFixed,
		DiscountValue: 100,
		ValidFrom:     now.Add(-time.Hour),
		ValidUntil:    &until,
	})

	result, err := svc.Validate(ctx, domain.ValidateCouponRequest{Code: "SHORT", TotalAmount: 1000})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	clk.Advance(2 * time.Hour)

	result, err = svc.Validate(ctx, domain.ValidateCouponRequest{Code: "SHORT", TotalAmount: 1000})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ErrCouponExpired.Error(), result.FailureCode)
}

func TestValidate_DeactivatedCoupon(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	coupon := createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "GONE",
		DiscountKind:  domain.DiscountKindFixed,
		DiscountValue: 100,
		ValidFrom:     now.Add(-time.Hour),
	})

	_, err := svc.Deactivate(ctx, coupon.ID.String())
	require.NoError(t, err)

	result, err := svc.Validate(ctx, domain.ValidateCouponRequest{Code: "GONE", TotalAmount: 1000})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ErrCouponNotFound.Error(), result.FailureCode)
}

func TestRedeem_IdempotentPerOrder(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	usageLimit := int64(5)
	coupon := createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "REPEAT",
		DiscountKind:  domain.DiscountKindFixed,
		DiscountValue: 100,
		ValidFrom:     now.Add(-time.Hour),
		UsageLimit:    &usageLimit,
	})

	req := domain.RedeemCouponRequest{
		CouponID:       coupon.ID.String(),
		UserID:         "user-1",
		OrderID:        "order-1",
		DiscountAmount: 100,
	}

	require.NoError(t, svc.Redeem(ctx, req))
	require.NoError(t, svc.Redeem(ctx, req))
	require.NoError(t, svc.Redeem(ctx, req))

	stored, err := svc.GetByID(ctx, coupon.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsedCount)

	var usages int64
	require.NoError(t, conn.Model(&domain.CouponUsage{}).Where("coupon_id = ?", coupon.ID).Count(&usages).Error)
	assert.Equal(t, int64(1), usages)
}

func TestRedeem_UsageLimitExhaustion(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	usageLimit := int64(1)
	coupon := createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "ONCE",
		DiscountKind:  domain.DiscountKindFixed,
		DiscountValue: 100,
		ValidFrom:     now.Add(-time.Hour),
		UsageLimit:    &usageLimit,
	})

	require.NoError(t, svc.Redeem(ctx, domain.RedeemCouponRequest{
		CouponID: coupon.ID.String(), UserID: "user-1", OrderID: "order-1", DiscountAmount: 100,
	}))

	err := svc.Redeem(ctx, domain.RedeemCouponRequest{
		CouponID: coupon.ID.String(), UserID: "user-2", OrderID: "order-2", DiscountAmount: 100,
	})
	assert.ErrorIs(t, err, domain.ErrUsageLimitReached)

	stored, err := svc.GetByID(ctx, coupon.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsedCount)

	// The losing order must leave no usage row behind.
	var usages int64
	require.NoError(t, conn.Model(&domain.CouponUsage{}).Where("coupon_id = ?", coupon.ID).Count(&usages).Error)
	assert.Equal(t, int64(1), usages)
}

func TestRedeem_ConcurrentOrders(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	usageLimit := int64(3)
	coupon := createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "RACE",
		DiscountKind:  domain.DiscountKindFixed,
		DiscountValue: 100,
		ValidFrom:     now.Add(-time.Hour),
		UsageLimit:    &usageLimit,
	})

	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Redeem(ctx, domain.RedeemCouponRequest{
				CouponID:       coupon.ID.String(),
				UserID:         fmt.Sprintf("user-%d", i),
				OrderID:        fmt.Sprintf("order-%d", i),
				DiscountAmount: 100,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrUsageLimitReached)
		}
	}
	assert.Equal(t, 3, succeeded)

	stored, err := svc.GetByID(ctx, coupon.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.UsedCount)
}

func TestRedeem_InvalidInput(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, node := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	err := svc.Redeem(ctx, domain.RedeemCouponRequest{CouponID: "abc", UserID: "u", OrderID: "o"})
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	missing := node.Generate()
	err = svc.Redeem(ctx, domain.RedeemCouponRequest{
		CouponID: missing.String(), UserID: "u", OrderID: "o", DiscountAmount: 100,
	})
	assert.ErrorIs(t, err, domain.ErrCouponNotFound)

	coupon := createCoupon(t, svc, domain.CreateCouponRequest{
		Code:          "INPUT",
		DiscountKind:  domain.DiscountKindFixed,
		DiscountValue: 100,
		ValidFrom:     now.Add(-time.Hour),
	})

	err = svc.Redeem(ctx, domain.RedeemCouponRequest{CouponID: coupon.ID.String(), OrderID: "o"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	err = svc.Redeem(ctx, domain.RedeemCouponRequest{CouponID: coupon.ID.String(), UserID: "u"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	err = svc.Redeem(ctx, domain.RedeemCouponRequest{
		CouponID: coupon.ID.String(), UserID: "u", OrderID: "o", DiscountAmount: -1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

type failingInsertRepo struct {
	domain.Repository
	insertUsageErr error
}

func (r failingInsertRepo) InsertUsage(ctx context.Context, conn *gorm.DB, usage *domain.CouponUsage) (bool, error) {
	return false, r.insertUsageErr
}

func TestRedeem_MissingCouponRow(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	// Postgres enforces the usages foreign key, so redeeming an unknown
	// coupon fails on the insert itself rather than on the counter update.
	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(now),
		Repo: failingInsertRepo{
			Repository:     repository.Provide(),
			insertUsageErr: errors.New(`ERROR: insert or update on table "coupon_usages" violates foreign key constraint "coupon_usages_coupon_id_fkey" (SQLSTATE 23503)`),
		},
	})

	err = svc.Redeem(context.Background(), domain.RedeemCouponRequest{
		CouponID: node.Generate().String(), UserID: "user-1", OrderID: "order-1", DiscountAmount: 100,
	})
	assert.ErrorIs(t, err, domain.ErrCouponNotFound)
}

func TestCreate_Validation(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateCouponRequest{
		Code: "", DiscountKind: domain.DiscountKindFixed, DiscountValue: 100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	_, err = svc.Create(ctx, domain.CreateCouponRequest{
		Code: "BAD", DiscountKind: domain.DiscountKind("bogus"), DiscountValue: 100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDiscountKind)

	_, err = svc.Create(ctx, domain.CreateCouponRequest{
		Code: "BAD", DiscountKind: domain.DiscountKindPercentage, DiscountValue: 150,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDiscountValue)

	until := now.Add(-time.Hour)
	_, err = svc.Create(ctx, domain.CreateCouponRequest{
		Code: "BAD", DiscountKind: domain.DiscountKindFixed, DiscountValue: 100,
		ValidFrom: now, ValidUntil: &until,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidValidityWindow)

	createCoupon(t, svc, domain.CreateCouponRequest{
		Code: "TAKEN", DiscountKind: domain.DiscountKindFixed, DiscountValue: 100, ValidFrom: now,
	})
	_, err = svc.Create(ctx, domain.CreateCouponRequest{
		Code: "taken", DiscountKind: domain.DiscountKindFixed, DiscountValue: 100, ValidFrom: now,
	})
	assert.ErrorIs(t, err, domain.ErrCouponCodeExists)
}

func TestList_CursorPagination(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	svc, _ := newTestService(t, conn, clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createCoupon(t, svc, domain.CreateCouponRequest{
			Code:          fmt.Sprintf("PAGE%d", i),
			DiscountKind:  domain.DiscountKindFixed,
			DiscountValue: 100,
			ValidFrom:     clk.Now(),
		})
		clk.Advance(time.Second)
	}

	first, err := svc.List(ctx, domain.ListCouponRequest{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, first.Coupons, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "PAGE4", first.Coupons[0].Code)

	second, err := svc.List(ctx, domain.ListCouponRequest{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	assert.Len(t, second.Coupons, 2)
	assert.True(t, second.HasMore)
	assert.Equal(t, "PAGE2", second.Coupons[0].Code)

	third, err := svc.List(ctx, domain.ListCouponRequest{PageSize: 2, PageToken: second.NextPageToken})
	require.NoError(t, err)
	assert.Len(t, third.Coupons, 1)
	assert.False(t, third.HasMore)
	assert.Equal(t, "PAGE0", third.Coupons[0].Code)
}

func TestDeactivate(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, node := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	coupon := createCoupon(t, svc, domain.CreateCouponRequest{
		Code: "OFF", DiscountKind: domain.DiscountKindFixed, DiscountValue: 100, ValidFrom: now,
	})

	updated, err := svc.Deactivate(ctx, coupon.ID.String())
	require.NoError(t, err)
	assert.False(t, updated.Active)

	_, err = svc.Deactivate(ctx, node.Generate().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
