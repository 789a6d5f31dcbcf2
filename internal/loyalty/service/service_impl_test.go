package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/perks/internal/clock"
	"github.com/smallbiznis/perks/internal/loyalty/domain"
	"github.com/smallbiznis/perks/internal/loyalty/repository"
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
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, conn.AutoMigrate(&domain.LoyaltyAccount{}, &domain.LoyaltyTransaction{}))
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB, clk clock.Clock) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
}

func TestGetOrCreateAccount(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	account, err := svc.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", account.UserID)
	assert.Equal(t, int64(0), account.Balance)

	// Second call returns the same account, no duplicate row.
	again, err := svc.GetOrCreateAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, account.CreatedAt, again.CreatedAt)

	var count int64
	require.NoError(t, conn.Model(&domain.LoyaltyAccount{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err = svc.GetOrCreateAccount(ctx, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestGetOrCreateAccount_Concurrent(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	const workers = 10
	accounts := make([]domain.LoyaltyAccount, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accounts[i], errs[i] = svc.GetOrCreateAccount(ctx, "user-1")
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, "user-1", accounts[i].UserID)
		assert.Equal(t, int64(0), accounts[i].Balance)
	}

	// All racers land on one account row.
	var count int64
	require.NoError(t, conn.Model(&domain.LoyaltyAccount{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEarnFromOrder(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	points, err := svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
		UserID: "user-1", OrderID: "order-1", OrderTotal: 2550,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(255), points)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(255), balance.Balance)
	assert.Equal(t, int64(255), balance.LifetimeEarned)
}

func TestEarnFromOrder_IdempotentPerOrder(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	req := domain.EarnPointsRequest{UserID: "user-1", OrderID: "order-1", OrderTotal: 2500}

	points, err := svc.EarnFromOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(250), points)

	// Replays credit nothing.
	points, err = svc.EarnFromOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(0), points)

	points, err = svc.EarnFromOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(0), points)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), balance.Balance)

	var count int64
	require.NoError(t, conn.Model(&domain.LoyaltyTransaction{}).Where("user_id = ?", "user-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// A different order for the same user still earns.
	points, err = svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
		UserID: "user-1", OrderID: "order-2", OrderTotal: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), points)
}

func TestEarnFromOrder_ConcurrentSameOrder(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	// Ten replays of the same order race; exactly one may credit.
	const workers = 10
	points := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			points[i], errs[i] = svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
				UserID: "user-1", OrderID: "order-1", OrderTotal: 2500,
			})
		}(i)
	}
	wg.Wait()

	credited := 0
	for i := range errs {
		require.NoError(t, errs[i])
		if points[i] != 0 {
			assert.Equal(t, int64(250), points[i])
			credited++
		}
	}
	assert.Equal(t, 1, credited)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), balance.Balance)
	assert.Equal(t, int64(250), balance.LifetimeEarned)

	var count int64
	require.NoError(t, conn.Model(&domain.LoyaltyTransaction{}).Where("user_id = ?", "user-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEarnFromOrder_SmallTotals(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	// Totals below one major unit earn nothing and write no ledger entry.
	points, err := svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
		UserID: "user-1", OrderID: "order-1", OrderTotal: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), points)

	var count int64
	require.NoError(t, conn.Model(&domain.LoyaltyTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	_, err = svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
		UserID: "user-1", OrderID: "order-2", OrderTotal: -100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestRedeem(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	_, err := svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
		UserID: "user-1", OrderID: "order-1", OrderTotal: 2500,
	})
	require.NoError(t, err)

	// 250 in the bank; 300 is too many.
	_, err = svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "user-1", Points: 300})
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	resp, err := svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "user-1", Points: 200})
	require.NoError(t, err)
	assert.Equal(t, int64(200), resp.DiscountAmount)
	assert.Equal(t, int64(200), resp.PointsRedeemed)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)
	assert.Equal(t, int64(250), balance.LifetimeEarned)
	assert.Equal(t, int64(200), balance.LifetimeRedeemed)
}

func TestRedeem_InvalidInput(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	_, err := svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "", Points: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "user-1", Points: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidPointAmount)

	_, err = svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "user-1", Points: -5})
	assert.ErrorIs(t, err, domain.ErrInvalidPointAmount)

	// A fresh account has nothing to redeem.
	_, err = svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "user-2", Points: 100})
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)
}

func TestRedeem_ConcurrentNeverOverdraws(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	_, err := svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
		UserID: "user-1", OrderID: "order-1", OrderTotal: 3000,
	})
	require.NoError(t, err)

	// 300 points available, ten workers each want 100.
	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "user-1", Points: 100})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientPoints)
		}
	}
	assert.Equal(t, 3, succeeded)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Balance)
}

func TestLedgerReconciliation(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
			UserID:     "user-1",
			OrderID:    fmt.Sprintf("order-%d", i),
			OrderTotal: 2500,
		})
		require.NoError(t, err)
	}
	_, err := svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "user-1", Points: 300})
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)

	var sum int64
	require.NoError(t, conn.Model(&domain.LoyaltyTransaction{}).
		Where("user_id = ?", "user-1").
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error)

	assert.Equal(t, balance.Balance, sum)
	assert.Equal(t, balance.Balance, balance.LifetimeEarned-balance.LifetimeRedeemed)
}

func TestGetBalance_UnknownUser(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, clock.NewFakeClock(now))
	ctx := context.Background()

	balance, err := svc.GetBalance(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", balance.UserID)
	assert.Equal(t, int64(0), balance.Balance)

	var count int64
	require.NoError(t, conn.Model(&domain.LoyaltyAccount{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestListTransactions(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	svc := newTestService(t, conn, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.EarnFromOrder(ctx, domain.EarnPointsRequest{
			UserID:     "user-1",
			OrderID:    fmt.Sprintf("order-%d", i),
			OrderTotal: 1000,
		})
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	_, err := svc.Redeem(ctx, domain.RedeemPointsRequest{UserID: "user-1", Points: 100})
	require.NoError(t, err)

	first, err := svc.ListTransactions(ctx, domain.ListTransactionsRequest{UserID: "user-1", PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, first.Transactions, 3)
	assert.True(t, first.HasMore)
	assert.Equal(t, domain.TransactionKindRedeemed, first.Transactions[0].Kind)
	assert.Equal(t, int64(-100), first.Transactions[0].Delta)

	second, err := svc.ListTransactions(ctx, domain.ListTransactionsRequest{
		UserID: "user-1", PageSize: 3, PageToken: first.NextPageToken,
	})
	require.NoError(t, err)
	assert.Len(t, second.Transactions, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "order-0", *second.Transactions[0].OrderID)
}
