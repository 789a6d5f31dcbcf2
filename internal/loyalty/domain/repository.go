package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/perks/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository is the loyalty store adapter. Balance mutations are expressed
// as conditional single-statement updates so concurrency control stays in
// the store. Methods take the *gorm.DB handle explicitly so the service can
// compose them inside one transaction.
type Repository interface {
	// EnsureAccount creates the zero-balance account row when absent.
	// Safe under concurrent first-time access for the same user.
	EnsureAccount(ctx context.Context, db *gorm.DB, userID string, now time.Time) error
	FindAccount(ctx context.Context, db *gorm.DB, userID string) (*LoyaltyAccount, error)

	// InsertEarnTransaction appends an earned entry, returning false without
	// error when the (user, order) pair already earned.
	InsertEarnTransaction(ctx context.Context, db *gorm.DB, trx *LoyaltyTransaction) (bool, error)
	AppendTransaction(ctx context.Context, db *gorm.DB, trx *LoyaltyTransaction) error

	CreditBalance(ctx context.Context, db *gorm.DB, userID string, points int64, now time.Time) (bool, error)

	// DebitBalance decrements only when the stored balance covers the
	// points, reporting whether the update applied.
	DebitBalance(ctx context.Context, db *gorm.DB, userID string, points int64, now time.Time) (bool, error)

	ListTransactions(ctx context.Context, db *gorm.DB, userID string, page pagination.Pagination) ([]*LoyaltyTransaction, error)
}
