package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/perks/internal/loyalty/domain"
	"github.com/smallbiznis/perks/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureAccount(ctx context.Context, db *gorm.DB, userID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_accounts (
			user_id, balance, lifetime_earned, lifetime_redeemed, created_at, updated_at
		) VALUES (?, 0, 0, 0, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		userID,
		now,
		now,
	).Error
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, userID string) (*domain.LoyaltyAccount, error) {
	var account domain.LoyaltyAccount
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, balance, lifetime_earned, lifetime_redeemed, created_at, updated_at
		 FROM loyalty_accounts WHERE user_id = ?`,
		userID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.UserID == "" {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) InsertEarnTransaction(ctx context.Context, db *gorm.DB, trx *domain.LoyaltyTransaction) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_transactions (
			id, user_id, order_id, kind, delta, reference, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, order_id) DO NOTHING`,
		trx.ID,
		trx.UserID,
		trx.OrderID,
		trx.Kind,
		trx.Delta,
		trx.Reference,
		trx.Description,
		trx.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) AppendTransaction(ctx context.Context, db *gorm.DB, trx *domain.LoyaltyTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_transactions (
			id, user_id, order_id, kind, delta, reference, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trx.ID,
		trx.UserID,
		trx.OrderID,
		trx.Kind,
		trx.Delta,
		trx.Reference,
		trx.Description,
		trx.CreatedAt,
	).Error
}

func (r *repo) CreditBalance(ctx context.Context, db *gorm.DB, userID string, points int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE loyalty_accounts
		 SET balance = balance + ?,
		     lifetime_earned = lifetime_earned + ?,
		     updated_at = ?
		 WHERE user_id = ?`,
		points,
		points,
		now,
		userID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DebitBalance(ctx context.Context, db *gorm.DB, userID string, points int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE loyalty_accounts
		 SET balance = balance - ?,
		     lifetime_redeemed = lifetime_redeemed + ?,
		     updated_at = ?
		 WHERE user_id = ? AND balance >= ?`,
		points,
		points,
		now,
		userID,
		points,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, userID string, page pagination.Pagination) ([]*domain.LoyaltyTransaction, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.LoyaltyTransaction{}).
		Where("user_id = ?", userID)
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

	var transactions []*domain.LoyaltyTransaction
	err := stmt.
		Order("created_at desc, id desc").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}
