package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/perks/internal/clock"
	"github.com/smallbiznis/perks/internal/loyalty/domain"
	obsmetrics "github.com/smallbiznis/perks/internal/observability/metrics"
	"github.com/smallbiznis/perks/pkg/db"
	"github.com/smallbiznis/perks/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("loyalty.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetOrCreateAccount(ctx context.Context, userID string) (domain.LoyaltyAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.LoyaltyAccount{}, domain.ErrInvalidUser
	}

	if err := s.repo.EnsureAccount(ctx, s.db, userID, s.clock.Now()); err != nil {
		return domain.LoyaltyAccount{}, err
	}

	account, err := s.repo.FindAccount(ctx, s.db, userID)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	if account == nil {
		s.log.Error("loyalty account missing after upsert", zap.String("user_id", userID))
		return domain.LoyaltyAccount{}, domain.ErrAccountMissing
	}
	return *account, nil
}

// EarnFromOrder credits floor(orderTotal_major x 10) points in one
// transaction. The earned entry's (user, order) unique key is the
// idempotency guard, which also makes the whole operation safe to retry.
func (s *Service) EarnFromOrder(ctx context.Context, req domain.EarnPointsRequest) (int64, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return 0, domain.ErrInvalidUser
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return 0, domain.ErrInvalidOrder
	}
	if req.OrderTotal < 0 {
		return 0, domain.ErrInvalidAmount
	}

	points := domain.PointsForOrderTotal(req.OrderTotal)
	if points == 0 {
		return 0, nil
	}

	var earned int64
	err := db.WithRetry(ctx, db.DefaultRetryAttempts, func(ctx context.Context) error {
		earned = 0
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			if err := s.repo.EnsureAccount(ctx, tx, userID, now); err != nil {
				return err
			}

			inserted, err := s.repo.InsertEarnTransaction(ctx, tx, &domain.LoyaltyTransaction{
				ID:          s.genID.Generate(),
				UserID:      userID,
				OrderID:     &orderID,
				Kind:        domain.TransactionKindEarned,
				Delta:       points,
				Reference:   ulid.Make().String(),
				Description: fmt.Sprintf("Earned %d points from order %s", points, orderID),
				CreatedAt:   now,
			})
			if err != nil {
				if db.IsDuplicateKeyErr(err) {
					return nil
				}
				return err
			}
			if !inserted {
				// Points were already earned for this order.
				return nil
			}

			applied, err := s.repo.CreditBalance(ctx, tx, userID, points, now)
			if err != nil {
				return err
			}
			if !applied {
				s.log.Error("loyalty account missing during credit", zap.String("user_id", userID))
				return domain.ErrAccountMissing
			}

			earned = points
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	if earned > 0 {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordPointsEarned(ctx, earned)
		}
		s.log.Info("loyalty points earned",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.Int64("points", earned),
		)
	}
	return earned, nil
}

// Redeem debits the balance with a conditional update so a stale read can
// never drive it negative. Not retried internally: without an idempotency
// key a retry after an unknown outcome could double-spend.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemPointsRequest) (domain.RedeemPointsResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.RedeemPointsResponse{}, domain.ErrInvalidUser
	}
	if req.Points <= 0 {
		return domain.RedeemPointsResponse{}, domain.ErrInvalidPointAmount
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		if err := s.repo.EnsureAccount(ctx, tx, userID, now); err != nil {
			return err
		}

		debited, err := s.repo.DebitBalance(ctx, tx, userID, req.Points, now)
		if err != nil {
			return err
		}
		if !debited {
			return domain.ErrInsufficientPoints
		}

		return s.repo.AppendTransaction(ctx, tx, &domain.LoyaltyTransaction{
			ID:          s.genID.Generate(),
			UserID:      userID,
			Kind:        domain.TransactionKindRedeemed,
			Delta:       -req.Points,
			Reference:   ulid.Make().String(),
			Description: fmt.Sprintf("Redeemed %d points", req.Points),
			CreatedAt:   now,
		})
	})
	if err != nil {
		return domain.RedeemPointsResponse{}, err
	}

	discount := domain.DiscountForPoints(req.Points)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPointsRedeemed(ctx, req.Points)
	}
	s.log.Info("loyalty points redeemed",
		zap.String("user_id", userID),
		zap.Int64("points", req.Points),
		zap.Int64("discount_amount", discount),
	)

	return domain.RedeemPointsResponse{
		DiscountAmount: discount,
		PointsRedeemed: req.Points,
	}, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (domain.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Balance{}, domain.ErrInvalidUser
	}

	account, err := s.repo.FindAccount(ctx, s.db, userID)
	if err != nil {
		return domain.Balance{}, err
	}
	if account == nil {
		// No activity yet: report zeros rather than forcing creation.
		return domain.Balance{UserID: userID}, nil
	}

	return domain.Balance{
		UserID:           account.UserID,
		Balance:          account.Balance,
		LifetimeEarned:   account.LifetimeEarned,
		LifetimeRedeemed: account.LifetimeRedeemed,
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context, req domain.ListTransactionsRequest) (domain.ListTransactionsResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.ListTransactionsResponse{}, domain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListTransactions(ctx, s.db, userID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(trx *domain.LoyaltyTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        trx.ID.String(),
			CreatedAt: trx.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	transactions := make([]domain.LoyaltyTransaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		transactions = append(transactions, *item)
	}

	resp := domain.ListTransactionsResponse{Transactions: transactions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
