package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/perks/internal/clock"
	"github.com/smallbiznis/perks/internal/coupon/domain"
	obsmetrics "github.com/smallbiznis/perks/internal/observability/metrics"
	"github.com/smallbiznis/perks/pkg/db"
	"github.com/smallbiznis/perks/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
		log:        p.Log.Named("coupon.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func failure(sentinel error, message string) domain.ValidationResult {
	return domain.ValidationResult{
		Valid:       false,
		FailureCode: sentinel.Error(),
		Message:     message,
	}
}

// Validate never mutates state; each rule short-circuits in order.
func (s *Service) Validate(ctx context.Context, req domain.ValidateCouponRequest) (domain.ValidationResult, error) {
	code := domain.NormalizeCode(req.Code)
	if code == "" {
		return s.recordValidation(ctx, failure(domain.ErrInvalidCode, "coupon code is required")), nil
	}
	if req.TotalAmount < 0 {
		return domain.ValidationResult{}, domain.ErrInvalidAmount
	}

	coupon, err := s.repo.FindActiveByCode(ctx, s.db, code)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if coupon == nil {
		return s.recordValidation(ctx, failure(domain.ErrCouponNotFound, "coupon not found")), nil
	}

	now := s.clock.Now()
	if now.Before(coupon.ValidFrom) {
		return s.recordValidation(ctx, failure(domain.ErrCouponNotYetActive, "coupon is not active yet")), nil
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return s.recordValidation(ctx, failure(domain.ErrCouponExpired, "coupon has expired")), nil
	}
	if req.TotalAmount < coupon.MinPurchase {
		return s.recordValidation(ctx, failure(
			domain.ErrBelowMinimumPurchase,
			fmt.Sprintf("a minimum purchase of %d is required", coupon.MinPurchase),
		)), nil
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return s.recordValidation(ctx, failure(domain.ErrUsageLimitReached, "coupon usage limit reached")), nil
	}

	return s.recordValidation(ctx, domain.ValidationResult{
		Valid:          true,
		DiscountAmount: coupon.ComputeDiscount(req.TotalAmount),
	}), nil
}

func (s *Service) recordValidation(ctx context.Context, result domain.ValidationResult) domain.ValidationResult {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCouponValidation(ctx, result.Valid, result.FailureCode)
	}
	return result
}

// Redeem consumes a usage slot inside one transaction. The usage row's
// (coupon, order) unique key makes retries and duplicate calls no-ops, so
// the whole operation is safe to retry on transient store failures.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemCouponRequest) error {
	couponID, err := parseID(req.CouponID)
	if err != nil {
		return err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.ErrInvalidUser
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.ErrInvalidOrder
	}
	if req.DiscountAmount < 0 {
		return domain.ErrInvalidAmount
	}

	var outcome string
	err = db.WithRetry(ctx, db.DefaultRetryAttempts, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			inserted, err := s.repo.InsertUsage(ctx, tx, &domain.CouponUsage{
				ID:             s.genID.Generate(),
				CouponID:       couponID,
				UserID:         userID,
				OrderID:        orderID,
				DiscountAmount: req.DiscountAmount,
				CreatedAt:      s.clock.Now(),
			})
			if err != nil {
				if db.IsDuplicateKeyErr(err) {
					outcome = "duplicate"
					return nil
				}
				// Dialects that enforce the usages foreign key report a
				// missing coupon here instead of at the counter update.
				if db.Classify(err) == db.KindNotFound {
					return domain.ErrCouponNotFound
				}
				return err
			}
			if !inserted {
				// This order already redeemed the coupon.
				outcome = "duplicate"
				return nil
			}

			applied, err := s.repo.IncrementUsage(ctx, tx, couponID)
			if err != nil {
				return err
			}
			if !applied {
				coupon, err := s.repo.FindByID(ctx, tx, couponID)
				if err != nil {
					return err
				}
				if coupon == nil || !coupon.Active {
					return domain.ErrCouponNotFound
				}
				return domain.ErrUsageLimitReached
			}

			outcome = "redeemed"
			return nil
		})
	})
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCouponRedemption(ctx, "failed")
		}
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCouponRedemption(ctx, outcome)
	}
	if outcome == "duplicate" {
		s.log.Debug("coupon already redeemed for order",
			zap.String("coupon_id", couponID.String()),
			zap.String("order_id", orderID),
		)
		return nil
	}

	s.log.Info("coupon redeemed",
		zap.String("coupon_id", couponID.String()),
		zap.String("order_id", orderID),
		zap.Int64("discount_amount", req.DiscountAmount),
	)
	return nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateCouponRequest) (domain.Coupon, error) {
	code := domain.NormalizeCode(req.Code)
	if code == "" {
		return domain.Coupon{}, domain.ErrInvalidCode
	}

	switch req.DiscountKind {
	case domain.DiscountKindPercentage:
		if req.DiscountValue <= 0 || req.DiscountValue > 100 {
			return domain.Coupon{}, domain.ErrInvalidDiscountValue
		}
	case domain.DiscountKindFixed:
		if req.DiscountValue <= 0 {
			return domain.Coupon{}, domain.ErrInvalidDiscountValue
		}
	default:
		return domain.Coupon{}, domain.ErrInvalidDiscountKind
	}

	if req.MinPurchase < 0 {
		return domain.Coupon{}, domain.ErrInvalidAmount
	}
	if req.MaxDiscount != nil && *req.MaxDiscount <= 0 {
		return domain.Coupon{}, domain.ErrInvalidAmount
	}
	if req.UsageLimit != nil && *req.UsageLimit <= 0 {
		return domain.Coupon{}, domain.ErrInvalidAmount
	}

	validFrom := req.ValidFrom
	if validFrom.IsZero() {
		validFrom = s.clock.Now()
	}
	validFrom = validFrom.UTC()

	var validUntil *time.Time
	if req.ValidUntil != nil {
		until := req.ValidUntil.UTC()
		if !until.After(validFrom) {
			return domain.Coupon{}, domain.ErrInvalidValidityWindow
		}
		validUntil = &until
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	now := s.clock.Now()
	coupon := domain.Coupon{
		ID:            s.genID.Generate(),
		Code:          code,
		DiscountKind:  req.DiscountKind,
		DiscountValue: req.DiscountValue,
		MinPurchase:   req.MinPurchase,
		MaxDiscount:   req.MaxDiscount,
		ValidFrom:     validFrom,
		ValidUntil:    validUntil,
		UsageLimit:    req.UsageLimit,
		Active:        true,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, &coupon); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Coupon{}, domain.ErrCouponCodeExists
		}
		return domain.Coupon{}, err
	}

	s.log.Info("coupon created",
		zap.String("coupon_id", coupon.ID.String()),
		zap.String("code", coupon.Code),
	)
	return coupon, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCouponRequest) (domain.ListCouponResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, domain.ListCouponFilter{
		Active: req.Active,
		Code:   strings.TrimSpace(req.Code),
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListCouponResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(coupon *domain.Coupon) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        coupon.ID.String(),
			CreatedAt: coupon.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	coupons := make([]domain.Coupon, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		coupons = append(coupons, *item)
	}

	resp := domain.ListCouponResponse{Coupons: coupons}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Coupon, error) {
	couponID, err := parseID(id)
	if err != nil {
		return domain.Coupon{}, err
	}

	coupon, err := s.repo.FindByID(ctx, s.db, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	if coupon == nil {
		return domain.Coupon{}, domain.ErrNotFound
	}
	return *coupon, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) (domain.Coupon, error) {
	couponID, err := parseID(id)
	if err != nil {
		return domain.Coupon{}, err
	}

	found, err := s.repo.SetActive(ctx, s.db, couponID, false)
	if err != nil {
		return domain.Coupon{}, err
	}
	if !found {
		return domain.Coupon{}, domain.ErrNotFound
	}

	coupon, err := s.repo.FindByID(ctx, s.db, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	if coupon == nil {
		return domain.Coupon{}, domain.ErrNotFound
	}

	s.log.Info("coupon deactivated", zap.String("coupon_id", couponID.String()))
	return *coupon, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
