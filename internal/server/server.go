package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/perks/internal/config"
	"github.com/smallbiznis/perks/internal/coupon"
	coupondomain "github.com/smallbiznis/perks/internal/coupon/domain"
	"github.com/smallbiznis/perks/internal/loyalty"
	loyaltydomain "github.com/smallbiznis/perks/internal/loyalty/domain"
	"github.com/smallbiznis/perks/internal/observability"
	obsmiddleware "github.com/smallbiznis/perks/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/perks/internal/observability/metrics"
	obstracing "github.com/smallbiznis/perks/internal/observability/tracing"
	"github.com/smallbiznis/perks/internal/ratelimit"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	coupon.Module,
	loyalty.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	couponSvc       coupondomain.Service
	loyaltySvc      loyaltydomain.Service
	obsMetrics      *obsmetrics.Metrics
	validateLimiter *ratelimit.ValidateLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	CouponSvc       coupondomain.Service
	LoyaltySvc      loyaltydomain.Service
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
	ValidateLimiter *ratelimit.ValidateLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		couponSvc:       p.CouponSvc,
		loyaltySvc:      p.LoyaltySvc,
		obsMetrics:      p.ObsMetrics,
		validateLimiter: p.ValidateLimiter,
	}

	svc.registerCouponRoutes()
	svc.registerLoyaltyRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerCouponRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/coupons/validate", s.ValidateRateLimit(), s.ValidateCoupon)
	v1.POST("/coupons/:id/redeem", s.RedeemCoupon)

	admin := v1.Group("/admin")
	{
		admin.GET("/coupons", s.ListCoupons)
		admin.POST("/coupons", s.CreateCoupon)
		admin.GET("/coupons/:id", s.GetCouponByID)
		admin.POST("/coupons/:id/deactivate", s.DeactivateCoupon)
	}
}

func (s *Server) registerLoyaltyRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/loyalty/earn", s.EarnPoints)
	v1.POST("/loyalty/redeem", s.RedeemPoints)
	v1.GET("/loyalty/accounts/:user_id", s.GetLoyaltyAccount)
	v1.GET("/loyalty/accounts/:user_id/transactions", s.ListLoyaltyTransactions)
}
