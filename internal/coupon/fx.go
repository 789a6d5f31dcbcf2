package coupon

import (
	"github.com/smallbiznis/perks/internal/coupon/repository"
	"github.com/smallbiznis/perks/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
