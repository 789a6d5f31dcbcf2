package loyalty

import (
	"github.com/smallbiznis/perks/internal/loyalty/repository"
	"github.com/smallbiznis/perks/internal/loyalty/service"
	"go.uber.org/fx"
)

var Module = fx.Module("loyalty.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
