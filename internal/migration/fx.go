package migration

import (
	"github.com/smallbiznis/perks/internal/config"
	"github.com/smallbiznis/perks/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		}

		if cfg.SeedDemoData && !cfg.IsProduction() {
			return seed.EnsureDemoCoupons(conn)
		}
		return nil
	}),
)
