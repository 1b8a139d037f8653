package components

import (
	"context"

	"booking-core/internal/infra/db"
	"booking-core/internal/pkg/clock"
	"booking-core/internal/pkg/config"
	"booking-core/internal/statestore"
	"booking-core/internal/toolstate"
	"booking-core/migrations"

	"go.uber.org/fx"
)

var StoreModule = fx.Module("store",
	fx.Provide(
		clock.NewRealClock,
		NewStateStore,
		toolstate.NewService,
	),
)

// NewStateStore selects the backend from config. The memory backend is
// the default and needs no external services; the postgres backend
// connects eagerly so a bad DSN fails the app at startup instead of on
// the first request.
func NewStateStore(lc fx.Lifecycle, cfg config.Config, clk clock.Clock) (statestore.Store, error) {
	if cfg.Store.Driver != "postgres" {
		return statestore.NewMemoryStore(clk), nil
	}

	pool, cleanup, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}

	if err := migrations.Apply(context.Background(), pool); err != nil {
		cleanup()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			cleanup()
			return nil
		},
	})

	return statestore.NewPGStore(pool), nil
}
