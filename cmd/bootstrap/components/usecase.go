package components

import (
	"context"
	"log/slog"

	"booking-core/internal/delta"
	"booking-core/internal/pkg/clock"
	"booking-core/internal/pkg/config"
	"booking-core/internal/statestore"
	"booking-core/internal/usecase/commands"
	"booking-core/internal/usecase/queries"

	"go.uber.org/fx"
)

var UseCaseModule = fx.Module("usecase",
	usecaseCommandsModule,
	usecaseQueriesModule,
	sweeperModule,
)

var usecaseCommandsModule = fx.Module("usecase/commands",
	fx.Provide(
		func(store statestore.Store, publisher *delta.Publisher, clk clock.Clock, cfg config.Config, logger *slog.Logger) commands.BookingCommands {
			return commands.NewBookingUseCase(store, publisher, clk, cfg.Booking.HoldTTL, logger)
		},
		commands.NewSlotUseCase,
		commands.NewWebhookUseCase,
	),
)

var usecaseQueriesModule = fx.Module("usecase/queries",
	fx.Provide(
		queries.NewReservationQueries,
		queries.NewWebhookQueries,
	),
)

var sweeperModule = fx.Module("usecase/sweeper",
	fx.Provide(
		func(store statestore.Store, publisher *delta.Publisher, clk clock.Clock, cfg config.Config, logger *slog.Logger) *commands.Sweeper {
			return commands.NewSweeper(store, publisher, clk, cfg.Booking.SweepInterval, cfg.Booking.FingerprintTTL, logger)
		},
	),
	fx.Invoke(startSweeper),
)

func startSweeper(lc fx.Lifecycle, sweeper *commands.Sweeper, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("starting hold expiry sweeper")
			go func() {
				defer close(done)
				sweeper.Run(ctx)
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}
