package bootstrap

import (
	"booking-core/cmd/bootstrap/components"

	"go.uber.org/fx"
)

var Module = fx.Options(
	ConfigModule,
	LoggerModule,
	components.StoreModule,
	components.DeltaModule,
	components.UseCaseModule,
	components.HandlerModule,
)
