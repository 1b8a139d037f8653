package components

import (
	"booking-core/internal/handler"
	"booking-core/internal/handler/api"

	"go.uber.org/fx"
)

var HandlerModule = fx.Module("handler",
	fx.Provide(
		api.NewBookingHandler,
		api.NewSlotHandler,
		api.NewWebhookHandler,
		api.NewStateHandler,
	),
	fx.Invoke(handler.NewRouter),
)
